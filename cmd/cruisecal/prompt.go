package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/cruisecal/calendar-sync/internal/sync"

	"golang.org/x/term"
)

// isInteractive reports whether stdin is a terminal. Permission requests and
// prompts only happen when it is.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// readPassword reads a line from the terminal without echoing it.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(password)), nil
}

// promptMetadata asks for the booking and cabin numbers not given as flags.
// Empty answers are kept; the API accepts a sync without them.
func promptMetadata(meta sync.Metadata) sync.Metadata {
	reader := bufio.NewReader(os.Stdin)
	if meta.BookingNumber == "" {
		meta.BookingNumber = promptLine(reader, "Booking number: ")
	}
	if meta.CabinNumber == "" {
		meta.CabinNumber = promptLine(reader, "Cabin number: ")
	}
	return meta
}

func promptLine(reader *bufio.Reader, prompt string) string {
	fmt.Print(prompt)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
