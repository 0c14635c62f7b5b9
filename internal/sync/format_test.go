package sync

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cruisecal/calendar-sync/internal/itinerary"
	"github.com/cruisecal/calendar-sync/internal/progress"
)

func TestFormatTime(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"08:00", "08:00"},
		{"08:00:00", "08:00"},
		{"6:30 PM", "18:30"},
		{"2025-06-01T07:45:00", "07:45"},
		{"", ""},
		{"  TBA ", "TBA"},
	}
	for _, tt := range tests {
		if got := formatTime(tt.value, time.UTC); got != tt.want {
			t.Errorf("formatTime(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestEventTitle(t *testing.T) {
	event := itinerary.Event{
		Arrival:   "07:00",
		Departure: "17:30",
		Notes:     itinerary.Notes{PortName: "Naples", PortCountry: "Italy"},
	}
	if got := EventTitle(event, "SB123", time.UTC); got != "Naples, Italy 07:00 - 17:30 [SB123]" {
		t.Errorf("Unexpected title %q", got)
	}

	// Sea days have no port
	if got := EventTitle(itinerary.Event{}, "SB123", time.UTC); !strings.HasPrefix(got, "Cruise, ") || !strings.HasSuffix(got, TourTag("SB123")) {
		t.Errorf("Unexpected sea day title %q", got)
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		state progress.State
		want  string
	}{
		{progress.State{}, "No events to add."},
		{progress.State{Total: 4, Success: 4}, "4 events added."},
		{progress.State{Total: 5, Success: 3, Failed: 2}, "3 events added, 2 failed."},
	}
	for _, tt := range tests {
		if got := Summary(tt.state); got != tt.want {
			t.Errorf("Summary(%+v) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrPermissionDenied, "Calendar permission denied. Please enable calendar access in your device settings."},
		{fmt.Errorf("%w: HTTP 500", ErrItineraryFetchFailed), "Failed to fetch itinerary data. Please try again."},
		{ErrNoWritableCalendar, "No suitable calendar found. Please set up a calendar app on your device."},
		{fmt.Errorf("%w: REPORT failed", ErrExistingEventsFetchFailed), "Failed to read your calendar. No events were changed, please try again."},
		{errors.New("boom"), "Failed to add events to calendar: boom"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := UserMessage(tt.err); got != tt.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
