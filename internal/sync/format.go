package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/cruisecal/calendar-sync/internal/itinerary"
)

// defaultPortName is used when a port call has no name.
const defaultPortName = "Cruise"

// descriptionMarker opens the description of every event a sync creates.
const descriptionMarker = "Cruise Itinerary Event"

// timeLayouts are the shapes the API uses for arrival and departure times.
var timeLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04 PM",
	"3:04PM",
}

// formatTime renders an arrival or departure as HH:MM. Values that are not
// recognisable times are passed through trimmed.
func formatTime(value string, loc *time.Location) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("15:04")
		}
	}
	if t, err := itinerary.ParseDate(value, loc); err == nil {
		return t.In(loc).Format("15:04")
	}
	return value
}

func portName(event itinerary.Event) string {
	if name := strings.TrimSpace(event.Notes.PortName); name != "" {
		return name
	}
	return defaultPortName
}

// portLine is "<port>, <country> <arrival> - <departure>".
func portLine(event itinerary.Event, loc *time.Location) string {
	return fmt.Sprintf("%s, %s %s - %s",
		portName(event),
		strings.TrimSpace(event.Notes.PortCountry),
		formatTime(event.Arrival, loc),
		formatTime(event.Departure, loc))
}

// EventTitle builds the calendar title for a port call. The trailing
// "[tourCode]" tag is what later runs use to find and replace the event.
func EventTitle(event itinerary.Event, tourCode string, loc *time.Location) string {
	return fmt.Sprintf("%s [%s]", portLine(event, loc), tourCode)
}

// TourTag is the marker embedded in every title created for tourCode.
func TourTag(tourCode string) string {
	return "[" + tourCode + "]"
}

func orNA(value string) string {
	if strings.TrimSpace(value) == "" {
		return "N/A"
	}
	return value
}

// EventDescription builds the multi-line notes of a port call event.
func EventDescription(event itinerary.Event, tourCode string, meta Metadata, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(descriptionMarker + "\n\n")
	if meta.CruiseName != "" {
		fmt.Fprintf(&b, "%s\n", meta.CruiseName)
	}
	fmt.Fprintf(&b, "%s\n\n", portLine(event, loc))
	fmt.Fprintf(&b, "%s\n", event.Notes.PortDescription)
	fmt.Fprintf(&b, "Tour Code: %s\n", tourCode)
	fmt.Fprintf(&b, "Booking Number: %s\n", meta.BookingNumber)
	fmt.Fprintf(&b, "Cabin Number: %s\n", meta.CabinNumber)
	fmt.Fprintf(&b, "Unique ID: %s\n\n", orNA(string(event.UniqueID)))
	fmt.Fprintf(&b, "Port: %s\n", portName(event))
	fmt.Fprintf(&b, "Arrival: %s\n", orNA(event.Notes.ArrivalDate))
	fmt.Fprintf(&b, "Departure: %s\n\n", orNA(event.Notes.DepartureDate))
	fmt.Fprintf(&b, "Available excursions here: %s", event.Notes.Link)
	return b.String()
}
