package itinerary

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// Notes is the descriptive metadata attached to a port call.
type Notes struct {
	PortName        string `json:"port_name,omitempty"`
	PortCountry     string `json:"port_country,omitempty"`
	PortDescription string `json:"port_description,omitempty"`
	ArrivalDate     string `json:"arrival_date,omitempty"`
	DepartureDate   string `json:"departure_date,omitempty"`
	Link            string `json:"link,omitempty"`
}

// Event is one port call of an itinerary as returned by the API.
// Dates are kept as received; use Start and End to parse them.
type Event struct {
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
	Title     string   `json:"title,omitempty"`
	Notes     Notes    `json:"notes"`
	TourCode  string   `json:"tour_code"`
	UniqueID  UniqueID `json:"unique_id"`
	AllDay    bool     `json:"allDay,omitempty"`
	Arrival   string   `json:"arrival,omitempty"`
	Departure string   `json:"departure,omitempty"`
}

// UniqueID accepts both JSON strings and numbers.
type UniqueID string

// UnmarshalJSON implements json.Unmarshaler.
func (u *UniqueID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*u = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UniqueID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("unique_id must be a string or number: %w", err)
	}
	*u = UniqueID(n.String())
	return nil
}

// dateLayouts are the formats the API has been seen to emit, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate parses an itinerary date. Values without a zone are read in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms).In(loc), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// Start parses the event's start date.
func (e Event) Start(loc *time.Location) (time.Time, error) {
	return ParseDate(e.StartDate, loc)
}

// End parses the event's end date.
func (e Event) End(loc *time.Location) (time.Time, error) {
	return ParseDate(e.EndDate, loc)
}

// ValidEvents returns the events whose start and end dates both parse, in their
// original order. Dropped events are logged and returned separately.
func ValidEvents(events []Event, loc *time.Location) (valid, dropped []Event) {
	for _, event := range events {
		if _, err := event.Start(loc); err != nil {
			log.Printf("Warning: dropping itinerary event %s: invalid startDate: %v", event.UniqueID, err)
			dropped = append(dropped, event)
			continue
		}
		if _, err := event.End(loc); err != nil {
			log.Printf("Warning: dropping itinerary event %s: invalid endDate: %v", event.UniqueID, err)
			dropped = append(dropped, event)
			continue
		}
		valid = append(valid, event)
	}
	return valid, dropped
}
