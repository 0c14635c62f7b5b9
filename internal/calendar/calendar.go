package calendar

import (
	"context"
	"time"
)

// Calendar is a calendar known to the store.
type Calendar struct {
	ID                  string
	Title               string
	IsPrimary           bool
	AllowsModifications bool
}

// Event is an event as read back from the store.
type Event struct {
	ID          string
	Title       string
	StartDate   time.Time
	EndDate     time.Time
	Description string
	Location    string
	AllDay      bool
	CalendarID  string
}

// Alarm fires Before the event start.
type Alarm struct {
	Before time.Duration
}

// EventInput describes an event to create.
type EventInput struct {
	CalendarID  string
	StartDate   time.Time
	EndDate     time.Time
	Description string
	Location    string
	AllDay      bool
	Alarms      []Alarm
	TimeZone    string
}

// Store is the calendar capability the sync consumes. The Google, CalDAV and
// Evolution Data Server clients implement it.
//
// Event IDs returned by FetchEvents and SaveEvent are opaque and are only ever
// handed back to RemoveEvent.
type Store interface {
	FindCalendars(ctx context.Context) ([]Calendar, error)
	FetchEvents(ctx context.Context, start, end time.Time) ([]Event, error)
	SaveEvent(ctx context.Context, title string, input EventInput) (string, error)
	RemoveEvent(ctx context.Context, id string) error
	// Refresh hints the store to make recent writes visible. Best effort.
	Refresh(ctx context.Context, calendarID string) error
}

// location resolves an IANA zone name, falling back to the local zone.
func location(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}
