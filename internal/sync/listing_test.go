package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cruisecal/calendar-sync/internal/calendar"
)

func syncedEvent(id, tourCode string, day int, meta Metadata) calendar.Event {
	event := portCalls(1)[0]
	event.Notes.PortName = "Port " + id
	start := time.Date(2025, 6, day, 8, 0, 0, 0, time.UTC)
	return calendar.Event{
		ID:          id,
		Title:       EventTitle(event, tourCode, time.UTC),
		StartDate:   start,
		EndDate:     start.AddDate(0, 0, 1),
		Description: EventDescription(event, tourCode, meta, time.UTC),
	}
}

func TestGroupSynced(t *testing.T) {
	events := []calendar.Event{
		syncedEvent("b2", "XY999", 12, Metadata{}),
		syncedEvent("a3", "SB123", 5, Metadata{CruiseName: "Med Explorer"}),
		syncedEvent("a1", "SB123", 1, Metadata{CruiseName: "Med Explorer"}),
		{ID: "dentist", Title: "Dentist", StartDate: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
		{ID: "manual", Title: "Dinner [SB123]", Description: "Booked by phone", StartDate: time.Date(2025, 6, 3, 19, 0, 0, 0, time.UTC)},
		syncedEvent("b1", "XY999", 10, Metadata{}),
		syncedEvent("a2", "SB123", 3, Metadata{CruiseName: "Med Explorer"}),
	}

	groups := GroupSynced(events)
	if len(groups) != 2 {
		t.Fatalf("Expected 2 tours, got %d: %+v", len(groups), groups)
	}

	med := groups[0]
	if med.TourCode != "SB123" || med.CruiseName != "Med Explorer" {
		t.Errorf("Unexpected first group %q / %q", med.TourCode, med.CruiseName)
	}
	if len(med.Events) != 3 || med.Events[0].ID != "a1" || med.Events[1].ID != "a2" || med.Events[2].ID != "a3" {
		t.Errorf("Expected SB123 events a1, a2, a3 in order, got %+v", med.Events)
	}
	if !med.First().Equal(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected first date %v", med.First())
	}
	if !med.Last().Equal(time.Date(2025, 6, 5, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected last date %v", med.Last())
	}

	if groups[1].TourCode != "XY999" || groups[1].CruiseName != "" || len(groups[1].Events) != 2 {
		t.Errorf("Unexpected second group %+v", groups[1])
	}
}

func TestGroupSynced_TourCodeFromDescription(t *testing.T) {
	event := syncedEvent("a1", "SB123", 1, Metadata{})
	event.Title = "Naples, Italy"

	groups := GroupSynced([]calendar.Event{event})
	if len(groups) != 1 || groups[0].TourCode != "SB123" {
		t.Errorf("Expected the tour code from the description, got %+v", groups)
	}
}

func TestListSynced(t *testing.T) {
	store := &mockStore{
		calendars: writableCalendars(),
		existing: []calendar.Event{
			syncedEvent("a1", "SB123", 1, Metadata{}),
			syncedEvent("a2", "SB123", 2, Metadata{}),
		},
	}
	lastYear := syncedEvent("old", "OLD1", 1, Metadata{})
	lastYear.StartDate = lastYear.StartDate.AddDate(-1, 0, 0)
	store.existing = append(store.existing, lastYear)

	gate := &mockGate{granted: true}
	r := newTestReconciler(store, &mockFetcher{}, gate, Options{})

	groups, err := r.ListSynced(context.Background(), false)
	if err != nil {
		t.Fatalf("ListSynced() returned an error: %v", err)
	}
	if len(groups) != 1 || groups[0].TourCode != "SB123" || len(groups[0].Events) != 2 {
		t.Errorf("Expected this year's SB123 events only, got %+v", groups)
	}
	if len(gate.interactive) != 1 || gate.interactive[0] {
		t.Errorf("Expected one non-interactive permission check, got %v", gate.interactive)
	}
	if store.saves != 0 || len(store.removed) != 0 {
		t.Error("Expected listing to leave the calendar untouched")
	}
}

func TestListSynced_Errors(t *testing.T) {
	store := &mockStore{calendars: writableCalendars()}
	r := newTestReconciler(store, &mockFetcher{}, &mockGate{granted: false}, Options{})
	if _, err := r.ListSynced(context.Background(), true); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got %v", err)
	}
	if store.calls != 0 {
		t.Errorf("Expected no calendar calls without permission, got %d", store.calls)
	}

	store.fetchErr = errors.New("bus unavailable")
	r = newTestReconciler(store, &mockFetcher{}, &mockGate{granted: true}, Options{})
	if _, err := r.ListSynced(context.Background(), true); !errors.Is(err, ErrExistingEventsFetchFailed) {
		t.Errorf("Expected ErrExistingEventsFetchFailed, got %v", err)
	}
}

func TestTourGroup_LastWithoutEnd(t *testing.T) {
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	group := TourGroup{Events: []calendar.Event{{StartDate: start}}}
	if !group.Last().Equal(start) {
		t.Errorf("Expected the start when the end is missing, got %v", group.Last())
	}
	if !(TourGroup{}).First().IsZero() {
		t.Error("Expected a zero first date for an empty group")
	}
}
