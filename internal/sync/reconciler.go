package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	stdsync "sync"
	"time"

	"github.com/cruisecal/calendar-sync/internal/calendar"
	"github.com/cruisecal/calendar-sync/internal/itinerary"
	"github.com/cruisecal/calendar-sync/internal/permission"
	"github.com/cruisecal/calendar-sync/internal/progress"
)

// Run-aborting errors.
var (
	ErrPermissionDenied     = errors.New("calendar permission denied")
	ErrNoWritableCalendar   = errors.New("no writable calendar found")
	ErrItineraryFetchFailed = errors.New("failed to fetch itinerary")
	ErrRunInProgress        = errors.New("a sync for this tour code is already running")

	// ErrExistingEventsFetchFailed aborts a run before anything is created.
	ErrExistingEventsFetchFailed = errors.New("failed to fetch existing calendar events")
)

// Per-event errors. They end up in Outcomes and are never returned from Reconcile.
var (
	ErrEventSaveFailed   = errors.New("failed to save event")
	ErrEventDeleteFailed = errors.New("failed to delete event")
)

// Defaults for Options left at their zero value.
const (
	DefaultBatchSize   = 3
	DefaultBatchDelay  = 300 * time.Millisecond
	DefaultAlarmBefore = time.Hour
)

// ItineraryFetcher loads the port calls of a sailing.
type ItineraryFetcher interface {
	FetchItineraryDetails(ctx context.Context, tourCode string) ([]itinerary.Event, error)
}

// Metadata is the booking information written into every event description.
type Metadata struct {
	BookingNumber string
	CabinNumber   string
	CruiseName    string
}

// Options tunes a Reconciler.
type Options struct {
	BatchSize    int
	BatchDelay   time.Duration
	AlarmBefore  time.Duration
	Location     *time.Location
	CalendarName string // Preferred calendar title; empty picks the primary one
	Verbose      bool
}

// Outcome is the result of one calendar write.
type Outcome struct {
	EventID  string // Store id of the created or removed event
	Title    string
	UniqueID string // Itinerary id, empty for removals
	Err      error
}

// OK reports whether the write succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Fold computes the terminal progress state of a run over total events.
func Fold(total int, outcomes []Outcome) progress.State {
	state := progress.State{Total: total}
	for _, outcome := range outcomes {
		if outcome.OK() {
			state.Success++
		} else {
			state.Failed++
		}
	}
	return state
}

// Report describes a finished run.
type Report struct {
	TourCode   string
	CalendarID string
	State      progress.State
	Created    []Outcome
	Removed    []Outcome
	Dropped    int // Itinerary entries with unparsable dates
}

// Deleted counts the existing events that were removed.
func (r Report) Deleted() int {
	n := 0
	for _, outcome := range r.Removed {
		if outcome.OK() {
			n++
		}
	}
	return n
}

// DeleteFailed counts the existing events that could not be removed.
func (r Report) DeleteFailed() int {
	return len(r.Removed) - r.Deleted()
}

// Reconciler replaces the calendar events of a tour code with the current
// itinerary.
type Reconciler struct {
	store     calendar.Store
	itinerary ItineraryFetcher
	gate      permission.Gate
	reporter  *progress.Reporter
	opts      Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      stdsync.Mutex
	running map[string]struct{}
}

// NewReconciler creates a Reconciler. A nil reporter gets a private one.
func NewReconciler(store calendar.Store, fetcher ItineraryFetcher, gate permission.Gate, reporter *progress.Reporter, opts Options) *Reconciler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = DefaultBatchDelay
	}
	if opts.AlarmBefore <= 0 {
		opts.AlarmBefore = DefaultAlarmBefore
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if reporter == nil {
		reporter = progress.NewReporter()
	}
	return &Reconciler{
		store:     store,
		itinerary: fetcher,
		gate:      gate,
		reporter:  reporter,
		opts:      opts,
		now:       time.Now,
		sleep:     sleepContext,
		running:   make(map[string]struct{}),
	}
}

// Reporter returns the progress reporter the reconciler publishes to. Runs
// are keyed by tour code.
func (r *Reconciler) Reporter() *progress.Reporter {
	return r.reporter
}

// Reconcile runs an interactive sync for tourCode: permission may be
// requested from the user.
func (r *Reconciler) Reconcile(ctx context.Context, tourCode string, meta Metadata) (progress.State, error) {
	report, err := r.Run(ctx, tourCode, meta, true)
	return report.State, err
}

// Run performs one reconciliation. When interactive is false a missing
// permission is never requested.
func (r *Reconciler) Run(ctx context.Context, tourCode string, meta Metadata, interactive bool) (Report, error) {
	tourCode = strings.TrimSpace(tourCode)
	report := Report{TourCode: tourCode}
	if tourCode == "" {
		return report, fmt.Errorf("tour code must not be empty")
	}

	if !r.lock(tourCode) {
		return report, ErrRunInProgress
	}
	defer r.unlock(tourCode)

	// Step 1: Permission
	if !r.gate.Ensure(ctx, interactive) {
		return report, ErrPermissionDenied
	}

	// Step 2: Destination calendar
	calendars, err := r.store.FindCalendars(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list calendars: %w", err)
	}
	target, ok := selectCalendar(calendars, r.opts.CalendarName)
	if !ok {
		return report, ErrNoWritableCalendar
	}
	report.CalendarID = target.ID
	r.debugf("Using calendar %q (%s)", target.Title, target.ID)

	// Step 3: Itinerary, fetched before anything is deleted so a failed fetch
	// leaves the existing events in place.
	fetched, err := r.itinerary.FetchItineraryDetails(ctx, tourCode)
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrItineraryFetchFailed, err)
	}
	events, dropped := itinerary.ValidEvents(fetched, r.opts.Location)
	report.Dropped = len(dropped)
	log.Printf("Fetched %d itinerary events for %s (%d dropped)", len(events), tourCode, len(dropped))

	// Step 4: Remove what a previous run created
	report.Removed, err = r.removeExisting(ctx, tourCode)
	if err != nil {
		return report, err
	}

	// Step 5: Create in batches
	report.Created, err = r.createEvents(ctx, target.ID, tourCode, meta, events)
	report.State = Fold(len(events), report.Created)
	if err != nil {
		return report, err
	}

	// Step 6: Final refresh
	r.refresh(ctx, target.ID)

	log.Printf("Calendar updated for %s: %s", tourCode, Summary(report.State))
	return report, nil
}

// HandleNotification runs a non-interactive sync for a pushed payload.
// Payloads without a tour code and missing permissions are logged and
// ignored.
func (r *Reconciler) HandleNotification(ctx context.Context, n Notification) error {
	if strings.TrimSpace(n.TourCode) == "" {
		log.Printf("Warning: notification without tour_code, ignoring")
		return nil
	}

	report, err := r.Run(ctx, n.TourCode, n.Metadata(), false)
	if errors.Is(err, ErrPermissionDenied) {
		log.Printf("Warning: calendar permission not granted, skipping notification for %s", n.TourCode)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to sync tour %s: %w", n.TourCode, err)
	}
	r.debugf("Notification sync for %s finished: %+v", n.TourCode, report.State)
	return nil
}

func (r *Reconciler) lock(tourCode string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.running[tourCode]; busy {
		return false
	}
	r.running[tourCode] = struct{}{}
	return true
}

func (r *Reconciler) unlock(tourCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, tourCode)
}

// selectCalendar picks the destination calendar: the preferred title if
// configured, else the writable primary, else the first writable one.
func selectCalendar(calendars []calendar.Calendar, preferred string) (calendar.Calendar, bool) {
	if preferred != "" {
		for _, cal := range calendars {
			if cal.AllowsModifications && strings.EqualFold(cal.Title, preferred) {
				return cal, true
			}
		}
		log.Printf("Warning: calendar %q not found or read-only, falling back to the primary calendar", preferred)
	}
	for _, cal := range calendars {
		if cal.IsPrimary && cal.AllowsModifications {
			return cal, true
		}
	}
	for _, cal := range calendars {
		if cal.AllowsModifications {
			return cal, true
		}
	}
	return calendar.Calendar{}, false
}

// yearWindow spans Jan 1 00:00:00 through Dec 31 23:59:59 of now's year.
func yearWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	year := now.In(loc).Year()
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	end := time.Date(year, time.December, 31, 23, 59, 59, 0, loc)
	return start, end
}

// removeExisting deletes this year's events tagged with tourCode. A failed
// listing is returned; failed deletions are logged and recorded only.
func (r *Reconciler) removeExisting(ctx context.Context, tourCode string) ([]Outcome, error) {
	start, end := yearWindow(r.now(), r.opts.Location)
	existing, err := r.store.FetchEvents(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExistingEventsFetchFailed, err)
	}

	tag := TourTag(tourCode)
	var removed []Outcome
	for _, event := range existing {
		if !strings.Contains(event.Title, tag) {
			continue
		}
		outcome := Outcome{EventID: event.ID, Title: event.Title}
		if err := r.store.RemoveEvent(ctx, event.ID); err != nil {
			outcome.Err = fmt.Errorf("%w %s: %v", ErrEventDeleteFailed, event.ID, err)
			log.Printf("Warning: failed to delete event %s (Summary: %s): %v", event.ID, event.Title, err)
		} else {
			r.debugf("Deleted event %s (Summary: %s)", event.ID, event.Title)
		}
		removed = append(removed, outcome)
	}
	if len(removed) > 0 {
		log.Printf("Removed %d existing events for %s", len(removed), tourCode)
	}
	return removed, nil
}

// createEvents saves events in batches, publishing progress after every
// attempt. Every batch is followed by a refresh and a pause.
func (r *Reconciler) createEvents(ctx context.Context, calendarID, tourCode string, meta Metadata, events []itinerary.Event) ([]Outcome, error) {
	r.reporter.Start(tourCode, len(events))
	defer r.reporter.Finish(tourCode)

	outcomes := make([]Outcome, 0, len(events))
	for i := 0; i < len(events); i += r.opts.BatchSize {
		end := i + r.opts.BatchSize
		if end > len(events) {
			end = len(events)
		}

		for _, event := range events[i:end] {
			if err := ctx.Err(); err != nil {
				return outcomes, err
			}
			outcome := r.createEvent(ctx, calendarID, tourCode, meta, event)
			outcomes = append(outcomes, outcome)
			r.reporter.Record(tourCode, outcome.OK())
		}

		r.refresh(ctx, calendarID)
		if err := r.sleep(ctx, r.opts.BatchDelay); err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

func (r *Reconciler) createEvent(ctx context.Context, calendarID, tourCode string, meta Metadata, event itinerary.Event) Outcome {
	loc := r.opts.Location
	title := EventTitle(event, tourCode, loc)
	outcome := Outcome{Title: title, UniqueID: string(event.UniqueID)}

	start, err := event.Start(loc)
	if err != nil {
		outcome.Err = fmt.Errorf("%w: %v", ErrEventSaveFailed, err)
		return outcome
	}

	input := calendar.EventInput{
		CalendarID:  calendarID,
		StartDate:   start,
		EndDate:     start.AddDate(0, 0, 1),
		Description: EventDescription(event, tourCode, meta, loc),
		Location:    portName(event),
		AllDay:      event.AllDay,
		Alarms:      []calendar.Alarm{{Before: r.opts.AlarmBefore}},
		TimeZone:    zoneName(loc),
	}

	id, err := r.store.SaveEvent(ctx, title, input)
	switch {
	case err != nil:
		outcome.Err = fmt.Errorf("%w %q: %v", ErrEventSaveFailed, title, err)
		log.Printf("Warning: failed to create event %q: %v", title, err)
	case id == "":
		outcome.Err = fmt.Errorf("%w %q: no id returned", ErrEventSaveFailed, title)
		log.Printf("Warning: failed to create event %q: no id returned", title)
	default:
		outcome.EventID = id
		r.debugf("Created event %s - %s", id, title)
	}
	return outcome
}

// refresh hints the store to show recent writes. Errors are ignored.
func (r *Reconciler) refresh(ctx context.Context, calendarID string) {
	if err := r.store.Refresh(ctx, calendarID); err != nil {
		r.debugf("calendar refresh failed: %v", err)
	}
}

func (r *Reconciler) debugf(format string, args ...any) {
	if r.opts.Verbose {
		log.Printf("DEBUG: "+format, args...)
	}
}

// zoneName is the IANA name of loc, empty for the process-local zone.
func zoneName(loc *time.Location) string {
	if loc == nil || loc == time.Local {
		return ""
	}
	return loc.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
