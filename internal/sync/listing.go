package sync

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cruisecal/calendar-sync/internal/calendar"
)

// tourTagPattern matches the "[tourCode]" tag at the end of a title.
var tourTagPattern = regexp.MustCompile(`\[([^\[\]]+)\]\s*$`)

// TourGroup is the set of synced events of one tour found in the calendar.
type TourGroup struct {
	TourCode   string
	CruiseName string
	Events     []calendar.Event // Sorted by start
}

// First returns the start of the earliest event.
func (g TourGroup) First() time.Time {
	if len(g.Events) == 0 {
		return time.Time{}
	}
	return g.Events[0].StartDate
}

// Last returns the day of the latest event. Events end the day after they
// start, so the end is taken back by one day.
func (g TourGroup) Last() time.Time {
	if len(g.Events) == 0 {
		return time.Time{}
	}
	last := g.Events[len(g.Events)-1]
	end := last.EndDate
	if end.After(last.StartDate) {
		end = end.AddDate(0, 0, -1)
	}
	if end.Before(last.StartDate) {
		return last.StartDate
	}
	return end
}

// ListSynced returns the tours synced into the calendar this year, ordered by
// their first port call. When interactive is false a missing permission is
// never requested.
func (r *Reconciler) ListSynced(ctx context.Context, interactive bool) ([]TourGroup, error) {
	if !r.gate.Ensure(ctx, interactive) {
		return nil, ErrPermissionDenied
	}

	start, end := yearWindow(r.now(), r.opts.Location)
	events, err := r.store.FetchEvents(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExistingEventsFetchFailed, err)
	}

	groups := GroupSynced(events)
	r.debugf("Found %d synced tours in %d events", len(groups), len(events))
	return groups, nil
}

// GroupSynced picks the events created by a sync out of events and groups
// them by tour code.
func GroupSynced(events []calendar.Event) []TourGroup {
	byTour := make(map[string]*TourGroup)
	var order []string
	for _, event := range events {
		if !strings.HasPrefix(strings.TrimSpace(event.Description), descriptionMarker) {
			continue
		}
		tourCode := eventTourCode(event)
		if tourCode == "" {
			continue
		}
		group, ok := byTour[tourCode]
		if !ok {
			group = &TourGroup{TourCode: tourCode}
			byTour[tourCode] = group
			order = append(order, tourCode)
		}
		if group.CruiseName == "" {
			group.CruiseName = descriptionCruiseName(event.Description)
		}
		group.Events = append(group.Events, event)
	}

	groups := make([]TourGroup, 0, len(order))
	for _, tourCode := range order {
		group := byTour[tourCode]
		sort.SliceStable(group.Events, func(i, j int) bool {
			return group.Events[i].StartDate.Before(group.Events[j].StartDate)
		})
		groups = append(groups, *group)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if !groups[i].First().Equal(groups[j].First()) {
			return groups[i].First().Before(groups[j].First())
		}
		return groups[i].TourCode < groups[j].TourCode
	})
	return groups
}

// eventTourCode reads the tour code from the title tag, falling back to the
// "Tour Code:" line of the description.
func eventTourCode(event calendar.Event) string {
	if m := tourTagPattern.FindStringSubmatch(event.Title); m != nil {
		return strings.TrimSpace(m[1])
	}
	for _, line := range strings.Split(event.Description, "\n") {
		if code, ok := strings.CutPrefix(strings.TrimSpace(line), "Tour Code:"); ok {
			return strings.TrimSpace(code)
		}
	}
	return ""
}

// descriptionCruiseName returns the optional cruise name line that follows
// the marker. It is only present when a non-empty line follows it directly.
func descriptionCruiseName(description string) string {
	lines := strings.Split(strings.ReplaceAll(description, "\r\n", "\n"), "\n")
	if len(lines) < 4 || strings.TrimSpace(lines[2]) == "" || strings.TrimSpace(lines[3]) == "" {
		return ""
	}
	return strings.TrimSpace(lines[2])
}
