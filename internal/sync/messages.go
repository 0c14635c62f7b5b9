package sync

import (
	"errors"
	"fmt"

	"github.com/cruisecal/calendar-sync/internal/progress"
)

// UserMessage returns the text shown to the user when a run aborts with err.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Calendar permission denied. Please enable calendar access in your device settings."
	case errors.Is(err, ErrNoWritableCalendar):
		return "No suitable calendar found. Please set up a calendar app on your device."
	case errors.Is(err, ErrItineraryFetchFailed):
		return "Failed to fetch itinerary data. Please try again."
	case errors.Is(err, ErrExistingEventsFetchFailed):
		return "Failed to read your calendar. No events were changed, please try again."
	case errors.Is(err, ErrRunInProgress):
		return "A calendar sync for this tour is already running. Please wait for it to finish."
	default:
		return fmt.Sprintf("Failed to add events to calendar: %v", err)
	}
}

// Summary describes the outcome of a finished run.
func Summary(state progress.State) string {
	if state.Total == 0 {
		return "No events to add."
	}
	if state.Failed == 0 {
		return fmt.Sprintf("%d events added.", state.Success)
	}
	return fmt.Sprintf("%d events added, %d failed.", state.Success, state.Failed)
}
