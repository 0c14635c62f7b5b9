package calendar

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleStore is a Store backed by the Google Calendar API.
type GoogleStore struct {
	service *gcal.Service
}

// NewGoogleStore creates a new Google Calendar store using the provided HTTP client.
// Extra options are appended after the HTTP client option.
func NewGoogleStore(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*GoogleStore, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &GoogleStore{service: service}, nil
}

// FindCalendars lists the user's calendars.
func (s *GoogleStore) FindCalendars(ctx context.Context) ([]Calendar, error) {
	var calendars []Calendar
	err := s.service.CalendarList.List().Pages(ctx, func(page *gcal.CalendarList) error {
		for _, item := range page.Items {
			calendars = append(calendars, Calendar{
				ID:                  item.Id,
				Title:               item.Summary,
				IsPrimary:           item.Primary,
				AllowsModifications: item.AccessRole == "owner" || item.AccessRole == "writer",
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	return calendars, nil
}

// FetchEvents retrieves events from every calendar within the specified time window.
// Recurring events are expanded to individual instances.
func (s *GoogleStore) FetchEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	calendars, err := s.FindCalendars(ctx)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, cal := range calendars {
		err := s.service.Events.List(cal.ID).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			SingleEvents(true).
			Pages(ctx, func(page *gcal.Events) error {
				for _, item := range page.Items {
					events = append(events, fromGoogleEvent(cal.ID, item))
				}
				return nil
			})
		if err != nil {
			return nil, fmt.Errorf("failed to list events of %s: %w", cal.ID, err)
		}
	}
	return events, nil
}

// SaveEvent inserts a new event and returns its ID.
// Important: Sets sendUpdates="none" to prevent notifications.
func (s *GoogleStore) SaveEvent(ctx context.Context, title string, input EventInput) (string, error) {
	event := toGoogleEvent(title, input)
	created, err := s.service.Events.Insert(input.CalendarID, event).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	return googleEventID(input.CalendarID, created.Id), nil
}

// RemoveEvent deletes an event by the ID returned from FetchEvents or SaveEvent.
func (s *GoogleStore) RemoveEvent(ctx context.Context, id string) error {
	calendarID, eventID, ok := splitGoogleEventID(id)
	if !ok {
		return fmt.Errorf("invalid event id %q", id)
	}
	err := s.service.Events.Delete(calendarID, eventID).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// Refresh is a no-op; the API is read-your-writes.
func (s *GoogleStore) Refresh(ctx context.Context, calendarID string) error {
	return nil
}

func googleEventID(calendarID, eventID string) string {
	return calendarID + "/" + eventID
}

func splitGoogleEventID(id string) (calendarID, eventID string, ok bool) {
	i := strings.LastIndex(id, "/")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

func toGoogleEvent(title string, input EventInput) *gcal.Event {
	event := &gcal.Event{
		Summary:     title,
		Description: input.Description,
		Location:    input.Location,
		Reminders: &gcal.EventReminders{
			UseDefault:      false,
			ForceSendFields: []string{"UseDefault"},
		},
	}

	if input.AllDay {
		event.Start = &gcal.EventDateTime{Date: input.StartDate.Format("2006-01-02")}
		event.End = &gcal.EventDateTime{Date: input.EndDate.Format("2006-01-02")}
	} else {
		event.Start = &gcal.EventDateTime{DateTime: input.StartDate.Format(time.RFC3339), TimeZone: input.TimeZone}
		event.End = &gcal.EventDateTime{DateTime: input.EndDate.Format(time.RFC3339), TimeZone: input.TimeZone}
	}

	for _, alarm := range input.Alarms {
		event.Reminders.Overrides = append(event.Reminders.Overrides, &gcal.EventReminder{
			Method:  "popup",
			Minutes: int64(alarm.Before / time.Minute),
		})
	}

	return event
}

func fromGoogleEvent(calendarID string, item *gcal.Event) Event {
	event := Event{
		ID:          googleEventID(calendarID, item.Id),
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		CalendarID:  calendarID,
	}
	if item.Start != nil {
		event.StartDate, event.AllDay = parseGoogleDateTime(item.Start)
	}
	if item.End != nil {
		event.EndDate, _ = parseGoogleDateTime(item.End)
	}
	return event
}

// parseGoogleDateTime returns the time and whether it is a date-only (all-day) value.
func parseGoogleDateTime(dt *gcal.EventDateTime) (time.Time, bool) {
	if dt.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", dt.Date, location(dt.TimeZone))
		if err != nil {
			return time.Time{}, true
		}
		return t, true
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, false
}
