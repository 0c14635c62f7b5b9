package calendar

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
)

// parseEventPayload parses the VEVENT strings returned by GetObjectList.
func parseEventPayload(sourceUID, payload string) ([]Event, error) {
	wrapped := strings.TrimSpace(payload)
	if !strings.HasPrefix(wrapped, "BEGIN:VCALENDAR") {
		wrapped = "BEGIN:VCALENDAR\n" + wrapped + "\nEND:VCALENDAR\n"
	}
	parsed, err := ics.ParseCalendar(strings.NewReader(wrapped))
	if err != nil {
		return nil, fmt.Errorf("parse ics payload: %w", err)
	}

	var events []Event
	for _, vevent := range parsed.Events() {
		uid := propertyValue(vevent.GetProperty(ics.ComponentPropertyUniqueId))
		if strings.TrimSpace(uid) == "" {
			continue
		}
		start, err := vevent.GetStartAt()
		if err != nil {
			continue
		}
		end, err := vevent.GetEndAt()
		if err != nil || end.Before(start) {
			end = start
		}

		events = append(events, Event{
			ID:          edsEventID(sourceUID, uid),
			Title:       propertyValue(vevent.GetProperty(ics.ComponentPropertySummary)),
			StartDate:   start,
			EndDate:     end,
			Description: propertyValue(vevent.GetProperty(ics.ComponentPropertyDescription)),
			Location:    propertyValue(vevent.GetProperty(ics.ComponentPropertyLocation)),
			AllDay:      isAllDay(vevent.GetProperty(ics.ComponentPropertyDtStart)),
			CalendarID:  sourceUID,
		})
	}
	return events, nil
}

// buildEventPayload renders a single VEVENT for CreateObjects.
func buildEventPayload(title string, input EventInput, now time.Time) (uid, payload string) {
	uid = uuid.NewString()
	vevent := ics.NewEvent(uid)
	vevent.SetDtStampTime(now)
	vevent.SetCreatedTime(now)
	vevent.SetSummary(title)
	if input.Description != "" {
		vevent.SetDescription(input.Description)
	}
	if input.Location != "" {
		vevent.SetLocation(input.Location)
	}

	if input.AllDay {
		vevent.SetAllDayStartAt(input.StartDate)
		vevent.SetAllDayEndAt(input.EndDate)
	} else {
		vevent.SetStartAt(input.StartDate)
		vevent.SetEndAt(input.EndDate)
	}

	for _, alarm := range input.Alarms {
		valarm := vevent.AddAlarm()
		valarm.SetAction(ics.ActionDisplay)
		valarm.SetTrigger(alarmTrigger(alarm.Before))
		valarm.SetProperty(ics.ComponentPropertyDescription, title)
	}

	payload = vevent.Serialize(&ics.SerializationConfiguration{
		MaxLength:         75,
		PropertyMaxLength: 75,
		NewLine:           string(ics.WithNewLineWindows),
	})
	return uid, payload
}

func isAllDay(property *ics.IANAProperty) bool {
	if property == nil {
		return false
	}
	for _, value := range property.ICalParameters["VALUE"] {
		if strings.EqualFold(strings.TrimSpace(value), "DATE") {
			return true
		}
	}
	return len(strings.TrimSpace(property.Value)) == 8
}

func propertyValue(property *ics.IANAProperty) string {
	if property == nil {
		return ""
	}
	return strings.TrimSpace(property.Value)
}
