package calendar

import (
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// edsSystemCalendarUID is the source UID of the built-in personal calendar.
const edsSystemCalendarUID = "system-calendar"

// readOnlyBackends never accept new events.
var readOnlyBackends = map[string]bool{
	"birthdays": true,
	"contacts":  true,
	"weather":   true,
	"webcal":    true,
}

// sourceEntry is the part of an EDS source key file the store needs.
type sourceEntry struct {
	UID         string
	DisplayName string
	Enabled     bool

	HasCalendar     bool
	CalendarEnabled bool
	CalendarBackend string
}

func (e sourceEntry) writableBackend() bool {
	return !readOnlyBackends[strings.ToLower(e.CalendarBackend)]
}

// parseSourceEntry parses the "Data" property of an EDS source, which is a
// GKeyFile document.
func parseSourceEntry(uid, data string) (sourceEntry, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
		AllowShadows:        true,
	}, []byte(data))
	if err != nil {
		return sourceEntry{}, err
	}

	entry := sourceEntry{UID: uid}

	dataSection := cfg.Section("Data Source")
	entry.DisplayName = strings.TrimSpace(dataSection.Key("DisplayName").String())
	entry.Enabled = parseBoolWithDefault(dataSection.Key("Enabled").String(), true)

	if calendarSection, err := cfg.GetSection("Calendar"); err == nil {
		entry.HasCalendar = true
		entry.CalendarEnabled = parseBoolWithDefault(calendarSection.Key("Enabled").String(), true)
		entry.CalendarBackend = strings.TrimSpace(calendarSection.Key("BackendName").String())
	}

	return entry, nil
}

func parseBoolWithDefault(value string, def bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(value)))
	if err != nil {
		return def
	}
	return parsed
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
