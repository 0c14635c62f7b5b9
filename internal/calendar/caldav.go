package calendar

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/cruisecal/calendar-sync/internal/permission"
)

// CalDAVStore is a Store for Apple Calendar/iCloud and other CalDAV servers.
type CalDAVStore struct {
	httpClient *http.Client
	username   string
	password   string
	serverURL  *url.URL
	homePath   string
}

// NewCalDAVStore creates a new CalDAV store.
// serverURL should be the CalDAV server URL (e.g., "https://caldav.icloud.com" for iCloud).
// username and password are the account credentials (use an app-specific password for iCloud).
// If homePath is empty, the calendar home defaults to /{username}/calendars/.
func NewCalDAVStore(serverURL, username, password, homePath string, timeout time.Duration) (*CalDAVStore, error) {
	base, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid CalDAV server URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid CalDAV server URL %q", serverURL)
	}

	if homePath == "" {
		homePath = fmt.Sprintf("/%s/calendars/", username)
	}
	if !strings.HasSuffix(homePath, "/") {
		homePath += "/"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &CalDAVStore{
		httpClient: &http.Client{Timeout: timeout},
		username:   username,
		password:   password,
		serverURL:  base,
		homePath:   homePath,
	}, nil
}

// resolve turns a server-relative href into an absolute URL.
func (s *CalDAVStore) resolve(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}
	return s.serverURL.ResolveReference(ref).String(), nil
}

// do makes an authenticated request to the CalDAV server.
func (s *CalDAVStore) do(ctx context.Context, method, href, depth, contentType string, body io.Reader) (*http.Response, error) {
	target, err := s.resolve(href)
	if err != nil {
		return nil, fmt.Errorf("invalid href %q: %w", href, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.username, s.password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if depth != "" {
		req.Header.Set("Depth", depth)
	}
	return s.httpClient.Do(req)
}

const propfindCalendars = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:displayname/>
    <d:resourcetype/>
    <d:current-user-privilege-set/>
  </d:prop>
</d:propfind>`

const propfindCTag = `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:" xmlns:cs="http://calendarserver.org/ns/">
  <d:prop>
    <cs:getctag/>
  </d:prop>
</d:propfind>`

const calendarQuery = `<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s" end="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

// multistatus is the subset of a WebDAV 207 response the store reads.
// Element names are matched without namespaces.
type multistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href      string        `xml:"href"`
	Propstats []davPropstat `xml:"propstat"`
}

type davPropstat struct {
	Prop   davProp `xml:"prop"`
	Status string  `xml:"status"`
}

type davProp struct {
	DisplayName  string          `xml:"displayname"`
	ResourceType davResourceType `xml:"resourcetype"`
	Privileges   []davPrivilege  `xml:"current-user-privilege-set>privilege"`
	CalendarData string          `xml:"calendar-data"`
	CTag         string          `xml:"getctag"`
}

type davResourceType struct {
	Calendar *struct{} `xml:"calendar"`
}

type davPrivilege struct {
	Names []struct {
		XMLName xml.Name
	} `xml:",any"`
}

// ok reports whether the propstat carries found properties.
func (p davPropstat) ok() bool {
	return p.Status == "" || strings.Contains(p.Status, " 200")
}

// prop merges the successful propstats of a response.
func (r davResponse) prop() davProp {
	var merged davProp
	for _, ps := range r.Propstats {
		if !ps.ok() {
			continue
		}
		if ps.Prop.DisplayName != "" {
			merged.DisplayName = ps.Prop.DisplayName
		}
		if ps.Prop.ResourceType.Calendar != nil {
			merged.ResourceType.Calendar = ps.Prop.ResourceType.Calendar
		}
		merged.Privileges = append(merged.Privileges, ps.Prop.Privileges...)
		if ps.Prop.CalendarData != "" {
			merged.CalendarData = ps.Prop.CalendarData
		}
		if ps.Prop.CTag != "" {
			merged.CTag = ps.Prop.CTag
		}
	}
	return merged
}

// canWrite reports whether the privilege set allows creating and removing resources.
func (p davProp) canWrite() bool {
	for _, priv := range p.Privileges {
		for _, name := range priv.Names {
			switch name.XMLName.Local {
			case "all", "write", "write-content", "bind":
				return true
			}
		}
	}
	return false
}

func parseMultistatus(body []byte) (*multistatus, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	return &ms, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.code)
}

// propfind runs a PROPFIND and returns the parsed multistatus.
func (s *CalDAVStore) propfind(ctx context.Context, href, depth, body string) (*multistatus, error) {
	resp, err := s.do(ctx, "PROPFIND", href, depth, "application/xml; charset=utf-8", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return parseMultistatus(data)
}

// FindCalendars lists the calendar collections in the calendar home.
// CalDAV has no primary calendar, so IsPrimary is always false.
func (s *CalDAVStore) FindCalendars(ctx context.Context) ([]Calendar, error) {
	ms, err := s.propfind(ctx, s.homePath, "1", propfindCalendars)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var calendars []Calendar
	for _, r := range ms.Responses {
		prop := r.prop()
		if prop.ResourceType.Calendar == nil {
			continue
		}
		title := prop.DisplayName
		if title == "" {
			title = strings.TrimSuffix(r.Href[strings.LastIndex(strings.TrimSuffix(r.Href, "/"), "/")+1:], "/")
		}
		calendars = append(calendars, Calendar{
			ID:                  r.Href,
			Title:               title,
			AllowsModifications: prop.canWrite(),
		})
	}
	return calendars, nil
}

// FetchEvents retrieves events from every calendar within the specified time window.
// Recurring events are reported once, at their first occurrence in the window.
func (s *CalDAVStore) FetchEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	calendars, err := s.FindCalendars(ctx)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, cal := range calendars {
		calEvents, err := s.queryCalendar(ctx, cal.ID, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to query calendar %s: %w", cal.Title, err)
		}
		events = append(events, calEvents...)
	}
	return events, nil
}

func (s *CalDAVStore) queryCalendar(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error) {
	body := fmt.Sprintf(calendarQuery, start.UTC().Format("20060102T150405Z"), end.UTC().Format("20060102T150405Z"))
	resp, err := s.do(ctx, "REPORT", calendarID, "1", "application/xml; charset=utf-8", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	ms, err := parseMultistatus(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CalDAV response: %w", err)
	}

	var events []Event
	for _, r := range ms.Responses {
		calendarData := r.prop().CalendarData
		if calendarData == "" {
			continue
		}
		cal, err := ical.NewDecoder(strings.NewReader(calendarData)).Decode()
		if err != nil {
			log.Printf("Warning: failed to parse iCalendar data of %s: %v", r.Href, err)
			continue
		}
		event, err := eventFromICal(cal, start, end)
		if err != nil {
			log.Printf("Warning: failed to convert event %s: %v", r.Href, err)
			continue
		}
		event.ID = r.Href
		event.CalendarID = calendarID
		events = append(events, event)
	}
	return events, nil
}

// SaveEvent PUTs a new event resource and returns its href.
func (s *CalDAVStore) SaveEvent(ctx context.Context, title string, input EventInput) (string, error) {
	uid := uuid.NewString()
	cal := eventToICal(uid, title, input, time.Now())

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode iCalendar: %w", err)
	}

	href := strings.TrimSuffix(input.CalendarID, "/") + "/" + uid + ".ics"
	resp, err := s.do(ctx, http.MethodPut, href, "", "text/calendar; charset=utf-8", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusNoContent, http.StatusOK:
		return href, nil
	default:
		return "", fmt.Errorf("failed to insert event: HTTP %d", resp.StatusCode)
	}
}

// RemoveEvent deletes an event resource. A resource that is already gone is not an error.
func (s *CalDAVStore) RemoveEvent(ctx context.Context, id string) error {
	resp, err := s.do(ctx, http.MethodDelete, id, "", "", nil)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("failed to delete event: HTTP %d", resp.StatusCode)
	}
}

// Refresh re-reads the calendar's ctag so the server settles pending writes.
func (s *CalDAVStore) Refresh(ctx context.Context, calendarID string) error {
	ms, err := s.propfind(ctx, calendarID, "0", propfindCTag)
	if err != nil {
		return fmt.Errorf("failed to refresh calendar: %w", err)
	}
	if len(ms.Responses) == 0 {
		return fmt.Errorf("failed to refresh calendar: empty response for %s", calendarID)
	}
	return nil
}

// Check implements permission.SplitAuthorizer. Read access is granted when the
// calendar home can be listed; write access when any calendar grants write.
func (s *CalDAVStore) Check(ctx context.Context, kind permission.Kind) (permission.Status, error) {
	ms, err := s.propfind(ctx, s.homePath, "1", propfindCalendars)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.code == http.StatusUnauthorized || se.code == http.StatusForbidden) {
			return permission.Denied, nil
		}
		return permission.Unknown, err
	}
	if kind == permission.Read {
		return permission.Granted, nil
	}

	for _, r := range ms.Responses {
		prop := r.prop()
		if prop.ResourceType.Calendar != nil && prop.canWrite() {
			return permission.Granted, nil
		}
	}
	return permission.Denied, nil
}

// Request implements permission.SplitAuthorizer. CalDAV cannot show a prompt,
// so a request re-probes the server with the configured credentials.
func (s *CalDAVStore) Request(ctx context.Context, kind permission.Kind) (permission.Status, error) {
	return s.Check(ctx, kind)
}

// eventToICal builds a VCALENDAR holding one VEVENT with its alarms.
func eventToICal(uid, title string, input EventInput, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//CruiseCal//Calendar Sync//EN")

	vevent := ical.NewComponent(ical.CompEvent)
	cal.Children = append(cal.Children, vevent)

	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetText(ical.PropSummary, title)
	if input.Description != "" {
		vevent.Props.SetText(ical.PropDescription, input.Description)
	}
	if input.Location != "" {
		vevent.Props.SetText(ical.PropLocation, input.Location)
	}

	if input.AllDay {
		dtstart := ical.NewProp(ical.PropDateTimeStart)
		dtstart.SetDate(input.StartDate)
		vevent.Props.Set(dtstart)
		dtend := ical.NewProp(ical.PropDateTimeEnd)
		dtend.SetDate(input.EndDate)
		vevent.Props.Set(dtend)
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, input.StartDate.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, input.EndDate.UTC())
	}

	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	vevent.Props.SetDateTime(ical.PropCreated, now.UTC())
	vevent.Props.SetDateTime(ical.PropLastModified, now.UTC())

	for _, alarm := range input.Alarms {
		valarm := ical.NewComponent(ical.CompAlarm)
		setRaw(valarm, "ACTION", "DISPLAY")
		setRaw(valarm, "TRIGGER", alarmTrigger(alarm.Before))
		valarm.Props.SetText(ical.PropDescription, title)
		vevent.Children = append(vevent.Children, valarm)
	}

	return cal
}

// alarmTrigger formats a relative trigger such as -PT60M.
func alarmTrigger(before time.Duration) string {
	minutes := int64(before / time.Minute)
	if minutes < 0 {
		return fmt.Sprintf("PT%dM", -minutes)
	}
	return fmt.Sprintf("-PT%dM", minutes)
}

// eventFromICal converts the first VEVENT of a calendar object. For recurring
// events StartDate is moved to the first occurrence within [windowStart, windowEnd].
func eventFromICal(cal *ical.Calendar, windowStart, windowEnd time.Time) (Event, error) {
	var vevent *ical.Component
	for _, comp := range cal.Children {
		if comp.Name == ical.CompEvent {
			vevent = comp
			break
		}
	}
	if vevent == nil {
		return Event{}, fmt.Errorf("no VEVENT found in calendar")
	}

	event := Event{
		Title:       propText(vevent, ical.PropSummary),
		Description: propText(vevent, ical.PropDescription),
		Location:    propText(vevent, ical.PropLocation),
	}

	if dtstart := vevent.Props.Get(ical.PropDateTimeStart); dtstart != nil {
		t, err := dtstart.DateTime(time.Local)
		if err != nil {
			return Event{}, fmt.Errorf("invalid DTSTART: %w", err)
		}
		event.StartDate = t
		event.AllDay = dtstart.ValueType() == ical.ValueDate
	}
	if dtend := vevent.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		if t, err := dtend.DateTime(time.Local); err == nil {
			event.EndDate = t
		}
	}
	if event.EndDate.IsZero() {
		event.EndDate = event.StartDate
	}

	if rule := vevent.Props.Get(ical.PropRecurrenceRule); rule != nil {
		if first, ok := firstOccurrence(rule.Value, event.StartDate, windowStart, windowEnd); ok {
			duration := event.EndDate.Sub(event.StartDate)
			event.StartDate = first
			event.EndDate = first.Add(duration)
		}
	}

	return event, nil
}

// firstOccurrence expands an RRULE anchored at dtstart and returns the first
// instance within the window.
func firstOccurrence(rule string, dtstart, windowStart, windowEnd time.Time) (time.Time, bool) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return time.Time{}, false
	}
	opt.Dtstart = dtstart
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return time.Time{}, false
	}
	starts := r.Between(windowStart, windowEnd, true)
	if len(starts) == 0 {
		return time.Time{}, false
	}
	return starts[0], true
}

// setRaw sets a property value without adding a VALUE parameter.
func setRaw(comp *ical.Component, name, value string) {
	prop := ical.NewProp(name)
	prop.Value = value
	comp.Props.Set(prop)
}

func propText(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}
