package calendar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/cruisecal/calendar-sync/internal/permission"
)

const (
	edsSourceServicePrefix   = "org.gnome.evolution.dataserver.Sources"
	edsCalendarServicePrefix = "org.gnome.evolution.dataserver.Calendar"

	edsSourceManagerPath   = "/org/gnome/evolution/dataserver/SourceManager"
	edsCalendarFactoryPath = "/org/gnome/evolution/dataserver/CalendarFactory"
	edsCalendarInterface   = "org.gnome.evolution.dataserver.Calendar"
)

// EDSStore is a Store backed by Evolution Data Server on the D-Bus session bus,
// the calendar store of GNOME desktops.
type EDSStore struct {
	conn            *dbus.Conn
	sourceService   string
	calendarService string

	mu     sync.Mutex
	opened map[string]dbus.BusObject
}

// NewEDSStore connects to the session bus and locates the EDS services.
func NewEDSStore(ctx context.Context) (*EDSStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	sourceService, err := findServiceName(conn, edsSourceServicePrefix)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	calendarService, err := findServiceName(conn, edsCalendarServicePrefix)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &EDSStore{
		conn:            conn,
		sourceService:   sourceService,
		calendarService: calendarService,
		opened:          make(map[string]dbus.BusObject),
	}, nil
}

// Close closes every opened calendar and the bus connection.
func (s *EDSStore) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	s.mu.Lock()
	for uid, obj := range s.opened {
		_ = obj.Call(edsCalendarInterface+".Close", 0)
		delete(s.opened, uid)
	}
	s.mu.Unlock()
	return s.conn.Close()
}

// FindCalendars lists the enabled calendar sources.
func (s *EDSStore) FindCalendars(ctx context.Context) ([]Calendar, error) {
	entries, err := s.listSources(ctx)
	if err != nil {
		return nil, err
	}

	var calendars []Calendar
	for _, entry := range entries {
		if !entry.HasCalendar || !entry.Enabled || !entry.CalendarEnabled {
			continue
		}

		writable := entry.writableBackend()
		if writable {
			// The backend may still be read-only, e.g. a subscribed webcal.
			if obj, err := s.openCalendar(ctx, entry.UID); err == nil {
				if v, err := obj.GetProperty(edsCalendarInterface + ".Writable"); err == nil {
					if w, ok := v.Value().(bool); ok {
						writable = w
					}
				}
			}
		}

		calendars = append(calendars, Calendar{
			ID:                  entry.UID,
			Title:               fallback(entry.DisplayName, entry.UID),
			IsPrimary:           entry.UID == edsSystemCalendarUID,
			AllowsModifications: writable,
		})
	}

	sort.SliceStable(calendars, func(i, j int) bool {
		return strings.ToLower(calendars[i].Title) < strings.ToLower(calendars[j].Title)
	})
	return calendars, nil
}

func (s *EDSStore) listSources(ctx context.Context) ([]sourceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sourceObj := s.conn.Object(s.sourceService, dbus.ObjectPath(edsSourceManagerPath))
	managed := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	if err := sourceObj.CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&managed); err != nil {
		return nil, fmt.Errorf("EDS: failed to list sources: %w", err)
	}

	var entries []sourceEntry
	for _, ifaceMap := range managed {
		props, ok := ifaceMap["org.gnome.evolution.dataserver.Source"]
		if !ok {
			continue
		}
		uid := variantString(props, "UID")
		data := variantString(props, "Data")
		if strings.TrimSpace(uid) == "" || strings.TrimSpace(data) == "" {
			continue
		}
		entry, err := parseSourceEntry(uid, data)
		if err != nil {
			log.Printf("Warning: skipping EDS source %s: %v", uid, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// openCalendar opens a calendar backend once and caches the object.
func (s *EDSStore) openCalendar(ctx context.Context, sourceUID string) (dbus.BusObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obj, ok := s.opened[sourceUID]; ok {
		return obj, nil
	}

	factory := s.conn.Object(s.calendarService, dbus.ObjectPath(edsCalendarFactoryPath))
	var objectPath, busName string
	err := factory.CallWithContext(ctx, "org.gnome.evolution.dataserver.CalendarFactory.OpenCalendar", 0, strings.TrimSpace(sourceUID)).
		Store(&objectPath, &busName)
	if err != nil {
		return nil, fmt.Errorf("OpenCalendar %s: %w", sourceUID, err)
	}
	if strings.TrimSpace(objectPath) == "" || strings.TrimSpace(busName) == "" {
		return nil, fmt.Errorf("OpenCalendar %s returned an empty object path or bus name", sourceUID)
	}

	obj := s.conn.Object(busName, dbus.ObjectPath(objectPath))
	var properties []string
	if err := obj.CallWithContext(ctx, edsCalendarInterface+".Open", 0).Store(&properties); err != nil {
		return nil, fmt.Errorf("open backend %s: %w", sourceUID, err)
	}

	s.opened[sourceUID] = obj
	return obj, nil
}

// FetchEvents retrieves events from every enabled calendar within the window.
// A read-only calendar that fails to answer is skipped with a warning; a
// writable one fails the whole listing.
func (s *EDSStore) FetchEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	calendars, err := s.FindCalendars(ctx)
	if err != nil {
		return nil, err
	}

	query := buildTimeRangeQuery(start, end)
	return collectEvents(ctx, calendars, func(cal Calendar) ([]Event, error) {
		obj, err := s.openCalendar(ctx, cal.ID)
		if err != nil {
			return nil, err
		}
		var payloads []string
		if err := obj.CallWithContext(ctx, edsCalendarInterface+".GetObjectList", 0, query).Store(&payloads); err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}

		var events []Event
		for _, payload := range payloads {
			parsed, err := parseEventPayload(cal.ID, payload)
			if err != nil {
				log.Printf("Warning: skipping EDS object in %s: %v", cal.Title, err)
				continue
			}
			events = append(events, parsed...)
		}
		return events, nil
	})
}

// collectEvents queries every calendar in turn. Failures of writable calendars
// are joined into the returned error; read-only ones are logged and skipped.
func collectEvents(ctx context.Context, calendars []Calendar, query func(Calendar) ([]Event, error)) ([]Event, error) {
	var events []Event
	var failures []string
	for _, cal := range calendars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		found, err := query(cal)
		if err != nil {
			if !cal.AllowsModifications {
				log.Printf("Warning: skipping read-only calendar %s: %v", cal.Title, err)
				continue
			}
			failures = append(failures, fmt.Sprintf("%s: %v", cal.Title, err))
			continue
		}
		events = append(events, found...)
	}

	if len(failures) > 0 {
		return nil, fmt.Errorf("failed to query calendars: %s", strings.Join(failures, "; "))
	}
	return events, nil
}

// SaveEvent creates the event in the calendar source named by input.CalendarID.
func (s *EDSStore) SaveEvent(ctx context.Context, title string, input EventInput) (string, error) {
	obj, err := s.openCalendar(ctx, input.CalendarID)
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}

	uid, payload := buildEventPayload(title, input, time.Now())
	var created []string
	if err := obj.CallWithContext(ctx, edsCalendarInterface+".CreateObjects", 0, []string{payload}, uint32(0)).Store(&created); err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	if len(created) > 0 && created[0] != "" {
		uid = created[0]
	}
	return edsEventID(input.CalendarID, uid), nil
}

// edsObjectRef is the (uid, rid) pair RemoveObjects expects.
type edsObjectRef struct {
	UID string
	RID string
}

// RemoveEvent removes every instance of the event.
func (s *EDSStore) RemoveEvent(ctx context.Context, id string) error {
	sourceUID, uid, ok := splitEDSEventID(id)
	if !ok {
		return fmt.Errorf("invalid event id %q", id)
	}
	obj, err := s.openCalendar(ctx, sourceUID)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	refs := []edsObjectRef{{UID: uid}}
	if err := obj.CallWithContext(ctx, edsCalendarInterface+".RemoveObjects", 0, refs, "all", uint32(0)).Err; err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// Refresh asks the backend to resynchronize with its remote, if any.
func (s *EDSStore) Refresh(ctx context.Context, calendarID string) error {
	obj, err := s.openCalendar(ctx, calendarID)
	if err != nil {
		return err
	}
	return obj.CallWithContext(ctx, edsCalendarInterface+".Refresh", 0).Err
}

// AuthorizationStatus implements permission.CombinedAuthorizer. The desktop has
// no calendar permission prompt; access is granted when the source registry answers.
func (s *EDSStore) AuthorizationStatus(ctx context.Context) (permission.Status, error) {
	sourceObj := s.conn.Object(s.sourceService, dbus.ObjectPath(edsSourceManagerPath))
	if err := sourceObj.CallWithContext(ctx, "org.freedesktop.DBus.Peer.Ping", 0).Err; err != nil {
		var dbusErr dbus.Error
		if errors.As(err, &dbusErr) && dbusErr.Name == "org.freedesktop.DBus.Error.AccessDenied" {
			return permission.Restricted, nil
		}
		return permission.Unknown, err
	}
	return permission.Granted, nil
}

// RequestPermissions implements permission.CombinedAuthorizer by re-checking.
func (s *EDSStore) RequestPermissions(ctx context.Context) (permission.Status, error) {
	return s.AuthorizationStatus(ctx)
}

func edsEventID(sourceUID, uid string) string {
	return sourceUID + "/" + uid
}

// splitEDSEventID splits at the first slash; source UIDs never contain one.
func splitEDSEventID(id string) (sourceUID, uid string, ok bool) {
	i := strings.Index(id, "/")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

func buildTimeRangeQuery(windowStart, windowEnd time.Time) string {
	start := windowStart.UTC().Format("20060102T150405Z")
	end := windowEnd.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("(occur-in-time-range? (make-time \"%s\") (make-time \"%s\"))", start, end)
}

func findServiceName(conn *dbus.Conn, prefix string) (string, error) {
	busObj := conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")

	var names []string
	if err := busObj.Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err == nil {
		if best := bestMatchingService(names, prefix); best != "" {
			return best, nil
		}
	}

	var activatable []string
	if err := busObj.Call("org.freedesktop.DBus.ListActivatableNames", 0).Store(&activatable); err == nil {
		if best := bestMatchingService(activatable, prefix); best != "" {
			return best, nil
		}
	}

	return "", fmt.Errorf("dbus service with prefix %q not found", prefix)
}

// bestMatchingService picks the highest versioned service name, e.g. Calendar8 over Calendar7.
func bestMatchingService(names []string, prefix string) string {
	var matches []string
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return ""
	}

	sort.SliceStable(matches, func(i, j int) bool {
		vi, vj := serviceVersion(matches[i], prefix), serviceVersion(matches[j], prefix)
		if vi != vj {
			return vi > vj
		}
		return matches[i] < matches[j]
	})
	return matches[0]
}

func serviceVersion(name, prefix string) int {
	version, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(name, prefix)))
	if err != nil {
		return 0
	}
	return version
}

func variantString(props map[string]dbus.Variant, key string) string {
	value, ok := props[key]
	if !ok {
		return ""
	}
	s, _ := value.Value().(string)
	return s
}
