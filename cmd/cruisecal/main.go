package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cruisecal/calendar-sync/internal/config"
	"github.com/cruisecal/calendar-sync/internal/itinerary"
	"github.com/cruisecal/calendar-sync/internal/progress"
	"github.com/cruisecal/calendar-sync/internal/schedule"
	"github.com/cruisecal/calendar-sync/internal/sync"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `CruiseCal Itinerary Sync

Adds the day-by-day itinerary of a cruise to your calendar (Google Calendar,
Apple Calendar/iCloud via CalDAV, or the GNOME/Evolution calendar) and keeps
it up to date. Every event it creates is tagged with the tour code, e.g.
"Naples, Italy 07:00 - 17:30 [SB123]", so re-running replaces the previous set.

USAGE:
    %s [OPTIONS] --tour-code CODE        Add a tour to the calendar
    %s [OPTIONS] --notification FILE     Sync from a push notification payload
    %s [OPTIONS] --watch                 Re-sync watched tours on a schedule
    %s [OPTIONS] --list                  List the tours synced into the calendar this year

OPTIONS:
    -h, --help                    Show this help message and exit
    -v, --verbose                 Enable verbose output (show DEBUG logs)
    --config FILE                 Path to JSON config file
    --tour-code CODE[,CODE...]    Tour code(s) to add to the calendar
    --booking-number NUMBER       Booking number written into each event
                                  (prompted for when running in a terminal)
    --cabin-number NUMBER         Cabin number written into each event
                                  (prompted for when running in a terminal)
    --cruise-name NAME            Cruise name written into each event
    --notification FILE           Read a notification payload from FILE ("-" for stdin)
    --watch                       Run until interrupted, re-syncing the "watch" list
                                  of the config file on "watch_schedule"
    --list                        List the tours found in this year's calendar events
    --platform NAME               Calendar platform: google, apple or eds
                                  (overrides config file and CRUISECAL_PLATFORM env var)
    --api-base-url URL            CruiseCal API base URL
                                  (overrides config file and CRUISECAL_API_BASE_URL env var)
    --google-credentials-path PATH Path to Google OAuth credentials JSON file
                                  (overrides config file and GOOGLE_CREDENTIALS_PATH env var)
    --token-path PATH             Path to store the Google OAuth token
                                  (overrides config file and CRUISECAL_TOKEN_PATH env var)
    --calendar-name NAME          Preferred calendar; defaults to the primary writable one
    --time-zone ZONE              IANA time zone for itinerary dates
                                  (overrides config file and CRUISECAL_TIME_ZONE env var)
    --batch-size N                Events written per batch, defaults to 3
                                  (overrides config file and CRUISECAL_BATCH_SIZE env var)
    --ask-password                Prompt for the CalDAV app-specific password

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables (CRUISECAL_PLATFORM, CRUISECAL_API_BASE_URL, CRUISECAL_TOKEN_PATH,
       GOOGLE_CREDENTIALS_PATH, CRUISECAL_CALDAV_PASSWORD, CRUISECAL_BATCH_SIZE, CRUISECAL_TIME_ZONE)
    3. Config file (--config)
    4. Defaults

CONFIG FILE:
    {
      "platform": "apple",
      "api_base_url": "https://api.example.com/api",
      "api_timeout_seconds": 10,
      "user_id": "42",
      "server_url": "https://caldav.icloud.com",
      "username": "your-email@icloud.com",
      "calendar_name": "Cruise",
      "batch_size": 3,
      "batch_delay_ms": 300,
      "alarm_minutes_before": 60,
      "time_zone": "Europe/Rome",
      "watch_schedule": "0 */6 * * *",
      "watch": [
        {"tour_code": "SB123", "booking_number": "B1", "cabin_number": "7012"}
      ]
    }

    For Google Calendar set "platform": "google" and "google_credentials_path"
    to the OAuth client JSON downloaded from Google Cloud Console. You'll be
    asked to grant calendar access in the browser on first run.

    For Apple Calendar you need an app-specific password from iCloud.
    Generate one at: https://appleid.apple.com/account/manage

    The "eds" platform talks to Evolution Data Server on the D-Bus session bus
    and needs no further settings.

NOTIFICATION PAYLOAD:
    {"tour_code": "SB123", "cruise_name": "...", "booking_number": "...", "cabin_number": "..."}
    A push message envelope {"data": {...}} is accepted as well. Notification
    syncs never ask for calendar permission; grant it with a manual run first.

EXAMPLES:
    # Add a tour, prompting for booking and cabin numbers
    %s --config /path/to/config.json --tour-code SB123

    # Sync from a notification piped in by another process
    echo '{"tour_code":"SB123"}' | %s --config /path/to/config.json --notification -

    # Keep watched tours up to date
    %s --config /path/to/config.json --watch

    # Show which tours are in the calendar
    %s --config /path/to/config.json --list

`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	// Parse command-line flags
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	verboseFlag := flag.Bool("verbose", false, "Enable verbose output (show DEBUG logs)")
	verboseFlagShort := flag.Bool("v", false, "Enable verbose output (shorthand)")
	configFile := flag.String("config", "", "Path to JSON config file")
	tourCodes := flag.String("tour-code", "", "Tour code(s) to add to the calendar, comma separated")
	bookingNumber := flag.String("booking-number", "", "Booking number written into each event")
	cabinNumber := flag.String("cabin-number", "", "Cabin number written into each event")
	cruiseName := flag.String("cruise-name", "", "Cruise name written into each event")
	notificationFile := flag.String("notification", "", "Read a notification payload from FILE (\"-\" for stdin)")
	watch := flag.Bool("watch", false, "Re-sync watched tours on a schedule")
	list := flag.Bool("list", false, "List the tours synced into the calendar this year")
	platform := flag.String("platform", "", "Calendar platform: google, apple or eds")
	apiBaseURL := flag.String("api-base-url", "", "CruiseCal API base URL")
	googleCredentialsPath := flag.String("google-credentials-path", "", "Path to Google OAuth credentials JSON file")
	tokenPath := flag.String("token-path", "", "Path to store the Google OAuth token")
	calendarName := flag.String("calendar-name", "", "Preferred calendar title")
	timeZone := flag.String("time-zone", "", "IANA time zone for itinerary dates")
	batchSize := flag.Int("batch-size", 0, "Events written per batch")
	askPassword := flag.Bool("ask-password", false, "Prompt for the CalDAV app-specific password")
	flag.Parse()

	verbose := *verboseFlag || *verboseFlagShort

	// Show help if requested
	if *helpFlag || *helpFlagShort {
		printHelp()
		os.Exit(0)
	}

	// Set up logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := isInteractive()

	flags := config.Flags{
		Platform:              *platform,
		APIBaseURL:            *apiBaseURL,
		GoogleCredentialsPath: *googleCredentialsPath,
		TokenPath:             *tokenPath,
		CalendarName:          *calendarName,
		TimeZone:              *timeZone,
		BatchSize:             *batchSize,
	}
	if *askPassword {
		if !interactive {
			log.Fatalf("--ask-password needs a terminal")
		}
		password, err := readPassword("CalDAV app-specific password: ")
		if err != nil {
			log.Fatalf("Failed to read password: %v", err)
		}
		flags.Password = password
	}

	// Load configuration (precedence: flags > env vars > config file > defaults)
	cfg, err := config.LoadConfig(*configFile, flags)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	modes := 0
	for _, set := range []bool{*tourCodes != "", *notificationFile != "", *watch, *list} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		log.Fatalf("Exactly one of --tour-code, --notification, --watch or --list is required. Use --help for more information.")
	}

	platformStore, err := newPlatform(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up %s calendar: %v", cfg.Platform, err)
	}
	defer platformStore.Close()

	api := itinerary.NewClient(cfg.APIBaseURL, cfg.APITimeout())
	reconciler := sync.NewReconciler(platformStore.store, api, platformStore.gate, progress.NewReporter(), sync.Options{
		BatchSize:    cfg.BatchSize,
		BatchDelay:   cfg.BatchDelay(),
		AlarmBefore:  cfg.AlarmBefore(),
		Location:     cfg.Location(),
		CalendarName: cfg.CalendarName,
		Verbose:      verbose,
	})

	switch {
	case *notificationFile != "":
		if err := runNotification(ctx, reconciler, *notificationFile); err != nil {
			log.Fatalf("Notification sync failed: %v", err)
		}

	case *watch:
		if err := runWatch(ctx, cfg, reconciler, verbose); err != nil {
			log.Fatalf("Watch mode failed: %v", err)
		}

	case *list:
		groups, err := reconciler.ListSynced(ctx, interactive)
		if err != nil {
			fmt.Fprintln(os.Stderr, sync.UserMessage(err))
			platformStore.Close()
			os.Exit(1)
		}
		printTourGroups(os.Stdout, groups, cfg.Location())

	default:
		meta := sync.Metadata{
			BookingNumber: *bookingNumber,
			CabinNumber:   *cabinNumber,
			CruiseName:    *cruiseName,
		}
		codes := splitTourCodes(*tourCodes)
		if len(codes) == 0 {
			log.Fatalf("--tour-code must name at least one tour code")
		}
		if interactive {
			meta = promptMetadata(meta)
		}
		if err := runManual(ctx, cfg, api, reconciler, codes, meta); err != nil {
			platformStore.Close()
			os.Exit(1)
		}
	}
}

// runManual adds each tour code in turn and reports the combined result.
func runManual(ctx context.Context, cfg *config.Config, api *itinerary.Client, reconciler *sync.Reconciler, tourCodes []string, meta sync.Metadata) error {
	unsubscribe := reconciler.Reporter().Subscribe(printProgress(os.Stdout))
	defer unsubscribe()

	var syncErrors []error
	for _, tourCode := range tourCodes {
		log.Printf("Adding tour %s to the %s calendar", tourCode, cfg.Platform)

		// Booking info is informational; a failed save never blocks the sync.
		booking := itinerary.Booking{
			TourCode:      tourCode,
			BookingNumber: meta.BookingNumber,
			CabinNumber:   meta.CabinNumber,
			UserID:        cfg.UserID,
		}
		if err := api.SaveBooking(ctx, booking); err != nil {
			log.Printf("Warning: failed to save booking for %s: %v", tourCode, err)
		}

		state, err := reconciler.Reconcile(ctx, tourCode, meta)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", tourCode, sync.UserMessage(err))
			syncErrors = append(syncErrors, fmt.Errorf("%s: %w", tourCode, err))
			continue
		}
		fmt.Printf("[%s] %s\n", tourCode, sync.Summary(state))
	}

	// Report results
	if len(syncErrors) > 0 {
		log.Printf("Sync completed with %d error(s) out of %d tour(s)", len(syncErrors), len(tourCodes))
		for _, err := range syncErrors {
			log.Printf("  - %v", err)
		}
		return errors.Join(syncErrors...)
	}
	return nil
}

func runNotification(ctx context.Context, reconciler *sync.Reconciler, path string) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open notification: %w", err)
		}
		defer f.Close()
		r = f
	}

	notification, err := sync.ParseNotification(r)
	if err != nil {
		return err
	}
	return reconciler.HandleNotification(ctx, notification)
}

func runWatch(ctx context.Context, cfg *config.Config, reconciler *sync.Reconciler, verbose bool) error {
	watches := make([]schedule.Watch, 0, len(cfg.Watch))
	for _, entry := range cfg.Watch {
		watches = append(watches, schedule.Watch{
			TourCode: entry.TourCode,
			Metadata: sync.Metadata{
				BookingNumber: entry.BookingNumber,
				CabinNumber:   entry.CabinNumber,
				CruiseName:    entry.CruiseName,
			},
		})
	}

	scheduler, err := schedule.New(cfg.WatchSchedule, cfg.Location(), reconciler, watches, verbose)
	if err != nil {
		return err
	}

	// Sync once right away so a fresh start doesn't wait for the first tick.
	if err := scheduler.RunOnce(ctx); err != nil {
		log.Printf("Warning: initial sync finished with errors: %v", err)
	}
	log.Printf("Watching %d tour(s) on schedule %q", len(watches), cfg.WatchSchedule)
	return scheduler.Run(ctx)
}

func splitTourCodes(value string) []string {
	var codes []string
	for _, code := range strings.Split(value, ",") {
		if code = strings.TrimSpace(code); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// printProgress renders progress updates on a single terminal line.
func printProgress(w io.Writer) func(string, progress.State) {
	return func(tourCode string, state progress.State) {
		if state.Total == 0 {
			return
		}
		fmt.Fprintf(w, "\rAdding events for %s: %d/%d", tourCode, state.Success+state.Failed, state.Total)
		if state.Failed > 0 {
			fmt.Fprintf(w, " (%d failed)", state.Failed)
		}
		if !state.Processing {
			fmt.Fprintln(w)
		}
	}
}

// printTourGroups lists synced tours with their date range, dates in loc.
func printTourGroups(w io.Writer, groups []sync.TourGroup, loc *time.Location) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No cruise events found.")
		return
	}
	const layout = "02-Jan-2006"
	for i, group := range groups {
		name := group.CruiseName
		if name == "" {
			name = "Cruise"
		}
		fmt.Fprintf(w, "%d. %s\n", i+1, name)
		fmt.Fprintf(w, "   Tour Code: %s\n", group.TourCode)
		fmt.Fprintf(w, "   %s - %s (%d events)\n",
			group.First().In(loc).Format(layout),
			group.Last().In(loc).Format(layout),
			len(group.Events))
	}
}
