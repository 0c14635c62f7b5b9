package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Supported calendar platforms.
const (
	PlatformGoogle = "google"
	PlatformApple  = "apple"
	PlatformEDS    = "eds"
)

// Defaults applied when a value is not configured.
const (
	DefaultAPITimeoutSeconds  = 10
	DefaultBatchSize          = 3
	DefaultBatchDelayMS       = 300
	DefaultAlarmMinutesBefore = 60
	DefaultWatchSchedule      = "0 */6 * * *"
	DefaultTokenPath          = "~/.config/cruisecal/token.json"
)

// GoogleCredentials represents the structure of Google OAuth credentials JSON file.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials loads Google OAuth credentials from a JSON file.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	// Try "installed" first (for desktop apps), then "web"
	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}

	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'installed' or 'web' section)")
}

// WatchEntry is a booking re-synced by watch mode.
type WatchEntry struct {
	TourCode      string `json:"tour_code"`
	BookingNumber string `json:"booking_number,omitempty"`
	CabinNumber   string `json:"cabin_number,omitempty"`
	CruiseName    string `json:"cruise_name,omitempty"`
}

// Config holds the configuration for the itinerary sync tool.
type Config struct {
	Platform string `json:"platform"` // "google", "apple" or "eds"

	// CruiseCal API
	APIBaseURL        string `json:"api_base_url"`
	APITimeoutSeconds int    `json:"api_timeout_seconds,omitempty"`
	UserID            string `json:"user_id,omitempty"`

	// Google Calendar specific fields
	GoogleCredentialsPath string `json:"google_credentials_path,omitempty"`
	TokenPath             string `json:"token_path,omitempty"`

	// Apple Calendar (CalDAV) specific fields
	ServerURL    string `json:"server_url,omitempty"`    // CalDAV server URL (e.g., "https://caldav.icloud.com")
	Username     string `json:"username,omitempty"`      // iCloud email
	Password     string `json:"password,omitempty"`      // App-specific password
	CalendarHome string `json:"calendar_home,omitempty"` // Defaults to /<username>/calendars/

	// Reconciliation
	CalendarName       string `json:"calendar_name,omitempty"` // Preferred calendar title; empty picks the primary one
	BatchSize          int    `json:"batch_size,omitempty"`
	BatchDelayMS       int    `json:"batch_delay_ms,omitempty"`
	AlarmMinutesBefore int    `json:"alarm_minutes_before,omitempty"`
	TimeZone           string `json:"time_zone,omitempty"`

	// Watch mode
	WatchSchedule string       `json:"watch_schedule,omitempty"`
	Watch         []WatchEntry `json:"watch,omitempty"`
}

// Flags carries the command-line overrides. Zero values mean "not set".
type Flags struct {
	Platform              string
	APIBaseURL            string
	GoogleCredentialsPath string
	TokenPath             string
	CalendarName          string
	TimeZone              string
	BatchSize             int
	Password              string // CalDAV password read from the terminal
}

// APITimeout returns the configured API timeout.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutSeconds) * time.Second
}

// BatchDelay returns the pause between event batches.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

// AlarmBefore returns how long before an event its alarm fires.
func (c *Config) AlarmBefore() time.Duration {
	return time.Duration(c.AlarmMinutesBefore) * time.Minute
}

// Location resolves the configured time zone.
func (c *Config) Location() *time.Location {
	if c.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// LoadConfigFromFile loads configuration from a JSON file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if any required value is missing.
func LoadConfig(configFile string, flags Flags) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	if platform := os.Getenv("CRUISECAL_PLATFORM"); platform != "" {
		config.Platform = platform
	}
	if apiBaseURL := os.Getenv("CRUISECAL_API_BASE_URL"); apiBaseURL != "" {
		config.APIBaseURL = apiBaseURL
	}
	if tokenPath := os.Getenv("CRUISECAL_TOKEN_PATH"); tokenPath != "" {
		config.TokenPath = tokenPath
	}
	if googleCredentialsPath := os.Getenv("GOOGLE_CREDENTIALS_PATH"); googleCredentialsPath != "" {
		config.GoogleCredentialsPath = googleCredentialsPath
	}
	// Keeps the app-specific password out of the config file
	if password := os.Getenv("CRUISECAL_CALDAV_PASSWORD"); password != "" {
		config.Password = password
	}
	if timeZone := os.Getenv("CRUISECAL_TIME_ZONE"); timeZone != "" {
		config.TimeZone = timeZone
	}
	if batchSize := os.Getenv("CRUISECAL_BATCH_SIZE"); batchSize != "" {
		var err error
		if config.BatchSize, err = strconv.Atoi(batchSize); err != nil {
			return nil, fmt.Errorf("invalid CRUISECAL_BATCH_SIZE value: %w", err)
		}
	}

	// Step 3: Override with command-line flags (highest priority)
	if flags.Platform != "" {
		config.Platform = flags.Platform
	}
	if flags.APIBaseURL != "" {
		config.APIBaseURL = flags.APIBaseURL
	}
	if flags.GoogleCredentialsPath != "" {
		config.GoogleCredentialsPath = flags.GoogleCredentialsPath
	}
	if flags.TokenPath != "" {
		config.TokenPath = flags.TokenPath
	}
	if flags.CalendarName != "" {
		config.CalendarName = flags.CalendarName
	}
	if flags.TimeZone != "" {
		config.TimeZone = flags.TimeZone
	}
	if flags.BatchSize != 0 {
		config.BatchSize = flags.BatchSize
	}
	if flags.Password != "" {
		config.Password = flags.Password
	}

	// Step 4: Apply defaults and validate required fields
	if config.APIBaseURL == "" {
		return nil, fmt.Errorf("api_base_url must be provided via --api-base-url flag, CRUISECAL_API_BASE_URL environment variable, or config file")
	}

	config.Platform = strings.ToLower(strings.TrimSpace(config.Platform))
	switch config.Platform {
	case PlatformGoogle:
		if config.GoogleCredentialsPath == "" {
			return nil, fmt.Errorf("google_credentials_path must be provided for the google platform via --google-credentials-path flag, GOOGLE_CREDENTIALS_PATH environment variable, or config file")
		}
		if config.TokenPath == "" {
			config.TokenPath = DefaultTokenPath
		}
		config.TokenPath = ExpandHome(config.TokenPath)
	case PlatformApple:
		if config.ServerURL == "" {
			return nil, fmt.Errorf("server_url must be provided for the apple platform")
		}
		if config.Username == "" {
			return nil, fmt.Errorf("username must be provided for the apple platform")
		}
		if config.Password == "" {
			return nil, fmt.Errorf("password must be provided for the apple platform via --ask-password flag, CRUISECAL_CALDAV_PASSWORD environment variable, or config file")
		}
	case PlatformEDS:
		// Session bus only; nothing to configure.
	case "":
		return nil, fmt.Errorf("platform must be provided via --platform flag, CRUISECAL_PLATFORM environment variable, or config file")
	default:
		return nil, fmt.Errorf("platform must be 'google', 'apple' or 'eds', got '%s'", config.Platform)
	}

	if config.APITimeoutSeconds == 0 {
		config.APITimeoutSeconds = DefaultAPITimeoutSeconds
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchSize < 0 {
		return nil, fmt.Errorf("batch_size must be positive, got %d", config.BatchSize)
	}
	if config.BatchDelayMS == 0 {
		config.BatchDelayMS = DefaultBatchDelayMS
	}
	if config.AlarmMinutesBefore == 0 {
		config.AlarmMinutesBefore = DefaultAlarmMinutesBefore
	}
	if config.TimeZone != "" {
		if _, err := time.LoadLocation(config.TimeZone); err != nil {
			return nil, fmt.Errorf("invalid time_zone %q: %w", config.TimeZone, err)
		}
	}

	if config.WatchSchedule == "" {
		config.WatchSchedule = DefaultWatchSchedule
	}
	if _, err := cron.ParseStandard(config.WatchSchedule); err != nil {
		return nil, fmt.Errorf("invalid watch_schedule %q: %w", config.WatchSchedule, err)
	}
	for i := range config.Watch {
		if strings.TrimSpace(config.Watch[i].TourCode) == "" {
			return nil, fmt.Errorf("watch[%d]: tour_code must be provided", i)
		}
	}

	return &config, nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
