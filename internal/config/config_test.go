package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable LoadConfig reads so tests don't pick up the host's values.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"CRUISECAL_PLATFORM",
		"CRUISECAL_API_BASE_URL",
		"CRUISECAL_TOKEN_PATH",
		"GOOGLE_CREDENTIALS_PATH",
		"CRUISECAL_CALDAV_PASSWORD",
		"CRUISECAL_BATCH_SIZE",
		"CRUISECAL_TIME_ZONE",
	} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRUISECAL_PLATFORM", "google")
	t.Setenv("CRUISECAL_API_BASE_URL", "https://api.example.com")
	t.Setenv("GOOGLE_CREDENTIALS_PATH", "/tmp/credentials.json")
	t.Setenv("CRUISECAL_TOKEN_PATH", "/tmp/token.json")
	t.Setenv("CRUISECAL_BATCH_SIZE", "5")
	t.Setenv("CRUISECAL_TIME_ZONE", "Europe/Rome")

	config, err := LoadConfig("", Flags{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.Platform != PlatformGoogle {
		t.Errorf("Expected Platform to be 'google', got '%s'", config.Platform)
	}
	if config.APIBaseURL != "https://api.example.com" {
		t.Errorf("Expected APIBaseURL to be 'https://api.example.com', got '%s'", config.APIBaseURL)
	}
	if config.TokenPath != "/tmp/token.json" {
		t.Errorf("Expected TokenPath to be '/tmp/token.json', got '%s'", config.TokenPath)
	}
	if config.BatchSize != 5 {
		t.Errorf("Expected BatchSize to be 5, got %d", config.BatchSize)
	}
	if config.Location().String() != "Europe/Rome" {
		t.Errorf("Expected Location to be Europe/Rome, got %s", config.Location())
	}
}

func TestLoadConfig_CommandLineFlags(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRUISECAL_PLATFORM", "eds")
	t.Setenv("CRUISECAL_API_BASE_URL", "https://env.example.com")
	t.Setenv("CRUISECAL_BATCH_SIZE", "5")

	config, err := LoadConfig("", Flags{
		Platform:              "google",
		APIBaseURL:            "https://flag.example.com",
		GoogleCredentialsPath: "/flag/credentials.json",
		TokenPath:             "/flag/token.json",
		CalendarName:          "Cruise",
		BatchSize:             2,
	})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.Platform != PlatformGoogle {
		t.Errorf("Expected Platform to be 'google', got '%s'", config.Platform)
	}
	if config.APIBaseURL != "https://flag.example.com" {
		t.Errorf("Expected APIBaseURL to be 'https://flag.example.com', got '%s'", config.APIBaseURL)
	}
	if config.GoogleCredentialsPath != "/flag/credentials.json" {
		t.Errorf("Expected GoogleCredentialsPath to be '/flag/credentials.json', got '%s'", config.GoogleCredentialsPath)
	}
	if config.CalendarName != "Cruise" {
		t.Errorf("Expected CalendarName to be 'Cruise', got '%s'", config.CalendarName)
	}
	if config.BatchSize != 2 {
		t.Errorf("Expected BatchSize to be 2, got %d", config.BatchSize)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", "/home/tester")

	config, err := LoadConfig("", Flags{
		Platform:              "google",
		APIBaseURL:            "https://api.example.com",
		GoogleCredentialsPath: "/tmp/credentials.json",
	})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.APITimeout() != 10*time.Second {
		t.Errorf("Expected APITimeout to default to 10s, got %v", config.APITimeout())
	}
	if config.BatchSize != DefaultBatchSize {
		t.Errorf("Expected BatchSize to default to %d, got %d", DefaultBatchSize, config.BatchSize)
	}
	if config.BatchDelay() != 300*time.Millisecond {
		t.Errorf("Expected BatchDelay to default to 300ms, got %v", config.BatchDelay())
	}
	if config.AlarmBefore() != time.Hour {
		t.Errorf("Expected AlarmBefore to default to 1h, got %v", config.AlarmBefore())
	}
	if config.WatchSchedule != DefaultWatchSchedule {
		t.Errorf("Expected WatchSchedule to default to %q, got %q", DefaultWatchSchedule, config.WatchSchedule)
	}
	if config.TokenPath != "/home/tester/.config/cruisecal/token.json" {
		t.Errorf("Expected TokenPath to default under HOME, got '%s'", config.TokenPath)
	}
	if config.Location() != time.Local {
		t.Errorf("Expected Location to default to time.Local, got %v", config.Location())
	}
}

func TestLoadConfig_ConfigFile(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, `{
		"platform": "apple",
		"api_base_url": "https://api.example.com",
		"server_url": "https://caldav.icloud.com",
		"username": "user@example.com",
		"password": "file-password",
		"calendar_name": "Cruise",
		"batch_delay_ms": 50,
		"watch_schedule": "*/30 * * * *",
		"watch": [
			{"tour_code": "SB123", "booking_number": "B1", "cabin_number": "7012"}
		]
	}`)

	config, err := LoadConfig(configPath, Flags{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.Platform != PlatformApple {
		t.Errorf("Expected Platform to be 'apple', got '%s'", config.Platform)
	}
	if config.ServerURL != "https://caldav.icloud.com" {
		t.Errorf("Expected ServerURL to be 'https://caldav.icloud.com', got '%s'", config.ServerURL)
	}
	if config.BatchDelay() != 50*time.Millisecond {
		t.Errorf("Expected BatchDelay to be 50ms, got %v", config.BatchDelay())
	}
	if len(config.Watch) != 1 || config.Watch[0].TourCode != "SB123" || config.Watch[0].CabinNumber != "7012" {
		t.Errorf("Unexpected watch entries: %+v", config.Watch)
	}
	if config.WatchSchedule != "*/30 * * * *" {
		t.Errorf("Expected WatchSchedule from file, got %q", config.WatchSchedule)
	}
}

func TestLoadConfig_EnvVarsOverrideConfigFile(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, `{
		"platform": "apple",
		"api_base_url": "https://file.example.com",
		"server_url": "https://caldav.icloud.com",
		"username": "user@example.com",
		"password": "file-password"
	}`)
	t.Setenv("CRUISECAL_API_BASE_URL", "https://env.example.com")
	t.Setenv("CRUISECAL_CALDAV_PASSWORD", "env-password")

	config, err := LoadConfig(configPath, Flags{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.APIBaseURL != "https://env.example.com" {
		t.Errorf("Expected APIBaseURL from env, got '%s'", config.APIBaseURL)
	}
	if config.Password != "env-password" {
		t.Errorf("Expected Password from env, got '%s'", config.Password)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		flags   Flags
		wantErr string
	}{
		{
			name:    "api base url",
			flags:   Flags{Platform: "eds"},
			wantErr: "api_base_url",
		},
		{
			name:    "platform",
			flags:   Flags{APIBaseURL: "https://api.example.com"},
			wantErr: "platform must be provided",
		},
		{
			name:    "unknown platform",
			flags:   Flags{APIBaseURL: "https://api.example.com", Platform: "outlook"},
			wantErr: "platform must be 'google', 'apple' or 'eds'",
		},
		{
			name:    "google credentials",
			flags:   Flags{APIBaseURL: "https://api.example.com", Platform: "google"},
			wantErr: "google_credentials_path",
		},
		{
			name:    "apple password",
			file:    `{"platform": "apple", "api_base_url": "https://api.example.com", "server_url": "https://caldav.icloud.com", "username": "u"}`,
			wantErr: "password",
		},
		{
			name:    "bad schedule",
			file:    `{"platform": "eds", "api_base_url": "https://api.example.com", "watch_schedule": "every day"}`,
			wantErr: "invalid watch_schedule",
		},
		{
			name:    "watch without tour code",
			file:    `{"platform": "eds", "api_base_url": "https://api.example.com", "watch": [{"booking_number": "B1"}]}`,
			wantErr: "watch[0]",
		},
		{
			name:    "bad time zone",
			flags:   Flags{APIBaseURL: "https://api.example.com", Platform: "eds", TimeZone: "Mars/Olympus"},
			wantErr: "invalid time_zone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			configPath := ""
			if tt.file != "" {
				configPath = writeConfig(t, tt.file)
			}
			_, err := LoadConfig(configPath, tt.flags)
			if err == nil {
				t.Fatal("Expected an error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig_InvalidBatchSizeEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRUISECAL_BATCH_SIZE", "three")
	if _, err := LoadConfig("", Flags{Platform: "eds", APIBaseURL: "https://api.example.com"}); err == nil {
		t.Error("Expected an error for a non-numeric CRUISECAL_BATCH_SIZE")
	}
}

func TestLoadGoogleCredentials_Installed(t *testing.T) {
	credPath := filepath.Join(t.TempDir(), "credentials.json")
	credJSON := `{"installed": {"client_id": "installed-id", "client_secret": "installed-secret"}}`
	if err := os.WriteFile(credPath, []byte(credJSON), 0644); err != nil {
		t.Fatalf("Failed to write credentials file: %v", err)
	}

	clientID, clientSecret, err := LoadGoogleCredentials(credPath)
	if err != nil {
		t.Fatalf("LoadGoogleCredentials() returned an error: %v", err)
	}
	if clientID != "installed-id" || clientSecret != "installed-secret" {
		t.Errorf("Unexpected credentials: %s / %s", clientID, clientSecret)
	}
}

func TestLoadGoogleCredentials_Web(t *testing.T) {
	credPath := filepath.Join(t.TempDir(), "credentials.json")
	credJSON := `{"web": {"client_id": "web-id", "client_secret": "web-secret"}}`
	if err := os.WriteFile(credPath, []byte(credJSON), 0644); err != nil {
		t.Fatalf("Failed to write credentials file: %v", err)
	}

	clientID, clientSecret, err := LoadGoogleCredentials(credPath)
	if err != nil {
		t.Fatalf("LoadGoogleCredentials() returned an error: %v", err)
	}
	if clientID != "web-id" || clientSecret != "web-secret" {
		t.Errorf("Unexpected credentials: %s / %s", clientID, clientSecret)
	}
}

func TestLoadGoogleCredentials_Empty(t *testing.T) {
	credPath := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(credPath, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write credentials file: %v", err)
	}
	if _, _, err := LoadGoogleCredentials(credPath); err == nil {
		t.Error("Expected an error for credentials without a client_id")
	}
}
