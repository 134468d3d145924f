package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "no variables",
			input:    "hello world",
			envVars:  nil,
			expected: "hello world",
		},
		{
			name:     "simple variable",
			input:    "host: ${MY_HOST}",
			envVars:  map[string]string{"MY_HOST": "localhost"},
			expected: "host: localhost",
		},
		{
			name:     "variable with default - env set",
			input:    "port: ${MY_PORT:-5432}",
			envVars:  map[string]string{"MY_PORT": "3306"},
			expected: "port: 3306",
		},
		{
			name:     "variable with default - env not set",
			input:    "port: ${MY_PORT:-5432}",
			envVars:  nil,
			expected: "port: 5432",
		},
		{
			name:     "variable without default - env not set",
			input:    "password: ${MY_PASSWORD}",
			envVars:  nil,
			expected: "password: ",
		},
		{
			name:     "multiple variables",
			input:    "host: ${HOST:-localhost}, port: ${PORT:-5432}",
			envVars:  map[string]string{"HOST": "db.example.com"},
			expected: "host: db.example.com, port: 5432",
		},
		{
			name:     "empty default value",
			input:    "value: ${EMPTY:-}",
			envVars:  nil,
			expected: "value: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear and set env vars
			for k := range tt.envVars {
				os.Unsetenv(k)
			}
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	// Check frame and supervisor defaults
	if cfg.Frames.WindowSize != 1000 {
		t.Errorf("Frames.WindowSize = %d, want %d", cfg.Frames.WindowSize, 1000)
	}
	if cfg.Supervisor.MaxAttempts != 3 {
		t.Errorf("Supervisor.MaxAttempts = %d, want %d", cfg.Supervisor.MaxAttempts, 3)
	}
	if strings.Join(cfg.Supervisor.Backoff, ",") != "1s,2s,4s" {
		t.Errorf("Supervisor.Backoff = %v, want %v", cfg.Supervisor.Backoff, []string{"1s", "2s", "4s"})
	}
	if cfg.Supervisor.CrashWindow != "5s" {
		t.Errorf("Supervisor.CrashWindow = %q, want %q", cfg.Supervisor.CrashWindow, "5s")
	}

	// Check monitor defaults
	if cfg.Monitor.Source != "system" {
		t.Errorf("Monitor.Source = %q, want %q", cfg.Monitor.Source, "system")
	}
	if cfg.Monitor.PollInterval != "500ms" {
		t.Errorf("Monitor.PollInterval = %q, want %q", cfg.Monitor.PollInterval, "500ms")
	}

	// Check blacklist defaults
	if cfg.Blacklist.Store != "file" {
		t.Errorf("Blacklist.Store = %q, want %q", cfg.Blacklist.Store, "file")
	}
	if cfg.Blacklist.Path != "config/blacklist.yaml" {
		t.Errorf("Blacklist.Path = %q, want %q", cfg.Blacklist.Path, "config/blacklist.yaml")
	}
	if cfg.Blacklist.Database.Port != 5432 {
		t.Errorf("Blacklist.Database.Port = %d, want %d", cfg.Blacklist.Database.Port, 5432)
	}

	// Check schedule defaults
	if cfg.Schedule.DetectCron != "*/5 * * * * *" {
		t.Errorf("Schedule.DetectCron = %q, want %q", cfg.Schedule.DetectCron, "*/5 * * * * *")
	}

	// Check notifier defaults
	if cfg.Notifier.Type != "console" {
		t.Errorf("Notifier.Type = %q, want %q", cfg.Notifier.Type, "console")
	}
	if cfg.Notifier.Retries != 3 {
		t.Errorf("Notifier.Retries = %d, want %d", cfg.Notifier.Retries, 3)
	}

	// Check server defaults
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	bad := 1.5
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "webhook notifier with URL",
			mutate: func(c *Config) {
				c.Notifier.Type = "webhook"
				c.Notifier.WebhookURL = "https://example.com/hook"
			},
			wantErr: false,
		},
		{
			name:    "webhook without URL",
			mutate:  func(c *Config) { c.Notifier.Type = "webhook" },
			wantErr: true,
		},
		{
			name:    "invalid notifier type",
			mutate:  func(c *Config) { c.Notifier.Type = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid overlay colour",
			mutate:  func(c *Config) { c.Overlay.Color = "#GG0000" },
			wantErr: true,
		},
		{
			name:    "invalid overlay position",
			mutate:  func(c *Config) { c.Overlay.Position = "middle" },
			wantErr: true,
		},
		{
			name:    "opacity out of range",
			mutate:  func(c *Config) { c.Overlay.Opacity = &bad },
			wantErr: true,
		},
		{
			name:    "font size too large",
			mutate:  func(c *Config) { c.Overlay.FontSize = 2600 },
			wantErr: true,
		},
		{
			name:    "font size too small",
			mutate:  func(c *Config) { c.Overlay.FontSize = 2 },
			wantErr: true,
		},
		{
			name:    "font size at limit",
			mutate:  func(c *Config) { c.Overlay.FontSize = 72 },
			wantErr: false,
		},
		{
			name:    "window too small",
			mutate:  func(c *Config) { c.Frames.WindowSize = 10 },
			wantErr: true,
		},
		{
			name: "recover ratio below degrade ratio",
			mutate: func(c *Config) {
				c.Throttle.DegradeRatio = 0.9
				c.Throttle.RecoverRatio = 0.8
			},
			wantErr: true,
		},
		{
			name:    "invalid backoff",
			mutate:  func(c *Config) { c.Supervisor.Backoff = []string{"1s", "soon"} },
			wantErr: true,
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Supervisor.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "unknown monitor source",
			mutate:  func(c *Config) { c.Monitor.Source = "nvml" },
			wantErr: true,
		},
		{
			name:    "unknown blacklist store",
			mutate:  func(c *Config) { c.Blacklist.Store = "redis" },
			wantErr: true,
		},
		{
			name:    "invalid timezone",
			mutate:  func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_AggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Notifier.Type = "pager"
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "configuration errors:") {
		t.Errorf("error %q should start with the aggregate header", msg)
	}
	if strings.Count(msg, "\n  - ") != 2 {
		t.Errorf("expected two error lines in: %s", msg)
	}
}

func TestParse(t *testing.T) {
	os.Setenv("RMCR_TEST_COLOR", "#FF0000")
	defer os.Unsetenv("RMCR_TEST_COLOR")

	data := []byte(`
overlay:
  visible: false
  color: "${RMCR_TEST_COLOR}"
  opacity: 0
  position: bottom-right
  offset_x: 0
  show:
    temps: false
supervisor:
  backoff: ["500ms", "1s"]
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Overlay.IsVisible() {
		t.Error("Overlay.IsVisible() = true, want false")
	}

	ov, err := cfg.Overlay.ToModel()
	if err != nil {
		t.Fatalf("ToModel() error = %v", err)
	}
	if ov.Color != (model.RGBA{R: 1, G: 0, B: 0, A: 1}) {
		t.Errorf("Color = %+v, want red", ov.Color)
	}
	if ov.Opacity != 0 {
		t.Errorf("Opacity = %v, want explicit 0", ov.Opacity)
	}
	if ov.Anchor != model.AnchorBottomRight {
		t.Errorf("Anchor = %q, want %q", ov.Anchor, model.AnchorBottomRight)
	}
	if ov.OffsetX != 0 || ov.OffsetY != 10 {
		t.Errorf("Offset = (%d,%d), want (0,10)", ov.OffsetX, ov.OffsetY)
	}
	if ov.ShowTemps || !ov.ShowFPS {
		t.Errorf("ShowTemps = %v ShowFPS = %v, want false/true", ov.ShowTemps, ov.ShowFPS)
	}

	backoff, err := cfg.Supervisor.BackoffParsed()
	if err != nil {
		t.Fatalf("BackoffParsed() error = %v", err)
	}
	if len(backoff) != 2 || backoff[0] != 500*time.Millisecond {
		t.Errorf("BackoffParsed() = %v, want [500ms 1s]", backoff)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("does/not/exist.yaml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestThrottleConfig_ToThrottle(t *testing.T) {
	tc := ThrottleConfig{DegradeRatio: 0.8, MaxDivisor: 4}
	got := tc.ToThrottle()
	if got.DegradeRatio != 0.8 || got.MaxDivisor != 4 {
		t.Errorf("ToThrottle() = %+v", got)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	if dsn := cfg.DSN(); dsn != expected {
		t.Errorf("DSN() = %q, want %q", dsn, expected)
	}
}
