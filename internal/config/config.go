// Package config provides configuration loading and management for rmcr.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ramboxcrty/GameRMCR/internal/model"
	"github.com/ramboxcrty/GameRMCR/internal/throttle"
)

// Config represents the complete application configuration.
type Config struct {
	Overlay    OverlayConfig    `yaml:"overlay"`
	Frames     FramesConfig     `yaml:"frames"`
	Throttle   ThrottleConfig   `yaml:"throttle"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Detection  DetectionConfig  `yaml:"detection"`
	Blacklist  BlacklistConfig  `yaml:"blacklist"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// OverlayConfig holds the initial overlay appearance.
// Pointer fields distinguish "unset" from an explicit zero or false.
type OverlayConfig struct {
	Visible    *bool      `yaml:"visible"`
	FontFamily string     `yaml:"font_family"`
	FontSize   int        `yaml:"font_size"`
	Color      string     `yaml:"color"`
	Opacity    *float64   `yaml:"opacity"`
	Position   string     `yaml:"position"`
	OffsetX    *int       `yaml:"offset_x"`
	OffsetY    *int       `yaml:"offset_y"`
	Show       ShowConfig `yaml:"show"`
}

// ShowConfig toggles individual overlay lines.
type ShowConfig struct {
	FPS   *bool `yaml:"fps"`
	CPU   *bool `yaml:"cpu"`
	GPU   *bool `yaml:"gpu"`
	RAM   *bool `yaml:"ram"`
	Temps *bool `yaml:"temps"`
}

// IsVisible reports the initial overlay visibility.
func (o *OverlayConfig) IsVisible() bool {
	return o.Visible == nil || *o.Visible
}

// ToModel converts the section into the runtime overlay configuration.
func (o *OverlayConfig) ToModel() (model.OverlayConfig, error) {
	out := model.DefaultOverlayConfig()
	if o.FontFamily != "" {
		out.FontFamily = o.FontFamily
	}
	if o.FontSize > 0 {
		out.FontSize = o.FontSize
	}
	if o.Color != "" {
		c, err := model.ParseHexColor(o.Color)
		if err != nil {
			return out, err
		}
		out.Color = c
	}
	if o.Opacity != nil {
		out.Opacity = model.ClampOpacity(*o.Opacity)
	}
	if o.Position != "" {
		out.Anchor = model.Anchor(o.Position)
	}
	if o.OffsetX != nil {
		out.OffsetX = *o.OffsetX
	}
	if o.OffsetY != nil {
		out.OffsetY = *o.OffsetY
	}
	setFlag(&out.ShowFPS, o.Show.FPS)
	setFlag(&out.ShowCPU, o.Show.CPU)
	setFlag(&out.ShowGPU, o.Show.GPU)
	setFlag(&out.ShowRAM, o.Show.RAM)
	setFlag(&out.ShowTemps, o.Show.Temps)
	return out, nil
}

func setFlag(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// FramesConfig sizes the rolling frame window.
type FramesConfig struct {
	WindowSize int `yaml:"window_size"`
}

// ThrottleConfig tunes the adaptive overlay cadence.
type ThrottleConfig struct {
	DegradeRatio    float64 `yaml:"degrade_ratio"`
	RecoverRatio    float64 `yaml:"recover_ratio"`
	DegradeWindow   int     `yaml:"degrade_window"`
	RecoverWindow   int     `yaml:"recover_window"`
	MaxDivisor      int     `yaml:"max_divisor"`
	BaselineSamples int     `yaml:"baseline_samples"`
}

// ToThrottle converts the section into throttle settings.
func (t *ThrottleConfig) ToThrottle() throttle.Config {
	return throttle.Config{
		DegradeRatio:    t.DegradeRatio,
		RecoverRatio:    t.RecoverRatio,
		DegradeWindow:   t.DegradeWindow,
		RecoverWindow:   t.RecoverWindow,
		MaxDivisor:      t.MaxDivisor,
		BaselineSamples: t.BaselineSamples,
	}
}

// SupervisorConfig defines the attach retry policy.
type SupervisorConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Backoff     []string `yaml:"backoff"`
	CrashWindow string   `yaml:"crash_window"`
}

// BackoffParsed returns the parsed backoff schedule.
func (s *SupervisorConfig) BackoffParsed() ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(s.Backoff))
	for _, v := range s.Backoff {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// CrashWindowParsed returns the parsed crash window.
func (s *SupervisorConfig) CrashWindowParsed() (time.Duration, error) {
	return time.ParseDuration(s.CrashWindow)
}

// MonitorConfig selects the hardware metrics source.
type MonitorConfig struct {
	Source       string `yaml:"source"`
	PollInterval string `yaml:"poll_interval"`
}

// PollIntervalParsed returns the parsed poll interval.
func (m *MonitorConfig) PollIntervalParsed() (time.Duration, error) {
	return time.ParseDuration(m.PollInterval)
}

// DetectionConfig controls game process detection.
type DetectionConfig struct {
	Enabled     bool     `yaml:"enabled"`
	AutoAttach  bool     `yaml:"auto_attach"`
	CustomGames []string `yaml:"custom_games"`
	IgnoreGames []string `yaml:"ignore_games"`
}

// BlacklistConfig selects where the blacklist is persisted.
type BlacklistConfig struct {
	Store    string         `yaml:"store"`
	Path     string         `yaml:"path"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ScheduleConfig defines when background jobs run (6-field cron with seconds).
type ScheduleConfig struct {
	DetectCron string `yaml:"detect_cron"`
	ReportCron string `yaml:"report_cron"`
	Timezone   string `yaml:"timezone"`
}

// Location returns the time zone cron expressions are evaluated in.
func (s *ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// NotifierConfig holds notification channel settings.
type NotifierConfig struct {
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Retries    int    `yaml:"retries"`
	RetryDelay string `yaml:"retry_delay"`
}

// RetryDelayParsed returns the parsed retry delay duration.
func (n *NotifierConfig) RetryDelayParsed() (time.Duration, error) {
	return time.ParseDuration(n.RetryDelay)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Port           int    `yaml:"port"`
	DeepCheck      bool   `yaml:"deep_check"`
	StreamInterval string `yaml:"stream_interval"`
}

// StreamIntervalParsed returns the parsed websocket push interval.
func (s *ServerConfig) StreamIntervalParsed() (time.Duration, error) {
	return time.ParseDuration(s.StreamInterval)
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse expands environment variables in data and decodes it.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvVars expands ${VAR} and ${VAR:-default} patterns in the input string.
func expandEnvVars(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) > 2 {
			defaultVal = parts[2]
		}

		if val, exists := os.LookupEnv(varName); exists {
			return val
		}
		return defaultVal
	})
}

// applyDefaults sets default values for any unset configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Frames.WindowSize == 0 {
		cfg.Frames.WindowSize = 1000
	}

	// Throttle zero values are filled in by throttle.Config itself.

	if cfg.Supervisor.MaxAttempts == 0 {
		cfg.Supervisor.MaxAttempts = 3
	}
	if len(cfg.Supervisor.Backoff) == 0 {
		cfg.Supervisor.Backoff = []string{"1s", "2s", "4s"}
	}
	if cfg.Supervisor.CrashWindow == "" {
		cfg.Supervisor.CrashWindow = "5s"
	}

	if cfg.Monitor.Source == "" {
		cfg.Monitor.Source = "system"
	}
	if cfg.Monitor.PollInterval == "" {
		cfg.Monitor.PollInterval = "500ms"
	}

	if cfg.Blacklist.Store == "" {
		cfg.Blacklist.Store = "file"
	}
	if cfg.Blacklist.Path == "" {
		cfg.Blacklist.Path = "config/blacklist.yaml"
	}
	if cfg.Blacklist.Database.Host == "" {
		cfg.Blacklist.Database.Host = "127.0.0.1"
	}
	if cfg.Blacklist.Database.Port == 0 {
		cfg.Blacklist.Database.Port = 5432
	}
	if cfg.Blacklist.Database.User == "" {
		cfg.Blacklist.Database.User = "rmcr"
	}
	if cfg.Blacklist.Database.DBName == "" {
		cfg.Blacklist.Database.DBName = "rmcr"
	}
	if cfg.Blacklist.Database.SSLMode == "" {
		cfg.Blacklist.Database.SSLMode = "disable"
	}

	if cfg.Schedule.DetectCron == "" {
		cfg.Schedule.DetectCron = "*/5 * * * * *" // every 5 seconds
	}
	if cfg.Schedule.ReportCron == "" {
		cfg.Schedule.ReportCron = "0 */10 * * * *" // every 10 minutes
	}

	if cfg.Notifier.Type == "" {
		cfg.Notifier.Type = "console"
	}
	if cfg.Notifier.Retries == 0 {
		cfg.Notifier.Retries = 3
	}
	if cfg.Notifier.RetryDelay == "" {
		cfg.Notifier.RetryDelay = "1s"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.StreamInterval == "" {
		cfg.Server.StreamInterval = "500ms"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if _, err := c.Overlay.ToModel(); err != nil {
		errs = append(errs, fmt.Sprintf("overlay.color is invalid: %v", err))
	}
	if c.Overlay.Position != "" && !model.ValidAnchor(model.Anchor(c.Overlay.Position)) {
		errs = append(errs, "overlay.position must be one of: top-left, top-right, bottom-left, bottom-right, center")
	}
	if c.Overlay.FontSize != 0 && (c.Overlay.FontSize < model.MinFontSize || c.Overlay.FontSize > model.MaxFontSize) {
		errs = append(errs, fmt.Sprintf("overlay.font_size must be between %d and %d", model.MinFontSize, model.MaxFontSize))
	}
	if c.Overlay.Opacity != nil && (*c.Overlay.Opacity < 0 || *c.Overlay.Opacity > 1) {
		errs = append(errs, "overlay.opacity must be between 0.0 and 1.0")
	}

	if c.Frames.WindowSize < 100 {
		errs = append(errs, "frames.window_size must be at least 100")
	}

	if c.Throttle.DegradeRatio < 0 || c.Throttle.DegradeRatio >= 1 {
		errs = append(errs, "throttle.degrade_ratio must be in [0, 1)")
	}
	if c.Throttle.RecoverRatio != 0 && c.Throttle.RecoverRatio <= c.Throttle.DegradeRatio {
		errs = append(errs, "throttle.recover_ratio must be greater than throttle.degrade_ratio")
	}

	if c.Supervisor.MaxAttempts < 1 {
		errs = append(errs, "supervisor.max_attempts must be at least 1")
	}
	if _, err := c.Supervisor.BackoffParsed(); err != nil {
		errs = append(errs, fmt.Sprintf("supervisor.backoff is invalid: %v", err))
	}
	if _, err := c.Supervisor.CrashWindowParsed(); err != nil {
		errs = append(errs, fmt.Sprintf("supervisor.crash_window is invalid: %v", err))
	}

	validSources := map[string]bool{"system": true, "estimated": true}
	if !validSources[c.Monitor.Source] {
		errs = append(errs, "monitor.source must be one of: system, estimated")
	}
	if _, err := c.Monitor.PollIntervalParsed(); err != nil {
		errs = append(errs, fmt.Sprintf("monitor.poll_interval is invalid: %v", err))
	}

	validStores := map[string]bool{"file": true, "postgres": true, "memory": true}
	if !validStores[c.Blacklist.Store] {
		errs = append(errs, "blacklist.store must be one of: file, postgres, memory")
	}
	if c.Blacklist.Store == "file" && c.Blacklist.Path == "" {
		errs = append(errs, "blacklist.path is required when store is 'file'")
	}

	if _, err := c.Schedule.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("schedule.timezone is invalid: %v", err))
	}

	validNotifierTypes := map[string]bool{"webhook": true, "console": true}
	if !validNotifierTypes[c.Notifier.Type] {
		errs = append(errs, "notifier.type must be one of: webhook, console")
	}
	if c.Notifier.Type == "webhook" && c.Notifier.WebhookURL == "" {
		errs = append(errs, "notifier.webhook_url is required when type is 'webhook'")
	}
	if _, err := c.Notifier.RetryDelayParsed(); err != nil {
		errs = append(errs, fmt.Sprintf("notifier.retry_delay is invalid: %v", err))
	}

	if _, err := c.Server.StreamIntervalParsed(); err != nil {
		errs = append(errs, fmt.Sprintf("server.stream_interval is invalid: %v", err))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
