// Package config provides YAML-based configuration loading for Perito.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // send_window.timezone must resolve without system zoneinfo

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Perito configuration, loaded from perito.yaml.
type Config struct {
	TestMode   bool             `yaml:"test_mode"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Timing     TimingConfig     `yaml:"timing"`
	SendWindow SendWindowConfig `yaml:"send_window"`
	Claims     ClaimsConfig     `yaml:"claims"`
	Transport  TransportConfig  `yaml:"transport"`
	Staff      StaffConfig      `yaml:"staff"`
	GenAI      GenAIConfig      `yaml:"genai"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// DatabaseConfig selects the SQL database holding conversations and the
// handoff inbox.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql
	Path   string `yaml:"path"`   // sqlite file, ":memory:" allowed
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	User   string `yaml:"user"`
	Pass   string `yaml:"password"`
	Name   string `yaml:"name"`
}

// StorageConfig selects the conversation store backend.
type StorageConfig struct {
	Backend  string `yaml:"backend"` // sql, bolt
	BoltPath string `yaml:"bolt_path"`
}

// TimingConfig holds the sweep tick and every timer the sweep evaluates.
type TimingConfig struct {
	Tick                Duration `yaml:"tick"`
	ReminderInterval    Duration `yaml:"reminder_interval"`
	MaxReminderAttempts int      `yaml:"max_reminder_attempts"`
	InactivityTimeout   Duration `yaml:"inactivity_timeout"`
	ContinuationWindow  Duration `yaml:"continuation_window"`
	SnoozeDuration      Duration `yaml:"snooze_duration"`
	DispatchGrace       Duration `yaml:"dispatch_grace"`
	MaxDispatchFailures int      `yaml:"max_dispatch_failures"`
	DispatchTimeout     Duration `yaml:"dispatch_timeout"`
	ClassifyTimeout     Duration `yaml:"classify_timeout"`
	SweepConcurrency    int      `yaml:"sweep_concurrency"`
}

// SendWindowConfig is the daily window during which prompts may be sent.
type SendWindowConfig struct {
	StartHour int    `yaml:"start_hour"`
	EndHour   int    `yaml:"end_hour"`
	Timezone  string `yaml:"timezone"`
	Days      string `yaml:"days"` // cron day-of-week field, e.g. "1-5"
}

// ClaimsConfig holds the domain cutoffs of the intake script.
type ClaimsConfig struct {
	PresencialClaimTypes    []int   `yaml:"presencial_claim_types"`
	PresencialSeverityBands []int   `yaml:"presencial_severity_bands"`
	AdminOfferThreshold     int     `yaml:"admin_offer_threshold"`
	MinConfidence           float64 `yaml:"min_confidence"`
}

// TransportConfig selects how prompts reach claimants.
type TransportConfig struct {
	Kind       string `yaml:"kind"` // log, twilio
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
}

// StaffConfig configures where human handoff alerts go.
type StaffConfig struct {
	NotifyCommand string `yaml:"notify_command"`
	// DigestSchedule is a 5-field cron expression for the daily summary
	// posted to the chat channels. Empty disables it.
	DigestSchedule string             `yaml:"digest_schedule"`
	Slack          *ChatChannelConfig `yaml:"slack"`
	Discord        *ChatChannelConfig `yaml:"discord"`
}

// ChatChannelConfig is a bot token plus the channel alerts are posted to.
type ChatChannelConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// GenAIConfig configures the optional Gemini classifier and reminder writer.
type GenAIConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// ServerConfig configures the webhook / inspection HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Duration is a time.Duration read from a YAML string such as "90s" or "4h".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func defaultDuration(d *Duration, test, prod time.Duration, testMode bool) {
	if d.Duration > 0 {
		return
	}
	if testMode {
		d.Duration = test
	} else {
		d.Duration = prod
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "perito.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" {
		c.Database.Name = "perito"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "sql"
	}
	if c.Storage.BoltPath == "" {
		c.Storage.BoltPath = "perito.bolt"
	}

	t := &c.Timing
	defaultDuration(&t.Tick, time.Minute, 5*time.Minute, c.TestMode)
	defaultDuration(&t.ReminderInterval, 2*time.Minute, 4*time.Hour, c.TestMode)
	defaultDuration(&t.InactivityTimeout, 5*time.Minute, time.Hour, c.TestMode)
	defaultDuration(&t.ContinuationWindow, 5*time.Minute, 24*time.Hour, c.TestMode)
	defaultDuration(&t.SnoozeDuration, 6*time.Hour, 6*time.Hour, c.TestMode)
	defaultDuration(&t.DispatchGrace, 2*time.Minute, 2*time.Minute, c.TestMode)
	defaultDuration(&t.DispatchTimeout, 15*time.Second, 15*time.Second, c.TestMode)
	defaultDuration(&t.ClassifyTimeout, 5*time.Second, 5*time.Second, c.TestMode)
	if t.MaxReminderAttempts == 0 {
		t.MaxReminderAttempts = 3
	}
	if t.MaxDispatchFailures == 0 {
		t.MaxDispatchFailures = 5
	}
	if t.SweepConcurrency == 0 {
		t.SweepConcurrency = 4
	}

	if c.SendWindow.StartHour == 0 && c.SendWindow.EndHour == 0 {
		c.SendWindow.StartHour = 8
		c.SendWindow.EndHour = 21
	}
	if c.SendWindow.Timezone == "" {
		c.SendWindow.Timezone = "Europe/Madrid"
	}
	if c.SendWindow.Days == "" {
		c.SendWindow.Days = "*"
	}

	if c.Claims.PresencialClaimTypes == nil {
		c.Claims.PresencialClaimTypes = []int{14, 15, 16, 17, 18}
	}
	if c.Claims.PresencialSeverityBands == nil {
		c.Claims.PresencialSeverityBands = []int{3, 4, 5}
	}
	if c.Claims.AdminOfferThreshold == 0 {
		c.Claims.AdminOfferThreshold = 1
	}
	if c.Claims.MinConfidence == 0 {
		c.Claims.MinConfidence = 0.7
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = "log"
	}
	if c.GenAI.Model == "" {
		c.GenAI.Model = "gemini-2.5-flash"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
var digestParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	switch c.Storage.Backend {
	case "sql", "bolt":
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q must be sql or bolt", c.Storage.Backend))
	}
	if c.Timing.MaxReminderAttempts < 1 {
		errs = append(errs, "timing.max_reminder_attempts must be at least 1")
	}
	if c.Timing.MaxDispatchFailures < 1 {
		errs = append(errs, "timing.max_dispatch_failures must be at least 1")
	}
	sw := c.SendWindow
	if sw.StartHour < 0 || sw.StartHour > 23 {
		errs = append(errs, "send_window.start_hour must be between 0 and 23")
	}
	if sw.EndHour < 1 || sw.EndHour > 24 {
		errs = append(errs, "send_window.end_hour must be between 1 and 24")
	}
	if sw.StartHour >= sw.EndHour {
		errs = append(errs, "send_window.start_hour must be before end_hour")
	}
	if _, err := time.LoadLocation(sw.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("send_window.timezone %q: %v", sw.Timezone, err))
	}
	for _, n := range c.Claims.PresencialClaimTypes {
		if n < 1 || n > 18 {
			errs = append(errs, fmt.Sprintf("claims.presencial_claim_types: %d is not a menu entry", n))
		}
	}
	for _, n := range c.Claims.PresencialSeverityBands {
		if n < 1 || n > 5 {
			errs = append(errs, fmt.Sprintf("claims.presencial_severity_bands: %d is not a band", n))
		}
	}
	if c.Claims.MinConfidence < 0 || c.Claims.MinConfidence > 1 {
		errs = append(errs, "claims.min_confidence must be between 0 and 1")
	}
	switch c.Transport.Kind {
	case "log":
	case "twilio":
		if c.Transport.AccountSID == "" || c.Transport.AuthToken == "" || c.Transport.From == "" {
			errs = append(errs, "transport: twilio requires account_sid, auth_token and from")
		}
	default:
		errs = append(errs, fmt.Sprintf("transport.kind %q must be log or twilio", c.Transport.Kind))
	}
	if s := c.Staff.Slack; s != nil && (s.BotToken == "" || s.ChannelID == "") {
		errs = append(errs, "staff.slack requires bot_token and channel_id")
	}
	if d := c.Staff.Discord; d != nil && (d.BotToken == "" || d.ChannelID == "") {
		errs = append(errs, "staff.discord requires bot_token and channel_id")
	}
	if c.Staff.DigestSchedule != "" {
		if _, err := digestParser.Parse(c.Staff.DigestSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("staff.digest_schedule: %v", err))
		}
	}
	if c.GenAI.Enabled && c.GenAI.APIKey == "" {
		errs = append(errs, "genai.api_key is required when genai is enabled")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
