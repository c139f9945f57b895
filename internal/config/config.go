package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	RemoteGoogle = "google"
	RemoteICS    = "ics"

	// LocalTimezone defers to the remote calendar's zone, or the host's.
	LocalTimezone = "Local"
)

// SourceConfig describes the calendar web UI events are scraped from.
type SourceConfig struct {
	// URL is the calendar base URL; View is appended to it.
	URL  string `yaml:"url" json:"url"`
	View string `yaml:"view" json:"view"`

	// UserDataDir is the persistent browser profile, so a login survives
	// between runs.
	UserDataDir string `yaml:"user_data_dir" json:"user_data_dir"`
	Headless    bool   `yaml:"headless" json:"headless"`

	// LoginTimeout is how long to wait for events to appear, e.g. "2m".
	LoginTimeout string `yaml:"login_timeout" json:"login_timeout"`

	// Details opens each event to read its description and attendees.
	Details bool `yaml:"details" json:"details"`

	EventSelector    string `yaml:"event_selector,omitempty" json:"event_selector,omitempty"`
	ButtonSelector   string `yaml:"button_selector,omitempty" json:"button_selector,omitempty"`
	BodySelector     string `yaml:"body_selector,omitempty" json:"body_selector,omitempty"`
	AttendeeSelector string `yaml:"attendee_selector,omitempty" json:"attendee_selector,omitempty"`
	CloseSelector    string `yaml:"close_selector,omitempty" json:"close_selector,omitempty"`
}

// PolicyConfig holds the reconciliation rules.
type PolicyConfig struct {
	// Ignore lists title substrings that are never synced.
	Ignore []string `yaml:"ignore" json:"ignore"`
	// Self is the user's identifier (email). Events the user already
	// attends in the source calendar are skipped. Empty disables the rule.
	Self string `yaml:"self" json:"self"`
	// CancellationPrefixes mark a title as cancelled, checked in order.
	CancellationPrefixes []string `yaml:"cancellation_prefixes" json:"cancellation_prefixes"`
}

// GoogleConfig configures the Google Calendar remote.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	TokenFile       string `yaml:"token_file" json:"token_file"`
	CalendarID      string `yaml:"calendar_id" json:"calendar_id"`
	// SendUpdates is "all", "externalOnly" or "none".
	SendUpdates string `yaml:"send_updates" json:"send_updates"`
	// Attendee is invited to every synced event. Defaults to policy.self.
	Attendee string `yaml:"attendee" json:"attendee"`
}

// ICSConfig configures the ICS file remote.
type ICSConfig struct {
	// Path is a local file, or an http(s) URL for a read-only feed.
	Path     string `yaml:"path" json:"path"`
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// RemoteConfig selects and configures the destination calendar.
type RemoteConfig struct {
	Kind   string       `yaml:"kind" json:"kind"`
	Google GoogleConfig `yaml:"google" json:"google"`
	ICS    ICSConfig    `yaml:"ics" json:"ics"`
}

// JournalConfig configures the run history database.
type JournalConfig struct {
	// Path is the SQLite file. Empty disables the journal.
	Path string `yaml:"path" json:"path"`
	// Keep is how many runs are retained. Zero keeps everything.
	Keep int `yaml:"keep" json:"keep"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone scraped wall-clock times are in.
	// "Local" uses the Google calendar's own zone, or the host's for ICS.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for periodic sync passes.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info or error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Source  SourceConfig  `yaml:"source" json:"source"`
	Policy  PolicyConfig  `yaml:"policy" json:"policy"`
	Remote  RemoteConfig  `yaml:"remote" json:"remote"`
	Journal JournalConfig `yaml:"journal" json:"journal"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultCancellationPrefixes are the title prefixes Outlook puts on
// withdrawn meetings.
func DefaultCancellationPrefixes() []string {
	return []string{"Canceled: ", "Cancelled: ", "Annulé : ", "Annulé: "}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Remote: RemoteConfig{Kind: RemoteGoogle},
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = LocalTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/30 * * * *"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	s := &c.Source
	if s.URL == "" {
		s.URL = "https://outlook.office.com/calendar/view/"
	}
	switch s.View {
	case "day", "workweek", "week", "month":
	default:
		s.View = "week"
	}
	if s.UserDataDir == "" {
		s.UserDataDir = "./user_data"
	}
	if s.LoginTimeout == "" {
		s.LoginTimeout = "2m"
	}

	if c.Policy.Ignore == nil {
		c.Policy.Ignore = []string{}
	}
	// A missing list gets the defaults; an explicit empty list disables
	// cancellation handling.
	if c.Policy.CancellationPrefixes == nil {
		c.Policy.CancellationPrefixes = DefaultCancellationPrefixes()
	}

	if c.Remote.Kind == "" {
		c.Remote.Kind = RemoteGoogle
	}
	g := &c.Remote.Google
	if g.CredentialsFile == "" {
		g.CredentialsFile = "credentials.json"
	}
	if g.TokenFile == "" {
		g.TokenFile = "token.json"
	}
	if g.CalendarID == "" {
		g.CalendarID = "primary"
	}
	if g.SendUpdates == "" {
		g.SendUpdates = "all"
	}
	if c.Remote.ICS.Path == "" {
		c.Remote.ICS.Path = "calendar.ics"
	}
	if c.Remote.ICS.CacheDir == "" {
		c.Remote.ICS.CacheDir = "./cache/ics-cache"
	}
	if c.Journal.Keep < 0 {
		c.Journal.Keep = 0
	}
}

// Validate reports settings that cannot work at runtime.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if _, err := c.Location(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("timezone: %w", err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("refresh: %w", err))
	}
	if _, err := c.LoginTimeout(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("source.login_timeout: %w", err))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
	default:
		errs = multierror.Append(errs, fmt.Errorf("log_level: unknown value %q", c.LogLevel))
	}
	switch c.Remote.Kind {
	case RemoteGoogle:
		switch c.Remote.Google.SendUpdates {
		case "all", "externalOnly", "none":
		default:
			errs = multierror.Append(errs, fmt.Errorf("remote.google.send_updates: unknown value %q", c.Remote.Google.SendUpdates))
		}
	case RemoteICS:
	default:
		errs = multierror.Append(errs, fmt.Errorf("remote.kind: unknown value %q", c.Remote.Kind))
	}
	return errs.ErrorOrNil()
}

// AttendeeOr returns the configured attendee, or self when unset.
func (g GoogleConfig) AttendeeOr(self string) string {
	if g.Attendee != "" {
		return g.Attendee
	}
	return self
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// LoginTimeout parses Source.LoginTimeout.
func (c *Config) LoginTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Source.LoginTimeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calsync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// ApplyEnv overrides secrets and deployment-specific values from the
// environment, so they can stay out of the YAML file.
func (c *Config) ApplyEnv() {
	c.Listen = getEnv("CALSYNC_LISTEN", c.Listen)
	c.Timezone = getEnv("CALSYNC_TIMEZONE", c.Timezone)
	c.LogLevel = getEnv("CALSYNC_LOG_LEVEL", c.LogLevel)
	c.Policy.Self = getEnv("CALSYNC_SELF", c.Policy.Self)
	c.Journal.Path = getEnv("CALSYNC_JOURNAL", c.Journal.Path)

	user, hasUser := os.LookupEnv("CALSYNC_BASIC_AUTH_USER")
	pass, hasPass := os.LookupEnv("CALSYNC_BASIC_AUTH_PASSWORD")
	if hasUser || hasPass {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		if hasUser {
			c.BasicAuth.Username = user
		}
		if hasPass {
			c.BasicAuth.Password = pass
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
