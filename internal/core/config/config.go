// Package config handles configuration loading and validation for pagewatch.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FirstTickPolicy controls what happens the first time a database is polled.
type FirstTickPolicy string

const (
	// FirstTickBaseline stores the first listing silently.
	FirstTickBaseline FirstTickPolicy = "baseline"
	// FirstTickAnnounce reports every page of the first listing as added.
	FirstTickAnnounce FirstTickPolicy = "announce"
)

// IsValid checks if the policy is a known value.
func (p FirstTickPolicy) IsValid() bool {
	switch p {
	case FirstTickBaseline, FirstTickAnnounce:
		return true
	default:
		return false
	}
}

// Config holds the application configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Notion   NotionConfig   `yaml:"notion"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	HTTP     HTTPConfig     `yaml:"http"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Setup    SetupConfig    `yaml:"setup"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Database DatabaseConfig `yaml:"database"`
	DataDir  string         `yaml:"-"` // set by caller, not from config file
}

// TelegramConfig configures the bot connection.
type TelegramConfig struct {
	Token string `yaml:"token"`
	// BotURL is where the OAuth callback page sends the user back to.
	BotURL      string `yaml:"bot_url"`
	PollTimeout int    `yaml:"poll_timeout"` // seconds
}

// NotionConfig configures the Notion API client and OAuth app.
type NotionConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RedirectURI  string        `yaml:"redirect_uri"`
	APIURL       string        `yaml:"api_url"`
	Version      string        `yaml:"version"`
	Timeout      time.Duration `yaml:"timeout"`
}

// OAuthConfig configures the signed state round-tripped through the
// authorization flow.
type OAuthConfig struct {
	StateSecret string        `yaml:"state_secret"`
	StateTTL    time.Duration `yaml:"state_ttl"`
}

// HTTPConfig configures the callback and metrics listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// TrackerConfig configures the polling loop.
type TrackerConfig struct {
	Interval     time.Duration   `yaml:"interval"`
	Workers      int             `yaml:"workers"`
	FetchTimeout time.Duration   `yaml:"fetch_timeout"`
	FirstTick    FirstTickPolicy `yaml:"first_tick"`
	// ExcludeDatabases are glob patterns matched against database titles
	// when offering databases to choose from.
	ExcludeDatabases []string `yaml:"exclude_databases"`
}

// SetupConfig configures onboarding.
type SetupConfig struct {
	MaxEmptyRetries int           `yaml:"max_empty_retries"`
	EmptyRetryDelay time.Duration `yaml:"empty_retry_delay"`
	OptionsTTL      time.Duration `yaml:"options_ttl"`
}

// DispatchConfig configures inbound update handling.
type DispatchConfig struct {
	DedupeTTL     time.Duration `yaml:"dedupe_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DatabaseConfig configures the SQLite connection pool.
type DatabaseConfig struct {
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
	BusyTimeout  int `yaml:"busy_timeout"` // milliseconds
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Telegram: TelegramConfig{
			PollTimeout: 60,
		},
		Notion: NotionConfig{
			APIURL:  "https://api.notion.com",
			Version: "2022-06-28",
			Timeout: 30 * time.Second,
		},
		OAuth: OAuthConfig{
			StateTTL: 15 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Tracker: TrackerConfig{
			Interval:     10 * time.Second,
			Workers:      4,
			FetchTimeout: 30 * time.Second,
			FirstTick:    FirstTickBaseline,
		},
		Setup: SetupConfig{
			MaxEmptyRetries: 2,
			EmptyRetryDelay: 3 * time.Second,
			OptionsTTL:      time.Hour,
		},
		Dispatch: DispatchConfig{
			DedupeTTL:     10 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			BusyTimeout:  5000,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.DataDir = dataDir
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = defaults.Telegram.PollTimeout
	}
	if c.Notion.APIURL == "" {
		c.Notion.APIURL = defaults.Notion.APIURL
	}
	if c.Notion.Version == "" {
		c.Notion.Version = defaults.Notion.Version
	}
	if c.Notion.Timeout == 0 {
		c.Notion.Timeout = defaults.Notion.Timeout
	}
	if c.OAuth.StateTTL == 0 {
		c.OAuth.StateTTL = defaults.OAuth.StateTTL
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = defaults.HTTP.Addr
	}
	if c.Tracker.Interval == 0 {
		c.Tracker.Interval = defaults.Tracker.Interval
	}
	if c.Tracker.Workers == 0 {
		c.Tracker.Workers = defaults.Tracker.Workers
	}
	if c.Tracker.FetchTimeout == 0 {
		c.Tracker.FetchTimeout = defaults.Tracker.FetchTimeout
	}
	if c.Tracker.FirstTick == "" {
		c.Tracker.FirstTick = defaults.Tracker.FirstTick
	}
	if c.Setup.OptionsTTL == 0 {
		c.Setup.OptionsTTL = defaults.Setup.OptionsTTL
	}
	if c.Dispatch.DedupeTTL == 0 {
		c.Dispatch.DedupeTTL = defaults.Dispatch.DedupeTTL
	}
	if c.Dispatch.SweepInterval == 0 {
		c.Dispatch.SweepInterval = defaults.Dispatch.SweepInterval
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = defaults.Database.BusyTimeout
	}
}

// Validate checks that the configuration is structurally valid. Secrets
// are not required here so offline commands work without them; see
// ValidateDeep.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.Tracker.Interval <= 0 {
		return fmt.Errorf("tracker.interval must be positive")
	}

	if c.Tracker.Workers < 1 {
		return fmt.Errorf("tracker.workers must be at least 1")
	}

	if c.Tracker.FetchTimeout <= 0 {
		return fmt.Errorf("tracker.fetch_timeout must be positive")
	}

	if !c.Tracker.FirstTick.IsValid() {
		return fmt.Errorf("tracker.first_tick has invalid value %q (want %q or %q)", c.Tracker.FirstTick, FirstTickBaseline, FirstTickAnnounce)
	}

	if c.Setup.MaxEmptyRetries < 0 {
		return fmt.Errorf("setup.max_empty_retries cannot be negative")
	}

	if c.Setup.EmptyRetryDelay < 0 {
		return fmt.Errorf("setup.empty_retry_delay cannot be negative")
	}

	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}

	return nil
}
