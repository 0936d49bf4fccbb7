// Package config manages application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Channel describes one tracked YouTube channel.
type Channel struct {
	// ID is the YouTube channel id (e.g. "UCxxxxxxxxxxxxxxx").
	ID string `yaml:"id"`
	// Nickname is the display name used as the subject prefix in the calendar.
	Nickname string `yaml:"nickname"`
	// Aliases are historical nicknames still present in old event subjects.
	Aliases []string `yaml:"aliases,omitempty"`
}

// Config holds all application configuration for a reconciliation run.
type Config struct {
	// GoogleAPIKey is an API key with access to YouTube Data API v3.
	GoogleAPIKey string `yaml:"google_api_key"`
	// GoogleAPIProxy is an optional HTTP proxy URL for Google API calls.
	GoogleAPIProxy string `yaml:"google_api_proxy,omitempty"`

	// MicrosoftTokenFile is the path of a file holding a Graph access token.
	MicrosoftTokenFile string `yaml:"microsoft_token_file"`
	// MicrosoftAPIProxy is an optional HTTP proxy URL for Graph calls.
	MicrosoftAPIProxy string `yaml:"microsoft_api_proxy,omitempty"`

	// Channels is the list of tracked channels.
	Channels []Channel `yaml:"channels"`
	// CalendarName is the display name of the target Outlook calendar.
	// Must exist, case-sensitive.
	CalendarName string `yaml:"calendar_name"`

	// ExtraVideoIDs are fetched in addition to channel search results.
	ExtraVideoIDs []string `yaml:"extra_video_ids,omitempty"`
	// IgnoreVideoIDs are dropped from the fetched set before reconciling.
	IgnoreVideoIDs []string `yaml:"ignore_video_ids,omitempty"`

	// VideoCachePath is where fetched video records are persisted between runs.
	VideoCachePath string `yaml:"video_cache_path"`
	// CalendarCachePath is where the delta-sync view cache is persisted.
	CalendarCachePath string `yaml:"calendar_cache_path,omitempty"`

	// Concurrency caps in-flight outbound requests.
	Concurrency int `yaml:"concurrency"`
	// MaxRetries bounds retries of a failed mutation action.
	MaxRetries int `yaml:"max_retries"`
	// InitialBackoff is the initial delay between retries.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// ReminderMinutes is the reminder lead time set on created events.
	ReminderMinutes int `yaml:"reminder_minutes"`
	// MatchWindow is the start-time tolerance for name-based matching.
	MatchWindow time.Duration `yaml:"match_window"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		MicrosoftTokenFile: "token.txt",
		VideoCachePath:     "videos.json",
		Concurrency:        10,
		MaxRetries:         10,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		ReminderMinutes:    5,
		MatchWindow:        15 * time.Minute,
	}
}

// Load reads configuration from the YAML file at path, applies environment
// overrides, and validates the result.
// Priority: env vars > config file > defaults
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv overrides config with environment variables.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("STREAMCAL_GOOGLE_API_KEY"); v != "" {
		c.GoogleAPIKey = v
	}
	if v := os.Getenv("STREAMCAL_GOOGLE_API_PROXY"); v != "" {
		c.GoogleAPIProxy = v
	}
	if v := os.Getenv("STREAMCAL_MICROSOFT_TOKEN_FILE"); v != "" {
		c.MicrosoftTokenFile = v
	}
	if v := os.Getenv("STREAMCAL_MICROSOFT_API_PROXY"); v != "" {
		c.MicrosoftAPIProxy = v
	}
	if v := os.Getenv("STREAMCAL_CALENDAR_NAME"); v != "" {
		c.CalendarName = v
	}
	if v := os.Getenv("STREAMCAL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		}
	}
	if v := os.Getenv("STREAMCAL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("STREAMCAL_INITIAL_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.InitialBackoff = d
		}
	}
	if v := os.Getenv("STREAMCAL_MAX_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.MaxBackoff = d
		}
	}
}

// Validate checks that configuration values are valid and consistent.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if c.GoogleAPIKey == "" {
		return fmt.Errorf("google_api_key is required")
	}
	if c.CalendarName == "" {
		return fmt.Errorf("calendar_name is required")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}

	nicknames := make(map[string]string, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel %d: id is required", i)
		}
		if ch.Nickname == "" {
			return fmt.Errorf("channel %s: nickname is required", ch.ID)
		}
		if prev, ok := nicknames[ch.Nickname]; ok {
			return fmt.Errorf("channels %s and %s share nickname %q", prev, ch.ID, ch.Nickname)
		}
		nicknames[ch.Nickname] = ch.ID
	}

	if c.VideoCachePath == "" {
		return fmt.Errorf("video_cache_path is required")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if c.ReminderMinutes < 0 {
		return fmt.Errorf("reminder_minutes must be non-negative")
	}
	if c.MatchWindow <= 0 {
		return fmt.Errorf("match_window must be positive")
	}
	return nil
}

// ChannelByID returns the configured channel with the given YouTube id.
func (c *Config) ChannelByID(id string) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}
