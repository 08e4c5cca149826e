// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	DB      DBConfig      `mapstructure:"db"`
	Browser BrowserConfig `mapstructure:"browser"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Enrich  EnrichConfig  `mapstructure:"enrich"`
	Queue   QueueConfig   `mapstructure:"queue"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// BrowserConfig governs the chromedp session manager.
type BrowserConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	AcceptLanguage    string `mapstructure:"accept_language"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	RecordBudget      int    `mapstructure:"record_budget"`
	MaxAgeMinutes     int    `mapstructure:"max_age_minutes"`
}

// ScrapeConfig governs the primary scrape pool and job defaults.
type ScrapeConfig struct {
	Workers          int `mapstructure:"workers"`
	DefaultResultCap int `mapstructure:"default_result_cap"`
	MaxResultCap     int `mapstructure:"max_result_cap"`
	MinDelayMS       int `mapstructure:"min_delay_ms"`
	MaxDelayMS       int `mapstructure:"max_delay_ms"`
	RestEvery        int `mapstructure:"rest_every"`
	RestDurationMS   int `mapstructure:"rest_duration_ms"`
	MilestoneEvery   int `mapstructure:"milestone_every"`
}

// EnrichConfig governs the secondary contact-harvest pool.
type EnrichConfig struct {
	Workers         int    `mapstructure:"workers"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxContactLinks int    `mapstructure:"max_contact_links"`
}

// QueueConfig tunes the durable work-unit queue.
type QueueConfig struct {
	LeaseSeconds int `mapstructure:"lease_seconds"`
	PollMS       int `mapstructure:"poll_ms"`
	MaxAttempts  int `mapstructure:"max_attempts"`
}

// PubSubConfig holds the notification topic coordinates. Notifications are
// disabled when either field is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PLACECRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.accept_language", "en-US,en;q=0.9")
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.record_budget", 400)
	v.SetDefault("browser.max_age_minutes", 45)
	v.SetDefault("scrape.workers", 1)
	v.SetDefault("scrape.default_result_cap", 20)
	v.SetDefault("scrape.max_result_cap", 200)
	v.SetDefault("scrape.min_delay_ms", 2000)
	v.SetDefault("scrape.max_delay_ms", 5000)
	v.SetDefault("scrape.rest_every", 50)
	v.SetDefault("scrape.rest_duration_ms", 60000)
	v.SetDefault("scrape.milestone_every", 500)
	v.SetDefault("enrich.workers", 5)
	v.SetDefault("enrich.user_agent", "")
	v.SetDefault("enrich.timeout_seconds", 15)
	v.SetDefault("enrich.max_contact_links", 2)
	v.SetDefault("queue.lease_seconds", 60)
	v.SetDefault("queue.poll_ms", 1000)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Scrape.Workers <= 0 {
		return fmt.Errorf("scrape.workers must be > 0")
	}
	if c.Enrich.Workers < 0 {
		return fmt.Errorf("enrich.workers must be >= 0")
	}
	if c.Scrape.MinDelayMS > c.Scrape.MaxDelayMS {
		return fmt.Errorf("scrape.min_delay_ms must not exceed scrape.max_delay_ms")
	}
	if c.Queue.LeaseSeconds <= 0 {
		return fmt.Errorf("queue.lease_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// DefaultPacing returns the pacing applied to submissions that omit it.
func (c Config) DefaultPacing() (minDelay, maxDelay, restDuration time.Duration, restEvery int) {
	return time.Duration(c.Scrape.MinDelayMS) * time.Millisecond,
		time.Duration(c.Scrape.MaxDelayMS) * time.Millisecond,
		time.Duration(c.Scrape.RestDurationMS) * time.Millisecond,
		c.Scrape.RestEvery
}

// NotificationsEnabled reports whether a Pub/Sub topic is configured.
func (c Config) NotificationsEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicName != ""
}
