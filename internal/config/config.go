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
	Server     ServerConfig     `mapstructure:"server"`
	DB         DBConfig         `mapstructure:"db"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Enrich     EnrichConfig     `mapstructure:"enrich"`
	Editorial  EditorialConfig  `mapstructure:"editorial"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Queue      QueueConfig      `mapstructure:"queue"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// stores, which is the local development mode.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime_minutes"`
}

// IngestConfig governs source adapters and the trailing-window rate limiter.
type IngestConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	RateWindowMinutes int    `mapstructure:"rate_window_minutes"`
	RateMaxRuns       int    `mapstructure:"rate_max_runs"`
	RefreshMinutes    int    `mapstructure:"refresh_minutes"`
}

// EnrichConfig governs the metadata scrape stage and the stale sweep.
type EnrichConfig struct {
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
	StaleAfterHours int `mapstructure:"stale_after_hours"`
	SweepBatchSize  int `mapstructure:"sweep_batch_size"`
	SweepMinutes    int `mapstructure:"sweep_minutes"`
	PauseTTLSeconds int `mapstructure:"pause_ttl_seconds"`
}

// EditorialConfig configures the AI editorialisation service.
type EditorialConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MinTextChars   int    `mapstructure:"min_text_chars"`
	DailyTokens    int    `mapstructure:"daily_token_budget"`
}

// ScreenshotConfig configures the headless capture stage.
type ScreenshotConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	NavTimeoutSec  int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS      float64 `mapstructure:"domain_qps"`
	UserAgent      string  `mapstructure:"user_agent"`
	StorageBackend string  `mapstructure:"storage_backend"`
	GCSBucket      string  `mapstructure:"gcs_bucket"`
	LocalDir       string  `mapstructure:"local_dir"`
	BlobPrefix     string  `mapstructure:"blob_prefix"`
}

// QueueConfig sizes the named job queues and their worker pools.
type QueueConfig struct {
	Depth   int            `mapstructure:"depth"`
	Workers map[string]int `mapstructure:"workers"`
}

// PubSubConfig holds metadata for publication event notifications.
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
	v.SetEnvPrefix("CURATOR")
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("ingest.user_agent", "curator-bot/0.1")
	v.SetDefault("ingest.timeout_seconds", 20)
	v.SetDefault("ingest.rate_window_minutes", 60)
	v.SetDefault("ingest.rate_max_runs", 10)
	v.SetDefault("ingest.refresh_minutes", 30)
	v.SetDefault("enrich.timeout_seconds", 20)
	v.SetDefault("enrich.stale_after_hours", 168)
	v.SetDefault("enrich.sweep_batch_size", 50)
	v.SetDefault("enrich.sweep_minutes", 60)
	v.SetDefault("enrich.pause_ttl_seconds", 5)
	v.SetDefault("editorial.model", "gpt-4o-mini")
	v.SetDefault("editorial.max_tokens", 800)
	v.SetDefault("editorial.timeout_seconds", 45)
	v.SetDefault("editorial.min_text_chars", 280)
	v.SetDefault("editorial.daily_token_budget", 250000)
	v.SetDefault("screenshot.enabled", false)
	v.SetDefault("screenshot.max_parallel", 1)
	v.SetDefault("screenshot.nav_timeout_seconds", 25)
	v.SetDefault("screenshot.domain_qps", 1.0)
	v.SetDefault("screenshot.storage_backend", "memory")
	v.SetDefault("screenshot.blob_prefix", "screens")
	v.SetDefault("queue.depth", 256)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Ingest.TimeoutSeconds <= 0 {
		return fmt.Errorf("ingest.timeout_seconds must be > 0")
	}
	if c.Ingest.RateWindowMinutes <= 0 || c.Ingest.RateMaxRuns <= 0 {
		return fmt.Errorf("ingest rate limit window and max runs must be > 0")
	}
	if c.Enrich.StaleAfterHours <= 0 {
		return fmt.Errorf("enrich.stale_after_hours must be > 0")
	}
	if c.Screenshot.Enabled && c.Screenshot.MaxParallel <= 0 {
		return fmt.Errorf("screenshot.max_parallel must be > 0 when screenshots are enabled")
	}
	if c.Screenshot.StorageBackend == "gcs" && c.Screenshot.GCSBucket == "" {
		return fmt.Errorf("screenshot.gcs_bucket must be set for the gcs backend")
	}
	if c.Screenshot.StorageBackend == "local" && c.Screenshot.LocalDir == "" {
		return fmt.Errorf("screenshot.local_dir must be set for the local backend")
	}
	return nil
}

// IngestTimeout returns the adapter HTTP timeout as a duration.
func (c Config) IngestTimeout() time.Duration {
	return time.Duration(c.Ingest.TimeoutSeconds) * time.Second
}

// RateWindow returns the rate limiter's trailing window as a duration.
func (c Config) RateWindow() time.Duration {
	return time.Duration(c.Ingest.RateWindowMinutes) * time.Minute
}

// StaleAfter returns the stale sweep threshold as a duration.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Enrich.StaleAfterHours) * time.Hour
}
