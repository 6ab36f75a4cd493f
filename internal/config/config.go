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
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Lookup      LookupConfig      `mapstructure:"lookup"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	DB          DBConfig          `mapstructure:"db"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Application ApplicationConfig `mapstructure:"application"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CacheConfig bounds the dedup cache.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
	MaxSize    int `mapstructure:"max_size"`
}

// StreamConfig governs the progress relay.
type StreamConfig struct {
	SubscriberBuffer   int `mapstructure:"subscriber_buffer"`
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds"`
	GraceSeconds       int `mapstructure:"grace_seconds"`
	SweepIntervalMs    int `mapstructure:"sweep_interval_ms"`
}

// AnalysisConfig governs the worker pool and pipeline budgets.
type AnalysisConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	QueueDepth     int `mapstructure:"queue_depth"`
	StepTimeoutSec int `mapstructure:"step_timeout_seconds"`
	MaxEvidence    int `mapstructure:"max_evidence"`
}

// LookupConfig configures the evidence fetcher.
type LookupConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	SnippetBytes   int    `mapstructure:"snippet_bytes"`
}

// RateLimitConfig throttles outbound evidence fetches per domain.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for verdict notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ApplicationConfig identifies the deployment for telemetry.
type ApplicationConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	ProjectID   string `mapstructure:"project_id"`
	Region      string `mapstructure:"region"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCAMWATCH")
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
	v.SetDefault("cache.ttl_seconds", 600)
	v.SetDefault("cache.max_size", 1024)
	v.SetDefault("stream.subscriber_buffer", 64)
	v.SetDefault("stream.idle_timeout_seconds", 60)
	v.SetDefault("stream.grace_seconds", 30)
	v.SetDefault("stream.sweep_interval_ms", 1000)
	v.SetDefault("analysis.concurrency", 4)
	v.SetDefault("analysis.queue_depth", 64)
	v.SetDefault("analysis.step_timeout_seconds", 15)
	v.SetDefault("analysis.max_evidence", 3)
	v.SetDefault("lookup.user_agent", "scamwatch-bot/0.1")
	v.SetDefault("lookup.timeout_seconds", 10)
	v.SetDefault("lookup.snippet_bytes", 2048)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.default_rps", 1)
	v.SetDefault("ratelimit.default_burst", 2)
	v.SetDefault("application.service_name", "scamwatch")
	v.SetDefault("application.version", "dev")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must be >= 0")
	}
	if c.Cache.MaxSize < 1 {
		return fmt.Errorf("cache.max_size must be >= 1")
	}
	if c.Stream.SubscriberBuffer <= 0 {
		return fmt.Errorf("stream.subscriber_buffer must be > 0")
	}
	if c.Analysis.Concurrency <= 0 {
		return fmt.Errorf("analysis.concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// CacheTTL converts the cache TTL config into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// IdleTimeout converts the stream idle timeout config into a duration.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.Stream.IdleTimeoutSeconds) * time.Second
}

// GracePeriod converts the terminal-stream grace config into a duration.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.Stream.GraceSeconds) * time.Second
}

// SweepInterval converts the registry sweep config into a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Stream.SweepIntervalMs) * time.Millisecond
}

// StepTimeout converts the pipeline step budget into a duration.
func (c Config) StepTimeout() time.Duration {
	return time.Duration(c.Analysis.StepTimeoutSec) * time.Second
}
