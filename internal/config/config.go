package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application. Every schedule constant
// the engine uses lives here — nothing is hard-coded in the jobs.
type Config struct {
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	// DeliveryURL is the external delivery endpoint messages are POSTed to.
	DeliveryURL string `mapstructure:"DELIVERY_URL"`

	NumWorkers int `mapstructure:"NUM_WORKERS"`

	// DailyAnchor is the cron spec for the precalculation job. The default
	// anchors at UTC midnight to keep the daily boundary unambiguous.
	DailyAnchor      string        `mapstructure:"DAILY_ANCHOR"`
	EnqueueInterval  time.Duration `mapstructure:"ENQUEUE_INTERVAL"`
	EnqueueLookahead time.Duration `mapstructure:"ENQUEUE_LOOKAHEAD"`
	RecoveryInterval time.Duration `mapstructure:"RECOVERY_INTERVAL"`
	RecoveryGrace    time.Duration `mapstructure:"RECOVERY_GRACE"`
	JobTimeout       time.Duration `mapstructure:"JOB_TIMEOUT"`

	// MaxRetries bounds record-level delivery attempts across scheduler
	// passes. Transport retries are a separate, per-call budget.
	MaxRetries       int           `mapstructure:"MAX_RETRIES"`
	TransportRetries int           `mapstructure:"TRANSPORT_RETRIES"`
	RetryBackoffBase time.Duration `mapstructure:"RETRY_BACKOFF_BASE"`
	RetryBackoffMax  time.Duration `mapstructure:"RETRY_BACKOFF_MAX"`
	DeliveryTimeout  time.Duration `mapstructure:"DELIVERY_TIMEOUT"`
	RateLimitPerSec  int           `mapstructure:"RATE_LIMIT_PER_SEC"`

	BirthdaySendHour    int `mapstructure:"BIRTHDAY_SEND_HOUR"`
	AnniversarySendHour int `mapstructure:"ANNIVERSARY_SEND_HOUR"`

	CircuitBreaker CircuitBreakerConfig `mapstructure:",squash"`
}

// CircuitBreakerConfig tunes the failure-isolation wrapper around the
// delivery endpoint.
type CircuitBreakerConfig struct {
	// ErrorThreshold is the failure rate (0–1) that opens the circuit once
	// VolumeThreshold calls have been observed in the rolling window.
	ErrorThreshold  float64       `mapstructure:"CB_ERROR_THRESHOLD"`
	VolumeThreshold int           `mapstructure:"CB_VOLUME_THRESHOLD"`
	ResetTimeout    time.Duration `mapstructure:"CB_RESET_TIMEOUT"`
	WindowSize      time.Duration `mapstructure:"CB_WINDOW_SIZE"`
}

// Load reads configuration from environment variables with defaults for
// everything except the connection URLs.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("DELIVERY_URL", "")
	v.SetDefault("NUM_WORKERS", 20)

	v.SetDefault("DAILY_ANCHOR", "0 0 * * *")
	v.SetDefault("ENQUEUE_INTERVAL", "1m")
	v.SetDefault("ENQUEUE_LOOKAHEAD", "1m")
	v.SetDefault("RECOVERY_INTERVAL", "10m")
	v.SetDefault("RECOVERY_GRACE", "5m")
	v.SetDefault("JOB_TIMEOUT", "5m")

	v.SetDefault("MAX_RETRIES", 5)
	v.SetDefault("TRANSPORT_RETRIES", 3)
	v.SetDefault("RETRY_BACKOFF_BASE", "500ms")
	v.SetDefault("RETRY_BACKOFF_MAX", "10s")
	v.SetDefault("DELIVERY_TIMEOUT", "10s")
	v.SetDefault("RATE_LIMIT_PER_SEC", 50)
	v.SetDefault("BIRTHDAY_SEND_HOUR", 9)
	v.SetDefault("ANNIVERSARY_SEND_HOUR", 10)

	v.SetDefault("CB_ERROR_THRESHOLD", 0.5)
	v.SetDefault("CB_VOLUME_THRESHOLD", 10)
	v.SetDefault("CB_RESET_TIMEOUT", "30s")
	v.SetDefault("CB_WINDOW_SIZE", "60s")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.DeliveryURL == "" {
		return nil, fmt.Errorf("DELIVERY_URL is required")
	}

	return &cfg, nil
}
