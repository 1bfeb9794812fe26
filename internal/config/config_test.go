package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/notifier")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("DELIVERY_URL", "http://localhost:9090/deliver/success")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.NumWorkers != 20 {
		t.Errorf("NumWorkers = %d, want 20", cfg.NumWorkers)
	}
	if cfg.DailyAnchor != "0 0 * * *" {
		t.Errorf("DailyAnchor = %q", cfg.DailyAnchor)
	}
	if cfg.EnqueueInterval != time.Minute {
		t.Errorf("EnqueueInterval = %v, want 1m", cfg.EnqueueInterval)
	}
	if cfg.RecoveryGrace != 5*time.Minute {
		t.Errorf("RecoveryGrace = %v, want 5m", cfg.RecoveryGrace)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.RetryBackoffBase != 500*time.Millisecond {
		t.Errorf("RetryBackoffBase = %v, want 500ms", cfg.RetryBackoffBase)
	}
	if cfg.BirthdaySendHour != 9 || cfg.AnniversarySendHour != 10 {
		t.Errorf("send hours = %d/%d, want 9/10", cfg.BirthdaySendHour, cfg.AnniversarySendHour)
	}
	if cfg.CircuitBreaker.ErrorThreshold != 0.5 {
		t.Errorf("CB error threshold = %v, want 0.5", cfg.CircuitBreaker.ErrorThreshold)
	}
	if cfg.CircuitBreaker.VolumeThreshold != 10 {
		t.Errorf("CB volume threshold = %d, want 10", cfg.CircuitBreaker.VolumeThreshold)
	}
	if cfg.CircuitBreaker.ResetTimeout != 30*time.Second {
		t.Errorf("CB reset timeout = %v, want 30s", cfg.CircuitBreaker.ResetTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("NUM_WORKERS", "4")
	t.Setenv("ENQUEUE_INTERVAL", "30s")
	t.Setenv("CB_VOLUME_THRESHOLD", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.NumWorkers != 4 {
		t.Errorf("NumWorkers = %d, want 4", cfg.NumWorkers)
	}
	if cfg.EnqueueInterval != 30*time.Second {
		t.Errorf("EnqueueInterval = %v, want 30s", cfg.EnqueueInterval)
	}
	if cfg.CircuitBreaker.VolumeThreshold != 25 {
		t.Errorf("CB volume threshold = %d, want 25", cfg.CircuitBreaker.VolumeThreshold)
	}
}

func TestLoad_MissingURLsFail(t *testing.T) {
	cases := []struct {
		name string
		omit string
	}{
		{"database", "DATABASE_URL"},
		{"redis", "REDIS_URL"},
		{"delivery endpoint", "DELIVERY_URL"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tc.omit, "")

			if _, err := Load(); err == nil {
				t.Errorf("expected error when %s is unset", tc.omit)
			}
		})
	}
}
