package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.IsProduction() {
		t.Error("expected production as the default environment")
	}
	if cfg.Sync.FetchTimeout != 45*time.Second {
		t.Errorf("unexpected fetch timeout: %v", cfg.Sync.FetchTimeout)
	}
	if cfg.Sync.MaxAttempts != 3 {
		t.Errorf("unexpected max attempts: %d", cfg.Sync.MaxAttempts)
	}
	if cfg.Sync.DefaultFrequency != 60 || cfg.Sync.MinFrequency != 15 || cfg.Sync.MaxFrequency != 1440 {
		t.Errorf("unexpected frequency bounds: %d/%d/%d",
			cfg.Sync.DefaultFrequency, cfg.Sync.MinFrequency, cfg.Sync.MaxFrequency)
	}
	if !cfg.Sync.DetectAfterSync {
		t.Error("conflict detection after sync should default on")
	}
	if cfg.Sync.AutoResolve {
		t.Error("auto-resolve should default off")
	}
	if cfg.Notify.WebhookEnabled {
		t.Error("webhook alerts should default off")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "Development")
	t.Setenv("FEED_FETCH_TIMEOUT", "10s")
	t.Setenv("SYNC_MAX_ATTEMPTS", "5")
	t.Setenv("SYNC_AUTO_RESOLVE", "true")
	t.Setenv("SYNC_TURNOVER_HOURS", "4")
	t.Setenv("SYNC_MAX_CONCURRENT_PROPERTIES", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.IsDevelopment() {
		t.Error("environment comparison should be case-insensitive")
	}
	if cfg.Sync.FetchTimeout != 10*time.Second {
		t.Errorf("unexpected fetch timeout: %v", cfg.Sync.FetchTimeout)
	}
	if cfg.Sync.MaxAttempts != 5 {
		t.Errorf("unexpected max attempts: %d", cfg.Sync.MaxAttempts)
	}
	if !cfg.Sync.AutoResolve {
		t.Error("expected auto-resolve on")
	}
	if cfg.Sync.TurnoverHours != 4 {
		t.Errorf("unexpected turnover hours: %d", cfg.Sync.TurnoverHours)
	}
	if cfg.Sync.MaxConcurrentProperties != 8 {
		t.Errorf("unexpected concurrency: %d", cfg.Sync.MaxConcurrentProperties)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric port", "PORT", "not-a-port"},
		{"bad duration", "FEED_FETCH_TIMEOUT", "ten seconds"},
		{"bad float", "FEED_FETCH_RPS", "fast"},
		{"bad retry count", "SYNC_MAX_ATTEMPTS", "3.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("got %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadRequiresWebhookURLWhenEnabled(t *testing.T) {
	t.Setenv("ALERT_WEBHOOK_ENABLED", "true")

	_, err := Load()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}

	t.Setenv("ALERT_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/x")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Notify.WebhookEnabled || cfg.Notify.WebhookURL == "" {
		t.Error("webhook config not loaded")
	}
}

func TestClampFrequency(t *testing.T) {
	cfg := &Config{}
	cfg.Sync.DefaultFrequency = 60
	cfg.Sync.MinFrequency = 15
	cfg.Sync.MaxFrequency = 1440

	cases := []struct {
		in   int
		want int
	}{
		{0, 60}, // non-positive falls back to the default
		{-5, 60},
		{5, 15},
		{15, 15},
		{120, 120},
		{1440, 1440},
		{10000, 1440},
	}
	for _, tc := range cases {
		if got := cfg.ClampFrequency(tc.in); got != tc.want {
			t.Errorf("ClampFrequency(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
