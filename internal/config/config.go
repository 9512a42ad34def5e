package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration value")
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Sync         SyncConfig
	RateLimiting RateLimitConfig
	Notify       NotifyConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int
	Environment Environment
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string
}

// SyncConfig holds synchronization behavior configuration.
type SyncConfig struct {
	// Feed fetching
	FetchTimeout time.Duration
	FetchRPS     float64 // outbound requests/sec across all feeds
	FetchBurst   int

	// Retry policy for transient fetch failures
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Scheduling
	DefaultFrequency int // minutes
	MinFrequency     int
	MaxFrequency     int

	// Orchestration
	MaxConcurrentProperties int64
	LockTTL                 time.Duration
	LogRetentionDays        int

	// Conflict policy
	DetectAfterSync bool
	AutoResolve     bool
	TurnoverHours   int // default minimum turnover buffer; per-property override wins
}

// RateLimitConfig holds inbound API rate limiting configuration.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// NotifyConfig holds webhook alert configuration.
type NotifyConfig struct {
	WebhookEnabled  bool
	WebhookURL      string
	CooldownMinutes int
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load() //nolint:errcheck // Intentionally ignore - .env file is optional

	cfg := &Config{}

	// Server configuration
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.Port = port
	cfg.Server.Environment = Environment(strings.ToLower(getEnv("ENVIRONMENT", "production")))

	// Database configuration
	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/channelsync.db")

	// Feed fetching
	fetchTimeout, err := getEnvDuration("FEED_FETCH_TIMEOUT", 45*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: FEED_FETCH_TIMEOUT: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.FetchTimeout = fetchTimeout

	fetchRPS, err := getEnvFloat("FEED_FETCH_RPS", 5.0)
	if err != nil {
		return nil, fmt.Errorf("%w: FEED_FETCH_RPS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.FetchRPS = fetchRPS

	fetchBurst, err := getEnvInt("FEED_FETCH_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("%w: FEED_FETCH_BURST: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.FetchBurst = fetchBurst

	// Retry policy
	maxAttempts, err := getEnvInt("SYNC_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_MAX_ATTEMPTS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MaxAttempts = maxAttempts

	baseBackoff, err := getEnvDuration("SYNC_BASE_BACKOFF", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_BASE_BACKOFF: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.BaseBackoff = baseBackoff

	maxBackoff, err := getEnvDuration("SYNC_MAX_BACKOFF", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_MAX_BACKOFF: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MaxBackoff = maxBackoff

	// Scheduling
	defaultFreq, err := getEnvInt("SYNC_DEFAULT_FREQUENCY_MINUTES", 60)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_DEFAULT_FREQUENCY_MINUTES: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.DefaultFrequency = defaultFreq

	minFreq, err := getEnvInt("SYNC_MIN_FREQUENCY_MINUTES", 15)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_MIN_FREQUENCY_MINUTES: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MinFrequency = minFreq

	maxFreq, err := getEnvInt("SYNC_MAX_FREQUENCY_MINUTES", 1440)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_MAX_FREQUENCY_MINUTES: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MaxFrequency = maxFreq

	// Orchestration
	maxConcurrent, err := getEnvInt("SYNC_MAX_CONCURRENT_PROPERTIES", 5)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_MAX_CONCURRENT_PROPERTIES: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MaxConcurrentProperties = int64(maxConcurrent)

	lockTTL, err := getEnvDuration("SYNC_LOCK_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_LOCK_TTL: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.LockTTL = lockTTL

	retention, err := getEnvInt("SYNC_LOG_RETENTION_DAYS", 30)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_LOG_RETENTION_DAYS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.LogRetentionDays = retention

	// Conflict policy
	cfg.Sync.DetectAfterSync = getEnvBool("SYNC_DETECT_AFTER_SYNC", true)
	cfg.Sync.AutoResolve = getEnvBool("SYNC_AUTO_RESOLVE", false)

	turnover, err := getEnvInt("SYNC_TURNOVER_HOURS", 0)
	if err != nil {
		return nil, fmt.Errorf("%w: SYNC_TURNOVER_HOURS: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.TurnoverHours = turnover

	// Inbound rate limiting
	rps, err := getEnvFloat("RATE_LIMIT_RPS", 30.0)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.RPS = rps

	burst, err := getEnvInt("RATE_LIMIT_BURST", 60)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.Burst = burst

	// Webhook alerts
	cfg.Notify.WebhookEnabled = getEnvBool("ALERT_WEBHOOK_ENABLED", false)
	cfg.Notify.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")

	cooldown, err := getEnvInt("ALERT_COOLDOWN_MINUTES", 60)
	if err != nil {
		return nil, fmt.Errorf("%w: ALERT_COOLDOWN_MINUTES: %w", ErrInvalidConfig, err)
	}
	cfg.Notify.CooldownMinutes = cooldown

	if cfg.Notify.WebhookEnabled && cfg.Notify.WebhookURL == "" {
		return nil, fmt.Errorf("%w: ALERT_WEBHOOK_URL is required when ALERT_WEBHOOK_ENABLED is set", ErrInvalidConfig)
	}

	return cfg, nil
}

// ClampFrequency clamps a connection sync frequency to the configured bounds,
// substituting the default for non-positive values.
func (c *Config) ClampFrequency(minutes int) int {
	if minutes <= 0 {
		return c.Sync.DefaultFrequency
	}
	if minutes < c.Sync.MinFrequency {
		return c.Sync.MinFrequency
	}
	if minutes > c.Sync.MaxFrequency {
		return c.Sync.MaxFrequency
	}
	return minutes
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvFloat returns the float value of an environment variable or a default.
func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float: %w", err)
	}
	return parsed, nil
}

// getEnvBool returns the boolean value of an environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvDuration returns the duration value of an environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %w", err)
	}
	return parsed, nil
}
