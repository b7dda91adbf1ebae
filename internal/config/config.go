package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Port          string `yaml:"port"`
	DatabaseURL   string `yaml:"database_url"`
	RedisURL      string `yaml:"redis_url"`
	RedisQueueKey string `yaml:"redis_queue_key"`
	NumWorkers    int    `yaml:"num_workers"`

	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`

	LedgerMaxEntries int           `yaml:"ledger_max_entries"`
	LedgerMaxAge     time.Duration `yaml:"ledger_max_age"`

	StreamQueueSize  int `yaml:"stream_queue_size"`
	StreamRecentSize int `yaml:"stream_recent_size"`

	ExtraEventTypes []string `yaml:"extra_event_types"`

	LogLevel      string `yaml:"log_level"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	PruneSchedule string `yaml:"prune_schedule"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:             "8080",
		RedisQueueKey:    "delivery_queue",
		NumWorkers:       50,
		MaxAttempts:      3,
		RetryBaseDelay:   60 * time.Second,
		RetryMaxDelay:    15 * time.Minute,
		AttemptTimeout:   30 * time.Second,
		PollInterval:     100 * time.Millisecond,
		LedgerMaxEntries: 10000,
		LedgerMaxAge:     7 * 24 * time.Hour,
		StreamQueueSize:  64,
		StreamRecentSize: 100,
		LogLevel:         "info",
		PruneSchedule:    "@every 1h",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisQueueKey = getEnv("REDIS_QUEUE_KEY", cfg.RedisQueueKey)
	cfg.NumWorkers = getEnvInt("NUM_WORKERS", cfg.NumWorkers)
	cfg.MaxAttempts = getEnvInt("MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	cfg.RetryMaxDelay = getEnvDuration("RETRY_MAX_DELAY", cfg.RetryMaxDelay)
	cfg.AttemptTimeout = getEnvDuration("ATTEMPT_TIMEOUT", cfg.AttemptTimeout)
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.LedgerMaxEntries = getEnvInt("LEDGER_MAX_ENTRIES", cfg.LedgerMaxEntries)
	cfg.LedgerMaxAge = getEnvDuration("LEDGER_MAX_AGE", cfg.LedgerMaxAge)
	cfg.StreamQueueSize = getEnvInt("STREAM_QUEUE_SIZE", cfg.StreamQueueSize)
	cfg.StreamRecentSize = getEnvInt("STREAM_RECENT_SIZE", cfg.StreamRecentSize)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.PruneSchedule = getEnv("PRUNE_SCHEDULE", cfg.PruneSchedule)
	if extra := os.Getenv("EXTRA_EVENT_TYPES"); extra != "" {
		cfg.ExtraEventTypes = splitList(extra)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	counts := []struct {
		key string
		val int
	}{
		{"NUM_WORKERS", c.NumWorkers},
		{"MAX_ATTEMPTS", c.MaxAttempts},
		{"LEDGER_MAX_ENTRIES", c.LedgerMaxEntries},
		{"STREAM_QUEUE_SIZE", c.StreamQueueSize},
	}
	for _, n := range counts {
		if n.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", n.key))
		}
	}
	if c.StreamRecentSize < 0 {
		errs = append(errs, errors.New("STREAM_RECENT_SIZE must not be negative"))
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"RETRY_BASE_DELAY", c.RetryBaseDelay},
		{"RETRY_MAX_DELAY", c.RetryMaxDelay},
		{"ATTEMPT_TIMEOUT", c.AttemptTimeout},
		{"POLL_INTERVAL", c.PollInterval},
		{"LEDGER_MAX_AGE", c.LedgerMaxAge},
	}
	for _, d := range durations {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.key))
		}
	}
	if c.RetryMaxDelay > 0 && c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, errors.New("RETRY_MAX_DELAY must not be below RETRY_BASE_DELAY"))
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
