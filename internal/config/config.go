package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Priya8975/tenant-event-bus/internal/engine"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	StorageDir  string
	DatabaseURL string
	RedisURL    string
	SchemaFile  string

	HealthCheckIntervalMs int
	RetryDelayMs          int
	MaxRetries            int
	IdempotencyWindowMs   int
	IdempotencyMaxEntries int
	HandlerTimeoutMs      int
	WebhookTimeoutMs      int
	SyncWrites            bool
	PublishHealthEvents   bool
}

var defaults = map[string]any{
	"PORT":                     "8080",
	"STORAGE_DIR":              "data/events",
	"DATABASE_URL":             "",
	"REDIS_URL":                "",
	"SCHEMA_FILE":              "",
	"HEALTH_CHECK_INTERVAL_MS": 30000,
	"RETRY_DELAY_MS":           1000,
	"MAX_RETRIES":              3,
	"IDEMPOTENCY_WINDOW_MS":    60000,
	"IDEMPOTENCY_MAX_ENTRIES":  10000,
	"HANDLER_TIMEOUT_MS":       30000,
	"WEBHOOK_TIMEOUT_MS":       10000,
	"SYNC_WRITES":              true,
	"PUBLISH_HEALTH_EVENTS":    true,
}

// Load reads configuration from environment variables. When
// EVENTBUS_CONFIG_FILE names a YAML or JSON file its keys are read first and
// the environment overrides them.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("EVENTBUS_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:                  v.GetString("PORT"),
		StorageDir:            v.GetString("STORAGE_DIR"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		RedisURL:              v.GetString("REDIS_URL"),
		SchemaFile:            v.GetString("SCHEMA_FILE"),
		HealthCheckIntervalMs: v.GetInt("HEALTH_CHECK_INTERVAL_MS"),
		RetryDelayMs:          v.GetInt("RETRY_DELAY_MS"),
		MaxRetries:            v.GetInt("MAX_RETRIES"),
		IdempotencyWindowMs:   v.GetInt("IDEMPOTENCY_WINDOW_MS"),
		IdempotencyMaxEntries: v.GetInt("IDEMPOTENCY_MAX_ENTRIES"),
		HandlerTimeoutMs:      v.GetInt("HANDLER_TIMEOUT_MS"),
		WebhookTimeoutMs:      v.GetInt("WEBHOOK_TIMEOUT_MS"),
		SyncWrites:            v.GetBool("SYNC_WRITES"),
		PublishHealthEvents:   v.GetBool("PUBLISH_HEALTH_EVENTS"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StorageDir == "" {
		return errors.New("STORAGE_DIR is required")
	}
	nonNegative := []struct {
		key   string
		value int
	}{
		{"HEALTH_CHECK_INTERVAL_MS", c.HealthCheckIntervalMs},
		{"RETRY_DELAY_MS", c.RetryDelayMs},
		{"MAX_RETRIES", c.MaxRetries},
		{"IDEMPOTENCY_WINDOW_MS", c.IdempotencyWindowMs},
		{"IDEMPOTENCY_MAX_ENTRIES", c.IdempotencyMaxEntries},
		{"HANDLER_TIMEOUT_MS", c.HandlerTimeoutMs},
		{"WEBHOOK_TIMEOUT_MS", c.WebhookTimeoutMs},
	}
	for _, n := range nonNegative {
		if n.value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", n.key, n.value)
		}
	}
	return nil
}

// Bus converts the configuration into engine settings.
func (c *Config) Bus() engine.Config {
	return engine.Config{
		StorageDir:            c.StorageDir,
		HealthCheckInterval:   ms(c.HealthCheckIntervalMs),
		RetryDelay:            ms(c.RetryDelayMs),
		MaxRetries:            c.MaxRetries,
		IdempotencyWindow:     ms(c.IdempotencyWindowMs),
		IdempotencyMaxEntries: c.IdempotencyMaxEntries,
		HandlerTimeout:        ms(c.HandlerTimeoutMs),
		SyncWrites:            c.SyncWrites,
		PublishHealthEvents:   c.PublishHealthEvents,
	}
}

// WebhookTimeout is the HTTP timeout for one webhook delivery.
func (c *Config) WebhookTimeout() time.Duration {
	return ms(c.WebhookTimeoutMs)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
