// Package config defines the top-level configuration for the vault client
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by VAULT_* environment variables.
type Config struct {
	Handle   HandleConfig   `toml:"handle"`
	Broker   BrokerConfig   `toml:"broker"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	Progress ProgressConfig `toml:"progress"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// HandleConfig describes how the session obtains its account handle. Exactly
// one of Value or EncryptedPath is expected to resolve; if neither does, the
// CLI falls back to an interactive prompt.
type HandleConfig struct {
	Value         string `toml:"value"`
	EncryptedPath string `toml:"encrypted_path"`
	Password      string `toml:"password"`
}

// BrokerConfig holds the remote broker's API endpoint.
type BrokerConfig struct {
	BaseURL string `toml:"base_url"`
}

// RedisConfig holds Redis connection parameters, used by the distributed
// action queue and the sliding-window rate limiter.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// PostgresConfig holds the audit log's database connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ProgressConfig holds the optional websocket progress hub's parameters.
type ProgressConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			BaseURL: "https://broker-1.opacitynodes.com:3000/api/v1/",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Progress: ProgressConfig{
			Enabled: false,
			Port:    8088,
		},
		Notify: NotifyConfig{
			Events: []string{"upload_complete", "download_complete", "error"},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Broker.BaseURL == "" {
		errs = append(errs, "broker: base_url must not be empty")
	}

	if c.Handle.EncryptedPath != "" && c.Handle.Password == "" {
		errs = append(errs, "handle: password is required when encrypted_path is set")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if c.Postgres.DSN == "" {
			errs = append(errs, "postgres: dsn must not be empty when enabled")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Progress.Enabled {
		if c.Progress.Port <= 0 || c.Progress.Port > 65535 {
			errs = append(errs, fmt.Sprintf("progress: port must be 1-65535, got %d", c.Progress.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
