package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VAULT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. A missing path is not
// an error — defaults plus environment overrides are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VAULT_* environment variables and
// overwrites the corresponding Config fields when set and non-empty.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Handle.Value, "VAULT_HANDLE")
	setStr(&cfg.Handle.EncryptedPath, "VAULT_HANDLE_ENCRYPTED_PATH")
	setStr(&cfg.Handle.Password, "VAULT_HANDLE_PASSWORD")

	setStr(&cfg.Broker.BaseURL, "VAULT_BROKER_BASE_URL")

	setBool(&cfg.Redis.Enabled, "VAULT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "VAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAULT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VAULT_REDIS_MAX_RETRIES")

	setBool(&cfg.Postgres.Enabled, "VAULT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "VAULT_POSTGRES_DSN")
	setInt(&cfg.Postgres.PoolMaxConns, "VAULT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VAULT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VAULT_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Progress.Enabled, "VAULT_PROGRESS_ENABLED")
	setInt(&cfg.Progress.Port, "VAULT_PROGRESS_PORT")

	setStr(&cfg.Notify.TelegramToken, "VAULT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VAULT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VAULT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VAULT_NOTIFY_EVENTS")

	setStr(&cfg.LogLevel, "VAULT_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
