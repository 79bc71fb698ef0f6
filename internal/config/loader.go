package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VAULTSWAP_* environment variable overrides, and
// returns the final Config. An empty path skips the file and starts from the
// defaults. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VAULTSWAP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "VAULTSWAP_LEDGER_BACKEND")
	setStr(&cfg.Ledger.ProgramID, "VAULTSWAP_LEDGER_PROGRAM_ID")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "VAULTSWAP_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "VAULTSWAP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VAULTSWAP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VAULTSWAP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VAULTSWAP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VAULTSWAP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VAULTSWAP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VAULTSWAP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VAULTSWAP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VAULTSWAP_POSTGRES_RUN_MIGRATIONS")
	setDuration(&cfg.Postgres.ConnectTimeout, "VAULTSWAP_POSTGRES_CONNECT_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "VAULTSWAP_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "VAULTSWAP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULTSWAP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULTSWAP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAULTSWAP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VAULTSWAP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VAULTSWAP_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "VAULTSWAP_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.CacheTTL, "VAULTSWAP_REDIS_CACHE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "VAULTSWAP_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "VAULTSWAP_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "VAULTSWAP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VAULTSWAP_S3_REGION")
	setStr(&cfg.S3.Bucket, "VAULTSWAP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VAULTSWAP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VAULTSWAP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VAULTSWAP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VAULTSWAP_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "VAULTSWAP_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "VAULTSWAP_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "VAULTSWAP_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.Prune, "VAULTSWAP_ARCHIVE_PRUNE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VAULTSWAP_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VAULTSWAP_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VAULTSWAP_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VAULTSWAP_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "VAULTSWAP_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "VAULTSWAP_SERVER_RATE_WINDOW")
	setInt(&cfg.Server.SubmitLimit, "VAULTSWAP_SERVER_SUBMIT_LIMIT")
	setDuration(&cfg.Server.SubmitWindow, "VAULTSWAP_SERVER_SUBMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VAULTSWAP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VAULTSWAP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VAULTSWAP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VAULTSWAP_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "VAULTSWAP_METRICS_ENABLED")
	setStr(&cfg.Metrics.Namespace, "VAULTSWAP_METRICS_NAMESPACE")

	// ── Top-level ──
	setStr(&cfg.Mode, "VAULTSWAP_MODE")
	setStr(&cfg.LogLevel, "VAULTSWAP_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
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
