// Package config defines the top-level configuration for the vaultswap engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VAULTSWAP_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig selects where accounts live and which program id the escrow
// controller runs under.
type LedgerConfig struct {
	// Backend is "memory" or "postgres".
	Backend   string `toml:"backend"`
	ProgramID string `toml:"program_id"`
	// Genesis wallets are credited once at startup. Useful for the memory
	// backend and local demos.
	Genesis []GenesisAccount `toml:"genesis"`
}

// GenesisAccount is one wallet credited at startup.
type GenesisAccount struct {
	Address  string `toml:"address"`
	Lamports uint64 `toml:"lamports"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	RunMigrations  bool     `toml:"run_migrations"`
	ConnectTimeout duration `toml:"connect_timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the market history archive loop.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	// Prune deletes archived rows from postgres after a successful upload.
	Prune bool `toml:"prune"`
}

// duration wraps time.Duration so it can be decoded from a TOML string such as
// "5m" or "1h30m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required as X-API-Key on every route except
	// health and metrics.
	APIKey       string   `toml:"api_key"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	SubmitLimit  int      `toml:"submit_limit"`
	SubmitWindow duration `toml:"submit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig names the Prometheus namespace.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Defaults returns a Config populated with reasonable default values: an
// in-memory ledger serving HTTP on :8000 with every external backend off.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			Backend:   "memory",
			ProgramID: "4HoSGEVaYsRGpHuX8vPFDUsZdx87jVe8ZeG6sKETcFgT",
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "vaultswap",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			RunMigrations:  true,
			ConnectTimeout: duration{5 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "vaultswap:",
			CacheTTL:     duration{5 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vaultswap-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
			Prune:         false,
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
			SubmitLimit:  30,
			SubmitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{string(domain.EventMarketExchanged), string(domain.EventMarketCancelled)},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "vaultswap",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
}

var validEvents = map[string]bool{
	string(domain.EventMarketCreated):   true,
	string(domain.EventMarketCancelled): true,
	string(domain.EventMarketExchanged): true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	backend := strings.ToLower(c.Ledger.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: memory, postgres)", c.Ledger.Backend))
	}
	if _, err := domain.ParseAddress(c.Ledger.ProgramID); err != nil {
		errs = append(errs, fmt.Sprintf("ledger: program_id: %v", err))
	}
	for i, g := range c.Ledger.Genesis {
		if _, err := domain.ParseAddress(g.Address); err != nil {
			errs = append(errs, fmt.Sprintf("ledger: genesis[%d].address: %v", i, err))
		}
		if g.Lamports == 0 {
			errs = append(errs, fmt.Sprintf("ledger: genesis[%d].lamports must be > 0", i))
		}
	}

	// Postgres is required by the postgres backend and by archiving, which
	// reads history from it.
	needsPostgres := backend == "postgres" || c.archiving()
	if needsPostgres {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.CacheTTL.Duration <= 0 {
			errs = append(errs, "redis: cache_ttl must be > 0")
		}
	}

	// S3
	if c.S3.Enabled || c.archiving() {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Archive
	if c.archiving() {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if backend != "postgres" {
			errs = append(errs, "archive: requires ledger.backend = postgres")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 || c.Server.SubmitLimit < 0 {
			errs = append(errs, "server: rate_limit and submit_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
		if c.Server.SubmitLimit > 0 && c.Server.SubmitWindow.Duration <= 0 {
			errs = append(errs, "server: submit_window must be > 0 when submit_limit is set")
		}
	}
	if mode == "server" && !c.Server.Enabled {
		errs = append(errs, "server: mode server requires server.enabled")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if !validEvents[e] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		errs = append(errs, "metrics: namespace must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// archiving reports whether the selected mode runs the archive loop.
func (c *Config) archiving() bool {
	mode := strings.ToLower(c.Mode)
	return mode == "archive" || (mode == "full" && c.Archive.Enabled)
}

// ProgramID returns the parsed escrow program id. Call after Validate.
func (c *Config) ProgramID() domain.Address {
	id, err := domain.ParseAddress(c.Ledger.ProgramID)
	if err != nil {
		return domain.Address{}
	}
	return id
}
