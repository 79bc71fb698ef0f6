package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/vaultswap/internal/blob/s3"
	"github.com/alanyoungcy/vaultswap/internal/cache/memory"
	"github.com/alanyoungcy/vaultswap/internal/cache/redis"
	"github.com/alanyoungcy/vaultswap/internal/config"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/escrow"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
	"github.com/alanyoungcy/vaultswap/internal/metrics"
	"github.com/alanyoungcy/vaultswap/internal/notify"
	"github.com/alanyoungcy/vaultswap/internal/server/handler"
	"github.com/alanyoungcy/vaultswap/internal/service"
	"github.com/alanyoungcy/vaultswap/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional backends are nil
// when their section is disabled.
type Dependencies struct {
	Ledger     domain.Ledger
	Runtime    *ledger.Runtime
	Controller *escrow.Controller

	// Backends, kept for health checks.
	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client

	// Stores
	History domain.HistoryStore
	Audit   domain.AuditStore

	// Caches and messaging
	Cache   domain.MarketCache
	Limiter domain.RateLimiter
	Bus     domain.SignalBus

	// Blob storage
	Blobs    *s3blob.Store
	Archiver *s3blob.ArchiveImpl

	Notifier service.EventNotifier
	Metrics  *metrics.Metrics

	Markets *service.MarketService
	Tokens  *service.TokenService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{}
	backend := strings.ToLower(cfg.Ledger.Backend)
	mode := strings.ToLower(cfg.Mode)

	// --- PostgreSQL ---
	archiving := mode == "archive" || (mode == "full" && cfg.Archive.Enabled)
	if backend == "postgres" || archiving {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.Postgres = pgClient
		deps.History = postgres.NewHistoryStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		if backend == "postgres" {
			deps.Ledger = postgres.NewLedger(pool)
		}
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.NewMemoryLedger()
	}

	programID, err := domain.ParseAddress(cfg.Ledger.ProgramID)
	if err != nil {
		return fail("program id", err)
	}
	deps.Runtime = ledger.NewRuntime(deps.Ledger)
	deps.Controller = escrow.NewController(programID)

	if err := fundGenesis(ctx, deps.Ledger, cfg.Ledger.Genesis, logger); err != nil {
		return fail("genesis", err)
	}

	// --- Redis, or an in-process bus ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.Cache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	} else {
		deps.Bus = memory.NewBus(int(cfg.Redis.StreamMaxLen))
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.S3 = s3Client
		deps.Blobs = s3blob.NewStore(s3Client)
		// The archiver reads history from postgres.
		if h, ok := deps.History.(*postgres.HistoryStore); ok {
			var pruner s3blob.HistoryPruner
			if cfg.Archive.Prune {
				pruner = h
			}
			deps.Archiver = s3blob.NewArchiver(deps.Blobs, h, pruner, deps.Audit)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.PrometheusMetrics(cfg.Metrics.Namespace)
	} else {
		deps.Metrics = metrics.NopMetrics()
	}

	// --- Services ---
	deps.Markets = service.NewMarketService(service.MarketDeps{
		Runtime:     deps.Runtime,
		Controller:  deps.Controller,
		Cache:       deps.Cache,
		Bus:         deps.Bus,
		History:     deps.History,
		Audit:       deps.Audit,
		Notifier:    deps.Notifier,
		Metrics:     deps.Metrics,
		Limiter:     deps.Limiter,
		SubmitLimit: cfg.Server.SubmitLimit,
		SubmitEvery: cfg.Server.SubmitWindow.Duration,
	}, logger)
	deps.Tokens = service.NewTokenService(deps.Runtime, logger)

	return deps, cleanup, nil
}

// fundGenesis credits each configured wallet that does not exist yet.
func fundGenesis(ctx context.Context, l domain.Ledger, accounts []config.GenesisAccount, logger *slog.Logger) error {
	for _, g := range accounts {
		addr, err := domain.ParseAddress(g.Address)
		if err != nil {
			return fmt.Errorf("address %q: %w", g.Address, err)
		}
		created, err := ledger.FundOnce(ctx, l, addr, g.Lamports)
		if err != nil {
			return fmt.Errorf("fund %s: %w", addr, err)
		}
		if created {
			logger.InfoContext(ctx, "genesis wallet funded",
				slog.String("address", addr.String()),
				slog.Uint64("lamports", g.Lamports),
			)
		}
	}
	return nil
}

// healthChecks probes every backend that was wired.
func healthChecks(deps *Dependencies) map[string]handler.Check {
	checks := map[string]handler.Check{}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres.Ping
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}
	return checks
}
