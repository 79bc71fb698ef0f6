package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/vaultswap/internal/ledger"
	"github.com/alanyoungcy/vaultswap/internal/server"
	"github.com/alanyoungcy/vaultswap/internal/server/handler"
	"github.com/alanyoungcy/vaultswap/internal/server/ws"
	"github.com/alanyoungcy/vaultswap/internal/service"
)

const (
	shutdownTimeout      = 5 * time.Second
	receiptSweepInterval = time.Minute
)

// ServerMode serves the HTTP API and the WebSocket feed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	g.Go(func() error {
		return a.runReceiptSweep(ctx, deps, receiptSweepInterval)
	})
	return g.Wait()
}

// ArchiveMode only runs the history archive loop.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return errors.New("app: archive mode needs s3 and postgres")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runArchiveLoop(ctx, deps)
	})
	return g.Wait()
}

// FullMode serves the API and, when enabled, archives history in the same
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
		g.Go(func() error {
			return a.runReceiptSweep(ctx, deps, receiptSweepInterval)
		})
	}
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// startHTTPServer adds the HTTP server and the WebSocket hub to g. The server
// is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Channel:   service.ChannelMarkets,
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	h := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, healthChecks(deps), a.logger),
		Markets: handler.NewMarketHandler(deps.Markets, a.logger),
		Tokens:  handler.NewTokenHandler(deps.Tokens, a.logger),
		Hub:     hub,
	}
	if deps.Archiver != nil {
		h.Archive = handler.NewArchiveHandler(deps.Archiver, a.logger)
	}
	if deps.Audit != nil {
		h.Audit = handler.NewAuditHandler(deps.Audit, a.logger)
	}
	if a.cfg.Metrics.Enabled {
		h.Metrics = deps.Metrics.Handler()
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.Limiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateEvery:   a.cfg.Server.RateWindow.Duration,
	}, h, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// runArchiveLoop archives history older than the retention period once at
// start and then on every interval tick.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	runOnce := func() {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := deps.Archiver.ArchiveHistory(ctx, cutoff)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "archive: run failed", slog.String("error", err.Error()))
			}
			return
		}
		deps.Metrics.Archived.Add(float64(n))
		a.logger.InfoContext(ctx, "archive: run complete",
			slog.Int64("events", n),
			slog.Time("cutoff", cutoff),
		)
	}

	a.logger.InfoContext(ctx, "archive loop started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	runOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runOnce()
		}
	}
}

// runReceiptSweep deletes expired transaction receipts on every tick.
func (a *App) runReceiptSweep(ctx context.Context, deps *Dependencies, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := ledger.SweepReceipts(ctx, deps.Ledger, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					a.logger.WarnContext(ctx, "receipt sweep failed", slog.String("error", err.Error()))
				}
				continue
			}
			if n > 0 {
				a.logger.DebugContext(ctx, "receipts swept", slog.Int("removed", n))
			}
		}
	}
}
