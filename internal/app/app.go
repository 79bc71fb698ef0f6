// Package app owns the process lifecycle: it builds the dependency graph for
// the configured ledger backend and runs the goroutines of one mode
// (server, archive or full) until the context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/vaultswap/internal/config"
)

// App runs one mode over the dependencies Wire builds for its config.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	release []func()
}

// New returns an App that has not wired anything yet.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies and blocks in the configured mode. Resources it
// opened stay open until Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: run",
		slog.String("mode", a.cfg.Mode),
		slog.String("ledger", a.cfg.Ledger.Backend),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.onClose(cleanup)

	run, ok := a.modes()[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	return run(ctx, deps)
}

func (a *App) modes() map[string]func(context.Context, *Dependencies) error {
	return map[string]func(context.Context, *Dependencies) error{
		"server":  a.ServerMode,
		"archive": a.ArchiveMode,
		"full":    a.FullMode,
	}
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release = append(a.release, fn)
}

// Close releases everything Run opened, newest first. Later calls do nothing.
func (a *App) Close() {
	a.mu.Lock()
	release := a.release
	a.release = nil
	a.mu.Unlock()

	if len(release) == 0 {
		return
	}
	a.logger.Info("app: releasing resources", slog.Int("count", len(release)))
	for i := len(release) - 1; i >= 0; i-- {
		release[i]()
	}
}
