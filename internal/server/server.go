// Package server is the HTTP and WebSocket front end of the market service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/server/handler"
	"github.com/alanyoungcy/vaultswap/internal/server/middleware"
	"github.com/alanyoungcy/vaultswap/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards every route except health and metrics. Empty disables
	// authentication.
	APIKey string

	// Limiter, when set, caps requests per client IP.
	Limiter   domain.RateLimiter
	RateLimit int
	RateEvery time.Duration
}

// Handlers are the route handlers. Archive, Audit, Metrics and Hub may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Tokens  *handler.TokenHandler
	Archive *handler.ArchiveHandler
	Audit   *handler.AuditHandler
	Metrics http.Handler
	Hub     *ws.Hub
}

// Server is the API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in CORS, logging, rate
// limiting and auth, outermost first.
func NewServer(cfg Config, h Handlers, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           Routes(cfg, h, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the full handler chain.
func Routes(cfg Config, h Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("POST /api/markets", h.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", h.Markets.CancelMarket)
	mux.HandleFunc("POST /api/markets/{id}/exchange", h.Markets.ExchangeMarket)
	mux.HandleFunc("GET /api/markets/{id}/history", h.Markets.MarketHistory)
	mux.HandleFunc("GET /api/creators/{address}/history", h.Markets.CreatorHistory)
	mux.HandleFunc("GET /api/events", h.Markets.Events)

	mux.HandleFunc("POST /api/tokens/mints", h.Tokens.CreateMint)
	mux.HandleFunc("POST /api/tokens/issue", h.Tokens.MintTo)
	mux.HandleFunc("GET /api/accounts/{address}", h.Tokens.Balance)

	if h.Archive != nil {
		mux.HandleFunc("GET /api/archives", h.Archive.ListArchives)
	}
	if h.Audit != nil {
		mux.HandleFunc("GET /api/audit", h.Audit.ListAudit)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	var chain http.Handler = mux
	chain = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(chain)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateEvery)(chain)
	}
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)
	return chain
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
