// Package service runs signed lifecycle requests against the ledger and fans
// committed transitions out to the cache, the event bus, the history and
// audit stores, notifications and metrics.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/escrow"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
	"github.com/alanyoungcy/vaultswap/internal/metrics"
)

const (
	// ChannelMarkets carries every committed MarketEvent as JSON.
	ChannelMarkets = "markets"
	// StreamMarketEvents is the durable copy of ChannelMarkets.
	StreamMarketEvents = "market_events"

	notifyTimeout = 15 * time.Second
)

// EventNotifier delivers committed events to humans.
type EventNotifier interface {
	NotifyMarket(ctx context.Context, e domain.MarketEvent) error
}

// MarketDeps are the collaborators of a MarketService. Runtime and
// Controller are required; any other field may be left nil.
type MarketDeps struct {
	Runtime    *ledger.Runtime
	Controller *escrow.Controller

	Cache    domain.MarketCache
	Bus      domain.SignalBus
	History  domain.HistoryStore
	Audit    domain.AuditStore
	Notifier EventNotifier
	Metrics  *metrics.Metrics

	// Limiter caps submissions per signing wallet.
	Limiter     domain.RateLimiter
	SubmitLimit int
	SubmitEvery time.Duration
}

// MarketService is the submission and query layer over the escrow program.
type MarketService struct {
	deps   MarketDeps
	logger *slog.Logger
	now    func() time.Time
}

// NewMarketService creates a MarketService.
func NewMarketService(deps MarketDeps, logger *slog.Logger) *MarketService {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NopMetrics()
	}
	return &MarketService{
		deps:   deps,
		logger: logger.With(slog.String("component", "market_service")),
		now:    time.Now,
	}
}

// ProgramID is the escrow program requests are signed for.
func (s *MarketService) ProgramID() domain.Address {
	return s.deps.Controller.ProgramID()
}

// CreateMarket opens a market and returns its record.
func (s *MarketService) CreateMarket(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	started := s.now()
	if err := s.allow(ctx, req.Creator); err != nil {
		return domain.Market{}, err
	}

	tx, err := req.transaction(req.SigningBytes(s.ProgramID()), req.Signatures)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create %s: %w", req.MarketID, err)
	}
	params := escrow.CreateParams{
		MarketID:       req.MarketID,
		Creator:        req.Creator,
		Variant:        req.Variant,
		Direction:      req.Direction,
		DepositAsset:   req.DepositAsset,
		DepositAmount:  req.DepositAmount,
		ReceiveAsset:   req.ReceiveAsset,
		ReceiveAmount:  req.ReceiveAmount,
		CreatorDeposit: req.CreatorDeposit,
	}

	var m domain.Market
	err = s.deps.Runtime.Execute(ctx, s.ProgramID(), tx, func(inv *ledger.Invocation) error {
		var err error
		m, err = s.deps.Controller.Create(inv, params)
		return err
	})
	s.deps.Metrics.Observe("create", string(req.Variant), outcome(err), started)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create %s: %w", req.MarketID, err)
	}

	s.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID.String()),
		slog.String("creator", m.Creator.String()),
		slog.String("variant", string(m.Variant)),
		slog.Uint64("deposit", m.DepositAmount),
		slog.Uint64("receive", m.ReceiveAmount),
	)
	s.cacheSet(ctx, m)
	s.committed(ctx, domain.EventMarketCreated, m, req.Creator, firstSignature(req.Signatures))
	return m, nil
}

// CancelMarket closes a market in favour of its creator and returns the
// record as it was before closing.
func (s *MarketService) CancelMarket(ctx context.Context, req CancelMarketRequest) (domain.Market, error) {
	started := s.now()
	if err := s.allow(ctx, req.Caller); err != nil {
		return domain.Market{}, err
	}

	tx, err := req.transaction(req.SigningBytes(s.ProgramID()), req.Signatures)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: cancel %s: %w", req.MarketID, err)
	}
	params := escrow.CancelParams{
		MarketID: req.MarketID,
		Caller:   req.Caller,
		Vault:    req.Vault,
		Refund:   req.Refund,
	}

	var m domain.Market
	err = s.deps.Runtime.Execute(ctx, s.ProgramID(), tx, func(inv *ledger.Invocation) error {
		var err error
		m, err = s.deps.Controller.Cancel(inv, params)
		return err
	})
	s.deps.Metrics.Observe("cancel", s.variantOf(ctx, m, req.MarketID), outcome(err), started)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: cancel %s: %w", req.MarketID, err)
	}

	s.logger.InfoContext(ctx, "market cancelled",
		slog.String("market_id", m.ID.String()),
		slog.String("creator", m.Creator.String()),
	)
	s.cacheInvalidate(ctx, m.ID)
	s.committed(ctx, domain.EventMarketCancelled, m, req.Caller, firstSignature(req.Signatures))
	return m, nil
}

// ExchangeMarket settles a market against the taker and returns the record
// as it was before closing.
func (s *MarketService) ExchangeMarket(ctx context.Context, req ExchangeMarketRequest) (domain.Market, error) {
	started := s.now()
	if err := s.allow(ctx, req.Taker); err != nil {
		return domain.Market{}, err
	}

	tx, err := req.transaction(req.SigningBytes(s.ProgramID()), req.Signatures)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: exchange %s: %w", req.MarketID, err)
	}
	params := escrow.ExchangeParams{
		MarketID:       req.MarketID,
		Taker:          req.Taker,
		Vault:          req.Vault,
		TakerPay:       req.TakerPay,
		TakerReceive:   req.TakerReceive,
		CreatorReceive: req.CreatorReceive,
		Quote:          req.quote(),
	}

	var m domain.Market
	err = s.deps.Runtime.Execute(ctx, s.ProgramID(), tx, func(inv *ledger.Invocation) error {
		var err error
		m, err = s.deps.Controller.Exchange(inv, params)
		return err
	})
	s.deps.Metrics.Observe("exchange", s.variantOf(ctx, m, req.MarketID), outcome(err), started)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: exchange %s: %w", req.MarketID, err)
	}

	s.logger.InfoContext(ctx, "market exchanged",
		slog.String("market_id", m.ID.String()),
		slog.String("creator", m.Creator.String()),
		slog.String("taker", req.Taker.String()),
	)
	s.cacheInvalidate(ctx, m.ID)
	s.committed(ctx, domain.EventMarketExchanged, m, req.Taker, firstSignature(req.Signatures))
	return m, nil
}

// allow applies the per-wallet submission limit. Limiter failures let the
// request through.
func (s *MarketService) allow(ctx context.Context, signer domain.Address) error {
	if s.deps.Limiter == nil || s.deps.SubmitLimit <= 0 {
		return nil
	}
	ok, err := s.deps.Limiter.Allow(ctx, "submit:"+signer.String(), s.deps.SubmitLimit, s.deps.SubmitEvery)
	if err != nil {
		s.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return fmt.Errorf("market_service: %s: %w", signer, domain.ErrRateLimited)
	}
	return nil
}

// committed records a transition that is already final on the ledger.
// Nothing here can undo it, so failures are only logged.
func (s *MarketService) committed(ctx context.Context, typ domain.MarketEventType, m domain.Market, actor domain.Address, sig string) {
	e := domain.MarketEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Market:    m,
		Actor:     actor,
		Signature: sig,
		At:        s.now().UTC(),
	}

	if s.deps.Bus != nil {
		payload, err := json.Marshal(e)
		if err != nil {
			s.logger.ErrorContext(ctx, "marshal market event", slog.String("error", err.Error()))
		} else {
			if err := s.deps.Bus.Publish(ctx, ChannelMarkets, payload); err != nil {
				s.warn(ctx, "publish market event", e, err)
			}
			if err := s.deps.Bus.StreamAppend(ctx, StreamMarketEvents, payload); err != nil {
				s.warn(ctx, "append market event", e, err)
			}
		}
	}
	if s.deps.History != nil {
		if err := s.deps.History.Record(ctx, e); err != nil {
			s.warn(ctx, "record market history", e, err)
		}
	}
	if s.deps.Audit != nil {
		detail := map[string]any{
			"market_id": m.ID.String(),
			"creator":   m.Creator.String(),
			"actor":     actor.String(),
			"variant":   string(m.Variant),
			"signature": sig,
		}
		if err := s.deps.Audit.Log(ctx, string(typ), detail); err != nil {
			s.warn(ctx, "audit market event", e, err)
		}
	}
	if s.deps.Notifier != nil {
		go func() {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()
			if err := s.deps.Notifier.NotifyMarket(nctx, e); err != nil {
				s.warn(nctx, "notify market event", e, err)
			}
		}()
	}
}

func (s *MarketService) warn(ctx context.Context, msg string, e domain.MarketEvent, err error) {
	s.logger.WarnContext(ctx, msg,
		slog.String("event_id", e.ID),
		slog.String("market_id", e.Market.ID.String()),
		slog.String("error", err.Error()),
	)
}

func (s *MarketService) cacheSet(ctx context.Context, m domain.Market) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("market_id", m.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// cacheInvalidate drops a closed market. Other replicas keep a stale entry
// until its TTL runs out; reads that move value always go to the ledger.
func (s *MarketService) cacheInvalidate(ctx context.Context, id domain.Address) {
	if s.deps.Cache == nil {
		return
	}
	if err := s.deps.Cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("market_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}

// variantOf labels a failed Cancel or Exchange, which returns no record,
// from the cache when possible.
func (s *MarketService) variantOf(ctx context.Context, m domain.Market, id domain.Address) string {
	if m.Variant != "" {
		return string(m.Variant)
	}
	if s.deps.Cache != nil {
		if cached, err := s.deps.Cache.Get(ctx, id); err == nil {
			return string(cached.Variant)
		}
	}
	return "unknown"
}

// outcome is the metrics label for err.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Cancelled"
	}
	return domain.ErrorKind(err)
}
