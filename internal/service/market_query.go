package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/escrow"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// MarketDetail is an open market together with its vault and what the
// vault currently holds.
type MarketDetail struct {
	domain.Market
	Vault        escrow.Vault `json:"vault"`
	VaultBalance uint64       `json:"vault_balance"`
}

// GetMarket returns the open market at id, from the cache when it has it.
func (s *MarketService) GetMarket(ctx context.Context, id domain.Address) (domain.Market, error) {
	if s.deps.Cache != nil {
		m, err := s.deps.Cache.Get(ctx, id)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "cache get failed",
				slog.String("market_id", id.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	var m domain.Market
	err := s.view(ctx, func(inv *ledger.Invocation) error {
		var err error
		m, err = s.deps.Controller.Get(inv, id)
		return err
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", id, err)
	}
	s.cacheSet(ctx, m)
	return m, nil
}

// MarketDetail reads the record and the live vault balance from one ledger
// snapshot.
func (s *MarketService) MarketDetail(ctx context.Context, id domain.Address) (MarketDetail, error) {
	var d MarketDetail
	err := s.view(ctx, func(inv *ledger.Invocation) error {
		m, err := s.deps.Controller.Get(inv, id)
		if err != nil {
			return err
		}
		bal, err := s.deps.Controller.VaultBalance(inv, m)
		if err != nil {
			return err
		}
		v, err := escrow.DeriveVault(s.ProgramID(), m.Variant, m.ID, m.DepositAsset.IsNative())
		if err != nil {
			return err
		}
		d = MarketDetail{Market: m, Vault: v, VaultBalance: bal}
		return nil
	})
	if err != nil {
		return MarketDetail{}, fmt.Errorf("market_service: detail %s: %w", id, err)
	}
	s.cacheSet(ctx, d.Market)
	return d, nil
}

// ListByCreator returns the open markets of creator.
func (s *MarketService) ListByCreator(ctx context.Context, creator domain.Address) ([]domain.Market, error) {
	var out []domain.Market
	err := s.view(ctx, func(inv *ledger.Invocation) error {
		var err error
		out, err = s.deps.Controller.ListByCreator(inv, creator)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market_service: list by creator %s: %w", creator, err)
	}
	return out, nil
}

// ListOpen pages through every open market in address order and returns
// the page plus the total number open.
func (s *MarketService) ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, int, error) {
	var all []domain.Market
	err := s.view(ctx, func(inv *ledger.Invocation) error {
		var err error
		all, err = s.deps.Controller.ListOpen(inv)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("market_service: list open: %w", err)
	}
	s.deps.Metrics.OpenMarkets.Set(float64(len(all)))

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset := max(opts.Offset, 0)
	if offset >= len(all) {
		return []domain.Market{}, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

// History returns every recorded event of one market, oldest first. Closed
// markets are only visible here.
func (s *MarketService) History(ctx context.Context, id domain.Address) ([]domain.MarketEvent, error) {
	if s.deps.History == nil {
		return []domain.MarketEvent{}, nil
	}
	events, err := s.deps.History.ListByMarket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market_service: history %s: %w", id, err)
	}
	return events, nil
}

// CreatorHistory returns events of markets opened by creator, newest first.
func (s *MarketService) CreatorHistory(ctx context.Context, creator domain.Address, opts domain.ListOpts) ([]domain.MarketEvent, error) {
	if s.deps.History == nil {
		return []domain.MarketEvent{}, nil
	}
	events, err := s.deps.History.ListByCreator(ctx, creator, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: history of %s: %w", creator, err)
	}
	return events, nil
}

// RecentEvents reads the durable event stream after lastID ("0" for the
// beginning).
func (s *MarketService) RecentEvents(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if s.deps.Bus == nil {
		return []domain.StreamMessage{}, nil
	}
	if lastID == "" {
		lastID = "0"
	}
	if count <= 0 || count > maxListLimit {
		count = defaultListLimit
	}
	msgs, err := s.deps.Bus.StreamRead(ctx, StreamMarketEvents, lastID, count)
	if err != nil {
		return nil, fmt.Errorf("market_service: read events: %w", err)
	}
	return msgs, nil
}

func (s *MarketService) view(ctx context.Context, fn ledger.Handler) error {
	return s.deps.Runtime.View(ctx, s.ProgramID(), fn)
}
