package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/service"
)

// MarketService is what the market endpoints need from the service layer.
type MarketService interface {
	CreateMarket(ctx context.Context, req service.CreateMarketRequest) (domain.Market, error)
	CancelMarket(ctx context.Context, req service.CancelMarketRequest) (domain.Market, error)
	ExchangeMarket(ctx context.Context, req service.ExchangeMarketRequest) (domain.Market, error)
	MarketDetail(ctx context.Context, id domain.Address) (service.MarketDetail, error)
	ListByCreator(ctx context.Context, creator domain.Address) ([]domain.Market, error)
	ListOpen(ctx context.Context, opts domain.ListOpts) ([]domain.Market, int, error)
	History(ctx context.Context, id domain.Address) ([]domain.MarketEvent, error)
	CreatorHistory(ctx context.Context, creator domain.Address, opts domain.ListOpts) ([]domain.MarketEvent, error)
	RecentEvents(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
}

// MarketHandler serves the market lifecycle endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logHandler(logger, "market")}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// CreateMarket opens a market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.markets.CreateMarket(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// CancelMarket returns the deposit to the creator.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	var req service.CancelMarketRequest
	if !h.decodeFor(w, r, &req, &req.MarketID) {
		return
	}
	m, err := h.markets.CancelMarket(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ExchangeMarket settles the market against the signing taker.
// POST /api/markets/{id}/exchange
func (h *MarketHandler) ExchangeMarket(w http.ResponseWriter, r *http.Request) {
	var req service.ExchangeMarketRequest
	if !h.decodeFor(w, r, &req, &req.MarketID) {
		return
	}
	m, err := h.markets.ExchangeMarket(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// decodeFor decodes a request addressed to the market in the path. A body
// that omits the market id takes it from the path; one that names another
// market is rejected.
func (h *MarketHandler) decodeFor(w http.ResponseWriter, r *http.Request, req any, marketID *domain.Address) bool {
	id, err := addressParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return false
	}
	if err := decodeJSON(w, r, req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	switch {
	case marketID.IsZero():
		*marketID = id
	case *marketID != id:
		writeError(w, http.StatusBadRequest, "market_id does not match path")
		return false
	}
	return true
}

// GetMarket returns an open market with its vault and vault balance.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := addressParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	d, err := h.markets.MarketDetail(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListMarkets lists open markets, or only those of ?creator=.
// GET /api/markets?creator=&limit=&offset=
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	if c := r.URL.Query().Get("creator"); c != "" {
		creator, err := domain.ParseAddress(c)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		markets, err := h.markets.ListByCreator(r.Context(), creator)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, listMarketsResponse{
			Markets: nonNil(markets), Total: len(markets), Limit: len(markets),
		})
		return
	}

	markets, total, err := h.markets.ListOpen(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: nonNil(markets), Total: total, Limit: opts.Limit, Offset: opts.Offset,
	})
}

// MarketHistory returns every recorded event of a market, open or closed.
// GET /api/markets/{id}/history
func (h *MarketHandler) MarketHistory(w http.ResponseWriter, r *http.Request) {
	id, err := addressParam(r, "id")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	events, err := h.markets.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": nonNil(events)})
}

// CreatorHistory returns events of a creator's markets, newest first.
// GET /api/creators/{address}/history?limit=&offset=
func (h *MarketHandler) CreatorHistory(w http.ResponseWriter, r *http.Request) {
	creator, err := addressParam(r, "address")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	events, err := h.markets.CreatorHistory(r.Context(), creator, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": nonNil(events)})
}

type streamEvent struct {
	StreamID string             `json:"stream_id"`
	Event    domain.MarketEvent `json:"event"`
}

// Events replays the durable event stream after ?after=.
// GET /api/events?after=&count=
func (h *MarketHandler) Events(w http.ResponseWriter, r *http.Request) {
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	msgs, err := h.markets.RecentEvents(r.Context(), r.URL.Query().Get("after"), count)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	out := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		var e domain.MarketEvent
		if err := json.Unmarshal(m.Payload, &e); err != nil {
			h.logger.WarnContext(r.Context(), "skipping undecodable stream entry",
				slog.String("stream_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, streamEvent{StreamID: m.ID, Event: e})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
