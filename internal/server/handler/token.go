package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/service"
)

// TokenService is what the token endpoints need from the service layer.
type TokenService interface {
	CreateMint(ctx context.Context, req service.CreateMintRequest) error
	MintTo(ctx context.Context, req service.MintToRequest) (domain.Address, error)
	Balance(ctx context.Context, wallet domain.Address) (service.WalletBalance, error)
}

// TokenHandler serves token issuance and wallet balances.
type TokenHandler struct {
	tokens TokenService
	logger *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(tokens TokenService, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{tokens: tokens, logger: logHandler(logger, "token")}
}

// CreateMint registers a token kind.
// POST /api/tokens/mints
func (h *TokenHandler) CreateMint(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.tokens.CreateMint(r.Context(), req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"mint": req.Mint})
}

// MintTo issues tokens to a wallet.
// POST /api/tokens/issue
func (h *TokenHandler) MintTo(w http.ResponseWriter, r *http.Request) {
	var req service.MintToRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	holder, err := h.tokens.MintTo(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": holder, "amount": req.Amount})
}

// Balance reports a wallet's lamports and token holdings.
// GET /api/accounts/{address}
func (h *TokenHandler) Balance(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	bal, err := h.tokens.Balance(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}
