package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
	"github.com/alanyoungcy/vaultswap/internal/token"
)

// TokenService issues tokens and reports wallet balances so that markets
// have something to trade.
type TokenService struct {
	rt     *ledger.Runtime
	logger *slog.Logger
}

// NewTokenService creates a TokenService over rt.
func NewTokenService(rt *ledger.Runtime, logger *slog.Logger) *TokenService {
	return &TokenService{rt: rt, logger: logger.With(slog.String("component", "token_service"))}
}

// Holding is one token balance of a wallet.
type Holding struct {
	Account domain.Address `json:"account"`
	Mint    domain.Address `json:"mint"`
	Amount  uint64         `json:"amount"`
}

// WalletBalance is what a wallet holds across the native currency and
// every token.
type WalletBalance struct {
	Address  domain.Address `json:"address"`
	Lamports uint64         `json:"lamports"`
	Tokens   []Holding      `json:"tokens"`
}

// CreateMint registers a new token kind at req.Mint.
func (s *TokenService) CreateMint(ctx context.Context, req CreateMintRequest) error {
	tx := ledger.Transaction{Message: req.SigningBytes(token.ProgramID), Signatures: req.Signatures}
	err := s.rt.Execute(ctx, token.ProgramID, tx, func(inv *ledger.Invocation) error {
		return token.CreateMint(inv, req.Payer, req.Mint, req.Authority, req.Decimals)
	})
	if err != nil {
		return fmt.Errorf("token_service: create mint %s: %w", req.Mint, err)
	}
	s.logger.InfoContext(ctx, "mint created",
		slog.String("mint", req.Mint.String()),
		slog.Int("decimals", int(req.Decimals)),
	)
	return nil
}

// MintTo issues req.Amount into the owner's associated account and returns
// that account.
func (s *TokenService) MintTo(ctx context.Context, req MintToRequest) (domain.Address, error) {
	if req.Amount == 0 {
		return domain.Address{}, fmt.Errorf("token_service: mint to: %w", domain.ErrInvalidAmount)
	}
	tx := ledger.Transaction{Message: req.SigningBytes(token.ProgramID), Signatures: req.Signatures}

	var holder domain.Address
	err := s.rt.Execute(ctx, token.ProgramID, tx, func(inv *ledger.Invocation) error {
		m, err := token.GetMint(inv, req.Mint)
		if err != nil {
			return err
		}
		if holder, err = token.CreateHolderAccount(inv, m.Authority, req.Owner, req.Mint); err != nil {
			return err
		}
		return token.MintTo(inv, req.Mint, holder, req.Amount)
	})
	if err != nil {
		return domain.Address{}, fmt.Errorf("token_service: mint to %s: %w", req.Owner, err)
	}
	s.logger.InfoContext(ctx, "tokens issued",
		slog.String("mint", req.Mint.String()),
		slog.String("owner", req.Owner.String()),
		slog.Uint64("amount", req.Amount),
	)
	return holder, nil
}

// Balance reports a wallet's lamports and token holdings.
func (s *TokenService) Balance(ctx context.Context, wallet domain.Address) (WalletBalance, error) {
	out := WalletBalance{Address: wallet, Tokens: []Holding{}}
	err := s.rt.View(ctx, token.ProgramID, func(inv *ledger.Invocation) error {
		acct, err := inv.Account(wallet)
		switch {
		case err == nil:
			out.Lamports = acct.Lamports
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		accts, err := inv.Scan(token.ProgramID, token.OwnerFilter(wallet))
		if err != nil {
			return err
		}
		for _, a := range accts {
			if len(a.Data) != token.HolderSize {
				continue
			}
			h, err := token.GetHolder(inv, a.Address)
			if err != nil {
				return err
			}
			out.Tokens = append(out.Tokens, Holding{Account: a.Address, Mint: h.Mint, Amount: h.Amount})
		}
		return nil
	})
	if err != nil {
		return WalletBalance{}, fmt.Errorf("token_service: balance of %s: %w", wallet, err)
	}
	return out, nil
}
