package escrow

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
	"github.com/alanyoungcy/vaultswap/internal/token"
)

// resolveHolder picks the holder account for owner's balance of mint: the
// supplied one when set, the associated one otherwise. The account must hold
// mint and belong to owner, which stops a caller from substituting an
// account of another asset or another party.
func resolveHolder(inv *ledger.Invocation, supplied, owner, mint domain.Address) (domain.Address, error) {
	addr := supplied
	if addr.IsZero() {
		var err error
		if addr, _, err = token.AssociatedAddress(owner, mint); err != nil {
			return domain.Address{}, err
		}
	}
	h, err := token.GetHolder(inv, addr)
	if err != nil {
		return domain.Address{}, err
	}
	if h.Mint != mint {
		return domain.Address{}, fmt.Errorf("escrow: account %s holds %s, expected %s: %w", addr, h.Mint, mint, domain.ErrAssetMismatch)
	}
	if h.Owner != owner {
		return domain.Address{}, fmt.Errorf("escrow: account %s belongs to %s, expected %s: %w", addr, h.Owner, owner, domain.ErrAssetMismatch)
	}
	return addr, nil
}

// holderMissing reports whether owner has no associated account for mint.
func holderMissing(inv *ledger.Invocation, owner, mint domain.Address) (bool, error) {
	addr, _, err := token.AssociatedAddress(owner, mint)
	if err != nil {
		return false, err
	}
	exists, err := inv.Exists(addr)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func requireLamports(inv *ledger.Invocation, wallet domain.Address, amount uint64) error {
	acct, err := inv.Account(wallet)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if acct.Lamports < amount {
		return fmt.Errorf("escrow: %s holds %d lamports, needs %d: %w", wallet, acct.Lamports, amount, domain.ErrInsufficientFunds)
	}
	return nil
}

func requireTokens(inv *ledger.Invocation, holder domain.Address, amount uint64) error {
	bal, err := token.Balance(inv, holder)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("escrow: %s holds %d, needs %d: %w", holder, bal, amount, domain.ErrInsufficientFunds)
	}
	return nil
}
