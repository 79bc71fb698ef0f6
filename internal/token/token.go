// Package token is the fungible-token accounting program: mints, holder
// accounts at associated addresses, transfers and account closure. Every
// operation runs as its own program inside the caller's invocation, so it
// shares the caller's atomic unit and signer set.
package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/vaultswap/internal/crypto"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
)

var (
	// ProgramID owns every mint and holder account.
	ProgramID = domain.MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	// AssociatedProgramID derives the canonical holder address per owner and mint.
	AssociatedProgramID = domain.MustParseAddress("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// AssociatedAddress returns the canonical holder account address for owner
// and mint, and its bump.
func AssociatedAddress(owner, mint domain.Address) (domain.Address, uint8, error) {
	return crypto.FindProgramAddress(
		[][]byte{owner[:], ProgramID[:], mint[:]},
		AssociatedProgramID,
	)
}

// CreateMint allocates and initializes a mint at the signer address mint.
func CreateMint(inv *ledger.Invocation, payer, mint, authority domain.Address, decimals uint8) error {
	return inv.Invoke(ProgramID, func(sub *ledger.Invocation) error {
		if err := sub.CreateAccount(payer, mint, MintSize, ProgramID); err != nil {
			return fmt.Errorf("token: create mint: %w", err)
		}
		m := Mint{Authority: authority, Decimals: decimals, Initialized: true}
		return sub.WriteData(mint, m.encode())
	})
}

// MintTo issues amount new tokens into holder. The mint authority must sign.
func MintTo(inv *ledger.Invocation, mint, holder domain.Address, amount uint64) error {
	return inv.Invoke(ProgramID, func(sub *ledger.Invocation) error {
		m, err := GetMint(sub, mint)
		if err != nil {
			return err
		}
		if !sub.IsSigner(m.Authority) {
			return fmt.Errorf("token: mint to: authority %s did not sign: %w", m.Authority, domain.ErrUnauthorized)
		}
		h, err := GetHolder(sub, holder)
		if err != nil {
			return err
		}
		if h.Mint != mint {
			return fmt.Errorf("token: mint to %s: holds %s, not %s: %w", holder, h.Mint, mint, domain.ErrAssetMismatch)
		}
		supply, overflow := math.SafeAdd(m.Supply, amount)
		if overflow {
			return fmt.Errorf("token: mint %s supply: %w", mint, domain.ErrOverflow)
		}
		balance, overflow := math.SafeAdd(h.Amount, amount)
		if overflow {
			return fmt.Errorf("token: mint to %s: %w", holder, domain.ErrOverflow)
		}
		m.Supply, h.Amount = supply, balance
		if err := sub.WriteData(mint, m.encode()); err != nil {
			return err
		}
		return sub.WriteData(holder, h.encode())
	})
}

// CreateHolderAccount returns owner's associated holder account for mint,
// creating it with payer's storage deposit when it does not exist yet. An
// account already at the associated address must hold mint for owner.
func CreateHolderAccount(inv *ledger.Invocation, payer, owner, mint domain.Address) (domain.Address, error) {
	addr, bump, err := AssociatedAddress(owner, mint)
	if err != nil {
		return domain.Address{}, fmt.Errorf("token: associated address: %w", err)
	}

	acct, err := inv.Account(addr)
	switch {
	case err == nil:
		h, err := decodeHolder(acct)
		if err != nil {
			return domain.Address{}, err
		}
		if h.Mint != mint || h.Owner != owner {
			return domain.Address{}, fmt.Errorf("token: associated account %s does not hold %s for %s: %w",
				addr, mint, owner, domain.ErrAssetMismatch)
		}
		return addr, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Address{}, err
	}

	err = inv.Invoke(AssociatedProgramID, func(sub *ledger.Invocation) error {
		if _, err := sub.SignWithSeeds(owner[:], ProgramID[:], mint[:], []byte{bump}); err != nil {
			return err
		}
		return InitHolderAccount(sub, payer, addr, owner, mint)
	})
	if err != nil {
		return domain.Address{}, err
	}
	return addr, nil
}

// InitHolderAccount allocates a holder account for mint at addr, which must
// already be a signer of the invocation, controlled by owner.
func InitHolderAccount(inv *ledger.Invocation, payer, addr, owner, mint domain.Address) error {
	return inv.Invoke(ProgramID, func(sub *ledger.Invocation) error {
		if _, err := GetMint(sub, mint); err != nil {
			return err
		}
		if err := sub.CreateAccount(payer, addr, HolderSize, ProgramID); err != nil {
			return fmt.Errorf("token: create holder: %w", err)
		}
		h := Holder{Mint: mint, Owner: owner}
		return sub.WriteData(addr, h.encode())
	})
}

// Transfer moves amount tokens between two holder accounts of the same mint.
// authority must own from and must have signed.
func Transfer(inv *ledger.Invocation, from, to, authority domain.Address, amount uint64) error {
	return inv.Invoke(ProgramID, func(sub *ledger.Invocation) error {
		src, err := GetHolder(sub, from)
		if err != nil {
			return err
		}
		dst, err := GetHolder(sub, to)
		if err != nil {
			return err
		}
		if src.Mint != dst.Mint {
			return fmt.Errorf("token: transfer %s -> %s: mint %s vs %s: %w",
				from, to, src.Mint, dst.Mint, domain.ErrAssetMismatch)
		}
		if src.Owner != authority {
			return fmt.Errorf("token: transfer from %s: owner is %s, not %s: %w",
				from, src.Owner, authority, domain.ErrUnauthorized)
		}
		if !sub.IsSigner(authority) {
			return fmt.Errorf("token: transfer from %s: %s did not sign: %w", from, authority, domain.ErrUnauthorized)
		}
		if src.Amount < amount {
			return fmt.Errorf("token: transfer from %s: holds %d, needs %d: %w",
				from, src.Amount, amount, domain.ErrInsufficientFunds)
		}
		if from == to {
			return nil
		}
		credited, overflow := math.SafeAdd(dst.Amount, amount)
		if overflow {
			return fmt.Errorf("token: credit %s: %w: %w", to, domain.ErrTransferFailed, domain.ErrOverflow)
		}
		src.Amount -= amount
		dst.Amount = credited
		if err := sub.WriteData(from, src.encode()); err != nil {
			return err
		}
		return sub.WriteData(to, dst.encode())
	})
}

// CloseAccount deletes an empty holder account and pays its storage deposit
// to dest. authority must own the account and must have signed.
func CloseAccount(inv *ledger.Invocation, account, dest, authority domain.Address) error {
	return inv.Invoke(ProgramID, func(sub *ledger.Invocation) error {
		h, err := GetHolder(sub, account)
		if err != nil {
			return err
		}
		if h.Owner != authority || !sub.IsSigner(authority) {
			return fmt.Errorf("token: close %s: %w", account, domain.ErrUnauthorized)
		}
		if h.Amount != 0 {
			return fmt.Errorf("token: close %s: balance %d remains: %w", account, h.Amount, domain.ErrTransferFailed)
		}
		return sub.CloseAccount(account, dest)
	})
}

// GetHolder decodes the holder account at addr.
func GetHolder(inv *ledger.Invocation, addr domain.Address) (Holder, error) {
	acct, err := inv.Account(addr)
	if err != nil {
		return Holder{}, fmt.Errorf("token: holder %s: %w", addr, err)
	}
	return decodeHolder(acct)
}

// GetMint decodes the mint account at addr.
func GetMint(inv *ledger.Invocation, addr domain.Address) (Mint, error) {
	acct, err := inv.Account(addr)
	if err != nil {
		return Mint{}, fmt.Errorf("token: mint %s: %w", addr, err)
	}
	return decodeMint(acct)
}

// Balance returns the token amount held at addr.
func Balance(inv *ledger.Invocation, addr domain.Address) (uint64, error) {
	h, err := GetHolder(inv, addr)
	if err != nil {
		return 0, err
	}
	return h.Amount, nil
}
