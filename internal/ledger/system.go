package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

const (
	accountOverhead     = 128
	lamportsPerByteYear = 3480
	exemptionYears      = 2
)

// RentExempt is the minimum balance an account holding dataLen bytes must
// keep: its storage deposit.
func RentExempt(dataLen int) uint64 {
	return uint64(accountOverhead+dataLen) * lamportsPerByteYear * exemptionYears
}

// TransferLamports moves amount lamports between accounts. The source must
// either be a system wallet that signed, or be owned by the invoking program.
// A missing destination is created as a system wallet.
func (inv *Invocation) TransferLamports(from, to domain.Address, amount uint64) error {
	src, err := inv.store.Get(inv.ctx, from)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("ledger: transfer from %s: %w", from, domain.ErrInsufficientFunds)
	}
	if err != nil {
		return err
	}
	if !inv.canDebit(src) {
		return fmt.Errorf("ledger: debit %s: %w", from, domain.ErrUnauthorized)
	}
	if amount == 0 {
		return nil
	}

	remaining, overflow := math.SafeSub(src.Lamports, amount)
	if overflow {
		return fmt.Errorf("ledger: %s holds %d, needs %d: %w", from, src.Lamports, amount, domain.ErrInsufficientFunds)
	}
	if src.Owner != domain.SystemProgramID && remaining < RentExempt(len(src.Data)) {
		return fmt.Errorf("ledger: debit would leave %s below its storage deposit: %w", from, domain.ErrInsufficientFunds)
	}
	if from == to {
		return nil
	}
	src.Lamports = remaining
	if err := inv.store.Put(inv.ctx, src); err != nil {
		return err
	}
	return credit(inv.ctx, inv.store, to, amount)
}

// CreateAccount allocates space zeroed bytes at addr, owned by owner, with
// the storage deposit paid by payer. Both payer and addr must have signed;
// a program-derived addr signs through SignWithSeeds.
func (inv *Invocation) CreateAccount(payer, addr domain.Address, space int, owner domain.Address) error {
	if !inv.IsSigner(payer) {
		return fmt.Errorf("ledger: create account: payer %s did not sign: %w", payer, domain.ErrUnauthorized)
	}
	if !inv.IsSigner(addr) {
		return fmt.Errorf("ledger: create account: %s did not sign: %w", addr, domain.ErrUnauthorized)
	}
	exists, err := inv.Exists(addr)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("ledger: create account %s: %w", addr, domain.ErrAlreadyExists)
	}

	payerAcct, err := inv.store.Get(inv.ctx, payer)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("ledger: create account: payer %s: %w", payer, domain.ErrInsufficientFunds)
	}
	if err != nil {
		return err
	}
	if payerAcct.Owner != domain.SystemProgramID {
		return fmt.Errorf("ledger: create account: payer %s is not a wallet: %w", payer, domain.ErrUnauthorized)
	}
	deposit := RentExempt(space)
	remaining, overflow := math.SafeSub(payerAcct.Lamports, deposit)
	if overflow {
		return fmt.Errorf("ledger: create account: payer %s holds %d, deposit %d: %w",
			payer, payerAcct.Lamports, deposit, domain.ErrInsufficientFunds)
	}
	payerAcct.Lamports = remaining
	if err := inv.store.Put(inv.ctx, payerAcct); err != nil {
		return err
	}
	return inv.store.Put(inv.ctx, domain.Account{
		Address:  addr,
		Owner:    owner,
		Lamports: deposit,
		Data:     make([]byte, space),
	})
}

// WriteData replaces the payload of an account owned by the invoking
// program. The payload size is fixed at allocation.
func (inv *Invocation) WriteData(addr domain.Address, data []byte) error {
	acct, err := inv.store.Get(inv.ctx, addr)
	if err != nil {
		return err
	}
	if acct.Owner != inv.programID {
		return fmt.Errorf("ledger: write %s: owned by %s: %w", addr, acct.Owner, domain.ErrUnauthorized)
	}
	if len(data) != len(acct.Data) {
		return fmt.Errorf("ledger: write %s: size %d, allocated %d", addr, len(data), len(acct.Data))
	}
	acct.Data = data
	return inv.store.Put(inv.ctx, acct)
}

// CloseAccount deletes an account owned by the invoking program and moves
// all of its lamports to dest.
func (inv *Invocation) CloseAccount(addr, dest domain.Address) error {
	acct, err := inv.store.Get(inv.ctx, addr)
	if err != nil {
		return err
	}
	if acct.Owner != inv.programID {
		return fmt.Errorf("ledger: close %s: owned by %s: %w", addr, acct.Owner, domain.ErrUnauthorized)
	}
	if addr == dest {
		return fmt.Errorf("ledger: close %s into itself", addr)
	}
	if err := inv.store.Delete(inv.ctx, addr); err != nil {
		return err
	}
	return credit(inv.ctx, inv.store, dest, acct.Lamports)
}

func (inv *Invocation) canDebit(acct domain.Account) bool {
	if acct.Owner == inv.programID {
		return true
	}
	return acct.Owner == domain.SystemProgramID && len(acct.Data) == 0 && inv.IsSigner(acct.Address)
}

func credit(ctx context.Context, store domain.AccountStore, to domain.Address, amount uint64) error {
	dst, err := store.Get(ctx, to)
	if errors.Is(err, domain.ErrNotFound) {
		dst = domain.Account{Address: to, Owner: domain.SystemProgramID}
	} else if err != nil {
		return err
	}
	sum, overflow := math.SafeAdd(dst.Lamports, amount)
	if overflow {
		return fmt.Errorf("ledger: credit %s: %w", to, domain.ErrOverflow)
	}
	dst.Lamports = sum
	return store.Put(ctx, dst)
}

// Fund credits lamports to a wallet outside of any program, creating it when
// absent. It seeds genesis balances.
func Fund(ctx context.Context, l domain.Ledger, to domain.Address, lamports uint64) error {
	return l.Atomic(ctx, func(store domain.AccountStore) error {
		return credit(ctx, store, to, lamports)
	})
}

// FundOnce credits lamports only when the wallet does not exist yet, so
// restarting against a persistent ledger does not mint genesis twice. It
// reports whether the wallet was created.
func FundOnce(ctx context.Context, l domain.Ledger, to domain.Address, lamports uint64) (bool, error) {
	created := false
	err := l.Atomic(ctx, func(store domain.AccountStore) error {
		_, err := store.Get(ctx, to)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		created = true
		return credit(ctx, store, to, lamports)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}
