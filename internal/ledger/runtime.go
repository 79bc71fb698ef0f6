// Package ledger hosts program execution: it verifies transaction
// signatures, runs each program handler inside one atomic unit of work and
// provides the system operations that move lamports and allocate accounts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/vaultswap/internal/crypto"
	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// SignerSignature pairs a signer address with its signature over a
// transaction message.
type SignerSignature struct {
	Signer    domain.Address   `json:"signer"`
	Signature crypto.Signature `json:"signature"`
}

// Transaction is a message together with the signatures authorizing it.
// A transaction with an expiry is single-use: it runs at most once, and
// only before ExpiresAt. The expiry must be covered by Message.
type Transaction struct {
	Message    []byte
	Signatures []SignerSignature
	ExpiresAt  time.Time
}

// Sign appends kp's signature over the message.
func (tx *Transaction) Sign(kp *crypto.Keypair) {
	tx.Signatures = append(tx.Signatures, SignerSignature{
		Signer:    kp.Address(),
		Signature: kp.Sign(tx.Message),
	})
}

// Handler is the body of one program invocation.
type Handler func(inv *Invocation) error

// Runtime executes transactions against a Ledger.
type Runtime struct {
	ledger domain.Ledger
	now    func() time.Time
}

// NewRuntime creates a Runtime over l using the wall clock.
func NewRuntime(l domain.Ledger) *Runtime {
	return &Runtime{ledger: l, now: time.Now}
}

// SetClock replaces the clock handed to invocations.
func (r *Runtime) SetClock(now func() time.Time) {
	r.now = now
}

// Ledger returns the underlying ledger.
func (r *Runtime) Ledger() domain.Ledger {
	return r.ledger
}

// Execute verifies every signature on tx and then runs h as programID inside
// a single atomic unit. Any error from h discards all of its writes.
func (r *Runtime) Execute(ctx context.Context, programID domain.Address, tx Transaction, h Handler) error {
	signers, err := verifySignatures(tx)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	singleUse := !tx.ExpiresAt.IsZero()
	if singleUse {
		if err := checkExpiry(tx.ExpiresAt, now); err != nil {
			return err
		}
	}
	return r.ledger.Atomic(ctx, func(store domain.AccountStore) error {
		if singleUse {
			if err := consume(ctx, store, tx); err != nil {
				return err
			}
		}
		inv := &Invocation{
			ctx:       ctx,
			store:     store,
			programID: programID,
			signers:   signers,
			now:       now,
		}
		return h(inv)
	})
}

// View runs h as programID with no signers against a read-only snapshot.
func (r *Runtime) View(ctx context.Context, programID domain.Address, h Handler) error {
	return r.ledger.View(ctx, func(store domain.AccountStore) error {
		inv := &Invocation{
			ctx:       ctx,
			store:     store,
			programID: programID,
			signers:   map[domain.Address]bool{},
			now:       r.now().UTC(),
		}
		return h(inv)
	})
}

func verifySignatures(tx Transaction) (map[domain.Address]bool, error) {
	if len(tx.Message) == 0 {
		return nil, errors.New("ledger: empty transaction message")
	}
	signers := make(map[domain.Address]bool, len(tx.Signatures))
	for _, s := range tx.Signatures {
		if !crypto.Verify(s.Signer, tx.Message, s.Signature) {
			return nil, fmt.Errorf("ledger: bad signature for %s: %w", s.Signer, domain.ErrUnauthorized)
		}
		signers[s.Signer] = true
	}
	return signers, nil
}

// Invocation is the view one program has of the ledger while its handler
// runs. Program-derived signers can only be added through SignWithSeeds,
// which derives them under the invoking program's own id.
type Invocation struct {
	ctx       context.Context
	store     domain.AccountStore
	programID domain.Address
	signers   map[domain.Address]bool
	now       time.Time
}

func (inv *Invocation) Context() context.Context { return inv.ctx }

func (inv *Invocation) ProgramID() domain.Address { return inv.programID }

// Now is the unit's clock reading; it is fixed for the whole unit.
func (inv *Invocation) Now() time.Time { return inv.now }

// IsSigner reports whether addr authorized this invocation.
func (inv *Invocation) IsSigner(addr domain.Address) bool {
	return inv.signers[addr]
}

// SignWithSeeds derives the program address for seeds under the invoking
// program and adds it to the signer set.
func (inv *Invocation) SignWithSeeds(seeds ...[]byte) (domain.Address, error) {
	addr, err := crypto.CreateProgramAddress(seeds, inv.programID)
	if err != nil {
		return domain.Address{}, fmt.Errorf("ledger: sign with seeds: %w", err)
	}
	inv.signers[addr] = true
	return addr, nil
}

// Invoke runs fn as program. The callee sees the caller's signers, including
// any derived signers granted so far, but its own grants do not flow back.
func (inv *Invocation) Invoke(program domain.Address, fn func(*Invocation) error) error {
	signers := make(map[domain.Address]bool, len(inv.signers))
	for k, v := range inv.signers {
		signers[k] = v
	}
	return fn(&Invocation{
		ctx:       inv.ctx,
		store:     inv.store,
		programID: program,
		signers:   signers,
		now:       inv.now,
	})
}

// Account reads the account at addr; a missing account yields
// domain.ErrNotFound.
func (inv *Invocation) Account(addr domain.Address) (domain.Account, error) {
	return inv.store.Get(inv.ctx, addr)
}

// Exists reports whether an account lives at addr.
func (inv *Invocation) Exists(addr domain.Address) (bool, error) {
	_, err := inv.store.Get(inv.ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Scan lists accounts owned by owner that match every filter.
func (inv *Invocation) Scan(owner domain.Address, filters ...domain.MemcmpFilter) ([]domain.Account, error) {
	return inv.store.Scan(inv.ctx, owner, filters...)
}
