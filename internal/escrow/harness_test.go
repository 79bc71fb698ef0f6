package escrow

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultswap/internal/crypto"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
	"github.com/alanyoungcy/vaultswap/internal/token"
)

const lamportsPerNative = 1_000_000_000

// harness drives the escrow program over an in-memory ledger.
type harness struct {
	t         require.TestingT
	ledger    *ledger.MemoryLedger
	rt        *ledger.Runtime
	ctrl      *Controller
	authority *crypto.Keypair
	seq       int
}

func newHarness(t require.TestingT) *harness {
	l := ledger.NewMemoryLedger()
	rt := ledger.NewRuntime(l)
	rt.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	h := &harness{t: t, ledger: l, rt: rt, ctrl: NewController(DefaultProgramID)}
	h.authority = h.wallet(100 * lamportsPerNative)
	return h
}

func (h *harness) keypair() *crypto.Keypair {
	kp, err := crypto.GenerateKeypair()
	require.NoError(h.t, err)
	return kp
}

func (h *harness) wallet(lamports uint64) *crypto.Keypair {
	kp := h.keypair()
	require.NoError(h.t, ledger.Fund(context.Background(), h.ledger, kp.Address(), lamports))
	return kp
}

func (h *harness) exec(program domain.Address, fn ledger.Handler, signers ...*crypto.Keypair) error {
	h.seq++
	tx := ledger.Transaction{Message: []byte(fmt.Sprintf("tx-%d", h.seq))}
	for _, kp := range signers {
		tx.Sign(kp)
	}
	return h.rt.Execute(context.Background(), program, tx, fn)
}

func (h *harness) newMint(decimals uint8) domain.Address {
	mint := h.keypair()
	require.NoError(h.t, h.exec(token.ProgramID, func(inv *ledger.Invocation) error {
		return token.CreateMint(inv, h.authority.Address(), mint.Address(), h.authority.Address(), decimals)
	}, h.authority, mint))
	return mint.Address()
}

// giveTokens opens owner's associated account for mint and mints amount
// into it.
func (h *harness) giveTokens(owner *crypto.Keypair, mint domain.Address, amount uint64) domain.Address {
	var holder domain.Address
	require.NoError(h.t, h.exec(token.ProgramID, func(inv *ledger.Invocation) error {
		var err error
		if holder, err = token.CreateHolderAccount(inv, h.authority.Address(), owner.Address(), mint); err != nil {
			return err
		}
		if amount == 0 {
			return nil
		}
		return token.MintTo(inv, mint, holder, amount)
	}, h.authority))
	return holder
}

func (h *harness) create(creator *crypto.Keypair, p CreateParams) (domain.Market, error) {
	marketKey := h.keypair()
	p.MarketID = marketKey.Address()
	p.Creator = creator.Address()
	return h.createWithKey(creator, marketKey, p)
}

func (h *harness) createWithKey(creator, marketKey *crypto.Keypair, p CreateParams) (domain.Market, error) {
	var m domain.Market
	err := h.exec(h.ctrl.ProgramID(), func(inv *ledger.Invocation) error {
		var err error
		m, err = h.ctrl.Create(inv, p)
		return err
	}, creator, marketKey)
	return m, err
}

func (h *harness) cancel(caller *crypto.Keypair, p CancelParams) error {
	p.Caller = caller.Address()
	return h.exec(h.ctrl.ProgramID(), func(inv *ledger.Invocation) error {
		_, err := h.ctrl.Cancel(inv, p)
		return err
	}, caller)
}

func (h *harness) exchange(taker *crypto.Keypair, p ExchangeParams) error {
	p.Taker = taker.Address()
	return h.exec(h.ctrl.ProgramID(), func(inv *ledger.Invocation) error {
		_, err := h.ctrl.Exchange(inv, p)
		return err
	}, taker)
}

func (h *harness) account(addr domain.Address) (domain.Account, bool) {
	var acct domain.Account
	found := true
	require.NoError(h.t, h.ledger.View(context.Background(), func(s domain.AccountStore) error {
		var err error
		acct, err = s.Get(context.Background(), addr)
		if errors.Is(err, domain.ErrNotFound) {
			found = false
			return nil
		}
		return err
	}))
	return acct, found
}

func (h *harness) exists(addr domain.Address) bool {
	_, ok := h.account(addr)
	return ok
}

func (h *harness) lamports(addr domain.Address) uint64 {
	acct, _ := h.account(addr)
	return acct.Lamports
}

func (h *harness) tokens(owner domain.Address, mint domain.Address) uint64 {
	addr, _, err := token.AssociatedAddress(owner, mint)
	require.NoError(h.t, err)
	var out uint64
	require.NoError(h.t, h.rt.View(context.Background(), token.ProgramID, func(inv *ledger.Invocation) error {
		bal, err := token.Balance(inv, addr)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		out = bal
		return err
	}))
	return out
}

func (h *harness) vaultBalance(m domain.Market) uint64 {
	var out uint64
	require.NoError(h.t, h.rt.View(context.Background(), h.ctrl.ProgramID(), func(inv *ledger.Invocation) error {
		var err error
		out, err = h.ctrl.VaultBalance(inv, m)
		return err
	}))
	return out
}

func (h *harness) vaultAddress(m domain.Market) domain.Address {
	v, err := vaultOf(h.ctrl.ProgramID(), m)
	require.NoError(h.t, err)
	return v.Address
}

// totals sums lamports across every account and token amounts per mint
// across every holder account.
func (h *harness) totals() (uint64, map[domain.Address]uint64) {
	var lamports uint64
	supply := map[domain.Address]uint64{}
	ctx := context.Background()
	owners := []domain.Address{domain.SystemProgramID, token.ProgramID, h.ctrl.ProgramID()}
	require.NoError(h.t, h.ledger.View(ctx, func(s domain.AccountStore) error {
		for _, owner := range owners {
			accts, err := s.Scan(ctx, owner)
			if err != nil {
				return err
			}
			for _, a := range accts {
				lamports += a.Lamports
				if owner == token.ProgramID && len(a.Data) == token.HolderSize {
					var mint domain.Address
					copy(mint[:], a.Data[0:32])
					supply[mint] += binary.LittleEndian.Uint64(a.Data[64:72])
				}
			}
		}
		return nil
	}))
	return lamports, supply
}
