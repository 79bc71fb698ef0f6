package token

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultswap/internal/crypto"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
)

var callerID = domain.MustParseAddress("4HoSGEVaYsRGpHuX8vPFDUsZdx87jVe8ZeG6sKETcFgT")

type fixture struct {
	t      *testing.T
	ledger *ledger.MemoryLedger
	rt     *ledger.Runtime
}

func newFixture(t *testing.T) *fixture {
	l := ledger.NewMemoryLedger()
	return &fixture{t: t, ledger: l, rt: ledger.NewRuntime(l)}
}

func (f *fixture) wallet(lamports uint64) *crypto.Keypair {
	kp, err := crypto.GenerateKeypair()
	require.NoError(f.t, err)
	require.NoError(f.t, ledger.Fund(context.Background(), f.ledger, kp.Address(), lamports))
	return kp
}

func (f *fixture) run(h ledger.Handler, signers ...*crypto.Keypair) error {
	tx := ledger.Transaction{Message: []byte(f.t.Name())}
	for _, kp := range signers {
		tx.Sign(kp)
	}
	return f.rt.Execute(context.Background(), callerID, tx, h)
}

func (f *fixture) mint(authority *crypto.Keypair, decimals uint8) domain.Address {
	mint, err := crypto.GenerateKeypair()
	require.NoError(f.t, err)
	require.NoError(f.t, f.run(func(inv *ledger.Invocation) error {
		return CreateMint(inv, authority.Address(), mint.Address(), authority.Address(), decimals)
	}, authority, mint))
	return mint.Address()
}

func (f *fixture) holder(owner *crypto.Keypair, mint domain.Address) domain.Address {
	var addr domain.Address
	require.NoError(f.t, f.run(func(inv *ledger.Invocation) error {
		var err error
		addr, err = CreateHolderAccount(inv, owner.Address(), owner.Address(), mint)
		return err
	}, owner))
	return addr
}

func (f *fixture) balance(addr domain.Address) uint64 {
	var out uint64
	require.NoError(f.t, f.rt.View(context.Background(), callerID, func(inv *ledger.Invocation) error {
		var err error
		out, err = Balance(inv, addr)
		return err
	}))
	return out
}

func TestMintAndTransfer(t *testing.T) {
	f := newFixture(t)
	authority := f.wallet(1_000_000_000)
	alice := f.wallet(1_000_000_000)
	bob := f.wallet(1_000_000_000)

	mint := f.mint(authority, 6)
	aliceHolder := f.holder(alice, mint)
	bobHolder := f.holder(bob, mint)

	require.NoError(t, f.run(func(inv *ledger.Invocation) error {
		return MintTo(inv, mint, aliceHolder, 50)
	}, authority))
	require.Equal(t, uint64(50), f.balance(aliceHolder))

	// Only the owner can move tokens.
	err := f.run(func(inv *ledger.Invocation) error {
		return Transfer(inv, aliceHolder, bobHolder, alice.Address(), 10)
	}, bob)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	err = f.run(func(inv *ledger.Invocation) error {
		return Transfer(inv, aliceHolder, bobHolder, alice.Address(), 51)
	}, alice)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, f.run(func(inv *ledger.Invocation) error {
		return Transfer(inv, aliceHolder, bobHolder, alice.Address(), 20)
	}, alice))
	require.Equal(t, uint64(30), f.balance(aliceHolder))
	require.Equal(t, uint64(20), f.balance(bobHolder))
}

func TestMintToRequiresAuthority(t *testing.T) {
	f := newFixture(t)
	authority := f.wallet(1_000_000_000)
	alice := f.wallet(1_000_000_000)
	mint := f.mint(authority, 0)
	holder := f.holder(alice, mint)

	err := f.run(func(inv *ledger.Invocation) error {
		return MintTo(inv, mint, holder, 1)
	}, alice)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestTransferAcrossMintsFails(t *testing.T) {
	f := newFixture(t)
	authority := f.wallet(1_000_000_000)
	alice := f.wallet(1_000_000_000)
	mintA := f.mint(authority, 6)
	mintB := f.mint(authority, 6)
	holderA := f.holder(alice, mintA)
	holderB := f.holder(alice, mintB)

	require.NoError(t, f.run(func(inv *ledger.Invocation) error {
		return MintTo(inv, mintA, holderA, 5)
	}, authority))

	err := f.run(func(inv *ledger.Invocation) error {
		return Transfer(inv, holderA, holderB, alice.Address(), 5)
	}, alice)
	require.ErrorIs(t, err, domain.ErrAssetMismatch)
	require.Equal(t, uint64(5), f.balance(holderA))
}

func TestCreateHolderAccountIsIdempotent(t *testing.T) {
	f := newFixture(t)
	authority := f.wallet(1_000_000_000)
	alice := f.wallet(1_000_000_000)
	mint := f.mint(authority, 6)

	first := f.holder(alice, mint)
	second := f.holder(alice, mint)
	require.Equal(t, first, second)

	want, _, err := AssociatedAddress(alice.Address(), mint)
	require.NoError(t, err)
	require.Equal(t, want, first)
}

func TestCreateHolderAccountUnknownMint(t *testing.T) {
	f := newFixture(t)
	alice := f.wallet(1_000_000_000)
	bogus := f.wallet(1)

	err := f.run(func(inv *ledger.Invocation) error {
		_, err := CreateHolderAccount(inv, alice.Address(), alice.Address(), bogus.Address())
		return err
	}, alice)
	require.ErrorIs(t, err, domain.ErrAssetMismatch)
}

func TestCloseAccountRequiresZeroBalance(t *testing.T) {
	f := newFixture(t)
	authority := f.wallet(1_000_000_000)
	alice := f.wallet(1_000_000_000)
	mint := f.mint(authority, 6)
	holder := f.holder(alice, mint)

	require.NoError(t, f.run(func(inv *ledger.Invocation) error {
		return MintTo(inv, mint, holder, 1)
	}, authority))

	err := f.run(func(inv *ledger.Invocation) error {
		return CloseAccount(inv, holder, alice.Address(), alice.Address())
	}, alice)
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	sink := f.holder(authority, mint)
	before := uint64(0)
	require.NoError(t, f.ledger.View(context.Background(), func(s domain.AccountStore) error {
		acct, err := s.Get(context.Background(), alice.Address())
		before = acct.Lamports
		return err
	}))
	require.NoError(t, f.run(func(inv *ledger.Invocation) error {
		if err := Transfer(inv, holder, sink, alice.Address(), 1); err != nil {
			return err
		}
		return CloseAccount(inv, holder, alice.Address(), alice.Address())
	}, alice))

	require.NoError(t, f.ledger.View(context.Background(), func(s domain.AccountStore) error {
		_, err := s.Get(context.Background(), holder)
		require.ErrorIs(t, err, domain.ErrNotFound)
		acct, err := s.Get(context.Background(), alice.Address())
		require.NoError(t, err)
		require.Equal(t, before+ledger.RentExempt(HolderSize), acct.Lamports)
		return nil
	}))
}
