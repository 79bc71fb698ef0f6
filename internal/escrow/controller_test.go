package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultswap/internal/crypto"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
	"github.com/alanyoungcy/vaultswap/internal/token"
)

func tokenToNative(mint domain.Address, deposit, price uint64) CreateParams {
	return CreateParams{
		Variant:       domain.VariantTokenNative,
		Direction:     domain.DirectionTokenToNative,
		DepositAsset:  domain.TokenAsset(mint),
		DepositAmount: deposit,
		ReceiveAsset:  domain.NativeAsset,
		ReceiveAmount: price,
	}
}

func TestExchangeTokenForNative(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	taker := h.wallet(2 * lamportsPerNative)
	h.giveTokens(creator, mintX, 100)
	h.giveTokens(taker, mintX, 0)

	creatorLamports := h.lamports(creator.Address())
	m, err := h.create(creator, tokenToNative(mintX, 20, 1_000_000_000))
	require.NoError(t, err)
	require.True(t, h.exists(m.ID))
	require.Equal(t, uint64(20), h.vaultBalance(m))
	require.Equal(t, uint64(80), h.tokens(creator.Address(), mintX))

	takerLamports := h.lamports(taker.Address())
	require.NoError(t, h.exchange(taker, ExchangeParams{MarketID: m.ID}))

	require.Equal(t, uint64(80), h.tokens(creator.Address(), mintX))
	require.Equal(t, creatorLamports+1_000_000_000, h.lamports(creator.Address()))
	require.Equal(t, uint64(20), h.tokens(taker.Address(), mintX))
	require.Equal(t, takerLamports-1_000_000_000, h.lamports(taker.Address()))
	require.False(t, h.exists(m.ID))
	require.False(t, h.exists(h.vaultAddress(m)))
}

func TestCancelRefundsCreator(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	bystander := h.wallet(3 * lamportsPerNative)
	h.giveTokens(creator, mintX, 100)

	creatorLamports := h.lamports(creator.Address())
	bystanderLamports := h.lamports(bystander.Address())

	m, err := h.create(creator, tokenToNative(mintX, 20, 1_000_000_000))
	require.NoError(t, err)
	require.NoError(t, h.cancel(creator, CancelParams{MarketID: m.ID}))

	require.Equal(t, uint64(100), h.tokens(creator.Address(), mintX))
	require.Equal(t, creatorLamports, h.lamports(creator.Address()))
	require.Equal(t, bystanderLamports, h.lamports(bystander.Address()))
	require.False(t, h.exists(m.ID))
	require.False(t, h.exists(h.vaultAddress(m)))
}

func TestCancelByStrangerIsUnauthorized(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	stranger := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 100)

	m, err := h.create(creator, tokenToNative(mintX, 20, 1_000_000_000))
	require.NoError(t, err)

	err = h.cancel(stranger, CancelParams{MarketID: m.ID})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.True(t, h.exists(m.ID))
	require.Equal(t, uint64(20), h.vaultBalance(m))

	// Naming the creator without the creator's signature fails the same way.
	err = h.exec(h.ctrl.ProgramID(), func(inv *ledger.Invocation) error {
		_, err := h.ctrl.Cancel(inv, CancelParams{MarketID: m.ID, Caller: creator.Address()})
		return err
	}, stranger)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.True(t, h.exists(m.ID))
}

func TestCreateRejectsZeroAmounts(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 100)
	accounts := h.ledger.Len()

	_, err := h.create(creator, tokenToNative(mintX, 0, 1_000_000_000))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.create(creator, tokenToNative(mintX, 20, 0))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	require.Equal(t, accounts, h.ledger.Len())
	require.Equal(t, uint64(100), h.tokens(creator.Address(), mintX))
}

func TestCreateChecksFunds(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 10)

	_, err := h.create(creator, tokenToNative(mintX, 11, 5))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// No holder account at all reads as holding nothing.
	mintY := h.newMint(6)
	_, err = h.create(creator, tokenToNative(mintY, 1, 5))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Native deposits must also cover the storage deposits.
	poor := h.wallet(1_000)
	_, err = h.create(poor, CreateParams{
		Variant:       domain.VariantTokenNative,
		Direction:     domain.DirectionNativeToToken,
		DepositAsset:  domain.NativeAsset,
		DepositAmount: 500,
		ReceiveAsset:  domain.TokenAsset(mintX),
		ReceiveAmount: 1,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestCreateRequiresSignatures(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 100)
	marketKey := h.keypair()

	p := tokenToNative(mintX, 20, 1_000)
	p.MarketID = marketKey.Address()
	p.Creator = creator.Address()

	err := h.exec(h.ctrl.ProgramID(), func(inv *ledger.Invocation) error {
		_, err := h.ctrl.Create(inv, p)
		return err
	}, creator)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	err = h.exec(h.ctrl.ProgramID(), func(inv *ledger.Invocation) error {
		_, err := h.ctrl.Create(inv, p)
		return err
	}, marketKey)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.False(t, h.exists(marketKey.Address()))
}

func TestCreateDuplicateMarket(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 100)
	marketKey := h.keypair()

	p := tokenToNative(mintX, 20, 1_000)
	p.MarketID = marketKey.Address()
	p.Creator = creator.Address()

	_, err := h.createWithKey(creator, marketKey, p)
	require.NoError(t, err)
	_, err = h.createWithKey(creator, marketKey, p)
	require.ErrorIs(t, err, domain.ErrDuplicateMarket)

	// The creator's own wallet can never double as a market id.
	p.MarketID = creator.Address()
	_, err = h.createWithKey(creator, creator, p)
	require.ErrorIs(t, err, domain.ErrDuplicateMarket)
	require.Equal(t, uint64(80), h.tokens(creator.Address(), mintX))
}

func TestCreateRejectsInconsistentAssets(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 100)

	testCases := []struct {
		name string
		p    CreateParams
	}{
		{"token_native without direction", CreateParams{
			Variant: domain.VariantTokenNative, DepositAsset: domain.TokenAsset(mintX), DepositAmount: 1,
			ReceiveAsset: domain.NativeAsset, ReceiveAmount: 1,
		}},
		{"direction disagrees with assets", CreateParams{
			Variant: domain.VariantTokenNative, Direction: domain.DirectionNativeToToken,
			DepositAsset: domain.TokenAsset(mintX), DepositAmount: 1,
			ReceiveAsset: domain.NativeAsset, ReceiveAmount: 1,
		}},
		{"token_token with native side", CreateParams{
			Variant: domain.VariantTokenToken, DepositAsset: domain.TokenAsset(mintX), DepositAmount: 1,
			ReceiveAsset: domain.NativeAsset, ReceiveAmount: 1,
		}},
		{"token_token same mint", CreateParams{
			Variant: domain.VariantTokenToken, DepositAsset: domain.TokenAsset(mintX), DepositAmount: 1,
			ReceiveAsset: domain.TokenAsset(mintX), ReceiveAmount: 1,
		}},
		{"unknown receive mint", CreateParams{
			Variant: domain.VariantTokenToken, DepositAsset: domain.TokenAsset(mintX), DepositAmount: 1,
			ReceiveAsset: domain.TokenAsset(creator.Address()), ReceiveAmount: 1,
		}},
		{"unknown variant", CreateParams{
			Variant: "option", DepositAsset: domain.TokenAsset(mintX), DepositAmount: 1,
			ReceiveAsset: domain.NativeAsset, ReceiveAmount: 1,
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.create(creator, tc.p)
			require.ErrorIs(t, err, domain.ErrAssetMismatch)
		})
	}
	require.Equal(t, uint64(100), h.tokens(creator.Address(), mintX))
}

func TestExchangeNativeForToken(t *testing.T) {
	h := newHarness(t)
	mintY := h.newMint(9)
	creator := h.wallet(10 * lamportsPerNative)
	taker := h.wallet(1 * lamportsPerNative)
	h.giveTokens(taker, mintY, 50)

	creatorLamports := h.lamports(creator.Address())
	m, err := h.create(creator, CreateParams{
		Variant:       domain.VariantTokenNative,
		Direction:     domain.DirectionNativeToToken,
		DepositAsset:  domain.NativeAsset,
		DepositAmount: 500_000_000,
		ReceiveAsset:  domain.TokenAsset(mintY),
		ReceiveAmount: 30,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000), h.vaultBalance(m))

	// Create opened the creator's receiving account up front.
	recv, _, err := token.AssociatedAddress(creator.Address(), mintY)
	require.NoError(t, err)
	require.True(t, h.exists(recv))

	takerLamports := h.lamports(taker.Address())
	require.NoError(t, h.exchange(taker, ExchangeParams{MarketID: m.ID}))

	require.Equal(t, uint64(30), h.tokens(creator.Address(), mintY))
	require.Equal(t, uint64(20), h.tokens(taker.Address(), mintY))
	require.Equal(t, takerLamports+500_000_000, h.lamports(taker.Address()))
	require.Equal(t, creatorLamports-500_000_000-ledger.RentExempt(token.HolderSize), h.lamports(creator.Address()))
	require.False(t, h.exists(m.ID))
	require.False(t, h.exists(h.vaultAddress(m)))
}

func TestExchangeTokenForToken(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	mintY := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	taker := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 10)
	h.giveTokens(taker, mintY, 40)

	m, err := h.create(creator, CreateParams{
		Variant:       domain.VariantTokenToken,
		DepositAsset:  domain.TokenAsset(mintX),
		DepositAmount: 10,
		ReceiveAsset:  domain.TokenAsset(mintY),
		ReceiveAmount: 40,
	})
	require.NoError(t, err)

	takerLamports := h.lamports(taker.Address())
	require.NoError(t, h.exchange(taker, ExchangeParams{MarketID: m.ID}))

	require.Equal(t, uint64(0), h.tokens(creator.Address(), mintX))
	require.Equal(t, uint64(40), h.tokens(creator.Address(), mintY))
	require.Equal(t, uint64(10), h.tokens(taker.Address(), mintX))
	require.Equal(t, uint64(0), h.tokens(taker.Address(), mintY))
	// The taker paid for the receiving account opened on their behalf.
	require.Equal(t, takerLamports-ledger.RentExempt(token.HolderSize), h.lamports(taker.Address()))
	require.False(t, h.exists(m.ID))
}

func TestExchangeRejectsSubstitutedAccounts(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	mintY := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	taker := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 10)
	takerX := h.giveTokens(taker, mintX, 5)
	takerY := h.giveTokens(taker, mintY, 40)

	m, err := h.create(creator, CreateParams{
		Variant:       domain.VariantTokenToken,
		DepositAsset:  domain.TokenAsset(mintX),
		DepositAmount: 10,
		ReceiveAsset:  domain.TokenAsset(mintY),
		ReceiveAmount: 40,
	})
	require.NoError(t, err)

	testCases := []struct {
		name string
		p    ExchangeParams
	}{
		{"pay with the wrong mint", ExchangeParams{TakerPay: takerX}},
		{"redirect the creator's payment to the taker", ExchangeParams{CreatorReceive: takerY}},
		{"receive into an account of the wrong mint", ExchangeParams{TakerReceive: takerY}},
		{"drain the vault into the creator's slot", ExchangeParams{CreatorReceive: h.vaultAddress(m)}},
		{"spoof the vault", ExchangeParams{Vault: takerX}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.p.MarketID = m.ID
			err := h.exchange(taker, tc.p)
			require.ErrorIs(t, err, domain.ErrAssetMismatch)
			require.True(t, h.exists(m.ID))
			require.Equal(t, uint64(10), h.vaultBalance(m))
			require.Equal(t, uint64(40), h.tokens(taker.Address(), mintY))
		})
	}
}

func TestExchangeWithoutCreatorReceivingAccount(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	mintY := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	taker := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 10)
	h.giveTokens(taker, mintY, 40)

	m, err := h.create(creator, CreateParams{
		Variant:       domain.VariantTokenToken,
		DepositAsset:  domain.TokenAsset(mintX),
		DepositAmount: 10,
		ReceiveAsset:  domain.TokenAsset(mintY),
		ReceiveAmount: 40,
	})
	require.NoError(t, err)

	// The creator closes the receiving account Create opened for them.
	recv, _, err := token.AssociatedAddress(creator.Address(), mintY)
	require.NoError(t, err)
	require.NoError(t, h.exec(token.ProgramID, func(inv *ledger.Invocation) error {
		return token.CloseAccount(inv, recv, creator.Address(), creator.Address())
	}, creator))

	err = h.exchange(taker, ExchangeParams{MarketID: m.ID})
	require.ErrorIs(t, err, domain.ErrAssetMismatch)
	require.True(t, h.exists(m.ID))
}

func TestExchangeInsufficientTakerFunds(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	taker := h.wallet(999_999_999)
	h.giveTokens(creator, mintX, 100)
	h.giveTokens(taker, mintX, 0)

	m, err := h.create(creator, tokenToNative(mintX, 20, 1_000_000_000))
	require.NoError(t, err)

	err = h.exchange(taker, ExchangeParams{MarketID: m.ID})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.True(t, h.exists(m.ID))
	require.Equal(t, uint64(20), h.vaultBalance(m))
	require.Equal(t, uint64(0), h.tokens(taker.Address(), mintX))
	require.Equal(t, uint64(999_999_999), h.lamports(taker.Address()))

	// A token payment with no paying account at all is the same failure.
	mintY := h.newMint(6)
	m2, err := h.create(creator, CreateParams{
		Variant:       domain.VariantTokenToken,
		DepositAsset:  domain.TokenAsset(mintX),
		DepositAmount: 1,
		ReceiveAsset:  domain.TokenAsset(mintY),
		ReceiveAmount: 1,
	})
	require.NoError(t, err)
	err = h.exchange(taker, ExchangeParams{MarketID: m2.ID})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestMarketIsSingleUse(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	taker := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 100)

	m, err := h.create(creator, tokenToNative(mintX, 20, 1_000))
	require.NoError(t, err)
	require.NoError(t, h.exchange(taker, ExchangeParams{MarketID: m.ID}))

	require.ErrorIs(t, h.exchange(taker, ExchangeParams{MarketID: m.ID}), domain.ErrMarketNotFound)
	require.ErrorIs(t, h.cancel(creator, CancelParams{MarketID: m.ID}), domain.ErrMarketNotFound)

	m2, err := h.create(creator, tokenToNative(mintX, 20, 1_000))
	require.NoError(t, err)
	require.NoError(t, h.cancel(creator, CancelParams{MarketID: m2.ID}))
	require.ErrorIs(t, h.exchange(taker, ExchangeParams{MarketID: m2.ID}), domain.ErrMarketNotFound)
	require.ErrorIs(t, h.cancel(creator, CancelParams{MarketID: m2.ID}), domain.ErrMarketNotFound)
}

func TestExchangeRejectsChangedQuote(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	taker := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 100)

	marketKey := h.keypair()
	p := tokenToNative(mintX, 20, 1_000)
	p.MarketID, p.Creator = marketKey.Address(), creator.Address()
	m, err := h.createWithKey(creator, marketKey, p)
	require.NoError(t, err)
	q := QuoteOf(m)
	require.NoError(t, h.cancel(creator, CancelParams{MarketID: m.ID}))

	// Same id, worse price.
	p.DepositAmount, p.ReceiveAmount = 1, 50_000
	_, err = h.createWithKey(creator, marketKey, p)
	require.NoError(t, err)

	takerLamports := h.lamports(taker.Address())
	err = h.exchange(taker, ExchangeParams{MarketID: m.ID, Quote: &q})
	require.ErrorIs(t, err, domain.ErrAssetMismatch)
	require.Equal(t, takerLamports, h.lamports(taker.Address()))
	require.True(t, h.exists(m.ID))

	var fresh domain.Market
	require.NoError(t, h.rt.View(context.Background(), h.ctrl.ProgramID(), func(inv *ledger.Invocation) error {
		var err error
		fresh, err = h.ctrl.Get(inv, m.ID)
		return err
	}))
	q = QuoteOf(fresh)
	require.NoError(t, h.exchange(taker, ExchangeParams{MarketID: m.ID, Quote: &q}))
}

func TestForeignAccountIsNotAMarket(t *testing.T) {
	h := newHarness(t)
	creator := h.wallet(10 * lamportsPerNative)

	// A plain wallet.
	err := h.cancel(creator, CancelParams{MarketID: creator.Address()})
	require.ErrorIs(t, err, domain.ErrMarketNotFound)

	// A token account whose payload is crafted to look like a market.
	mintX := h.newMint(6)
	holder := h.giveTokens(creator, mintX, 1)
	err = h.exchange(creator, ExchangeParams{MarketID: holder})
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestCancelRejectsWrongVaultAndRefund(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	mintY := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 100)
	creatorY := h.giveTokens(creator, mintY, 0)

	m, err := h.create(creator, tokenToNative(mintX, 20, 1_000))
	require.NoError(t, err)

	err = h.cancel(creator, CancelParams{MarketID: m.ID, Vault: creatorY})
	require.ErrorIs(t, err, domain.ErrAssetMismatch)
	err = h.cancel(creator, CancelParams{MarketID: m.ID, Refund: creatorY})
	require.ErrorIs(t, err, domain.ErrAssetMismatch)
	require.Equal(t, uint64(20), h.vaultBalance(m))

	require.NoError(t, h.cancel(creator, CancelParams{MarketID: m.ID, Vault: h.vaultAddress(m)}))
	require.Equal(t, uint64(100), h.tokens(creator.Address(), mintX))
}

func TestCancelReopensClosedRefundAccount(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	holder := h.giveTokens(creator, mintX, 20)

	m, err := h.create(creator, tokenToNative(mintX, 20, 1_000))
	require.NoError(t, err)
	require.NoError(t, h.exec(token.ProgramID, func(inv *ledger.Invocation) error {
		return token.CloseAccount(inv, holder, creator.Address(), creator.Address())
	}, creator))
	require.False(t, h.exists(holder))

	require.NoError(t, h.cancel(creator, CancelParams{MarketID: m.ID}))
	require.Equal(t, uint64(20), h.tokens(creator.Address(), mintX))
}

func TestNFTForNative(t *testing.T) {
	h := newHarness(t)
	nft := h.newMint(0)
	fungible := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	taker := h.wallet(5 * lamportsPerNative)
	h.giveTokens(creator, nft, 1)
	h.giveTokens(creator, fungible, 10)

	nftTerms := func(mint domain.Address, amount uint64) CreateParams {
		return CreateParams{
			Variant:       domain.VariantNFTNative,
			DepositAsset:  domain.TokenAsset(mint),
			DepositAmount: amount,
			ReceiveAsset:  domain.NativeAsset,
			ReceiveAmount: 2 * lamportsPerNative,
		}
	}

	_, err := h.create(creator, nftTerms(fungible, 1))
	require.ErrorIs(t, err, domain.ErrAssetMismatch)
	_, err = h.create(creator, nftTerms(nft, 2))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	m, err := h.create(creator, nftTerms(nft, 1))
	require.NoError(t, err)
	require.NoError(t, h.exchange(taker, ExchangeParams{MarketID: m.ID}))
	require.Equal(t, uint64(1), h.tokens(taker.Address(), nft))
	require.Equal(t, uint64(0), h.tokens(creator.Address(), nft))
}

func TestCreatorMayTakeOwnMarket(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	creator := h.wallet(10 * lamportsPerNative)
	h.giveTokens(creator, mintX, 100)

	before := h.lamports(creator.Address())
	m, err := h.create(creator, tokenToNative(mintX, 20, 1_000))
	require.NoError(t, err)
	require.NoError(t, h.exchange(creator, ExchangeParams{MarketID: m.ID}))
	require.Equal(t, uint64(100), h.tokens(creator.Address(), mintX))
	require.Equal(t, before, h.lamports(creator.Address()))
}

func TestListByCreator(t *testing.T) {
	h := newHarness(t)
	mintX := h.newMint(6)
	alice := h.wallet(10 * lamportsPerNative)
	bob := h.wallet(10 * lamportsPerNative)
	h.giveTokens(alice, mintX, 100)
	h.giveTokens(bob, mintX, 100)

	a1, err := h.create(alice, tokenToNative(mintX, 1, 10))
	require.NoError(t, err)
	a2, err := h.create(alice, tokenToNative(mintX, 2, 10))
	require.NoError(t, err)
	_, err = h.create(bob, tokenToNative(mintX, 3, 10))
	require.NoError(t, err)

	list := func(creator domain.Address) []domain.Market {
		var out []domain.Market
		require.NoError(t, h.rt.View(context.Background(), h.ctrl.ProgramID(), func(inv *ledger.Invocation) error {
			var err error
			out, err = h.ctrl.ListByCreator(inv, creator)
			return err
		}))
		return out
	}

	got := list(alice.Address())
	require.Len(t, got, 2)
	require.ElementsMatch(t, []domain.Address{a1.ID, a2.ID}, []domain.Address{got[0].ID, got[1].ID})
	for _, m := range got {
		require.Equal(t, alice.Address(), m.Creator)
	}

	require.NoError(t, h.cancel(alice, CancelParams{MarketID: a1.ID}))
	got = list(alice.Address())
	require.Len(t, got, 1)
	require.Equal(t, a2, got[0])

	require.NoError(t, h.rt.View(context.Background(), h.ctrl.ProgramID(), func(inv *ledger.Invocation) error {
		open, err := h.ctrl.ListOpen(inv)
		require.Len(t, open, 2)
		return err
	}))
}

func TestDeriveVaultIsDeterministic(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	id := kp.Address()

	a, err := DeriveVault(DefaultProgramID, domain.VariantTokenNative, id, false)
	require.NoError(t, err)
	b, err := DeriveVault(DefaultProgramID, domain.VariantTokenNative, id, false)
	require.NoError(t, err)
	require.Equal(t, a, b)

	tt, err := DeriveVault(DefaultProgramID, domain.VariantTokenToken, id, false)
	require.NoError(t, err)
	require.NotEqual(t, a.Address, tt.Address)
	require.Equal(t, a.Authority, tt.Authority)

	require.False(t, crypto.IsOnCurve(a.Address[:]))
	require.False(t, crypto.IsOnCurve(a.Authority[:]))

	m := domain.Market{ID: id, Variant: domain.VariantTokenNative, VaultBump: a.Bump, AuthorityBump: a.AuthorityBump}
	again, err := vaultOf(DefaultProgramID, m)
	require.NoError(t, err)
	require.Equal(t, a.Address, again.Address)
	require.Equal(t, a.Authority, again.Authority)
}
