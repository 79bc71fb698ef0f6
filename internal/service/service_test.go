package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultswap/internal/cache/memory"
	"github.com/alanyoungcy/vaultswap/internal/crypto"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/escrow"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
	"github.com/alanyoungcy/vaultswap/internal/metrics"
	"github.com/alanyoungcy/vaultswap/internal/token"
)

const native = 1_000_000_000

type mapCache struct {
	mu      sync.Mutex
	markets map[domain.Address]domain.Market
}

func (c *mapCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
	return nil
}

func (c *mapCache) Get(_ context.Context, id domain.Address) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *mapCache) Invalidate(_ context.Context, id domain.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	return nil
}

type sliceHistory struct {
	mu     sync.Mutex
	events []domain.MarketEvent
}

func (h *sliceHistory) Record(_ context.Context, e domain.MarketEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	return nil
}

func (h *sliceHistory) ListByMarket(_ context.Context, id domain.Address) ([]domain.MarketEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.MarketEvent
	for _, e := range h.events {
		if e.Market.ID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *sliceHistory) ListByCreator(_ context.Context, creator domain.Address, _ domain.ListOpts) ([]domain.MarketEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.MarketEvent
	for _, e := range h.events {
		if e.Market.Creator == creator {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *sliceHistory) ListBefore(context.Context, time.Time) ([]domain.MarketEvent, error) {
	return nil, nil
}

type countingAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *countingAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *countingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	rt      *ledger.Runtime
	svc     *MarketService
	tokens  *TokenService
	cache   *mapCache
	bus     *memory.Bus
	history *sliceHistory
	audit   *countingAudit
	metrics *metrics.Metrics
	nonce   int
}

func newFixture(t *testing.T, configure ...func(*MarketDeps)) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		rt:      ledger.NewRuntime(ledger.NewMemoryLedger()),
		cache:   &mapCache{markets: map[domain.Address]domain.Market{}},
		bus:     memory.NewBus(0),
		history: &sliceHistory{},
		audit:   &countingAudit{},
		metrics: metrics.PrometheusMetrics("test"),
	}
	deps := MarketDeps{
		Runtime:    f.rt,
		Controller: escrow.NewController(escrow.DefaultProgramID),
		Cache:      f.cache,
		Bus:        f.bus,
		History:    f.history,
		Audit:      f.audit,
		Metrics:    f.metrics,
	}
	for _, fn := range configure {
		fn(&deps)
	}
	f.svc = NewMarketService(deps, logger)
	f.tokens = NewTokenService(f.rt, logger)
	return f
}

func (f *fixture) wallet(lamports uint64) *crypto.Keypair {
	kp, err := crypto.GenerateKeypair()
	require.NoError(f.t, err)
	if lamports > 0 {
		require.NoError(f.t, ledger.Fund(f.ctx, f.rt.Ledger(), kp.Address(), lamports))
	}
	return kp
}

func sign(msg []byte, signers ...*crypto.Keypair) []ledger.SignerSignature {
	out := make([]ledger.SignerSignature, 0, len(signers))
	for _, kp := range signers {
		out = append(out, ledger.SignerSignature{Signer: kp.Address(), Signature: kp.Sign(msg)})
	}
	return out
}

// mint creates a token kind and gives amount of it to owner.
func (f *fixture) mint(owner *crypto.Keypair, amount uint64) domain.Address {
	authority := f.wallet(10 * native)
	mintKey := f.wallet(0)

	cm := CreateMintRequest{Payer: authority.Address(), Mint: mintKey.Address(), Authority: authority.Address()}
	cm.Signatures = sign(cm.SigningBytes(token.ProgramID), authority, mintKey)
	require.NoError(f.t, f.tokens.CreateMint(f.ctx, cm))

	mt := MintToRequest{Mint: mintKey.Address(), Owner: owner.Address(), Amount: amount, Nonce: "1"}
	mt.Signatures = sign(mt.SigningBytes(token.ProgramID), authority)
	_, err := f.tokens.MintTo(f.ctx, mt)
	require.NoError(f.t, err)
	return mintKey.Address()
}

// once returns a fresh nonce with a one minute expiry.
func (f *fixture) once() Once {
	f.nonce++
	return Once{
		Nonce:     strconv.Itoa(f.nonce),
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}
}

func (f *fixture) createRequest(creator *crypto.Keypair, mint domain.Address) CreateMarketRequest {
	return f.createRequestAt(creator, f.wallet(0), mint, 20, native)
}

func (f *fixture) createRequestAt(creator, marketKey *crypto.Keypair, mint domain.Address, deposit, price uint64) CreateMarketRequest {
	req := CreateMarketRequest{
		MarketID:      marketKey.Address(),
		Creator:       creator.Address(),
		Variant:       domain.VariantTokenNative,
		Direction:     domain.DirectionTokenToNative,
		DepositAsset:  domain.TokenAsset(mint),
		DepositAmount: deposit,
		ReceiveAsset:  domain.NativeAsset,
		ReceiveAmount: price,
		Once:          f.once(),
	}
	req.Signatures = sign(req.SigningBytes(f.svc.ProgramID()), creator, marketKey)
	return req
}

func (f *fixture) exchangeRequest(m domain.Market, taker *crypto.Keypair) ExchangeMarketRequest {
	req := ExchangeRequestFor(m, taker.Address())
	req.Once = f.once()
	req.Signatures = sign(req.SigningBytes(f.svc.ProgramID()), taker)
	return req
}

func (f *fixture) cancelRequest(m domain.Market, caller *crypto.Keypair) CancelMarketRequest {
	req := CancelMarketRequest{MarketID: m.ID, Caller: caller.Address(), Once: f.once()}
	req.Signatures = sign(req.SigningBytes(f.svc.ProgramID()), caller)
	return req
}

func TestCreateThenExchange(t *testing.T) {
	f := newFixture(t)
	creator := f.wallet(10 * native)
	taker := f.wallet(10 * native)
	mint := f.mint(creator, 100)

	m, err := f.svc.CreateMarket(f.ctx, f.createRequest(creator, mint))
	require.NoError(t, err)

	cached, err := f.cache.Get(f.ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, m, cached)

	detail, err := f.svc.MarketDetail(f.ctx, m.ID)
	require.NoError(t, err)
	require.EqualValues(t, 20, detail.VaultBalance)
	require.False(t, detail.Vault.Native)

	closed, err := f.svc.ExchangeMarket(f.ctx, f.exchangeRequest(m, taker))
	require.NoError(t, err)
	require.Equal(t, m.ID, closed.ID)

	_, err = f.svc.GetMarket(f.ctx, m.ID)
	require.ErrorIs(t, err, domain.ErrMarketNotFound)

	bal, err := f.tokens.Balance(f.ctx, taker.Address())
	require.NoError(t, err)
	require.Len(t, bal.Tokens, 1)
	require.EqualValues(t, 20, bal.Tokens[0].Amount)

	history, err := f.svc.History(f.ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, domain.EventMarketCreated, history[0].Type)
	require.Equal(t, domain.EventMarketExchanged, history[1].Type)
	require.Equal(t, taker.Address(), history[1].Actor)

	msgs, err := f.svc.RecentEvents(f.ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	var e domain.MarketEvent
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &e))
	require.Equal(t, domain.EventMarketExchanged, e.Type)

	require.Equal(t, []string{"market_created", "market_exchanged"}, f.audit.events)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues("exchange", "token_native", "ok")))
}

func TestCancelByCreator(t *testing.T) {
	f := newFixture(t)
	creator := f.wallet(10 * native)
	mint := f.mint(creator, 100)
	m, err := f.svc.CreateMarket(f.ctx, f.createRequest(creator, mint))
	require.NoError(t, err)

	stranger := f.wallet(native)
	_, err = f.svc.CancelMarket(f.ctx, f.cancelRequest(m, stranger))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Operations.WithLabelValues("cancel", "token_native", "Unauthorized")))

	_, err = f.svc.CancelMarket(f.ctx, f.cancelRequest(m, creator))
	require.NoError(t, err)

	bal, err := f.tokens.Balance(f.ctx, creator.Address())
	require.NoError(t, err)
	require.EqualValues(t, 100, bal.Tokens[0].Amount)

	_, err = f.cache.Get(f.ctx, m.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignatureMustCoverRequest(t *testing.T) {
	f := newFixture(t)
	creator := f.wallet(10 * native)
	mint := f.mint(creator, 100)

	req := f.createRequest(creator, mint)
	req.DepositAmount = 1
	_, err := f.svc.CreateMarket(f.ctx, req)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.GetMarket(f.ctx, req.MarketID)
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestExchangeSignatureBindsTerms(t *testing.T) {
	f := newFixture(t)
	creator := f.wallet(100 * native)
	taker := f.wallet(100 * native)
	mint := f.mint(creator, 100)
	marketKey := f.wallet(0)

	m, err := f.svc.CreateMarket(f.ctx, f.createRequestAt(creator, marketKey, mint, 20, native))
	require.NoError(t, err)
	signed := f.exchangeRequest(m, taker)
	_, err = f.svc.ExchangeMarket(f.ctx, signed)
	require.NoError(t, err)

	// The creator reopens the same id at a far worse price.
	_, err = f.svc.CreateMarket(f.ctx, f.createRequestAt(creator, marketKey, mint, 1, 50*native))
	require.NoError(t, err)
	before, err := f.tokens.Balance(f.ctx, taker.Address())
	require.NoError(t, err)

	_, err = f.svc.ExchangeMarket(f.ctx, signed)
	require.ErrorIs(t, err, domain.ErrReplayed)

	// A new signature over the old terms does not match the new record.
	_, err = f.svc.ExchangeMarket(f.ctx, f.exchangeRequest(m, taker))
	require.ErrorIs(t, err, domain.ErrAssetMismatch)

	after, err := f.tokens.Balance(f.ctx, taker.Address())
	require.NoError(t, err)
	require.Equal(t, before.Lamports, after.Lamports)
	_, err = f.svc.GetMarket(f.ctx, m.ID)
	require.NoError(t, err)
}

func TestMarketRequestsNeedExpiry(t *testing.T) {
	f := newFixture(t)
	creator := f.wallet(10 * native)
	mint := f.mint(creator, 100)
	marketKey := f.wallet(0)

	req := f.createRequestAt(creator, marketKey, mint, 20, native)
	req.ExpiresAt = 0
	req.Signatures = sign(req.SigningBytes(f.svc.ProgramID()), creator, marketKey)
	_, err := f.svc.CreateMarket(f.ctx, req)
	require.ErrorIs(t, err, domain.ErrRequestExpired)

	req.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	req.Signatures = sign(req.SigningBytes(f.svc.ProgramID()), creator, marketKey)
	_, err = f.svc.CreateMarket(f.ctx, req)
	require.ErrorIs(t, err, domain.ErrRequestExpired)
}

func TestCancelCannotBeReplayed(t *testing.T) {
	f := newFixture(t)
	creator := f.wallet(10 * native)
	mint := f.mint(creator, 100)
	marketKey := f.wallet(0)

	m, err := f.svc.CreateMarket(f.ctx, f.createRequestAt(creator, marketKey, mint, 20, native))
	require.NoError(t, err)
	cancel := f.cancelRequest(m, creator)
	_, err = f.svc.CancelMarket(f.ctx, cancel)
	require.NoError(t, err)

	_, err = f.svc.CreateMarket(f.ctx, f.createRequestAt(creator, marketKey, mint, 20, native))
	require.NoError(t, err)
	_, err = f.svc.CancelMarket(f.ctx, cancel)
	require.ErrorIs(t, err, domain.ErrReplayed)
	_, err = f.svc.GetMarket(f.ctx, m.ID)
	require.NoError(t, err)
}

func TestSubmissionsAreRateLimited(t *testing.T) {
	f := newFixture(t, func(d *MarketDeps) {
		d.Limiter = denyLimiter{}
		d.SubmitLimit = 1
		d.SubmitEvery = time.Minute
	})
	creator := f.wallet(10 * native)
	mint := f.mint(creator, 100)

	_, err := f.svc.CreateMarket(f.ctx, f.createRequest(creator, mint))
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestListOpenPages(t *testing.T) {
	f := newFixture(t)
	creator := f.wallet(100 * native)
	mint := f.mint(creator, 1000)
	for range 5 {
		_, err := f.svc.CreateMarket(f.ctx, f.createRequest(creator, mint))
		require.NoError(t, err)
	}

	page, total, err := f.svc.ListOpen(f.ctx, domain.ListOpts{Limit: 2, Offset: 4})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 1)
	require.Equal(t, 5.0, testutil.ToFloat64(f.metrics.OpenMarkets))

	empty, _, err := f.svc.ListOpen(f.ctx, domain.ListOpts{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, empty)

	mine, err := f.svc.ListByCreator(f.ctx, creator.Address())
	require.NoError(t, err)
	require.Len(t, mine, 5)
}

func TestMintToRejectsZero(t *testing.T) {
	f := newFixture(t)
	_, err := f.tokens.MintTo(f.ctx, MintToRequest{})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}
