package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultswap/internal/config"
	"github.com/alanyoungcy/vaultswap/internal/crypto"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/escrow"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Port = 0
	cfg.Ledger.Genesis = []config.GenesisAccount{
		{Address: escrow.DefaultProgramID.String(), Lamports: 42},
	}
	return &cfg
}

func TestWireMemoryBackend(t *testing.T) {
	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, memoryConfig(), quietLogger())
	require.NoError(t, err)
	defer cleanup()

	require.Nil(t, deps.Postgres)
	require.Nil(t, deps.Redis)
	require.Nil(t, deps.Cache)
	require.Nil(t, deps.Archiver)
	require.Nil(t, deps.Notifier)
	require.NotNil(t, deps.Bus)
	require.NotNil(t, deps.Markets)
	require.Empty(t, healthChecks(deps))

	bal, err := deps.Tokens.Balance(ctx, escrow.DefaultProgramID)
	require.NoError(t, err)
	require.Equal(t, uint64(42), bal.Lamports)
}

func TestFundGenesisRejectsBadAddress(t *testing.T) {
	cfg := memoryConfig()
	cfg.Ledger.Genesis = []config.GenesisAccount{{Address: "0OIl", Lamports: 1}}

	_, _, err := Wire(context.Background(), cfg, quietLogger())
	require.ErrorContains(t, err, "wire: genesis")
}

func TestFullModeStopsOnCancel(t *testing.T) {
	cfg := memoryConfig()
	a := New(cfg, quietLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		// The hub reports the cancellation; main treats it as a clean exit.
		if err != nil {
			require.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("full mode did not stop")
	}
}

func TestArchiveModeNeedsArchiver(t *testing.T) {
	a := New(memoryConfig(), quietLogger())
	err := a.ArchiveMode(context.Background(), &Dependencies{})
	require.ErrorContains(t, err, "archive mode needs s3 and postgres")
}

func TestReceiptSweepRemovesExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := ledger.NewMemoryLedger()
	rt := ledger.NewRuntime(l)
	rt.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })

	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	tx := ledger.Transaction{Message: []byte("old"), ExpiresAt: time.Now().Add(-time.Hour + time.Minute)}
	tx.Sign(kp)
	require.NoError(t, rt.Execute(ctx, escrow.DefaultProgramID, tx, func(*ledger.Invocation) error { return nil }))

	a := New(memoryConfig(), quietLogger())
	done := make(chan error, 1)
	go func() { done <- a.runReceiptSweep(ctx, &Dependencies{Ledger: l}, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		var left int
		_ = l.View(ctx, func(s domain.AccountStore) error {
			accts, err := s.Scan(ctx, ledger.ReceiptOwner)
			left = len(accts)
			return err
		})
		return left == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestCloseReleasesNewestFirstOnce(t *testing.T) {
	a := New(memoryConfig(), quietLogger())
	var order []int
	a.onClose(func() { order = append(order, 1) })
	a.onClose(func() { order = append(order, 2) })

	a.Close()
	a.Close()
	require.Equal(t, []int{2, 1}, order)
}
