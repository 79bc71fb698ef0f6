package postgres

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

func TestListQueryNumbersPlaceholders(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	query, args := listQuery(
		`SELECT payload FROM market_history WHERE creator = $1`,
		[]any{"creator"}, "occurred_at",
		domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20},
	)

	require.Equal(t,
		`SELECT payload FROM market_history WHERE creator = $1`+
			` AND occurred_at >= $2 AND occurred_at <= $3 ORDER BY occurred_at DESC LIMIT $4 OFFSET $5`,
		query)
	require.Equal(t, []any{"creator", since, until, 10, 20}, args)
}

func TestListQueryWithoutOptions(t *testing.T) {
	query, args := listQuery(`SELECT id FROM audit_log WHERE 1=1`, nil, "created_at", domain.ListOpts{})
	require.Equal(t, `SELECT id FROM audit_log WHERE 1=1 ORDER BY created_at DESC`, query)
	require.Empty(t, args)
}

func TestDSN(t *testing.T) {
	require.Equal(t, "postgres://u:p@db:5432/vaultswap?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "vaultswap"}))
	require.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestPendingMigrations(t *testing.T) {
	got := pendingMigrations(
		[]string{"003_more.sql", "README.md", "001_init.sql", "002_index.sql"},
		map[string]bool{"001_init.sql": true},
	)
	require.Equal(t, []string{"002_index.sql", "003_more.sql"}, got)
}

func TestScanQueryShiftsOffsets(t *testing.T) {
	owner := domain.Address{7}
	creator := []byte{1, 2, 3}

	query, args, ok := scanQuery(owner, []domain.MemcmpFilter{
		{Offset: 0, Bytes: []byte{9}},
		{Offset: domain.MarketCreatorOffset, Bytes: creator},
	})
	require.True(t, ok)
	require.Equal(t,
		`SELECT address, owner, lamports, data FROM accounts WHERE owner = $1`+
			` AND substring(data FROM $2 FOR $3) = $4`+
			` AND substring(data FROM $5 FOR $6) = $7 ORDER BY address`,
		query)
	require.Equal(t, []any{owner[:], 1, 1, []byte{9}, domain.MarketCreatorOffset + 1, 3, creator}, args)

	_, _, ok = scanQuery(owner, []domain.MemcmpFilter{{Offset: -1, Bytes: creator}})
	require.False(t, ok)
}

func TestAccountColumns(t *testing.T) {
	lamports, data, err := accountColumns(domain.Account{Lamports: math.MaxInt64})
	require.NoError(t, err)
	require.EqualValues(t, math.MaxInt64, lamports)
	require.NotNil(t, data)
	require.Empty(t, data)

	_, _, err = accountColumns(domain.Account{Lamports: math.MaxInt64 + 1})
	require.ErrorIs(t, err, domain.ErrOverflow)
}
