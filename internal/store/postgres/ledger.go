package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// Ledger implements domain.Ledger on the accounts table. Each Atomic unit is
// one SERIALIZABLE transaction; rows are read FOR UPDATE so two units
// touching the same market serialize on its record.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Atomic runs fn in a serializable transaction and commits only when fn
// succeeds. Serialization failures surface as errors; callers decide whether
// to resubmit.
func (l *Ledger) Atomic(ctx context.Context, fn func(domain.AccountStore) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin ledger unit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&accountStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger unit: %w", err)
	}
	return nil
}

// View runs fn against a read-only snapshot.
func (l *Ledger) View(ctx context.Context, fn func(domain.AccountStore) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("postgres: begin ledger view: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	return fn(&accountStore{tx: tx, readOnly: true})
}

type accountStore struct {
	tx       pgx.Tx
	readOnly bool
}

func (s *accountStore) Get(ctx context.Context, addr domain.Address) (domain.Account, error) {
	query := `SELECT owner, lamports, data FROM accounts WHERE address = $1`
	if !s.readOnly {
		query += ` FOR UPDATE`
	}

	var owner, data []byte
	var lamports int64
	err := s.tx.QueryRow(ctx, query, addr[:]).Scan(&owner, &lamports, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", addr, err)
	}
	return toAccount(addr[:], owner, lamports, data)
}

func (s *accountStore) Put(ctx context.Context, acct domain.Account) error {
	if s.readOnly {
		return domain.ErrReadOnly
	}
	lamports, data, err := accountColumns(acct)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO accounts (address, owner, lamports, data, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (address) DO UPDATE SET
			owner = EXCLUDED.owner,
			lamports = EXCLUDED.lamports,
			data = EXCLUDED.data,
			updated_at = NOW()`
	if _, err := s.tx.Exec(ctx, query, acct.Address[:], acct.Owner[:], lamports, data); err != nil {
		return fmt.Errorf("postgres: put account %s: %w", acct.Address, err)
	}
	return nil
}

func (s *accountStore) Delete(ctx context.Context, addr domain.Address) error {
	if s.readOnly {
		return domain.ErrReadOnly
	}
	if _, err := s.tx.Exec(ctx, `DELETE FROM accounts WHERE address = $1`, addr[:]); err != nil {
		return fmt.Errorf("postgres: delete account %s: %w", addr, err)
	}
	return nil
}

// accountColumns converts acct to the lamports and data column values.
// lamports is a BIGINT, so balances above MaxInt64 cannot be stored.
func accountColumns(acct domain.Account) (int64, []byte, error) {
	if acct.Lamports > math.MaxInt64 {
		return 0, nil, fmt.Errorf("postgres: account %s balance %d: %w", acct.Address, acct.Lamports, domain.ErrOverflow)
	}
	data := acct.Data
	if data == nil {
		data = []byte{}
	}
	return int64(acct.Lamports), data, nil
}

// scanQuery matches memcmp filters in SQL with substring on the data column.
// substring is 1-based, so filter offsets shift by one. ok is false when a
// filter can match nothing.
func scanQuery(owner domain.Address, filters []domain.MemcmpFilter) (query string, args []any, ok bool) {
	query = `SELECT address, owner, lamports, data FROM accounts WHERE owner = $1`
	args = []any{owner[:]}
	argIdx := 2

	for _, f := range filters {
		if f.Offset < 0 {
			return "", nil, false
		}
		query += fmt.Sprintf(" AND substring(data FROM $%d FOR $%d) = $%d", argIdx, argIdx+1, argIdx+2)
		args = append(args, f.Offset+1, len(f.Bytes), f.Bytes)
		argIdx += 3
	}
	return query + " ORDER BY address", args, true
}

func (s *accountStore) Scan(ctx context.Context, owner domain.Address, filters ...domain.MemcmpFilter) ([]domain.Account, error) {
	query, args, ok := scanQuery(owner, filters)
	if !ok {
		return nil, nil
	}

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan accounts of %s: %w", owner, err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var addr, own, data []byte
		var lamports int64
		if err := rows.Scan(&addr, &own, &lamports, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan account row: %w", err)
		}
		acct, err := toAccount(addr, own, lamports, data)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan accounts rows: %w", err)
	}
	return out, nil
}

func toAccount(addr, owner []byte, lamports int64, data []byte) (domain.Account, error) {
	a, err := domain.AddressFromBytes(addr)
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: account address: %w", err)
	}
	o, err := domain.AddressFromBytes(owner)
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: account %s owner: %w", a, err)
	}
	if len(data) == 0 {
		data = nil
	}
	return domain.Account{Address: a, Owner: o, Lamports: uint64(lamports), Data: data}, nil
}

var (
	_ domain.Ledger       = (*Ledger)(nil)
	_ domain.AccountStore = (*accountStore)(nil)
)
