package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL. The full
// event is kept as JSONB; the indexed columns exist for lookups.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a new HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Record stores one lifecycle event. Recording the same event id twice is a
// no-op.
func (s *HistoryStore) Record(ctx context.Context, event domain.MarketEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("postgres: marshal market event %s: %w", event.ID, err)
	}

	const query = `
		INSERT INTO market_history (id, market_id, creator, event_type, actor, signature, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		event.ID,
		event.Market.ID.String(),
		event.Market.Creator.String(),
		string(event.Type),
		event.Actor.String(),
		event.Signature,
		payload,
		event.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: record market event %s: %w", event.ID, err)
	}
	return nil
}

// ListByMarket returns every event of one market, oldest first.
func (s *HistoryStore) ListByMarket(ctx context.Context, id domain.Address) ([]domain.MarketEvent, error) {
	const query = `SELECT payload FROM market_history WHERE market_id = $1 ORDER BY occurred_at, id`
	rows, err := s.pool.Query(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: list history of market %s: %w", id, err)
	}
	return scanEvents(rows)
}

// ListByCreator returns events of markets opened by creator, newest first.
func (s *HistoryStore) ListByCreator(ctx context.Context, creator domain.Address, opts domain.ListOpts) ([]domain.MarketEvent, error) {
	query, args := listQuery(
		`SELECT payload FROM market_history WHERE creator = $1`,
		[]any{creator.String()}, "occurred_at", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history of creator %s: %w", creator, err)
	}
	return scanEvents(rows)
}

// ListBefore returns every event that occurred strictly before the cutoff.
func (s *HistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.MarketEvent, error) {
	const query = `SELECT payload FROM market_history WHERE occurred_at < $1 ORDER BY occurred_at, id`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanEvents(rows)
}

// DeleteBefore drops archived events and returns how many were removed.
func (s *HistoryStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM market_history WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete history before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanEvents(rows pgx.Rows) ([]domain.MarketEvent, error) {
	defer rows.Close()

	var events []domain.MarketEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan market event: %w", err)
		}
		var e domain.MarketEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal market event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market event rows: %w", err)
	}
	return events, nil
}

var _ domain.HistoryStore = (*HistoryStore)(nil)
