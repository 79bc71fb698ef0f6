package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// HistoryStore keeps lifecycle events after their markets have closed, since
// closed market records no longer exist on the ledger.
type HistoryStore interface {
	Record(ctx context.Context, event MarketEvent) error
	ListByMarket(ctx context.Context, id Address) ([]MarketEvent, error)
	ListByCreator(ctx context.Context, creator Address, opts ListOpts) ([]MarketEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]MarketEvent, error)
}
