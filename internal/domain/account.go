package domain

import (
	"bytes"
	"context"
)

// Account is one ledger entry: a lamport balance and an opaque data payload
// that only the owning program may rewrite.
type Account struct {
	Address  Address
	Owner    Address
	Lamports uint64
	Data     []byte
}

// Clone returns a deep copy so callers never alias stored data.
func (a Account) Clone() Account {
	out := a
	if a.Data != nil {
		out.Data = make([]byte, len(a.Data))
		copy(out.Data, a.Data)
	}
	return out
}

// MemcmpFilter matches accounts whose data holds Bytes at Offset.
type MemcmpFilter struct {
	Offset int
	Bytes  []byte
}

// Match reports whether data satisfies the filter.
func (f MemcmpFilter) Match(data []byte) bool {
	end := f.Offset + len(f.Bytes)
	if f.Offset < 0 || end > len(data) {
		return false
	}
	return bytes.Equal(data[f.Offset:end], f.Bytes)
}

// MatchAll reports whether data satisfies every filter.
func MatchAll(data []byte, filters []MemcmpFilter) bool {
	for _, f := range filters {
		if !f.Match(data) {
			return false
		}
	}
	return true
}

// AccountStore reads and writes accounts inside one unit of work.
type AccountStore interface {
	// Get returns ErrNotFound when no account lives at addr.
	Get(ctx context.Context, addr Address) (Account, error)
	Put(ctx context.Context, acct Account) error
	Delete(ctx context.Context, addr Address) error
	// Scan returns every account owned by owner whose data matches all
	// filters, ordered by address.
	Scan(ctx context.Context, owner Address, filters ...MemcmpFilter) ([]Account, error)
}

// Ledger runs units of work against account state. Atomic commits every
// write made by fn, or none of them when fn returns an error.
type Ledger interface {
	Atomic(ctx context.Context, fn func(AccountStore) error) error
	View(ctx context.Context, fn func(AccountStore) error) error
}
