package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// MemoryLedger keeps every account in process memory. Each unit of work holds
// the ledger lock for its whole duration, so units never interleave.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[domain.Address]domain.Account
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[domain.Address]domain.Account)}
}

// Atomic runs fn against a private overlay and merges the overlay into the
// ledger only when fn succeeds.
func (l *MemoryLedger) Atomic(ctx context.Context, fn func(domain.AccountStore) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &overlay{base: l.accounts, writes: make(map[domain.Address]*domain.Account)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ledger: unit abandoned: %w", err)
	}

	for addr, acct := range tx.writes {
		if acct == nil {
			delete(l.accounts, addr)
			continue
		}
		l.accounts[addr] = *acct
	}
	return nil
}

// View runs fn against a read-only snapshot.
func (l *MemoryLedger) View(ctx context.Context, fn func(domain.AccountStore) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return fn(&overlay{base: l.accounts, readOnly: true})
}

// Len returns the number of live accounts.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}

var _ domain.Ledger = (*MemoryLedger)(nil)

// overlay records the writes of one unit of work. A nil entry marks a
// deletion.
type overlay struct {
	base     map[domain.Address]domain.Account
	writes   map[domain.Address]*domain.Account
	readOnly bool
}

func (o *overlay) Get(_ context.Context, addr domain.Address) (domain.Account, error) {
	if acct, ok := o.writes[addr]; ok {
		if acct == nil {
			return domain.Account{}, fmt.Errorf("ledger: account %s: %w", addr, domain.ErrNotFound)
		}
		return acct.Clone(), nil
	}
	acct, ok := o.base[addr]
	if !ok {
		return domain.Account{}, fmt.Errorf("ledger: account %s: %w", addr, domain.ErrNotFound)
	}
	return acct.Clone(), nil
}

func (o *overlay) Put(_ context.Context, acct domain.Account) error {
	if o.readOnly {
		return domain.ErrReadOnly
	}
	stored := acct.Clone()
	o.writes[acct.Address] = &stored
	return nil
}

func (o *overlay) Delete(_ context.Context, addr domain.Address) error {
	if o.readOnly {
		return domain.ErrReadOnly
	}
	o.writes[addr] = nil
	return nil
}

func (o *overlay) Scan(_ context.Context, owner domain.Address, filters ...domain.MemcmpFilter) ([]domain.Account, error) {
	var out []domain.Account
	for addr, acct := range o.base {
		if _, shadowed := o.writes[addr]; shadowed {
			continue
		}
		if acct.Owner == owner && domain.MatchAll(acct.Data, filters) {
			out = append(out, acct.Clone())
		}
	}
	for _, acct := range o.writes {
		if acct != nil && acct.Owner == owner && domain.MatchAll(acct.Data, filters) {
			out = append(out, acct.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Compare(out[j].Address) < 0
	})
	return out, nil
}
