package escrow

import (
	"fmt"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
)

// Get returns the open market at id, or domain.ErrMarketNotFound.
func (c *Controller) Get(inv *ledger.Invocation, id domain.Address) (domain.Market, error) {
	return c.load(inv, id)
}

// ListByCreator returns the open markets of creator by matching the creator
// field at its fixed offset in the serialized record.
func (c *Controller) ListByCreator(inv *ledger.Invocation, creator domain.Address) ([]domain.Market, error) {
	return c.scan(inv, domain.DiscriminatorFilter(), domain.CreatorFilter(creator))
}

// ListOpen returns every open market.
func (c *Controller) ListOpen(inv *ledger.Invocation) ([]domain.Market, error) {
	return c.scan(inv, domain.DiscriminatorFilter())
}

func (c *Controller) scan(inv *ledger.Invocation, filters ...domain.MemcmpFilter) ([]domain.Market, error) {
	accts, err := inv.Scan(c.programID, filters...)
	if err != nil {
		return nil, fmt.Errorf("escrow: scan markets: %w", err)
	}
	out := make([]domain.Market, 0, len(accts))
	for _, a := range accts {
		m := domain.Market{ID: a.Address}
		if err := m.UnmarshalBinary(a.Data); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
