package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// MaxLifetime bounds how far ahead a transaction may set its expiry. A
// receipt only has to outlive the expiry it guards, so this also bounds how
// long receipts are kept.
const MaxLifetime = 15 * time.Minute

// ReceiptOwner owns the receipts of executed single-use transactions. No
// program runs under it, so nothing but the runtime can write them.
var ReceiptOwner = domain.MustParseAddress("C6QqgKhGGdJbK48j13JcGWk8xJ97oDC9yjYMAcuRWPB9")

// receiptAddress is where the receipt for msg lives.
func receiptAddress(msg []byte) domain.Address {
	h := sha256.New()
	h.Write([]byte("vaultswap:receipt\n"))
	h.Write(msg)
	var a domain.Address
	copy(a[:], h.Sum(nil))
	return a
}

// checkExpiry accepts a transaction whose expiry lies in (now, now+MaxLifetime].
func checkExpiry(expires, now time.Time) error {
	if !now.Before(expires) {
		return fmt.Errorf("ledger: transaction expired at %s: %w", expires.UTC().Format(time.RFC3339), domain.ErrRequestExpired)
	}
	if expires.Sub(now) > MaxLifetime {
		return fmt.Errorf("ledger: expiry %s is more than %s ahead: %w",
			expires.UTC().Format(time.RFC3339), MaxLifetime, domain.ErrRequestExpired)
	}
	return nil
}

// consume writes the receipt for tx, failing when the same message already
// ran. It runs inside the transaction's own unit, so a failed handler
// leaves the message usable again.
func consume(ctx context.Context, store domain.AccountStore, tx Transaction) error {
	addr := receiptAddress(tx.Message)
	_, err := store.Get(ctx, addr)
	if err == nil {
		return fmt.Errorf("ledger: receipt %s: %w", addr, domain.ErrReplayed)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(tx.ExpiresAt.Unix()))
	return store.Put(ctx, domain.Account{Address: addr, Owner: ReceiptOwner, Data: data})
}

// SweepReceipts deletes receipts whose transactions expired before now and
// can no longer be replayed anyway. It returns how many were removed.
func SweepReceipts(ctx context.Context, l domain.Ledger, now time.Time) (int, error) {
	removed := 0
	err := l.Atomic(ctx, func(store domain.AccountStore) error {
		removed = 0
		receipts, err := store.Scan(ctx, ReceiptOwner)
		if err != nil {
			return err
		}
		cutoff := now.Unix()
		for _, r := range receipts {
			if len(r.Data) != 8 || int64(binary.LittleEndian.Uint64(r.Data)) >= cutoff {
				continue
			}
			if err := store.Delete(ctx, r.Address); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: sweep receipts: %w", err)
	}
	return removed, nil
}
