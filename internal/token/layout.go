package token

import (
	"encoding/binary"
	"fmt"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

const (
	// MintSize is the serialized size of a mint account.
	MintSize = 42
	// HolderSize is the serialized size of a holder account.
	HolderSize = 73

	holderInitialized = 1
)

// Mint describes one token kind.
type Mint struct {
	Authority   domain.Address
	Supply      uint64
	Decimals    uint8
	Initialized bool
}

func (m Mint) encode() []byte {
	buf := make([]byte, MintSize)
	copy(buf[0:32], m.Authority[:])
	binary.LittleEndian.PutUint64(buf[32:40], m.Supply)
	buf[40] = m.Decimals
	if m.Initialized {
		buf[41] = 1
	}
	return buf
}

func decodeMint(acct domain.Account) (Mint, error) {
	if acct.Owner != ProgramID || len(acct.Data) != MintSize || acct.Data[41] != 1 {
		return Mint{}, fmt.Errorf("token: %s is not a mint: %w", acct.Address, domain.ErrAssetMismatch)
	}
	var m Mint
	copy(m.Authority[:], acct.Data[0:32])
	m.Supply = binary.LittleEndian.Uint64(acct.Data[32:40])
	m.Decimals = acct.Data[40]
	m.Initialized = true
	return m, nil
}

// Holder is a balance of one token kind controlled by Owner.
type Holder struct {
	Address domain.Address
	Mint    domain.Address
	Owner   domain.Address
	Amount  uint64
}

func (h Holder) encode() []byte {
	buf := make([]byte, HolderSize)
	copy(buf[0:32], h.Mint[:])
	copy(buf[32:64], h.Owner[:])
	binary.LittleEndian.PutUint64(buf[64:72], h.Amount)
	buf[72] = holderInitialized
	return buf
}

func decodeHolder(acct domain.Account) (Holder, error) {
	if acct.Owner != ProgramID || len(acct.Data) != HolderSize || acct.Data[72] != holderInitialized {
		return Holder{}, fmt.Errorf("token: %s is not a holder account: %w", acct.Address, domain.ErrAssetMismatch)
	}
	h := Holder{Address: acct.Address}
	copy(h.Mint[:], acct.Data[0:32])
	copy(h.Owner[:], acct.Data[32:64])
	h.Amount = binary.LittleEndian.Uint64(acct.Data[64:72])
	return h, nil
}

// holderOwnerOffset is where a holder account stores its owner.
const holderOwnerOffset = 32

// OwnerFilter matches holder accounts controlled by owner. Mints can match
// by accident, so callers also check the data length.
func OwnerFilter(owner domain.Address) domain.MemcmpFilter {
	return domain.MemcmpFilter{Offset: holderOwnerOffset, Bytes: owner.Bytes()}
}
