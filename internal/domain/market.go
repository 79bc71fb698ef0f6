package domain

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Variant selects which asset pair a market trades.
type Variant string

const (
	VariantTokenNative Variant = "token_native"
	VariantTokenToken  Variant = "token_token"
	VariantNFTNative   Variant = "nft_native"
)

// Direction says which side of a token/native market the vault escrows.
// Only token_native markets carry a direction.
type Direction string

const (
	DirectionNone          Direction = ""
	DirectionTokenToNative Direction = "token_to_native"
	DirectionNativeToToken Direction = "native_to_token"
)

// Market is the persisted terms of one open trade. The record lives at its
// own address (ID); it exists while the market is open and is deleted when
// the market is cancelled or exchanged.
type Market struct {
	ID            Address   `json:"id"`
	Creator       Address   `json:"creator"`
	Variant       Variant   `json:"variant"`
	Direction     Direction `json:"direction,omitempty"`
	DepositAsset  Asset     `json:"deposit_asset"`
	DepositAmount uint64    `json:"deposit_amount"`
	ReceiveAsset  Asset     `json:"receive_asset"`
	ReceiveAmount uint64    `json:"receive_amount"`
	CreatedAt     time.Time `json:"created_at"`
	VaultBump     uint8     `json:"vault_bump"`
	AuthorityBump uint8     `json:"authority_bump"`
}

// Serialized market record layout. The creator sits at a fixed offset so the
// read side can filter records by creator without decoding them.
const (
	MarketRecordSize    = 133
	MarketCreatorOffset = 8

	marketLayoutVersion = 1
)

// MarketDiscriminator prefixes every serialized record: the first eight bytes
// of sha256("account:Market").
var MarketDiscriminator = [8]byte{0xdb, 0xbe, 0xd5, 0x37, 0x00, 0xe3, 0xc6, 0x9a}

var variantCodes = map[Variant]byte{
	VariantTokenNative: 1,
	VariantTokenToken:  2,
	VariantNFTNative:   3,
}

var directionCodes = map[Direction]byte{
	DirectionNone:          0,
	DirectionTokenToNative: 1,
	DirectionNativeToToken: 2,
}

// MarshalBinary encodes the record in its on-ledger layout. The ID is not
// part of the payload; it is the address the payload is stored under.
func (m Market) MarshalBinary() ([]byte, error) {
	vc, ok := variantCodes[m.Variant]
	if !ok {
		return nil, fmt.Errorf("%w: unknown variant %q", ErrInvalidRecord, m.Variant)
	}
	dc, ok := directionCodes[m.Direction]
	if !ok {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidRecord, m.Direction)
	}

	buf := make([]byte, MarketRecordSize)
	copy(buf[0:8], MarketDiscriminator[:])
	copy(buf[8:40], m.Creator[:])
	buf[40] = vc
	buf[41] = dc
	copy(buf[42:74], m.DepositAsset.Mint[:])
	binary.LittleEndian.PutUint64(buf[74:82], m.DepositAmount)
	copy(buf[82:114], m.ReceiveAsset.Mint[:])
	binary.LittleEndian.PutUint64(buf[114:122], m.ReceiveAmount)
	binary.LittleEndian.PutUint64(buf[122:130], uint64(m.CreatedAt.Unix()))
	buf[130] = m.VaultBump
	buf[131] = m.AuthorityBump
	buf[132] = marketLayoutVersion
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary. It rejects any
// payload that does not carry the market discriminator, so arbitrary accounts
// cannot be passed off as markets.
func (m *Market) UnmarshalBinary(data []byte) error {
	if len(data) != MarketRecordSize {
		return fmt.Errorf("%w: size %d", ErrInvalidRecord, len(data))
	}
	if [8]byte(data[0:8]) != MarketDiscriminator {
		return fmt.Errorf("%w: bad discriminator", ErrInvalidRecord)
	}
	if data[132] != marketLayoutVersion {
		return fmt.Errorf("%w: layout version %d", ErrInvalidRecord, data[132])
	}

	var out Market
	out.ID = m.ID
	copy(out.Creator[:], data[8:40])

	var found bool
	for v, code := range variantCodes {
		if code == data[40] {
			out.Variant, found = v, true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: variant code %d", ErrInvalidRecord, data[40])
	}
	found = false
	for d, code := range directionCodes {
		if code == data[41] {
			out.Direction, found = d, true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: direction code %d", ErrInvalidRecord, data[41])
	}

	copy(out.DepositAsset.Mint[:], data[42:74])
	out.DepositAmount = binary.LittleEndian.Uint64(data[74:82])
	copy(out.ReceiveAsset.Mint[:], data[82:114])
	out.ReceiveAmount = binary.LittleEndian.Uint64(data[114:122])
	out.CreatedAt = time.Unix(int64(binary.LittleEndian.Uint64(data[122:130])), 0).UTC()
	out.VaultBump = data[130]
	out.AuthorityBump = data[131]

	*m = out
	return nil
}

// CreatorFilter matches serialized records created by creator.
func CreatorFilter(creator Address) MemcmpFilter {
	return MemcmpFilter{Offset: MarketCreatorOffset, Bytes: creator.Bytes()}
}

// DiscriminatorFilter matches serialized market records.
func DiscriminatorFilter() MemcmpFilter {
	return MemcmpFilter{Offset: 0, Bytes: MarketDiscriminator[:]}
}
