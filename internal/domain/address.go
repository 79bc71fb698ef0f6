package domain

import (
	"bytes"
	"fmt"

	"github.com/decred/base58"
)

// AddressSize is the byte length of every ledger address.
const AddressSize = 32

// Address identifies an account on the ledger. Wallet addresses are ed25519
// public keys; program-derived addresses are hashes that lie off the curve.
type Address [AddressSize]byte

// SystemProgramID owns every plain wallet account. It is the zero address.
var SystemProgramID Address

// ParseAddress decodes a base58 address string.
func ParseAddress(s string) (Address, error) {
	raw := base58.Decode(s)
	if s == "" || len(raw) != AddressSize {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress is ParseAddress for compile-time constants. It panics on
// malformed input.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressFromBytes copies a 32-byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("%w: got %d bytes", ErrInvalidAddress, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressSize)
	copy(out, a[:])
	return out
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// Compare orders addresses bytewise.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
