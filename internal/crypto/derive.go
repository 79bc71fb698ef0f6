// Package crypto derives program addresses and signs and verifies ledger
// transactions with ed25519 keys.
package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

const (
	// MaxSeeds bounds the number of seeds in one derivation, bump included.
	MaxSeeds = 16
	// MaxSeedLen bounds the length of every seed.
	MaxSeedLen = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	ErrTooManySeeds   = errors.New("crypto: too many seeds")
	ErrSeedTooLong    = errors.New("crypto: seed too long")
	ErrAddressOnCurve = errors.New("crypto: derived address is on the ed25519 curve")
	ErrNoViableBump   = errors.New("crypto: no bump produced an off-curve address")
)

// IsOnCurve reports whether b decodes to a point on the ed25519 curve, i.e.
// whether some private key could exist for it.
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress hashes seeds with the program id into an address that
// no private key controls. It fails with ErrAddressOnCurve when the hash
// happens to be a valid curve point.
func CreateProgramAddress(seeds [][]byte, programID domain.Address) (domain.Address, error) {
	if len(seeds) > MaxSeeds {
		return domain.Address{}, fmt.Errorf("%w: %d > %d", ErrTooManySeeds, len(seeds), MaxSeeds)
	}
	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return domain.Address{}, fmt.Errorf("%w: seed %d has %d bytes", ErrSeedTooLong, i, len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var out domain.Address
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out[:]) {
		return domain.Address{}, ErrAddressOnCurve
	}
	return out, nil
}

// FindProgramAddress searches bumps from 255 down to 0, appending the bump as
// a final seed, and returns the first off-curve address together with its
// bump. The result is a pure function of seeds and programID.
func FindProgramAddress(seeds [][]byte, programID domain.Address) (domain.Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return domain.Address{}, 0, fmt.Errorf("%w: %d seeds leave no room for a bump", ErrTooManySeeds, len(seeds))
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrAddressOnCurve) {
			return domain.Address{}, 0, err
		}
	}
	return domain.Address{}, 0, ErrNoViableBump
}
