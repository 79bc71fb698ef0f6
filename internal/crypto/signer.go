package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/decred/base58"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// SignatureSize is the byte length of an ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// Signature is an ed25519 signature, rendered as base58 text.
type Signature [SignatureSize]byte

// ParseSignature decodes a base58 signature.
func ParseSignature(s string) (Signature, error) {
	raw := base58.Decode(s)
	if len(raw) != SignatureSize {
		return Signature{}, fmt.Errorf("crypto: invalid signature %q", s)
	}
	var sig Signature
	copy(sig[:], raw)
	return sig, nil
}

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Keypair is an ed25519 wallet key. Its public key is its ledger address.
type Keypair struct {
	priv ed25519.PrivateKey
	addr domain.Address
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return newKeypair(priv), nil
}

// KeypairFromSeed rebuilds a keypair from its 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return newKeypair(ed25519.NewKeyFromSeed(seed)), nil
}

func newKeypair(priv ed25519.PrivateKey) *Keypair {
	k := &Keypair{priv: priv}
	copy(k.addr[:], priv.Public().(ed25519.PublicKey))
	return k
}

// Address returns the public key as a ledger address.
func (k *Keypair) Address() domain.Address {
	return k.addr
}

// Sign signs msg with the private key.
func (k *Keypair) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.priv, msg))
	return sig
}

// Verify reports whether sig is signer's signature over msg. Off-curve
// addresses never verify.
func Verify(signer domain.Address, msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(signer[:]), msg, sig[:])
}
