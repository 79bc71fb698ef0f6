package escrow

import (
	"fmt"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
	"github.com/alanyoungcy/vaultswap/internal/token"
)

// Terms is the asset pair and amounts a creator proposes.
type Terms struct {
	Direction     domain.Direction
	DepositAsset  domain.Asset
	DepositAmount uint64
	ReceiveAsset  domain.Asset
	ReceiveAmount uint64
}

// Policy captures what distinguishes one market variant from another. The
// lifecycle itself is shared; a policy decides which asset pairs are legal
// and which seed the variant's vaults are derived from.
type Policy interface {
	Variant() domain.Variant
	// VaultSeed tags vault derivation so variants sharing a market id never
	// collide.
	VaultSeed() []byte
	// CheckTerms validates the shape of the asset pair without reading the
	// ledger.
	CheckTerms(t Terms) error
	// CheckAssets validates the pair against ledger state (mint existence,
	// mint properties).
	CheckAssets(inv *ledger.Invocation, t Terms) error
}

var policies = map[domain.Variant]Policy{
	domain.VariantTokenNative: tokenNativePolicy{},
	domain.VariantTokenToken:  tokenTokenPolicy{},
	domain.VariantNFTNative:   nftNativePolicy{},
}

func policyFor(v domain.Variant) (Policy, error) {
	p, ok := policies[v]
	if !ok {
		return nil, fmt.Errorf("escrow: unknown variant %q: %w", v, domain.ErrAssetMismatch)
	}
	return p, nil
}

// PolicyFor returns the policy governing variant v.
func PolicyFor(v domain.Variant) (Policy, error) {
	return policyFor(v)
}

// tokenNativePolicy trades a token against the native currency in either
// direction; the direction picks which side the vault escrows.
type tokenNativePolicy struct{}

func (tokenNativePolicy) Variant() domain.Variant { return domain.VariantTokenNative }

func (tokenNativePolicy) VaultSeed() []byte { return []byte("vault-token-native") }

func (tokenNativePolicy) CheckTerms(t Terms) error {
	switch t.Direction {
	case domain.DirectionTokenToNative:
		if t.DepositAsset.IsNative() || !t.ReceiveAsset.IsNative() {
			return fmt.Errorf("escrow: token_to_native deposits a token for native currency: %w", domain.ErrAssetMismatch)
		}
	case domain.DirectionNativeToToken:
		if !t.DepositAsset.IsNative() || t.ReceiveAsset.IsNative() {
			return fmt.Errorf("escrow: native_to_token deposits native currency for a token: %w", domain.ErrAssetMismatch)
		}
	default:
		return fmt.Errorf("escrow: token_native market needs a direction, got %q: %w", t.Direction, domain.ErrAssetMismatch)
	}
	return nil
}

func (tokenNativePolicy) CheckAssets(inv *ledger.Invocation, t Terms) error {
	return checkMints(inv, t)
}

// tokenTokenPolicy trades one token kind for a different one.
type tokenTokenPolicy struct{}

func (tokenTokenPolicy) Variant() domain.Variant { return domain.VariantTokenToken }

func (tokenTokenPolicy) VaultSeed() []byte { return []byte("vault-token-token") }

func (tokenTokenPolicy) CheckTerms(t Terms) error {
	if t.Direction != domain.DirectionNone {
		return fmt.Errorf("escrow: token_token market takes no direction: %w", domain.ErrAssetMismatch)
	}
	if t.DepositAsset.IsNative() || t.ReceiveAsset.IsNative() {
		return fmt.Errorf("escrow: token_token market trades two tokens: %w", domain.ErrAssetMismatch)
	}
	if t.DepositAsset == t.ReceiveAsset {
		return fmt.Errorf("escrow: deposit and receive are both %s: %w", t.DepositAsset, domain.ErrAssetMismatch)
	}
	return nil
}

func (tokenTokenPolicy) CheckAssets(inv *ledger.Invocation, t Terms) error {
	return checkMints(inv, t)
}

// nftNativePolicy sells a single unit of an indivisible token for native
// currency.
type nftNativePolicy struct{}

func (nftNativePolicy) Variant() domain.Variant { return domain.VariantNFTNative }

func (nftNativePolicy) VaultSeed() []byte { return []byte("vault-nft-native") }

func (nftNativePolicy) CheckTerms(t Terms) error {
	if t.Direction != domain.DirectionNone {
		return fmt.Errorf("escrow: nft_native market takes no direction: %w", domain.ErrAssetMismatch)
	}
	if t.DepositAsset.IsNative() || !t.ReceiveAsset.IsNative() {
		return fmt.Errorf("escrow: nft_native market deposits a token for native currency: %w", domain.ErrAssetMismatch)
	}
	if t.DepositAmount != 1 {
		return fmt.Errorf("escrow: nft_native market escrows exactly one unit, got %d: %w", t.DepositAmount, domain.ErrInvalidAmount)
	}
	return nil
}

func (nftNativePolicy) CheckAssets(inv *ledger.Invocation, t Terms) error {
	m, err := token.GetMint(inv, t.DepositAsset.Mint)
	if err != nil {
		return fmt.Errorf("escrow: deposit mint: %w", domain.ErrAssetMismatch)
	}
	if m.Decimals != 0 {
		return fmt.Errorf("escrow: mint %s has %d decimals, not an nft: %w", t.DepositAsset, m.Decimals, domain.ErrAssetMismatch)
	}
	return nil
}

// checkMints verifies every token side of t names an existing mint.
func checkMints(inv *ledger.Invocation, t Terms) error {
	for _, a := range []domain.Asset{t.DepositAsset, t.ReceiveAsset} {
		if a.IsNative() {
			continue
		}
		if _, err := token.GetMint(inv, a.Mint); err != nil {
			return fmt.Errorf("escrow: %s is not a known mint: %w", a, domain.ErrAssetMismatch)
		}
	}
	return nil
}

// requireAmounts rejects zero deposits and zero prices.
func requireAmounts(t Terms) error {
	if t.DepositAmount == 0 {
		return fmt.Errorf("escrow: deposit amount must be positive: %w", domain.ErrInvalidAmount)
	}
	if t.ReceiveAmount == 0 {
		return fmt.Errorf("escrow: receive amount must be positive: %w", domain.ErrInvalidAmount)
	}
	return nil
}
