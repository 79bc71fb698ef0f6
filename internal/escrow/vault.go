package escrow

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/vaultswap/internal/crypto"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
	"github.com/alanyoungcy/vaultswap/internal/token"
)

// authoritySeed tags the vault authority derivation. It is shared by all
// variants; the vault seeds differ per variant.
var authoritySeed = []byte("vault-authority")

// Vault locates the custody account of one market.
type Vault struct {
	Address       domain.Address `json:"address"`
	Authority     domain.Address `json:"authority"`
	Bump          uint8          `json:"bump"`
	AuthorityBump uint8          `json:"authority_bump"`
	Native        bool           `json:"native"`
}

// DeriveVault computes the vault and vault authority addresses for a market
// of the given variant. Any party can recompute them from the market id.
func DeriveVault(programID domain.Address, variant domain.Variant, marketID domain.Address, native bool) (Vault, error) {
	p, err := policyFor(variant)
	if err != nil {
		return Vault{}, err
	}
	addr, bump, err := crypto.FindProgramAddress([][]byte{p.VaultSeed(), marketID[:]}, programID)
	if err != nil {
		return Vault{}, fmt.Errorf("escrow: derive vault: %w", err)
	}
	auth, authBump, err := crypto.FindProgramAddress([][]byte{authoritySeed, marketID[:]}, programID)
	if err != nil {
		return Vault{}, fmt.Errorf("escrow: derive vault authority: %w", err)
	}
	return Vault{Address: addr, Authority: auth, Bump: bump, AuthorityBump: authBump, Native: native}, nil
}

// vaultOf re-derives the vault of a stored market from its recorded bumps.
func vaultOf(programID domain.Address, m domain.Market) (Vault, error) {
	p, err := policyFor(m.Variant)
	if err != nil {
		return Vault{}, err
	}
	addr, err := crypto.CreateProgramAddress([][]byte{p.VaultSeed(), m.ID[:], {m.VaultBump}}, programID)
	if err != nil {
		return Vault{}, fmt.Errorf("escrow: vault of %s: %w", m.ID, err)
	}
	auth, err := crypto.CreateProgramAddress([][]byte{authoritySeed, m.ID[:], {m.AuthorityBump}}, programID)
	if err != nil {
		return Vault{}, fmt.Errorf("escrow: vault authority of %s: %w", m.ID, err)
	}
	return Vault{
		Address:       addr,
		Authority:     auth,
		Bump:          m.VaultBump,
		AuthorityBump: m.AuthorityBump,
		Native:        m.DepositAsset.IsNative(),
	}, nil
}

// signVault adds the vault address to the invocation's signers so it can be
// allocated.
func signVault(inv *ledger.Invocation, m domain.Market) error {
	p, err := policyFor(m.Variant)
	if err != nil {
		return err
	}
	_, err = inv.SignWithSeeds(p.VaultSeed(), m.ID[:], []byte{m.VaultBump})
	return err
}

// signAuthority adds the vault authority to the invocation's signers so it
// can move funds out of a token vault.
func signAuthority(inv *ledger.Invocation, m domain.Market) error {
	_, err := inv.SignWithSeeds(authoritySeed, m.ID[:], []byte{m.AuthorityBump})
	return err
}

// escrowed returns the amount held by the vault and checks that it still
// covers the recorded deposit.
func escrowed(inv *ledger.Invocation, m domain.Market, v Vault) (uint64, error) {
	acct, err := inv.Account(v.Address)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("escrow: vault %s of market %s is missing: %w", v.Address, m.ID, domain.ErrTransferFailed)
	}
	if err != nil {
		return 0, err
	}

	var held uint64
	if v.Native {
		if acct.Owner != inv.ProgramID() || len(acct.Data) != 0 {
			return 0, fmt.Errorf("escrow: vault %s is not a native vault: %w", v.Address, domain.ErrAssetMismatch)
		}
		deposit := ledger.RentExempt(0)
		if acct.Lamports >= deposit {
			held = acct.Lamports - deposit
		}
	} else {
		h, err := token.GetHolder(inv, v.Address)
		if err != nil {
			return 0, err
		}
		if h.Mint != m.DepositAsset.Mint || h.Owner != v.Authority {
			return 0, fmt.Errorf("escrow: vault %s does not hold %s for its authority: %w",
				v.Address, m.DepositAsset, domain.ErrAssetMismatch)
		}
		held = h.Amount
	}

	if held < m.DepositAmount {
		return 0, fmt.Errorf("escrow: vault %s holds %d, market %s escrows %d: %w",
			v.Address, held, m.ID, m.DepositAmount, domain.ErrTransferFailed)
	}
	return held, nil
}

// VaultBalance returns the escrowed amount of an open market.
func (c *Controller) VaultBalance(inv *ledger.Invocation, m domain.Market) (uint64, error) {
	v, err := vaultOf(c.programID, m)
	if err != nil {
		return 0, err
	}
	return escrowed(inv, m, v)
}
