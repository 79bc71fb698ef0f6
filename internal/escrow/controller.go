// Package escrow is the market lifecycle program. A creator locks a deposit
// in a vault controlled by a program-derived authority; a taker later swaps
// against it, or the creator cancels and takes the deposit back. Every
// transition checks all of its preconditions before the first write and runs
// inside a single ledger unit, so a failure leaves no trace.
package escrow

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
	"github.com/alanyoungcy/vaultswap/internal/token"
)

// DefaultProgramID is the address the escrow program runs under unless
// configured otherwise.
var DefaultProgramID = domain.MustParseAddress("4HoSGEVaYsRGpHuX8vPFDUsZdx87jVe8ZeG6sKETcFgT")

// Controller runs Create, Cancel and Exchange as the escrow program.
type Controller struct {
	programID domain.Address
}

// NewController creates a Controller for the program at programID.
func NewController(programID domain.Address) *Controller {
	return &Controller{programID: programID}
}

// ProgramID returns the program address every market and vault belongs to.
func (c *Controller) ProgramID() domain.Address {
	return c.programID
}

// CreateParams opens a market.
type CreateParams struct {
	// MarketID is a fresh address that must sign, proving it is unused by
	// anyone else.
	MarketID  domain.Address
	Creator   domain.Address
	Variant   domain.Variant
	Direction domain.Direction

	DepositAsset  domain.Asset
	DepositAmount uint64
	ReceiveAsset  domain.Asset
	ReceiveAmount uint64

	// CreatorDeposit is the creator's holder account funding a token
	// deposit. Zero selects the creator's associated account.
	CreatorDeposit domain.Address
}

func (p CreateParams) terms() Terms {
	return Terms{
		Direction:     p.Direction,
		DepositAsset:  p.DepositAsset,
		DepositAmount: p.DepositAmount,
		ReceiveAsset:  p.ReceiveAsset,
		ReceiveAmount: p.ReceiveAmount,
	}
}

// CancelParams closes a market in favour of its creator.
type CancelParams struct {
	MarketID domain.Address
	Caller   domain.Address
	// Vault, when set, must equal the derived vault address.
	Vault domain.Address
	// Refund receives a token deposit. Zero selects the creator's
	// associated account, created if needed.
	Refund domain.Address
}

// ExchangeParams settles a market against a taker.
type ExchangeParams struct {
	MarketID domain.Address
	Taker    domain.Address
	// Vault, when set, must equal the derived vault address.
	Vault domain.Address
	// TakerPay holds the token the creator asked for. Zero selects the
	// taker's associated account.
	TakerPay domain.Address
	// TakerReceive receives a token deposit. Zero selects the taker's
	// associated account, created if needed.
	TakerReceive domain.Address
	// CreatorReceive receives the token the creator asked for. It must
	// already exist; zero selects the creator's associated account.
	CreatorReceive domain.Address
	// Quote, when set, is what the taker agreed to trade against. A record
	// that differs from it, such as one re-created at the same id, is
	// rejected.
	Quote *Quote
}

// Quote is the part of a market a taker commits to.
type Quote struct {
	DepositAsset  domain.Asset
	DepositAmount uint64
	ReceiveAsset  domain.Asset
	ReceiveAmount uint64
	CreatedAt     time.Time
}

// QuoteOf returns the quote a taker of m would sign.
func QuoteOf(m domain.Market) Quote {
	return Quote{
		DepositAsset:  m.DepositAsset,
		DepositAmount: m.DepositAmount,
		ReceiveAsset:  m.ReceiveAsset,
		ReceiveAmount: m.ReceiveAmount,
		CreatedAt:     m.CreatedAt,
	}
}

func (q Quote) matches(m domain.Market) bool {
	return q.DepositAsset == m.DepositAsset &&
		q.DepositAmount == m.DepositAmount &&
		q.ReceiveAsset == m.ReceiveAsset &&
		q.ReceiveAmount == m.ReceiveAmount &&
		q.CreatedAt.Unix() == m.CreatedAt.Unix()
}

// Create allocates the market record and its vault and moves the deposit
// from the creator into the vault.
func (c *Controller) Create(inv *ledger.Invocation, p CreateParams) (domain.Market, error) {
	if err := c.checkProgram(inv); err != nil {
		return domain.Market{}, err
	}
	policy, err := policyFor(p.Variant)
	if err != nil {
		return domain.Market{}, err
	}
	t := p.terms()
	if err := requireAmounts(t); err != nil {
		return domain.Market{}, err
	}
	if err := policy.CheckTerms(t); err != nil {
		return domain.Market{}, err
	}
	if !inv.IsSigner(p.Creator) {
		return domain.Market{}, fmt.Errorf("escrow: create: creator %s did not sign: %w", p.Creator, domain.ErrUnauthorized)
	}
	if !inv.IsSigner(p.MarketID) {
		return domain.Market{}, fmt.Errorf("escrow: create: market id %s did not sign: %w", p.MarketID, domain.ErrUnauthorized)
	}

	vault, err := DeriveVault(c.programID, p.Variant, p.MarketID, p.DepositAsset.IsNative())
	if err != nil {
		return domain.Market{}, err
	}
	for _, addr := range []domain.Address{p.MarketID, vault.Address} {
		exists, err := inv.Exists(addr)
		if err != nil {
			return domain.Market{}, err
		}
		if exists {
			return domain.Market{}, fmt.Errorf("escrow: create: account %s already in use: %w", addr, domain.ErrDuplicateMarket)
		}
	}
	if err := policy.CheckAssets(inv, t); err != nil {
		return domain.Market{}, err
	}

	// Storage deposits: the record, the vault and, when the creator is paid
	// in a token, the creator's receiving account if it does not exist yet.
	lamportsNeeded := ledger.RentExempt(domain.MarketRecordSize)
	if vault.Native {
		lamportsNeeded, err = addChecked(lamportsNeeded, ledger.RentExempt(0), p.DepositAmount)
	} else {
		lamportsNeeded, err = addChecked(lamportsNeeded, ledger.RentExempt(token.HolderSize))
	}
	if err != nil {
		return domain.Market{}, err
	}
	if !p.ReceiveAsset.IsNative() {
		missing, err := holderMissing(inv, p.Creator, p.ReceiveAsset.Mint)
		if err != nil {
			return domain.Market{}, err
		}
		if missing {
			if lamportsNeeded, err = addChecked(lamportsNeeded, ledger.RentExempt(token.HolderSize)); err != nil {
				return domain.Market{}, err
			}
		}
	}
	if err := requireLamports(inv, p.Creator, lamportsNeeded); err != nil {
		return domain.Market{}, err
	}

	var source domain.Address
	if !vault.Native {
		source, err = resolveHolder(inv, p.CreatorDeposit, p.Creator, p.DepositAsset.Mint)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, fmt.Errorf("escrow: create: creator holds no %s: %w", p.DepositAsset, domain.ErrInsufficientFunds)
		}
		if err != nil {
			return domain.Market{}, fmt.Errorf("escrow: create: creator deposit account: %w", err)
		}
		if err := requireTokens(inv, source, p.DepositAmount); err != nil {
			return domain.Market{}, err
		}
	}

	m := domain.Market{
		ID:            p.MarketID,
		Creator:       p.Creator,
		Variant:       p.Variant,
		Direction:     p.Direction,
		DepositAsset:  p.DepositAsset,
		DepositAmount: p.DepositAmount,
		ReceiveAsset:  p.ReceiveAsset,
		ReceiveAmount: p.ReceiveAmount,
		CreatedAt:     inv.Now().UTC().Truncate(time.Second),
		VaultBump:     vault.Bump,
		AuthorityBump: vault.AuthorityBump,
	}
	record, err := m.MarshalBinary()
	if err != nil {
		return domain.Market{}, err
	}

	// Every precondition holds; the writes below can only fail on ledger
	// faults, which abort the whole unit.
	if err := inv.CreateAccount(p.Creator, p.MarketID, domain.MarketRecordSize, c.programID); err != nil {
		return domain.Market{}, transferFailed("allocate market record", err)
	}
	if err := inv.WriteData(p.MarketID, record); err != nil {
		return domain.Market{}, transferFailed("write market record", err)
	}
	if err := signVault(inv, m); err != nil {
		return domain.Market{}, transferFailed("sign vault", err)
	}
	if vault.Native {
		if err := inv.CreateAccount(p.Creator, vault.Address, 0, c.programID); err != nil {
			return domain.Market{}, transferFailed("allocate vault", err)
		}
		if err := inv.TransferLamports(p.Creator, vault.Address, p.DepositAmount); err != nil {
			return domain.Market{}, transferFailed("fund vault", err)
		}
	} else {
		if err := token.InitHolderAccount(inv, p.Creator, vault.Address, vault.Authority, p.DepositAsset.Mint); err != nil {
			return domain.Market{}, transferFailed("allocate vault", err)
		}
		if err := token.Transfer(inv, source, vault.Address, p.Creator, p.DepositAmount); err != nil {
			return domain.Market{}, transferFailed("fund vault", err)
		}
	}
	if !p.ReceiveAsset.IsNative() {
		if _, err := token.CreateHolderAccount(inv, p.Creator, p.Creator, p.ReceiveAsset.Mint); err != nil {
			return domain.Market{}, transferFailed("open creator receiving account", err)
		}
	}
	return m, nil
}

// Cancel returns the deposit to the creator and closes the vault and the
// record. Only the creator may cancel.
func (c *Controller) Cancel(inv *ledger.Invocation, p CancelParams) (domain.Market, error) {
	if err := c.checkProgram(inv); err != nil {
		return domain.Market{}, err
	}
	m, err := c.load(inv, p.MarketID)
	if err != nil {
		return domain.Market{}, err
	}
	if p.Caller != m.Creator || !inv.IsSigner(p.Caller) {
		return domain.Market{}, fmt.Errorf("escrow: cancel %s: caller %s is not the signing creator: %w",
			m.ID, p.Caller, domain.ErrUnauthorized)
	}
	vault, err := c.openVault(inv, m, p.Vault)
	if err != nil {
		return domain.Market{}, err
	}
	held, err := escrowed(inv, m, vault)
	if err != nil {
		return domain.Market{}, err
	}

	var refund domain.Address
	refundMissing := false
	if !vault.Native {
		if p.Refund.IsZero() {
			if refundMissing, err = holderMissing(inv, m.Creator, m.DepositAsset.Mint); err != nil {
				return domain.Market{}, err
			}
		}
		if !refundMissing {
			if refund, err = resolveHolder(inv, p.Refund, m.Creator, m.DepositAsset.Mint); err != nil {
				return domain.Market{}, fmt.Errorf("escrow: cancel %s: refund account: %v: %w", m.ID, err, domain.ErrAssetMismatch)
			}
		} else if err := requireLamports(inv, m.Creator, ledger.RentExempt(token.HolderSize)); err != nil {
			return domain.Market{}, err
		}
	}

	if vault.Native {
		if err := inv.CloseAccount(vault.Address, m.Creator); err != nil {
			return domain.Market{}, transferFailed("close vault", err)
		}
	} else {
		if refundMissing {
			if refund, err = token.CreateHolderAccount(inv, m.Creator, m.Creator, m.DepositAsset.Mint); err != nil {
				return domain.Market{}, transferFailed("open refund account", err)
			}
		}
		if err := signAuthority(inv, m); err != nil {
			return domain.Market{}, transferFailed("sign vault authority", err)
		}
		// held, not DepositAmount: tokens donated to the vault must not block closing it.
		if err := token.Transfer(inv, vault.Address, refund, vault.Authority, held); err != nil {
			return domain.Market{}, transferFailed("refund deposit", err)
		}
		if err := token.CloseAccount(inv, vault.Address, m.Creator, vault.Authority); err != nil {
			return domain.Market{}, transferFailed("close vault", err)
		}
	}
	if err := inv.CloseAccount(m.ID, m.Creator); err != nil {
		return domain.Market{}, transferFailed("close market record", err)
	}
	return m, nil
}

// Exchange swaps the vault's deposit for the taker's payment and closes the
// market. Leg A pays the deposit to the taker, leg B pays the creator; both
// run in the caller's unit so neither is observable without the other.
func (c *Controller) Exchange(inv *ledger.Invocation, p ExchangeParams) (domain.Market, error) {
	if err := c.checkProgram(inv); err != nil {
		return domain.Market{}, err
	}
	m, err := c.load(inv, p.MarketID)
	if err != nil {
		return domain.Market{}, err
	}
	if !inv.IsSigner(p.Taker) {
		return domain.Market{}, fmt.Errorf("escrow: exchange %s: taker %s did not sign: %w", m.ID, p.Taker, domain.ErrUnauthorized)
	}
	if p.Quote != nil && !p.Quote.matches(m) {
		return domain.Market{}, fmt.Errorf("escrow: exchange %s: record differs from the taker's quote: %w", m.ID, domain.ErrAssetMismatch)
	}
	vault, err := c.openVault(inv, m, p.Vault)
	if err != nil {
		return domain.Market{}, err
	}
	held, err := escrowed(inv, m, vault)
	if err != nil {
		return domain.Market{}, err
	}

	var takerLamports uint64

	// Leg A destination: where the taker receives the deposit.
	takerReceive := p.Taker
	takerReceiveMissing := false
	if !vault.Native {
		if p.TakerReceive.IsZero() {
			if takerReceiveMissing, err = holderMissing(inv, p.Taker, m.DepositAsset.Mint); err != nil {
				return domain.Market{}, err
			}
		}
		if takerReceiveMissing {
			takerLamports = ledger.RentExempt(token.HolderSize)
		} else if takerReceive, err = resolveHolder(inv, p.TakerReceive, p.Taker, m.DepositAsset.Mint); err != nil {
			return domain.Market{}, fmt.Errorf("escrow: exchange %s: taker receiving account: %v: %w", m.ID, err, domain.ErrAssetMismatch)
		}
	}

	// Leg B source and destination: the taker's payment and the creator's
	// receiving account.
	takerPay := p.Taker
	creatorReceive := m.Creator
	if m.ReceiveAsset.IsNative() {
		if takerLamports, err = addChecked(takerLamports, m.ReceiveAmount); err != nil {
			return domain.Market{}, err
		}
	} else {
		if takerPay, err = resolveHolder(inv, p.TakerPay, p.Taker, m.ReceiveAsset.Mint); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Market{}, fmt.Errorf("escrow: exchange %s: taker holds no %s: %w",
					m.ID, m.ReceiveAsset, domain.ErrInsufficientFunds)
			}
			return domain.Market{}, fmt.Errorf("escrow: exchange %s: taker paying account: %w", m.ID, err)
		}
		if err := requireTokens(inv, takerPay, m.ReceiveAmount); err != nil {
			return domain.Market{}, err
		}
		if creatorReceive, err = resolveHolder(inv, p.CreatorReceive, m.Creator, m.ReceiveAsset.Mint); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Market{}, fmt.Errorf("escrow: exchange %s: creator has no %s account: %w",
					m.ID, m.ReceiveAsset, domain.ErrAssetMismatch)
			}
			return domain.Market{}, fmt.Errorf("escrow: exchange %s: creator receiving account: %w", m.ID, err)
		}
	}
	if takerLamports > 0 {
		if err := requireLamports(inv, p.Taker, takerLamports); err != nil {
			return domain.Market{}, err
		}
	}

	// Leg A: vault -> taker.
	if vault.Native {
		if err := inv.TransferLamports(vault.Address, takerReceive, m.DepositAmount); err != nil {
			return domain.Market{}, transferFailed("pay deposit to taker", err)
		}
	} else {
		if takerReceiveMissing {
			if takerReceive, err = token.CreateHolderAccount(inv, p.Taker, p.Taker, m.DepositAsset.Mint); err != nil {
				return domain.Market{}, transferFailed("open taker receiving account", err)
			}
		}
		if err := signAuthority(inv, m); err != nil {
			return domain.Market{}, transferFailed("sign vault authority", err)
		}
		// held, not DepositAmount: tokens donated to the vault must not block closing it.
		if err := token.Transfer(inv, vault.Address, takerReceive, vault.Authority, held); err != nil {
			return domain.Market{}, transferFailed("pay deposit to taker", err)
		}
	}

	// Leg B: taker -> creator.
	if m.ReceiveAsset.IsNative() {
		if err := inv.TransferLamports(p.Taker, creatorReceive, m.ReceiveAmount); err != nil {
			return domain.Market{}, transferFailed("pay creator", err)
		}
	} else if err := token.Transfer(inv, takerPay, creatorReceive, p.Taker, m.ReceiveAmount); err != nil {
		return domain.Market{}, transferFailed("pay creator", err)
	}

	// Closure: storage deposits go back to the creator, who paid them.
	if vault.Native {
		if err := inv.CloseAccount(vault.Address, m.Creator); err != nil {
			return domain.Market{}, transferFailed("close vault", err)
		}
	} else if err := token.CloseAccount(inv, vault.Address, m.Creator, vault.Authority); err != nil {
		return domain.Market{}, transferFailed("close vault", err)
	}
	if err := inv.CloseAccount(m.ID, m.Creator); err != nil {
		return domain.Market{}, transferFailed("close market record", err)
	}
	return m, nil
}

func (c *Controller) checkProgram(inv *ledger.Invocation) error {
	if inv.ProgramID() != c.programID {
		return fmt.Errorf("escrow: invoked as %s, expected %s", inv.ProgramID(), c.programID)
	}
	return nil
}

// load reads and decodes the market record at id. Anything that is not a
// record written by this program reads as a missing market.
func (c *Controller) load(inv *ledger.Invocation, id domain.Address) (domain.Market, error) {
	acct, err := inv.Account(id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Market{}, fmt.Errorf("escrow: market %s: %w", id, domain.ErrMarketNotFound)
	}
	if err != nil {
		return domain.Market{}, err
	}
	if acct.Owner != c.programID {
		return domain.Market{}, fmt.Errorf("escrow: account %s is not owned by the escrow program: %w", id, domain.ErrMarketNotFound)
	}
	m := domain.Market{ID: id}
	if err := m.UnmarshalBinary(acct.Data); err != nil {
		return domain.Market{}, fmt.Errorf("escrow: account %s: %v: %w", id, err, domain.ErrMarketNotFound)
	}
	return m, nil
}

// openVault re-derives the market's vault and rejects a supplied vault
// address that differs from it.
func (c *Controller) openVault(inv *ledger.Invocation, m domain.Market, supplied domain.Address) (Vault, error) {
	v, err := vaultOf(c.programID, m)
	if err != nil {
		return Vault{}, err
	}
	if !supplied.IsZero() && supplied != v.Address {
		return Vault{}, fmt.Errorf("escrow: market %s: supplied vault %s, derived %s: %w",
			m.ID, supplied, v.Address, domain.ErrAssetMismatch)
	}
	return v, nil
}

func transferFailed(step string, err error) error {
	return fmt.Errorf("escrow: %s: %w: %v", step, domain.ErrTransferFailed, err)
}

func addChecked(base uint64, more ...uint64) (uint64, error) {
	sum := base
	for _, n := range more {
		var overflow bool
		if sum, overflow = math.SafeAdd(sum, n); overflow {
			return 0, fmt.Errorf("escrow: amount: %w", domain.ErrOverflow)
		}
	}
	return sum, nil
}
