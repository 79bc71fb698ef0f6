package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/escrow"
	"github.com/alanyoungcy/vaultswap/internal/ledger"
)

// Every request is signed over a line-oriented rendering of its fields,
// prefixed with the operation and the program id so a signature cannot be
// replayed against another operation or deployment.
func signingBytes(op string, programID domain.Address, fields ...string) []byte {
	var b strings.Builder
	b.WriteString("vaultswap:")
	b.WriteString(op)
	b.WriteByte('\n')
	b.WriteString(programID.String())
	for _, f := range fields {
		b.WriteByte('\n')
		b.WriteString(f)
	}
	return []byte(b.String())
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func i64(v int64) string { return strconv.FormatInt(v, 10) }

// Once makes a market request single-use. The ledger refuses a request past
// ExpiresAt (unix seconds, at most ledger.MaxLifetime ahead) and runs each
// signed message at most once. Nonce separates otherwise identical
// requests.
type Once struct {
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expires_at"`
}

func (o Once) fields() []string {
	return []string{o.Nonce, i64(o.ExpiresAt)}
}

func (o Once) transaction(msg []byte, sigs []ledger.SignerSignature) (ledger.Transaction, error) {
	if o.ExpiresAt <= 0 {
		return ledger.Transaction{}, fmt.Errorf("expires_at is required: %w", domain.ErrRequestExpired)
	}
	return ledger.Transaction{
		Message:    msg,
		Signatures: sigs,
		ExpiresAt:  time.Unix(o.ExpiresAt, 0),
	}, nil
}

// CreateMarketRequest opens a market. Both Creator and MarketID must sign.
type CreateMarketRequest struct {
	MarketID       domain.Address   `json:"market_id"`
	Creator        domain.Address   `json:"creator"`
	Variant        domain.Variant   `json:"variant"`
	Direction      domain.Direction `json:"direction,omitempty"`
	DepositAsset   domain.Asset     `json:"deposit_asset"`
	DepositAmount  uint64           `json:"deposit_amount"`
	ReceiveAsset   domain.Asset     `json:"receive_asset"`
	ReceiveAmount  uint64           `json:"receive_amount"`
	CreatorDeposit domain.Address   `json:"creator_deposit"`
	Once

	Signatures []ledger.SignerSignature `json:"signatures"`
}

// SigningBytes is the message Signatures must cover.
func (r CreateMarketRequest) SigningBytes(programID domain.Address) []byte {
	return signingBytes("create", programID, append([]string{
		r.MarketID.String(),
		r.Creator.String(),
		string(r.Variant),
		string(r.Direction),
		r.DepositAsset.String(),
		u64(r.DepositAmount),
		r.ReceiveAsset.String(),
		u64(r.ReceiveAmount),
		r.CreatorDeposit.String(),
	}, r.fields()...)...)
}

// CancelMarketRequest returns a deposit to its creator, who must sign.
type CancelMarketRequest struct {
	MarketID domain.Address `json:"market_id"`
	Caller   domain.Address `json:"caller"`
	Vault    domain.Address `json:"vault"`
	Refund   domain.Address `json:"refund"`
	Once

	Signatures []ledger.SignerSignature `json:"signatures"`
}

// SigningBytes is the message Signatures must cover.
func (r CancelMarketRequest) SigningBytes(programID domain.Address) []byte {
	return signingBytes("cancel", programID, append([]string{
		r.MarketID.String(),
		r.Caller.String(),
		r.Vault.String(),
		r.Refund.String(),
	}, r.fields()...)...)
}

// ExchangeMarketRequest settles a market. The taker must sign, and signs
// the terms too: the exchange only runs against a record that still carries
// them.
type ExchangeMarketRequest struct {
	MarketID       domain.Address `json:"market_id"`
	Taker          domain.Address `json:"taker"`
	Vault          domain.Address `json:"vault"`
	TakerPay       domain.Address `json:"taker_pay"`
	TakerReceive   domain.Address `json:"taker_receive"`
	CreatorReceive domain.Address `json:"creator_receive"`

	DepositAsset  domain.Asset `json:"deposit_asset"`
	DepositAmount uint64       `json:"deposit_amount"`
	ReceiveAsset  domain.Asset `json:"receive_asset"`
	ReceiveAmount uint64       `json:"receive_amount"`
	CreatedAt     int64        `json:"created_at"` // unix seconds
	Once

	Signatures []ledger.SignerSignature `json:"signatures"`
}

// ExchangeRequestFor fills the terms of m into a request for taker.
func ExchangeRequestFor(m domain.Market, taker domain.Address) ExchangeMarketRequest {
	return ExchangeMarketRequest{
		MarketID:      m.ID,
		Taker:         taker,
		DepositAsset:  m.DepositAsset,
		DepositAmount: m.DepositAmount,
		ReceiveAsset:  m.ReceiveAsset,
		ReceiveAmount: m.ReceiveAmount,
		CreatedAt:     m.CreatedAt.Unix(),
	}
}

// SigningBytes is the message Signatures must cover.
func (r ExchangeMarketRequest) SigningBytes(programID domain.Address) []byte {
	return signingBytes("exchange", programID, append([]string{
		r.MarketID.String(),
		r.Taker.String(),
		r.Vault.String(),
		r.TakerPay.String(),
		r.TakerReceive.String(),
		r.CreatorReceive.String(),
		r.DepositAsset.String(),
		u64(r.DepositAmount),
		r.ReceiveAsset.String(),
		u64(r.ReceiveAmount),
		i64(r.CreatedAt),
	}, r.fields()...)...)
}

func (r ExchangeMarketRequest) quote() *escrow.Quote {
	return &escrow.Quote{
		DepositAsset:  r.DepositAsset,
		DepositAmount: r.DepositAmount,
		ReceiveAsset:  r.ReceiveAsset,
		ReceiveAmount: r.ReceiveAmount,
		CreatedAt:     time.Unix(r.CreatedAt, 0),
	}
}

// CreateMintRequest registers a token kind. Payer and Mint must sign.
type CreateMintRequest struct {
	Payer     domain.Address `json:"payer"`
	Mint      domain.Address `json:"mint"`
	Authority domain.Address `json:"authority"`
	Decimals  uint8          `json:"decimals"`

	Signatures []ledger.SignerSignature `json:"signatures"`
}

// SigningBytes is the message Signatures must cover.
func (r CreateMintRequest) SigningBytes(programID domain.Address) []byte {
	return signingBytes("create_mint", programID,
		r.Payer.String(),
		r.Mint.String(),
		r.Authority.String(),
		strconv.Itoa(int(r.Decimals)),
	)
}

// MintToRequest issues tokens into Owner's associated account, opening it
// at the authority's expense when needed. The mint authority must sign.
// Nonce keeps otherwise identical issues distinct.
type MintToRequest struct {
	Mint   domain.Address `json:"mint"`
	Owner  domain.Address `json:"owner"`
	Amount uint64         `json:"amount"`
	Nonce  string         `json:"nonce"`

	Signatures []ledger.SignerSignature `json:"signatures"`
}

// SigningBytes is the message Signatures must cover.
func (r MintToRequest) SigningBytes(programID domain.Address) []byte {
	return signingBytes("mint_to", programID,
		r.Mint.String(),
		r.Owner.String(),
		u64(r.Amount),
		r.Nonce,
	)
}

func firstSignature(sigs []ledger.SignerSignature) string {
	if len(sigs) == 0 {
		return ""
	}
	return sigs[0].Signature.String()
}
