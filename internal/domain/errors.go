package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrReadOnly       = errors.New("read-only unit of work")
	ErrOverflow       = errors.New("numerical overflow")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidRecord  = errors.New("invalid market record")
)

// Market lifecycle error kinds. Every failed Create, Cancel or Exchange wraps
// exactly one of these.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAssetMismatch     = errors.New("asset mismatch")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrMarketNotFound    = errors.New("market not found")
	ErrDuplicateMarket   = errors.New("duplicate market")
	ErrTransferFailed    = errors.New("transfer failed")
)

// Signed request errors.
var (
	ErrRequestExpired = errors.New("request expired")
	ErrReplayed       = errors.New("request already processed")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrAssetMismatch, "AssetMismatch"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrMarketNotFound, "MarketNotFound"},
	{ErrDuplicateMarket, "DuplicateMarket"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrOverflow, "NumericalOverflow"},
	{ErrInvalidAddress, "InvalidAddress"},
	{ErrRateLimited, "RateLimited"},
	{ErrRequestExpired, "RequestExpired"},
	{ErrReplayed, "Replayed"},
	{ErrNotFound, "NotFound"},
}

// ErrorKind returns the stable name of the error kind wrapped by err, or
// "Internal" when err carries none of the known sentinels.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}
