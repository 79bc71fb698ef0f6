package domain

// Asset describes what a market escrows or expects: either a token kind
// identified by its mint address, or the chain's native currency.
type Asset struct {
	Mint Address
}

// nativeLabel is the text form of the native currency sentinel.
const nativeLabel = "native"

// NativeAsset is the native currency sentinel (the zero mint).
var NativeAsset = Asset{}

// TokenAsset returns the descriptor for tokens of the given mint.
func TokenAsset(mint Address) Asset {
	return Asset{Mint: mint}
}

func (a Asset) IsNative() bool {
	return a.Mint.IsZero()
}

func (a Asset) String() string {
	if a.IsNative() {
		return nativeLabel
	}
	return a.Mint.String()
}

func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts either "native" or a base58 mint address.
func (a *Asset) UnmarshalText(text []byte) error {
	if string(text) == nativeLabel {
		*a = NativeAsset
		return nil
	}
	mint, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = TokenAsset(mint)
	return nil
}
