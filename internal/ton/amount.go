package ton

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const nativeDecimals = 9

// ParseAmount converts a human-entered decimal amount (e.g. "5.5") into
// smallest units as a big integer. Fails on negative values and on more
// fractional digits than the token carries.
func ParseAmount(s string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", s)
	}

	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	return shifted.BigInt(), nil
}

// ParseNative parses a TON amount into nanoTON.
func ParseNative(s string) (*big.Int, error) {
	return ParseAmount(s, nativeDecimals)
}

// FormatAmount renders smallest units back to a decimal string.
func FormatAmount(n *big.Int, decimals int) string {
	if n == nil {
		return "0"
	}
	return decimal.NewFromBigInt(n, -int32(decimals)).String()
}
