// Package units converts between wei and human-readable ether amounts.
//
// All amounts are stored as big.Int wei (1 ether = 10^18 wei). Parsing is
// strict: negative values, exponents and sub-wei fractions are rejected.
package units

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const Decimals = 18

// ParseWei parses a base-10 integer wei amount. Returns (nil, false) on
// invalid or negative input.
func ParseWei(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, false
	}
	return v, true
}

// ParseEther converts a decimal ether string (e.g. "1.5") to wei.
func ParseEther(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.ContainsAny(s, "eE") {
		return nil, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, false
	}
	wei := d.Shift(Decimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, false
	}
	return wei.BigInt(), true
}

// FormatEther renders wei as ether with trailing zeros trimmed ("1.5").
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -Decimals).String()
}

// Float returns wei as an approximate ether float, for gauges.
func Float(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	return decimal.NewFromBigInt(wei, -Decimals).InexactFloat64()
}
