// Package units converts between decimal token amounts and their smallest
// unit representation (18 decimals).
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional digits of one whole unit.
const Decimals = 18

var (
	// ErrInvalidAmount is returned for malformed decimal amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	one = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))
)

// One returns a fresh copy of one whole unit (1e18).
func One() *uint256.Int {
	return new(uint256.Int).Set(one)
}

// Whole returns n whole units.
func Whole(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), one)
}

// ParseAmount parses a decimal string such as "0.01" into the smallest unit.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, Decimals)
	}
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
			}
		}
	}
	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", Decimals-len(frac)), "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return v, nil
}

// MustParseAmount is ParseAmount for constants; it panics on error.
func MustParseAmount(s string) *uint256.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatAmount renders an amount in whole units without trailing zeros.
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(v, one, r)
	if r.IsZero() {
		return q.Dec()
	}
	frac := r.Dec()
	frac = strings.Repeat("0", Decimals-len(frac)) + frac
	return q.Dec() + "." + strings.TrimRight(frac, "0")
}

// ToFloat converts an amount to whole units as a float64, for gauges.
func ToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v.ToBig()), new(big.Float).SetInt(one.ToBig())).Float64()
	return f
}
