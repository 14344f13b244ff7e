package math

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Decimals is the number of fractional digits carried by every fixed-point
// value in the ledger (prices, rates, fees, collateral and shares).
const Decimals = 18

// SecondsPerYear converts annualized rates into per-period amounts
// (365.2425 days).
const SecondsPerYear int64 = 31_556_952

// ErrArithmetic is returned by Checked when a computation overflows the
// 256-bit integer range or divides by zero.
var ErrArithmetic = errors.New("math: arithmetic overflow or division by zero")

// One is 1.0 in fixed point.
var One = sdkmath.NewIntWithDecimal(1, Decimals)

// Zero returns a fixed-point zero. Use it instead of the zero value of
// sdkmath.Int, which is nil and panics on use.
func Zero() sdkmath.Int {
	return sdkmath.ZeroInt()
}

// Mul returns a*b/One, truncated toward zero.
func Mul(a, b sdkmath.Int) sdkmath.Int {
	return a.Mul(b).Quo(One)
}

// Div returns a*One/b, truncated toward zero. Panics when b is zero.
func Div(a, b sdkmath.Int) sdkmath.Int {
	return a.Mul(One).Quo(b)
}

// MulDiv returns a*b/c without intermediate rescaling.
func MulDiv(a, b, c sdkmath.Int) sdkmath.Int {
	return a.Mul(b).Quo(c)
}

// Min returns the smaller of a and b.
func Min(a, b sdkmath.Int) sdkmath.Int {
	return sdkmath.MinInt(a, b)
}

// Clamp bounds x to [-limit, limit]. limit must be non-negative.
func Clamp(x, limit sdkmath.Int) sdkmath.Int {
	if x.GT(limit) {
		return limit
	}
	if x.LT(limit.Neg()) {
		return limit.Neg()
	}
	return x
}

// Accrue returns the amount a balance pays at an annualized rate over
// periodSeconds: mul(base, rate) * periodSeconds / SecondsPerYear.
// A positive rate means the balance pays; a negative rate means it receives.
func Accrue(base, rate sdkmath.Int, periodSeconds int64) sdkmath.Int {
	return Mul(base, rate).MulRaw(periodSeconds).QuoRaw(SecondsPerYear)
}

// Checked runs fn and converts arithmetic panics raised by sdkmath
// (overflow past 256 bits, division by zero) into ErrArithmetic.
func Checked(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrArithmetic, r)
		}
	}()
	fn()
	return nil
}

// FromDecimal parses a human-readable decimal such as "0.003" or "-1.5"
// into fixed point.
func FromDecimal(s string) (sdkmath.Int, error) {
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return sdkmath.NewIntFromBigInt(d.BigInt()), nil
}

// MustFromDecimal is FromDecimal for constants; it panics on malformed input.
func MustFromDecimal(s string) sdkmath.Int {
	v, err := FromDecimal(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ToDecimal renders a fixed-point value as a decimal string with 18 digits.
func ToDecimal(v sdkmath.Int) string {
	return sdkmath.LegacyNewDecFromBigIntWithPrec(v.BigInt(), Decimals).String()
}

// ParseInt parses a raw base-10 integer (already in fixed-point units).
func ParseInt(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("parse integer %q", s)
	}
	return v, nil
}

// MustParseInt is ParseInt for literals in tests and defaults.
func MustParseInt(s string) sdkmath.Int {
	v, err := ParseInt(s)
	if err != nil {
		panic(err)
	}
	return v
}
