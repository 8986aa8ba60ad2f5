package units

import (
	"errors"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// Scale is the fixed-point denominator for percentages expressed as 1e18 = 100%.
	Scale = decimal.New(1, 18)
	// NumericalTrue is the price an arbiter returns for "the assertion is true".
	NumericalTrue = decimal.New(1, 18)

	BpsDenominator = decimal.NewFromInt(10000)

	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	maxInt128  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// MulDiv returns floor(a*b/c) for non-negative integers. c == 0 yields zero.
func MulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	if c.IsZero() {
		return decimal.Zero
	}
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q
}

// Bps returns floor(amount*bps/10000).
func Bps(amount decimal.Decimal, bps int64) decimal.Decimal {
	return MulDiv(amount, decimal.NewFromInt(bps), BpsDenominator)
}

// ParseAmount parses a non-negative integer that fits in 128 bits.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, err
	}
	if err := CheckAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func CheckAmount(d decimal.Decimal) error {
	if !d.IsInteger() {
		return errors.New("amount must be an integer")
	}
	if d.IsNegative() {
		return errors.New("amount must not be negative")
	}
	if d.BigInt().Cmp(maxUint128) > 0 {
		return errors.New("amount exceeds 128 bits")
	}
	return nil
}

// ParsePrice parses a signed integer that fits in 128 bits.
func ParsePrice(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, err
	}
	if err := CheckPrice(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func CheckPrice(d decimal.Decimal) error {
	if !d.IsInteger() {
		return errors.New("price must be an integer")
	}
	v := d.BigInt()
	if v.Cmp(maxInt128) > 0 || v.Cmp(minInt128) < 0 {
		return errors.New("price exceeds 128 bits")
	}
	return nil
}

// Uint128LE encodes a non-negative integer amount as 16 little-endian bytes.
func Uint128LE(d decimal.Decimal) ([16]byte, error) {
	var out [16]byte
	if err := CheckAmount(d); err != nil {
		return out, err
	}
	putLE(out[:], d.BigInt())
	return out, nil
}

// Int128LE encodes a signed integer as 16 little-endian two's-complement bytes.
func Int128LE(d decimal.Decimal) ([16]byte, error) {
	var out [16]byte
	if err := CheckPrice(d); err != nil {
		return out, err
	}
	v := d.BigInt()
	if v.Sign() < 0 {
		v = new(big.Int).Add(v, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	putLE(out[:], v)
	return out, nil
}

func putLE(dst []byte, v *big.Int) {
	be := v.Bytes()
	for i := 0; i < len(be) && i < len(dst); i++ {
		dst[i] = be[len(be)-1-i]
	}
}

// CheckTimestampNs rejects nanosecond timestamps that do not fit a signed 64-bit time.
func CheckTimestampNs(ns uint64) error {
	if ns > math.MaxInt64 {
		return errors.New("timestamp exceeds int64 nanoseconds")
	}
	return nil
}
