// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"math"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
)

// floatStringPrecision is the number of decimal places used when formatting
// a fee rate, so that sub-satoshi rates are not rounded to zero.
const floatStringPrecision = 3

// SatPerVByte is a fee rate in satoshis per virtual byte. It is kept as a
// rational number so that rates computed from a fee and a size compare
// exactly.
type SatPerVByte struct {
	rate *big.Rat
}

// NewSatPerVByte creates a fee rate of the given number of satoshis per
// virtual byte.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return SatPerVByte{rate: big.NewRat(int64(rate), 1)}
}

// CalcSatPerVByte returns the fee rate paid by fee over a transaction of the
// given virtual size. A zero size yields a zero rate.
func CalcSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	if vb == 0 {
		return SatPerVByte{rate: new(big.Rat)}
	}

	return SatPerVByte{rate: big.NewRat(int64(fee), safeToInt64(vb))}
}

// FeeForVByte returns the fee for a transaction of the given virtual size at
// this rate, rounded down to the satoshi.
func (s SatPerVByte) FeeForVByte(vb VByte) btcutil.Amount {
	fee := new(big.Rat).Mul(s.rat(), big.NewRat(safeToInt64(vb), 1))
	quotient := new(big.Int).Quo(fee.Num(), fee.Denom())

	return btcutil.Amount(quotient.Int64())
}

// GreaterThan reports whether s is strictly higher than other.
func (s SatPerVByte) GreaterThan(other SatPerVByte) bool {
	return s.rat().Cmp(other.rat()) > 0
}

// String returns the fee rate formatted as sat/vb.
func (s SatPerVByte) String() string {
	return s.rat().FloatString(floatStringPrecision) + " sat/vb"
}

// rat returns the underlying rational, treating the zero value as a zero
// rate.
func (s SatPerVByte) rat() *big.Rat {
	if s.rate == nil {
		return new(big.Rat)
	}

	return s.rate
}

// safeToInt64 converts a size to int64, clamping values that do not fit.
func safeToInt64(v VByte) int64 {
	if uint64(v) > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(v)
}
