// Copyright (C) 2026, Genius Foundation. All rights reserved.
// See the file LICENSE for licensing terms.

// Package decimals converts stablecoin amounts between the decimal
// precisions of two chains. Conversion is exact or it fails: widening
// that overflows 256 bits and narrowing that floors a non-zero amount
// to zero are both reported, never silently absorbed.
package decimals

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow      = errors.New("decimal conversion overflows")
	ErrInvalidAmount = errors.New("decimal conversion loses amount to dust")
)

// MaxDecimals bounds the supported precision. ERC20 tokens top out at
// 18; 77 is the largest power of ten below 2^256.
const MaxDecimals = 77

var ten = uint256.NewInt(10)

// pow10 returns 10^n as a uint256.
func pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(ten, uint256.NewInt(uint64(n)))
}

// Convert re-denominates amount from a chain with `from` stablecoin
// decimals to one with `to` decimals. Widening multiplies by
// 10^(to-from) and fails with ErrOverflow past 256 bits. Narrowing
// floor-divides by 10^(from-to) and fails with ErrInvalidAmount when a
// non-zero amount would become zero.
func Convert(amount *big.Int, from, to uint8) (*big.Int, error) {
	if amount == nil {
		return new(big.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if from > MaxDecimals || to > MaxDecimals {
		return nil, ErrOverflow
	}
	if from == to {
		return new(big.Int).Set(amount), nil
	}

	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}

	if to > from {
		scaled, overflow := new(uint256.Int).MulOverflow(v, pow10(to-from))
		if overflow {
			return nil, ErrOverflow
		}
		return scaled.ToBig(), nil
	}

	scaled := new(uint256.Int).Div(v, pow10(from-to))
	if scaled.IsZero() && !v.IsZero() {
		return nil, ErrInvalidAmount
	}
	return scaled.ToBig(), nil
}
