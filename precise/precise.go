// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package precise implements 12-decimal fixed-point arithmetic for utility
// scores and reward splits. All operations round down so that reward-split
// determinism is preserved across implementations.
package precise

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Decimals extra decimals carried by every Number.
const Decimals = 12

var (
	// ErrOverflow an operation exceeded 256 bits; fatal, never swallowed.
	ErrOverflow = errors.New("precise: overflow")
	// ErrDivideByZero division by zero.
	ErrDivideByZero = errors.New("precise: division by zero")

	one = uint256.NewInt(1_000_000_000_000)
)

// Number a non-negative fixed-point value scaled by 10^12.
type Number struct {
	v uint256.Int
}

// One returns the number 1.
func One() *Number {
	var n Number
	n.v.Set(one)
	return &n
}

// FromUint64 converts a whole number.
func FromUint64(u uint64) (*Number, error) {
	var n Number
	if _, overflow := n.v.MulOverflow(uint256.NewInt(u), one); overflow {
		return nil, ErrOverflow
	}
	return &n, nil
}

// FromScaled wraps an already 10^12-scaled value.
func FromScaled(v *uint256.Int) *Number {
	var n Number
	n.v.Set(v)
	return &n
}

// FromRatio returns num/den as a Number, rounding down.
func FromRatio(num, den uint64) (*Number, error) {
	if den == 0 {
		return nil, ErrDivideByZero
	}
	var n Number
	if _, overflow := n.v.MulOverflow(uint256.NewInt(num), one); overflow {
		return nil, ErrOverflow
	}
	n.v.Div(&n.v, uint256.NewInt(den))
	return &n, nil
}

// Scaled returns the underlying 10^12-scaled value.
func (n *Number) Scaled() *uint256.Int {
	return new(uint256.Int).Set(&n.v)
}

// Uint64Floor returns the whole part, truncated.
func (n *Number) Uint64Floor() (uint64, error) {
	q := new(uint256.Int).Div(&n.v, one)
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// Cmp compares n and other.
func (n *Number) Cmp(other *Number) int {
	return n.v.Cmp(&other.v)
}

// Mul returns n*other, rounding down.
func (n *Number) Mul(other *Number) (*Number, error) {
	var out Number
	if _, overflow := out.v.MulOverflow(&n.v, &other.v); overflow {
		return nil, ErrOverflow
	}
	out.v.Div(&out.v, one)
	return &out, nil
}

// Div returns n/other, rounding down.
func (n *Number) Div(other *Number) (*Number, error) {
	if other.v.IsZero() {
		return nil, ErrDivideByZero
	}
	var out Number
	if _, overflow := out.v.MulOverflow(&n.v, one); overflow {
		return nil, ErrOverflow
	}
	out.v.Div(&out.v, &other.v)
	return &out, nil
}

// Sqrt returns the square root, rounding down.
func (n *Number) Sqrt() (*Number, error) {
	// sqrt(v/1e12)*1e12 == floor(sqrt(v*1e12))
	var widened uint256.Int
	if _, overflow := widened.MulOverflow(&n.v, one); overflow {
		return nil, ErrOverflow
	}
	var out Number
	out.v.Sqrt(&widened)
	return &out, nil
}

// FourthRoot returns the fourth root, rounding down.
func (n *Number) FourthRoot() (*Number, error) {
	s, err := n.Sqrt()
	if err != nil {
		return nil, err
	}
	return s.Sqrt()
}

// Max returns the greater of a and b.
func Max(a, b *Number) *Number {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
