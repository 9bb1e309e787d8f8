// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package hpl

import (
	"errors"

	"github.com/holiman/uint256"
)

// Uint128 is the persisted form of a 128-bit unsigned integer. Fields are
// little-endian ordered so the Borsh encoding matches the on-wire u128 layout.
type Uint128 struct {
	Lo uint64
	Hi uint64
}

var errUint128Overflow = errors.New("value overflows 128 bits")

// U128FromUint64 converts a uint64 into a Uint128.
func U128FromUint64(v uint64) Uint128 {
	return Uint128{Lo: v}
}

// U128FromUint256 narrows v into a Uint128. Values wider than 128 bits are
// a fatal arithmetic fault for the caller.
func U128FromUint256(v *uint256.Int) (Uint128, error) {
	if v[2] != 0 || v[3] != 0 {
		return Uint128{}, errUint128Overflow
	}
	return Uint128{Lo: v[0], Hi: v[1]}, nil
}

// Int widens the value into a uint256.Int for arithmetic.
func (u Uint128) Int() *uint256.Int {
	return &uint256.Int{u.Lo, u.Hi, 0, 0}
}

// IsZero returns whether the value is zero.
func (u Uint128) IsZero() bool {
	return u.Lo == 0 && u.Hi == 0
}

// Uint64 truncates the value to 64 bits, reporting whether it fits.
func (u Uint128) Uint64() (uint64, bool) {
	return u.Lo, u.Hi == 0
}
