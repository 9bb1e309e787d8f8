// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package hpl

// Constants of the account runtime and the veHNT accounting model.
const (
	// EpochLength duration of an accounting epoch in seconds.
	EpochLength uint64 = 60 * 60 * 24

	// VehntPrecision extra decimals of precision carried by delegated veHNT
	// and fall rates. voting power * VehntPrecision = delegated veHNT.
	VehntPrecision uint64 = 1_000_000_000_000

	// ScaleFactorBase fixed-point base of voting mint scaling factors.
	ScaleFactorBase uint64 = 1_000_000_000

	// HNTEpoch first epoch with HNT-denominated delegation rewards. Claims
	// for older epochs go through the sparse bitmap migration path only.
	HNTEpoch uint64 = 20117

	// MaxInvokeDepth bound on nested cross-program invocations.
	MaxInvokeDepth = 4

	// StalePriceSecs oracle prices older than this are rejected.
	StalePriceSecs uint64 = 60 * 10

	// MaxTaskDescription bound on the human-readable task description.
	MaxTaskDescription = 40

	// LamportsPerByte rent charged per byte of persisted account data.
	LamportsPerByte uint64 = 6960
	// LamportsAccountBase flat rent component of any persisted account.
	LamportsAccountBase uint64 = 890880
)

// EpochAt returns the epoch index containing ts.
func EpochAt(ts uint64) uint64 {
	return ts / EpochLength
}

// EpochStart returns the first second of the given epoch.
func EpochStart(epoch uint64) uint64 {
	return epoch * EpochLength
}

// EpochEnd returns the first second AFTER the given epoch.
func EpochEnd(epoch uint64) uint64 {
	return (epoch + 1) * EpochLength
}

// RentExemptMinimum lamports an account of the given data size must carry.
func RentExemptMinimum(dataLen int) uint64 {
	return LamportsAccountBase + LamportsPerByte*uint64(dataLen)
}
