// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package subdao maintains per-sub-DAO running veHNT totals without ever
// iterating positions. The running total decays piecewise-linearly under a
// fall rate; discrete events (cliffs firing, genesis multipliers expiring)
// are absorbed through per-epoch correction buckets.
package subdao

import (
	"github.com/holiman/uint256"

	"github.com/helium/hpl/hpl"
)

// SubDao a rewards-accounting unit within the top-level DAO.
type SubDao struct {
	Dao       hpl.Address
	DntMint   hpl.Address
	Authority hpl.Address
	// DelegatorPool the token account delegator rewards are paid from.
	DelegatorPool hpl.Address

	// VehntDelegated running delegated veHNT, carrying 12 extra decimals.
	VehntDelegated hpl.Uint128
	// VehntLastCalculatedTs the timestamp VehntDelegated is valid at.
	VehntLastCalculatedTs uint64
	// VehntFallRate current decay in veHNT*10^12 per second.
	VehntFallRate hpl.Uint128

	// ActiveDeviceCount and DeviceActivationFee feed the utility score.
	ActiveDeviceCount   uint64
	DeviceActivationFee uint64
}

// EpochInfo the per-(sub-DAO, epoch) bucket.
//
// FallRatesFromClosingPositions stops applying once the epoch begins: a
// position whose cliff fires inside the epoch is carried frozen at its
// epoch-start veHNT and dropped, via VehntInClosingPositions, when the epoch
// closes. This keeps VehntAtEpochStart exact and the running total free of
// extrapolation undershoot.
type EpochInfo struct {
	SubDao hpl.Address
	Epoch  uint64

	VehntAtEpochStart             hpl.Uint128
	VehntInClosingPositions       hpl.Uint128
	FallRatesFromClosingPositions hpl.Uint128

	// DcBurned data credits burned against this sub-DAO during the epoch.
	DcBurned uint64

	// Close-pipeline outputs.
	CalculationStage        uint8
	UtilityScoreSet         bool
	UtilityScore            hpl.Uint128
	RewardsIssuedAtSet      bool
	RewardsIssuedAt         uint64
	DelegationRewardsIssued uint64
}

// Calculation stages of the close pipeline. Utility parts one to three are
// collapsed into a single transition on this runtime; the stage values keep
// their wire identities.
const (
	StageUnstarted         uint8 = 0
	StageUtilityCalculated uint8 = 3
	StageRewardsIssued     uint8 = 4
)

// saturatingSub sets a to max(0, a-b) and reports whether it clipped.
func saturatingSub(a, b *uint256.Int) bool {
	if a.Cmp(b) < 0 {
		a.Clear()
		return true
	}
	a.Sub(a, b)
	return false
}

// decay applies S -= F*dt, clamped at zero.
func decay(s, f *uint256.Int, dt uint64) {
	if dt == 0 || f.IsZero() {
		return
	}
	var drop uint256.Int
	if _, overflow := drop.MulOverflow(f, uint256.NewInt(dt)); overflow {
		// a fall rate this large necessarily clears the total
		s.Clear()
		return
	}
	saturatingSub(s, &drop)
}
