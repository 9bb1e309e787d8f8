// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package dao runs the epoch-close pipeline: per-sub-DAO utility scores,
// delegation reward issuance against the aggregate snapshots, and the HST
// pool / rewards escrow split of the remaining emissions.
package dao

import (
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
)

var (
	// ErrEpochNotOver the pipeline only closes epochs strictly in the past.
	ErrEpochNotOver = errors.New("epoch not over")
	// ErrUtilityAlreadyCalculated stage re-entry outside testing mode.
	ErrUtilityAlreadyCalculated = errors.New("utility score already calculated")
	// ErrUtilityNotCalculated rewards need the sub-DAO's score first.
	ErrUtilityNotCalculated = errors.New("utility score not calculated")
	// ErrScoresIncomplete rewards need every sub-DAO's score for the epoch.
	ErrScoresIncomplete = errors.New("utility scores incomplete for epoch")
	// ErrRewardsAlreadyIssued stage re-entry outside testing mode.
	ErrRewardsAlreadyIssued = errors.New("rewards already issued")
	// ErrRewardsNotIssued the HST split runs after all sub-DAO rewards.
	ErrRewardsNotIssued = errors.New("rewards not issued for epoch")
	// ErrHstPoolAlreadyIssued stage re-entry outside testing mode.
	ErrHstPoolAlreadyIssued = errors.New("hst pool already issued")
	// ErrEpochOutOfOrder epochs close strictly one after another.
	ErrEpochOutOfOrder = errors.New("epoch closed out of order")
)

// Dao the top-level rewards authority over its sub-DAOs.
type Dao struct {
	HntMint   hpl.Address
	Authority hpl.Address
	// RewardsEscrow receives the emissions remainder after delegator and HST
	// shares.
	RewardsEscrow hpl.Address
	// HstPool receives the scheduled HST share of emissions.
	HstPool hpl.Address

	NumSubDaos uint32
	// LastRewardedEpoch the most recent epoch with all sub-DAO rewards
	// issued; enforces strict cross-epoch ordering.
	LastRewardedEpoch uint64
}

// DaoEpochInfo per-epoch totals of the close pipeline.
type DaoEpochInfo struct {
	Dao   hpl.Address
	Epoch uint64

	TotalUtilityScore          hpl.Uint128
	NumUtilityScoresCalculated uint32
	NumRewardsIssued           uint32

	// TotalDelegationRewards sum of per-sub-DAO delegation rewards issued.
	TotalDelegationRewards uint64

	DoneCalculatingScores bool
	DoneIssuingRewards    bool
	DoneIssuingHstPool    bool
}
