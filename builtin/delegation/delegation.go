// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package delegation manages the lifecycle of delegated positions: the
// aggregate deltas a delegation writes at create/change/close/extend time
// and the per-epoch reward claims drawn against the aggregate snapshots.
package delegation

import (
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
)

var (
	// ErrNotDelegated no delegation record exists for the position.
	ErrNotDelegated = errors.New("position is not delegated")
	// ErrLockupExpired the position's lockup has already run out.
	ErrLockupExpired = errors.New("lockup expired")
	// ErrUnclaimedRewards close or change requires claims caught up to the
	// previous epoch.
	ErrUnclaimedRewards = errors.New("unclaimed rewards outstanding")
	// ErrSameSubDao change must target a different sub-DAO.
	ErrSameSubDao = errors.New("delegation already targets this sub-DAO")
	// ErrDelegationExpired the delegation season is over.
	ErrDelegationExpired = errors.New("delegation expired")
	// ErrMigrationBarrier pre-HNT-epoch claims must go through the sparse
	// bitmap path before the delegation can be changed.
	ErrMigrationBarrier = errors.New("delegation predates reward migration")
	// ErrEpochNotOver rewards for the current epoch are not claimable yet.
	ErrEpochNotOver = errors.New("epoch not over")
	// ErrInvalidClaimEpoch claims advance last_claimed_epoch by exactly one.
	ErrInvalidClaimEpoch = errors.New("claim epoch out of order")
	// ErrAlreadyClaimed the bitmap already records a claim for the epoch.
	ErrAlreadyClaimed = errors.New("epoch already claimed")
	// ErrRewardsNotIssued the epoch's delegation rewards are not issued yet.
	ErrRewardsNotIssued = errors.New("rewards not issued for epoch")
	// ErrAggregatorDrift a position's veHNT exceeds the aggregate snapshot.
	// Always indicates a bookkeeping bug; never retried.
	ErrAggregatorDrift = errors.New("position veHNT exceeds epoch aggregate")
	// ErrNoActiveSeason now falls outside every configured season.
	ErrNoActiveSeason = errors.New("no active delegation season")
)

// bitmapEpochs width of the sparse-claim window below the HNT migration
// epoch.
const bitmapEpochs = 128

// DelegatedPosition binds a position to a sub-DAO for reward accounting.
// The position mint is the identity.
type DelegatedPosition struct {
	Mint   hpl.Address
	SubDao hpl.Address

	StartTs      uint64
	ExpirationTs uint64

	// LastClaimedEpoch monotone claim cursor for HNT-denominated rewards.
	LastClaimedEpoch uint64
	// ClaimedEpochsBitmap sparse claims of epochs in
	// [HNTEpoch-128, HNTEpoch), bit i = epoch HNTEpoch-128+i.
	ClaimedEpochsBitmap hpl.Uint128

	RentRefund hpl.Address
}

// claimedBit reports and sets bitmap bits for pre-migration epochs.
func (d *DelegatedPosition) claimedBit(epoch uint64) (bool, bool) {
	if epoch >= hpl.HNTEpoch || epoch+bitmapEpochs < hpl.HNTEpoch {
		return false, false
	}
	i := epoch - (hpl.HNTEpoch - bitmapEpochs)
	if i < 64 {
		return d.ClaimedEpochsBitmap.Lo&(1<<i) != 0, true
	}
	return d.ClaimedEpochsBitmap.Hi&(1<<(i-64)) != 0, true
}

func (d *DelegatedPosition) setClaimedBit(epoch uint64) {
	i := epoch - (hpl.HNTEpoch - bitmapEpochs)
	if i < 64 {
		d.ClaimedEpochsBitmap.Lo |= 1 << i
		return
	}
	d.ClaimedEpochsBitmap.Hi |= 1 << (i - 64)
}

// Season one delegation season; delegations expire at its end.
type Season struct {
	Start uint64
	End   uint64
}

// ProxyConfig season schedule delegations are lifecycle-bound to.
type ProxyConfig struct {
	Authority hpl.Address
	Name      string
	// Seasons sorted ascending by Start.
	Seasons []Season
}

// CurrentSeason returns the latest season containing now.
func (pc *ProxyConfig) CurrentSeason(now uint64) (Season, bool) {
	for i := len(pc.Seasons) - 1; i >= 0; i-- {
		s := pc.Seasons[i]
		if s.Start <= now && now < s.End {
			return s, true
		}
	}
	return Season{}, false
}
