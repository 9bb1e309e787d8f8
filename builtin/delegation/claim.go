// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package delegation

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
)

// ClaimRewards pays out the delegation's share of epoch E from the sub-DAO
// delegator pool into destKey. Epochs at or above the HNT migration epoch
// advance the monotone cursor by exactly one; older epochs go through the
// sparse bitmap and leave the cursor untouched.
//
// The share is vp(epoch start)·10^12 · rewards / vehnt_at_epoch_start,
// rounded down and capped at the remaining pool balance so cumulative
// rounding dust lands on the last claimers.
func (s *Service) ClaimRewards(mint, destKey hpl.Address, epoch, now uint64) (uint64, error) {
	d, err := s.GetDelegation(mint)
	if err != nil {
		return 0, err
	}
	if epoch >= hpl.EpochAt(now) {
		return 0, errors.Wrapf(ErrEpochNotOver, "epoch %d", epoch)
	}

	bitmapPath := epoch < hpl.HNTEpoch
	if bitmapPath {
		claimed, inWindow := d.claimedBit(epoch)
		if !inWindow {
			return 0, errors.Wrapf(ErrInvalidClaimEpoch, "epoch %d below bitmap window", epoch)
		}
		if claimed {
			return 0, errors.Wrapf(ErrAlreadyClaimed, "epoch %d", epoch)
		}
	} else if epoch != d.LastClaimedEpoch+1 {
		return 0, errors.Wrapf(ErrInvalidClaimEpoch, "epoch %d, claimed through %d", epoch, d.LastClaimedEpoch)
	}

	amount, err := s.epochShare(d, epoch)
	if err != nil {
		return 0, err
	}

	sub, err := s.subdaos.GetSubDao(d.SubDao)
	if err != nil {
		return 0, err
	}
	if amount > 0 {
		pool, err := s.tokens.Balance(sub.DelegatorPool)
		if err != nil {
			return 0, err
		}
		if amount > pool {
			amount = pool
		}
	}
	if amount > 0 {
		if err := s.tokens.Transfer(sub.DelegatorPool, destKey, amount); err != nil {
			return 0, err
		}
	}

	if bitmapPath {
		d.setClaimedBit(epoch)
	} else {
		d.LastClaimedEpoch = epoch
	}
	return amount, s.saveDelegation(d)
}

// epochShare computes the delegation's reward share for one epoch.
func (s *Service) epochShare(d *DelegatedPosition, epoch uint64) (uint64, error) {
	ei, exists, err := s.subdaos.GetEpochInfo(d.SubDao, epoch)
	if err != nil {
		return 0, err
	}
	if !exists || !ei.RewardsIssuedAtSet {
		return 0, errors.Wrapf(ErrRewardsNotIssued, "sub-DAO %s epoch %d", d.SubDao.AbbrevString(), epoch)
	}
	if ei.DelegationRewardsIssued == 0 {
		return 0, nil
	}

	epochStart := hpl.EpochStart(epoch)
	// delegations joined mid-epoch were not in the epoch-start snapshot
	if d.StartTs > epochStart {
		return 0, nil
	}

	p, err := s.positions.GetPosition(d.Mint)
	if err != nil {
		return 0, err
	}
	cfg, err := s.positions.MintConfig(p)
	if err != nil {
		return 0, err
	}
	if epochStart >= closingEnd(p, d.ExpirationTs) {
		return 0, nil
	}
	vehnt, err := p.VehntAt(cfg, epochStart)
	if err != nil {
		return 0, err
	}
	if vehnt.IsZero() {
		return 0, nil
	}

	total := ei.VehntAtEpochStart.Int()
	if total.Cmp(vehnt) < 0 {
		return 0, errors.Wrapf(ErrAggregatorDrift,
			"position %s holds %s of %s at epoch %d", d.Mint.AbbrevString(), vehnt.Dec(), total.Dec(), epoch)
	}

	share := new(uint256.Int).Mul(vehnt, uint256.NewInt(ei.DelegationRewardsIssued))
	share.Div(share, total)
	return share.Uint64(), nil
}
