// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package delegation

import (
	"github.com/holiman/uint256"

	"github.com/helium/hpl/builtin/positions"
	"github.com/helium/hpl/hpl"
)

// vehntInfo is the correction calculus of one delegation. Every field is a
// pure function of (position, mint config, start ts, expiration ts), so the
// close path recomputes exactly what the delegate path scheduled.
//
// A delegation contributes to the running aggregate as a piecewise-linear
// segment: while the genesis multiplier is active it falls at
// preGenesisFallRate, afterwards at postGenesisFallRate. Discrete drops land
// in the bucket of the epoch containing the event: the genesis-end bucket
// absorbs the multiplier surplus, the closing bucket absorbs the frozen
// remainder. An event inside the epoch the delegation begins in contributes
// no fall rate at all; its veHNT is frozen at the start value and dropped
// when that epoch closes.
type vehntInfo struct {
	startTs    uint64
	startEpoch uint64

	// vehntAtStart what the delegation adds to the running total, veHNT*10^12.
	vehntAtStart *uint256.Int

	preGenesisFallRate  *uint256.Int
	postGenesisFallRate *uint256.Int

	// hasGenesis the multiplier expires strictly before the delegation ends,
	// in an epoch before the closing one.
	hasGenesis                   bool
	genesisEndEpoch              uint64
	genesisEndVehntCorrection    *uint256.Int
	genesisEndFallRateCorrection *uint256.Int

	closingEpoch              uint64
	closingVehntCorrection    *uint256.Int
	closingFallRateCorrection *uint256.Int
}

// currentFallRate returns the fall rate the aggregate carries for this
// delegation at time t, honoring the frozen-epoch rules.
func (vi *vehntInfo) currentFallRate(t uint64) *uint256.Int {
	epoch := hpl.EpochAt(t)
	if epoch >= vi.closingEpoch {
		return uint256.NewInt(0)
	}
	if vi.hasGenesis && epoch < vi.genesisEndEpoch {
		return vi.preGenesisFallRate
	}
	if vi.hasGenesis {
		return vi.postGenesisFallRate
	}
	return vi.preGenesisFallRate
}

// closingEnd returns when the delegation's contribution ends: the position's
// cliff or the delegation's season expiration, whichever comes first.
// Constant lockups end at the expiration only.
func closingEnd(p *positions.Position, expirationTs uint64) uint64 {
	if p.Lockup.Kind == positions.LockupCliff && p.Lockup.EndTs < expirationTs {
		return p.Lockup.EndTs
	}
	return expirationTs
}

// calculateVehntInfo derives the correction calculus for a delegation of p
// starting at startTs and expiring at expirationTs. startTs must precede the
// closing end.
func calculateVehntInfo(
	p *positions.Position,
	cfg *positions.VotingMintConfig,
	startTs uint64,
	expirationTs uint64,
) (*vehntInfo, error) {
	end := closingEnd(p, expirationTs)
	startEpoch := hpl.EpochAt(startTs)
	closingEpoch := hpl.EpochAt(end)

	vi := &vehntInfo{
		startTs:                      startTs,
		startEpoch:                   startEpoch,
		closingEpoch:                 closingEpoch,
		preGenesisFallRate:           uint256.NewInt(0),
		postGenesisFallRate:          uint256.NewInt(0),
		genesisEndVehntCorrection:    uint256.NewInt(0),
		genesisEndFallRateCorrection: uint256.NewInt(0),
		closingFallRateCorrection:    uint256.NewInt(0),
	}

	var err error
	if vi.vehntAtStart, err = p.VehntAt(cfg, startTs); err != nil {
		return nil, err
	}

	genesisEnd := p.GenesisEndTs
	if cfg.GenesisVotePowerMultiplierExpirationTs < genesisEnd {
		genesisEnd = cfg.GenesisVotePowerMultiplierExpirationTs
	}
	genesisAtStart := p.GenesisMultiplierActive(cfg, startTs)
	vi.hasGenesis = genesisAtStart && genesisEnd < end
	if vi.hasGenesis {
		// the bucket of the epoch holding the last multiplied instant, so an
		// epoch-aligned genesis end drops its surplus exactly at the boundary
		vi.genesisEndEpoch = hpl.EpochAt(genesisEnd - 1)
	}

	// Fall rates. VehntAt already switches the multiplier off past the
	// genesis end, so evaluating at the segment endpoints yields the plain
	// post-genesis slope directly; the pre-genesis slope is the multiplied
	// one. When the multiplier outlives the delegation both endpoints carry
	// it and the single blended rate is exact.
	if p.Lockup.Kind == positions.LockupCliff && end > startTs && end <= p.Lockup.EndTs {
		refTs := startTs
		if vi.hasGenesis {
			refTs = genesisEnd
		}
		vehntRef, err := p.VehntAt(cfg, refTs)
		if err != nil {
			return nil, err
		}
		vehntEnd, err := p.VehntAt(cfg, end)
		if err != nil {
			return nil, err
		}
		rate, err := positions.CalculateFallRate(vehntRef, vehntEnd, end-refTs)
		if err != nil {
			return nil, err
		}
		if vi.hasGenesis {
			vi.postGenesisFallRate = rate
			mult := uint256.NewInt(uint64(cfg.GenesisVotePowerMultiplier))
			vi.preGenesisFallRate = new(uint256.Int).Mul(rate, mult)
		} else {
			vi.preGenesisFallRate = rate
			vi.postGenesisFallRate = new(uint256.Int).Set(rate)
		}
	}

	// Closing correction: the frozen veHNT dropped when the closing epoch
	// ends. A delegation beginning inside its closing epoch freezes the
	// start value, anything else the epoch-start value.
	closingRef := hpl.EpochStart(closingEpoch)
	if startEpoch == closingEpoch {
		closingRef = startTs
	}
	if vi.closingVehntCorrection, err = p.VehntAt(cfg, closingRef); err != nil {
		return nil, err
	}
	if startEpoch < closingEpoch {
		if vi.hasGenesis && vi.genesisEndEpoch < closingEpoch {
			vi.closingFallRateCorrection = new(uint256.Int).Set(vi.postGenesisFallRate)
		} else {
			vi.closingFallRateCorrection = new(uint256.Int).Set(vi.preGenesisFallRate)
		}
	}

	// Genesis-end correction: the multiplier surplus dropped when the
	// genesis-end epoch closes. When the multiplier expires inside the
	// closing epoch the closing correction already carries the surplus,
	// so nothing separate is scheduled.
	if vi.hasGenesis && vi.genesisEndEpoch < closingEpoch {
		genesisRef := hpl.EpochStart(vi.genesisEndEpoch)
		if startEpoch == vi.genesisEndEpoch {
			genesisRef = startTs
		}
		withMult, err := p.VehntAt(cfg, genesisRef)
		if err != nil {
			return nil, err
		}
		plain := *p
		plain.GenesisEndTs = 0
		withoutMult, err := plain.VehntAt(cfg, genesisRef)
		if err != nil {
			return nil, err
		}
		vi.genesisEndVehntCorrection = new(uint256.Int).Sub(withMult, withoutMult)
		if startEpoch < vi.genesisEndEpoch {
			vi.genesisEndFallRateCorrection = new(uint256.Int).Sub(vi.preGenesisFallRate, vi.postGenesisFallRate)
		}
	} else if vi.hasGenesis {
		// collapsed into the closing bucket
		vi.hasGenesis = false
		vi.postGenesisFallRate = new(uint256.Int).Set(vi.preGenesisFallRate)
	}

	return vi, nil
}
