// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package positions models locked stakes and their voting power over time.
package positions

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
)

// LockupKind discriminates the lockup curve of a position.
type LockupKind uint8

const (
	// LockupNone legacy/unused entries; contributes no locked component.
	LockupNone LockupKind = iota
	// LockupCliff decays linearly toward baseline, expires at EndTs.
	LockupCliff
	// LockupConstant fully saturated forever, never expires.
	LockupConstant
)

var (
	// ErrArithmeticOverflow a voting power computation exceeded 256 bits.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	// ErrInvalidLockup EndTs precedes StartTs.
	ErrInvalidLockup = errors.New("lockup ends before it starts")
	// ErrPositionVotesOutstanding the position has active votes.
	ErrPositionVotesOutstanding = errors.New("position has outstanding votes")
)

// Lockup the lockup window of a position.
type Lockup struct {
	Kind    LockupKind
	StartTs uint64
	EndTs   uint64
}

// SecondsLeft returns the remaining lockup at time t. Constant lockups never
// run out; the caller saturates against LockupSaturationSecs.
func (l *Lockup) SecondsLeft(t uint64) uint64 {
	switch l.Kind {
	case LockupCliff:
		if t >= l.EndTs {
			return 0
		}
		return l.EndTs - t
	case LockupConstant:
		if l.EndTs <= l.StartTs {
			return 0
		}
		return l.EndTs - l.StartTs
	default:
		return 0
	}
}

// Expired reports whether the lockup no longer carries a locked component.
func (l *Lockup) Expired(t uint64) bool {
	return l.Kind == LockupCliff && t >= l.EndTs
}

// VotingMintConfig the scaling curve of a voting mint. All fixed-point
// factors are in 10^-9 units.
type VotingMintConfig struct {
	Mint                                   hpl.Address
	DigitShift                             int8
	LockedVoteWeightScaledFactor           uint64
	MaxExtraLockupVoteWeightScaledFactor   uint64
	MinimumRequiredLockupSecs              uint64
	GenesisVotePowerMultiplier             uint8
	GenesisVotePowerMultiplierExpirationTs uint64
	LockupSaturationSecs                   uint64
}

// Position a locked deposit. The owned-token mint is its identity.
type Position struct {
	Mint                hpl.Address
	Registrar           hpl.Address
	VotingMintConfigIdx uint8
	AmountDeposited     uint64
	Lockup              Lockup
	GenesisEndTs        uint64
	NumActiveVotes      uint32
	VoteController      hpl.Address
}

// GenesisMultiplierActive reports whether the genesis multiplier applies at t.
func (p *Position) GenesisMultiplierActive(cfg *VotingMintConfig, t uint64) bool {
	if cfg.GenesisVotePowerMultiplier <= 1 {
		return false
	}
	end := p.GenesisEndTs
	if cfg.GenesisVotePowerMultiplierExpirationTs < end {
		end = cfg.GenesisVotePowerMultiplierExpirationTs
	}
	return t < end
}

// shift applies 10^DigitShift to amount. Negative shifts divide.
func shift(amount uint64, digitShift int8) (*uint256.Int, error) {
	v := uint256.NewInt(amount)
	if digitShift >= 0 {
		pow := uint256.NewInt(1)
		for i := int8(0); i < digitShift; i++ {
			if _, overflow := pow.MulOverflow(pow, uint256.NewInt(10)); overflow {
				return nil, ErrArithmeticOverflow
			}
		}
		if _, overflow := v.MulOverflow(v, pow); overflow {
			return nil, ErrArithmeticOverflow
		}
		return v, nil
	}
	pow := uint256.NewInt(1)
	for i := digitShift; i < 0; i++ {
		if _, overflow := pow.MulOverflow(pow, uint256.NewInt(10)); overflow {
			// the divisor already exceeds any 64-bit amount
			return uint256.NewInt(0), nil
		}
	}
	return v.Div(v, pow), nil
}

// VotingPower computes vp(position, cfg, t) in native token units.
// Overflow is fatal.
func (p *Position) VotingPower(cfg *VotingMintConfig, t uint64) (*uint256.Int, error) {
	if p.Lockup.EndTs < p.Lockup.StartTs {
		return nil, ErrInvalidLockup
	}
	if cfg.LockupSaturationSecs == 0 {
		return nil, errors.New("lockup saturation must be positive")
	}
	shifted, err := shift(p.AmountDeposited, cfg.DigitShift)
	if err != nil {
		return nil, err
	}

	base := uint256.NewInt(hpl.ScaleFactorBase)
	baseline := new(uint256.Int)
	if _, overflow := baseline.MulOverflow(shifted, uint256.NewInt(cfg.LockedVoteWeightScaledFactor)); overflow {
		return nil, ErrArithmeticOverflow
	}
	baseline.Div(baseline, base)

	maxExtra := new(uint256.Int)
	if _, overflow := maxExtra.MulOverflow(shifted, uint256.NewInt(cfg.MaxExtraLockupVoteWeightScaledFactor)); overflow {
		return nil, ErrArithmeticOverflow
	}
	maxExtra.Div(maxExtra, base)

	remaining := p.Lockup.SecondsLeft(t)
	if remaining > cfg.LockupSaturationSecs {
		remaining = cfg.LockupSaturationSecs
	}
	locked := new(uint256.Int)
	if _, overflow := locked.MulOverflow(maxExtra, uint256.NewInt(remaining)); overflow {
		return nil, ErrArithmeticOverflow
	}
	locked.Div(locked, uint256.NewInt(cfg.LockupSaturationSecs))

	vp := new(uint256.Int).Add(baseline, locked)
	if p.GenesisMultiplierActive(cfg, t) {
		if _, overflow := vp.MulOverflow(vp, uint256.NewInt(uint64(cfg.GenesisVotePowerMultiplier))); overflow {
			return nil, ErrArithmeticOverflow
		}
	}
	return vp, nil
}

// VehntAt returns the delegated veHNT of the position at t, carrying the
// extra precision decimals.
func (p *Position) VehntAt(cfg *VotingMintConfig, t uint64) (*uint256.Int, error) {
	vp, err := p.VotingPower(cfg, t)
	if err != nil {
		return nil, err
	}
	out := new(uint256.Int)
	if _, overflow := out.MulOverflow(vp, uint256.NewInt(hpl.VehntPrecision)); overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// CalculateFallRate divides the veHNT change over an interval, rounding DOWN
// so the aggregate sum never exceeds the true delegated veHNT.
func CalculateFallRate(vehntStart, vehntEnd *uint256.Int, seconds uint64) (*uint256.Int, error) {
	if seconds == 0 {
		return nil, errors.New("zero-length fall interval")
	}
	if vehntStart.Cmp(vehntEnd) < 0 {
		return nil, errors.New("veHNT grows over fall interval")
	}
	diff := new(uint256.Int).Sub(vehntStart, vehntEnd)
	return diff.Div(diff, uint256.NewInt(seconds)), nil
}
