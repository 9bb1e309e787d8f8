// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package positions

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helium/hpl/hpl"
)

const day = uint64(86400)

// testConfig mirrors the single-position lifecycle scenario: no digit shift,
// zero baseline, full extra weight, four day saturation.
func testConfig() *VotingMintConfig {
	return &VotingMintConfig{
		DigitShift:                           0,
		LockedVoteWeightScaledFactor:         0,
		MaxExtraLockupVoteWeightScaledFactor: hpl.ScaleFactorBase,
		LockupSaturationSecs:                 4 * day,
	}
}

func cliffPosition(now uint64, amount uint64, lockupDays uint64) *Position {
	return &Position{
		Mint:            hpl.BytesToAddress([]byte("position-mint")),
		AmountDeposited: amount,
		Lockup: Lockup{
			Kind:    LockupCliff,
			StartTs: now,
			EndTs:   now + lockupDays*day,
		},
	}
}

func TestCliffVotingPowerDecay(t *testing.T) {
	now := uint64(1700000000)
	p := cliffPosition(now, 1000, 4)
	cfg := testConfig()

	for _, tt := range []struct {
		at   uint64
		want uint64
	}{
		{now, 1000},
		{now + 1*day, 750},
		{now + 2*day, 500},
		{now + 4*day, 0},
		{now + 9*day, 0},
	} {
		vp, err := p.VotingPower(cfg, tt.at)
		require.NoError(t, err)
		assert.Equal(t, tt.want, vp.Uint64(), "vp at +%d", tt.at-now)
	}
}

func TestCliffExpiresToBaseline(t *testing.T) {
	now := uint64(1700000000)
	p := cliffPosition(now, 1000, 4)
	cfg := testConfig()
	cfg.LockedVoteWeightScaledFactor = hpl.ScaleFactorBase / 2 // baseline = amount/2

	vp, err := p.VotingPower(cfg, p.Lockup.EndTs)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), vp.Uint64(), "expired cliff carries baseline weight only")
	assert.True(t, p.Lockup.Expired(p.Lockup.EndTs))
}

func TestConstantNeverDecays(t *testing.T) {
	now := uint64(1700000000)
	p := cliffPosition(now, 1000, 4)
	p.Lockup.Kind = LockupConstant
	cfg := testConfig()

	vp0, err := p.VotingPower(cfg, now)
	require.NoError(t, err)
	vp1, err := p.VotingPower(cfg, now+100*day)
	require.NoError(t, err)
	assert.Zero(t, vp0.Cmp(vp1), "constant lockups are fully saturated forever")
	assert.Equal(t, uint64(1000), vp0.Uint64())
	assert.False(t, p.Lockup.Expired(now+100*day))
}

func TestGenesisMultiplier(t *testing.T) {
	now := uint64(1700000000)
	p := cliffPosition(now, 1000, 4)
	p.GenesisEndTs = now + 2*day
	cfg := testConfig()
	cfg.GenesisVotePowerMultiplier = 3
	cfg.GenesisVotePowerMultiplierExpirationTs = now + 10*day

	vp, err := p.VotingPower(cfg, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), vp.Uint64())

	// the multiplier disappears at min(genesis end, expiration)
	vp, err = p.VotingPower(cfg, now+2*day)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), vp.Uint64())
}

func TestDigitShift(t *testing.T) {
	now := uint64(1700000000)
	p := cliffPosition(now, 1000, 4)
	cfg := testConfig()

	cfg.DigitShift = 2
	vp, err := p.VotingPower(cfg, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(100000), vp.Uint64())

	cfg.DigitShift = -1
	vp, err = p.VotingPower(cfg, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), vp.Uint64())

	// shifts past any 64-bit amount floor to zero instead of wrapping the
	// divisor
	cfg.DigitShift = -100
	vp, err = p.VotingPower(cfg, now)
	require.NoError(t, err)
	assert.True(t, vp.IsZero())
}

func TestCalculateFallRateRoundsDown(t *testing.T) {
	start := uint256.NewInt(1_000_000_000_000_000) // 1000 veHNT scaled
	end := uint256.NewInt(0)

	rate, err := CalculateFallRate(start, end, 4*day)
	require.NoError(t, err)
	assert.Equal(t, uint64(2893518518), rate.Uint64())

	// rounding down: rate * secs never exceeds the true drop
	total := new(uint256.Int).Mul(rate, uint256.NewInt(4*day))
	assert.True(t, total.Cmp(start) <= 0)

	_, err = CalculateFallRate(start, end, 0)
	assert.Error(t, err)
	_, err = CalculateFallRate(end, start, day)
	assert.Error(t, err)
}

func TestVehntCarriesPrecision(t *testing.T) {
	now := uint64(1700000000)
	p := cliffPosition(now, 1000, 4)
	cfg := testConfig()

	vehnt, err := p.VehntAt(cfg, now)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000", vehnt.Dec())
}
