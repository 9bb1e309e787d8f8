// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package delegation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helium/hpl/builtin/positions"
	"github.com/helium/hpl/builtin/subdao"
	"github.com/helium/hpl/hpl"
)

// claimFixture delegates a constant 1000-token position at an exact epoch
// start and seeds the epoch bucket with issued rewards and a funded pool.
type claimFixture struct {
	*fixture
	subKey hpl.Address
	mint   hpl.Address
	pool   hpl.Address
	dest   hpl.Address
	epoch  uint64
}

func newClaimFixture(t *testing.T, issued, poolFunds, vehntAtStart uint64) *claimFixture {
	t.Helper()
	epoch := uint64(21010)
	t0 := hpl.EpochStart(epoch)
	f := newFixture(t, t0)

	dntMint := hpl.BytesToAddress([]byte("dnt-mint"))
	require.NoError(t, f.toks.InitMint(dntMint, 8, f.payer, f.payer))
	pool, err := f.toks.InitAccount(dntMint, hpl.BytesToAddress([]byte("pool-owner")), f.payer)
	require.NoError(t, err)
	if poolFunds > 0 {
		require.NoError(t, f.toks.MintTo(dntMint, pool, poolFunds))
	}
	dest, err := f.toks.InitAccount(dntMint, hpl.BytesToAddress([]byte("claimer")), f.payer)
	require.NoError(t, err)

	subKey, err := f.subs.InitSubDao(subdao.SubDao{
		Dao:           hpl.BytesToAddress([]byte("dao")),
		DntMint:       dntMint,
		DelegatorPool: pool,
	}, t0, f.payer)
	require.NoError(t, err)

	mint := f.newPosition(t, "pos-1", positions.LockupConstant, 1000, t0, t0+4*day)
	require.NoError(t, f.svc.Delegate(mint, subKey, f.proxy, t0, f.payer))

	ei, _, err := f.subs.GetEpochInfo(subKey, epoch)
	require.NoError(t, err)
	ei.VehntAtEpochStart = hpl.U128FromUint64(vehntAtStart)
	ei.RewardsIssuedAtSet = true
	ei.RewardsIssuedAt = t0 + day
	ei.DelegationRewardsIssued = issued
	require.NoError(t, f.subs.PutEpochInfo(ei, f.payer))

	return &claimFixture{fixture: f, subKey: subKey, mint: mint, pool: pool, dest: dest, epoch: epoch}
}

func TestClaimRewardsProRata(t *testing.T) {
	// the position holds half the epoch-start veHNT
	cf := newClaimFixture(t, 10_000, 10_000, 2_000_000_000_000_000)
	now := hpl.EpochStart(cf.epoch+1) + 10

	amount, err := cf.svc.ClaimRewards(cf.mint, cf.dest, cf.epoch, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), amount)

	bal, err := cf.toks.Balance(cf.dest)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), bal)

	d, err := cf.svc.GetDelegation(cf.mint)
	require.NoError(t, err)
	assert.Equal(t, cf.epoch, d.LastClaimedEpoch)

	// replaying the same epoch violates monotone progress
	_, err = cf.svc.ClaimRewards(cf.mint, cf.dest, cf.epoch, now)
	assert.ErrorIs(t, err, ErrInvalidClaimEpoch)

	// and the next epoch has no rewards issued yet
	_, err = cf.svc.ClaimRewards(cf.mint, cf.dest, cf.epoch+1, now+day)
	assert.ErrorIs(t, err, ErrRewardsNotIssued)
}

func TestClaimRewardsEpochNotOver(t *testing.T) {
	cf := newClaimFixture(t, 10_000, 10_000, 2_000_000_000_000_000)
	_, err := cf.svc.ClaimRewards(cf.mint, cf.dest, cf.epoch, hpl.EpochStart(cf.epoch)+100)
	assert.ErrorIs(t, err, ErrEpochNotOver)
}

func TestClaimRewardsCappedAtPool(t *testing.T) {
	cf := newClaimFixture(t, 10_000, 3_000, 2_000_000_000_000_000)
	now := hpl.EpochStart(cf.epoch+1) + 10

	amount, err := cf.svc.ClaimRewards(cf.mint, cf.dest, cf.epoch, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000), amount, "dust-capped at the pool balance")
}

func TestClaimRewardsDetectsAggregatorDrift(t *testing.T) {
	// snapshot below the position's own veHNT is a fatal bookkeeping bug
	cf := newClaimFixture(t, 10_000, 10_000, 500_000_000_000_000)
	now := hpl.EpochStart(cf.epoch+1) + 10

	_, err := cf.svc.ClaimRewards(cf.mint, cf.dest, cf.epoch, now)
	assert.ErrorIs(t, err, ErrAggregatorDrift)
}

// Pre-migration epochs go through the sparse bitmap and leave the monotone
// cursor untouched.
func TestClaimRewardsBitmapPath(t *testing.T) {
	cf := newClaimFixture(t, 10_000, 10_000, 2_000_000_000_000_000)
	now := hpl.EpochStart(cf.epoch+1) + 10
	old := hpl.HNTEpoch - 5

	ei, _, err := cf.subs.GetEpochInfo(cf.subKey, old)
	require.NoError(t, err)
	ei.VehntAtEpochStart = hpl.U128FromUint64(2_000_000_000_000_000)
	ei.RewardsIssuedAtSet = true
	ei.DelegationRewardsIssued = 100
	require.NoError(t, cf.subs.PutEpochInfo(ei, cf.payer))

	amount, err := cf.svc.ClaimRewards(cf.mint, cf.dest, old, now)
	require.NoError(t, err)
	assert.Zero(t, amount, "the delegation postdates the epoch")

	d, err := cf.svc.GetDelegation(cf.mint)
	require.NoError(t, err)
	assert.Equal(t, cf.epoch-1, d.LastClaimedEpoch, "cursor untouched")
	assert.False(t, d.ClaimedEpochsBitmap.IsZero())

	_, err = cf.svc.ClaimRewards(cf.mint, cf.dest, old, now)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)

	// epochs below the bitmap window are unreachable
	_, err = cf.svc.ClaimRewards(cf.mint, cf.dest, hpl.HNTEpoch-200, now)
	assert.ErrorIs(t, err, ErrInvalidClaimEpoch)
}

func TestClaimRewardsSkipsMidEpochJoin(t *testing.T) {
	cf := newClaimFixture(t, 10_000, 10_000, 2_000_000_000_000_000)

	// a second delegation joining mid-epoch gets nothing for that epoch
	mint2 := cf.newPosition(t, "pos-2", positions.LockupConstant, 500, hpl.EpochStart(cf.epoch), hpl.EpochStart(cf.epoch)+4*day)
	require.NoError(t, cf.svc.Delegate(mint2, cf.subKey, cf.proxy, hpl.EpochStart(cf.epoch)+500, cf.payer))

	now := hpl.EpochStart(cf.epoch+1) + 10
	amount, err := cf.svc.ClaimRewards(mint2, cf.dest, cf.epoch, now)
	require.NoError(t, err)
	assert.Zero(t, amount)

	d, err := cf.svc.GetDelegation(mint2)
	require.NoError(t, err)
	assert.Equal(t, cf.epoch, d.LastClaimedEpoch, "cursor still advances")
}
