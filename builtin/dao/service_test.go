// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package dao

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helium/hpl/builtin/circuitbreaker"
	"github.com/helium/hpl/builtin/subdao"
	"github.com/helium/hpl/builtin/token"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/kv"
	"github.com/helium/hpl/state"
)

type fixture struct {
	st    *state.State
	cfg   *hpl.Config
	toks  *token.Service
	subs  *subdao.Service
	svc   *Service
	payer hpl.Address

	hntMint hpl.Address
	daoKey  hpl.Address
	escrow  hpl.Address
	hstPool hpl.Address

	sub1, sub2   hpl.Address
	pool1, pool2 hpl.Address
}

// newFixture builds a DAO with two sub-DAOs whose epoch buckets for `epoch`
// produce utility scores 3200 and 100 against 33M emissions per day.
func newFixture(t *testing.T, epoch uint64) *fixture {
	t.Helper()
	t0 := hpl.EpochStart(epoch)
	st := state.New(kv.NewMem())
	payer := hpl.BytesToAddress([]byte("payer"))
	require.NoError(t, st.AddLamports(payer, 1_000_000_000_000))

	cfg := &hpl.Config{
		DelegatorRewardsPercent: 600,
		EmissionSchedule:        []hpl.EmissionEntry{{StartUnixTime: 0, EmissionsPerDay: 33_000_000}},
		HstPercentSchedule:      []hpl.PercentEntry{{StartUnixTime: 0, Percent: 3200}},
	}

	f := &fixture{
		st:    st,
		cfg:   cfg,
		toks:  token.New(st),
		subs:  subdao.New(st),
		payer: payer,
	}
	brk := circuitbreaker.New(st, f.toks)
	f.svc = New(st, cfg, f.subs, brk)

	f.hntMint = hpl.BytesToAddress([]byte("hnt"))
	require.NoError(t, f.toks.InitMint(f.hntMint, 8, payer, payer))
	require.NoError(t, brk.InitMintBreaker(f.hntMint, circuitbreaker.WindowedConfig{
		WindowSizeSeconds: hpl.EpochLength,
		ThresholdType:     circuitbreaker.ThresholdAbsolute,
		Threshold:         1_000_000_000_000,
	}, payer, payer))

	var err error
	f.escrow, err = f.toks.InitAccount(f.hntMint, hpl.BytesToAddress([]byte("escrow-owner")), payer)
	require.NoError(t, err)
	f.hstPool, err = f.toks.InitAccount(f.hntMint, hpl.BytesToAddress([]byte("hst-owner")), payer)
	require.NoError(t, err)
	f.pool1, err = f.toks.InitAccount(f.hntMint, hpl.BytesToAddress([]byte("pool-1")), payer)
	require.NoError(t, err)
	f.pool2, err = f.toks.InitAccount(f.hntMint, hpl.BytesToAddress([]byte("pool-2")), payer)
	require.NoError(t, err)

	f.daoKey, err = f.svc.InitDao(Dao{
		HntMint:       f.hntMint,
		Authority:     payer,
		RewardsEscrow: f.escrow,
		HstPool:       f.hstPool,
		NumSubDaos:    2,
	}, t0, payer)
	require.NoError(t, err)

	f.sub1, err = f.subs.InitSubDao(subdao.SubDao{
		Dao: f.daoKey, DntMint: hpl.BytesToAddress([]byte("iot")),
		DelegatorPool:       f.pool1,
		ActiveDeviceCount:   4,
		DeviceActivationFee: 4,
	}, t0, payer)
	require.NoError(t, err)
	f.sub2, err = f.subs.InitSubDao(subdao.SubDao{
		Dao: f.daoKey, DntMint: hpl.BytesToAddress([]byte("mobile")),
		DelegatorPool: f.pool2,
	}, t0, payer)
	require.NoError(t, err)

	// seed the closed-epoch buckets: 400 HNT of veHNT and 16*10^5 DC burned
	// on sub1, 100 HNT of veHNT and an idle sub2
	seed := func(sub hpl.Address, vehnt hpl.Uint128, dc uint64) {
		ei, _, err := f.subs.GetEpochInfo(sub, epoch)
		require.NoError(t, err)
		ei.VehntAtEpochStart = vehnt
		ei.DcBurned = dc
		require.NoError(t, f.subs.PutEpochInfo(ei, payer))
	}
	seed(f.sub1, u128FromDecimal(t, "40000000000000000000000"), 1_600_000)
	seed(f.sub2, u128FromDecimal(t, "10000000000000000000000"), 0)
	return f
}

func u128FromDecimal(t *testing.T, dec string) hpl.Uint128 {
	t.Helper()
	v, err := uint256.FromDecimal(dec)
	require.NoError(t, err)
	u, err := hpl.U128FromUint256(v)
	require.NoError(t, err)
	return u
}

func (f *fixture) balance(t *testing.T, key hpl.Address) uint64 {
	t.Helper()
	bal, err := f.toks.Balance(key)
	require.NoError(t, err)
	return bal
}

func TestEpochClosePipeline(t *testing.T) {
	epoch := uint64(30000)
	f := newFixture(t, epoch)
	now := hpl.EpochStart(epoch+1) + 100

	// the epoch must be over
	err := f.svc.CalculateUtilityScore(f.daoKey, f.sub1, epoch+1, now, f.payer)
	assert.ErrorIs(t, err, ErrEpochNotOver)

	// rewards need every score first
	err = f.svc.IssueRewards(f.daoKey, f.sub1, epoch, now, f.payer)
	assert.ErrorIs(t, err, ErrScoresIncomplete)

	require.NoError(t, f.svc.CalculateUtilityScore(f.daoKey, f.sub1, epoch, now, f.payer))
	require.NoError(t, f.svc.CalculateUtilityScore(f.daoKey, f.sub2, epoch, now, f.payer))

	// V=400 D=4 A=2 -> 3200; V=100 D=1 A=1 -> 100
	ei, _, err := f.subs.GetEpochInfo(f.sub1, epoch)
	require.NoError(t, err)
	score, _ := ei.UtilityScore.Uint64()
	assert.Equal(t, uint64(3_200_000_000_000_000), score)
	assert.Equal(t, subdao.StageUtilityCalculated, ei.CalculationStage)

	dei, _, err := f.svc.GetEpochInfo(f.daoKey, epoch)
	require.NoError(t, err)
	assert.True(t, dei.DoneCalculatingScores)
	total, _ := dei.TotalUtilityScore.Uint64()
	assert.Equal(t, uint64(3_300_000_000_000_000), total)

	// stage re-entry is a fault outside testing mode
	err = f.svc.CalculateUtilityScore(f.daoKey, f.sub1, epoch, now, f.payer)
	assert.ErrorIs(t, err, ErrUtilityAlreadyCalculated)

	// 6% of 33M split 3200:100
	require.NoError(t, f.svc.IssueRewards(f.daoKey, f.sub1, epoch, now, f.payer))
	require.NoError(t, f.svc.IssueRewards(f.daoKey, f.sub2, epoch, now, f.payer))
	assert.Equal(t, uint64(1_920_000), f.balance(t, f.pool1))
	assert.Equal(t, uint64(60_000), f.balance(t, f.pool2))

	ei, _, err = f.subs.GetEpochInfo(f.sub1, epoch)
	require.NoError(t, err)
	assert.Equal(t, subdao.StageRewardsIssued, ei.CalculationStage)
	assert.True(t, ei.RewardsIssuedAtSet)
	assert.Equal(t, uint64(1_920_000), ei.DelegationRewardsIssued)

	err = f.svc.IssueRewards(f.daoKey, f.sub1, epoch, now, f.payer)
	assert.ErrorIs(t, err, ErrRewardsAlreadyIssued)

	d, err := f.svc.GetDao(f.daoKey)
	require.NoError(t, err)
	assert.Equal(t, epoch, d.LastRewardedEpoch)

	// 32% HST, remainder to escrow
	require.NoError(t, f.svc.IssueHstPool(f.daoKey, epoch, now, f.payer))
	assert.Equal(t, uint64(10_560_000), f.balance(t, f.hstPool))
	assert.Equal(t, uint64(20_460_000), f.balance(t, f.escrow))

	err = f.svc.IssueHstPool(f.daoKey, epoch, now, f.payer)
	assert.ErrorIs(t, err, ErrHstPoolAlreadyIssued)
}

func TestIssueRewardsStrictEpochOrder(t *testing.T) {
	epoch := uint64(30000)
	f := newFixture(t, epoch)
	now := hpl.EpochStart(epoch+2) + 100

	// score only the later epoch and try to issue it first
	require.NoError(t, f.svc.CalculateUtilityScore(f.daoKey, f.sub1, epoch+1, now, f.payer))
	require.NoError(t, f.svc.CalculateUtilityScore(f.daoKey, f.sub2, epoch+1, now, f.payer))

	err := f.svc.IssueRewards(f.daoKey, f.sub1, epoch+1, now, f.payer)
	assert.ErrorIs(t, err, ErrEpochOutOfOrder)
}

func TestTestingModeRelaxesReentry(t *testing.T) {
	epoch := uint64(30000)
	f := newFixture(t, epoch)
	f.cfg.Testing = true
	now := hpl.EpochStart(epoch+1) + 100

	require.NoError(t, f.svc.CalculateUtilityScore(f.daoKey, f.sub1, epoch, now, f.payer))
	// recalculation replaces the old contribution instead of faulting
	require.NoError(t, f.svc.CalculateUtilityScore(f.daoKey, f.sub1, epoch, now, f.payer))

	dei, _, err := f.svc.GetEpochInfo(f.daoKey, epoch)
	require.NoError(t, err)
	total, _ := dei.TotalUtilityScore.Uint64()
	assert.Equal(t, uint64(3_200_000_000_000_000), total)
	assert.Equal(t, uint32(1), dei.NumUtilityScoresCalculated)

	require.NoError(t, f.svc.CalculateUtilityScore(f.daoKey, f.sub2, epoch, now, f.payer))
	require.NoError(t, f.svc.IssueRewards(f.daoKey, f.sub1, epoch, now, f.payer))
	// re-issue is a no-op, not a fault
	require.NoError(t, f.svc.IssueRewards(f.daoKey, f.sub1, epoch, now, f.payer))
	assert.Equal(t, uint64(1_920_000), f.balance(t, f.pool1))
}

func TestIssueRewardsBreakerTrip(t *testing.T) {
	epoch := uint64(30000)
	f := newFixture(t, epoch)
	now := hpl.EpochStart(epoch+1) + 100

	// shrink the breaker below the reward amount
	brkKey := circuitbreaker.MintBreakerKey(f.hntMint)
	var b circuitbreaker.Breaker
	require.NoError(t, f.st.DecodeAccount(brkKey, "MintWindowedCircuitBreaker", &b))
	b.Config.Threshold = 1000
	require.NoError(t, f.st.EncodeAccount(brkKey, "MintWindowedCircuitBreaker", b))

	require.NoError(t, f.svc.CalculateUtilityScore(f.daoKey, f.sub1, epoch, now, f.payer))
	require.NoError(t, f.svc.CalculateUtilityScore(f.daoKey, f.sub2, epoch, now, f.payer))

	err := f.svc.IssueRewards(f.daoKey, f.sub1, epoch, now, f.payer)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerTripped)

	// the stage did not advance; a retry path stays open
	ei, _, err2 := f.subs.GetEpochInfo(f.sub1, epoch)
	require.NoError(t, err2)
	assert.False(t, ei.RewardsIssuedAtSet)
	assert.Equal(t, subdao.StageUtilityCalculated, ei.CalculationStage)
}
