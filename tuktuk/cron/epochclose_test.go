// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cron

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helium/hpl/builtin/circuitbreaker"
	"github.com/helium/hpl/builtin/dao"
	"github.com/helium/hpl/builtin/subdao"
	"github.com/helium/hpl/builtin/token"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/kv"
	"github.com/helium/hpl/state"
)

type closerFixture struct {
	st    *state.State
	toks  *token.Service
	daos  *dao.Service
	svc   *EpochCloserService
	payer hpl.Address

	daoKey  hpl.Address
	pool    hpl.Address
	escrow  hpl.Address
	hstPool hpl.Address
	key     hpl.Address
}

// newCloserFixture stands up a DAO with one idle sub-DAO against 33M
// emissions per day, 6% to delegators and 32% to the HST pool.
func newCloserFixture(t *testing.T, t0 uint64) *closerFixture {
	t.Helper()
	st := state.New(kv.NewMem())
	payer := hpl.BytesToAddress([]byte("payer"))
	require.NoError(t, st.AddLamports(payer, 1_000_000_000_000))

	cfg := &hpl.Config{
		DelegatorRewardsPercent: 600,
		EmissionSchedule:        []hpl.EmissionEntry{{StartUnixTime: 0, EmissionsPerDay: 33_000_000}},
		HstPercentSchedule:      []hpl.PercentEntry{{StartUnixTime: 0, Percent: 3200}},
	}

	f := &closerFixture{st: st, toks: token.New(st), payer: payer}
	subs := subdao.New(st)
	brk := circuitbreaker.New(st, f.toks)
	f.daos = dao.New(st, cfg, subs, brk)
	f.svc = NewEpochCloser(st, f.daos)

	hntMint := hpl.BytesToAddress([]byte("hnt"))
	require.NoError(t, f.toks.InitMint(hntMint, 8, payer, payer))
	require.NoError(t, brk.InitMintBreaker(hntMint, circuitbreaker.WindowedConfig{
		WindowSizeSeconds: hpl.EpochLength,
		ThresholdType:     circuitbreaker.ThresholdAbsolute,
		Threshold:         1_000_000_000_000,
	}, payer, payer))

	var err error
	f.escrow, err = f.toks.InitAccount(hntMint, hpl.BytesToAddress([]byte("escrow-owner")), payer)
	require.NoError(t, err)
	f.hstPool, err = f.toks.InitAccount(hntMint, hpl.BytesToAddress([]byte("hst-owner")), payer)
	require.NoError(t, err)
	f.pool, err = f.toks.InitAccount(hntMint, hpl.BytesToAddress([]byte("pool-1")), payer)
	require.NoError(t, err)

	f.daoKey, err = f.daos.InitDao(dao.Dao{
		HntMint:       hntMint,
		Authority:     payer,
		RewardsEscrow: f.escrow,
		HstPool:       f.hstPool,
		NumSubDaos:    1,
	}, t0, payer)
	require.NoError(t, err)

	subKey, err := subs.InitSubDao(subdao.SubDao{
		Dao:           f.daoKey,
		DntMint:       hpl.BytesToAddress([]byte("iot")),
		DelegatorPool: f.pool,
	}, t0, payer)
	require.NoError(t, err)

	f.key, err = f.svc.InitializeEpochCloser(EpochCloser{
		Authority: payer,
		Dao:       f.daoKey,
		SubDaos:   []hpl.Address{subKey},
		Schedule:  "0 0 * * *",
	}, payer)
	require.NoError(t, err)
	return f
}

func (f *closerFixture) balance(t *testing.T, key hpl.Address) uint64 {
	t.Helper()
	bal, err := f.toks.Balance(key)
	require.NoError(t, err)
	return bal
}

// A sweep that missed a day closes every epoch since the last rewarded one,
// not just the latest.
func TestEpochCloserCatchesUpMissedEpochs(t *testing.T) {
	e0 := uint64(30000)
	t0 := hpl.EpochStart(e0)
	f := newCloserFixture(t, t0)

	require.NoError(t, f.svc.Run(f.key, hpl.EpochStart(e0+1)+100, f.payer))
	d, err := f.daos.GetDao(f.daoKey)
	require.NoError(t, err)
	assert.Equal(t, e0, d.LastRewardedEpoch)
	// 6% of 33M to the single delegator pool, 32% to HST
	assert.Equal(t, uint64(1_980_000), f.balance(t, f.pool))
	assert.Equal(t, uint64(10_560_000), f.balance(t, f.hstPool))

	// the sweep at e0+2 never ran; the next one covers both e0+1 and e0+2
	require.NoError(t, f.svc.Run(f.key, hpl.EpochStart(e0+3)+100, f.payer))
	d, err = f.daos.GetDao(f.daoKey)
	require.NoError(t, err)
	assert.Equal(t, e0+2, d.LastRewardedEpoch)
	assert.Equal(t, uint64(3*1_980_000), f.balance(t, f.pool))
	assert.Equal(t, uint64(3*10_560_000), f.balance(t, f.hstPool))
	assert.Equal(t, uint64(3*20_460_000), f.balance(t, f.escrow))

	// fully caught up: another run is a clean no-op
	require.NoError(t, f.svc.Run(f.key, hpl.EpochStart(e0+3)+100, f.payer))
	assert.Equal(t, uint64(3*1_980_000), f.balance(t, f.pool))
}
