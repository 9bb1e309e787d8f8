// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cron

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helium/hpl/builtin/delegation"
	"github.com/helium/hpl/builtin/positions"
	"github.com/helium/hpl/builtin/subdao"
	"github.com/helium/hpl/builtin/token"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/kv"
	"github.com/helium/hpl/state"
)

func TestFanoutDistributesProRata(t *testing.T) {
	st := state.New(kv.NewMem())
	payer := hpl.BytesToAddress([]byte("payer"))
	require.NoError(t, st.AddLamports(payer, 1_000_000_000))
	toks := token.New(st)
	svc := NewFanout(st, toks)

	mint := hpl.BytesToAddress([]byte("hnt"))
	require.NoError(t, toks.InitMint(mint, 8, payer, payer))
	pool, err := toks.InitAccount(mint, payer, payer)
	require.NoError(t, err)
	a, err := toks.InitAccount(mint, hpl.BytesToAddress([]byte("a")), payer)
	require.NoError(t, err)
	b, err := toks.InitAccount(mint, hpl.BytesToAddress([]byte("b")), payer)
	require.NoError(t, err)
	require.NoError(t, toks.MintTo(mint, pool, 1001))

	key, err := svc.InitializeFanout(Fanout{
		Name:         "split",
		Authority:    payer,
		TokenAccount: pool,
		Shares: []FanoutShare{
			{Destination: a, Weight: 3},
			{Destination: b, Weight: 1},
		},
		Schedule: "0 0 * * *",
	}, payer)
	require.NoError(t, err)

	moved, err := svc.Distribute(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), moved)

	balA, _ := toks.Balance(a)
	balB, _ := toks.Balance(b)
	poolBal, _ := toks.Balance(pool)
	assert.Equal(t, uint64(750), balA)
	assert.Equal(t, uint64(250), balB)
	// the rounding lsb waits for the next distribution
	assert.Equal(t, uint64(1), poolBal)
}

func TestFanoutRejectsZeroWeight(t *testing.T) {
	st := state.New(kv.NewMem())
	payer := hpl.BytesToAddress([]byte("payer"))
	require.NoError(t, st.AddLamports(payer, 1_000_000_000))
	svc := NewFanout(st, token.New(st))

	_, err := svc.InitializeFanout(Fanout{Name: "empty", Schedule: "0 0 * * *"}, payer)
	assert.ErrorIs(t, err, ErrNoFanoutWeight)
}

func TestTopOffBelowThreshold(t *testing.T) {
	st := state.New(kv.NewMem())
	payer := hpl.BytesToAddress([]byte("payer"))
	require.NoError(t, st.AddLamports(payer, 1_000_000_000))
	toks := token.New(st)
	svc := NewTopOff(st, toks)

	mint := hpl.BytesToAddress([]byte("dc"))
	require.NoError(t, toks.InitMint(mint, 0, payer, payer))
	monitored, err := toks.InitAccount(mint, payer, payer)
	require.NoError(t, err)
	source, err := toks.InitAccount(mint, payer, payer)
	require.NoError(t, err)
	require.NoError(t, toks.MintTo(mint, source, 150))
	require.NoError(t, toks.MintTo(mint, monitored, 40))

	key, err := svc.InitializeTopOff(TopOff{
		Authority:    payer,
		Monitored:    monitored,
		Source:       source,
		Threshold:    50,
		TopOffAmount: 100,
		Schedule:     "0 * * * *",
	}, payer)
	require.NoError(t, err)

	moved, err := svc.Run(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), moved)
	bal, _ := toks.Balance(monitored)
	assert.Equal(t, uint64(140), bal)

	// above threshold now: a run is a no-op
	moved, err = svc.Run(key)
	require.NoError(t, err)
	assert.Zero(t, moved)

	// a second shortfall is capped at what the source still has
	parked, err := toks.InitAccount(mint, hpl.BytesToAddress([]byte("parked")), payer)
	require.NoError(t, err)
	require.NoError(t, toks.Transfer(monitored, parked, 120))
	require.NoError(t, toks.Transfer(source, parked, 20))
	moved, err = svc.Run(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), moved)
}

// The claim bot walks the cursor across every issued epoch in one run and
// stops cleanly at the first unissued one.
func TestClaimBotWalksIssuedEpochs(t *testing.T) {
	st := state.New(kv.NewMem())
	payer := hpl.BytesToAddress([]byte("payer"))
	require.NoError(t, st.AddLamports(payer, 1_000_000_000_000))

	pos := positions.New(st)
	subs := subdao.New(st)
	toks := token.New(st)
	dels := delegation.New(st, pos, subs, toks)
	svc := NewClaimBot(st, dels)

	const day = hpl.EpochLength
	epoch := uint64(21010)
	t0 := hpl.EpochStart(epoch)

	reg := hpl.DeriveAddress([]byte("registrar"), []byte("test"))
	require.NoError(t, pos.InitRegistrar(reg, positions.Registrar{
		VotingMints: []positions.VotingMintConfig{{
			MaxExtraLockupVoteWeightScaledFactor: hpl.ScaleFactorBase,
			LockupSaturationSecs:                 4 * day,
		}},
	}, payer))
	proxy, err := dels.InitProxyConfig(delegation.ProxyConfig{
		Name:    "test",
		Seasons: []delegation.Season{{Start: t0 - day, End: t0 + 100*day}},
	}, payer)
	require.NoError(t, err)

	dntMint := hpl.BytesToAddress([]byte("iot"))
	require.NoError(t, toks.InitMint(dntMint, 6, payer, payer))
	pool, err := toks.InitAccount(dntMint, hpl.BytesToAddress([]byte("pool")), payer)
	require.NoError(t, err)
	dest, err := toks.InitAccount(dntMint, payer, payer)
	require.NoError(t, err)
	require.NoError(t, toks.MintTo(dntMint, pool, 100_000))

	subKey, err := subs.InitSubDao(subdao.SubDao{
		Dao:           hpl.BytesToAddress([]byte("dao")),
		DntMint:       dntMint,
		DelegatorPool: pool,
	}, t0, payer)
	require.NoError(t, err)

	mint := hpl.BytesToAddress([]byte("pos-1"))
	require.NoError(t, pos.InitPosition(positions.Position{
		Mint:            mint,
		Registrar:       reg,
		AmountDeposited: 1000,
		Lockup:          positions.Lockup{Kind: positions.LockupConstant, StartTs: t0, EndTs: t0 + 4*day},
	}, payer))
	require.NoError(t, dels.Delegate(mint, subKey, proxy, t0, payer))

	// two closed epochs with issued rewards; the bot holds half the snapshot
	for _, e := range []uint64{epoch, epoch + 1} {
		ei, _, err := subs.GetEpochInfo(subKey, e)
		require.NoError(t, err)
		ei.VehntAtEpochStart = u128(t, 2_000_000_000_000_000)
		ei.RewardsIssuedAtSet = true
		ei.DelegationRewardsIssued = 10_000
		require.NoError(t, subs.PutEpochInfo(ei, payer))
	}

	botKey, err := svc.InitializeClaimBot(ClaimBot{
		Authority:   payer,
		Mint:        mint,
		Destination: dest,
		Schedule:    "0 0 * * *",
	}, payer)
	require.NoError(t, err)

	now := hpl.EpochStart(epoch+2) + 5
	total, epochs, err := svc.Run(botKey, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), total)
	assert.Equal(t, 2, epochs)

	d, err := dels.GetDelegation(mint)
	require.NoError(t, err)
	assert.Equal(t, epoch+1, d.LastClaimedEpoch)

	// nothing further to claim: the next run is a clean no-op
	total, epochs, err = svc.Run(botKey, now)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, epochs)

	bal, err := toks.Balance(dest)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), bal)
}

func u128(t *testing.T, v uint64) hpl.Uint128 {
	t.Helper()
	return hpl.U128FromUint64(v)
}
