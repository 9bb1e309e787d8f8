// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package tuktuk

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/kv"
	"github.com/helium/hpl/runtime"
	"github.com/helium/hpl/state"
)

type fixture struct {
	st    *state.State
	rt    *runtime.Runtime
	svc   *Service
	payer hpl.Address
	crank hpl.Address
	queue hpl.Address

	program hpl.Address
	counter hpl.Address
	runs    int
}

// the test program credits one lamport to the counter account per run and,
// when data[0] > 0, returns that many follow-up tasks. data[0] == 0xFF fails.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.New(kv.NewMem())
	payer := hpl.BytesToAddress([]byte("payer"))
	require.NoError(t, st.AddLamports(payer, 1_000_000_000))

	f := &fixture{
		st:      st,
		rt:      runtime.New(st, &hpl.Config{}),
		payer:   payer,
		crank:   hpl.BytesToAddress([]byte("crank")),
		program: hpl.BytesToAddress([]byte("test-program")),
		counter: hpl.BytesToAddress([]byte("counter")),
	}
	f.svc = New(st, f.rt)

	f.rt.Register(f.program, "test", func(env *runtime.Env, ins runtime.Instruction) ([]byte, error) {
		if len(ins.Data) > 0 && ins.Data[0] == 0xFF {
			return nil, assert.AnError
		}
		f.runs++
		if err := env.State().AddLamports(f.counter, 1); err != nil {
			return nil, err
		}
		n := 0
		if len(ins.Data) > 0 {
			n = int(ins.Data[0])
		}
		if n == 0 {
			return nil, nil
		}
		var ret RunTaskReturn
		for i := 0; i < n; i++ {
			ret.Tasks = append(ret.Tasks, TaskReturn{
				Trigger:     Trigger{Kind: TriggerNow},
				Transaction: compiledCall(f.program, 0),
				Description: "follow-up",
			})
		}
		return borsh.Serialize(ret)
	})

	queue, err := f.svc.InitQueue(TaskQueue{
		Name:            "test",
		Authority:       hpl.BytesToAddress([]byte("queue-authority")),
		UpdateAuthority: payer,
		Capacity:        8,
		MinCrankReward:  100,
		StaleTaskAge:    3600,
	}, payer)
	require.NoError(t, err)
	f.queue = queue
	// escrow funding for follow-up rent and rewards
	require.NoError(t, st.AddLamports(queue, 100_000_000))
	return f
}

func compiledCall(program hpl.Address, followUps byte) TransactionSource {
	return TransactionSource{
		Kind: SourceCompiled,
		Compiled: CompiledTransaction{
			Instructions: []runtime.Instruction{{ProgramID: program, Data: []byte{followUps}}},
		},
	}
}

func (f *fixture) lamports(t *testing.T, addr hpl.Address) uint64 {
	t.Helper()
	bal, err := f.st.Lamports(addr)
	require.NoError(t, err)
	return bal
}

// A task with a one-slot budget chains exactly one follow-up and pays the
// crank once.
func TestRunTaskChainsFollowUp(t *testing.T) {
	f := newFixture(t)
	now := uint64(1_700_000_000)

	id, err := f.svc.QueueTask(f.queue, Task{
		ID:          0,
		Trigger:     Trigger{Kind: TriggerNow},
		Transaction: compiledCall(f.program, 1),
		FreeTasks:   1,
		Description: "chain",
	}, now, f.payer)
	require.NoError(t, err)
	require.Equal(t, uint16(0), id)

	ids, err := f.svc.RunTask(f.queue, 0, now, now+10, f.crank, nil, nil)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, 1, f.runs)
	assert.Equal(t, uint64(100), f.lamports(t, f.crank))

	// the follow-up is live with a fresh queued_at
	next, err := f.svc.GetTask(f.queue, ids[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(now+10), next.QueuedAt)
	assert.Equal(t, uint8(0), next.FreeTasks)

	// the original incarnation is gone
	_, err = f.svc.RunTask(f.queue, ids[0], now, now+20, f.crank, nil, nil)
	assert.ErrorIs(t, err, ErrQueuedAtMismatch)
}

// Returning more follow-ups than the budget reverts everything.
func TestRunTaskFollowUpBudgetExceeded(t *testing.T) {
	f := newFixture(t)
	now := uint64(1_700_000_000)

	_, err := f.svc.QueueTask(f.queue, Task{
		ID:          0,
		Trigger:     Trigger{Kind: TriggerNow},
		Transaction: compiledCall(f.program, 2),
		FreeTasks:   1,
	}, now, f.payer)
	require.NoError(t, err)

	_, err = f.svc.RunTask(f.queue, 0, now, now, f.crank, nil, nil)
	assert.ErrorIs(t, err, ErrTooManyFollowUps)

	// the task stays queued, no reward paid, no counter side effect
	task, err := f.svc.GetTask(f.queue, 0)
	require.NoError(t, err)
	assert.Equal(t, now, task.QueuedAt)
	assert.Zero(t, f.lamports(t, f.crank))
	assert.Zero(t, f.lamports(t, f.counter))
}

// A dequeued task is simply gone on the next crank pass; no reward is paid.
func TestDequeueBeforeTrigger(t *testing.T) {
	f := newFixture(t)
	now := uint64(1_700_000_000)
	refund := hpl.BytesToAddress([]byte("refund"))

	_, err := f.svc.QueueTask(f.queue, Task{
		ID:          3,
		Trigger:     Trigger{Kind: TriggerTimestamp, Timestamp: now + 500},
		Transaction: compiledCall(f.program, 0),
		RentRefund:  refund,
	}, now, f.payer)
	require.NoError(t, err)

	err = f.svc.DequeueTask(f.queue, 3, hpl.BytesToAddress([]byte("stranger")))
	assert.ErrorIs(t, err, ErrWrongQueueAuthority)

	require.NoError(t, f.svc.DequeueTask(f.queue, 3, f.payer))
	// rent plus the escrowed reward return to the refund account
	assert.Greater(t, f.lamports(t, refund), uint64(100))

	_, err = f.svc.RunTask(f.queue, 3, now, now+1000, f.crank, nil, nil)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Zero(t, f.lamports(t, f.crank))
}

func TestTimestampTriggerGates(t *testing.T) {
	f := newFixture(t)
	now := uint64(1_700_000_000)

	_, err := f.svc.QueueTask(f.queue, Task{
		ID:          0,
		Trigger:     Trigger{Kind: TriggerTimestamp, Timestamp: now + 500},
		Transaction: compiledCall(f.program, 0),
	}, now, f.payer)
	require.NoError(t, err)

	_, err = f.svc.RunTask(f.queue, 0, now, now+499, f.crank, nil, nil)
	assert.ErrorIs(t, err, ErrTaskNotTriggered)

	_, err = f.svc.RunTask(f.queue, 0, now, now+500, f.crank, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.runs)
}

func TestAccountTriggerMask(t *testing.T) {
	f := newFixture(t)
	now := uint64(1_700_000_000)

	flagKey := hpl.BytesToAddress([]byte("flag-account"))
	type flag struct{ Set uint8 }
	require.NoError(t, f.st.InitAccount(flagKey, "Flag", flag{}, f.payer))

	// the mask byte sits after the 8-byte discriminator
	_, err := f.svc.QueueTask(f.queue, Task{
		ID:          0,
		Trigger:     Trigger{Kind: TriggerAccount, Account: flagKey, Offset: 8, Size: 1},
		Transaction: compiledCall(f.program, 0),
	}, now, f.payer)
	require.NoError(t, err)

	_, err = f.svc.RunTask(f.queue, 0, now, now, f.crank, nil, nil)
	assert.ErrorIs(t, err, ErrTaskNotTriggered)

	require.NoError(t, f.st.EncodeAccount(flagKey, "Flag", flag{Set: 1}))
	_, err = f.svc.RunTask(f.queue, 0, now, now, f.crank, nil, nil)
	require.NoError(t, err)
}

func TestQueueTaskValidation(t *testing.T) {
	f := newFixture(t)
	now := uint64(1_700_000_000)
	tx := compiledCall(f.program, 0)

	_, err := f.svc.QueueTask(f.queue, Task{ID: 9, Trigger: Trigger{Kind: TriggerNow}, Transaction: tx}, now, f.payer)
	assert.ErrorIs(t, err, ErrTaskIDOutOfRange)

	long := make([]byte, MaxDescriptionLen+1)
	_, err = f.svc.QueueTask(f.queue, Task{ID: 0, Transaction: tx, Description: string(long)}, now, f.payer)
	assert.ErrorIs(t, err, ErrDescriptionTooLong)

	_, err = f.svc.QueueTask(f.queue, Task{ID: 0, Transaction: tx, CrankReward: 99}, now, f.payer)
	assert.ErrorIs(t, err, ErrCrankRewardTooLow)

	_, err = f.svc.QueueTask(f.queue, Task{ID: 0, Transaction: tx}, now, f.payer)
	require.NoError(t, err)
	_, err = f.svc.QueueTask(f.queue, Task{ID: 0, Transaction: tx}, now, f.payer)
	assert.ErrorIs(t, err, ErrTaskSlotOccupied)

	// the allocator cursor moved past the taken slot
	q, err := f.svc.GetQueue(f.queue)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), q.NextAvailableTaskID)
}

func TestExecutionFailureLeavesTask(t *testing.T) {
	f := newFixture(t)
	now := uint64(1_700_000_000)

	_, err := f.svc.QueueTask(f.queue, Task{
		ID:          0,
		Trigger:     Trigger{Kind: TriggerNow},
		Transaction: compiledCall(f.program, 0xFF),
	}, now, f.payer)
	require.NoError(t, err)

	_, err = f.svc.RunTask(f.queue, 0, now, now, f.crank, nil, nil)
	require.Error(t, err)

	task, err := f.svc.GetTask(f.queue, 0)
	require.NoError(t, err)
	assert.Equal(t, now, task.QueuedAt)
	assert.Zero(t, f.lamports(t, f.counter))
}

func TestRetireStaleTask(t *testing.T) {
	f := newFixture(t)
	now := uint64(1_700_000_000)
	refund := hpl.BytesToAddress([]byte("refund"))

	_, err := f.svc.QueueTask(f.queue, Task{
		ID:          0,
		Trigger:     Trigger{Kind: TriggerTimestamp, Timestamp: now + 10_000_000},
		Transaction: compiledCall(f.program, 0),
		RentRefund:  refund,
	}, now, f.payer)
	require.NoError(t, err)

	err = f.svc.RetireStaleTask(f.queue, 0, now+3599, f.crank)
	assert.ErrorIs(t, err, ErrTaskNotStale)

	require.NoError(t, f.svc.RetireStaleTask(f.queue, 0, now+3600, f.crank))
	assert.Greater(t, f.lamports(t, refund), uint64(0), "rent refunded")
	assert.Equal(t, uint64(100), f.lamports(t, f.crank), "cleanup reward")

	_, err = f.svc.GetTask(f.queue, 0)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRunTaskRemoteSource(t *testing.T) {
	f := newFixture(t)
	now := uint64(1_700_000_000)

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	var signer [33]byte
	copy(signer[:], priv.PubKey().SerializeCompressed())

	_, err = f.svc.QueueTask(f.queue, Task{
		ID:      0,
		Trigger: Trigger{Kind: TriggerNow},
		Transaction: TransactionSource{
			Kind:   SourceRemote,
			Remote: RemoteTransaction{URL: "https://example.com/tx", Signer: signer},
		},
	}, now, f.payer)
	require.NoError(t, err)

	txBytes, err := borsh.Serialize(CompiledTransaction{
		Instructions: []runtime.Instruction{{ProgramID: f.program, Data: []byte{0}}},
	})
	require.NoError(t, err)

	badSig := secpecdsa.Sign(priv, hpl.Blake2b([]byte("other")).Bytes()).Serialize()
	_, err = f.svc.RunTask(f.queue, 0, now, now, f.crank, txBytes, badSig)
	assert.ErrorIs(t, err, ErrBadRemoteSignature)

	hash := remoteSigningHash(f.queue, 0, now, txBytes)
	sig := secpecdsa.Sign(priv, hash.Bytes()).Serialize()
	_, err = f.svc.RunTask(f.queue, 0, now, now, f.crank, txBytes, sig)
	require.NoError(t, err)
	assert.Equal(t, 1, f.runs)
}
