// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package tuktuk implements the generic triggered-task queue. Programs queue
// transactions behind a trigger; an untrusted crank executes them for a
// per-task reward once the trigger is satisfied.
package tuktuk

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/runtime"
)

// MaxDescriptionLen bound on the free-form task description.
const MaxDescriptionLen = 40

var (
	// ErrTaskSlotOccupied the chosen task id is already bound to a live task.
	ErrTaskSlotOccupied = errors.New("task slot occupied")
	// ErrTaskIDOutOfRange the id exceeds the queue capacity.
	ErrTaskIDOutOfRange = errors.New("task id out of range")
	// ErrQueueFull no free task slot remains.
	ErrQueueFull = errors.New("task queue full")
	// ErrTaskNotFound the slot is free or holds no task account.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotTriggered the trigger predicate is not yet satisfied.
	ErrTaskNotTriggered = errors.New("task not triggered yet")
	// ErrTooManyFollowUps a task returned more follow-ups than its budget.
	ErrTooManyFollowUps = errors.New("too many free tasks")
	// ErrWrongQueueAuthority the caller may not administer this queue.
	ErrWrongQueueAuthority = errors.New("wrong queue authority")
	// ErrQueuedAtMismatch the task at the slot is not the one referenced.
	ErrQueuedAtMismatch = errors.New("task queued_at mismatch")
	// ErrDescriptionTooLong the description exceeds MaxDescriptionLen.
	ErrDescriptionTooLong = errors.New("description too long")
	// ErrCrankRewardTooLow the reward is below the queue minimum.
	ErrCrankRewardTooLow = errors.New("crank reward below queue minimum")
	// ErrTaskNotStale the task is still within its stale age.
	ErrTaskNotStale = errors.New("task not stale")
	// ErrBadRemoteSignature the remote transaction is not signed by the
	// task's bound signer.
	ErrBadRemoteSignature = errors.New("bad remote transaction signature")
	// ErrQueueNotEmpty a queue closes only once every slot is free.
	ErrQueueNotEmpty = errors.New("task queue not empty")
)

// Trigger kinds.
const (
	TriggerNow uint8 = iota
	TriggerTimestamp
	TriggerAccount
)

// Trigger the predicate the crank evaluates before running a task.
type Trigger struct {
	Kind uint8

	// Timestamp trigger: run once Timestamp has passed.
	Timestamp uint64

	// Account trigger: run while Account's body bytes [Offset, Offset+Size)
	// form a non-zero mask.
	Account hpl.Address
	Offset  uint32
	Size    uint8
}

// Transaction source kinds.
const (
	SourceCompiled uint8 = iota
	SourceRemote
)

// CompiledTransaction instructions stored verbatim in the task.
type CompiledTransaction struct {
	Instructions []runtime.Instruction
}

// RemoteTransaction a transaction fetched off-chain at run time. The crank
// supplies the compiled bytes together with the bound signer's signature
// over them.
type RemoteTransaction struct {
	URL    string
	Signer [33]byte
}

// TransactionSource a tagged union over compiled and remote sources.
type TransactionSource struct {
	Kind     uint8
	Compiled CompiledTransaction
	Remote   RemoteTransaction
}

// Task a queued triggered transaction bound to one queue slot.
type Task struct {
	TaskQueue hpl.Address
	ID        uint16

	Trigger     Trigger
	Transaction TransactionSource

	// CrankReward lamports escrowed in the queue, paid to the executing
	// crank.
	CrankReward uint64
	// FreeTasks budget of follow-up tasks this task may return.
	FreeTasks uint8
	// RentRefund receives the task rent when the slot frees.
	RentRefund  hpl.Address
	QueuedAt    uint64
	Description string
}

// TaskQueue a fixed-capacity slot bitmap plus queue-wide crank policy.
type TaskQueue struct {
	Name            string
	Authority       hpl.Address
	UpdateAuthority hpl.Address

	Capacity       uint16
	MinCrankReward uint64
	// StaleTaskAge tasks older than this may be retired back to the pool.
	StaleTaskAge uint64

	NextAvailableTaskID uint16
	TaskBitmap          []byte
}

// TaskReturn one follow-up task a running task asks to enqueue.
type TaskReturn struct {
	Trigger     Trigger
	Transaction TransactionSource
	CrankReward uint64
	FreeTasks   uint8
	Description string
}

// RunTaskReturn the decoded return data of a task transaction.
type RunTaskReturn struct {
	Tasks []TaskReturn
}

// SlotUsed reports whether the slot id is bound to a live task.
func (q *TaskQueue) SlotUsed(id uint16) bool {
	return q.TaskBitmap[id/8]&(1<<(id%8)) != 0
}

func (q *TaskQueue) setSlot(id uint16, used bool) {
	if used {
		q.TaskBitmap[id/8] |= 1 << (id % 8)
	} else {
		q.TaskBitmap[id/8] &^= 1 << (id % 8)
	}
}

// NextFreeSlot scans from the allocator cursor, wrapping once.
func (q *TaskQueue) NextFreeSlot() (uint16, bool) {
	for i := uint16(0); i < q.Capacity; i++ {
		id := (q.NextAvailableTaskID + i) % q.Capacity
		if !q.SlotUsed(id) {
			return id, true
		}
	}
	return 0, false
}

// remoteSigningHash binds a fetched transaction to one (queue, slot, task)
// incarnation so a signature cannot be replayed onto a requeued slot.
func remoteSigningHash(queue hpl.Address, id uint16, queuedAt uint64, txBytes []byte) hpl.Bytes32 {
	var idb [2]byte
	binary.LittleEndian.PutUint16(idb[:], id)
	return hpl.Blake2b([]byte("remote_tx"), queue.Bytes(), idb[:], hpl.Uint64Seed(queuedAt), txBytes)
}
