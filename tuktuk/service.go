// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package tuktuk

import (
	"encoding/binary"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/near/borsh-go"
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/runtime"
	"github.com/helium/hpl/state"
)

const (
	queueAccountName = "TaskQueueV0"
	taskAccountName  = "TaskV0"
)

// Service operates task queues against the runtime.
type Service struct {
	state *state.State
	rt    *runtime.Runtime
}

// New creates the task queue service.
func New(st *state.State, rt *runtime.Runtime) *Service {
	return &Service{state: st, rt: rt}
}

// QueueKey derives the queue account address from its name.
func QueueKey(name string) hpl.Address {
	return hpl.DeriveAddress([]byte("task_queue"), []byte(name))
}

// TaskKey derives a task slot's account address.
func TaskKey(queue hpl.Address, id uint16) hpl.Address {
	var idb [2]byte
	binary.LittleEndian.PutUint16(idb[:], id)
	return hpl.DeriveAddress([]byte("task"), queue.Bytes(), idb[:])
}

// InitQueue creates a task queue with an all-free slot bitmap.
func (s *Service) InitQueue(q TaskQueue, payer hpl.Address) (hpl.Address, error) {
	key := QueueKey(q.Name)
	q.NextAvailableTaskID = 0
	q.TaskBitmap = make([]byte, (int(q.Capacity)+7)/8)
	return key, s.state.InitAccount(key, queueAccountName, q, payer)
}

// GetQueue loads a task queue.
func (s *Service) GetQueue(key hpl.Address) (*TaskQueue, error) {
	var q TaskQueue
	if err := s.state.DecodeAccount(key, queueAccountName, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Service) saveQueue(key hpl.Address, q *TaskQueue) error {
	return s.state.EncodeAccount(key, queueAccountName, *q)
}

// CloseQueue removes an empty queue, refunding its rent and any leftover
// reward escrow.
func (s *Service) CloseQueue(key, authority, refundTo hpl.Address) error {
	q, err := s.GetQueue(key)
	if err != nil {
		return err
	}
	if authority != q.UpdateAuthority {
		return errors.Wrapf(ErrWrongQueueAuthority, "%s", authority.AbbrevString())
	}
	for _, b := range q.TaskBitmap {
		if b != 0 {
			return errors.Wrapf(ErrQueueNotEmpty, "queue %q", q.Name)
		}
	}
	return s.state.CloseAccount(key, refundTo)
}

// GetTask loads the task bound to a slot.
func (s *Service) GetTask(queue hpl.Address, id uint16) (*Task, error) {
	var t Task
	if err := s.state.DecodeAccount(TaskKey(queue, id), taskAccountName, &t); err != nil {
		if errors.Is(err, state.ErrAccountNotFound) {
			return nil, errors.Wrapf(ErrTaskNotFound, "queue %s id %d", queue.AbbrevString(), id)
		}
		return nil, err
	}
	return &t, nil
}

// QueueTask binds a task to the caller-chosen slot. The payer funds the task
// rent and escrows the crank reward in the queue account. A zero reward
// inherits the queue minimum.
func (s *Service) QueueTask(queueKey hpl.Address, t Task, now uint64, payer hpl.Address) (uint16, error) {
	q, err := s.GetQueue(queueKey)
	if err != nil {
		return 0, err
	}
	id, err := s.queueTask(queueKey, q, t, now, payer)
	if err != nil {
		return 0, err
	}
	return id, s.saveQueue(queueKey, q)
}

func (s *Service) queueTask(queueKey hpl.Address, q *TaskQueue, t Task, now uint64, payer hpl.Address) (uint16, error) {
	if len(t.Description) > MaxDescriptionLen {
		return 0, errors.Wrapf(ErrDescriptionTooLong, "%d chars", len(t.Description))
	}
	if t.ID >= q.Capacity {
		return 0, errors.Wrapf(ErrTaskIDOutOfRange, "id %d capacity %d", t.ID, q.Capacity)
	}
	if q.SlotUsed(t.ID) {
		return 0, errors.Wrapf(ErrTaskSlotOccupied, "id %d", t.ID)
	}
	if t.CrankReward == 0 {
		t.CrankReward = q.MinCrankReward
	}
	if t.CrankReward < q.MinCrankReward {
		return 0, errors.Wrapf(ErrCrankRewardTooLow, "%d < %d", t.CrankReward, q.MinCrankReward)
	}

	t.TaskQueue = queueKey
	t.QueuedAt = now
	if t.RentRefund.IsZero() {
		t.RentRefund = payer
	}
	if err := s.state.InitAccount(TaskKey(queueKey, t.ID), taskAccountName, t, payer); err != nil {
		return 0, err
	}
	if t.CrankReward > 0 {
		if err := s.state.TransferLamports(payer, queueKey, t.CrankReward); err != nil {
			return 0, err
		}
	}

	q.setSlot(t.ID, true)
	if next, ok := q.NextFreeSlot(); ok {
		q.NextAvailableTaskID = next
	}
	return t.ID, nil
}

// DequeueTask cancels a task from the queue's update authority, refunding its
// rent and escrowed reward.
func (s *Service) DequeueTask(queueKey hpl.Address, id uint16, authority hpl.Address) error {
	q, err := s.GetQueue(queueKey)
	if err != nil {
		return err
	}
	if authority != q.UpdateAuthority {
		return errors.Wrapf(ErrWrongQueueAuthority, "%s", authority.AbbrevString())
	}
	if id >= q.Capacity || !q.SlotUsed(id) {
		return errors.Wrapf(ErrTaskNotFound, "id %d", id)
	}
	t, err := s.GetTask(queueKey, id)
	if err != nil {
		return err
	}
	return s.removeTask(queueKey, q, t, t.RentRefund)
}

// removeTask frees the slot and returns the task rent plus reward escrow.
func (s *Service) removeTask(queueKey hpl.Address, q *TaskQueue, t *Task, rewardTo hpl.Address) error {
	if err := s.state.CloseAccount(TaskKey(queueKey, t.ID), t.RentRefund); err != nil {
		return err
	}
	if t.CrankReward > 0 {
		if err := s.state.TransferLamports(queueKey, rewardTo, t.CrankReward); err != nil {
			return err
		}
	}
	q.setSlot(t.ID, false)
	if t.ID < q.NextAvailableTaskID {
		q.NextAvailableTaskID = t.ID
	}
	return s.saveQueue(queueKey, q)
}

// triggered evaluates the task's trigger at now.
func (s *Service) triggered(t *Task, now uint64) (bool, error) {
	switch t.Trigger.Kind {
	case TriggerNow:
		return true, nil
	case TriggerTimestamp:
		return now >= t.Trigger.Timestamp, nil
	case TriggerAccount:
		data, err := s.state.AccountData(t.Trigger.Account)
		if err != nil {
			return false, err
		}
		lo := int(t.Trigger.Offset)
		hi := lo + int(t.Trigger.Size)
		if hi > len(data) {
			return false, nil
		}
		for _, b := range data[lo:hi] {
			if b != 0 {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, errors.Errorf("unknown trigger kind %d", t.Trigger.Kind)
	}
}

// instructions resolves the task's transaction into executable instructions.
// Remote sources take the crank-fetched bytes, checked against the bound
// signer.
func (t *Task) instructions(remoteTx, remoteSig []byte) ([]runtime.Instruction, error) {
	switch t.Transaction.Kind {
	case SourceCompiled:
		return t.Transaction.Compiled.Instructions, nil
	case SourceRemote:
		pub, err := secp256k1.ParsePubKey(t.Transaction.Remote.Signer[:])
		if err != nil {
			return nil, errors.Wrap(err, "remote signer pubkey")
		}
		sig, err := secpecdsa.ParseDERSignature(remoteSig)
		if err != nil {
			return nil, errors.Wrap(err, "remote signature")
		}
		hash := remoteSigningHash(t.TaskQueue, t.ID, t.QueuedAt, remoteTx)
		if !sig.Verify(hash.Bytes(), pub) {
			return nil, errors.Wrapf(ErrBadRemoteSignature, "task %d", t.ID)
		}
		var compiled CompiledTransaction
		if err := borsh.Deserialize(&compiled, remoteTx); err != nil {
			return nil, errors.Wrap(err, "decode remote transaction")
		}
		return compiled.Instructions, nil
	default:
		return nil, errors.Errorf("unknown transaction source %d", t.Transaction.Kind)
	}
}

// RunTask executes a triggered task under the queue authority and pays the
// crank. queuedAt pins the exact task incarnation the crank observed; a slot
// requeued since then fails with ErrQueuedAtMismatch. On execution failure
// all effects revert and the task stays queued. The follow-up tasks returned
// by the transaction are enqueued against the task's free-task budget, their
// rent and rewards funded from the queue escrow. Returns the follow-up ids.
func (s *Service) RunTask(queueKey hpl.Address, id uint16, queuedAt, now uint64, crank hpl.Address, remoteTx, remoteSig []byte) ([]uint16, error) {
	q, err := s.GetQueue(queueKey)
	if err != nil {
		return nil, err
	}
	if id >= q.Capacity || !q.SlotUsed(id) {
		return nil, errors.Wrapf(ErrTaskNotFound, "id %d", id)
	}
	t, err := s.GetTask(queueKey, id)
	if err != nil {
		return nil, err
	}
	if t.QueuedAt != queuedAt {
		return nil, errors.Wrapf(ErrQueuedAtMismatch, "have %d want %d", t.QueuedAt, queuedAt)
	}
	ok, err := s.triggered(t, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrTaskNotTriggered, "id %d", id)
	}
	instructions, err := t.instructions(remoteTx, remoteSig)
	if err != nil {
		return nil, err
	}

	checkpoint := s.state.NewCheckpoint()
	env := s.rt.NewEnv(now, queueKey, []hpl.Address{q.Authority})

	var ret RunTaskReturn
	for _, ins := range instructions {
		out, err := env.Invoke(ins)
		if err != nil {
			s.state.RevertTo(checkpoint)
			return nil, err
		}
		// the final instruction's return data declares the follow-ups
		if len(out) > 0 {
			ret = RunTaskReturn{}
			if err := borsh.Deserialize(&ret, out); err != nil {
				s.state.RevertTo(checkpoint)
				return nil, errors.Wrap(err, "decode task return")
			}
		}
	}
	if len(ret.Tasks) > int(t.FreeTasks) {
		s.state.RevertTo(checkpoint)
		return nil, errors.Wrapf(ErrTooManyFollowUps, "%d > budget %d", len(ret.Tasks), t.FreeTasks)
	}

	if err := s.removeTask(queueKey, q, t, crank); err != nil {
		s.state.RevertTo(checkpoint)
		return nil, err
	}

	ids := make([]uint16, 0, len(ret.Tasks))
	for _, next := range ret.Tasks {
		slot, found := q.NextFreeSlot()
		if !found {
			s.state.RevertTo(checkpoint)
			return nil, errors.Wrapf(ErrQueueFull, "queue %q", q.Name)
		}
		followUp := Task{
			ID:          slot,
			Trigger:     next.Trigger,
			Transaction: next.Transaction,
			CrankReward: next.CrankReward,
			FreeTasks:   next.FreeTasks,
			RentRefund:  t.RentRefund,
			Description: next.Description,
		}
		if _, err := s.queueTask(queueKey, q, followUp, now, queueKey); err != nil {
			s.state.RevertTo(checkpoint)
			return nil, err
		}
		ids = append(ids, slot)
	}
	if err := s.saveQueue(queueKey, q); err != nil {
		s.state.RevertTo(checkpoint)
		return nil, err
	}
	return ids, nil
}

// RetireStaleTask frees a slot whose task outlived the queue's stale age.
// Rent returns to the task's refund account; the reward escrow pays the
// caller for the cleanup crank.
func (s *Service) RetireStaleTask(queueKey hpl.Address, id uint16, now uint64, crank hpl.Address) error {
	q, err := s.GetQueue(queueKey)
	if err != nil {
		return err
	}
	if id >= q.Capacity || !q.SlotUsed(id) {
		return errors.Wrapf(ErrTaskNotFound, "id %d", id)
	}
	t, err := s.GetTask(queueKey, id)
	if err != nil {
		return err
	}
	if q.StaleTaskAge == 0 || now < t.QueuedAt+q.StaleTaskAge {
		return errors.Wrapf(ErrTaskNotStale, "queued at %d", t.QueuedAt)
	}
	return s.removeTask(queueKey, q, t, crank)
}
