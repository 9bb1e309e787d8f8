// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cron

import (
	"github.com/near/borsh-go"
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/runtime"
	"github.com/helium/hpl/state"
	"github.com/helium/hpl/tuktuk"
)

const jobAccountName = "CronJobV0"

// ProgramID the registered address of the cron job program.
var ProgramID = hpl.DeriveAddress([]byte("program"), []byte("cron"))

var (
	// ErrWrongAuthority the caller may not administer this job.
	ErrWrongAuthority = errors.New("wrong cron job authority")
	// ErrJobTaskMissing no live task carries the job's marker.
	ErrJobTaskMissing = errors.New("cron job task missing")
)

// CronJob a recurring job: every schedule occurrence the body transaction
// runs and the next occurrence is re-enqueued.
type CronJob struct {
	Name      string
	Authority hpl.Address
	TaskQueue hpl.Address
	Schedule  string

	// Transaction the body executed at each occurrence.
	Transaction tuktuk.TransactionSource
	// FreeTasksPerTransaction extra follow-up budget granted to the body.
	FreeTasksPerTransaction uint8

	// NextScheduleTs the trigger time of the pending occurrence.
	NextScheduleTs uint64
	RentRefund     hpl.Address
}

// JobKey derives the job account address from its name.
func JobKey(name string) hpl.Address {
	return hpl.DeriveAddress([]byte("cron_job"), []byte(name))
}

func jobMarker(name string) string {
	marker := "cron:" + name
	if len(marker) > tuktuk.MaxDescriptionLen {
		marker = marker[:tuktuk.MaxDescriptionLen]
	}
	return marker
}

// Service maintains cron jobs and serves as their task body program.
type Service struct {
	state *state.State
	tasks *tuktuk.Service
}

// New creates the cron job service.
func New(st *state.State, tasks *tuktuk.Service) *Service {
	return &Service{state: st, tasks: tasks}
}

// Register binds the cron program handler. Task transactions reference it
// with the job key as the sole account.
func (s *Service) Register(rt *runtime.Runtime) {
	rt.Register(ProgramID, "cron", s.handleRun)
}

// GetJob loads a cron job.
func (s *Service) GetJob(key hpl.Address) (*CronJob, error) {
	var job CronJob
	if err := s.state.DecodeAccount(key, jobAccountName, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Service) saveJob(key hpl.Address, job *CronJob) error {
	return s.state.EncodeAccount(key, jobAccountName, *job)
}

// jobInstruction builds the task transaction invoking the cron program for
// the job.
func jobInstruction(jobKey hpl.Address) tuktuk.TransactionSource {
	return tuktuk.TransactionSource{
		Kind: tuktuk.SourceCompiled,
		Compiled: tuktuk.CompiledTransaction{
			Instructions: []runtime.Instruction{{
				ProgramID: ProgramID,
				Accounts:  []hpl.Address{jobKey},
			}},
		},
	}
}

// InitializeJob persists the job and queues its first occurrence.
func (s *Service) InitializeJob(job CronJob, now uint64, payer hpl.Address) (hpl.Address, error) {
	next, err := NextTime(job.Schedule, now)
	if err != nil {
		return hpl.Address{}, err
	}
	key := JobKey(job.Name)
	job.NextScheduleTs = next
	if job.RentRefund.IsZero() {
		job.RentRefund = payer
	}
	if err := s.state.InitAccount(key, jobAccountName, job, payer); err != nil {
		return hpl.Address{}, err
	}
	if err := s.queueOccurrence(key, &job, next, now, payer); err != nil {
		return hpl.Address{}, err
	}
	return key, s.saveJob(key, &job)
}

func (s *Service) queueOccurrence(jobKey hpl.Address, job *CronJob, at, now uint64, payer hpl.Address) error {
	q, err := s.tasks.GetQueue(job.TaskQueue)
	if err != nil {
		return err
	}
	slot, ok := q.NextFreeSlot()
	if !ok {
		return errors.Wrapf(tuktuk.ErrQueueFull, "job %q", job.Name)
	}
	_, err = s.tasks.QueueTask(job.TaskQueue, tuktuk.Task{
		ID:          slot,
		Trigger:     tuktuk.Trigger{Kind: tuktuk.TriggerTimestamp, Timestamp: at},
		Transaction: jobInstruction(jobKey),
		FreeTasks:   1 + job.FreeTasksPerTransaction,
		RentRefund:  job.RentRefund,
		Description: jobMarker(job.Name),
	}, now, payer)
	return err
}

// findJobTask locates the live task carrying the job's marker.
func (s *Service) findJobTask(job *CronJob) (*tuktuk.Task, error) {
	q, err := s.tasks.GetQueue(job.TaskQueue)
	if err != nil {
		return nil, err
	}
	marker := jobMarker(job.Name)
	for id := uint16(0); id < q.Capacity; id++ {
		if !q.SlotUsed(id) {
			continue
		}
		t, err := s.tasks.GetTask(job.TaskQueue, id)
		if err != nil {
			return nil, err
		}
		if t.Description == marker {
			return t, nil
		}
	}
	return nil, errors.Wrapf(ErrJobTaskMissing, "job %q", job.Name)
}

// UpdateSchedule replaces the job's schedule, moving the pending occurrence.
func (s *Service) UpdateSchedule(jobKey hpl.Address, schedule string, authority hpl.Address, now uint64, payer hpl.Address) error {
	job, err := s.GetJob(jobKey)
	if err != nil {
		return err
	}
	if authority != job.Authority {
		return errors.Wrapf(ErrWrongAuthority, "%s", authority.AbbrevString())
	}
	next, err := NextTime(schedule, now)
	if err != nil {
		return err
	}
	if err := s.dequeuePending(job); err != nil {
		return err
	}
	job.Schedule = schedule
	job.NextScheduleTs = next
	if err := s.queueOccurrence(jobKey, job, next, now, payer); err != nil {
		return err
	}
	return s.saveJob(jobKey, job)
}

// CloseJob cancels the pending occurrence and closes the job account.
func (s *Service) CloseJob(jobKey hpl.Address, authority, refundTo hpl.Address) error {
	job, err := s.GetJob(jobKey)
	if err != nil {
		return err
	}
	if authority != job.Authority {
		return errors.Wrapf(ErrWrongAuthority, "%s", authority.AbbrevString())
	}
	if err := s.dequeuePending(job); err != nil {
		return err
	}
	return s.state.CloseAccount(jobKey, refundTo)
}

// dequeuePending cancels the job's live task if one is queued.
func (s *Service) dequeuePending(job *CronJob) error {
	t, err := s.findJobTask(job)
	if errors.Is(err, ErrJobTaskMissing) {
		return nil
	}
	if err != nil {
		return err
	}
	q, err := s.tasks.GetQueue(job.TaskQueue)
	if err != nil {
		return err
	}
	return s.tasks.DequeueTask(job.TaskQueue, t.ID, q.UpdateAuthority)
}

// handleRun is the task body: run the job transaction, then hand back the
// next occurrence as a follow-up task.
func (s *Service) handleRun(env *runtime.Env, ins runtime.Instruction) ([]byte, error) {
	if len(ins.Accounts) != 1 {
		return nil, errors.New("cron run takes the job account")
	}
	jobKey := ins.Accounts[0]
	job, err := s.GetJob(jobKey)
	if err != nil {
		return nil, err
	}

	if job.Transaction.Kind == tuktuk.SourceCompiled {
		for _, inner := range job.Transaction.Compiled.Instructions {
			if _, err := env.Invoke(inner); err != nil {
				return nil, err
			}
		}
	}

	next, err := NextTime(job.Schedule, env.Now())
	if err != nil {
		return nil, err
	}
	job.NextScheduleTs = next
	if err := s.saveJob(jobKey, job); err != nil {
		return nil, err
	}

	return borsh.Serialize(tuktuk.RunTaskReturn{
		Tasks: []tuktuk.TaskReturn{{
			Trigger:     tuktuk.Trigger{Kind: tuktuk.TriggerTimestamp, Timestamp: next},
			Transaction: jobInstruction(jobKey),
			FreeTasks:   1 + job.FreeTasksPerTransaction,
			Description: jobMarker(job.Name),
		}},
	})
}
