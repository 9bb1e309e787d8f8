// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package runtime implements the deterministic single-threaded transaction
// executor. Programs register native handlers; a transaction is a sequence of
// instructions executed all-or-nothing against a state checkpoint.
package runtime

import (
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/log"
	"github.com/helium/hpl/state"
)

var (
	// ErrUnknownProgram no handler is registered for the instruction's program.
	ErrUnknownProgram = errors.New("unknown program")
	// ErrInvokeDepthExceeded the cross-program invocation bound was hit.
	ErrInvokeDepthExceeded = errors.New("invoke depth exceeded")
	// ErrMissingSigner a required signer was not present on the transaction.
	ErrMissingSigner = errors.New("missing signer")
)

// Instruction a single program call within a transaction.
type Instruction struct {
	ProgramID hpl.Address
	Data      []byte
	Accounts  []hpl.Address
}

// Handler executes an instruction. The returned bytes are the program's
// return data, visible to the invoking program.
type Handler func(env *Env, ins Instruction) ([]byte, error)

// Event a typed record emitted during execution, persisted on commit.
type Event struct {
	Ts      uint64
	Epoch   uint64
	Program string
	Kind    string
	Key     hpl.Address
	Amount  uint64
}

// EventSink receives events of committed transactions.
type EventSink interface {
	Append(events []Event) error
}

// Runtime holds the program registry and the shared account state.
type Runtime struct {
	state    *state.State
	cfg      *hpl.Config
	programs map[hpl.Address]Handler
	names    map[hpl.Address]string
	sink     EventSink
	logger   interface {
		Debug(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// New creates a runtime over the given state.
func New(st *state.State, cfg *hpl.Config) *Runtime {
	return &Runtime{
		state:    st,
		cfg:      cfg,
		programs: make(map[hpl.Address]Handler),
		names:    make(map[hpl.Address]string),
		logger:   log.New("pkg", "runtime"),
	}
}

// SetEventSink attaches a sink receiving committed events.
func (rt *Runtime) SetEventSink(sink EventSink) {
	rt.sink = sink
}

// Register binds a program handler to its address.
func (rt *Runtime) Register(id hpl.Address, name string, h Handler) {
	rt.programs[id] = h
	rt.names[id] = name
}

// State exposes the underlying account state.
func (rt *Runtime) State() *state.State {
	return rt.state
}

// Config returns the active network parameters.
func (rt *Runtime) Config() *hpl.Config {
	return rt.cfg
}

// NewEnv builds an execution environment for a transaction.
func (rt *Runtime) NewEnv(now uint64, payer hpl.Address, signers []hpl.Address) *Env {
	return &Env{
		rt:      rt,
		now:     now,
		payer:   payer,
		signers: signers,
	}
}

// ExecuteTransaction runs the instructions all-or-nothing. On error the state
// is reverted to the pre-transaction checkpoint and no events are recorded.
func (rt *Runtime) ExecuteTransaction(now uint64, payer hpl.Address, signers []hpl.Address, instructions []Instruction) error {
	env := rt.NewEnv(now, payer, signers)
	checkpoint := rt.state.NewCheckpoint()

	for _, ins := range instructions {
		if _, err := env.Invoke(ins); err != nil {
			rt.state.RevertTo(checkpoint)
			return err
		}
	}
	if rt.sink != nil && len(env.events) > 0 {
		if err := rt.sink.Append(env.events); err != nil {
			// the event log is an off-ledger convenience, never a consensus input
			rt.logger.Warn("failed to append events", "err", err)
		}
	}
	return nil
}

// Env is the execution environment threaded through native handlers.
type Env struct {
	rt      *Runtime
	now     uint64
	payer   hpl.Address
	signers []hpl.Address
	depth   int
	caller  hpl.Address
	current hpl.Address
	events  []Event
}

// Now returns the transaction timestamp.
func (e *Env) Now() uint64 { return e.now }

// Epoch returns the epoch containing the transaction timestamp.
func (e *Env) Epoch() uint64 { return hpl.EpochAt(e.now) }

// Payer returns the designated rent payer.
func (e *Env) Payer() hpl.Address { return e.payer }

// Caller returns the invoking program of the current instruction, zero at
// depth 0.
func (e *Env) Caller() hpl.Address { return e.caller }

// State returns the shared account state.
func (e *Env) State() *state.State { return e.rt.state }

// Config returns the active network parameters.
func (e *Env) Config() *hpl.Config { return e.rt.cfg }

// IsSigner reports whether addr signed the transaction.
func (e *Env) IsSigner(addr hpl.Address) bool {
	for _, s := range e.signers {
		if s == addr {
			return true
		}
	}
	return false
}

// RequireSigner fails unless addr signed the transaction.
func (e *Env) RequireSigner(addr hpl.Address) error {
	if !e.IsSigner(addr) {
		return errors.Wrapf(ErrMissingSigner, "%s", addr.AbbrevString())
	}
	return nil
}

// Invoke dispatches an instruction to its registered program, tracking the
// invocation depth.
func (e *Env) Invoke(ins Instruction) ([]byte, error) {
	if e.depth >= hpl.MaxInvokeDepth {
		return nil, ErrInvokeDepthExceeded
	}
	handler, ok := e.rt.programs[ins.ProgramID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownProgram, "%s", ins.ProgramID.AbbrevString())
	}

	prevCaller, prevCurrent := e.caller, e.current
	e.caller = e.current
	e.current = ins.ProgramID
	e.depth++
	defer func() {
		e.depth--
		e.caller = prevCaller
		e.current = prevCurrent
	}()

	return handler(e, ins)
}

// Emit records an event for the current transaction.
func (e *Env) Emit(ev Event) {
	ev.Ts = e.now
	ev.Epoch = hpl.EpochAt(e.now)
	e.events = append(e.events, ev)
}
