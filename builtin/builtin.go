// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package builtin binds the native programs. Program addresses derive from
// canonical seeds; instruction data is a tag byte followed by a Borsh payload.
package builtin

import (
	"github.com/near/borsh-go"
	"github.com/pkg/errors"

	"github.com/helium/hpl/builtin/circuitbreaker"
	"github.com/helium/hpl/builtin/dao"
	"github.com/helium/hpl/builtin/delegation"
	"github.com/helium/hpl/builtin/govern"
	"github.com/helium/hpl/builtin/positions"
	"github.com/helium/hpl/builtin/pricefeed"
	"github.com/helium/hpl/builtin/subdao"
	"github.com/helium/hpl/builtin/token"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/runtime"
	"github.com/helium/hpl/state"
	"github.com/helium/hpl/tuktuk"
	"github.com/helium/hpl/tuktuk/cron"
)

// Registered program addresses. The cron program id lives in tuktuk/cron.
var (
	DelegationProgram  = hpl.DeriveAddress([]byte("program"), []byte("delegation"))
	DaoProgram         = hpl.DeriveAddress([]byte("program"), []byte("dao"))
	DcaProgram         = hpl.DeriveAddress([]byte("program"), []byte("dca"))
	TopOffProgram      = hpl.DeriveAddress([]byte("program"), []byte("top_off"))
	FanoutProgram      = hpl.DeriveAddress([]byte("program"), []byte("fanout"))
	ClaimBotProgram    = hpl.DeriveAddress([]byte("program"), []byte("claim_bot"))
	EpochCloserProgram = hpl.DeriveAddress([]byte("program"), []byte("epoch_closer"))
)

var ErrBadInstruction = errors.New("malformed instruction")

// Delegation instruction tags.
const (
	TagDelegate uint8 = iota
	TagCloseDelegation
	TagChangeDelegation
	TagClaimRewards
)

// Dao instruction tags.
const (
	TagCalculateUtilityScore uint8 = iota
	TagIssueRewards
	TagIssueHstPool
)

// Dca instruction tags.
const (
	TagDcaLend uint8 = iota
	TagDcaCheckRepay
)

type DelegateArgs struct {
	Mint        hpl.Address
	SubDao      hpl.Address
	ProxyConfig hpl.Address
}

type PositionArgs struct {
	Mint hpl.Address
}

type ChangeDelegationArgs struct {
	Mint      hpl.Address
	NewSubDao hpl.Address
}

type ClaimRewardsArgs struct {
	Mint        hpl.Address
	Destination hpl.Address
	Epoch       uint64
}

type EpochStageArgs struct {
	Dao    hpl.Address
	SubDao hpl.Address
	Epoch  uint64
}

type HstPoolArgs struct {
	Dao   hpl.Address
	Epoch uint64
}

// Programs is the full native-program binding over one shared state.
type Programs struct {
	Positions  *positions.Service
	SubDaos    *subdao.Service
	Tokens     *token.Service
	Breaker    *circuitbreaker.Service
	Delegation *delegation.Service
	Daos       *dao.Service
	Feeds      *pricefeed.Service
	Govern     *govern.Service

	Tasks       *tuktuk.Service
	Cron        *cron.Service
	Dca         *cron.DcaService
	TopOff      *cron.TopOffService
	Fanout      *cron.FanoutService
	ClaimBot    *cron.ClaimBotService
	EpochCloser *cron.EpochCloserService
}

// New constructs every service over the shared state and registers the
// program handlers on the runtime.
func New(st *state.State, cfg *hpl.Config, rt *runtime.Runtime) *Programs {
	pos := positions.New(st)
	subs := subdao.New(st)
	toks := token.New(st)
	brk := circuitbreaker.New(st, toks)
	dels := delegation.New(st, pos, subs, toks)
	daos := dao.New(st, cfg, subs, brk)
	feeds := pricefeed.New(st, cfg)
	tasks := tuktuk.New(st, rt)

	p := &Programs{
		Positions:  pos,
		SubDaos:    subs,
		Tokens:     toks,
		Breaker:    brk,
		Delegation: dels,
		Daos:       daos,
		Feeds:      feeds,
		Govern:     govern.New(st, pos),

		Tasks:       tasks,
		Cron:        cron.New(st, tasks),
		Dca:         cron.NewDca(st, toks, feeds),
		TopOff:      cron.NewTopOff(st, toks),
		Fanout:      cron.NewFanout(st, toks),
		ClaimBot:    cron.NewClaimBot(st, dels),
		EpochCloser: cron.NewEpochCloser(st, daos),
	}
	p.register(rt)
	return p
}

func (p *Programs) register(rt *runtime.Runtime) {
	p.Cron.Register(rt)
	rt.Register(DelegationProgram, "delegation", p.handleDelegation)
	rt.Register(DaoProgram, "dao", p.handleDao)
	rt.Register(DcaProgram, "dca", p.handleDca)
	rt.Register(TopOffProgram, "top_off", p.handleTopOff)
	rt.Register(FanoutProgram, "fanout", p.handleFanout)
	rt.Register(ClaimBotProgram, "claim_bot", p.handleClaimBot)
	rt.Register(EpochCloserProgram, "epoch_closer", p.handleEpochCloser)
}

func splitTag(data []byte) (uint8, []byte, error) {
	if len(data) == 0 {
		return 0, nil, ErrBadInstruction
	}
	return data[0], data[1:], nil
}

func (p *Programs) handleDelegation(env *runtime.Env, ins runtime.Instruction) ([]byte, error) {
	tag, payload, err := splitTag(ins.Data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagDelegate:
		var args DelegateArgs
		if err := borsh.Deserialize(&args, payload); err != nil {
			return nil, errors.Wrap(ErrBadInstruction, err.Error())
		}
		return nil, p.Delegation.Delegate(args.Mint, args.SubDao, args.ProxyConfig, env.Now(), env.Payer())
	case TagCloseDelegation:
		var args PositionArgs
		if err := borsh.Deserialize(&args, payload); err != nil {
			return nil, errors.Wrap(ErrBadInstruction, err.Error())
		}
		return nil, p.Delegation.CloseDelegation(args.Mint, env.Now(), env.Payer())
	case TagChangeDelegation:
		var args ChangeDelegationArgs
		if err := borsh.Deserialize(&args, payload); err != nil {
			return nil, errors.Wrap(ErrBadInstruction, err.Error())
		}
		return nil, p.Delegation.ChangeDelegation(args.Mint, args.NewSubDao, env.Now(), env.Payer())
	case TagClaimRewards:
		var args ClaimRewardsArgs
		if err := borsh.Deserialize(&args, payload); err != nil {
			return nil, errors.Wrap(ErrBadInstruction, err.Error())
		}
		amount, err := p.Delegation.ClaimRewards(args.Mint, args.Destination, args.Epoch, env.Now())
		if err != nil {
			return nil, err
		}
		env.Emit(runtime.Event{Program: "delegation", Kind: "claim", Key: args.Mint, Amount: amount})
		return borsh.Serialize(amount)
	}
	return nil, ErrBadInstruction
}

func (p *Programs) handleDao(env *runtime.Env, ins runtime.Instruction) ([]byte, error) {
	tag, payload, err := splitTag(ins.Data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagCalculateUtilityScore:
		var args EpochStageArgs
		if err := borsh.Deserialize(&args, payload); err != nil {
			return nil, errors.Wrap(ErrBadInstruction, err.Error())
		}
		return nil, p.Daos.CalculateUtilityScore(args.Dao, args.SubDao, args.Epoch, env.Now(), env.Payer())
	case TagIssueRewards:
		var args EpochStageArgs
		if err := borsh.Deserialize(&args, payload); err != nil {
			return nil, errors.Wrap(ErrBadInstruction, err.Error())
		}
		if err := p.Daos.IssueRewards(args.Dao, args.SubDao, args.Epoch, env.Now(), env.Payer()); err != nil {
			return nil, err
		}
		env.Emit(runtime.Event{Program: "dao", Kind: "rewards_issued", Key: args.SubDao})
		return nil, nil
	case TagIssueHstPool:
		var args HstPoolArgs
		if err := borsh.Deserialize(&args, payload); err != nil {
			return nil, errors.Wrap(ErrBadInstruction, err.Error())
		}
		if err := p.Daos.IssueHstPool(args.Dao, args.Epoch, env.Now(), env.Payer()); err != nil {
			return nil, err
		}
		env.Emit(runtime.Event{Program: "dao", Kind: "hst_pool_issued", Key: args.Dao})
		return nil, nil
	}
	return nil, ErrBadInstruction
}

func singleAccount(ins runtime.Instruction) (hpl.Address, error) {
	if len(ins.Accounts) != 1 {
		return hpl.Address{}, ErrBadInstruction
	}
	return ins.Accounts[0], nil
}

func (p *Programs) handleDca(env *runtime.Env, ins runtime.Instruction) ([]byte, error) {
	key, err := singleAccount(ins)
	if err != nil {
		return nil, err
	}
	tag, _, err := splitTag(ins.Data)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagDcaLend:
		return nil, p.Dca.Lend(key, env.Now())
	case TagDcaCheckRepay:
		closed, err := p.Dca.CheckRepay(key, env.Now())
		if err != nil {
			return nil, err
		}
		if closed {
			env.Emit(runtime.Event{Program: "dca", Kind: "completed", Key: key})
		}
		return nil, nil
	}
	return nil, ErrBadInstruction
}

func (p *Programs) handleTopOff(env *runtime.Env, ins runtime.Instruction) ([]byte, error) {
	key, err := singleAccount(ins)
	if err != nil {
		return nil, err
	}
	moved, err := p.TopOff.Run(key)
	if err != nil {
		return nil, err
	}
	if moved > 0 {
		env.Emit(runtime.Event{Program: "top_off", Kind: "topped_off", Key: key, Amount: moved})
	}
	return nil, nil
}

func (p *Programs) handleFanout(env *runtime.Env, ins runtime.Instruction) ([]byte, error) {
	key, err := singleAccount(ins)
	if err != nil {
		return nil, err
	}
	moved, err := p.Fanout.Distribute(key)
	if err != nil {
		return nil, err
	}
	if moved > 0 {
		env.Emit(runtime.Event{Program: "fanout", Kind: "distributed", Key: key, Amount: moved})
	}
	return nil, nil
}

func (p *Programs) handleClaimBot(env *runtime.Env, ins runtime.Instruction) ([]byte, error) {
	key, err := singleAccount(ins)
	if err != nil {
		return nil, err
	}
	total, epochs, err := p.ClaimBot.Run(key, env.Now())
	if err != nil {
		return nil, err
	}
	if epochs > 0 {
		env.Emit(runtime.Event{Program: "claim_bot", Kind: "claimed", Key: key, Amount: total})
	}
	return nil, nil
}

func (p *Programs) handleEpochCloser(env *runtime.Env, ins runtime.Instruction) ([]byte, error) {
	key, err := singleAccount(ins)
	if err != nil {
		return nil, err
	}
	if err := p.EpochCloser.Run(key, env.Now(), env.Payer()); err != nil {
		return nil, err
	}
	env.Emit(runtime.Event{Program: "epoch_closer", Kind: "swept", Key: key})
	return nil, nil
}
