// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package circuitbreaker rate-limits mint and transfer primitives with a
// sliding-window absolute or percentage cap.
package circuitbreaker

import (
	"github.com/pkg/errors"

	"github.com/helium/hpl/builtin/token"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const (
	mintBreakerName    = "MintWindowedCircuitBreaker"
	accountBreakerName = "AccountWindowedCircuitBreaker"
)

// Threshold types.
const (
	ThresholdAbsolute uint8 = iota
	ThresholdPercent
)

var (
	// ErrCircuitBreakerTripped the sliding window would be exceeded.
	ErrCircuitBreakerTripped = errors.New("circuit breaker tripped")
	// ErrWrongAuthority the caller does not own the breaker.
	ErrWrongAuthority = errors.New("wrong circuit breaker authority")
)

// WindowedConfig the cap configuration of a breaker.
type WindowedConfig struct {
	WindowSizeSeconds uint64
	ThresholdType     uint8
	// Threshold is an absolute amount, or a share of supply/balance in
	// 10^-9 units when ThresholdType is percent.
	Threshold uint64
}

// Window the decaying usage aggregate.
type Window struct {
	LastAggregatedValue uint64
	LastUnixTimestamp   uint64
}

// Breaker the persisted breaker account guarding one mint or token account.
type Breaker struct {
	Guarded   hpl.Address // mint or token account
	Authority hpl.Address
	Config    WindowedConfig
	Window    Window
}

// Service exposes breaker-guarded token operations.
type Service struct {
	state  *state.State
	tokens *token.Service
}

// New creates the circuit breaker service.
func New(st *state.State, tokens *token.Service) *Service {
	return &Service{state: st, tokens: tokens}
}

// MintBreakerKey derives the breaker address guarding a mint.
func MintBreakerKey(mint hpl.Address) hpl.Address {
	return hpl.DeriveAddress([]byte("mint_windowed_breaker"), mint.Bytes())
}

// AccountBreakerKey derives the breaker address guarding a token account.
func AccountBreakerKey(account hpl.Address) hpl.Address {
	return hpl.DeriveAddress([]byte("account_windowed_breaker"), account.Bytes())
}

// InitMintBreaker installs a breaker over a mint.
func (s *Service) InitMintBreaker(mint hpl.Address, cfg WindowedConfig, authority, payer hpl.Address) error {
	b := Breaker{Guarded: mint, Authority: authority, Config: cfg}
	return s.state.InitAccount(MintBreakerKey(mint), mintBreakerName, b, payer)
}

// InitAccountBreaker installs a breaker over a token account.
func (s *Service) InitAccountBreaker(account hpl.Address, cfg WindowedConfig, authority, payer hpl.Address) error {
	b := Breaker{Guarded: account, Authority: authority, Config: cfg}
	return s.state.InitAccount(AccountBreakerKey(account), accountBreakerName, b, payer)
}

// advance decays the aggregate linearly over the window and adds amount.
// Returns the new aggregate or ErrCircuitBreakerTripped.
func advance(b *Breaker, now, amount, limitBase uint64) (uint64, error) {
	w := b.Config.WindowSizeSeconds
	prev := uint64(0)
	if b.Window.LastUnixTimestamp+w > now {
		remaining := b.Window.LastUnixTimestamp + w - now
		prev = mulDiv(b.Window.LastAggregatedValue, remaining, w)
	}

	agg := prev + amount
	if agg < prev {
		return 0, errors.New("window aggregate overflow")
	}

	limit := b.Config.Threshold
	if b.Config.ThresholdType == ThresholdPercent {
		limit = mulDiv(limitBase, b.Config.Threshold, hpl.ScaleFactorBase)
	}
	if agg > limit {
		return 0, errors.Wrapf(ErrCircuitBreakerTripped, "aggregate %d over limit %d", agg, limit)
	}
	return agg, nil
}

func mulDiv(a, b, den uint64) uint64 {
	// intermediate held in 128 bits via big-free split; values here fit u64
	// products only in the common case, so do the division first when safe.
	hi := a / den
	lo := a % den
	return hi*b + lo*b/den
}

// MintV0 mints through the breaker guarding the mint.
func (s *Service) MintV0(now uint64, mint, dest hpl.Address, amount uint64) error {
	key := MintBreakerKey(mint)
	var b Breaker
	if err := s.state.DecodeAccount(key, mintBreakerName, &b); err != nil {
		return err
	}
	m, err := s.tokens.GetMint(mint)
	if err != nil {
		return err
	}
	agg, err := advance(&b, now, amount, m.Supply)
	if err != nil {
		return err
	}
	b.Window = Window{LastAggregatedValue: agg, LastUnixTimestamp: now}
	if err := s.state.EncodeAccount(key, mintBreakerName, b); err != nil {
		return err
	}
	return s.tokens.MintTo(mint, dest, amount)
}

// TransferV0 transfers out of a breaker-guarded token account.
func (s *Service) TransferV0(now uint64, from, to hpl.Address, amount uint64) error {
	key := AccountBreakerKey(from)
	var b Breaker
	if err := s.state.DecodeAccount(key, accountBreakerName, &b); err != nil {
		return err
	}
	balance, err := s.tokens.Balance(from)
	if err != nil {
		return err
	}
	agg, err := advance(&b, now, amount, balance)
	if err != nil {
		return err
	}
	b.Window = Window{LastAggregatedValue: agg, LastUnixTimestamp: now}
	if err := s.state.EncodeAccount(key, accountBreakerName, b); err != nil {
		return err
	}
	return s.tokens.Transfer(from, to, amount)
}
