// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cron

import (
	"github.com/pkg/errors"

	"github.com/helium/hpl/builtin/token"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const topOffAccountName = "TopOffV0"

// TopOff keeps a monitored token account above a floor by pulling from a
// funding source on a schedule.
type TopOff struct {
	Authority hpl.Address
	// Monitored the account kept topped up.
	Monitored hpl.Address
	// Source funds the top-ups.
	Source hpl.Address

	Threshold    uint64
	TopOffAmount uint64
	Schedule     string
	RentRefund   hpl.Address
}

// TopOffKey derives the top-off account address from the monitored account.
func TopOffKey(monitored hpl.Address) hpl.Address {
	return hpl.DeriveAddress([]byte("top_off"), monitored.Bytes())
}

// TopOffService runs auto-top-off jobs.
type TopOffService struct {
	state  *state.State
	tokens *token.Service
}

// NewTopOff creates the top-off service.
func NewTopOff(st *state.State, toks *token.Service) *TopOffService {
	return &TopOffService{state: st, tokens: toks}
}

// InitializeTopOff persists the job config.
func (s *TopOffService) InitializeTopOff(t TopOff, payer hpl.Address) (hpl.Address, error) {
	if _, err := ParseSchedule(t.Schedule); err != nil {
		return hpl.Address{}, err
	}
	key := TopOffKey(t.Monitored)
	if t.RentRefund.IsZero() {
		t.RentRefund = t.Authority
	}
	return key, s.state.InitAccount(key, topOffAccountName, t, payer)
}

// GetTopOff loads a top-off job.
func (s *TopOffService) GetTopOff(key hpl.Address) (*TopOff, error) {
	var t TopOff
	if err := s.state.DecodeAccount(key, topOffAccountName, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Run tops the monitored account up when it sits below the threshold. The
// transfer is capped at the source balance. Returns the amount moved.
func (s *TopOffService) Run(key hpl.Address) (uint64, error) {
	t, err := s.GetTopOff(key)
	if err != nil {
		return 0, err
	}
	bal, err := s.tokens.Balance(t.Monitored)
	if err != nil {
		return 0, err
	}
	if bal >= t.Threshold {
		return 0, nil
	}
	available, err := s.tokens.Balance(t.Source)
	if err != nil {
		return 0, err
	}
	amount := t.TopOffAmount
	if amount > available {
		amount = available
	}
	if amount == 0 {
		return 0, nil
	}
	return amount, s.tokens.Transfer(t.Source, t.Monitored, amount)
}

// CloseTopOff removes the job.
func (s *TopOffService) CloseTopOff(key, authority, refundTo hpl.Address) error {
	t, err := s.GetTopOff(key)
	if err != nil {
		return err
	}
	if authority != t.Authority {
		return errors.Wrapf(ErrWrongAuthority, "%s", authority.AbbrevString())
	}
	return s.state.CloseAccount(key, refundTo)
}
