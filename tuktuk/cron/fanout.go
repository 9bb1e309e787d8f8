// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cron

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/helium/hpl/builtin/token"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const fanoutAccountName = "FanoutV0"

// ErrNoFanoutWeight distribution needs a positive total weight.
var ErrNoFanoutWeight = errors.New("fanout has no weight")

// FanoutShare one recipient and its weight.
type FanoutShare struct {
	Destination hpl.Address
	Weight      uint32
}

// Fanout splits a token account across weighted recipients on a schedule.
// Rounding dust stays behind for the next distribution.
type Fanout struct {
	Name      string
	Authority hpl.Address
	// TokenAccount the distributed balance.
	TokenAccount hpl.Address
	Shares       []FanoutShare
	Schedule     string
	RentRefund   hpl.Address
}

// FanoutKey derives the fanout account address from its name.
func FanoutKey(name string) hpl.Address {
	return hpl.DeriveAddress([]byte("fanout"), []byte(name))
}

// FanoutService runs fanout distributions.
type FanoutService struct {
	state  *state.State
	tokens *token.Service
}

// NewFanout creates the fanout service.
func NewFanout(st *state.State, toks *token.Service) *FanoutService {
	return &FanoutService{state: st, tokens: toks}
}

// InitializeFanout persists the distribution config.
func (s *FanoutService) InitializeFanout(f Fanout, payer hpl.Address) (hpl.Address, error) {
	if _, err := ParseSchedule(f.Schedule); err != nil {
		return hpl.Address{}, err
	}
	if totalWeight(f.Shares) == 0 {
		return hpl.Address{}, errors.Wrapf(ErrNoFanoutWeight, "fanout %q", f.Name)
	}
	key := FanoutKey(f.Name)
	if f.RentRefund.IsZero() {
		f.RentRefund = f.Authority
	}
	return key, s.state.InitAccount(key, fanoutAccountName, f, payer)
}

// GetFanout loads a fanout.
func (s *FanoutService) GetFanout(key hpl.Address) (*Fanout, error) {
	var f Fanout
	if err := s.state.DecodeAccount(key, fanoutAccountName, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func totalWeight(shares []FanoutShare) uint64 {
	var total uint64
	for _, sh := range shares {
		total += uint64(sh.Weight)
	}
	return total
}

// Distribute splits the current balance pro rata by weight, rounding down.
// Returns the total amount moved.
func (s *FanoutService) Distribute(key hpl.Address) (uint64, error) {
	f, err := s.GetFanout(key)
	if err != nil {
		return 0, err
	}
	total := totalWeight(f.Shares)
	if total == 0 {
		return 0, errors.Wrapf(ErrNoFanoutWeight, "fanout %q", f.Name)
	}
	bal, err := s.tokens.Balance(f.TokenAccount)
	if err != nil {
		return 0, err
	}
	if bal == 0 {
		return 0, nil
	}

	var moved uint64
	for _, sh := range f.Shares {
		v := new(uint256.Int).Mul(uint256.NewInt(bal), uint256.NewInt(uint64(sh.Weight)))
		v.Div(v, uint256.NewInt(total))
		amount := v.Uint64()
		if amount == 0 {
			continue
		}
		if err := s.tokens.Transfer(f.TokenAccount, sh.Destination, amount); err != nil {
			return moved, err
		}
		moved += amount
	}
	return moved, nil
}

// CloseFanout removes the distribution config.
func (s *FanoutService) CloseFanout(key, authority, refundTo hpl.Address) error {
	f, err := s.GetFanout(key)
	if err != nil {
		return err
	}
	if authority != f.Authority {
		return errors.Wrapf(ErrWrongAuthority, "%s", authority.AbbrevString())
	}
	return s.state.CloseAccount(key, refundTo)
}
