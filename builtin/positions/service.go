// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package positions

import (
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const (
	positionAccountName  = "PositionV0"
	registrarAccountName = "Registrar"
)

// ErrUnknownVotingMint the position references a config index the registrar
// does not carry.
var ErrUnknownVotingMint = errors.New("unknown voting mint config")

// Registrar holds the voting mint curves of a realm.
type Registrar struct {
	Realm              hpl.Address
	GoverningTokenMint hpl.Address
	VotingMints        []VotingMintConfig
}

// Service persists positions and registrars.
type Service struct {
	state *state.State
}

// New creates the positions service.
func New(st *state.State) *Service {
	return &Service{state: st}
}

// PositionKey derives the position account address from its mint identity.
func PositionKey(mint hpl.Address) hpl.Address {
	return hpl.DeriveAddress([]byte("position"), mint.Bytes())
}

// InitRegistrar creates a registrar account.
func (s *Service) InitRegistrar(key hpl.Address, reg Registrar, payer hpl.Address) error {
	return s.state.InitAccount(key, registrarAccountName, reg, payer)
}

// UpdateRegistrar persists a mutated registrar.
func (s *Service) UpdateRegistrar(key hpl.Address, reg *Registrar) error {
	return s.state.EncodeAccount(key, registrarAccountName, *reg)
}

// GetRegistrar loads a registrar.
func (s *Service) GetRegistrar(key hpl.Address) (*Registrar, error) {
	var reg Registrar
	if err := s.state.DecodeAccount(key, registrarAccountName, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// InitPosition creates a position account keyed by its mint.
func (s *Service) InitPosition(p Position, payer hpl.Address) error {
	if p.Lockup.EndTs < p.Lockup.StartTs {
		return ErrInvalidLockup
	}
	return s.state.InitAccount(PositionKey(p.Mint), positionAccountName, p, payer)
}

// GetPosition loads a position by its mint identity.
func (s *Service) GetPosition(mint hpl.Address) (*Position, error) {
	var p Position
	if err := s.state.DecodeAccount(PositionKey(mint), positionAccountName, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MintConfig resolves the voting mint config a position points at.
func (s *Service) MintConfig(p *Position) (*VotingMintConfig, error) {
	reg, err := s.GetRegistrar(p.Registrar)
	if err != nil {
		return nil, err
	}
	if int(p.VotingMintConfigIdx) >= len(reg.VotingMints) {
		return nil, errors.Wrapf(ErrUnknownVotingMint, "index %d", p.VotingMintConfigIdx)
	}
	return &reg.VotingMints[p.VotingMintConfigIdx], nil
}

// Update persists a mutated position. Mutation is forbidden while votes are
// outstanding; the vote controller bypasses the guard for vote bookkeeping.
func (s *Service) Update(p *Position, byVoteController bool) error {
	if p.NumActiveVotes > 0 && !byVoteController {
		return ErrPositionVotesOutstanding
	}
	return s.state.EncodeAccount(PositionKey(p.Mint), positionAccountName, *p)
}
