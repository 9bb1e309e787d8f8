// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package govern writes voter weight records on vote paths and keeps the
// per-position active-vote refcount that blocks position mutation.
package govern

import (
	"github.com/pkg/errors"

	"github.com/helium/hpl/builtin/positions"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const voterWeightAccountName = "VoterWeightRecord"

// ErrNoVotesOutstanding relinquish without a matching cast.
var ErrNoVotesOutstanding = errors.New("no votes outstanding")

// VoterWeightRecord the weight snapshot governance reads on a vote.
type VoterWeightRecord struct {
	Realm              hpl.Address
	GoverningTokenMint hpl.Address
	Owner              hpl.Address

	VoterWeight        hpl.Uint128
	VoterWeightExpiry  uint64
	WeightActionTarget hpl.Address
}

// Service maintains voter weight records against live positions.
type Service struct {
	state     *state.State
	positions *positions.Service
}

// New creates the governance bridge service.
func New(st *state.State, pos *positions.Service) *Service {
	return &Service{state: st, positions: pos}
}

// RecordKey derives the voter weight record address for an owner in a realm.
func RecordKey(realm, owner hpl.Address) hpl.Address {
	return hpl.DeriveAddress([]byte("voter_weight_record"), realm.Bytes(), owner.Bytes())
}

// UpdateVoterWeight snapshots the position's voting power at now into the
// owner's record. The snapshot expires at the end of the transaction slot on
// the host chain; here it carries now as its expiry anchor.
func (s *Service) UpdateVoterWeight(realm, owner, positionMint hpl.Address, now uint64, payer hpl.Address) (hpl.Address, error) {
	p, err := s.positions.GetPosition(positionMint)
	if err != nil {
		return hpl.Address{}, err
	}
	cfg, err := s.positions.MintConfig(p)
	if err != nil {
		return hpl.Address{}, err
	}
	vp, err := p.VotingPower(cfg, now)
	if err != nil {
		return hpl.Address{}, err
	}
	weight, err := hpl.U128FromUint256(vp)
	if err != nil {
		return hpl.Address{}, err
	}

	key := RecordKey(realm, owner)
	rec := VoterWeightRecord{
		Realm:              realm,
		GoverningTokenMint: cfg.Mint,
		Owner:              owner,
		VoterWeight:        weight,
		VoterWeightExpiry:  now,
		WeightActionTarget: positionMint,
	}
	exists, err := s.state.HasData(key)
	if err != nil {
		return hpl.Address{}, err
	}
	if !exists {
		return key, s.state.InitAccount(key, voterWeightAccountName, rec, payer)
	}
	return key, s.state.EncodeAccount(key, voterWeightAccountName, rec)
}

// GetRecord loads a voter weight record.
func (s *Service) GetRecord(key hpl.Address) (*VoterWeightRecord, error) {
	var rec VoterWeightRecord
	if err := s.state.DecodeAccount(key, voterWeightAccountName, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CastVote bumps the position's active-vote refcount, freezing it against
// mutation until all votes are relinquished.
func (s *Service) CastVote(positionMint hpl.Address) error {
	p, err := s.positions.GetPosition(positionMint)
	if err != nil {
		return err
	}
	p.NumActiveVotes++
	return s.positions.Update(p, true)
}

// RelinquishVote releases one active vote.
func (s *Service) RelinquishVote(positionMint hpl.Address) error {
	p, err := s.positions.GetPosition(positionMint)
	if err != nil {
		return err
	}
	if p.NumActiveVotes == 0 {
		return errors.Wrapf(ErrNoVotesOutstanding, "position %s", positionMint.AbbrevString())
	}
	p.NumActiveVotes--
	return s.positions.Update(p, true)
}
