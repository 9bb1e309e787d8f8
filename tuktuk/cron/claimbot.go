// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cron

import (
	"github.com/pkg/errors"

	"github.com/helium/hpl/builtin/delegation"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const claimBotAccountName = "ClaimBotV0"

// ClaimBot claims a delegation's epoch rewards on a schedule, walking the
// claim cursor as far as issued epochs allow each run.
type ClaimBot struct {
	Authority hpl.Address
	// Mint the delegated position the bot claims for.
	Mint hpl.Address
	// Destination receives the claimed rewards.
	Destination hpl.Address
	Schedule    string
	RentRefund  hpl.Address
}

// ClaimBotKey derives the bot account address from the position mint.
func ClaimBotKey(mint hpl.Address) hpl.Address {
	return hpl.DeriveAddress([]byte("claim_bot"), mint.Bytes())
}

// ClaimBotService runs delegation claim bots.
type ClaimBotService struct {
	state       *state.State
	delegations *delegation.Service
}

// NewClaimBot creates the claim bot service.
func NewClaimBot(st *state.State, dels *delegation.Service) *ClaimBotService {
	return &ClaimBotService{state: st, delegations: dels}
}

// InitializeClaimBot persists the bot config.
func (s *ClaimBotService) InitializeClaimBot(b ClaimBot, payer hpl.Address) (hpl.Address, error) {
	if _, err := ParseSchedule(b.Schedule); err != nil {
		return hpl.Address{}, err
	}
	key := ClaimBotKey(b.Mint)
	if b.RentRefund.IsZero() {
		b.RentRefund = b.Authority
	}
	return key, s.state.InitAccount(key, claimBotAccountName, b, payer)
}

// GetClaimBot loads a bot config.
func (s *ClaimBotService) GetClaimBot(key hpl.Address) (*ClaimBot, error) {
	var b ClaimBot
	if err := s.state.DecodeAccount(key, claimBotAccountName, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Run claims forward from the delegation's cursor until it hits an epoch that
// is not yet closed or whose rewards are not yet issued. Returns the total
// amount claimed and the number of epochs advanced.
func (s *ClaimBotService) Run(key hpl.Address, now uint64) (uint64, int, error) {
	b, err := s.GetClaimBot(key)
	if err != nil {
		return 0, 0, err
	}
	var (
		total  uint64
		epochs int
	)
	for {
		d, err := s.delegations.GetDelegation(b.Mint)
		if err != nil {
			return total, epochs, err
		}
		amount, err := s.delegations.ClaimRewards(b.Mint, b.Destination, d.LastClaimedEpoch+1, now)
		if err != nil {
			if errors.Is(err, delegation.ErrEpochNotOver) ||
				errors.Is(err, delegation.ErrRewardsNotIssued) {
				return total, epochs, nil
			}
			return total, epochs, err
		}
		total += amount
		epochs++
	}
}

// CloseClaimBot removes the bot.
func (s *ClaimBotService) CloseClaimBot(key, authority, refundTo hpl.Address) error {
	b, err := s.GetClaimBot(key)
	if err != nil {
		return err
	}
	if authority != b.Authority {
		return errors.Wrapf(ErrWrongAuthority, "%s", authority.AbbrevString())
	}
	return s.state.CloseAccount(key, refundTo)
}
