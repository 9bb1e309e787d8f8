// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cron

import (
	"github.com/pkg/errors"

	"github.com/helium/hpl/builtin/dao"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const epochCloserAccountName = "EpochCloserV0"

// EpochCloser drives the full close pipeline for the previous epoch each
// run: every sub-DAO's utility score, every sub-DAO's rewards, then the HST
// pool split.
type EpochCloser struct {
	Authority hpl.Address
	Dao       hpl.Address
	SubDaos   []hpl.Address
	Schedule  string
}

// EpochCloserKey derives the closer account address from the DAO.
func EpochCloserKey(daoKey hpl.Address) hpl.Address {
	return hpl.DeriveAddress([]byte("epoch_closer"), daoKey.Bytes())
}

// EpochCloserService runs the scheduled close job.
type EpochCloserService struct {
	state *state.State
	daos  *dao.Service
}

// NewEpochCloser creates the epoch closer service.
func NewEpochCloser(st *state.State, daos *dao.Service) *EpochCloserService {
	return &EpochCloserService{state: st, daos: daos}
}

// InitializeEpochCloser persists the job config.
func (s *EpochCloserService) InitializeEpochCloser(c EpochCloser, payer hpl.Address) (hpl.Address, error) {
	if _, err := ParseSchedule(c.Schedule); err != nil {
		return hpl.Address{}, err
	}
	return EpochCloserKey(c.Dao), s.state.InitAccount(EpochCloserKey(c.Dao), epochCloserAccountName, c, payer)
}

// GetEpochCloser loads a closer config.
func (s *EpochCloserService) GetEpochCloser(key hpl.Address) (*EpochCloser, error) {
	var c EpochCloser
	if err := s.state.DecodeAccount(key, epochCloserAccountName, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Run closes every epoch after the last rewarded one, up through the epoch
// preceding now. Already-completed stages read as progress, not faults, so an
// interrupted or skipped sweep catches up on the next run.
func (s *EpochCloserService) Run(key hpl.Address, now uint64, payer hpl.Address) error {
	c, err := s.GetEpochCloser(key)
	if err != nil {
		return err
	}
	d, err := s.daos.GetDao(c.Dao)
	if err != nil {
		return err
	}
	target := hpl.EpochAt(now) - 1
	if target <= d.LastRewardedEpoch {
		// rewards are already out; only the HST split may still be pending
		err := s.daos.IssueHstPool(c.Dao, target, now, payer)
		if err != nil && !errors.Is(err, dao.ErrHstPoolAlreadyIssued) {
			return err
		}
		return nil
	}

	for epoch := d.LastRewardedEpoch + 1; epoch <= target; epoch++ {
		if err := s.closeEpoch(c, epoch, now, payer); err != nil {
			return err
		}
	}
	return nil
}

func (s *EpochCloserService) closeEpoch(c *EpochCloser, epoch, now uint64, payer hpl.Address) error {
	for _, sub := range c.SubDaos {
		err := s.daos.CalculateUtilityScore(c.Dao, sub, epoch, now, payer)
		if err != nil && !errors.Is(err, dao.ErrUtilityAlreadyCalculated) {
			return err
		}
	}
	for _, sub := range c.SubDaos {
		err := s.daos.IssueRewards(c.Dao, sub, epoch, now, payer)
		if err != nil && !errors.Is(err, dao.ErrRewardsAlreadyIssued) {
			return err
		}
	}
	if err := s.daos.IssueHstPool(c.Dao, epoch, now, payer); err != nil &&
		!errors.Is(err, dao.ErrHstPoolAlreadyIssued) {
		return err
	}
	return nil
}
