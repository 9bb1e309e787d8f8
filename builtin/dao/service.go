// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package dao

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/helium/hpl/builtin/circuitbreaker"
	"github.com/helium/hpl/builtin/subdao"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/precise"
	"github.com/helium/hpl/state"
)

const (
	daoAccountName          = "DaoV0"
	daoEpochInfoAccountName = "DaoEpochInfoV0"
)

// Service advances the epoch-close pipeline.
type Service struct {
	state   *state.State
	cfg     *hpl.Config
	subdaos *subdao.Service
	breaker *circuitbreaker.Service
}

// New creates the dao service.
func New(st *state.State, cfg *hpl.Config, subs *subdao.Service, brk *circuitbreaker.Service) *Service {
	return &Service{state: st, cfg: cfg, subdaos: subs, breaker: brk}
}

// DaoKey derives the DAO account address from the HNT mint.
func DaoKey(hntMint hpl.Address) hpl.Address {
	return hpl.DeriveAddress([]byte("dao"), hntMint.Bytes())
}

// EpochInfoKey derives the per-epoch totals address.
func EpochInfoKey(dao hpl.Address, epoch uint64) hpl.Address {
	return hpl.DeriveAddress([]byte("dao_epoch_info"), dao.Bytes(), hpl.Uint64Seed(epoch))
}

// InitDao creates the DAO. Epoch ordering starts at the creation epoch.
func (s *Service) InitDao(d Dao, now uint64, payer hpl.Address) (hpl.Address, error) {
	key := DaoKey(d.HntMint)
	d.LastRewardedEpoch = hpl.EpochAt(now) - 1
	return key, s.state.InitAccount(key, daoAccountName, d, payer)
}

// GetDao loads a DAO.
func (s *Service) GetDao(key hpl.Address) (*Dao, error) {
	var d Dao
	if err := s.state.DecodeAccount(key, daoAccountName, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) saveDao(key hpl.Address, d *Dao) error {
	return s.state.EncodeAccount(key, daoAccountName, *d)
}

// GetEpochInfo loads the per-epoch totals; a missing record reads as zero.
func (s *Service) GetEpochInfo(dao hpl.Address, epoch uint64) (*DaoEpochInfo, bool, error) {
	var dei DaoEpochInfo
	err := s.state.DecodeAccount(EpochInfoKey(dao, epoch), daoEpochInfoAccountName, &dei)
	if err != nil {
		if errors.Is(err, state.ErrAccountNotFound) {
			return &DaoEpochInfo{Dao: dao, Epoch: epoch}, false, nil
		}
		return nil, false, err
	}
	return &dei, true, nil
}

func (s *Service) putEpochInfo(dei *DaoEpochInfo, payer hpl.Address) error {
	key := EpochInfoKey(dei.Dao, dei.Epoch)
	exists, err := s.state.HasData(key)
	if err != nil {
		return err
	}
	if !exists {
		return s.state.InitAccount(key, daoEpochInfoAccountName, *dei, payer)
	}
	return s.state.EncodeAccount(key, daoEpochInfoAccountName, *dei)
}

// utilityScore computes V·D·A for one sub-DAO bucket in 12-decimal fixed
// point: V the epoch-start veHNT in whole HNT, D the square root of data
// credits burned per 10^5, A the fourth root of the onboarding proceeds.
// Every factor is floored at one so an idle axis does not zero the product.
func utilityScore(sub *subdao.SubDao, ei *subdao.EpochInfo) (*precise.Number, error) {
	one := precise.One()

	v := precise.FromScaled(ei.VehntAtEpochStart.Int())
	hundredM, err := precise.FromUint64(100_000_000)
	if err != nil {
		return nil, err
	}
	if v, err = v.Div(hundredM); err != nil {
		return nil, err
	}
	v = precise.Max(one, v)

	d, err := precise.FromRatio(ei.DcBurned, 100_000)
	if err != nil {
		return nil, err
	}
	if d, err = d.Sqrt(); err != nil {
		return nil, err
	}
	d = precise.Max(one, d)

	proceeds := new(uint256.Int).Mul(
		uint256.NewInt(sub.ActiveDeviceCount), uint256.NewInt(sub.DeviceActivationFee))
	a := precise.FromScaled(new(uint256.Int).Mul(proceeds, uint256.NewInt(hpl.VehntPrecision)))
	if a, err = a.FourthRoot(); err != nil {
		return nil, err
	}
	a = precise.Max(one, a)

	score, err := v.Mul(d)
	if err != nil {
		return nil, err
	}
	return score.Mul(a)
}

// CalculateUtilityScore closes the utility stage for (subDao, epoch). The
// sweep is advanced to now first so the epoch-start snapshot exists.
func (s *Service) CalculateUtilityScore(daoKey, subDaoKey hpl.Address, epoch, now uint64, payer hpl.Address) error {
	if epoch >= hpl.EpochAt(now) {
		return errors.Wrapf(ErrEpochNotOver, "epoch %d", epoch)
	}
	d, err := s.GetDao(daoKey)
	if err != nil {
		return err
	}
	sub, err := s.subdaos.GetSubDao(subDaoKey)
	if err != nil {
		return err
	}
	if err := s.subdaos.UpdateVehnt(subDaoKey, sub, now, payer); err != nil {
		return err
	}

	ei, _, err := s.subdaos.GetEpochInfo(subDaoKey, epoch)
	if err != nil {
		return err
	}
	if ei.CalculationStage >= subdao.StageUtilityCalculated && !s.cfg.Testing {
		return errors.Wrapf(ErrUtilityAlreadyCalculated, "sub-DAO %s epoch %d", subDaoKey.AbbrevString(), epoch)
	}

	score, err := utilityScore(sub, ei)
	if err != nil {
		return err
	}
	scored, err := hpl.U128FromUint256(score.Scaled())
	if err != nil {
		return err
	}

	dei, _, err := s.GetEpochInfo(daoKey, epoch)
	if err != nil {
		return err
	}
	total := dei.TotalUtilityScore.Int()
	if ei.UtilityScoreSet {
		// testing-mode recalculation replaces the previous contribution
		total.Sub(total, ei.UtilityScore.Int())
	} else {
		dei.NumUtilityScoresCalculated++
	}
	total.Add(total, score.Scaled())
	if dei.TotalUtilityScore, err = hpl.U128FromUint256(total); err != nil {
		return err
	}
	dei.DoneCalculatingScores = dei.NumUtilityScoresCalculated >= d.NumSubDaos

	ei.UtilityScore = scored
	ei.UtilityScoreSet = true
	ei.CalculationStage = subdao.StageUtilityCalculated
	if err := s.subdaos.PutEpochInfo(ei, payer); err != nil {
		return err
	}
	return s.putEpochInfo(dei, payer)
}

// IssueRewards mints the sub-DAO's share of the epoch's delegator emissions
// into its delegator pool, through the HNT mint circuit breaker.
func (s *Service) IssueRewards(daoKey, subDaoKey hpl.Address, epoch, now uint64, payer hpl.Address) error {
	if epoch >= hpl.EpochAt(now) {
		return errors.Wrapf(ErrEpochNotOver, "epoch %d", epoch)
	}
	d, err := s.GetDao(daoKey)
	if err != nil {
		return err
	}
	if !s.cfg.Testing && epoch != d.LastRewardedEpoch+1 {
		return errors.Wrapf(ErrEpochOutOfOrder, "epoch %d after %d", epoch, d.LastRewardedEpoch)
	}

	dei, _, err := s.GetEpochInfo(daoKey, epoch)
	if err != nil {
		return err
	}
	if !dei.DoneCalculatingScores {
		return errors.Wrapf(ErrScoresIncomplete, "%d of %d", dei.NumUtilityScoresCalculated, d.NumSubDaos)
	}

	sub, err := s.subdaos.GetSubDao(subDaoKey)
	if err != nil {
		return err
	}
	ei, _, err := s.subdaos.GetEpochInfo(subDaoKey, epoch)
	if err != nil {
		return err
	}
	if !ei.UtilityScoreSet {
		return errors.Wrapf(ErrUtilityNotCalculated, "sub-DAO %s", subDaoKey.AbbrevString())
	}
	if ei.RewardsIssuedAtSet {
		if s.cfg.Testing {
			return nil
		}
		return errors.Wrapf(ErrRewardsAlreadyIssued, "sub-DAO %s epoch %d", subDaoKey.AbbrevString(), epoch)
	}

	emissions := s.cfg.EmissionsAt(hpl.EpochStart(epoch))
	delegatorShare := mulDiv(emissions, uint64(s.cfg.DelegatorRewardsPercent), 10_000)
	amount := mulDivU256(delegatorShare, ei.UtilityScore.Int(), dei.TotalUtilityScore.Int())

	if amount > 0 {
		if err := s.breaker.MintV0(now, d.HntMint, sub.DelegatorPool, amount); err != nil {
			return err
		}
	}

	ei.RewardsIssuedAtSet = true
	ei.RewardsIssuedAt = now
	ei.DelegationRewardsIssued = amount
	ei.CalculationStage = subdao.StageRewardsIssued
	if err := s.subdaos.PutEpochInfo(ei, payer); err != nil {
		return err
	}

	dei.NumRewardsIssued++
	dei.TotalDelegationRewards += amount
	if dei.NumRewardsIssued >= d.NumSubDaos {
		dei.DoneIssuingRewards = true
		d.LastRewardedEpoch = epoch
		if err := s.saveDao(daoKey, d); err != nil {
			return err
		}
	}
	return s.putEpochInfo(dei, payer)
}

// IssueHstPool splits the epoch's remaining emissions between the HST pool
// and the rewards escrow once every sub-DAO's rewards are out.
func (s *Service) IssueHstPool(daoKey hpl.Address, epoch, now uint64, payer hpl.Address) error {
	if epoch >= hpl.EpochAt(now) {
		return errors.Wrapf(ErrEpochNotOver, "epoch %d", epoch)
	}
	d, err := s.GetDao(daoKey)
	if err != nil {
		return err
	}
	dei, _, err := s.GetEpochInfo(daoKey, epoch)
	if err != nil {
		return err
	}
	if !dei.DoneIssuingRewards {
		return errors.Wrapf(ErrRewardsNotIssued, "epoch %d", epoch)
	}
	if dei.DoneIssuingHstPool {
		if s.cfg.Testing {
			return nil
		}
		return errors.Wrapf(ErrHstPoolAlreadyIssued, "epoch %d", epoch)
	}

	emissions := s.cfg.EmissionsAt(hpl.EpochStart(epoch))
	hstAmount := mulDiv(emissions, uint64(s.cfg.HstPercentAt(hpl.EpochStart(epoch))), 10_000)
	if hstAmount > 0 {
		if err := s.breaker.MintV0(now, d.HntMint, d.HstPool, hstAmount); err != nil {
			return err
		}
	}
	escrow := emissions - hstAmount
	if escrow >= dei.TotalDelegationRewards {
		escrow -= dei.TotalDelegationRewards
	} else {
		escrow = 0
	}
	if escrow > 0 {
		if err := s.breaker.MintV0(now, d.HntMint, d.RewardsEscrow, escrow); err != nil {
			return err
		}
	}

	dei.DoneIssuingHstPool = true
	return s.putEpochInfo(dei, payer)
}

// mulDiv computes a*b/den without intermediate overflow.
func mulDiv(a, b, den uint64) uint64 {
	v := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	v.Div(v, uint256.NewInt(den))
	return v.Uint64()
}

// mulDivU256 computes a*num/den, rounding down; zero denominator yields zero.
func mulDivU256(a uint64, num, den *uint256.Int) uint64 {
	if den.IsZero() {
		return 0
	}
	v := new(uint256.Int).Mul(uint256.NewInt(a), num)
	v.Div(v, den)
	return v.Uint64()
}
