// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package subdao

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const (
	subDaoAccountName    = "SubDaoV0"
	epochInfoAccountName = "SubDaoEpochInfoV0"
)

// ErrClockWentBackwards an update was requested before the last calculated
// timestamp.
var ErrClockWentBackwards = errors.New("veHNT update older than last calculation")

// Service manages sub-DAO aggregates and their epoch buckets.
type Service struct {
	state *state.State
}

// New creates the sub-DAO service.
func New(st *state.State) *Service {
	return &Service{state: st}
}

// SubDaoKey derives the sub-DAO account address from its DNT mint.
func SubDaoKey(dntMint hpl.Address) hpl.Address {
	return hpl.DeriveAddress([]byte("sub_dao"), dntMint.Bytes())
}

// EpochInfoKey derives the bucket address for (sub-DAO, epoch).
func EpochInfoKey(subDao hpl.Address, epoch uint64) hpl.Address {
	return hpl.DeriveAddress([]byte("sub_dao_epoch_info"), subDao.Bytes(), hpl.Uint64Seed(epoch))
}

// InitSubDao creates the sub-DAO with a zeroed aggregate anchored at now.
func (s *Service) InitSubDao(sub SubDao, now uint64, payer hpl.Address) (hpl.Address, error) {
	key := SubDaoKey(sub.DntMint)
	sub.VehntLastCalculatedTs = now
	if err := s.state.InitAccount(key, subDaoAccountName, sub, payer); err != nil {
		return hpl.Address{}, err
	}
	// anchor the first bucket so utility for the creation epoch reads zero
	_, err := s.ensureEpochInfo(key, hpl.EpochAt(now), payer)
	return key, err
}

// GetSubDao loads a sub-DAO.
func (s *Service) GetSubDao(key hpl.Address) (*SubDao, error) {
	var sub SubDao
	if err := s.state.DecodeAccount(key, subDaoAccountName, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// SaveSubDao persists a mutated sub-DAO.
func (s *Service) SaveSubDao(key hpl.Address, sub *SubDao) error {
	return s.state.EncodeAccount(key, subDaoAccountName, *sub)
}

// GetEpochInfo loads a bucket. The second return reports existence; a
// missing bucket reads as all-zero.
func (s *Service) GetEpochInfo(subDao hpl.Address, epoch uint64) (*EpochInfo, bool, error) {
	var ei EpochInfo
	err := s.state.DecodeAccount(EpochInfoKey(subDao, epoch), epochInfoAccountName, &ei)
	if err != nil {
		if errors.Is(err, state.ErrAccountNotFound) {
			return &EpochInfo{SubDao: subDao, Epoch: epoch}, false, nil
		}
		return nil, false, err
	}
	return &ei, true, nil
}

// SaveEpochInfo persists a bucket.
func (s *Service) SaveEpochInfo(ei *EpochInfo) error {
	return s.state.EncodeAccount(EpochInfoKey(ei.SubDao, ei.Epoch), epochInfoAccountName, *ei)
}

// PutEpochInfo persists a bucket, creating the account on first write.
func (s *Service) PutEpochInfo(ei *EpochInfo, payer hpl.Address) error {
	if _, err := s.ensureEpochInfo(ei.SubDao, ei.Epoch, payer); err != nil {
		return err
	}
	return s.SaveEpochInfo(ei)
}

func (s *Service) ensureEpochInfo(subDao hpl.Address, epoch uint64, payer hpl.Address) (*EpochInfo, error) {
	ei, exists, err := s.GetEpochInfo(subDao, epoch)
	if err != nil {
		return nil, err
	}
	if exists {
		return ei, nil
	}
	if err := s.state.InitAccount(EpochInfoKey(subDao, epoch), epochInfoAccountName, *ei, payer); err != nil {
		return nil, err
	}
	return ei, nil
}

// UpdateVehnt advances the aggregate to now, applying the correction buckets
// of every epoch boundary crossed exactly once. Must be called before any
// read of, or delta against, the running total.
func (s *Service) UpdateVehnt(key hpl.Address, sub *SubDao, now uint64, payer hpl.Address) error {
	last := sub.VehntLastCalculatedTs
	if now < last {
		return errors.Wrapf(ErrClockWentBackwards, "now %d < last %d", now, last)
	}
	if now == last {
		return nil
	}

	total := sub.VehntDelegated.Int()
	fallRate := sub.VehntFallRate.Int()
	tau := last

	for epoch := hpl.EpochAt(tau); hpl.EpochEnd(epoch) <= now; epoch++ {
		boundary := hpl.EpochEnd(epoch)
		decay(total, fallRate, boundary-tau)

		// leaving `epoch`: drop veHNT carried by positions that closed in it
		if ei, exists, err := s.GetEpochInfo(key, epoch); err != nil {
			return err
		} else if exists {
			saturatingSub(total, ei.VehntInClosingPositions.Int())
		}

		// entering epoch+1: its closers stop decaying, and the new epoch
		// starts from the corrected total
		next, err := s.ensureEpochInfo(key, epoch+1, payer)
		if err != nil {
			return err
		}
		saturatingSub(fallRate, next.FallRatesFromClosingPositions.Int())
		if next.VehntAtEpochStart, err = hpl.U128FromUint256(total); err != nil {
			return err
		}
		if err := s.SaveEpochInfo(next); err != nil {
			return err
		}
		tau = boundary
	}
	decay(total, fallRate, now-tau)

	var err error
	if sub.VehntDelegated, err = hpl.U128FromUint256(total); err != nil {
		return err
	}
	if sub.VehntFallRate, err = hpl.U128FromUint256(fallRate); err != nil {
		return err
	}
	sub.VehntLastCalculatedTs = now
	return s.SaveSubDao(key, sub)
}

// AddDelegated applies a new delegation's veHNT and fall rate to the running
// aggregate. The aggregate must already be updated to now.
func (s *Service) AddDelegated(key hpl.Address, sub *SubDao, vehnt, fallRate *uint256.Int) error {
	total := sub.VehntDelegated.Int()
	if _, overflow := total.AddOverflow(total, vehnt); overflow {
		return errors.New("veHNT total overflow")
	}
	rate := sub.VehntFallRate.Int()
	if _, overflow := rate.AddOverflow(rate, fallRate); overflow {
		return errors.New("veHNT fall rate overflow")
	}

	var err error
	if sub.VehntDelegated, err = hpl.U128FromUint256(total); err != nil {
		return err
	}
	if sub.VehntFallRate, err = hpl.U128FromUint256(rate); err != nil {
		return err
	}
	return s.SaveSubDao(key, sub)
}

// SubDelegated removes a closing delegation's veHNT and fall rate from the
// running aggregate, saturating at zero to absorb rounding dust.
func (s *Service) SubDelegated(key hpl.Address, sub *SubDao, vehnt, fallRate *uint256.Int) error {
	total := sub.VehntDelegated.Int()
	saturatingSub(total, vehnt)
	rate := sub.VehntFallRate.Int()
	saturatingSub(rate, fallRate)

	var err error
	if sub.VehntDelegated, err = hpl.U128FromUint256(total); err != nil {
		return err
	}
	if sub.VehntFallRate, err = hpl.U128FromUint256(rate); err != nil {
		return err
	}
	return s.SaveSubDao(key, sub)
}

// AddClosingCorrections schedules veHNT/fall-rate corrections on the bucket
// of the epoch the event lands in.
func (s *Service) AddClosingCorrections(subDao hpl.Address, epoch uint64, vehnt, fallRate *uint256.Int, payer hpl.Address) error {
	ei, err := s.ensureEpochInfo(subDao, epoch, payer)
	if err != nil {
		return err
	}
	v := ei.VehntInClosingPositions.Int()
	if _, overflow := v.AddOverflow(v, vehnt); overflow {
		return errors.New("closing veHNT overflow")
	}
	f := ei.FallRatesFromClosingPositions.Int()
	if _, overflow := f.AddOverflow(f, fallRate); overflow {
		return errors.New("closing fall rate overflow")
	}
	if ei.VehntInClosingPositions, err = hpl.U128FromUint256(v); err != nil {
		return err
	}
	if ei.FallRatesFromClosingPositions, err = hpl.U128FromUint256(f); err != nil {
		return err
	}
	return s.SaveEpochInfo(ei)
}

// RemoveClosingCorrections withdraws previously scheduled corrections,
// saturating at zero.
func (s *Service) RemoveClosingCorrections(subDao hpl.Address, epoch uint64, vehnt, fallRate *uint256.Int) error {
	ei, exists, err := s.GetEpochInfo(subDao, epoch)
	if err != nil || !exists {
		return err
	}
	v := ei.VehntInClosingPositions.Int()
	saturatingSub(v, vehnt)
	f := ei.FallRatesFromClosingPositions.Int()
	saturatingSub(f, fallRate)
	if ei.VehntInClosingPositions, err = hpl.U128FromUint256(v); err != nil {
		return err
	}
	if ei.FallRatesFromClosingPositions, err = hpl.U128FromUint256(f); err != nil {
		return err
	}
	return s.SaveEpochInfo(ei)
}

// TrackDcBurn bumps the epoch's data-credit usage counter.
func (s *Service) TrackDcBurn(subDao hpl.Address, now uint64, amount uint64, payer hpl.Address) error {
	ei, err := s.ensureEpochInfo(subDao, hpl.EpochAt(now), payer)
	if err != nil {
		return err
	}
	next := ei.DcBurned + amount
	if next < ei.DcBurned {
		return errors.New("dc burn counter overflow")
	}
	ei.DcBurned = next
	return s.SaveEpochInfo(ei)
}
