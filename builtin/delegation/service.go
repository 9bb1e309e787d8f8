// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package delegation

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/helium/hpl/builtin/positions"
	"github.com/helium/hpl/builtin/subdao"
	"github.com/helium/hpl/builtin/token"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const (
	delegatedAccountName   = "DelegatedPositionV0"
	proxyConfigAccountName = "ProxyConfigV0"
)

// Service wires delegation lifecycle writes into the sub-DAO aggregates.
type Service struct {
	state     *state.State
	positions *positions.Service
	subdaos   *subdao.Service
	tokens    *token.Service
}

// New creates the delegation service.
func New(st *state.State, pos *positions.Service, sub *subdao.Service, tok *token.Service) *Service {
	return &Service{state: st, positions: pos, subdaos: sub, tokens: tok}
}

// DelegatedPositionKey derives the delegation account address from the
// position mint.
func DelegatedPositionKey(mint hpl.Address) hpl.Address {
	return hpl.DeriveAddress([]byte("delegated_position"), mint.Bytes())
}

// ProxyConfigKey derives the proxy config address from its name.
func ProxyConfigKey(name string) hpl.Address {
	return hpl.DeriveAddress([]byte("proxy_config"), []byte(name))
}

// InitProxyConfig creates a season schedule.
func (s *Service) InitProxyConfig(pc ProxyConfig, payer hpl.Address) (hpl.Address, error) {
	key := ProxyConfigKey(pc.Name)
	return key, s.state.InitAccount(key, proxyConfigAccountName, pc, payer)
}

// GetProxyConfig loads a season schedule.
func (s *Service) GetProxyConfig(key hpl.Address) (*ProxyConfig, error) {
	var pc ProxyConfig
	if err := s.state.DecodeAccount(key, proxyConfigAccountName, &pc); err != nil {
		return nil, err
	}
	return &pc, nil
}

// GetDelegation loads the delegation record of a position.
func (s *Service) GetDelegation(mint hpl.Address) (*DelegatedPosition, error) {
	var d DelegatedPosition
	err := s.state.DecodeAccount(DelegatedPositionKey(mint), delegatedAccountName, &d)
	if errors.Is(err, state.ErrAccountNotFound) {
		return nil, errors.Wrapf(ErrNotDelegated, "position %s", mint.AbbrevString())
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Service) saveDelegation(d *DelegatedPosition) error {
	return s.state.EncodeAccount(DelegatedPositionKey(d.Mint), delegatedAccountName, *d)
}

// Delegate binds a position to a sub-DAO until the current season ends.
// The position's veHNT and fall rate join the running aggregate, and the
// closing-time and genesis-end correction buckets are scheduled.
func (s *Service) Delegate(mint, subDaoKey, proxyConfigKey hpl.Address, now uint64, payer hpl.Address) error {
	if delegated, err := s.state.HasData(DelegatedPositionKey(mint)); err != nil {
		return err
	} else if delegated {
		return errors.Wrapf(state.ErrAccountExists, "position %s already delegated", mint.AbbrevString())
	}
	p, err := s.positions.GetPosition(mint)
	if err != nil {
		return err
	}
	cfg, err := s.positions.MintConfig(p)
	if err != nil {
		return err
	}
	if p.Lockup.Kind == positions.LockupNone || p.Lockup.Expired(now) {
		return errors.Wrapf(ErrLockupExpired, "position %s", mint.AbbrevString())
	}

	pc, err := s.GetProxyConfig(proxyConfigKey)
	if err != nil {
		return err
	}
	season, ok := pc.CurrentSeason(now)
	if !ok {
		return ErrNoActiveSeason
	}

	sub, err := s.subdaos.GetSubDao(subDaoKey)
	if err != nil {
		return err
	}
	if err := s.subdaos.UpdateVehnt(subDaoKey, sub, now, payer); err != nil {
		return err
	}

	vi, err := calculateVehntInfo(p, cfg, now, season.End)
	if err != nil {
		return err
	}
	if err := s.subdaos.AddDelegated(subDaoKey, sub, vi.vehntAtStart, vi.currentFallRate(now)); err != nil {
		return err
	}
	if err := s.addPendingCorrections(subDaoKey, vi, hpl.EpochAt(now), payer); err != nil {
		return err
	}

	d := DelegatedPosition{
		Mint:             mint,
		SubDao:           subDaoKey,
		StartTs:          now,
		ExpirationTs:     season.End,
		LastClaimedEpoch: hpl.EpochAt(now) - 1,
		RentRefund:       payer,
	}
	return s.state.InitAccount(DelegatedPositionKey(mint), delegatedAccountName, d, payer)
}

// CloseDelegation unwinds a delegation: claims must be caught up, the
// remaining aggregate contribution is withdrawn, pending corrections are
// cancelled and the record account is closed.
func (s *Service) CloseDelegation(mint hpl.Address, now uint64, payer hpl.Address) error {
	d, err := s.GetDelegation(mint)
	if err != nil {
		return err
	}
	curEpoch := hpl.EpochAt(now)
	if d.LastClaimedEpoch+1 < curEpoch {
		return errors.Wrapf(ErrUnclaimedRewards, "claimed through %d, current %d", d.LastClaimedEpoch, curEpoch)
	}

	if err := s.withdraw(d, now, payer); err != nil {
		return err
	}
	return s.state.CloseAccount(DelegatedPositionKey(mint), d.RentRefund)
}

// ChangeDelegation atomically moves a delegation to another sub-DAO. Claims
// must be caught up first, then the monotone cursor restarts at the change
// epoch; the claim bitmap survives so pre-migration epochs stay claimable.
func (s *Service) ChangeDelegation(mint, newSubDao hpl.Address, now uint64, payer hpl.Address) error {
	d, err := s.GetDelegation(mint)
	if err != nil {
		return err
	}
	if d.LastClaimedEpoch < hpl.HNTEpoch {
		return errors.Wrapf(ErrMigrationBarrier, "claimed through %d", d.LastClaimedEpoch)
	}
	if d.ExpirationTs <= now {
		return ErrDelegationExpired
	}
	if d.SubDao == newSubDao {
		return ErrSameSubDao
	}
	curEpoch := hpl.EpochAt(now)
	if d.LastClaimedEpoch+1 < curEpoch {
		return errors.Wrapf(ErrUnclaimedRewards, "claimed through %d, current %d", d.LastClaimedEpoch, curEpoch)
	}

	if err := s.withdraw(d, now, payer); err != nil {
		return err
	}

	p, err := s.positions.GetPosition(mint)
	if err != nil {
		return err
	}
	cfg, err := s.positions.MintConfig(p)
	if err != nil {
		return err
	}
	sub, err := s.subdaos.GetSubDao(newSubDao)
	if err != nil {
		return err
	}
	if err := s.subdaos.UpdateVehnt(newSubDao, sub, now, payer); err != nil {
		return err
	}
	vi, err := calculateVehntInfo(p, cfg, now, d.ExpirationTs)
	if err != nil {
		return err
	}
	if err := s.subdaos.AddDelegated(newSubDao, sub, vi.vehntAtStart, vi.currentFallRate(now)); err != nil {
		return err
	}
	if err := s.addPendingCorrections(newSubDao, vi, curEpoch, payer); err != nil {
		return err
	}

	d.SubDao = newSubDao
	d.StartTs = now
	if d.LastClaimedEpoch < curEpoch {
		d.LastClaimedEpoch = curEpoch
	}
	return s.saveDelegation(d)
}

// AddExpirationTs rebinds the delegation to an extended season. Correction
// buckets move from the old closing epoch to the new one; re-running with
// the same season is a no-op.
func (s *Service) AddExpirationTs(mint, proxyConfigKey hpl.Address, now uint64, payer hpl.Address) error {
	d, err := s.GetDelegation(mint)
	if err != nil {
		return err
	}
	pc, err := s.GetProxyConfig(proxyConfigKey)
	if err != nil {
		return err
	}
	season, ok := pc.CurrentSeason(now)
	if !ok {
		return ErrNoActiveSeason
	}
	if season.End == d.ExpirationTs {
		return nil
	}

	p, err := s.positions.GetPosition(mint)
	if err != nil {
		return err
	}
	cfg, err := s.positions.MintConfig(p)
	if err != nil {
		return err
	}
	sub, err := s.subdaos.GetSubDao(d.SubDao)
	if err != nil {
		return err
	}
	if err := s.subdaos.UpdateVehnt(d.SubDao, sub, now, payer); err != nil {
		return err
	}

	oldVi, err := calculateVehntInfo(p, cfg, d.StartTs, d.ExpirationTs)
	if err != nil {
		return err
	}
	newVi, err := calculateVehntInfo(p, cfg, d.StartTs, season.End)
	if err != nil {
		return err
	}

	curEpoch := hpl.EpochAt(now)
	oldRemaining, err := oldVi.remainingContribution(p, cfg, now)
	if err != nil {
		return err
	}
	newRemaining, err := newVi.remainingContribution(p, cfg, now)
	if err != nil {
		return err
	}
	if err := s.subdaos.SubDelegated(d.SubDao, sub, oldRemaining, oldVi.currentFallRate(now)); err != nil {
		return err
	}
	if err := s.subdaos.AddDelegated(d.SubDao, sub, newRemaining, newVi.currentFallRate(now)); err != nil {
		return err
	}
	if err := s.removePendingCorrections(d.SubDao, oldVi, curEpoch); err != nil {
		return err
	}
	if err := s.addPendingCorrections(d.SubDao, newVi, curEpoch, payer); err != nil {
		return err
	}

	d.ExpirationTs = season.End
	return s.saveDelegation(d)
}

// withdraw removes the delegation's remaining aggregate contribution and its
// still-pending correction entries.
func (s *Service) withdraw(d *DelegatedPosition, now uint64, payer hpl.Address) error {
	p, err := s.positions.GetPosition(d.Mint)
	if err != nil {
		return err
	}
	cfg, err := s.positions.MintConfig(p)
	if err != nil {
		return err
	}
	sub, err := s.subdaos.GetSubDao(d.SubDao)
	if err != nil {
		return err
	}
	if err := s.subdaos.UpdateVehnt(d.SubDao, sub, now, payer); err != nil {
		return err
	}

	vi, err := calculateVehntInfo(p, cfg, d.StartTs, d.ExpirationTs)
	if err != nil {
		return err
	}
	remaining, err := vi.remainingContribution(p, cfg, now)
	if err != nil {
		return err
	}
	if err := s.subdaos.SubDelegated(d.SubDao, sub, remaining, vi.currentFallRate(now)); err != nil {
		return err
	}
	return s.removePendingCorrections(d.SubDao, vi, hpl.EpochAt(now))
}

// addPendingCorrections schedules the bucket entries the sweep has not yet
// consumed at curEpoch. Fall-rate corrections are consumed entering their
// epoch, veHNT corrections leaving it.
func (s *Service) addPendingCorrections(subDaoKey hpl.Address, vi *vehntInfo, curEpoch uint64, payer hpl.Address) error {
	zero := uint256.NewInt(0)
	if curEpoch <= vi.closingEpoch {
		fall := vi.closingFallRateCorrection
		if curEpoch >= vi.closingEpoch {
			fall = zero
		}
		if err := s.subdaos.AddClosingCorrections(subDaoKey, vi.closingEpoch, vi.closingVehntCorrection, fall, payer); err != nil {
			return err
		}
	}
	if vi.hasGenesis && curEpoch <= vi.genesisEndEpoch {
		fall := vi.genesisEndFallRateCorrection
		if curEpoch >= vi.genesisEndEpoch {
			fall = zero
		}
		if err := s.subdaos.AddClosingCorrections(subDaoKey, vi.genesisEndEpoch, vi.genesisEndVehntCorrection, fall, payer); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) removePendingCorrections(subDaoKey hpl.Address, vi *vehntInfo, curEpoch uint64) error {
	zero := uint256.NewInt(0)
	if curEpoch <= vi.closingEpoch {
		fall := vi.closingFallRateCorrection
		if curEpoch >= vi.closingEpoch {
			fall = zero
		}
		if err := s.subdaos.RemoveClosingCorrections(subDaoKey, vi.closingEpoch, vi.closingVehntCorrection, fall); err != nil {
			return err
		}
	}
	if vi.hasGenesis && curEpoch <= vi.genesisEndEpoch {
		fall := vi.genesisEndFallRateCorrection
		if curEpoch >= vi.genesisEndEpoch {
			fall = zero
		}
		if err := s.subdaos.RemoveClosingCorrections(subDaoKey, vi.genesisEndEpoch, vi.genesisEndVehntCorrection, fall); err != nil {
			return err
		}
	}
	return nil
}

// remainingContribution computes what the delegation currently occupies in
// the running total: the value at the later of its start and the current
// epoch's start, decayed at the current rate, plus any genesis surplus still
// frozen in this epoch. Within the start epoch this reproduces the exact
// projection added at delegate time, so delegate-then-close round-trips to
// the prior aggregate.
func (vi *vehntInfo) remainingContribution(p *positions.Position, cfg *positions.VotingMintConfig, now uint64) (*uint256.Int, error) {
	curEpoch := hpl.EpochAt(now)
	if curEpoch > vi.closingEpoch {
		return uint256.NewInt(0), nil
	}
	if curEpoch == vi.closingEpoch {
		return new(uint256.Int).Set(vi.closingVehntCorrection), nil
	}

	anchor := hpl.EpochStart(curEpoch)
	if vi.startTs > anchor {
		anchor = vi.startTs
	}
	base := p
	if vi.hasGenesis && curEpoch >= vi.genesisEndEpoch {
		// surplus is accounted separately while frozen
		plain := *p
		plain.GenesisEndTs = 0
		base = &plain
	}
	v, err := base.VehntAt(cfg, anchor)
	if err != nil {
		return nil, err
	}
	var drop uint256.Int
	drop.Mul(vi.currentFallRate(now), uint256.NewInt(now-anchor))
	if v.Cmp(&drop) < 0 {
		v.Clear()
	} else {
		v.Sub(v, &drop)
	}
	if vi.hasGenesis && curEpoch == vi.genesisEndEpoch {
		v.Add(v, vi.genesisEndVehntCorrection)
	}
	return v, nil
}
