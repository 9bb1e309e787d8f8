// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package epochs exposes read-only views of the epoch-close accounting.
package epochs

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/helium/hpl/api/restutil"
	"github.com/helium/hpl/builtin/dao"
	"github.com/helium/hpl/builtin/subdao"
	"github.com/helium/hpl/hpl"
)

type Epochs struct {
	daos *dao.Service
	subs *subdao.Service
}

func New(daos *dao.Service, subs *subdao.Service) *Epochs {
	return &Epochs{daos: daos, subs: subs}
}

// DaoEpoch is the JSON view of a DAO epoch bucket. Uint128 totals are decimal
// strings.
type DaoEpoch struct {
	Dao                        hpl.Address `json:"dao"`
	Epoch                      uint64      `json:"epoch"`
	TotalUtilityScore          string      `json:"totalUtilityScore"`
	NumUtilityScoresCalculated uint32      `json:"numUtilityScoresCalculated"`
	NumRewardsIssued           uint32      `json:"numRewardsIssued"`
	TotalDelegationRewards     uint64      `json:"totalDelegationRewards"`
	DoneCalculatingScores      bool        `json:"doneCalculatingScores"`
	DoneIssuingRewards         bool        `json:"doneIssuingRewards"`
	DoneIssuingHstPool         bool        `json:"doneIssuingHstPool"`
}

// SubDaoEpoch is the JSON view of a sub-DAO epoch bucket.
type SubDaoEpoch struct {
	SubDao                        hpl.Address `json:"subDao"`
	Epoch                         uint64      `json:"epoch"`
	VehntAtEpochStart             string      `json:"vehntAtEpochStart"`
	VehntInClosingPositions       string      `json:"vehntInClosingPositions"`
	FallRatesFromClosingPositions string      `json:"fallRatesFromClosingPositions"`
	DcBurned                      uint64      `json:"dcBurned"`
	UtilityScore                  *string     `json:"utilityScore"`
	RewardsIssuedAt               *uint64     `json:"rewardsIssuedAt"`
	DelegationRewardsIssued       uint64      `json:"delegationRewardsIssued"`
}

func parseVars(req *http.Request) (*hpl.Address, uint64, error) {
	vars := mux.Vars(req)
	addr, err := hpl.ParseAddress(vars["address"])
	if err != nil {
		return nil, 0, restutil.BadRequest(errors.WithMessage(err, "address"))
	}
	epoch, err := strconv.ParseUint(vars["epoch"], 10, 64)
	if err != nil {
		return nil, 0, restutil.BadRequest(errors.WithMessage(err, "epoch"))
	}
	return addr, epoch, nil
}

func (e *Epochs) handleGetDaoEpoch(w http.ResponseWriter, req *http.Request) error {
	addr, epoch, err := parseVars(req)
	if err != nil {
		return err
	}
	dei, found, err := e.daos.GetEpochInfo(*addr, epoch)
	if err != nil {
		return err
	}
	if !found {
		return restutil.NotFound(errors.New("epoch info not found"))
	}
	return restutil.WriteJSON(w, &DaoEpoch{
		Dao:                        dei.Dao,
		Epoch:                      dei.Epoch,
		TotalUtilityScore:          dei.TotalUtilityScore.Int().Dec(),
		NumUtilityScoresCalculated: dei.NumUtilityScoresCalculated,
		NumRewardsIssued:           dei.NumRewardsIssued,
		TotalDelegationRewards:     dei.TotalDelegationRewards,
		DoneCalculatingScores:      dei.DoneCalculatingScores,
		DoneIssuingRewards:         dei.DoneIssuingRewards,
		DoneIssuingHstPool:         dei.DoneIssuingHstPool,
	})
}

func (e *Epochs) handleGetSubDaoEpoch(w http.ResponseWriter, req *http.Request) error {
	addr, epoch, err := parseVars(req)
	if err != nil {
		return err
	}
	ei, found, err := e.subs.GetEpochInfo(*addr, epoch)
	if err != nil {
		return err
	}
	if !found {
		return restutil.NotFound(errors.New("epoch info not found"))
	}
	out := &SubDaoEpoch{
		SubDao:                        ei.SubDao,
		Epoch:                         ei.Epoch,
		VehntAtEpochStart:             ei.VehntAtEpochStart.Int().Dec(),
		VehntInClosingPositions:       ei.VehntInClosingPositions.Int().Dec(),
		FallRatesFromClosingPositions: ei.FallRatesFromClosingPositions.Int().Dec(),
		DcBurned:                      ei.DcBurned,
		DelegationRewardsIssued:       ei.DelegationRewardsIssued,
	}
	if ei.UtilityScoreSet {
		score := ei.UtilityScore.Int().Dec()
		out.UtilityScore = &score
	}
	if ei.RewardsIssuedAtSet {
		at := ei.RewardsIssuedAt
		out.RewardsIssuedAt = &at
	}
	return restutil.WriteJSON(w, out)
}

func (e *Epochs) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()
	sub.Path("/daos/{address}/{epoch}").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(e.handleGetDaoEpoch))
	sub.Path("/subdaos/{address}/{epoch}").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(e.handleGetSubDaoEpoch))
}
