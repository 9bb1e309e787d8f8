// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package queues exposes read-only views of the task queues.
package queues

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/helium/hpl/api/restutil"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
	"github.com/helium/hpl/tuktuk"
)

type Queues struct {
	tasks *tuktuk.Service
}

func New(tasks *tuktuk.Service) *Queues {
	return &Queues{tasks: tasks}
}

// TaskView the JSON view of one queued task.
type TaskView struct {
	ID          uint16      `json:"id"`
	TriggerKind uint8       `json:"triggerKind"`
	Timestamp   uint64      `json:"timestamp,omitempty"`
	SourceKind  uint8       `json:"sourceKind"`
	CrankReward uint64      `json:"crankReward"`
	FreeTasks   uint8       `json:"freeTasks"`
	RentRefund  hpl.Address `json:"rentRefund"`
	QueuedAt    uint64      `json:"queuedAt"`
	Description string      `json:"description"`
}

// QueueView the JSON view of a queue and its live tasks.
type QueueView struct {
	Name                string      `json:"name"`
	Address             hpl.Address `json:"address"`
	Authority           hpl.Address `json:"authority"`
	UpdateAuthority     hpl.Address `json:"updateAuthority"`
	Capacity            uint16      `json:"capacity"`
	MinCrankReward      uint64      `json:"minCrankReward"`
	StaleTaskAge        uint64      `json:"staleTaskAge"`
	NextAvailableTaskID uint16      `json:"nextAvailableTaskId"`
	Tasks               []TaskView  `json:"tasks"`
}

func (qs *Queues) handleGetQueue(w http.ResponseWriter, req *http.Request) error {
	name := mux.Vars(req)["name"]
	key := tuktuk.QueueKey(name)
	q, err := qs.tasks.GetQueue(key)
	if err != nil {
		if errors.Is(err, state.ErrAccountNotFound) {
			return restutil.NotFound(errors.New("queue not found"))
		}
		return err
	}

	view := &QueueView{
		Name:                q.Name,
		Address:             key,
		Authority:           q.Authority,
		UpdateAuthority:     q.UpdateAuthority,
		Capacity:            q.Capacity,
		MinCrankReward:      q.MinCrankReward,
		StaleTaskAge:        q.StaleTaskAge,
		NextAvailableTaskID: q.NextAvailableTaskID,
		Tasks:               []TaskView{},
	}
	for id := uint16(0); id < q.Capacity; id++ {
		if !q.SlotUsed(id) {
			continue
		}
		t, err := qs.tasks.GetTask(key, id)
		if err != nil {
			return err
		}
		view.Tasks = append(view.Tasks, TaskView{
			ID:          t.ID,
			TriggerKind: t.Trigger.Kind,
			Timestamp:   t.Trigger.Timestamp,
			SourceKind:  t.Transaction.Kind,
			CrankReward: t.CrankReward,
			FreeTasks:   t.FreeTasks,
			RentRefund:  t.RentRefund,
			QueuedAt:    t.QueuedAt,
			Description: t.Description,
		})
	}
	return restutil.WriteJSON(w, view)
}

func (qs *Queues) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()
	sub.Path("/{name}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(qs.handleGetQueue))
}
