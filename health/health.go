// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package health tracks liveness of the crank loop for the /health endpoint.
package health

import (
	"sync"
	"time"
)

// DefaultMaxPassGap the maximum tolerated silence between crank passes.
const DefaultMaxPassGap = 2 * time.Minute

type CrankIngestion struct {
	LastPass        *time.Time `json:"lastPass"`
	LastClosedEpoch uint64     `json:"lastClosedEpoch"`
}

type Status struct {
	Healthy        bool            `json:"healthy"`
	CrankIngestion *CrankIngestion `json:"crankIngestion"`
	Bootstrapped   bool            `json:"bootstrapped"`
}

type Health struct {
	lock            sync.RWMutex
	maxPassGap      time.Duration
	lastPass        time.Time
	lastClosedEpoch uint64
	bootstrapped    bool
}

func New(maxPassGap time.Duration) *Health {
	return &Health{maxPassGap: maxPassGap}
}

// NewPass records the completion of a crank pass over the task queues.
func (h *Health) NewPass() {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.lastPass = time.Now()
}

// EpochClosed records the highest epoch observed fully rewarded.
func (h *Health) EpochClosed(epoch uint64) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if epoch > h.lastClosedEpoch {
		h.lastClosedEpoch = epoch
	}
}

// BootstrapStatus flags that startup (state open, queue discovery) finished.
func (h *Health) BootstrapStatus(done bool) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.bootstrapped = done
}

func (h *Health) Status() (*Status, error) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	ingestion := &CrankIngestion{
		LastPass:        &h.lastPass,
		LastClosedEpoch: h.lastClosedEpoch,
	}

	healthy := h.bootstrapped &&
		!h.lastPass.IsZero() &&
		time.Since(h.lastPass) <= h.maxPassGap

	return &Status{
		Healthy:        healthy,
		CrankIngestion: ingestion,
		Bootstrapped:   h.bootstrapped,
	}, nil
}
