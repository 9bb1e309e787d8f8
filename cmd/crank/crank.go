// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/helium/hpl/builtin/dao"
	"github.com/helium/hpl/health"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/log"
	"github.com/helium/hpl/metrics"
	"github.com/helium/hpl/tuktuk"
)

var (
	metricTasksRun    = metrics.CounterVec("crank_tasks_run_count", []string{"queue"})
	metricTaskErrors  = metrics.CounterVec("crank_task_errors_count", []string{"queue"})
	metricTasksStale  = metrics.Counter("crank_tasks_retired_count")
	metricRewards     = metrics.Counter("crank_rewards_lamports")
	metricQueueDepth  = metrics.GaugeVec("crank_queue_depth", []string{"queue"})
	metricPassElapsed = metrics.Histogram("crank_pass_ms")
)

// crank drives the task queues: every interval it evaluates triggers, runs
// due tasks and retires stale ones.
type crank struct {
	tasks    *tuktuk.Service
	daos     *dao.Service
	queues   []string
	wallet   hpl.Address
	daoKey   *hpl.Address
	interval time.Duration
	health   *health.Health
	client   *http.Client
	logger   *slog.Logger
}

func newCrank(
	tasks *tuktuk.Service,
	daos *dao.Service,
	queues []string,
	wallet hpl.Address,
	daoKey *hpl.Address,
	interval time.Duration,
	h *health.Health,
) *crank {
	return &crank{
		tasks:    tasks,
		daos:     daos,
		queues:   queues,
		wallet:   wallet,
		daoKey:   daoKey,
		interval: interval,
		health:   h,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   log.New("pkg", "crank"),
	}
}

// Run loops until the context is canceled.
func (c *crank) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.pass(uint64(time.Now().Unix()))
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *crank) pass(now uint64) {
	started := time.Now()
	for _, name := range c.queues {
		c.crankQueue(name, now)
	}
	if c.daoKey != nil {
		if d, err := c.daos.GetDao(*c.daoKey); err == nil {
			c.health.EpochClosed(d.LastRewardedEpoch)
		}
	}
	c.health.NewPass()
	metricPassElapsed.Observe(time.Since(started).Milliseconds())
}

func (c *crank) crankQueue(name string, now uint64) {
	queueKey := tuktuk.QueueKey(name)
	q, err := c.tasks.GetQueue(queueKey)
	if err != nil {
		c.logger.Warn("failed to load queue", "queue", name, "err", err)
		return
	}

	depth := int64(0)
	for id := uint16(0); id < q.Capacity; id++ {
		if !q.SlotUsed(id) {
			continue
		}
		depth++
		t, err := c.tasks.GetTask(queueKey, id)
		if err != nil {
			c.logger.Warn("failed to load task", "queue", name, "id", id, "err", err)
			continue
		}

		if q.StaleTaskAge > 0 && now >= t.QueuedAt+q.StaleTaskAge {
			if err := c.tasks.RetireStaleTask(queueKey, id, now, c.wallet); err == nil {
				metricTasksStale.Add(1)
				c.logger.Info("retired stale task", "queue", name, "id", id)
			}
			continue
		}

		if err := c.runTask(queueKey, t, now); err != nil {
			if errors.Is(err, tuktuk.ErrTaskNotTriggered) {
				continue
			}
			metricTaskErrors.AddWithLabel(1, map[string]string{"queue": name})
			c.logger.Warn("task failed", "queue", name, "id", id, "err", err)
			continue
		}
		metricTasksRun.AddWithLabel(1, map[string]string{"queue": name})
		metricRewards.Add(int64(t.CrankReward))
		c.logger.Debug("task run", "queue", name, "id", id, "reward", t.CrankReward)
	}
	metricQueueDepth.GaugeWithLabel(depth, map[string]string{"queue": name})
}

func (c *crank) runTask(queueKey hpl.Address, t *tuktuk.Task, now uint64) error {
	var remoteTx, remoteSig []byte
	if t.Transaction.Kind == tuktuk.SourceRemote {
		var err error
		if remoteTx, remoteSig, err = c.fetchRemote(t.Transaction.Remote.URL); err != nil {
			return err
		}
	}
	_, err := c.tasks.RunTask(queueKey, t.ID, t.QueuedAt, now, c.wallet, remoteTx, remoteSig)
	return err
}

// remoteResponse the payload a remote transaction source serves.
type remoteResponse struct {
	Transaction string `json:"transaction"`
	Signature   string `json:"signature"`
}

func (c *crank) fetchRemote(url string) ([]byte, []byte, error) {
	resp, err := c.client.Get(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fetch remote transaction")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, errors.Errorf("remote transaction source responded %d", resp.StatusCode)
	}

	var body remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, errors.Wrap(err, "decode remote transaction")
	}
	tx, err := base64.StdEncoding.DecodeString(body.Transaction)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decode remote transaction")
	}
	sig, err := base64.StdEncoding.DecodeString(body.Signature)
	if err != nil {
		return nil, nil, errors.Wrap(err, "decode remote signature")
	}
	return tx, sig, nil
}
