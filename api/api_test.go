// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helium/hpl/api/queues"
	"github.com/helium/hpl/builtin/circuitbreaker"
	"github.com/helium/hpl/builtin/dao"
	"github.com/helium/hpl/builtin/subdao"
	"github.com/helium/hpl/builtin/token"
	"github.com/helium/hpl/health"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/kv"
	"github.com/helium/hpl/runtime"
	"github.com/helium/hpl/state"
	"github.com/helium/hpl/tuktuk"
)

func newTestServer(t *testing.T) (*httptest.Server, *health.Health, *tuktuk.Service) {
	t.Helper()
	st := state.New(kv.NewMem())
	payer := hpl.BytesToAddress([]byte("payer"))
	require.NoError(t, st.AddLamports(payer, 1_000_000_000))

	cfg := &hpl.Config{}
	rt := runtime.New(st, cfg)
	subs := subdao.New(st)
	brk := circuitbreaker.New(st, token.New(st))
	daos := dao.New(st, cfg, subs, brk)
	tasks := tuktuk.New(st, rt)

	_, err := tasks.InitQueue(tuktuk.TaskQueue{
		Name:           "web",
		Authority:      payer,
		Capacity:       8,
		MinCrankReward: 5,
		StaleTaskAge:   3600,
	}, payer)
	require.NoError(t, err)

	h := health.New(health.DefaultMaxPassGap)
	server := httptest.NewServer(New(h, daos, subs, tasks, Config{}))
	t.Cleanup(server.Close)
	return server, h, tasks
}

func TestHealthEndpoint(t *testing.T) {
	server, h, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	h.BootstrapStatus(true)
	h.NewPass()

	resp, err = http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Healthy)
	assert.WithinDuration(t, time.Now(), *status.CrankIngestion.LastPass, time.Second)
}

func TestQueueEndpoint(t *testing.T) {
	server, _, tasks := newTestServer(t)
	payer := hpl.BytesToAddress([]byte("payer"))

	queueKey := tuktuk.QueueKey("web")
	_, err := tasks.QueueTask(queueKey, tuktuk.Task{
		Trigger:     tuktuk.Trigger{Kind: tuktuk.TriggerTimestamp, Timestamp: 1_700_000_000},
		Transaction: tuktuk.TransactionSource{Kind: tuktuk.SourceCompiled},
		CrankReward: 10,
		Description: "probe",
	}, 1_699_000_000, payer)
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/queues/web")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view queues.QueueView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "web", view.Name)
	assert.Equal(t, uint16(8), view.Capacity)
	require.Len(t, view.Tasks, 1)
	assert.Equal(t, "probe", view.Tasks[0].Description)
	assert.Equal(t, uint64(10), view.Tasks[0].CrankReward)

	resp, err = http.Get(server.URL + "/queues/absent")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEpochEndpointNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/epochs/daos/" + hpl.BytesToAddress([]byte("dao")).String() + "/21010")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
