// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package api assembles the HTTP surface: health, signature verification and
// read-only views of epochs, queues and the event log.
package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/helium/hpl/api/epochs"
	"github.com/helium/hpl/api/events"
	"github.com/helium/hpl/api/queues"
	"github.com/helium/hpl/api/restutil"
	"github.com/helium/hpl/api/verifier"
	"github.com/helium/hpl/builtin/dao"
	"github.com/helium/hpl/builtin/subdao"
	"github.com/helium/hpl/eventdb"
	"github.com/helium/hpl/health"
	"github.com/helium/hpl/metrics"
	"github.com/helium/hpl/tuktuk"
)

// Config the assembly options of the HTTP surface.
type Config struct {
	// Verifier serves POST /verify when set.
	Verifier *verifier.Verifier
	// EventDB serves POST /events when set.
	EventDB *eventdb.EventDB
	// EnableMetrics serves GET /metrics and wraps handlers with request
	// metrics.
	EnableMetrics bool
}

// New returns the assembled HTTP handler.
func New(
	healthStatus *health.Health,
	daos *dao.Service,
	subs *subdao.Service,
	tasks *tuktuk.Service,
	cfg Config,
) http.Handler {
	router := mux.NewRouter()

	router.Path("/health").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
			status, err := healthStatus.Status()
			if err != nil {
				return err
			}
			if !status.Healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			return restutil.WriteJSON(w, status)
		}))

	epochs.New(daos, subs).Mount(router, "/epochs")
	queues.New(tasks).Mount(router, "/queues")
	if cfg.Verifier != nil {
		cfg.Verifier.Mount(router, "/verify")
	}
	if cfg.EventDB != nil {
		events.New(cfg.EventDB).Mount(router, "/events")
	}
	if cfg.EnableMetrics {
		router.Path("/metrics").Methods(http.MethodGet).Handler(metrics.Handler())
	}

	handler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedHeaders([]string{"content-type"}),
	)(router)
	if cfg.EnableMetrics {
		handler = metricsHandler(handler)
	}
	return handler
}
