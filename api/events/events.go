// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package events exposes the committed event log over HTTP.
package events

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/helium/hpl/api/restutil"
	"github.com/helium/hpl/eventdb"
)

// maxLimit caps a single filter response.
const maxLimit = 1000

type Events struct {
	db *eventdb.EventDB
}

func New(db *eventdb.EventDB) *Events {
	return &Events{db: db}
}

func (e *Events) handleFilter(w http.ResponseWriter, req *http.Request) error {
	var filter eventdb.Filter
	if err := restutil.ParseJSON(req.Body, &filter); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}
	if filter.Options == nil {
		filter.Options = &eventdb.Options{Limit: maxLimit}
	} else if filter.Options.Limit > maxLimit {
		return restutil.Forbidden(errors.New("options.limit exceeds the maximum allowed value"))
	}
	found, err := e.db.FilterEvents(req.Context(), &filter)
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, found)
}

func (e *Events) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()
	sub.Path("").Methods(http.MethodPost).HandlerFunc(restutil.WrapHandlerFunc(e.handleFilter))
}
