// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package eventdb persists events emitted by committed transactions in an
// append-only sqlite log, queryable by epoch range, program and key.
package eventdb

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/metrics"
	"github.com/helium/hpl/runtime"
)

const eventTableSchema = `
create table if not exists event (
	seq integer primary key autoincrement,
	ts integer not null,
	epoch integer not null,
	program text not null,
	kind text not null,
	key blob not null,
	amount integer not null
);

create index if not exists eventEpochIndex on event(epoch);
create index if not exists eventKeyIndex on event(key);
`

var appendedCounter = metrics.Counter("eventdb_appended_total")

// Order describes the sort order of filtered events.
type Order string

const (
	ASC  Order = "asc"
	DESC Order = "desc"
)

// Range limits a filter to an inclusive epoch range.
type Range struct {
	From uint64
	To   uint64
}

// Options paginates filter results.
type Options struct {
	Offset uint64
	Limit  uint64
}

// Filter selects events. Zero-valued fields match everything.
type Filter struct {
	Range   *Range
	Program string
	Kind    string
	Key     *hpl.Address
	Order   Order
	Options *Options
}

// EventDB is the sqlite-backed event log.
type EventDB struct {
	path string
	db   *sql.DB
}

// New creates or opens an event db at the given path.
func New(path string) (eventDB *EventDB, err error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if eventDB == nil {
			db.Close()
		}
	}()
	if _, err := db.Exec(eventTableSchema); err != nil {
		return nil, err
	}
	return &EventDB{path, db}, nil
}

// NewMem creates an event db in ram.
func NewMem() (*EventDB, error) {
	return New(":memory:")
}

// Close closes the event db.
func (db *EventDB) Close() {
	db.db.Close()
}

func (db *EventDB) Path() string {
	return db.path
}

// Append writes a batch of committed events in one transaction. It implements
// runtime.EventSink.
func (db *EventDB) Append(events []runtime.Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare("INSERT INTO event(ts, epoch, program, kind, key, amount) VALUES(?,?,?,?,?,?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err = stmt.Exec(ev.Ts, ev.Epoch, ev.Program, ev.Kind, ev.Key.Bytes(), ev.Amount); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	appendedCounter.Add(int64(len(events)))
	return nil
}

// FilterEvents returns the events matching the filter in seq order.
func (db *EventDB) FilterEvents(ctx context.Context, filter *Filter) ([]*runtime.Event, error) {
	if filter == nil {
		return db.queryEvents(ctx, "SELECT ts, epoch, program, kind, key, amount FROM event ORDER BY seq ASC")
	}
	var args []interface{}
	stmt := "SELECT ts, epoch, program, kind, key, amount FROM event WHERE 1"
	if filter.Range != nil {
		args = append(args, filter.Range.From)
		stmt += " AND epoch >= ? "
		if filter.Range.To >= filter.Range.From {
			args = append(args, filter.Range.To)
			stmt += " AND epoch <= ? "
		}
	}
	if filter.Program != "" {
		args = append(args, filter.Program)
		stmt += " AND program = ? "
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		stmt += " AND kind = ? "
	}
	if filter.Key != nil {
		args = append(args, filter.Key.Bytes())
		stmt += " AND key = ? "
	}

	if filter.Order == DESC {
		stmt += " ORDER BY seq DESC "
	} else {
		stmt += " ORDER BY seq ASC "
	}

	if filter.Options != nil {
		stmt += " limit ?, ? "
		args = append(args, filter.Options.Offset, filter.Options.Limit)
	}
	return db.queryEvents(ctx, stmt, args...)
}

func (db *EventDB) queryEvents(ctx context.Context, stmt string, args ...interface{}) ([]*runtime.Event, error) {
	rows, err := db.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*runtime.Event
	for rows.Next() {
		var (
			ev  runtime.Event
			key []byte
		)
		if err := rows.Scan(&ev.Ts, &ev.Epoch, &ev.Program, &ev.Kind, &key, &ev.Amount); err != nil {
			return nil, err
		}
		ev.Key = hpl.BytesToAddress(key)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
