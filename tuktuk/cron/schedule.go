// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package cron builds recurring jobs on the task queue: each occurrence runs
// a job body and re-enqueues the next one behind a timestamp trigger.
package cron

import (
	"time"

	"github.com/pkg/errors"
	robfig "github.com/robfig/cron/v3"
)

// ErrBadSchedule the cron expression does not parse.
var ErrBadSchedule = errors.New("bad cron schedule")

var parser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor)

// ParseSchedule validates a five-field cron expression or descriptor.
func ParseSchedule(spec string) (robfig.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Wrapf(ErrBadSchedule, "%q: %v", spec, err)
	}
	return sched, nil
}

// NextTime returns the first occurrence of the schedule strictly after now,
// as a unix timestamp.
func NextTime(spec string, now uint64) (uint64, error) {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return 0, err
	}
	next := sched.Next(time.Unix(int64(now), 0).UTC())
	return uint64(next.Unix()), nil
}
