// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package dispatch implements the allocator-side Dispatcher: it polls
// the shadow timetables the auctioneer commits into and
// freezes a task from ALLOCATED to DISPATCHED once its dispatchable
// graph's earliest start falls within dispatch_lead of now.
package dispatch

import (
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

// TaskLookup resolves a task_id to the mutable task record the dispatcher
// freezes in place.
type TaskLookup func(taskID string) (*structs.Task, bool)

// Release is one task handed to its owning robot this poll, in dispatch
// order (earliest_start ascending, ties by task_id).
type Release struct {
	TaskID       string
	RobotID      string
	EarliestStart time.Time
}

// Dispatcher owns no timetables itself; it reads the allocator's shadow
// copies through Shadows and mutates task records through Lookup.
type Dispatcher struct {
	Shadows     *timetable.Manager
	Lookup      TaskLookup
	DispatchLead time.Duration

	logger hclog.Logger
}

// New constructs a Dispatcher. dispatchLead is the lead time before a
// task's earliest start at which it gets frozen and released.
func New(shadows *timetable.Manager, lookup TaskLookup, dispatchLead time.Duration, logger hclog.Logger) *Dispatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Dispatcher{
		Shadows:      shadows,
		Lookup:       lookup,
		DispatchLead: dispatchLead,
		logger:       logger.Named("dispatcher"),
	}
}

// candidate pairs a queued task with its computed earliest start, for
// sorting before the freeze decision is applied.
type candidate struct {
	taskID  string
	robotID string
	start   time.Time
}

// Poll scans the fleet: for every ALLOCATED task across every
// robot's shadow timetable whose earliest_start has come within
// DispatchLead of now, flip it to DISPATCHED and return it as a Release,
// in earliest-start order (ties broken by task_id). Tasks not yet due are
// left untouched and will be reconsidered on the next Poll.
func (d *Dispatcher) Poll(now time.Time) []Release {
	var candidates []candidate
	for _, robotID := range d.Shadows.RobotIDs() {
		tt := d.Shadows.Get(robotID)
		for _, taskID := range tt.STN.TaskIDs() {
			task, ok := d.Lookup(taskID)
			if !ok || task.Status != structs.StatusAllocated {
				continue
			}
			start, err := tt.GetStartTime(taskID, true)
			if err != nil {
				d.logger.Warn("no earliest start for queued task", "task_id", taskID, "error", err)
				continue
			}
			if now.Before(start.Add(-d.DispatchLead)) {
				continue
			}
			candidates = append(candidates, candidate{taskID: taskID, robotID: robotID, start: start})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].start.Equal(candidates[j].start) {
			return candidates[i].start.Before(candidates[j].start)
		}
		return candidates[i].taskID < candidates[j].taskID
	})

	releases := make([]Release, 0, len(candidates))
	for _, c := range candidates {
		task, ok := d.Lookup(c.taskID)
		if !ok {
			continue
		}
		task.Status = structs.StatusDispatched
		d.logger.Debug("dispatched task", "task_id", c.taskID, "robot_id", c.robotID, "earliest_start", c.start)
		releases = append(releases, Release{TaskID: c.taskID, RobotID: c.robotID, EarliestStart: c.start})
	}
	return releases
}
