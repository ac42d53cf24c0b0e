// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package monitor implements the per-robot ScheduleMonitor, which
// detects an at-risk successor task and fires delay recovery, and the
// allocator-side FleetMonitor/TimetableMonitor aggregators.
package monitor

import (
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"

	"github.com/ropod-project/mrta/internal/planner"
	"github.com/ropod-project/mrta/internal/stn"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

// RecoveryMethod selects which of the three strategies a robot's
// ScheduleMonitor fires on a late next-task.
type RecoveryMethod string

const (
	RecoveryReallocate RecoveryMethod = "re-allocate"
	RecoveryReschedule RecoveryMethod = "re-schedule"
	RecoveryAbort      RecoveryMethod = "abort"
)

// TaskLookup resolves a task_id to its mutable record.
type TaskLookup func(taskID string) (*structs.Task, bool)

// Outcome reports what a firing recovery did, and what the caller must
// publish: zero or more TASK-STATUS messages, and an ASSIGNMENT-UPDATE for
// the re-schedule strategy.
type Outcome struct {
	Method         RecoveryMethod
	CurrentTaskID  string
	NextTaskID     string
	StatusUpdates  []structs.TaskStatusPayload
	AssignmentUpdate *structs.AssignmentUpdatePayload
}

// ScheduleMonitor checks, after each action completion, whether the task
// following the one currently executing is at risk of running late, and
// if so fires its configured recovery strategy exactly once per
// (current, next) pair.
type ScheduleMonitor struct {
	RobotID  string
	Timetable *timetable.Timetable
	Method   RecoveryMethod
	Planner  planner.Planner
	Lookup   TaskLookup

	fired  *set.Set[string]
	logger hclog.Logger
}

// New constructs a ScheduleMonitor. A nil Planner falls back to
// planner.SentinelPlanner, matching the bidder's own default.
func New(robotID string, tt *timetable.Timetable, method RecoveryMethod, plnr planner.Planner, lookup TaskLookup, logger hclog.Logger) *ScheduleMonitor {
	if plnr == nil {
		plnr = planner.SentinelPlanner{}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ScheduleMonitor{
		RobotID:   robotID,
		Timetable: tt,
		Method:    method,
		Planner:   plnr,
		Lookup:    lookup,
		fired:     set.New[string](0),
		logger:    logger.Named("schedule_monitor").With("robot_id", robotID),
	}
}

func pairKey(current, next string) string { return current + "->" + next }

// Check runs the two-step late test: resolve current's
// immediate successor, and if it is at risk of running late, fire
// recovery. Returns (nil, nil) when there is no next task or it is not
// late. remaining is the current task's not-yet-completed action duration
// estimates, and lastKnownTime is the current task's last confirmed
// timepoint (both as required by Timetable.IsNextTaskLate).
func (m *ScheduleMonitor) Check(currentTaskID string, lastKnownTime float64, remaining []timetable.ActionEstimate) (*Outcome, error) {
	nextTaskID, ok := m.Timetable.GetNextTask(currentTaskID)
	if !ok {
		return nil, nil
	}

	late, err := m.Timetable.IsNextTaskLate(currentTaskID, lastKnownTime, remaining, nextTaskID)
	if err != nil {
		return nil, err
	}
	if !late {
		return nil, nil
	}

	return m.recover(currentTaskID, nextTaskID)
}

// recover fires the configured strategy, but only the first time this
// exact (current, next) pair is seen; repeats are a silent no-op.
func (m *ScheduleMonitor) recover(current, next string) (*Outcome, error) {
	key := pairKey(current, next)
	if m.fired.Contains(key) {
		return nil, nil
	}
	m.fired.Insert(key)

	m.logger.Debug("firing recovery", "method", m.Method, "current", current, "next", next)

	switch m.Method {
	case RecoveryReallocate:
		return m.reallocate(current, next)
	case RecoveryAbort:
		return m.abort(current, next)
	case RecoveryReschedule:
		return m.reschedule(current, next)
	default:
		return nil, nil
	}
}

// reallocate marks the
// current task delayed, emits its status, then evicts next from this
// robot's timetable entirely and emit its status as UNALLOCATED so the
// allocator re-auctions it.
func (m *ScheduleMonitor) reallocate(current, next string) (*Outcome, error) {
	var updates []structs.TaskStatusPayload

	if currentTask, ok := m.Lookup(current); ok {
		currentTask.Delayed = true
		updates = append(updates, structs.TaskStatusPayload{TaskID: current, RobotID: m.RobotID, Status: currentTask.Status, Delayed: true})
	}

	travel := m.restitchTravel(current, next)
	if err := m.Timetable.RemoveTask(next, travel); err != nil {
		return nil, err
	}

	if nextTask, ok := m.Lookup(next); ok {
		nextTask.Status = structs.StatusUnallocated
	}
	updates = append(updates, structs.TaskStatusPayload{TaskID: next, RobotID: m.RobotID, Status: structs.StatusUnallocated})

	return &Outcome{Method: RecoveryReallocate, CurrentTaskID: current, NextTaskID: next, StatusUpdates: updates}, nil
}

// abort evicts next and emits
// its status as ABORTED. The current task is left untouched.
func (m *ScheduleMonitor) abort(current, next string) (*Outcome, error) {
	travel := m.restitchTravel(current, next)
	if err := m.Timetable.RemoveTask(next, travel); err != nil {
		return nil, err
	}

	if nextTask, ok := m.Lookup(next); ok {
		nextTask.Status = structs.StatusAborted
	}

	return &Outcome{
		Method: RecoveryAbort, CurrentTaskID: current, NextTaskID: next,
		StatusUpdates: []structs.TaskStatusPayload{{TaskID: next, RobotID: m.RobotID, Status: structs.StatusAborted}},
	}, nil
}

// reschedule evicts no
// task; the caller broadcasts an ASSIGNMENT-UPDATE built from
// the robot's own recomputed dispatchable graph, which the allocator
// merges into its shadow rather than replacing it outright.
func (m *ScheduleMonitor) reschedule(current, next string) (*Outcome, error) {
	assignments := m.assignmentsFromDispatchable()
	return &Outcome{
		Method: RecoveryReschedule, CurrentTaskID: current, NextTaskID: next,
		AssignmentUpdate: &structs.AssignmentUpdatePayload{RobotID: m.RobotID, Assignments: assignments, Replace: false},
	}, nil
}

// restitchTravel re-estimates the travel edge current's robot will need
// once evicted is removed: from current's delivery location to whatever
// task follows evicted (if any). Falls back to the planner sentinel on
// any lookup/estimation failure, mirroring the bidder's own fallback.
func (m *ScheduleMonitor) restitchTravel(current, evicted string) stn.Edge {
	sentinel := timetable.EdgeFromConstraint(structs.TemporalConstraint{Mean: planner.Sentinel.Mean, Variance: planner.Sentinel.Variance})
	after, ok := m.Timetable.GetNextTask(evicted)
	if !ok {
		return stn.Edge{}
	}
	if m.Lookup == nil {
		return sentinel
	}
	currentTask, curOK := m.Lookup(current)
	afterTask, afOK := m.Lookup(after)
	if !curOK || !afOK {
		return sentinel
	}
	est, err := m.Planner.EstimateTravelTime(currentTask.DeliveryLocation, afterTask.PickupLocation)
	if err != nil {
		est = planner.Sentinel
	}
	return timetable.EdgeFromConstraint(structs.TemporalConstraint{Mean: est.Mean, Variance: est.Variance})
}

// assignmentsFromDispatchable reads every task currently in the
// dispatchable graph as an Assignment snapshot, for the re-schedule
// broadcast.
func (m *ScheduleMonitor) assignmentsFromDispatchable() []structs.Assignment {
	var out []structs.Assignment
	for _, taskID := range m.Timetable.STN.TaskIDs() {
		start, err1 := m.Timetable.GetStartTime(taskID, true)
		pickup, err2 := m.Timetable.GetPickupTime(taskID, true)
		delivery, err3 := m.Timetable.GetDeliveryTime(taskID, true)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		out = append(out, structs.Assignment{TaskID: taskID, StartTime: start, PickupTime: pickup, DeliveryTime: delivery})
	}
	return out
}
