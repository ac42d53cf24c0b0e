// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package executor implements the per-robot Executor: it
// drives the ongoing task's action list, assigning actual start
// timepoints and executing completed edges. Unlike internal/monitor's
// ScheduleMonitor (which reacts to the *next* task running late), the
// Executor's own re-allocation trigger fires on the *current* task when
// its own action-start assignment turns out inconsistent.
package executor

import (
	"errors"

	"github.com/hashicorp/go-hclog"

	"github.com/ropod-project/mrta/internal/stn"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

// ErrNoCurrentAction is returned when a task has no remaining action to
// start or complete.
var ErrNoCurrentAction = errors.New("executor: no current action")

// Outcome reports what one Executor call did: either an action status
// transition to publish, or a re-allocation of the task itself (its own
// action-start assignment turned out inconsistent).
type Outcome struct {
	TaskID      string
	ActionID    string
	Status      structs.ActionStatus
	Reallocated bool
}

// Executor drives one robot's currently-ongoing task.
type Executor struct {
	RobotID   string
	Timetable *timetable.Timetable

	logger hclog.Logger
}

// New constructs an Executor.
func New(robotID string, tt *timetable.Timetable, logger hclog.Logger) *Executor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Executor{RobotID: robotID, Timetable: tt, logger: logger.Named("executor").With("robot_id", robotID)}
}

// nodeTypesFor maps an action's Name (matching internal/timetable's
// constraint names) to the STN node types its start and finish pin.
func nodeTypesFor(actionName string) (start, finish stn.NodeType) {
	if actionName == timetable.ConstraintPickupDelivery {
		return stn.NodePickup, stn.NodeDelivery
	}
	return stn.NodeStart, stn.NodePickup
}

// StartAction assigns the
// actual start time (nowSec, seconds since the fleet's zero timepoint) to
// task's current action. If the assignment would be inconsistent with the
// rest of the timetable, the task itself is evicted and reported via
// Outcome.Reallocated so the caller can re-announce it, rather than
// returning an error — an inconsistent assignment on one's own task is an
// expected, recoverable outcome, not a fault.
func (e *Executor) StartAction(task *structs.Task, nowSec float64) (*Outcome, error) {
	action := task.CurrentAction()
	if action == nil {
		return nil, ErrNoCurrentAction
	}
	startType, _ := nodeTypesFor(action.Name)

	err := e.Timetable.AssignTimepoint(nowSec, task.TaskID, startType)
	if errors.Is(err, stn.ErrInconsistentAssignment) {
		e.logger.Warn("inconsistent action-start assignment, re-allocating task", "task_id", task.TaskID, "action_id", action.ActionID)
		task.Status = structs.StatusUnallocated
		_ = e.Timetable.RemoveTask(task.TaskID, stn.Edge{})
		return &Outcome{TaskID: task.TaskID, Reallocated: true}, nil
	}
	if err != nil {
		return nil, err
	}

	action.Status = structs.ActionOngoing
	return &Outcome{TaskID: task.TaskID, ActionID: action.ActionID, Status: structs.ActionOngoing}, nil
}

// CompleteAction executes
// the STN edge the finishing action owns, advances the action
// list, and report the action's COMPLETED status.
func (e *Executor) CompleteAction(task *structs.Task) (*Outcome, error) {
	action := task.CurrentAction()
	if action == nil {
		return nil, ErrNoCurrentAction
	}
	startType, finishType := nodeTypesFor(action.Name)

	fromIdx := e.Timetable.NodeIndex(task.TaskID, startType)
	toIdx := e.Timetable.NodeIndex(task.TaskID, finishType)
	if fromIdx < 0 || toIdx < 0 {
		return nil, timetable.ErrTaskNotFound
	}

	if err := e.Timetable.ExecuteEdge(task.TaskID, fromIdx, toIdx); err != nil {
		return nil, err
	}

	action.Status = structs.ActionCompleted
	return &Outcome{TaskID: task.TaskID, ActionID: action.ActionID, Status: structs.ActionCompleted}, nil
}

// IsTaskComplete reports whether every action on task has completed.
func IsTaskComplete(task *structs.Task) bool {
	return task.CurrentAction() == nil
}
