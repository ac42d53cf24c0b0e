// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package structs holds the plain data types shared across the allocator
// and robot processes: tasks, bids, contracts and the wire message
// envelope. Behavior lives on the components that own these values
// (Timetable, Auctioneer, ...), not on the types themselves.
package structs

import "fmt"

// TaskStatus is the lifecycle state of a Task. Status advances
// monotonically except that recovery may push a task back to
// StatusUnallocated.
type TaskStatus string

const (
	StatusUnallocated TaskStatus = "UNALLOCATED"
	StatusAllocated   TaskStatus = "ALLOCATED"
	StatusPlanned     TaskStatus = "PLANNED"
	StatusDispatched  TaskStatus = "DISPATCHED"
	StatusScheduled   TaskStatus = "SCHEDULED"
	StatusOngoing     TaskStatus = "ONGOING"
	StatusCompleted   TaskStatus = "COMPLETED"
	StatusPreempted   TaskStatus = "PREEMPTED"
	StatusCanceled    TaskStatus = "CANCELED"
	StatusAborted     TaskStatus = "ABORTED"
)

// Terminal reports whether no further status transition is expected for a
// task in this state (used by the fleet termination check).
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPreempted, StatusCanceled, StatusAborted:
		return true
	default:
		return false
	}
}

// TemporalConstraint is the mean/variance pair the path planner returns for
// a named inter-timepoint edge (e.g. "travel_time", "pickup-delivery"),
// plus the hard/soft flag the alternative-timeslot escalation flips.
type TemporalConstraint struct {
	Mean     float64
	Variance float64
	Soft     bool
}

// ActionStatus is the lifecycle state of one Action within a Task's
// action list.
type ActionStatus string

const (
	ActionPlanned   ActionStatus = "PLANNED"
	ActionOngoing   ActionStatus = "ONGOING"
	ActionCompleted ActionStatus = "COMPLETED"
)

// Action is one step of a Task's action list, driven by the Executor.
// Name matches the constraint name of the STN edge it drives
// (ConstraintStartPickup or ConstraintPickupDelivery in internal/timetable),
// so the executor can resolve which edge to force/execute without a
// separate lookup table.
type Action struct {
	ActionID string
	Name     string
	Status   ActionStatus
}

// Task is the allocator/robot shared view of one transportation request.
// TaskID is immutable identity; every other field mutates over the task's
// lifecycle.
type Task struct {
	TaskID           string
	Status           TaskStatus
	AssignedRobots   []string
	PickupLocation   string
	DeliveryLocation string

	// EarliestStartSec/LatestStartSec are seconds offsets from the fleet's
	// zero timepoint (ztp), matching the STN's own time base.
	EarliestStartSec float64
	LatestStartSec   float64

	// Constraints maps an inter-timepoint edge name to its estimated
	// duration and hard/soft flag.
	Constraints map[string]TemporalConstraint

	// Actions is the ordered action list the Executor drives:
	// by construction exactly two per task (navigate-to-pickup,
	// navigate-to-delivery), mirroring the two edges every task triple
	// carries in internal/stn.
	Actions []*Action

	Delayed bool
}

// CurrentAction returns the first non-COMPLETED action, or nil if every
// action has completed.
func (t *Task) CurrentAction() *Action {
	for _, a := range t.Actions {
		if a.Status != ActionCompleted {
			return a
		}
	}
	return nil
}

// NextAction returns the action immediately following the one named
// afterName, or nil if afterName is the last action.
func (t *Task) NextAction(afterName string) *Action {
	for i, a := range t.Actions {
		if a.Name == afterName && i+1 < len(t.Actions) {
			return t.Actions[i+1]
		}
	}
	return nil
}

// Clone returns a deep copy so callers (e.g. a Bid snapshot) never alias
// the allocator's or a robot's live task record.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.AssignedRobots = append([]string(nil), t.AssignedRobots...)
	out.Constraints = make(map[string]TemporalConstraint, len(t.Constraints))
	for k, v := range t.Constraints {
		out.Constraints[k] = v
	}
	out.Actions = make([]*Action, len(t.Actions))
	for i, a := range t.Actions {
		cp := *a
		out.Actions[i] = &cp
	}
	return &out
}

// UpdateConstraint sets or replaces the named inter-timepoint constraint.
func (t *Task) UpdateConstraint(name string, mean, variance float64) {
	if t.Constraints == nil {
		t.Constraints = make(map[string]TemporalConstraint)
	}
	c := t.Constraints[name]
	c.Mean = mean
	c.Variance = variance
	t.Constraints[name] = c
}

// SetSoftConstraints flips every constraint on the task to soft, the
// alternative-timeslot escalation path.
func (t *Task) SetSoftConstraints() {
	for name, c := range t.Constraints {
		c.Soft = true
		t.Constraints[name] = c
	}
}

// Soft reports whether the task's constraints have been relaxed by
// SetSoftConstraints, allowing a bidder to offer an alternative start
// time outside the requested window.
func (t *Task) Soft() bool {
	for _, c := range t.Constraints {
		if c.Soft {
			return true
		}
	}
	return false
}

func (t *Task) String() string {
	return fmt.Sprintf("Task(%s, status=%s, robots=%v)", t.TaskID, t.Status, t.AssignedRobots)
}
