// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package bidding implements the pure bidding rule: given
// a candidate insertion, clone the timetable's STN, splice the task in,
// solve, and score the result. It has no side effects and touches no
// shared state — every call operates on (and returns) independent STN
// snapshots.
package bidding

import (
	"math"

	"github.com/ropod-project/mrta/internal/stn"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

// ComputeBid evaluates one candidate insertion:
//  1. clone the timetable's STN and insert task at insertionPoint with
//     travel as the preceding cross-task edge;
//  2. solve for the candidate dispatchable graph (stn.ErrNoSolution is
//     returned unwrapped — callers skip this insertion point);
//  3. score the candidate with solver's risk metric and the requested
//     temporal metric;
//  4. return a Bid carrying both candidate graphs.
//
// tt is read-only: ComputeBid never mutates the caller's timetable.
//
// When the task's requested start window makes the insertion infeasible
// but its constraints have been relaxed to soft (the alternative-timeslot
// escalation), the window's closing bound is lifted and
// the insertion retried; a bid produced this way carries the earliest
// feasible start as its AlternativeStartTime.
func ComputeBid(robotID, roundID string, task *structs.Task, insertionPoint int, tt *timetable.Timetable, travel stn.Edge, solver stn.Solver, temporalMetric TemporalMetric) (structs.Bid, error) {
	trial, startIdx := spliced(task, insertionPoint, tt, travel, false)

	var alternativeStart *float64
	dispatchable, err := solver.Solve(trial)
	if err != nil {
		if !task.Soft() {
			return structs.Bid{}, err
		}
		trial, startIdx = spliced(task, insertionPoint, tt, travel, true)
		dispatchable, err = solver.Solve(trial)
		if err != nil {
			return structs.Bid{}, err
		}
		alt, err := dispatchable.EarliestTime(startIdx)
		if err != nil {
			return structs.Bid{}, err
		}
		alternativeStart = &alt
	}

	temporal, err := temporalMetric(dispatchable, task.TaskID)
	if err != nil {
		return structs.Bid{}, err
	}

	return structs.Bid{
		RobotID:              robotID,
		RoundID:              roundID,
		TaskID:               task.TaskID,
		RiskMetric:           solver.RiskMetric(dispatchable),
		TemporalMetric:       temporal,
		InsertionPoint:       insertionPoint,
		STN:                  trial,
		Dispatchable:         dispatchable,
		AlternativeStartTime: alternativeStart,
	}, nil
}

// spliced clones tt's STN and splices task in at insertionPoint, wiring
// the start window unless relaxWindow lifts its closing bound.
func spliced(task *structs.Task, insertionPoint int, tt *timetable.Timetable, travel stn.Edge, relaxWindow bool) (*stn.STN, int) {
	trial := tt.STN.Clone()
	prevNode := tt.PredecessorNode(insertionPoint)
	startIdx := trial.InsertTaskTriple(task.TaskID, insertionPoint,
		edgeFor(task, timetable.ConstraintStartPickup),
		edgeFor(task, timetable.ConstraintPickupDelivery),
		travel, prevNode)

	if relaxWindow {
		relaxed := task.Clone()
		relaxed.LatestStartSec = math.Inf(1)
		timetable.WireStartWindow(trial, relaxed, startIdx, prevNode, travel)
	} else {
		timetable.WireStartWindow(trial, task, startIdx, prevNode, travel)
	}
	return trial, startIdx
}

func edgeFor(task *structs.Task, name string) stn.Edge {
	c := task.Constraints[name]
	return timetable.EdgeFromConstraint(c)
}
