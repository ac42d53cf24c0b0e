// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package bidder implements the message-driven Bidder component: on
// TaskAnnouncement it computes at most one bid (the best
// across every announced task and every valid insertion point) plus a
// no-bid for each task it could not fit anywhere; on TaskContract it
// adopts the previously placed bid's STN snapshots into its own
// timetable.
package bidder

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/ropod-project/mrta/internal/bidding"
	"github.com/ropod-project/mrta/internal/planner"
	"github.com/ropod-project/mrta/internal/stn"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

// TaskLookup resolves a task_id to the task record the bidder needs to
// check frozen-position status and delivery locations. Backed by
// internal/store in the full process; a plain map suffices in tests.
type TaskLookup func(taskID string) (*structs.Task, bool)

// Bidder is one robot's bidding component. It owns no network transport
// itself; ComputeBids and OnTaskContract are pure with respect to the
// wire, returning the values a caller (internal/transport's dispatch
// table) publishes.
type Bidder struct {
	RobotID        string
	Timetable      *timetable.Timetable
	Solver         stn.Solver
	TemporalMetric bidding.TemporalMetric
	Planner        planner.Planner
	Lookup         TaskLookup
	Pose           string // live pose, used as the insertion_point==1 previous position

	logger    hclog.Logger
	bidPlaced *structs.Bid
}

// New constructs a Bidder. A nil Planner falls back to planner.Sentinel,
// and a nil logger falls back to a discarding logger.
func New(robotID string, tt *timetable.Timetable, solver stn.Solver, temporalMetric bidding.TemporalMetric, plnr planner.Planner, lookup TaskLookup, logger hclog.Logger) *Bidder {
	if plnr == nil {
		plnr = planner.SentinelPlanner{}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Bidder{
		RobotID:        robotID,
		Timetable:      tt,
		Solver:         solver,
		TemporalMetric: temporalMetric,
		Planner:        plnr,
		Lookup:         lookup,
		logger:         logger.Named("bidder").With("robot_id", robotID),
	}
}

// ComputeBids handles one TaskAnnouncement. It
// updates the timetable's zero timepoint, evaluates every announced task,
// and returns at most one Bid (the globally best across tasks, nil if
// none fit anywhere) plus one NoBid per task with no feasible insertion.
func (b *Bidder) ComputeBids(ann structs.TaskAnnouncementPayload) (*structs.Bid, []structs.NoBidPayload) {
	b.Timetable.UpdateZTP(ann.ZeroTimepoint)

	tasks := append([]*structs.Task(nil), ann.Tasks...)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID < tasks[j].TaskID })

	var best *structs.Bid
	var noBids []structs.NoBidPayload
	for _, task := range tasks {
		bid, ok := b.bestBidForTask(task, ann.RoundID)
		if !ok {
			noBids = append(noBids, structs.NoBidPayload{RobotID: b.RobotID, RoundID: ann.RoundID, TaskID: task.TaskID})
			continue
		}
		if best == nil || structs.BetterBid(bid, *best) {
			b2 := bid
			best = &b2
		}
	}

	b.bidPlaced = best
	return best, noBids
}

// bestBidForTask enumerates every valid insertion point for task
// (i in 1..k+1, skipping frozen positions) and returns the best bid
// found. Every infeasible
// insertion point's error is folded into a single aggregate so a task with
// no feasible insertion at all reports why, across every position it
// tried, in one Debug line instead of one per position.
func (b *Bidder) bestBidForTask(task *structs.Task, roundID string) (structs.Bid, bool) {
	k := b.Timetable.STN.TaskCount()
	var best *structs.Bid
	var errs *multierror.Error

	for i := 1; i <= k+1; i++ {
		if !b.insertionAllowed(i) {
			continue
		}

		prevPosition := b.previousPosition(i)
		travel := b.travelTime(prevPosition, task)

		bid, err := bidding.ComputeBid(b.RobotID, roundID, task, i, b.Timetable, travel, b.Solver, b.TemporalMetric)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("insertion point %d: %w", i, err))
			continue
		}

		if best == nil || structs.BetterBid(bid, *best) {
			best = &bid
		}
	}

	if best == nil {
		if errs != nil {
			b.logger.Debug("no feasible insertion point", "task_id", task.TaskID, "error", errs.ErrorOrNil())
		}
		return structs.Bid{}, false
	}
	return *best, true
}

// insertionAllowed reports whether insertion point i is free to receive a
// newly-inserted task. A position already holding a task whose status has
// advanced beyond ALLOCATED is frozen and must be skipped.
func (b *Bidder) insertionAllowed(i int) bool {
	taskID := b.Timetable.STN.TaskIDAtPosition(i)
	if taskID == "" {
		return true
	}
	if b.Lookup == nil {
		return true
	}
	existing, ok := b.Lookup(taskID)
	if !ok {
		return true
	}
	return existing.Status == structs.StatusAllocated
}

// previousPosition resolves where the robot will be coming from:
// its live pose for i==1, else the delivery location of the task
// at i-1.
func (b *Bidder) previousPosition(i int) string {
	if i == 1 {
		return b.Pose
	}
	prevTaskID := b.Timetable.STN.TaskIDAtPosition(i - 1)
	if prevTaskID == "" || b.Lookup == nil {
		return b.Pose
	}
	prevTask, ok := b.Lookup(prevTaskID)
	if !ok {
		return b.Pose
	}
	return prevTask.DeliveryLocation
}

// travelTime asks the configured planner for the duration from
// prevPosition to task's pickup location, falling back to the sentinel
// estimate on any planner error. The estimate is recorded onto the task's
// own constraint map so later stages see the same number the bid was
// computed against.
func (b *Bidder) travelTime(prevPosition string, task *structs.Task) stn.Edge {
	est, err := b.Planner.EstimateTravelTime(prevPosition, task.PickupLocation)
	if err != nil {
		b.logger.Warn("planner failed, using sentinel", "error", err)
		est = planner.Sentinel
	}
	task.UpdateConstraint("travel_time", est.Mean, est.Variance)
	return timetable.EdgeFromConstraint(structs.TemporalConstraint{Mean: est.Mean, Variance: est.Variance})
}

// OnTaskContract handles a TaskContract: if the
// contract names this robot, it atomically adopts the placed bid's STN
// snapshots, marks the task ALLOCATED and assigned to self, and reports
// the acknowledgement payload to send. ok is false if the contract names
// a different robot, or if no bid was placed for this task (a protocol
// violation the caller should log).
func (b *Bidder) OnTaskContract(contract structs.TaskContractPayload) (structs.TaskContractAcknowledgementPayload, bool) {
	if contract.RobotID != b.RobotID {
		return structs.TaskContractAcknowledgementPayload{}, false
	}
	if b.bidPlaced == nil || b.bidPlaced.TaskID != contract.TaskID {
		b.logger.Warn("task contract does not match placed bid", "task_id", contract.TaskID)
		return structs.TaskContractAcknowledgementPayload{}, false
	}

	b.Timetable.STN = b.bidPlaced.STN
	b.Timetable.Dispatchable = b.bidPlaced.Dispatchable

	if task, ok := b.Lookup(contract.TaskID); ok {
		task.Status = structs.StatusAllocated
		task.AssignedRobots = []string{b.RobotID}
	}

	b.bidPlaced = nil
	return structs.TaskContractAcknowledgementPayload{RobotID: b.RobotID, TaskID: contract.TaskID}, true
}
