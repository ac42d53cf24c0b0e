// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package robot wires one robot's components (bidder, schedule monitor,
// executor, timetable, store) into the single cooperative loop each
// robot process runs: the network layer delivers messages to typed
// handlers, and Tick drives execution of the dispatched queue.
package robot

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ropod-project/mrta/internal/bidder"
	"github.com/ropod-project/mrta/internal/config"
	"github.com/ropod-project/mrta/internal/executor"
	"github.com/ropod-project/mrta/internal/monitor"
	"github.com/ropod-project/mrta/internal/store"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
	"github.com/ropod-project/mrta/internal/transport"
)

// Wire is the outbound half of the transport a robot publishes through:
// group broadcasts plus the targeted reply path to the allocator.
// transport.Node satisfies it; tests substitute an in-memory fan-out.
type Wire interface {
	Broadcast(env structs.Envelope) error
	SendToAllocator(env structs.Envelope) error
}

// Robot is one robot process: bidder, schedule monitor and executor
// sharing a single timetable, driven by Tick from a single loop.
type Robot struct {
	RobotID   string
	Timetable *timetable.Timetable
	Bidder    *bidder.Bidder
	Monitor   *monitor.ScheduleMonitor
	Executor  *executor.Executor
	Store     *store.Store

	recovery monitor.RecoveryMethod
	wire     Wire
	logger   hclog.Logger

	// Execution state of the single task currently ONGOING: the task id
	// and the wall-clock instant its current action is expected to
	// finish (the action's mean duration past its start).
	currentTask    string
	actionDeadline time.Time
}

// New builds a Robot from its configuration. position is the named
// location the robot bids from: its live pose, the previous position
// when bidding for the head of the queue.
func New(cfg *config.Config, robotID, position string, st *store.Store, wire Wire, logger hclog.Logger) (*Robot, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	solver, err := cfg.Solver()
	if err != nil {
		return nil, err
	}
	metric, err := cfg.Temporal()
	if err != nil {
		return nil, err
	}

	tt := timetable.New(robotID, time.Time{}, solver)
	if dict, ok, err := st.GetTimetable(robotID); err == nil && ok {
		tt = timetable.FromDict(dict, solver)
	}

	r := &Robot{
		RobotID:   robotID,
		Timetable: tt,
		Store:     st,
		recovery:  cfg.Recovery(),
		wire:      wire,
		logger:    logger.Named("robot").With("robot_id", robotID),
	}
	r.Bidder = bidder.New(robotID, tt, solver, metric, nil, r.lookupTask, logger)
	r.Bidder.Pose = position
	r.Monitor = monitor.New(robotID, tt, cfg.Recovery(), nil, r.lookupTask, logger)
	r.Executor = executor.New(robotID, tt, logger)
	return r, nil
}

func (r *Robot) lookupTask(taskID string) (*structs.Task, bool) {
	task, ok, err := r.Store.GetTask(taskID)
	if err != nil || !ok {
		return nil, false
	}
	return task, true
}

// RegisterHandlers binds every robot-side message type to its callback
// on table.
func (r *Robot) RegisterHandlers(table *transport.DispatchTable) {
	table.On(structs.MsgTaskAnnouncement, func(p interface{}) error {
		return r.onAnnouncement(*p.(*structs.TaskAnnouncementPayload))
	})
	table.On(structs.MsgTaskContract, func(p interface{}) error {
		return r.onContract(*p.(*structs.TaskContractPayload))
	})
	table.On(structs.MsgDGraphUpdate, func(p interface{}) error {
		return r.onDGraphUpdate(*p.(*structs.DGraphUpdatePayload), false)
	})
	table.On(structs.MsgDispatchQueueUpdate, func(p interface{}) error {
		return r.onDGraphUpdate(*p.(*structs.DGraphUpdatePayload), true)
	})
	table.On(structs.MsgTaskStatus, func(p interface{}) error {
		return r.onTaskStatus(*p.(*structs.TaskStatusPayload))
	})
	table.On(structs.MsgStartTest, func(p interface{}) error {
		r.Timetable.UpdateZTP(p.(*structs.StartTestPayload).InitialTime)
		return nil
	})
}

// onAnnouncement stores the announced tasks, computes this robot's best
// bid, and replies: the bid over unicast to the auctioneer, one NO-BID
// per task with no feasible insertion.
func (r *Robot) onAnnouncement(ann structs.TaskAnnouncementPayload) error {
	for _, task := range ann.Tasks {
		if _, ok := r.lookupTask(task.TaskID); ok {
			continue
		}
		if err := r.Store.PutTask(task); err != nil {
			return err
		}
	}

	best, noBids := r.Bidder.ComputeBids(ann)
	if best != nil {
		env, err := structs.NewEnvelope(structs.MsgBid, best.ToPayload())
		if err != nil {
			return err
		}
		r.send(env)
		r.logger.Debug("bid placed", "round_id", ann.RoundID, "task_id", best.TaskID,
			"risk", best.RiskMetric, "temporal", best.TemporalMetric)
	}
	for _, nb := range noBids {
		env, err := structs.NewEnvelope(structs.MsgNoBid, nb)
		if err != nil {
			return err
		}
		r.send(env)
	}
	return nil
}

// send prefers the unicast reply path; an unresolved allocator falls
// back to the group, where the auctioneer picks the message up anyway.
func (r *Robot) send(env structs.Envelope) {
	if err := r.wire.SendToAllocator(env); err != nil {
		r.logger.Debug("unicast to allocator failed, broadcasting", "type", env.Header.Type, "error", err)
		if err := r.wire.Broadcast(env); err != nil {
			r.logger.Error("broadcast", "type", env.Header.Type, "error", err)
		}
	}
}

// onContract adopts a won bid into the timetable, persists it and
// acknowledges.
func (r *Robot) onContract(contract structs.TaskContractPayload) error {
	ack, ok := r.Bidder.OnTaskContract(contract)
	if !ok {
		return nil
	}
	if task, found := r.lookupTask(contract.TaskID); found {
		if err := r.Store.PutTask(task); err != nil {
			return err
		}
	}
	if err := r.Store.PutTimetable(r.Timetable.ToDict()); err != nil {
		return err
	}

	env, err := structs.NewEnvelope(structs.MsgTaskContractAcknowledgement, ack)
	if err != nil {
		return err
	}
	if err := r.wire.Broadcast(env); err != nil {
		r.logger.Error("broadcast contract acknowledgement", "task_id", ack.TaskID, "error", err)
	}
	r.logger.Info("contract accepted", "task_id", contract.TaskID, "round_id", contract.RoundID)
	return nil
}

// onDGraphUpdate applies an incoming graph push from the allocator:
// a re-schedule robot
// replaces its graphs outright, any other recovery method merges — here,
// adopts the push only while nothing has been executed yet, so a frozen
// execution prefix is never clobbered by a stale allocator view. A
// dispatch-queue push additionally freezes the tasks it carries.
func (r *Robot) onDGraphUpdate(p structs.DGraphUpdatePayload, dispatching bool) error {
	if p.RobotID != "" && p.RobotID != r.RobotID {
		return nil
	}
	s, err := structs.DecodeGraph(p.STN)
	if err != nil {
		return err
	}
	d, err := structs.DecodeGraph(p.DispatchableGraph)
	if err != nil {
		return err
	}
	if s == nil || d == nil {
		return nil
	}

	replace := r.recovery == monitor.RecoveryReschedule
	if replace || !r.hasExecutedEdges() {
		r.Timetable.STN = s
		r.Timetable.Dispatchable = d
		if !p.ZTP.IsZero() {
			r.Timetable.UpdateZTP(p.ZTP)
		}
	} else {
		r.logger.Debug("kept local graphs over incoming update", "type_dispatching", dispatching)
	}

	if dispatching {
		for _, taskID := range s.TaskIDs() {
			task, ok := r.lookupTask(taskID)
			if !ok || task.Status != structs.StatusAllocated {
				continue
			}
			task.Status = structs.StatusDispatched
			if err := r.Store.PutTask(task); err != nil {
				return err
			}
		}
	}
	return r.Store.PutTimetable(r.Timetable.ToDict())
}

func (r *Robot) hasExecutedEdges() bool {
	for _, e := range r.Timetable.STN.Edges {
		if e.Executed {
			return true
		}
	}
	return false
}

// onTaskStatus mirrors fleet-wide status changes that concern this robot
// into its own store (e.g. the dispatcher's DISPATCHED flip).
func (r *Robot) onTaskStatus(status structs.TaskStatusPayload) error {
	if status.RobotID != r.RobotID {
		return nil
	}
	task, ok := r.lookupTask(status.TaskID)
	if !ok {
		return nil
	}
	task.Status = status.Status
	task.Delayed = task.Delayed || status.Delayed
	return r.Store.PutTask(task)
}

// nowSec converts a wall-clock instant to the timetable's seconds offset.
func (r *Robot) nowSec(now time.Time) float64 {
	return now.Sub(r.Timetable.ZTP).Seconds()
}

// Tick is one iteration of the robot loop: start the next dispatched
// task once its start time arrives, or progress the ongoing one. Action
// completion is simulated at the action's mean duration past its start,
// standing in for the real platform the core deliberately excludes.
func (r *Robot) Tick(now time.Time) {
	if r.Timetable.ZTP.IsZero() {
		return
	}
	if r.currentTask == "" {
		r.maybeStartNext(now)
		return
	}
	if now.Before(r.actionDeadline) {
		return
	}
	r.progress(now)
}

// maybeStartNext begins executing the head-of-queue DISPATCHED task if
// its earliest start has arrived.
func (r *Robot) maybeStartNext(now time.Time) {
	for _, taskID := range r.Timetable.STN.TaskIDs() {
		task, ok := r.lookupTask(taskID)
		if !ok || task.Status != structs.StatusDispatched {
			continue
		}
		start, err := r.Timetable.GetStartTime(taskID, true)
		if err != nil || now.Before(start) {
			return
		}
		r.begin(task, now)
		return
	}
}

// begin flips a task to ONGOING and assigns its first action's start.
func (r *Robot) begin(task *structs.Task, now time.Time) {
	task.Status = structs.StatusOngoing
	if err := r.Store.PutTask(task); err != nil {
		r.logger.Error("persist ongoing task", "task_id", task.TaskID, "error", err)
		return
	}
	r.broadcastStatus(task, false)

	if !r.startAction(task, now) {
		return
	}
	r.currentTask = task.TaskID
	r.logger.Info("execution started", "task_id", task.TaskID)
}

// startAction assigns the current action's start timepoint and arms the
// completion deadline. Returns false when the assignment was
// inconsistent and the task got re-allocated instead.
func (r *Robot) startAction(task *structs.Task, now time.Time) bool {
	outcome, err := r.Executor.StartAction(task, r.nowSec(now))
	if err != nil {
		r.logger.Error("start action", "task_id", task.TaskID, "error", err)
		return false
	}
	if outcome.Reallocated {
		if err := r.Store.PutTask(task); err != nil {
			r.logger.Error("persist re-allocated task", "task_id", task.TaskID, "error", err)
		}
		r.broadcastStatus(task, false)
		r.currentTask = ""
		return false
	}

	action := task.CurrentAction()
	mean := task.Constraints[action.Name].Mean
	r.actionDeadline = now.Add(time.Duration(mean * float64(time.Second)))
	if err := r.Store.PutTask(task); err != nil {
		r.logger.Error("persist task", "task_id", task.TaskID, "error", err)
	}
	return true
}

// progress completes the due action, runs the schedule monitor, and
// either finishes the task or starts its next action.
func (r *Robot) progress(now time.Time) {
	task, ok := r.lookupTask(r.currentTask)
	if !ok {
		r.currentTask = ""
		return
	}

	if _, err := r.Executor.CompleteAction(task); err != nil {
		r.logger.Error("complete action", "task_id", task.TaskID, "error", err)
		r.currentTask = ""
		return
	}
	if err := r.Store.PutTask(task); err != nil {
		r.logger.Error("persist task", "task_id", task.TaskID, "error", err)
	}

	r.checkSchedule(task, now)

	if executor.IsTaskComplete(task) {
		r.finish(task, now)
		return
	}
	r.startAction(task, now)
}

// checkSchedule runs the late-successor test after an action
// completion and publishes whatever the fired recovery demands.
func (r *Robot) checkSchedule(task *structs.Task, now time.Time) {
	var remaining []timetable.ActionEstimate
	for _, a := range task.Actions {
		if a.Status == structs.ActionCompleted {
			continue
		}
		c := task.Constraints[a.Name]
		remaining = append(remaining, timetable.ActionEstimate{Mean: c.Mean, Variance: c.Variance})
	}

	outcome, err := r.Monitor.Check(task.TaskID, r.nowSec(now), remaining)
	if err != nil {
		r.logger.Warn("schedule check", "task_id", task.TaskID, "error", err)
		return
	}
	if outcome == nil {
		return
	}
	r.logger.Warn("recovery fired", "method", outcome.Method, "current", outcome.CurrentTaskID, "next", outcome.NextTaskID)

	for _, status := range outcome.StatusUpdates {
		if t, ok := r.lookupTask(status.TaskID); ok {
			if err := r.Store.PutTask(t); err != nil {
				r.logger.Error("persist recovered task", "task_id", status.TaskID, "error", err)
			}
		}
		env, err := structs.NewEnvelope(structs.MsgTaskStatus, status)
		if err == nil {
			if err := r.wire.Broadcast(env); err != nil {
				r.logger.Error("broadcast recovery status", "task_id", status.TaskID, "error", err)
			}
		}
	}
	if outcome.AssignmentUpdate != nil {
		env, err := structs.NewEnvelope(structs.MsgAssignmentUpdate, *outcome.AssignmentUpdate)
		if err == nil {
			if err := r.wire.Broadcast(env); err != nil {
				r.logger.Error("broadcast assignment update", "error", err)
			}
		}
	}
	if err := r.Store.PutTimetable(r.Timetable.ToDict()); err != nil {
		r.logger.Error("persist timetable", "error", err)
	}
}

// finish completes the ongoing task: COMPLETED status fleet-wide, the
// record archived, the timetable persisted.
func (r *Robot) finish(task *structs.Task, now time.Time) {
	task.Status = structs.StatusCompleted
	if err := r.Store.PutTask(task); err != nil {
		r.logger.Error("persist completed task", "task_id", task.TaskID, "error", err)
	}
	r.broadcastStatus(task, false)

	if err := r.Store.Archive(task, r.RobotID, now.UTC(), r.Timetable.ToDict()); err != nil {
		r.logger.Warn("archive completed task", "task_id", task.TaskID, "error", err)
	}
	if err := r.Store.PutTimetable(r.Timetable.ToDict()); err != nil {
		r.logger.Error("persist timetable", "error", err)
	}
	r.currentTask = ""
	r.logger.Info("execution finished", "task_id", task.TaskID)
}

func (r *Robot) broadcastStatus(task *structs.Task, delayed bool) {
	env, err := structs.NewEnvelope(structs.MsgTaskStatus, structs.TaskStatusPayload{
		TaskID:  task.TaskID,
		RobotID: r.RobotID,
		Status:  task.Status,
		Delayed: delayed || task.Delayed,
	})
	if err != nil {
		return
	}
	if err := r.wire.Broadcast(env); err != nil {
		r.logger.Error("broadcast task status", "task_id", task.TaskID, "error", err)
	}
}

// PosePayload is the ROBOT-POSE announcement a robot broadcasts at
// startup so the allocator registers it into the fleet.
func (r *Robot) PosePayload(pose structs.Pose) structs.RobotPosePayload {
	return structs.RobotPosePayload{RobotID: r.RobotID, Pose: pose}
}

// Run drives Tick at interval until stop closes.
func (r *Robot) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			r.Tick(now)
		case <-stop:
			return
		}
	}
}
