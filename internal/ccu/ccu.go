// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package ccu wires the allocator-side components (auctioneer,
// dispatcher, fleet/timetable monitors, shadow timetables, store,
// metrics) into the single cooperative loop the central coordination
// unit runs: the network layer delivers messages to typed handlers, and
// Tick drives round timing and dispatch polling.
package ccu

import (
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ropod-project/mrta/internal/auction"
	"github.com/ropod-project/mrta/internal/config"
	"github.com/ropod-project/mrta/internal/dispatch"
	"github.com/ropod-project/mrta/internal/metrics"
	"github.com/ropod-project/mrta/internal/monitor"
	"github.com/ropod-project/mrta/internal/store"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
	"github.com/ropod-project/mrta/internal/transport"
)

// Wire is the outbound half of the transport the CCU publishes through.
// transport.Node satisfies it; tests substitute an in-memory fan-out.
type Wire interface {
	Broadcast(env structs.Envelope) error
	SendTo(robotID string, env structs.Envelope) error
}

// CCU is the allocator process: the auctioneer, its shadow timetables,
// the dispatcher and the fleet-wide monitors, driven by Tick from a
// single loop. All state is owned by that loop; handlers registered via
// RegisterHandlers run on the same loop (transport delivers messages to
// callbacks that run to completion).
type CCU struct {
	Auctioneer *auction.Auctioneer
	Dispatcher *dispatch.Dispatcher
	Fleet      *monitor.FleetMonitor
	Timetables *monitor.TimetableMonitor
	Shadows    *timetable.Manager
	Store      *store.Store
	Metrics    *metrics.Registry

	cfg    *config.Config
	wire   Wire
	logger hclog.Logger

	started bool
	ztp     time.Time
	poses   map[string]structs.Pose
}

// New builds a CCU from its configuration. The store starts empty; tasks
// arrive via LoadTasks and robots register via ROBOT-POSE broadcasts.
func New(cfg *config.Config, st *store.Store, wire Wire, logger hclog.Logger) (*CCU, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	solver, err := cfg.Solver()
	if err != nil {
		return nil, err
	}

	shadows := timetable.NewManager(solver)
	c := &CCU{
		Shadows: shadows,
		Store:   st,
		Fleet:   monitor.NewFleetMonitor(),
		Metrics: metrics.New(),
		cfg:     cfg,
		wire:    wire,
		logger:  logger.Named("ccu"),
		poses:   make(map[string]structs.Pose),
	}
	c.Auctioneer = auction.NewAuctioneer(cfg.RoundTime(), cfg.AlternativeTimeslots, cfg.NTasksQueue, shadows, logger)
	c.Dispatcher = dispatch.New(shadows, c.lookupTask, cfg.DispatchLead(), logger)
	c.Timetables = monitor.NewTimetableMonitor(shadows)
	return c, nil
}

// lookupTask adapts the store to the TaskLookup signature the dispatcher
// and monitors consume. Missing records are a soft failure:
// skip, never fail.
func (c *CCU) lookupTask(taskID string) (*structs.Task, bool) {
	task, ok, err := c.Store.GetTask(taskID)
	if err != nil || !ok {
		return nil, false
	}
	return task, true
}

// LoadTasks writes tasks into the store as UNALLOCATED, ready for the
// next round to announce.
func (c *CCU) LoadTasks(tasks []*structs.Task) error {
	for _, task := range tasks {
		task.Status = structs.StatusUnallocated
		if err := c.Store.PutTask(task); err != nil {
			return err
		}
		c.Fleet.Observe(structs.TaskStatusPayload{TaskID: task.TaskID, Status: structs.StatusUnallocated})
	}
	c.logger.Info("loaded tasks", "count", len(tasks))
	return nil
}

// RegisterRobot adds a robot to the fleet: an empty shadow timetable
// anchored at the fleet ztp, persisted to the shadow collection.
func (c *CCU) RegisterRobot(robotID string, pose structs.Pose) {
	c.poses[robotID] = pose
	if c.Shadows.Get(robotID) != nil {
		return
	}
	tt := c.Shadows.RegisterRobot(robotID, c.ztp)
	if err := c.Store.PutShadowTimetable(tt.ToDict()); err != nil {
		c.logger.Warn("persist shadow timetable", "robot_id", robotID, "error", err)
	}
	c.logger.Info("registered robot", "robot_id", robotID)
}

// Start anchors the fleet's zero timepoint and opens the allocation
// loop; the START-TEST message triggers it remotely.
func (c *CCU) Start(initial time.Time) {
	c.ztp = initial
	c.Shadows.SetZTP(initial)
	c.started = true
	c.logger.Info("allocation started", "ztp", initial)
}

// Started reports whether Start has been called.
func (c *CCU) Started() bool { return c.started }

// RegisterHandlers binds every allocator-side message type to its
// callback on table.
func (c *CCU) RegisterHandlers(table *transport.DispatchTable) {
	table.On(structs.MsgBid, func(p interface{}) error {
		payload := p.(*structs.BidPayload)
		bid, err := structs.BidFromPayload(*payload)
		if err != nil {
			return err
		}
		c.Metrics.BidsReceived.Inc()
		c.Auctioneer.HandleBid(bid)
		return nil
	})
	table.On(structs.MsgNoBid, func(p interface{}) error {
		c.Metrics.NoBidsReceived.Inc()
		c.Auctioneer.HandleNoBid(*p.(*structs.NoBidPayload))
		return nil
	})
	table.On(structs.MsgTaskContractAcknowledgement, func(p interface{}) error {
		ack := p.(*structs.TaskContractAcknowledgementPayload)
		c.logger.Debug("contract acknowledged", "task_id", ack.TaskID, "robot_id", ack.RobotID)
		return nil
	})
	table.On(structs.MsgTaskStatus, func(p interface{}) error {
		return c.onTaskStatus(*p.(*structs.TaskStatusPayload))
	})
	table.On(structs.MsgDGraphUpdate, func(p interface{}) error {
		return c.onDGraphUpdate(*p.(*structs.DGraphUpdatePayload))
	})
	table.On(structs.MsgAssignmentUpdate, func(p interface{}) error {
		upd := p.(*structs.AssignmentUpdatePayload)
		c.Shadows.ApplyAssignmentUpdate(upd.RobotID, upd.Assignments)
		c.Metrics.RecoveriesFired.WithLabelValues(string(monitor.RecoveryReschedule)).Inc()
		c.logger.Info("assignment update merged", "robot_id", upd.RobotID, "assignments", len(upd.Assignments))
		return nil
	})
	table.On(structs.MsgRobotPose, func(p interface{}) error {
		pose := p.(*structs.RobotPosePayload)
		c.RegisterRobot(pose.RobotID, pose.Pose)
		return nil
	})
	table.On(structs.MsgStartTest, func(p interface{}) error {
		c.Start(p.(*structs.StartTestPayload).InitialTime)
		return nil
	})
}

// onTaskStatus folds a TASK-STATUS broadcast into the fleet monitor and
// the task store, counting recoveries and archiving terminal tasks.
func (c *CCU) onTaskStatus(status structs.TaskStatusPayload) error {
	c.Fleet.Observe(status)

	task, ok := c.lookupTask(status.TaskID)
	if !ok {
		c.logger.Warn("status for unknown task", "task_id", status.TaskID)
		return nil
	}
	task.Status = status.Status
	task.Delayed = task.Delayed || status.Delayed

	switch status.Status {
	case structs.StatusUnallocated:
		// A robot evicted the task (re-allocate recovery): clear the old
		// allocation so the next round can award it again.
		delete(c.Auctioneer.Allocations, status.TaskID)
		if status.RobotID != "" {
			c.Metrics.RecoveriesFired.WithLabelValues(string(monitor.RecoveryReallocate)).Inc()
		}
	case structs.StatusCompleted:
		c.Metrics.TasksCompleted.Inc()
	case structs.StatusAborted:
		c.Metrics.TasksAborted.Inc()
		if status.RobotID != "" {
			c.Metrics.RecoveriesFired.WithLabelValues(string(monitor.RecoveryAbort)).Inc()
		}
	}

	if err := c.Store.PutTask(task); err != nil {
		return err
	}
	if status.Status.Terminal() {
		var dict timetable.Dict
		if tt := c.Shadows.Get(status.RobotID); tt != nil {
			dict = tt.ToDict()
		}
		return c.Store.Archive(task, status.RobotID, time.Now().UTC(), dict)
	}
	return nil
}

// onDGraphUpdate refreshes the reporting robot's shadow timetable with
// its broadcast graphs.
func (c *CCU) onDGraphUpdate(p structs.DGraphUpdatePayload) error {
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
	c.Timetables.Observe(timetable.DGraphUpdate{RobotID: p.RobotID, ZTP: p.ZTP, STN: s, Dispatchable: d})
	if tt := c.Shadows.Get(p.RobotID); tt != nil {
		return c.Store.PutShadowTimetable(tt.ToDict())
	}
	return nil
}

// Tick is one iteration of the allocator loop: close or open an auction
// round, then poll the dispatcher. Timers are checked here rather than
// on their own goroutines, keeping all state on one loop.
func (c *CCU) Tick(now time.Time) {
	if !c.started {
		return
	}

	if r := c.Auctioneer.Current; r != nil && r.State == auction.StateOpen {
		res, err := c.Auctioneer.CloseRound(now)
		switch {
		case errors.Is(err, auction.ErrRoundStillOpen):
		case err != nil:
			c.logger.Error("close round", "error", err)
		default:
			c.Metrics.RoundsClosed.Inc()
			c.Metrics.RoundDuration.Observe(now.Sub(r.OpenTime).Seconds())
			c.handleClose(res, r.ID, now)
		}
	} else {
		c.maybeOpenRound(now, "")
	}

	for _, rel := range c.Dispatcher.Poll(now) {
		c.release(rel)
	}
}

// maybeOpenRound announces every UNALLOCATED task in a new round, if any.
func (c *CCU) maybeOpenRound(now time.Time, retryOf string) {
	pending, err := c.Store.TasksByStatus(structs.StatusUnallocated)
	if err != nil {
		c.logger.Error("list unallocated tasks", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	ann, err := c.Auctioneer.OpenRound(now, c.ztp, pending, retryOf)
	if err != nil {
		c.logger.Error("open round", "error", err)
		return
	}
	c.Metrics.RoundsOpened.Inc()

	env, err := structs.NewEnvelope(structs.MsgTaskAnnouncement, ann)
	if err != nil {
		c.logger.Error("build announcement", "error", err)
		return
	}
	if err := c.wire.Broadcast(env); err != nil {
		c.logger.Error("broadcast announcement", "round_id", ann.RoundID, "error", err)
	}
}

// handleClose applies a closed round's outcome: soft-constraint retry,
// NoAllocation, or commit.
func (c *CCU) handleClose(res auction.CloseResult, roundID string, now time.Time) {
	switch {
	case res.Retry:
		for _, taskID := range res.RetryTasks {
			task, ok := c.lookupTask(taskID)
			if !ok {
				continue
			}
			task.SetSoftConstraints()
			if err := c.Store.PutTask(task); err != nil {
				c.logger.Error("persist relaxed task", "task_id", taskID, "error", err)
			}
		}
		c.logger.Warn("re-announcing with soft constraints", "round_id", roundID, "tasks", res.RetryTasks)
		c.maybeOpenRound(now, roundID)

	case res.NoAllocation:
		c.Metrics.NoAllocations.Inc()
		c.logger.Warn("no allocation", "round_id", roundID)

	default:
		c.commit(res)
	}
}

// commit finishes a won round: persist the allocation, deliver the
// contract to the winner and, when the insertion falls inside the
// dispatch window, push the updated dispatchable graph.
func (c *CCU) commit(res auction.CloseResult) {
	winner := res.Winner

	if task, ok := c.lookupTask(winner.TaskID); ok {
		task.Status = structs.StatusAllocated
		task.AssignedRobots = []string{winner.RobotID}
		if err := c.Store.PutTask(task); err != nil {
			c.logger.Error("persist allocated task", "task_id", winner.TaskID, "error", err)
		}
	}
	if tt := c.Shadows.Get(winner.RobotID); tt != nil {
		if err := c.Store.PutShadowTimetable(tt.ToDict()); err != nil {
			c.logger.Warn("persist shadow timetable", "robot_id", winner.RobotID, "error", err)
		}
	}

	contract := auction.TaskContractFor(winner)
	env, err := structs.NewEnvelope(structs.MsgTaskContract, contract)
	if err != nil {
		c.logger.Error("build contract", "error", err)
		return
	}
	if err := c.wire.SendTo(winner.RobotID, env); err != nil {
		c.logger.Warn("unicast contract failed, broadcasting", "robot_id", winner.RobotID, "error", err)
		if err := c.wire.Broadcast(env); err != nil {
			c.logger.Error("broadcast contract", "error", err)
			return
		}
	}
	c.Metrics.ContractsIssued.Inc()
	c.logger.Info("contract issued", "task_id", winner.TaskID, "robot_id", winner.RobotID, "round_id", winner.RoundID)

	if res.AlternativeTimeSlot {
		c.logger.Warn("alternative time slot granted", "task_id", winner.TaskID, "start", *winner.AlternativeStartTime)
	}
	if res.ScheduleDGraphUpdate {
		c.pushDGraph(winner.RobotID, structs.MsgDGraphUpdate)
	}
}

// release hands one dispatched task to its owning robot: a TASK-STATUS
// broadcast flips its fleet-wide state, and a DISPATCH-QUEUE-UPDATE
// carries the frozen front of the robot's queue.
func (c *CCU) release(rel dispatch.Release) {
	if task, ok := c.lookupTask(rel.TaskID); ok {
		if err := c.Store.PutTask(task); err != nil {
			c.logger.Error("persist dispatched task", "task_id", rel.TaskID, "error", err)
		}
	}
	status := structs.TaskStatusPayload{TaskID: rel.TaskID, RobotID: rel.RobotID, Status: structs.StatusDispatched}
	c.Fleet.Observe(status)
	env, err := structs.NewEnvelope(structs.MsgTaskStatus, status)
	if err == nil {
		if err := c.wire.Broadcast(env); err != nil {
			c.logger.Error("broadcast dispatch status", "task_id", rel.TaskID, "error", err)
		}
	}
	c.pushDGraph(rel.RobotID, structs.MsgDispatchQueueUpdate)
}

// pushDGraph sends the first-n-tasks subgraph of robotID's shadow
// timetable to that robot.
func (c *CCU) pushDGraph(robotID string, msgType structs.MessageType) {
	tt := c.Shadows.Get(robotID)
	if tt == nil {
		return
	}
	upd := tt.GetDGraphUpdate(c.cfg.NTasksQueue)
	payload := structs.DGraphUpdatePayload{
		RobotID:           robotID,
		ZTP:               upd.ZTP,
		STN:               upd.STN.ToDict(),
		DispatchableGraph: upd.Dispatchable.ToDict(),
	}
	env, err := structs.NewEnvelope(msgType, payload)
	if err != nil {
		c.logger.Error("build d-graph update", "error", err)
		return
	}
	if err := c.wire.SendTo(robotID, env); err != nil {
		c.logger.Warn("push d-graph update", "robot_id", robotID, "type", msgType, "error", err)
	}
}

// Run drives Tick at interval until stop closes.
func (c *CCU) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			c.Tick(now)
		case <-stop:
			return
		}
	}
}
