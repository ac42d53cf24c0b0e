// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ccu

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ropod-project/mrta/internal/config"
	"github.com/ropod-project/mrta/internal/robot"
	"github.com/ropod-project/mrta/internal/store"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/transport"
)

// fabric is an in-process stand-in for the TASK-ALLOCATION group: every
// envelope goes through the real msgpack codec before dispatch, so the
// whole wire path (encode, decode, payload mapstructure) is exercised
// without sockets. Delivery is synchronous, matching the
// one-callback-at-a-time loop model of the real transport.
type fabric struct {
	t           *testing.T
	ccuTable    *transport.DispatchTable
	robotTables map[string]*transport.DispatchTable
}

func (f *fabric) deliver(table *transport.DispatchTable, env structs.Envelope) {
	f.t.Helper()
	data, err := transport.Encode(env)
	require.NoError(f.t, err)
	decoded, err := transport.Decode(data)
	require.NoError(f.t, err)
	require.NoError(f.t, table.Dispatch(decoded))
}

// ccuWire is the allocator's view of the fabric.
type ccuWire struct{ f *fabric }

func (w *ccuWire) Broadcast(env structs.Envelope) error {
	for _, table := range w.f.robotTables {
		w.f.deliver(table, env)
	}
	return nil
}

func (w *ccuWire) SendTo(robotID string, env structs.Envelope) error {
	table, ok := w.f.robotTables[robotID]
	if !ok {
		return fmt.Errorf("no such robot %s", robotID)
	}
	w.f.deliver(table, env)
	return nil
}

// robotWire is one robot's view of the fabric.
type robotWire struct {
	f      *fabric
	selfID string
}

func (w *robotWire) Broadcast(env structs.Envelope) error {
	w.f.deliver(w.f.ccuTable, env)
	for id, table := range w.f.robotTables {
		if id == w.selfID {
			continue
		}
		w.f.deliver(table, env)
	}
	return nil
}

func (w *robotWire) SendToAllocator(env structs.Envelope) error {
	w.f.deliver(w.f.ccuTable, env)
	return nil
}

type fleet struct {
	ccu    *CCU
	robots map[string]*robot.Robot
	fabric *fabric
}

// newFleet wires one allocator and the named robots together over a
// fabric, registers every handler, and announces each robot's pose.
func newFleet(t *testing.T, cfg *config.Config, robotIDs ...string) *fleet {
	t.Helper()

	f := &fabric{t: t, robotTables: make(map[string]*transport.DispatchTable)}
	f.ccuTable = transport.NewDispatchTable(nil)

	ccuStore, err := store.New()
	require.NoError(t, err)
	coordinator, err := New(cfg, ccuStore, &ccuWire{f: f}, nil)
	require.NoError(t, err)
	coordinator.RegisterHandlers(f.ccuTable)

	robots := make(map[string]*robot.Robot, len(robotIDs))
	for _, id := range robotIDs {
		table := transport.NewDispatchTable(nil)
		f.robotTables[id] = table

		robotStore, err := store.New()
		require.NoError(t, err)
		r, err := robot.New(cfg, id, "depot", robotStore, &robotWire{f: f, selfID: id}, nil)
		require.NoError(t, err)
		r.RegisterHandlers(table)
		robots[id] = r

		env, err := structs.NewEnvelope(structs.MsgRobotPose, r.PosePayload(structs.Pose{}))
		require.NoError(t, err)
		f.deliver(f.ccuTable, env)
	}

	return &fleet{ccu: coordinator, robots: robots, fabric: f}
}

func TestEndToEndSingleTaskSingleRobot(t *testing.T) {
	fl := newFleet(t, testConfig(), "robot_001")
	base := time.Now().UTC()
	task := testTask("T1", 10, 30)

	require.NoError(t, fl.ccu.LoadTasks([]*structs.Task{task}))
	fl.ccu.Start(base)

	// Round opens; the announcement reaches the robot, which bids back
	// synchronously over the fabric.
	fl.ccu.Tick(base)
	fl.ccu.Tick(base.Add(6 * time.Second))

	require.Equal(t, map[string]string{"T1": "robot_001"}, fl.ccu.Auctioneer.Allocations)

	r := fl.robots["robot_001"]
	require.Equal(t, 1, r.Timetable.STN.TaskCount())
	require.True(t, r.Timetable.STN.Consistent())

	// Scenario check: the committed start time honors the [10, 30] window.
	start, err := r.Timetable.GetStartTime("T1", true)
	require.NoError(t, err)
	offset := start.Sub(r.Timetable.ZTP).Seconds()
	require.GreaterOrEqual(t, offset, 10.0)
	require.LessOrEqual(t, offset, 30.0)

	// Dispatch: within dispatch_lead of the earliest start the task is
	// frozen and pushed to the robot.
	fl.ccu.Tick(base.Add(9 * time.Second))
	dispatched, ok, err := r.Store.GetTask("T1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, structs.StatusDispatched, dispatched.Status)

	// Execution: start, both actions at their mean durations, finish.
	r.Tick(base.Add(12 * time.Second))
	ongoing, _, err := r.Store.GetTask("T1")
	require.NoError(t, err)
	require.Equal(t, structs.StatusOngoing, ongoing.Status)

	r.Tick(base.Add(17 * time.Second))
	r.Tick(base.Add(20 * time.Second))

	// The COMPLETED status propagated to the allocator and both sides
	// archived the task: the fleet termination condition holds.
	snap, err := fl.ccu.Status()
	require.NoError(t, err)
	require.Equal(t, 1, snap.Archived)
	require.Zero(t, snap.Live)
	require.True(t, snap.Terminated)

	row, ok, err := r.Store.GetArchived("T1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, structs.StatusCompleted, row.Task.Status)
}

func TestEndToEndTwoRobotsTwoTasks(t *testing.T) {
	fl := newFleet(t, testConfig(), "robot_001", "robot_002")
	base := time.Now().UTC()

	require.NoError(t, fl.ccu.LoadTasks([]*structs.Task{
		testTask("T1", 10, 30),
		testTask("T2", 10, 30),
	}))
	fl.ccu.Start(base)

	// Round 1: both robots are empty and bid identically for T1 (the
	// smaller task_id); the smaller robot suffix wins the tie.
	fl.ccu.Tick(base)
	fl.ccu.Tick(base.Add(6 * time.Second))
	require.Equal(t, "robot_001", fl.ccu.Auctioneer.Allocations["T1"])

	// Round 2: robot_001 already carries T1, so its makespan for T2 is
	// worse than idle robot_002's.
	fl.ccu.Tick(base.Add(7 * time.Second))
	fl.ccu.Tick(base.Add(13 * time.Second))
	require.Equal(t, "robot_002", fl.ccu.Auctioneer.Allocations["T2"])

	require.Equal(t, 1, fl.robots["robot_001"].Timetable.STN.TaskCount())
	require.Equal(t, 1, fl.robots["robot_002"].Timetable.STN.TaskCount())
}
