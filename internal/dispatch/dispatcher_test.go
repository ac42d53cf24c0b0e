// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ropod-project/mrta/internal/stn"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

func newShadowWithTask(t *testing.T, robotID, taskID string, ztp time.Time) *timetable.Manager {
	t.Helper()
	solver, err := stn.NewSolver("fpc")
	require.NoError(t, err)
	m := timetable.NewManager(solver)
	tt := m.RegisterRobot(robotID, ztp)
	task := &structs.Task{
		TaskID: taskID,
		Constraints: map[string]structs.TemporalConstraint{
			timetable.ConstraintStartPickup:    {Mean: 5, Variance: 0.25},
			timetable.ConstraintPickupDelivery: {Mean: 3, Variance: 0.25},
		},
	}
	require.NoError(t, tt.InsertTask(task, 1, stn.Edge{LB: 2, UB: 2}))
	return m
}

func TestPollDispatchesTaskWithinLead(t *testing.T) {
	ztp := time.Now()
	shadows := newShadowWithTask(t, "robot_001", "T1", ztp)
	task := &structs.Task{TaskID: "T1", Status: structs.StatusAllocated}
	lookup := func(id string) (*structs.Task, bool) {
		if id == "T1" {
			return task, true
		}
		return nil, false
	}
	d := New(shadows, lookup, 60*time.Second, nil)

	releases := d.Poll(ztp.Add(1 * time.Second))
	require.Len(t, releases, 1)
	require.Equal(t, "T1", releases[0].TaskID)
	require.Equal(t, structs.StatusDispatched, task.Status)
}

func TestPollSkipsTaskNotYetDue(t *testing.T) {
	ztp := time.Now()
	shadows := newShadowWithTask(t, "robot_001", "T1", ztp)
	task := &structs.Task{TaskID: "T1", Status: structs.StatusAllocated}
	lookup := func(id string) (*structs.Task, bool) { return task, true }
	d := New(shadows, lookup, 1*time.Second, nil)

	releases := d.Poll(ztp)
	require.Empty(t, releases)
	require.Equal(t, structs.StatusAllocated, task.Status)
}

func TestPollSkipsTasksNotAllocated(t *testing.T) {
	ztp := time.Now()
	shadows := newShadowWithTask(t, "robot_001", "T1", ztp)
	task := &structs.Task{TaskID: "T1", Status: structs.StatusDispatched}
	lookup := func(id string) (*structs.Task, bool) { return task, true }
	d := New(shadows, lookup, 60*time.Second, nil)

	releases := d.Poll(ztp.Add(1 * time.Second))
	require.Empty(t, releases)
}

func TestPollOrdersByEarliestStartThenTaskID(t *testing.T) {
	ztp := time.Now()
	shadows := newShadowWithTask(t, "robot_001", "T1", ztp)
	tt2 := shadows.RegisterRobot("robot_002", ztp)
	task2 := &structs.Task{
		TaskID: "T0",
		Constraints: map[string]structs.TemporalConstraint{
			timetable.ConstraintStartPickup:    {Mean: 5, Variance: 0.25},
			timetable.ConstraintPickupDelivery: {Mean: 3, Variance: 0.25},
		},
	}
	require.NoError(t, tt2.InsertTask(task2, 1, stn.Edge{LB: 2, UB: 2}))

	t1 := &structs.Task{TaskID: "T1", Status: structs.StatusAllocated}
	t0 := &structs.Task{TaskID: "T0", Status: structs.StatusAllocated}
	lookup := func(id string) (*structs.Task, bool) {
		switch id {
		case "T1":
			return t1, true
		case "T0":
			return t0, true
		}
		return nil, false
	}
	d := New(shadows, lookup, 60*time.Second, nil)

	releases := d.Poll(ztp.Add(1 * time.Second))
	require.Len(t, releases, 2)
	// Both tasks share the same earliest start (identical constraints), so
	// the tie is broken by task_id.
	require.Equal(t, "T0", releases[0].TaskID)
	require.Equal(t, "T1", releases[1].TaskID)
}
