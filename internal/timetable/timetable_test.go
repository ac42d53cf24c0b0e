// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package timetable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ropod-project/mrta/internal/stn"
	"github.com/ropod-project/mrta/internal/structs"
)

func newTestTask(id string) *structs.Task {
	return &structs.Task{
		TaskID:           id,
		Status:           structs.StatusUnallocated,
		PickupLocation:   "A",
		DeliveryLocation: "B",
		Constraints: map[string]structs.TemporalConstraint{
			ConstraintStartPickup:    {Mean: 5, Variance: 0.25},
			ConstraintPickupDelivery: {Mean: 3, Variance: 0.25},
		},
	}
}

func newFPC(t *testing.T) stn.Solver {
	t.Helper()
	solver, err := stn.NewSolver("fpc")
	require.NoError(t, err)
	return solver
}

func TestInsertTaskSolvesDispatchableGraph(t *testing.T) {
	ztp := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	tt := New("robot_001", ztp, newFPC(t))

	err := tt.InsertTask(newTestTask("T1"), 1, stn.Edge{LB: 1, UB: 3})
	require.NoError(t, err)
	require.Equal(t, 4, tt.STN.NodeCount())
	require.Equal(t, 4, tt.Dispatchable.NodeCount())
	require.True(t, tt.STN.Consistent())
}

func TestInsertTaskRejectsInconsistentSplice(t *testing.T) {
	ztp := time.Now()
	tt := New("robot_001", ztp, newFPC(t))

	task := newTestTask("T1")
	task.Constraints[ConstraintStartPickup] = structs.TemporalConstraint{Mean: 100, Variance: 0}
	require.NoError(t, tt.InsertTask(task, 1, stn.Edge{LB: 1, UB: 1}))

	// Force an impossible window directly onto the start node, then
	// attempt a further splice: the trial network carries the pre-existing
	// negative cycle forward, so the insertion must fail rather than
	// silently commit a broken STN.
	tt.STN.SetEdge(0, 1, 5, 2)
	require.False(t, tt.STN.Consistent())

	err := tt.InsertTask(newTestTask("T2"), 2, stn.Edge{LB: 1, UB: 3})
	require.ErrorIs(t, err, stn.ErrNoSolution)
}

func TestPredecessorNodeUsesPreviousDelivery(t *testing.T) {
	ztp := time.Now()
	tt := New("robot_001", ztp, newFPC(t))
	require.NoError(t, tt.InsertTask(newTestTask("T1"), 1, stn.Edge{LB: 1, UB: 3}))

	pred := tt.PredecessorNode(2)
	require.Equal(t, tt.STN.DeliveryNodeIndex("T1"), pred)

	require.NoError(t, tt.InsertTask(newTestTask("T2"), 2, stn.Edge{LB: 1, UB: 3}))
	require.Equal(t, 7, tt.STN.NodeCount())
}

func TestGetNextTask(t *testing.T) {
	ztp := time.Now()
	tt := New("robot_001", ztp, newFPC(t))
	require.NoError(t, tt.InsertTask(newTestTask("T1"), 1, stn.Edge{LB: 1, UB: 3}))
	require.NoError(t, tt.InsertTask(newTestTask("T2"), 2, stn.Edge{LB: 1, UB: 3}))

	next, ok := tt.GetNextTask("T1")
	require.True(t, ok)
	require.Equal(t, "T2", next)

	_, ok = tt.GetNextTask("T2")
	require.False(t, ok)
}

func TestGetStartTimeWithinAnnouncedWindow(t *testing.T) {
	ztp := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	tt := New("robot_001", ztp, newFPC(t))
	require.NoError(t, tt.InsertTask(newTestTask("T1"), 1, stn.Edge{LB: 10, UB: 30}))

	start, err := tt.GetStartTime("T1", true)
	require.NoError(t, err)
	require.True(t, !start.Before(ztp.Add(10*time.Second)))
}

func TestRemoveTaskRestitchesTravelEdge(t *testing.T) {
	ztp := time.Now()
	tt := New("robot_001", ztp, newFPC(t))
	require.NoError(t, tt.InsertTask(newTestTask("T1"), 1, stn.Edge{LB: 1, UB: 3}))
	require.NoError(t, tt.InsertTask(newTestTask("T2"), 2, stn.Edge{LB: 1, UB: 3}))

	require.NoError(t, tt.RemoveTask("T1", stn.Edge{LB: 1, UB: 3}))
	require.Equal(t, 4, tt.STN.NodeCount())
	require.Equal(t, 1, tt.STN.TaskPosition("T2"))
	require.True(t, tt.STN.Consistent())
}

func TestIsNextTaskLateDetectsRisk(t *testing.T) {
	ztp := time.Now()
	tt := New("robot_001", ztp, newFPC(t))
	require.NoError(t, tt.InsertTask(newTestTask("T1"), 1, stn.Edge{LB: 1, UB: 3}))
	t2 := newTestTask("T2")
	t2.Constraints[ConstraintStartPickup] = structs.TemporalConstraint{Mean: 1, Variance: 0}
	require.NoError(t, tt.InsertTask(t2, 2, stn.Edge{LB: 0, UB: 1}))

	late, err := tt.IsNextTaskLate("T1", 0, []ActionEstimate{{Mean: 20, Variance: 1}}, "T2")
	require.NoError(t, err)
	require.True(t, late)
}

func TestToDictFromDictRoundTrip(t *testing.T) {
	ztp := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	tt := New("robot_001", ztp, newFPC(t))
	require.NoError(t, tt.InsertTask(newTestTask("T1"), 1, stn.Edge{LB: 1, UB: 3}))

	restored := FromDict(tt.ToDict(), newFPC(t))
	require.Equal(t, tt.RobotID, restored.RobotID)
	require.True(t, tt.ZTP.Equal(restored.ZTP))
	require.True(t, tt.STN.Equal(restored.STN))
	require.True(t, tt.Dispatchable.Equal(restored.Dispatchable))
}

func TestManagerRegisterAndZTP(t *testing.T) {
	m := NewManager(newFPC(t))
	ztp := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	m.RegisterRobot("robot_002", ztp)
	m.RegisterRobot("robot_001", ztp)

	require.Equal(t, []string{"robot_001", "robot_002"}, m.RobotIDs())

	got, ok := m.ZTP()
	require.True(t, ok)
	require.True(t, got.Equal(ztp))

	newZTP := ztp.Add(time.Hour)
	m.SetZTP(newZTP)
	require.True(t, m.Get("robot_001").ZTP.Equal(newZTP))
	require.True(t, m.Get("robot_002").ZTP.Equal(newZTP))
}

func TestApplyAssignmentUpdateMergesWithoutReplacingSnapshot(t *testing.T) {
	m := NewManager(newFPC(t))
	ztp := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	tt := m.RegisterRobot("robot_001", ztp)
	require.NoError(t, tt.InsertTask(newTestTask("T1"), 1, stn.Edge{LB: 1, UB: 3}))
	beforeSTN := tt.STN

	m.ApplyAssignmentUpdate("robot_001", []structs.Assignment{{TaskID: "T1", StartTime: 2, PickupTime: 5, DeliveryTime: 8}})

	require.Same(t, beforeSTN, m.Get("robot_001").STN)
	require.Equal(t, 2.0, m.Get("robot_001").Overrides["T1"].StartTime)
}

func TestApplyAssignmentUpdateOnUnregisteredRobotIsNoOp(t *testing.T) {
	m := NewManager(newFPC(t))
	m.ApplyAssignmentUpdate("robot_999", []structs.Assignment{{TaskID: "T1"}})
	require.Nil(t, m.Get("robot_999"))
}

func TestApplyDGraphUpdateReplacesSnapshotWholesale(t *testing.T) {
	m := NewManager(newFPC(t))
	ztp := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	tt := m.RegisterRobot("robot_001", ztp)
	require.NoError(t, tt.InsertTask(newTestTask("T1"), 1, stn.Edge{LB: 1, UB: 3}))

	fresh := New("robot_001", ztp, newFPC(t))
	m.ApplyDGraphUpdate("robot_001", fresh.ToDict())

	require.NotSame(t, tt, m.Get("robot_001"))
	require.Equal(t, 0, m.Get("robot_001").STN.TaskCount())
}

func TestInsertTaskWiresAbsoluteStartWindow(t *testing.T) {
	ztp := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	tt := New("robot_001", ztp, newFPC(t))

	task := newTestTask("T1")
	task.EarliestStartSec = 10
	task.LatestStartSec = 30
	require.NoError(t, tt.InsertTask(task, 1, stn.Edge{LB: 1, UB: 3}))

	earliest, err := tt.GetStartTime("T1", true)
	require.NoError(t, err)
	require.True(t, !earliest.Before(ztp.Add(10*time.Second)))

	latest, err := tt.GetStartTime("T1", false)
	require.NoError(t, err)
	require.True(t, !latest.After(ztp.Add(30*time.Second)))
}

func TestInsertTaskRejectsInvertedWindow(t *testing.T) {
	tt := New("robot_001", time.Now(), newFPC(t))

	task := newTestTask("T1")
	task.EarliestStartSec = 20
	task.LatestStartSec = 5
	err := tt.InsertTask(task, 1, stn.Edge{LB: 1, UB: 3})
	require.ErrorIs(t, err, stn.ErrNoSolution)
	// The failed splice left the timetable untouched.
	require.Equal(t, 1, tt.STN.NodeCount())
}
