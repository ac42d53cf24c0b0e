// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ropod-project/mrta/internal/stn"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

func twoTaskTimetable(t *testing.T) (*timetable.Timetable, map[string]*structs.Task) {
	t.Helper()
	solver, err := stn.NewSolver("fpc")
	require.NoError(t, err)
	tt := timetable.New("robot_001", time.Now(), solver)

	t1 := &structs.Task{
		TaskID: "T1", Status: structs.StatusOngoing,
		PickupLocation: "A", DeliveryLocation: "B",
		Constraints: map[string]structs.TemporalConstraint{
			timetable.ConstraintStartPickup:    {Mean: 5, Variance: 0.25},
			timetable.ConstraintPickupDelivery: {Mean: 3, Variance: 0.25},
		},
	}
	require.NoError(t, tt.InsertTask(t1, 1, stn.Edge{LB: 0, UB: 0}))

	t2 := &structs.Task{
		TaskID: "T2", Status: structs.StatusAllocated,
		PickupLocation: "C", DeliveryLocation: "D",
		Constraints: map[string]structs.TemporalConstraint{
			timetable.ConstraintStartPickup:    {Mean: 5, Variance: 0.25},
			timetable.ConstraintPickupDelivery: {Mean: 3, Variance: 0.25},
		},
	}
	require.NoError(t, tt.InsertTask(t2, 2, stn.Edge{LB: 1, UB: 1}))

	return tt, map[string]*structs.Task{"T1": t1, "T2": t2}
}

func TestCheckReturnsNilWhenNoNextTask(t *testing.T) {
	solver, err := stn.NewSolver("fpc")
	require.NoError(t, err)
	tt := timetable.New("robot_001", time.Now(), solver)
	t1 := &structs.Task{
		TaskID: "T1", Status: structs.StatusOngoing,
		Constraints: map[string]structs.TemporalConstraint{
			timetable.ConstraintStartPickup:    {Mean: 5, Variance: 0.25},
			timetable.ConstraintPickupDelivery: {Mean: 3, Variance: 0.25},
		},
	}
	require.NoError(t, tt.InsertTask(t1, 1, stn.Edge{LB: 0, UB: 0}))
	tasks := map[string]*structs.Task{"T1": t1}

	m := New("robot_001", tt, RecoveryReallocate, nil, func(id string) (*structs.Task, bool) { tk, ok := tasks[id]; return tk, ok }, nil)
	outcome, err := m.Check("T1", 0, nil)
	require.NoError(t, err)
	require.Nil(t, outcome)
}

func TestCheckFiresReallocateWhenNextTaskLate(t *testing.T) {
	tt, tasks := twoTaskTimetable(t)
	lookup := func(id string) (*structs.Task, bool) { tk, ok := tasks[id]; return tk, ok }
	m := New("robot_001", tt, RecoveryReallocate, nil, lookup, nil)

	// A huge remaining-duration estimate puts the risk estimate far past
	// the next task's latest start (11s after the zero timepoint here).
	outcome, err := m.Check("T1", 0, []timetable.ActionEstimate{{Mean: 1_000_000, Variance: 0}})
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, RecoveryReallocate, outcome.Method)
	require.Equal(t, "T2", outcome.NextTaskID)
	require.True(t, tasks["T1"].Delayed)
	require.Equal(t, structs.StatusUnallocated, tasks["T2"].Status)
	require.Len(t, outcome.StatusUpdates, 2)
}

func TestRecoveryFiresOnlyOncePerPair(t *testing.T) {
	tt, tasks := twoTaskTimetable(t)
	lookup := func(id string) (*structs.Task, bool) { tk, ok := tasks[id]; return tk, ok }
	m := New("robot_001", tt, RecoveryAbort, nil, lookup, nil)

	first, err := m.Check("T1", 0, []timetable.ActionEstimate{{Mean: 1_000_000, Variance: 0}})
	require.NoError(t, err)
	require.NotNil(t, first)

	// Recompute directly against the (now stale) pair; idempotence must
	// hold even though T2 no longer exists in the timetable.
	second, err := m.recover("T1", "T2")
	require.NoError(t, err)
	require.Nil(t, second)
}

func TestRescheduleReturnsAssignmentUpdateWithoutEvicting(t *testing.T) {
	tt, tasks := twoTaskTimetable(t)
	lookup := func(id string) (*structs.Task, bool) { tk, ok := tasks[id]; return tk, ok }
	m := New("robot_001", tt, RecoveryReschedule, nil, lookup, nil)

	outcome, err := m.Check("T1", 0, []timetable.ActionEstimate{{Mean: 1_000_000, Variance: 0}})
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, RecoveryReschedule, outcome.Method)
	require.NotNil(t, outcome.AssignmentUpdate)
	require.False(t, outcome.AssignmentUpdate.Replace)
	require.Equal(t, 2, tt.STN.TaskCount())
}
