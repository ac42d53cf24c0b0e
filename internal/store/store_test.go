// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

func TestPutAndGetTask(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	task := &structs.Task{TaskID: "T1", Status: structs.StatusAllocated}
	require.NoError(t, s.PutTask(task))

	got, ok, err := s.GetTask("T1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, task.TaskID, got.TaskID)

	_, ok, err = s.GetTask("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTasksByStatusReturnsSortedByTaskID(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	for _, id := range []string{"T3", "T1", "T2"} {
		require.NoError(t, s.PutTask(&structs.Task{TaskID: id, Status: structs.StatusUnallocated}))
	}
	require.NoError(t, s.PutTask(&structs.Task{TaskID: "T9", Status: structs.StatusAllocated}))

	tasks, err := s.TasksByStatus(structs.StatusUnallocated)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.Equal(t, []string{"T1", "T2", "T3"}, []string{tasks[0].TaskID, tasks[1].TaskID, tasks[2].TaskID})
}

func TestArchiveMovesTaskOutOfLiveTable(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	task := &structs.Task{TaskID: "T1", Status: structs.StatusAllocated}
	require.NoError(t, s.PutTask(task))

	task.Status = structs.StatusCompleted
	require.NoError(t, s.Archive(task, "robot_001", time.Now(), timetable.Dict{RobotID: "robot_001"}))

	_, ok, err := s.GetTask("T1")
	require.NoError(t, err)
	require.False(t, ok)

	row, ok, err := s.GetArchived("T1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "robot_001", row.RobotID)
	require.Equal(t, structs.StatusCompleted, row.Task.Status)
}

func TestArchiveRejectsNonTerminalTask(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	task := &structs.Task{TaskID: "T1", Status: structs.StatusOngoing}
	err = s.Archive(task, "robot_001", time.Now(), timetable.Dict{})
	require.Error(t, err)
}

func TestTerminationProgressCountsArchivedAndLive(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	require.NoError(t, s.PutTask(&structs.Task{TaskID: "T1", Status: structs.StatusAllocated}))
	done := &structs.Task{TaskID: "T2", Status: structs.StatusAllocated}
	require.NoError(t, s.PutTask(done))
	done.Status = structs.StatusCompleted
	require.NoError(t, s.Archive(done, "robot_001", time.Now(), timetable.Dict{}))

	archived, live, err := s.TerminationProgress()
	require.NoError(t, err)
	require.Equal(t, 1, archived)
	require.Equal(t, 1, live)
}

func TestPutAndGetTimetableAndShadow(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	d := timetable.Dict{RobotID: "robot_001"}
	require.NoError(t, s.PutTimetable(d))
	got, ok, err := s.GetTimetable("robot_001")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "robot_001", got.RobotID)

	require.NoError(t, s.PutShadowTimetable(d))
	gotShadow, ok, err := s.GetShadowTimetable("robot_001")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "robot_001", gotShadow.RobotID)
}
