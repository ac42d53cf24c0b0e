// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ccu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

func writeTasksFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestReadTasksFileParsesDataset(t *testing.T) {
	path := writeTasksFile(t, `
tasks:
  - task_id: T1
    pickup_location: A
    delivery_location: B
    earliest_start: 10
    latest_start: 30
    constraints:
      start-pickup:
        mean: 5
        variance: 0.25
      pickup-delivery:
        mean: 3
        variance: 0.25
  - task_id: T2
    pickup_location: C
    delivery_location: D
`)

	tasks, err := ReadTasksFile(path)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	t1 := tasks[0]
	require.Equal(t, "T1", t1.TaskID)
	require.Equal(t, structs.StatusUnallocated, t1.Status)
	require.Equal(t, 10.0, t1.EarliestStartSec)
	require.Equal(t, 30.0, t1.LatestStartSec)
	require.Equal(t, 5.0, t1.Constraints[timetable.ConstraintStartPickup].Mean)
	require.Len(t, t1.Actions, 2)
	require.Equal(t, timetable.ConstraintStartPickup, t1.Actions[0].Name)

	// T2 omitted its durations: the planner sentinel fills them in.
	t2 := tasks[1]
	require.Equal(t, 1.0, t2.Constraints[timetable.ConstraintStartPickup].Mean)
	require.Equal(t, 0.1, t2.Constraints[timetable.ConstraintPickupDelivery].Variance)
}

func TestReadTasksFileGeneratesMissingIDs(t *testing.T) {
	path := writeTasksFile(t, `
tasks:
  - pickup_location: A
    delivery_location: B
`)
	tasks, err := ReadTasksFile(path)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NotEmpty(t, tasks[0].TaskID)
}

func TestReadTasksFileMissingFileErrors(t *testing.T) {
	_, err := ReadTasksFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
