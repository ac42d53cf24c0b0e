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

func TestFleetMonitorTerminationProgress(t *testing.T) {
	f := NewFleetMonitor()
	f.Observe(structs.TaskStatusPayload{TaskID: "T1", Status: structs.StatusCompleted})
	f.Observe(structs.TaskStatusPayload{TaskID: "T2", Status: structs.StatusOngoing})
	f.Observe(structs.TaskStatusPayload{TaskID: "T1", Status: structs.StatusCompleted}) // re-observe, no double count

	finished, total := f.TerminationProgress()
	require.Equal(t, 1, finished)
	require.Equal(t, 2, total)
	require.Equal(t, []string{"T1", "T2"}, f.TaskIDs())
}

func TestTimetableMonitorObserveRegistersNewRobot(t *testing.T) {
	solver, err := stn.NewSolver("fpc")
	require.NoError(t, err)
	shadows := timetable.NewManager(solver)
	mon := NewTimetableMonitor(shadows)

	s := stn.New()
	s.InsertTaskTriple("T1", 1, stn.Edge{LB: 5, UB: 10}, stn.Edge{LB: 2, UB: 4}, stn.Edge{LB: 1, UB: 3}, 0)
	ztp := time.Now()

	mon.Observe(timetable.DGraphUpdate{RobotID: "robot_009", ZTP: ztp, STN: s, Dispatchable: s})

	tt := shadows.Get("robot_009")
	require.NotNil(t, tt)
	require.Same(t, s, tt.STN)
	require.True(t, tt.ZTP.Equal(ztp))
}
