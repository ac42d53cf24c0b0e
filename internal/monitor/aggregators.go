// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package monitor

import (
	"sort"
	"sync"

	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/timetable"
)

// FleetMonitor aggregates TASK-STATUS messages fleet-wide. It backs the
// CLI's `allocator status` view and the fleet termination check
// (every loaded task reaching a terminal status).
type FleetMonitor struct {
	mu       sync.Mutex
	statuses map[string]structs.TaskStatusPayload
}

// NewFleetMonitor returns an empty FleetMonitor.
func NewFleetMonitor() *FleetMonitor {
	return &FleetMonitor{statuses: make(map[string]structs.TaskStatusPayload)}
}

// Observe records the latest known status for a task.
func (f *FleetMonitor) Observe(status structs.TaskStatusPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[status.TaskID] = status
}

// TerminationProgress reports how many of total tracked tasks have reached
// a terminal status.
func (f *FleetMonitor) TerminationProgress() (finished, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total = len(f.statuses)
	for _, s := range f.statuses {
		if s.Status.Terminal() {
			finished++
		}
	}
	return finished, total
}

// TaskIDs returns every task_id this monitor has observed a status for,
// sorted for deterministic CLI output.
func (f *FleetMonitor) TaskIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.statuses))
	for id := range f.statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TimetableMonitor aggregates D-GRAPH-UPDATE broadcasts fleet-wide,
// refreshing the allocator's shadow Manager. It is kept distinct from
// FleetMonitor: the two subscribe to different message types and feed
// different consumers.
type TimetableMonitor struct {
	Shadows *timetable.Manager
}

// NewTimetableMonitor wraps an existing shadow Manager.
func NewTimetableMonitor(shadows *timetable.Manager) *TimetableMonitor {
	return &TimetableMonitor{Shadows: shadows}
}

// Observe applies a DGraphUpdate to the allocator's shadow copy of the
// reporting robot's timetable. The allocator's own shadow always replaces
// outright (it is the authoritative record of what was committed; only a
// robot applying an incoming update must choose merge vs. replace based
// on its own recovery_method, which is internal/monitor.ScheduleMonitor's
// concern, not this aggregator's).
func (m *TimetableMonitor) Observe(update timetable.DGraphUpdate) {
	tt := m.Shadows.Get(update.RobotID)
	if tt == nil {
		tt = m.Shadows.RegisterRobot(update.RobotID, update.ZTP)
	}
	tt.STN = update.STN
	tt.Dispatchable = update.Dispatchable
	tt.UpdateZTP(update.ZTP)
}
