// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package timetable implements the per-robot Timetable and the fleet-wide
// Manager: an STN plus its derived dispatchable
// graph, kept in lockstep, with the task-splicing and recovery-query
// operations the bidder, dispatcher, monitor and executor all build on.
package timetable

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/ropod-project/mrta/internal/stn"
	"github.com/ropod-project/mrta/internal/structs"
)

// Constraint names on structs.Task.Constraints, matching the two edges a
// task triple always carries: the in-task start->pickup leg and the
// pickup->delivery leg. A third, cross-task edge (previous delivery/pose
// -> this start) is supplied by the caller at insertion time since it
// depends on the chosen insertion point, not on the task itself.
const (
	ConstraintStartPickup    = "start-pickup"
	ConstraintPickupDelivery = "pickup-delivery"
)

// ErrTaskNotFound is returned by timetable lookups for an absent task.
var ErrTaskNotFound = errors.New("timetable: task not found")

// EdgeFromConstraint turns a (mean, variance) duration estimate into a
// signed STN interval at 2 standard deviations either side of the mean,
// the same spread the schedule monitor uses for its late-task risk
// estimate (mean + 2*sqrt(variance)). Negative lower bounds are clamped to zero:
// a task cannot finish before it starts.
func EdgeFromConstraint(c structs.TemporalConstraint) stn.Edge {
	spread := 2 * math.Sqrt(c.Variance)
	lb := c.Mean - spread
	if lb < 0 {
		lb = 0
	}
	return stn.Edge{LB: lb, UB: c.Mean + spread}
}

// WireStartWindow pins task's absolute start window onto its start node
// as a ztp-anchored edge. When the task was inserted at the head of the
// sequence the travel edge from the ztp was just written to the same
// (0, startIdx) slot, so the window intersects with it: the robot cannot
// start before it arrives (travel lower bound) nor before the window
// opens, and must start before the window closes — waiting at the pickup
// is allowed, so travel's upper bound does not cap the start. A task with
// no window (both bounds zero) leaves the graph untouched.
func WireStartWindow(g *stn.STN, task *structs.Task, startIdx, prevNode int, travel stn.Edge) {
	if task.EarliestStartSec <= 0 && task.LatestStartSec <= 0 {
		return
	}
	lb := task.EarliestStartSec
	if prevNode == 0 && travel.LB > lb {
		lb = travel.LB
	}
	g.SetEdge(0, startIdx, lb, task.LatestStartSec)
}

// Timetable is one robot's STN plus its dispatchable graph, kept in
// lockstep. Instances are owned exclusively by one loop (the
// robot's, or the allocator's shadow copy); no internal locking.
type Timetable struct {
	RobotID      string
	ZTP          time.Time
	STN          *stn.STN
	Dispatchable *stn.STN
	Solver       stn.Solver

	// Overrides holds the allocator's knowledge from a "re-schedule"
	// recovery's ASSIGNMENT-UPDATE: per-task timing recomputed locally by
	// a robot, merged in without discarding the rest of this timetable's
	// STN/Dispatchable snapshot. A "D-GRAPH-UPDATE"
	// instead replaces the snapshot wholesale via Manager.Set.
	Overrides map[string]structs.Assignment
}

// New returns an empty timetable (a single zero timepoint in both graphs).
func New(robotID string, ztp time.Time, solver stn.Solver) *Timetable {
	return &Timetable{
		RobotID:      robotID,
		ZTP:          ztp,
		STN:          stn.New(),
		Dispatchable: stn.New(),
		Solver:       solver,
	}
}

// UpdateZTP replaces the zero timepoint, keeping the timetable
// reconstructible from a TaskAnnouncement's zero_timepoint field.
func (t *Timetable) UpdateZTP(ztp time.Time) { t.ZTP = ztp }

// PredecessorNode resolves the node preceding an insertion point:
// for insertionPoint 1 it is the zero timepoint (the robot's live pose is
// anchored there); otherwise it is the delivery node of the task currently
// occupying insertionPoint-1.
func (t *Timetable) PredecessorNode(insertionPoint int) int {
	if insertionPoint <= 1 {
		return 0
	}
	prevTaskID := t.STN.TaskIDAtPosition(insertionPoint - 1)
	if prevTaskID == "" {
		return 0
	}
	return t.STN.DeliveryNodeIndex(prevTaskID)
}

// InsertTask splices task's three nodes into insertionPoint and re-solves
// the dispatchable graph. travel is the
// cross-task edge from the predecessor (ztp or previous delivery) to the
// new start node, computed by the caller from the path planner. Returns
// stn.ErrNoSolution (translated by callers to InvalidAllocation) if the
// resulting STN, or its derived dispatchable graph, would be inconsistent;
// in that case the timetable is left unchanged.
func (t *Timetable) InsertTask(task *structs.Task, insertionPoint int, travel stn.Edge) error {
	trial := t.STN.Clone()
	prevNode := t.PredecessorNode(insertionPoint)
	startIdx := trial.InsertTaskTriple(task.TaskID, insertionPoint,
		EdgeFromConstraint(task.Constraints[ConstraintStartPickup]),
		EdgeFromConstraint(task.Constraints[ConstraintPickupDelivery]),
		travel, prevNode)
	WireStartWindow(trial, task, startIdx, prevNode, travel)

	dispatchable, err := trial.MinimalNetwork()
	if err != nil {
		return err
	}

	t.STN = trial
	t.Dispatchable = dispatchable
	return nil
}

// Solve recomputes the dispatchable graph from the current STN.
func (t *Timetable) Solve() error {
	d, err := t.STN.MinimalNetwork()
	if err != nil {
		return err
	}
	t.Dispatchable = d
	return nil
}

// nodeIndex resolves (taskID, nodeType) to a node index in the STN.
func (t *Timetable) nodeIndex(taskID string, nodeType stn.NodeType) int {
	for _, idx := range t.STN.TaskNodeIDs(taskID) {
		if t.STN.Nodes[idx].Type == nodeType {
			return idx
		}
	}
	return -1
}

// NodeIndex exposes nodeIndex for callers outside this package (the
// executor, resolving which STN edge an action drives) that need a raw
// node index rather than a wall-clock time.
func (t *Timetable) NodeIndex(taskID string, nodeType stn.NodeType) int {
	return t.nodeIndex(taskID, nodeType)
}

// AssignTimepoint forces (taskID, nodeType)'s timepoint to t in both the
// STN and the dispatchable graph.
// Returns stn.ErrInconsistentAssignment, unchanged, if the forced value
// would violate consistency.
func (t *Timetable) AssignTimepoint(assignedTime float64, taskID string, nodeType stn.NodeType) error {
	idx := t.nodeIndex(taskID, nodeType)
	if idx < 0 {
		return ErrTaskNotFound
	}
	if err := t.STN.AssignTimepoint(idx, assignedTime); err != nil {
		return err
	}
	return t.Dispatchable.AssignTimepoint(idx, assignedTime)
}

// ExecuteEdge marks (taskID, fromType)->(taskID or next, toType) executed
// in both graphs and garbage-collects history. fromIdx/toIdx are resolved
// against the STN's current node layout, which the two graphs always
// share.
func (t *Timetable) ExecuteEdge(taskID string, fromIdx, toIdx int) error {
	if err := t.STN.ExecuteEdge(fromIdx, toIdx); err != nil {
		return err
	}
	return t.Dispatchable.ExecuteEdge(fromIdx, toIdx)
}

// RemoveTask removes task's nodes from both graphs and re-stitches a fresh
// travel edge between the surviving predecessor and successor. travel is
// the freshly-planned duration for
// that rebuilt edge; it is ignored (and no edge added) when the removed
// task had no successor.
func (t *Timetable) RemoveTask(taskID string, travel stn.Edge) error {
	pred, succ, hasSucc, err := t.STN.RemoveTask(taskID)
	if err != nil {
		return err
	}
	if hasSucc {
		t.STN.SetEdge(pred, succ, travel.LB, travel.UB)
	}
	if !t.STN.Consistent() {
		return stn.ErrNoSolution
	}

	dPred, dSucc, dHasSucc, err := t.Dispatchable.RemoveTask(taskID)
	if err != nil {
		return err
	}
	if dHasSucc {
		t.Dispatchable.SetEdge(dPred, dSucc, travel.LB, travel.UB)
	}
	return t.Solve()
}

// GetStartTime returns task's start time, offset by the zero timepoint.
// lowerBound selects the earliest (true, the default) or latest feasible
// time from the dispatchable graph.
func (t *Timetable) GetStartTime(taskID string, lowerBound bool) (time.Time, error) {
	return t.rTime(taskID, stn.NodeStart, lowerBound)
}

// GetPickupTime returns task's pickup time, offset by the zero timepoint.
func (t *Timetable) GetPickupTime(taskID string, lowerBound bool) (time.Time, error) {
	return t.rTime(taskID, stn.NodePickup, lowerBound)
}

// GetDeliveryTime returns task's delivery time, offset by the zero timepoint.
func (t *Timetable) GetDeliveryTime(taskID string, lowerBound bool) (time.Time, error) {
	return t.rTime(taskID, stn.NodeDelivery, lowerBound)
}

func (t *Timetable) rTime(taskID string, nodeType stn.NodeType, lowerBound bool) (time.Time, error) {
	idx := -1
	for _, i := range t.Dispatchable.TaskNodeIDs(taskID) {
		if t.Dispatchable.Nodes[i].Type == nodeType {
			idx = i
			break
		}
	}
	if idx < 0 {
		return time.Time{}, ErrTaskNotFound
	}
	var r float64
	var err error
	if lowerBound {
		r, err = t.Dispatchable.EarliestTime(idx)
	} else {
		r, err = t.Dispatchable.LatestTime(idx)
	}
	if err != nil {
		return time.Time{}, err
	}
	return t.ZTP.Add(time.Duration(r * float64(time.Second))), nil
}

// GetNextTask returns the task_id immediately following current in
// execution order, and whether one exists (used by the schedule
// monitor).
func (t *Timetable) GetNextTask(currentTaskID string) (string, bool) {
	last := t.STN.DeliveryNodeIndex(currentTaskID)
	if last < 0 || last+1 >= t.STN.NodeCount() {
		return "", false
	}
	next := t.STN.Nodes[last+1].TaskID
	return next, next != ""
}

// ActionEstimate is one non-completed action's duration estimate, summed
// by IsNextTaskLate into the remaining-duration estimate.
type ActionEstimate struct {
	Mean     float64
	Variance float64
}

// IsNextTaskLate reports whether the successor is at risk:
// lastKnownTime(current) + (sum of means + 2*sqrt(summed variance))
// exceeding the successor's latest feasible start.
func (t *Timetable) IsNextTaskLate(currentTaskID string, lastKnownTime float64, remaining []ActionEstimate, nextTaskID string) (bool, error) {
	var meanSum, varSum float64
	for _, a := range remaining {
		meanSum += a.Mean
		varSum += a.Variance
	}
	estimatedStart := lastKnownTime + meanSum + 2*math.Sqrt(varSum)

	latestStart, err := t.GetStartTime(nextTaskID, false)
	if err != nil {
		return false, err
	}
	latestStartSec := latestStart.Sub(t.ZTP).Seconds()
	return estimatedStart > latestStartSec, nil
}

// IsNextTaskInvalid reports true iff next's latest start precedes
// current's scheduled finish. When false
// but next's earliest start is also behind current's finish, it tightens
// next's earliest start in place (the dispatchable graph only; the STN
// keeps the original, looser bound until a fresh assignment is made).
func (t *Timetable) IsNextTaskInvalid(currentTaskID, nextTaskID string) (bool, error) {
	finishCurrent, err := t.GetDeliveryTime(currentTaskID, false)
	if err != nil {
		return false, err
	}
	finishSec := finishCurrent.Sub(t.ZTP).Seconds()

	latestNext, err := t.GetStartTime(nextTaskID, false)
	if err != nil {
		return false, err
	}
	if latestNext.Sub(t.ZTP).Seconds() < finishSec {
		return true, nil
	}

	earliestNext, err := t.GetStartTime(nextTaskID, true)
	if err != nil {
		return false, err
	}
	if earliestNext.Sub(t.ZTP).Seconds() < finishSec {
		idx := t.nodeIndexIn(t.Dispatchable, nextTaskID, stn.NodeStart)
		if idx >= 0 {
			if hi, err := t.Dispatchable.LatestTime(idx); err == nil {
				t.Dispatchable.SetEdge(0, idx, finishSec, hi)
			}
		}
	}
	return false, nil
}

func (t *Timetable) nodeIndexIn(s *stn.STN, taskID string, nodeType stn.NodeType) int {
	for _, idx := range s.TaskNodeIDs(taskID) {
		if s.Nodes[idx].Type == nodeType {
			return idx
		}
	}
	return -1
}

// DGraphUpdate is the subgraph pushed to a robot after a commit falls
// within the dispatch window.
type DGraphUpdate struct {
	RobotID      string
	ZTP          time.Time
	STN          *stn.STN
	Dispatchable *stn.STN
}

// GetDGraphUpdate returns the subgraph covering the first n tasks.
func (t *Timetable) GetDGraphUpdate(n int) DGraphUpdate {
	return DGraphUpdate{
		RobotID:      t.RobotID,
		ZTP:          t.ZTP,
		STN:          t.STN.Subgraph(n),
		Dispatchable: t.Dispatchable.Subgraph(n),
	}
}

// Dict is the plain-mapping serialization of a timetable; FromDict
// restores it structurally unchanged.
type Dict struct {
	RobotID      string    `msgpack:"robot_id" mapstructure:"robot_id"`
	ZTP          time.Time `msgpack:"ztp" mapstructure:"ztp"`
	STN          stn.Wire  `msgpack:"stn" mapstructure:"stn"`
	Dispatchable stn.Wire  `msgpack:"dispatchable_graph" mapstructure:"dispatchable_graph"`
}

func (t *Timetable) ToDict() Dict {
	return Dict{
		RobotID:      t.RobotID,
		ZTP:          t.ZTP,
		STN:          t.STN.ToDict(),
		Dispatchable: t.Dispatchable.ToDict(),
	}
}

func FromDict(d Dict, solver stn.Solver) *Timetable {
	return &Timetable{
		RobotID:      d.RobotID,
		ZTP:          d.ZTP,
		STN:          stn.FromDict(d.STN),
		Dispatchable: stn.FromDict(d.Dispatchable),
		Solver:       solver,
	}
}

// Manager is the fleet-wide map of per-robot timetables.
type Manager struct {
	bySolver   stn.Solver
	timetables map[string]*Timetable
}

// NewManager returns an empty fleet manager using solver for any timetable
// it creates via RegisterRobot.
func NewManager(solver stn.Solver) *Manager {
	return &Manager{bySolver: solver, timetables: make(map[string]*Timetable)}
}

// RegisterRobot adds an empty timetable for robotID if not already present.
func (m *Manager) RegisterRobot(robotID string, ztp time.Time) *Timetable {
	if tt, ok := m.timetables[robotID]; ok {
		return tt
	}
	tt := New(robotID, ztp, m.bySolver)
	m.timetables[robotID] = tt
	return tt
}

// Get returns robotID's timetable, or nil if unregistered.
func (m *Manager) Get(robotID string) *Timetable {
	return m.timetables[robotID]
}

// Set replaces robotID's timetable wholesale (e.g. after a DGraphUpdate).
func (m *Manager) Set(robotID string, tt *Timetable) {
	m.timetables[robotID] = tt
}

// ApplyDGraphUpdate replaces robotID's timetable outright with snapshot:
// a robot's own recomputation fully supersedes what the allocator knew.
func (m *Manager) ApplyDGraphUpdate(robotID string, snapshot Dict) {
	m.timetables[robotID] = FromDict(snapshot, m.bySolver)
}

// ApplyAssignmentUpdate merges a "re-schedule" recovery's per-task timing
// overrides into robotID's timetable without discarding its existing
// STN/Dispatchable snapshot.
// A robot not yet registered is silently skipped: the allocator has no
// shadow to merge into until a TaskContract first registers one.
func (m *Manager) ApplyAssignmentUpdate(robotID string, assignments []structs.Assignment) {
	tt, ok := m.timetables[robotID]
	if !ok {
		return
	}
	if tt.Overrides == nil {
		tt.Overrides = make(map[string]structs.Assignment, len(assignments))
	}
	for _, a := range assignments {
		tt.Overrides[a.TaskID] = a
	}
}

// RobotIDs returns every registered robot ID, sorted so iteration order
// never depends on map order.
func (m *Manager) RobotIDs() []string {
	ids := make([]string, 0, len(m.timetables))
	for id := range m.timetables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ZTP returns the fleet's shared zero timepoint, taken from an arbitrary
// (but deterministic: lowest robot_id) registered timetable.
func (m *Manager) ZTP() (time.Time, bool) {
	ids := m.RobotIDs()
	if len(ids) == 0 {
		return time.Time{}, false
	}
	return m.timetables[ids[0]].ZTP, true
}

// SetZTP propagates a new zero timepoint to every registered timetable.
func (m *Manager) SetZTP(ztp time.Time) {
	for _, tt := range m.timetables {
		tt.UpdateZTP(ztp)
	}
}
