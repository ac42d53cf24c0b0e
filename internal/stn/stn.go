// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package stn implements the Simple Temporal Network engine: an STN
// value type, Floyd-Warshall class consistency checking, minimal-network
// (dispatchable graph) derivation, forced timepoint assignment, edge
// execution/freezing, and a plain-mapping serialization form. Instances
// are value-like and deep-copyable (Clone); callers own synchronization —
// a timetable's STN is only ever touched by its single owning loop.
package stn

import (
	"errors"
	"math"
)

// NodeType distinguishes the zero timepoint from the three roles a task
// occupies in the network.
type NodeType string

const (
	NodeZTP      NodeType = "ztp"
	NodeStart    NodeType = "start"
	NodePickup   NodeType = "pickup"
	NodeDelivery NodeType = "delivery"
)

// ErrNoSolution is returned whenever an operation would make (or already
// found) the network inconsistent (a negative cycle in the distance
// graph).
var ErrNoSolution = errors.New("stn: no consistent solution")

// ErrInconsistentAssignment is returned by AssignTimepoint when forcing a
// timepoint would violate consistency.
var ErrInconsistentAssignment = errors.New("stn: inconsistent assignment")

// ErrNodeNotFound is returned when an operation references a node or task
// the network does not contain.
var ErrNodeNotFound = errors.New("stn: node not found")

// Node is one vertex of the network: the zero timepoint, or one of a
// task's start/pickup/delivery timepoints.
type Node struct {
	TaskID   string
	Type     NodeType
	Executed bool
	// Time is set once the node has been assigned (by AssignTimepoint or
	// ExecuteEdge); nodes that were never assigned carry Time == 0 and
	// must not be read until TimeIsSet is true.
	Time      float64
	TimeIsSet bool
}

// edgeKey identifies a directed constraint edge u -> v.
type edgeKey struct{ U, V int }

// Edge is a directed temporal constraint: lb <= t[v] - t[u] <= ub.
type Edge struct {
	LB, UB   float64
	Executed bool
}

// STN is the temporal network: a node list (index 0 is always the zero
// timepoint) plus a sparse set of directed constraint edges.
type STN struct {
	Nodes []Node
	Edges map[edgeKey]Edge
}

// New returns an STN containing only the zero timepoint (node 0).
func New() *STN {
	return &STN{
		Nodes: []Node{{Type: NodeZTP, TimeIsSet: true}},
		Edges: make(map[edgeKey]Edge),
	}
}

// Clone returns a deep, independent copy.
func (s *STN) Clone() *STN {
	out := &STN{
		Nodes: append([]Node(nil), s.Nodes...),
		Edges: make(map[edgeKey]Edge, len(s.Edges)),
	}
	for k, v := range s.Edges {
		out.Edges[k] = v
	}
	return out
}

// NodeCount returns the number of nodes, including the zero timepoint.
func (s *STN) NodeCount() int { return len(s.Nodes) }

// Edge returns the stored edge u->v, if any.
func (s *STN) Edge(u, v int) (Edge, bool) {
	e, ok := s.Edges[edgeKey{u, v}]
	return e, ok
}

// SetEdge inserts the directed constraint u->v (lb <= t[v]-t[u] <= ub),
// replacing any bound already stored for that pair.
func (s *STN) SetEdge(u, v int, lb, ub float64) {
	s.Edges[edgeKey{u, v}] = Edge{LB: lb, UB: ub}
}

// RemoveEdge deletes the directed constraint u->v, if present.
func (s *STN) RemoveEdge(u, v int) {
	delete(s.Edges, edgeKey{u, v})
}

// TaskNodeIDs returns the node indices belonging to taskID, in
// start/pickup/delivery order, or nil if the task is not present.
func (s *STN) TaskNodeIDs(taskID string) []int {
	var ids []int
	for i, n := range s.Nodes {
		if n.TaskID == taskID {
			ids = append(ids, i)
		}
	}
	return ids
}

// TaskPosition returns the 1-based sequence position of taskID among the
// other tasks in the network (position i owns nodes 3(i-1)+1..3(i-1)+3),
// or 0 if the task is absent.
func (s *STN) TaskPosition(taskID string) int {
	ids := s.TaskNodeIDs(taskID)
	if len(ids) == 0 {
		return 0
	}
	return (ids[0]-1)/3 + 1
}

// TaskCount returns the number of complete task triples currently in the
// network.
func (s *STN) TaskCount() int {
	return (len(s.Nodes) - 1) / 3
}

// TaskIDs returns every task currently in the network, in sequence order.
func (s *STN) TaskIDs() []string {
	n := s.TaskCount()
	ids := make([]string, 0, n)
	for pos := 1; pos <= n; pos++ {
		ids = append(ids, s.TaskIDAtPosition(pos))
	}
	return ids
}

// TaskIDAtPosition returns the task occupying 1-based sequence position
// pos, or "" if the network has fewer tasks. Used by the timetable layer
// to resolve which task precedes an insertion point.
func (s *STN) TaskIDAtPosition(pos int) string {
	idx := 3*(pos-1) + 1
	if pos < 1 || idx >= len(s.Nodes) {
		return ""
	}
	return s.Nodes[idx].TaskID
}

// DeliveryNodeIndex returns taskID's delivery node index, or -1 if absent.
func (s *STN) DeliveryNodeIndex(taskID string) int {
	ids := s.TaskNodeIDs(taskID)
	if len(ids) == 0 {
		return -1
	}
	return ids[len(ids)-1]
}

// StartNodeIndex returns taskID's start node index, or -1 if absent.
func (s *STN) StartNodeIndex(taskID string) int {
	ids := s.TaskNodeIDs(taskID)
	if len(ids) == 0 {
		return -1
	}
	return ids[0]
}

// shiftNodesFrom inserts `count` empty slots at position `at`, shifting
// every node (and every edge endpoint) with index >= at upward by count.
func (s *STN) shiftNodesFrom(at, count int) {
	grown := make([]Node, len(s.Nodes)+count)
	copy(grown, s.Nodes[:at])
	copy(grown[at+count:], s.Nodes[at:])
	s.Nodes = grown

	shifted := make(map[edgeKey]Edge, len(s.Edges))
	for k, v := range s.Edges {
		nk := k
		if nk.U >= at {
			nk.U += count
		}
		if nk.V >= at {
			nk.V += count
		}
		shifted[nk] = v
	}
	s.Edges = shifted
}

// InsertTaskTriple splices a (start, pickup, delivery) triple for taskID
// at 1-based insertionPoint i, i.e. at node indices 3(i-1)+1..3(i-1)+3.
// pickup/delivery are the task's own internal
// constraints; travel is the cross-task edge wired from the previous
// node (prevNode, the ztp when i==1, or the previous task's delivery
// node) to the new start node. Returns the new start node index.
//
// Any pre-existing edge from prevNode that used to point at the node now
// occupying insertionPoint's old position is left untouched by this
// method — rewiring the *successor's* incoming edge is the caller's
// responsibility (the bidding rule only computes the edge preceding the
// task being inserted); shiftNodesFrom preserves that edge's endpoints by
// renumbering them forward automatically.
func (s *STN) InsertTaskTriple(taskID string, insertionPoint int, pickup, delivery, travel Edge, prevNode int) (startIdx int) {
	at := 3*(insertionPoint-1) + 1
	s.shiftNodesFrom(at, 3)

	startIdx = at
	pickupIdx := at + 1
	deliveryIdx := at + 2

	s.Nodes[startIdx] = Node{TaskID: taskID, Type: NodeStart}
	s.Nodes[pickupIdx] = Node{TaskID: taskID, Type: NodePickup}
	s.Nodes[deliveryIdx] = Node{TaskID: taskID, Type: NodeDelivery}

	s.SetEdge(startIdx, pickupIdx, pickup.LB, pickup.UB)
	s.SetEdge(pickupIdx, deliveryIdx, delivery.LB, delivery.UB)
	s.SetEdge(prevNode, startIdx, travel.LB, travel.UB)

	return startIdx
}

// RemoveTask removes taskID's 1-3 nodes and every edge touching them,
// returning the predecessor and successor node indices (post-removal,
// renumbered) so the caller can rewire a fresh cross-task travel edge
// between them, re-stitching the successor against its new predecessor.
// hasSuccessor is false when the removed task was last in sequence.
func (s *STN) RemoveTask(taskID string) (predecessor, successor int, hasSuccessor bool, err error) {
	ids := s.TaskNodeIDs(taskID)
	if len(ids) == 0 {
		return 0, 0, false, ErrNodeNotFound
	}
	first, last := ids[0], ids[len(ids)-1]
	predecessor = first - 1

	removed := map[int]bool{}
	for _, id := range ids {
		removed[id] = true
	}

	kept := make([]Node, 0, len(s.Nodes)-len(ids))
	// old index -> new index, -1 if removed
	remap := make([]int, len(s.Nodes))
	for i, n := range s.Nodes {
		if removed[i] {
			remap[i] = -1
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, n)
	}
	s.Nodes = kept

	newEdges := make(map[edgeKey]Edge, len(s.Edges))
	for k, v := range s.Edges {
		if removed[k.U] || removed[k.V] {
			continue
		}
		newEdges[edgeKey{remap[k.U], remap[k.V]}] = v
	}
	s.Edges = newEdges

	if last+1 < len(remap) && remap[last+1] != -1 {
		hasSuccessor = true
		successor = remap[last+1]
	}
	predecessor = remap[predecessor]
	return predecessor, successor, hasSuccessor, nil
}

// apsp runs the Floyd-Warshall-class all-pairs-shortest-path relaxation
// over the distance graph implied by the STN's edges: each stored edge
// u->v [lb,ub] contributes a forward arc u->v of weight ub and a reverse
// arc v->u of weight -lb. A negative value on the diagonal after
// relaxation indicates a negative cycle, i.e. an inconsistent network.
// The k,i,j loop order is fixed for determinism. The STN stores its edges
// sparsely; the relaxation itself runs on a dense n x n distance matrix
// built from them, with separate forward and reverse arcs since STN edges
// are not symmetric weights.
func (s *STN) apsp() [][]float64 {
	n := len(s.Nodes)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		for j := range d[i] {
			if i == j {
				d[i][j] = 0
			} else {
				d[i][j] = math.Inf(1)
			}
		}
	}
	for k, e := range s.Edges {
		if e.UB < d[k.U][k.V] {
			d[k.U][k.V] = e.UB
		}
		if -e.LB < d[k.V][k.U] {
			d[k.V][k.U] = -e.LB
		}
	}

	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if math.IsInf(d[i][k], 1) {
				continue
			}
			for j := 0; j < n; j++ {
				if math.IsInf(d[k][j], 1) {
					continue
				}
				if cand := d[i][k] + d[k][j]; cand < d[i][j] {
					d[i][j] = cand
				}
			}
		}
	}
	return d
}

// Consistent reports whether the network has no negative cycle.
func (s *STN) Consistent() bool {
	d := s.apsp()
	for i := range d {
		if d[i][i] < 0 {
			return false
		}
	}
	return true
}

// MinimalNetwork computes the dispatchable graph: the distance-matrix
// closure tightened onto every originally-constrained edge pair. Returns
// ErrNoSolution if the network is inconsistent.
func (s *STN) MinimalNetwork() (*STN, error) {
	d := s.apsp()
	for i := range d {
		if d[i][i] < 0 {
			return nil, ErrNoSolution
		}
	}

	out := s.Clone()
	for k := range out.Edges {
		out.Edges[k] = Edge{LB: -d[k.V][k.U], UB: d[k.U][k.V], Executed: out.Edges[k].Executed}
	}
	return out, nil
}

// EarliestTime returns the earliest feasible time of node idx relative to
// the zero timepoint (node 0), derived from the network's APSP closure:
// t[idx] >= -d[idx][0].
func (s *STN) EarliestTime(idx int) (float64, error) {
	if idx < 0 || idx >= len(s.Nodes) {
		return 0, ErrNodeNotFound
	}
	d := s.apsp()
	if d[idx][idx] < 0 {
		return 0, ErrNoSolution
	}
	return -d[idx][0], nil
}

// LatestTime returns the latest feasible time of node idx relative to the
// zero timepoint: t[idx] <= d[0][idx].
func (s *STN) LatestTime(idx int) (float64, error) {
	if idx < 0 || idx >= len(s.Nodes) {
		return 0, ErrNodeNotFound
	}
	d := s.apsp()
	if d[idx][idx] < 0 {
		return 0, ErrNoSolution
	}
	return d[0][idx], nil
}

// AssignTimepoint forces node idx to time t: it recomputes the minimal
// network on a copy, rejects t if it lies outside idx's window there,
// forces the assignment by collapsing idx's window to [t,t], and only
// applies the change to the receiver if the result is still consistent.
func (s *STN) AssignTimepoint(idx int, t float64) error {
	if idx < 0 || idx >= len(s.Nodes) {
		return ErrNodeNotFound
	}
	trial, err := s.MinimalNetwork()
	if err != nil {
		return ErrInconsistentAssignment
	}
	lo, _ := trial.EarliestTime(idx)
	hi, _ := trial.LatestTime(idx)
	if t < lo || t > hi {
		return ErrInconsistentAssignment
	}
	trial.SetEdge(0, idx, t, t)
	trial.SetEdge(idx, 0, -t, -t)
	if !trial.Consistent() {
		return ErrInconsistentAssignment
	}
	s.SetEdge(0, idx, t, t)
	s.SetEdge(idx, 0, -t, -t)
	s.Nodes[idx].Time = t
	s.Nodes[idx].TimeIsSet = true
	return nil
}

// ExecuteEdge marks the edge u->v executed in-place and garbage-collects
// every node with index strictly earlier than min(u,v): executed history
// is latched, then dropped. Node 0 (ztp) is never collected; indices of surviving
// nodes and edges are shifted down to keep the network 0-based and
// contiguous.
func (s *STN) ExecuteEdge(u, v int) error {
	e, ok := s.Edge(u, v)
	if !ok {
		return ErrNodeNotFound
	}
	e.Executed = true
	s.Edges[edgeKey{u, v}] = e
	s.Nodes[u].Executed = true
	s.Nodes[v].Executed = true

	cutoff := u
	if v < cutoff {
		cutoff = v
	}
	if cutoff <= 1 {
		return nil
	}

	kept := append([]Node{s.Nodes[0]}, s.Nodes[cutoff:]...)
	removed := make(map[int]bool, cutoff-1)
	for i := 1; i < cutoff; i++ {
		removed[i] = true
	}
	remap := make([]int, len(s.Nodes))
	remap[0] = 0
	next := 1
	for i := cutoff; i < len(s.Nodes); i++ {
		remap[i] = next
		next++
	}
	newEdges := make(map[edgeKey]Edge, len(s.Edges))
	for k, ed := range s.Edges {
		if removed[k.U] || removed[k.V] {
			continue
		}
		newEdges[edgeKey{remap[k.U], remap[k.V]}] = ed
	}
	s.Nodes = kept
	s.Edges = newEdges
	return nil
}

// Subgraph returns a copy of the network restricted to the zero timepoint
// plus the first n task triples, in execution order, for broadcast as a
// D-GRAPH-UPDATE.
func (s *STN) Subgraph(n int) *STN {
	maxNode := 3*n + 1
	if maxNode > len(s.Nodes) {
		maxNode = len(s.Nodes)
	}
	out := &STN{
		Nodes: append([]Node(nil), s.Nodes[:maxNode]...),
		Edges: make(map[edgeKey]Edge),
	}
	for k, v := range s.Edges {
		if k.U < maxNode && k.V < maxNode {
			out.Edges[k] = v
		}
	}
	return out
}
