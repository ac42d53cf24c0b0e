// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package stn

// WireNode and WireEdge are the self-describing STN serialization form:
// a mapping with nodes (list of {id, data}) and edges (list of
// {from, to, lb, ub, executed?}). Exported field names carry lowercase
// msgpack/mapstructure tags so the shape round-trips over the wire
// unchanged.
type WireNode struct {
	ID   int          `msgpack:"id" mapstructure:"id"`
	Data WireNodeData `msgpack:"data" mapstructure:"data"`
}

type WireNodeData struct {
	TaskID    string   `msgpack:"task_id" mapstructure:"task_id"`
	Type      NodeType `msgpack:"type" mapstructure:"type"`
	Executed  bool     `msgpack:"executed" mapstructure:"executed"`
	Time      float64  `msgpack:"time,omitempty" mapstructure:"time"`
	TimeIsSet bool     `msgpack:"time_is_set,omitempty" mapstructure:"time_is_set"`
}

type WireEdge struct {
	From     int     `msgpack:"from" mapstructure:"from"`
	To       int     `msgpack:"to" mapstructure:"to"`
	LB       float64 `msgpack:"lb" mapstructure:"lb"`
	UB       float64 `msgpack:"ub" mapstructure:"ub"`
	Executed bool    `msgpack:"executed,omitempty" mapstructure:"executed"`
}

// Wire is the plain-mapping form of an STN, produced by ToDict and
// consumed by FromDict.
type Wire struct {
	Nodes []WireNode `msgpack:"nodes" mapstructure:"nodes"`
	Edges []WireEdge `msgpack:"edges" mapstructure:"edges"`
}

// ToDict serializes the network to its wire form. Node and edge order is
// index-ascending, not map-iteration order, so two structurally equal
// networks always serialize identically.
func (s *STN) ToDict() Wire {
	w := Wire{Nodes: make([]WireNode, len(s.Nodes))}
	for i, n := range s.Nodes {
		w.Nodes[i] = WireNode{ID: i, Data: WireNodeData{
			TaskID: n.TaskID, Type: n.Type, Executed: n.Executed,
			Time: n.Time, TimeIsSet: n.TimeIsSet,
		}}
	}
	for u := 0; u < len(s.Nodes); u++ {
		for v := 0; v < len(s.Nodes); v++ {
			if e, ok := s.Edges[edgeKey{u, v}]; ok {
				w.Edges = append(w.Edges, WireEdge{From: u, To: v, LB: e.LB, UB: e.UB, Executed: e.Executed})
			}
		}
	}
	return w
}

// FromDict reconstructs an STN from its wire form.
func FromDict(w Wire) *STN {
	s := &STN{
		Nodes: make([]Node, len(w.Nodes)),
		Edges: make(map[edgeKey]Edge, len(w.Edges)),
	}
	for _, n := range w.Nodes {
		s.Nodes[n.ID] = Node{
			TaskID: n.Data.TaskID, Type: n.Data.Type, Executed: n.Data.Executed,
			Time: n.Data.Time, TimeIsSet: n.Data.TimeIsSet,
		}
	}
	for _, e := range w.Edges {
		s.Edges[edgeKey{e.From, e.To}] = Edge{LB: e.LB, UB: e.UB, Executed: e.Executed}
	}
	return s
}

// Equal reports structural equality: FromDict(ToDict(s)) must equal s.
func (s *STN) Equal(other *STN) bool {
	if other == nil || len(s.Nodes) != len(other.Nodes) || len(s.Edges) != len(other.Edges) {
		return false
	}
	for i := range s.Nodes {
		if s.Nodes[i] != other.Nodes[i] {
			return false
		}
	}
	for k, v := range s.Edges {
		ov, ok := other.Edges[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}
