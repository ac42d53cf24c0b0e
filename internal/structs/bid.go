// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/ropod-project/mrta/internal/stn"
)

// Bid is the outcome of a robot evaluating one task at one insertion
// point. A Bid with RiskMetric/TemporalMetric unset
// and NoBid true carries no feasible insertion; it is never elected.
//
// STN/Dispatchable are the candidate graphs computed during bidding; the
// bid exclusively owns these
// snapshots until TaskContract accepts it, at which point the winning
// robot's timetable adopts them directly (no further copy).
type Bid struct {
	RobotID        string
	RoundID        string
	TaskID         string
	NoBid          bool
	RiskMetric     float64
	TemporalMetric float64
	InsertionPoint int

	STN          *stn.STN
	Dispatchable *stn.STN

	// AlternativeStartTime is set when this bid was computed against
	// soft-relaxed constraints (the alternative-timeslot path).
	AlternativeStartTime *float64
}

// Cost is the lexicographic (risk_metric, temporal_metric) pair compared
// by Less.
type Cost struct {
	Risk     float64
	Temporal float64
}

func (b Bid) Cost() Cost { return Cost{Risk: b.RiskMetric, Temporal: b.TemporalMetric} }

// Less reports whether b strictly improves on other:
// lexicographic cost comparison, with no task_id tie-break applied here
// (that is layered on by callers, since it requires knowing both task_ids
// are equal — which is only meaningful when comparing bids for the same
// task across robots in the auctioneer's election, not here).
func (b Bid) Less(other Bid) bool {
	if b.RiskMetric != other.RiskMetric {
		return b.RiskMetric < other.RiskMetric
	}
	return b.TemporalMetric < other.TemporalMetric
}

// Equal reports exact-value cost equality on both components.
func (b Bid) Equal(other Bid) bool {
	return b.RiskMetric == other.RiskMetric && b.TemporalMetric == other.TemporalMetric
}

// RobotSuffix extracts the trailing numeric suffix of a robot_id such as
// "robot_003" -> 3, used as the secondary election tie-break. A
// malformed id sorts last (returns the max int).
func RobotSuffix(robotID string) int {
	i := len(robotID)
	for i > 0 && robotID[i-1] >= '0' && robotID[i-1] <= '9' {
		i--
	}
	digits := robotID[i:]
	if digits == "" {
		return int(^uint(0) >> 1)
	}
	n := 0
	for _, c := range digits {
		n = n*10 + int(c-'0')
	}
	return n
}

// BetterBid applies the full bid ordering used both inside a
// round (per-task best-so-far) and at election time (across tasks):
// lower cost wins; ties break on smaller task_id, then smaller robot_id
// suffix. It reports whether candidate should replace incumbent.
func BetterBid(candidate, incumbent Bid) bool {
	if candidate.Less(incumbent) {
		return true
	}
	if !candidate.Equal(incumbent) {
		return false
	}
	if candidate.TaskID != incumbent.TaskID {
		return candidate.TaskID < incumbent.TaskID
	}
	return RobotSuffix(candidate.RobotID) < RobotSuffix(incumbent.RobotID)
}

// ToPayload converts an in-process Bid (owning live *stn.STN graphs) to
// its BidPayload wire form (stn.Wire plain mappings), for the BID
// message internal/transport puts on the wire.
func (b Bid) ToPayload() BidPayload {
	p := BidPayload{
		RobotID:              b.RobotID,
		RoundID:              b.RoundID,
		TaskID:               b.TaskID,
		RiskMetric:           b.RiskMetric,
		TemporalMetric:       b.TemporalMetric,
		InsertionPoint:       b.InsertionPoint,
		AlternativeStartTime: b.AlternativeStartTime,
	}
	if b.STN != nil {
		p.STN = b.STN.ToDict()
	}
	if b.Dispatchable != nil {
		p.DispatchableGraph = b.Dispatchable.ToDict()
	}
	return p
}

// BidFromPayload reconstructs the in-process Bid a BidPayload carries.
// p.STN/p.DispatchableGraph arrive either already typed (same-process
// hand-off) or as the generic map[string]interface{} msgpack leaves
// behind an untyped field (the wire path, after transport's envelope
// decode); decodeWire handles both via mapstructure.
func BidFromPayload(p BidPayload) (Bid, error) {
	b := Bid{
		RobotID:              p.RobotID,
		RoundID:              p.RoundID,
		TaskID:               p.TaskID,
		RiskMetric:           p.RiskMetric,
		TemporalMetric:       p.TemporalMetric,
		InsertionPoint:       p.InsertionPoint,
		AlternativeStartTime: p.AlternativeStartTime,
	}
	w, err := decodeWire(p.STN)
	if err != nil {
		return Bid{}, fmt.Errorf("structs: decode bid stn: %w", err)
	}
	if w != nil {
		b.STN = stn.FromDict(*w)
	}
	w, err = decodeWire(p.DispatchableGraph)
	if err != nil {
		return Bid{}, fmt.Errorf("structs: decode bid dispatchable_graph: %w", err)
	}
	if w != nil {
		b.Dispatchable = stn.FromDict(*w)
	}
	return b, nil
}

// DecodeGraph normalizes an untyped stn field from a wire payload (nil,
// typed stn.Wire, or a generic map) into a live *stn.STN, or nil if raw
// carried nothing. Used by the process runtimes for the D-GRAPH-UPDATE /
// DISPATCH-QUEUE-UPDATE payloads, which share BidPayload's graph encoding.
func DecodeGraph(raw interface{}) (*stn.STN, error) {
	w, err := decodeWire(raw)
	if err != nil || w == nil {
		return nil, err
	}
	return stn.FromDict(*w), nil
}

// decodeWire normalizes an untyped STN/dispatchable-graph field (nil,
// already-typed stn.Wire, or a generic map from a wire decode) into a
// *stn.Wire, or nil if raw carried nothing.
func decodeWire(raw interface{}) (*stn.Wire, error) {
	if raw == nil {
		return nil, nil
	}
	if w, ok := raw.(stn.Wire); ok {
		return &w, nil
	}
	var w stn.Wire
	if err := mapstructure.Decode(raw, &w); err != nil {
		return nil, err
	}
	return &w, nil
}
