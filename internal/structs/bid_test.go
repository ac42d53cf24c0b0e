// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"testing"

	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/require"

	"github.com/ropod-project/mrta/internal/stn"
)

func TestBetterBidLowerCostWins(t *testing.T) {
	a := Bid{RobotID: "robot_001", TaskID: "T1", RiskMetric: 1, TemporalMetric: 5}
	b := Bid{RobotID: "robot_002", TaskID: "T1", RiskMetric: 2, TemporalMetric: 1}
	require.True(t, BetterBid(a, b))
	require.False(t, BetterBid(b, a))
}

func TestBetterBidTieBreaksOnTaskID(t *testing.T) {
	a := Bid{RobotID: "robot_001", TaskID: "T1", RiskMetric: 1, TemporalMetric: 5}
	b := Bid{RobotID: "robot_002", TaskID: "T2", RiskMetric: 1, TemporalMetric: 5}
	require.True(t, BetterBid(a, b))
}

func TestBetterBidTieBreaksOnRobotSuffix(t *testing.T) {
	a := Bid{RobotID: "robot_001", TaskID: "T1", RiskMetric: 1, TemporalMetric: 5}
	b := Bid{RobotID: "robot_002", TaskID: "T1", RiskMetric: 1, TemporalMetric: 5}
	require.True(t, BetterBid(a, b))
	require.False(t, BetterBid(b, a))
}

func TestRobotSuffixExtractsTrailingDigits(t *testing.T) {
	require.Equal(t, 3, RobotSuffix("robot_003"))
	require.Equal(t, 12, RobotSuffix("robot_012"))
}

func TestBidToPayloadFromPayloadRoundTrip(t *testing.T) {
	s := stn.New()
	s.InsertTaskTriple("T1", 1, stn.Edge{LB: 1, UB: 2}, stn.Edge{LB: 3, UB: 4}, stn.Edge{LB: 0, UB: 1}, 0)
	alt := 42.0

	bid := Bid{
		RobotID: "robot_001", RoundID: "round-1", TaskID: "T1",
		RiskMetric: 0.5, TemporalMetric: 1.5, InsertionPoint: 1,
		STN: s, Dispatchable: s,
		AlternativeStartTime: &alt,
	}

	payload := bid.ToPayload()
	require.Equal(t, "T1", payload.TaskID)
	require.NotNil(t, payload.STN)

	restored, err := BidFromPayload(payload)
	require.NoError(t, err)
	require.Equal(t, bid.RobotID, restored.RobotID)
	require.Equal(t, bid.TaskID, restored.TaskID)
	require.Equal(t, bid.RiskMetric, restored.RiskMetric)
	require.NotNil(t, restored.AlternativeStartTime)
	require.Equal(t, alt, *restored.AlternativeStartTime)
	require.True(t, s.Equal(restored.STN))
}

func TestBidFromPayloadDecodesGenericWireMap(t *testing.T) {
	s := stn.New()
	s.InsertTaskTriple("T1", 1, stn.Edge{LB: 1, UB: 2}, stn.Edge{LB: 3, UB: 4}, stn.Edge{LB: 0, UB: 1}, 0)
	payload := Bid{STN: s}.ToPayload()

	// Simulate what a real wire round trip leaves behind: msgpack/mapstructure
	// decode generic maps, not the typed stn.Wire struct.
	var generic map[string]interface{}
	require.NoError(t, mapstructure.Decode(payload.STN, &generic))
	payload.STN = generic

	restored, err := BidFromPayload(payload)
	require.NoError(t, err)
	require.True(t, s.Equal(restored.STN))
}
