// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import (
	"time"

	uuid "github.com/hashicorp/go-uuid"
)

// MessageType is the header.type tag of the self-describing
// message envelope; internal/transport dispatches on this value.
type MessageType string

const (
	MsgTaskAnnouncement           MessageType = "TASK-ANNOUNCEMENT"
	MsgBid                        MessageType = "BID"
	MsgNoBid                      MessageType = "NO-BID"
	MsgTaskContract               MessageType = "TASK-CONTRACT"
	MsgTaskContractAcknowledgement MessageType = "TASK-CONTRACT-ACKNOWLEDGEMENT"
	MsgTaskStatus                 MessageType = "TASK-STATUS"
	MsgDGraphUpdate               MessageType = "D-GRAPH-UPDATE"
	MsgDispatchQueueUpdate        MessageType = "DISPATCH-QUEUE-UPDATE"
	MsgAssignmentUpdate           MessageType = "ASSIGNMENT-UPDATE"
	MsgRobotPose                  MessageType = "ROBOT-POSE"
	MsgStartTest                  MessageType = "START-TEST"
)

// GroupTaskAllocation is the single pub/sub group every process joins.
const GroupTaskAllocation = "TASK-ALLOCATION"

// Header is the common envelope header every message carries.
type Header struct {
	Type      MessageType `msgpack:"type" mapstructure:"type"`
	MsgID     string      `msgpack:"msg_id" mapstructure:"msg_id"`
	Timestamp time.Time   `msgpack:"timestamp" mapstructure:"timestamp"`
}

// Envelope is the self-describing wire encoding:
// {header: {...}, payload: {...}}. Payload is decoded by mapstructure
// once the header's Type selects the concrete payload shape.
type Envelope struct {
	Header  Header      `msgpack:"header" mapstructure:"header"`
	Payload interface{} `msgpack:"payload" mapstructure:"payload"`
}

// NewEnvelope wraps payload in an envelope with a fresh msg_id and the
// current wall-clock timestamp.
func NewEnvelope(msgType MessageType, payload interface{}) (Envelope, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Header:  Header{Type: msgType, MsgID: id, Timestamp: time.Now().UTC()},
		Payload: payload,
	}, nil
}

// TaskAnnouncementPayload is TASK-ANNOUNCEMENT's payload.
type TaskAnnouncementPayload struct {
	RoundID       string    `msgpack:"round_id" mapstructure:"round_id"`
	ZeroTimepoint time.Time `msgpack:"zero_timepoint" mapstructure:"zero_timepoint"`
	Tasks         []*Task   `msgpack:"tasks" mapstructure:"tasks"`
}

// BidPayload is BID's wire payload; STN/DispatchableGraph carry the
// engine's plain-mapping serialization, not the in-process *stn.STN.
type BidPayload struct {
	RobotID               string      `msgpack:"robot_id" mapstructure:"robot_id"`
	RoundID               string      `msgpack:"round_id" mapstructure:"round_id"`
	TaskID                string      `msgpack:"task_id" mapstructure:"task_id"`
	RiskMetric            float64     `msgpack:"risk_metric" mapstructure:"risk_metric"`
	TemporalMetric        float64     `msgpack:"temporal_metric" mapstructure:"temporal_metric"`
	InsertionPoint        int         `msgpack:"insertion_point" mapstructure:"insertion_point"`
	STN                   interface{} `msgpack:"stn" mapstructure:"stn"`
	DispatchableGraph     interface{} `msgpack:"dispatchable_graph" mapstructure:"dispatchable_graph"`
	AlternativeStartTime  *float64    `msgpack:"alternative_start_time,omitempty" mapstructure:"alternative_start_time"`
}

// NoBidPayload is NO-BID's payload.
type NoBidPayload struct {
	RobotID string `msgpack:"robot_id" mapstructure:"robot_id"`
	RoundID string `msgpack:"round_id" mapstructure:"round_id"`
	TaskID  string `msgpack:"task_id" mapstructure:"task_id"`
}

// TaskContractPayload is TASK-CONTRACT's payload.
type TaskContractPayload struct {
	TaskID  string `msgpack:"task_id" mapstructure:"task_id"`
	RobotID string `msgpack:"robot_id" mapstructure:"robot_id"`
	RoundID string `msgpack:"round_id" mapstructure:"round_id"`
}

// TaskContractAcknowledgementPayload is TASK-CONTRACT-ACKNOWLEDGEMENT's payload.
type TaskContractAcknowledgementPayload struct {
	RobotID string `msgpack:"robot_id" mapstructure:"robot_id"`
	TaskID  string `msgpack:"task_id" mapstructure:"task_id"`
}

// TaskStatusPayload is TASK-STATUS's payload.
type TaskStatusPayload struct {
	TaskID  string     `msgpack:"task_id" mapstructure:"task_id"`
	RobotID string     `msgpack:"robot_id" mapstructure:"robot_id"`
	Status  TaskStatus `msgpack:"status" mapstructure:"status"`
	Delayed bool       `msgpack:"delayed,omitempty" mapstructure:"delayed"`
}

// DGraphUpdatePayload backs both D-GRAPH-UPDATE and DISPATCH-QUEUE-UPDATE,
// which share the same shape.
type DGraphUpdatePayload struct {
	RobotID           string      `msgpack:"robot_id,omitempty" mapstructure:"robot_id"`
	ZTP               time.Time   `msgpack:"ztp" mapstructure:"ztp"`
	STN               interface{} `msgpack:"stn" mapstructure:"stn"`
	DispatchableGraph interface{} `msgpack:"dispatchable_graph" mapstructure:"dispatchable_graph"`
}

// Assignment is one entry of an ASSIGNMENT-UPDATE payload: a task's
// recomputed timing, broadcast by the re-schedule recovery strategy.
type Assignment struct {
	TaskID       string  `msgpack:"task_id" mapstructure:"task_id"`
	StartTime    float64 `msgpack:"start_time" mapstructure:"start_time"`
	PickupTime   float64 `msgpack:"pickup_time" mapstructure:"pickup_time"`
	DeliveryTime float64 `msgpack:"delivery_time" mapstructure:"delivery_time"`
}

// AssignmentUpdatePayload is ASSIGNMENT-UPDATE's payload. Replace
// distinguishes a re-schedule's merge semantics from a full
// shadow-timetable replacement.
type AssignmentUpdatePayload struct {
	RobotID     string       `msgpack:"robot_id" mapstructure:"robot_id"`
	Assignments []Assignment `msgpack:"assignments" mapstructure:"assignments"`
	Replace     bool         `msgpack:"replace,omitempty" mapstructure:"replace"`
}

// Pose is a 2D pose with heading.
type Pose struct {
	X     float64 `msgpack:"x" mapstructure:"x"`
	Y     float64 `msgpack:"y" mapstructure:"y"`
	Theta float64 `msgpack:"theta" mapstructure:"theta"`
}

// RobotPosePayload is ROBOT-POSE's payload.
type RobotPosePayload struct {
	RobotID string `msgpack:"robot_id" mapstructure:"robot_id"`
	Pose    Pose   `msgpack:"pose" mapstructure:"pose"`
}

// StartTestPayload is START-TEST's payload: the trigger that anchors the
// fleet's zero timepoint and opens the allocation loop.
type StartTestPayload struct {
	InitialTime time.Time `msgpack:"initial_time" mapstructure:"initial_time"`
}
