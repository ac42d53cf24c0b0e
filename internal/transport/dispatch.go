// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package transport

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"

	"github.com/ropod-project/mrta/internal/structs"
)

// Handler processes one decoded payload value (already mapstructure-decoded
// into the concrete payload type for env.Header.Type). An error it returns
// is passed back to Dispatch's caller; Group.Run only logs it and carries
// on, so one bad message never stops the loop.
type Handler func(payload interface{}) error

// payloadType pairs a message type with the concrete Go type mapstructure
// should decode its generic payload map into before calling Handler.
var payloadType = map[structs.MessageType]func() interface{}{
	structs.MsgTaskAnnouncement:            func() interface{} { return &structs.TaskAnnouncementPayload{} },
	structs.MsgBid:                         func() interface{} { return &structs.BidPayload{} },
	structs.MsgNoBid:                       func() interface{} { return &structs.NoBidPayload{} },
	structs.MsgTaskContract:                func() interface{} { return &structs.TaskContractPayload{} },
	structs.MsgTaskContractAcknowledgement: func() interface{} { return &structs.TaskContractAcknowledgementPayload{} },
	structs.MsgTaskStatus:                  func() interface{} { return &structs.TaskStatusPayload{} },
	structs.MsgDGraphUpdate:                func() interface{} { return &structs.DGraphUpdatePayload{} },
	structs.MsgDispatchQueueUpdate:         func() interface{} { return &structs.DGraphUpdatePayload{} },
	structs.MsgAssignmentUpdate:            func() interface{} { return &structs.AssignmentUpdatePayload{} },
	structs.MsgRobotPose:                   func() interface{} { return &structs.RobotPosePayload{} },
	structs.MsgStartTest:                   func() interface{} { return &structs.StartTestPayload{} },
}

// DispatchTable routes an incoming Envelope to the Handler registered for
// its message type, decoding the generic payload into the concrete
// payload struct first: an explicit dispatch table keyed by the
// envelope's type tag.
type DispatchTable struct {
	handlers map[structs.MessageType]Handler
	logger   hclog.Logger
}

// NewDispatchTable returns an empty table.
func NewDispatchTable(logger hclog.Logger) *DispatchTable {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &DispatchTable{handlers: make(map[structs.MessageType]Handler), logger: logger.Named("dispatch")}
}

// On registers handler for msgType, replacing any previous registration.
func (d *DispatchTable) On(msgType structs.MessageType, handler Handler) {
	d.handlers[msgType] = handler
}

// Dispatch decodes env's generic payload into the concrete type for its
// header's message type and invokes the registered handler, recovering a
// handler panic into a logged error so one bad message never takes down
// the loop.
func (d *DispatchTable) Dispatch(env structs.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport: handler panic for %s: %v", env.Header.Type, r)
			d.logger.Error("recovered handler panic", "type", env.Header.Type, "panic", r)
		}
	}()

	handler, ok := d.handlers[env.Header.Type]
	if !ok {
		d.logger.Debug("no handler registered", "type", env.Header.Type)
		return nil
	}

	newPayload, ok := payloadType[env.Header.Type]
	if !ok {
		return fmt.Errorf("transport: unknown message type %s", env.Header.Type)
	}
	target := newPayload()
	if err := mapstructure.Decode(env.Payload, target); err != nil {
		return fmt.Errorf("transport: decode %s payload: %w", env.Header.Type, err)
	}

	return handler(target)
}
