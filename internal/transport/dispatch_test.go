// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ropod-project/mrta/internal/structs"
)

func TestDispatchRoutesDecodedPayloadToHandler(t *testing.T) {
	table := NewDispatchTable(nil)

	var got *structs.NoBidPayload
	table.On(structs.MsgNoBid, func(payload interface{}) error {
		got = payload.(*structs.NoBidPayload)
		return nil
	})

	env := structs.Envelope{
		Header: structs.Header{Type: structs.MsgNoBid},
		Payload: map[string]interface{}{
			"robot_id": "robot_001",
			"round_id": "round-1",
			"task_id":  "task-1",
		},
	}

	require.NoError(t, table.Dispatch(env))
	require.NotNil(t, got)
	require.Equal(t, "robot_001", got.RobotID)
	require.Equal(t, "task-1", got.TaskID)
}

func TestDispatchWithoutHandlerIsANoOp(t *testing.T) {
	table := NewDispatchTable(nil)
	env := structs.Envelope{Header: structs.Header{Type: structs.MsgTaskStatus}, Payload: map[string]interface{}{}}
	require.NoError(t, table.Dispatch(env))
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	table := NewDispatchTable(nil)
	table.On(structs.MsgBid, func(payload interface{}) error {
		panic("boom")
	})

	env := structs.Envelope{
		Header:  structs.Header{Type: structs.MsgBid},
		Payload: map[string]interface{}{},
	}

	err := table.Dispatch(env)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestDispatchUnknownMessageTypeErrors(t *testing.T) {
	table := NewDispatchTable(nil)
	table.On("BOGUS", func(payload interface{}) error { return nil })

	err := table.Dispatch(structs.Envelope{Header: structs.Header{Type: "BOGUS"}})
	require.Error(t, err)
}
