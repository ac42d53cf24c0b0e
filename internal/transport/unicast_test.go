// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ropod-project/mrta/internal/structs"
)

func TestSendDeliversEnvelopeToListener(t *testing.T) {
	table := NewDispatchTable(nil)
	received := make(chan *structs.TaskContractPayload, 1)
	table.On(structs.MsgTaskContract, func(payload interface{}) error {
		received <- payload.(*structs.TaskContractPayload)
		return nil
	})

	u, err := ListenUnicast("127.0.0.1:0", table, nil)
	require.NoError(t, err)
	defer u.Close()

	env := structs.Envelope{
		Header: structs.Header{Type: structs.MsgTaskContract, MsgID: "msg-1"},
		Payload: map[string]interface{}{
			"task_id":  "task-1",
			"robot_id": "robot_001",
			"round_id": "round-1",
		},
	}

	require.NoError(t, Send(u.Addr().String(), env))

	select {
	case payload := <-received:
		require.Equal(t, "task-1", payload.TaskID)
		require.Equal(t, "robot_001", payload.RobotID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered envelope")
	}
}

func TestSendToClosedListenerErrors(t *testing.T) {
	table := NewDispatchTable(nil)
	u, err := ListenUnicast("127.0.0.1:0", table, nil)
	require.NoError(t, err)
	addr := u.Addr().String()
	require.NoError(t, u.Close())

	err = Send(addr, structs.Envelope{Header: structs.Header{Type: structs.MsgTaskStatus}})
	require.Error(t, err)
}
