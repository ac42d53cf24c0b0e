// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package transport

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ropod-project/mrta/internal/structs"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestJoinGroupFormsClusterAndBroadcastsEnvelope(t *testing.T) {
	portA := freePort(t)
	portB := freePort(t)

	a, err := JoinGroup(GroupConfig{NodeName: "robot_001", BindAddr: "127.0.0.1", BindPort: portA, LogOutput: io.Discard}, nil, nil)
	require.NoError(t, err)
	defer a.Leave()

	b, err := JoinGroup(GroupConfig{NodeName: "robot_002", BindAddr: "127.0.0.1", BindPort: portB, LogOutput: io.Discard},
		[]string{fmt.Sprintf("127.0.0.1:%d", portA)}, nil)
	require.NoError(t, err)
	defer b.Leave()

	require.Eventually(t, func() bool {
		return len(a.Members()) == 2 && len(b.Members()) == 2
	}, 5*time.Second, 50*time.Millisecond)

	table := NewDispatchTable(nil)
	received := make(chan *structs.NoBidPayload, 1)
	table.On(structs.MsgNoBid, func(payload interface{}) error {
		received <- payload.(*structs.NoBidPayload)
		return nil
	})
	stop := make(chan struct{})
	defer close(stop)
	go b.Run(table, stop)

	env := structs.Envelope{
		Header: structs.Header{Type: structs.MsgNoBid},
		Payload: map[string]interface{}{
			"robot_id": "robot_001",
			"round_id": "round-1",
			"task_id":  "task-1",
		},
	}
	require.NoError(t, a.Broadcast(env))

	select {
	case payload := <-received:
		require.Equal(t, "task-1", payload.TaskID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for broadcast envelope")
	}
}
