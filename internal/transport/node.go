// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package transport

import (
	"fmt"

	"github.com/ropod-project/mrta/internal/structs"
)

// Node bundles the two halves of one process's transport: the Serf group
// for fan-out and the msgpack-RPC listener for per-peer deliveries. It
// satisfies the outbound Wire interfaces internal/ccu and internal/robot
// consume.
type Node struct {
	Group   *Group
	Unicast *Unicast
}

// Broadcast fans env out to the whole TASK-ALLOCATION group.
func (n *Node) Broadcast(env structs.Envelope) error {
	return n.Group.Broadcast(env)
}

// SendTo delivers env over unicast to the member tagged with robotID.
func (n *Node) SendTo(robotID string, env structs.Envelope) error {
	addr, ok := n.Group.ResolveUnicastAddr(robotID)
	if !ok {
		return fmt.Errorf("transport: no unicast_addr for robot %s", robotID)
	}
	return Send(addr, env)
}

// SendToAllocator delivers env over unicast to the member tagged
// role=allocator (the single CCU process of the fleet).
func (n *Node) SendToAllocator(env structs.Envelope) error {
	for _, m := range n.Group.Members() {
		if m.Tags["role"] != "allocator" {
			continue
		}
		addr, ok := m.Tags["unicast_addr"]
		if !ok {
			break
		}
		return Send(addr, env)
	}
	return fmt.Errorf("transport: no allocator member in group")
}

// Close leaves the group and shuts down the unicast listener.
func (n *Node) Close() error {
	var firstErr error
	if n.Group != nil {
		firstErr = n.Group.Leave()
	}
	if n.Unicast != nil {
		if err := n.Unicast.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
