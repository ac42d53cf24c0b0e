// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package transport

import (
	"fmt"
	"net"
	"net/rpc"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/net-rpc-msgpackrpc/v2"

	"github.com/ropod-project/mrta/internal/structs"
)

// Unicast implements the per-peer half of the transport: a bidder's BID
// reply addressed only to the auctioneer, and the auctioneer's targeted
// TASK-CONTRACT delivery, go over a direct net/rpc connection using the
// msgpack codec rather than the broadcast Group.
type Unicast struct {
	listener net.Listener
	server   *rpc.Server
	logger   hclog.Logger
}

// transportService is the single RPC-visible method every unicast peer
// exposes: deliver an already-encoded envelope and return nothing.
type transportService struct {
	table *DispatchTable
}

// Deliver is invoked by a remote peer's CallWithCodec("Transport.Deliver", ...).
func (s *transportService) Deliver(env *structs.Envelope, ack *bool) error {
	*ack = true
	return s.table.Dispatch(*env)
}

// ListenUnicast starts accepting msgpack-RPC connections on addr,
// dispatching every delivered envelope through table.
func ListenUnicast(addr string, table *DispatchTable, logger hclog.Logger) (*Unicast, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen unicast: %w", err)
	}

	server := rpc.NewServer()
	if err := server.RegisterName("Transport", &transportService{table: table}); err != nil {
		ln.Close()
		return nil, fmt.Errorf("transport: register rpc service: %w", err)
	}

	u := &Unicast{listener: ln, server: server, logger: logger.Named("transport.unicast")}
	go u.accept()
	return u, nil
}

func (u *Unicast) accept() {
	for {
		conn, err := u.listener.Accept()
		if err != nil {
			return
		}
		go u.server.ServeCodec(msgpackrpc.NewCodec(true, true, conn))
	}
}

// Addr reports the listener's bound address.
func (u *Unicast) Addr() net.Addr {
	return u.listener.Addr()
}

// Close stops accepting new unicast connections.
func (u *Unicast) Close() error {
	return u.listener.Close()
}

// Send dials addr and delivers env over a single msgpack-RPC call,
// matching the protocol's one-shot unicast deliveries (a BID reply, a
// targeted TASK-CONTRACT).
func Send(addr string, env structs.Envelope) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	defer conn.Close()

	codec := msgpackrpc.NewCodec(true, true, conn)
	var ack bool
	if err := msgpackrpc.CallWithCodec(codec, "Transport.Deliver", &env, &ack); err != nil {
		return fmt.Errorf("transport: deliver to %s: %w", addr, err)
	}
	return nil
}
