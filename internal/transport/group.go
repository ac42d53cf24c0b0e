// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package transport

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/memberlist"
	"github.com/hashicorp/serf/serf"

	"github.com/ropod-project/mrta/internal/structs"
)

// Group is the reliable group-addressable pub/sub: every
// broadcast message type (TASK-ANNOUNCEMENT, BID, NO-BID, TASK-CONTRACT,
// TASK-CONTRACT-ACKNOWLEDGEMENT, TASK-STATUS, D-GRAPH-UPDATE,
// DISPATCH-QUEUE-UPDATE, ASSIGNMENT-UPDATE, ROBOT-POSE, START-TEST) is
// fanned out to the "TASK-ALLOCATION" cluster as a Serf UserEvent tagged
// with the message type.
type Group struct {
	serf   *serf.Serf
	events chan serf.Event
	logger hclog.Logger
}

// GroupConfig configures the Serf agent backing a Group.
type GroupConfig struct {
	NodeName  string
	BindAddr  string
	BindPort  int
	LogOutput io.Writer

	// Tags are merged on top of the "group" tag every member carries,
	// e.g. a robot process tags itself with its own robot_id and
	// unicast_addr so the allocator can resolve where to send a
	// targeted TASK-CONTRACT (see ResolveUnicastAddr).
	Tags map[string]string
}

// JoinGroup starts a Serf agent bound to cfg and, if existing is
// non-empty, joins the running "TASK-ALLOCATION" cluster through it.
func JoinGroup(cfg GroupConfig, existing []string, logger hclog.Logger) (*Group, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	memberlistConf := memberlist.DefaultLocalConfig()
	memberlistConf.Name = cfg.NodeName
	memberlistConf.BindAddr = cfg.BindAddr
	memberlistConf.BindPort = cfg.BindPort
	memberlistConf.AdvertisePort = cfg.BindPort

	events := make(chan serf.Event, 256)
	conf := serf.DefaultConfig()
	conf.NodeName = cfg.NodeName
	conf.MemberlistConfig = memberlistConf
	conf.EventCh = events
	tags := map[string]string{"group": structs.GroupTaskAllocation}
	for k, v := range cfg.Tags {
		tags[k] = v
	}
	conf.Tags = tags
	if cfg.LogOutput != nil {
		conf.LogOutput = cfg.LogOutput
		memberlistConf.LogOutput = cfg.LogOutput
	}

	s, err := serf.Create(conf)
	if err != nil {
		return nil, fmt.Errorf("transport: create serf agent: %w", err)
	}

	if len(existing) > 0 {
		if _, err := s.Join(existing, true); err != nil {
			logger.Warn("join existing TASK-ALLOCATION cluster failed, starting isolated", "error", err)
		}
	}

	return &Group{serf: s, events: events, logger: logger.Named("transport.group")}, nil
}

// Broadcast encodes env and fans it out as a Serf UserEvent tagged with
// its message type. Coalescing is disabled: every round-relevant message
// must be delivered, not coalesced away.
func (g *Group) Broadcast(env structs.Envelope) error {
	payload, err := Encode(env)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", env.Header.Type, err)
	}
	return g.serf.UserEvent(string(env.Header.Type), payload, false)
}

// Events returns the raw Serf event channel; Run drains it and feeds
// every UserEvent through Decode + table.
func (g *Group) Events() <-chan serf.Event {
	return g.events
}

// Run drains g's event channel until it closes or stop is closed,
// dispatching every UserEvent through table.
func (g *Group) Run(table *DispatchTable, stop <-chan struct{}) {
	for {
		select {
		case ev, ok := <-g.events:
			if !ok {
				return
			}
			userEvent, ok := ev.(serf.UserEvent)
			if !ok {
				continue
			}
			env, err := Decode(userEvent.Payload)
			if err != nil {
				g.logger.Error("decode envelope", "event", userEvent.Name, "error", err)
				continue
			}
			if err := table.Dispatch(env); err != nil {
				g.logger.Error("dispatch envelope", "type", env.Header.Type, "error", err)
			}
		case <-stop:
			return
		}
	}
}

// Members reports the current view of the TASK-ALLOCATION cluster's
// membership, alive members only.
func (g *Group) Members() []serf.Member {
	members := g.serf.Members()
	alive := make([]serf.Member, 0, len(members))
	for _, m := range members {
		if m.Status == serf.StatusAlive {
			alive = append(alive, m)
		}
	}
	return alive
}

// ResolveUnicastAddr looks up the unicast_addr tag of the alive member
// whose robot_id tag matches robotID, for targeted TASK-CONTRACT/
// D-GRAPH-UPDATE delivery over Unicast rather than a group broadcast.
func (g *Group) ResolveUnicastAddr(robotID string) (string, bool) {
	for _, m := range g.Members() {
		if m.Tags["robot_id"] == robotID {
			addr, ok := m.Tags["unicast_addr"]
			return addr, ok
		}
	}
	return "", false
}

// Leave gracefully departs the cluster and shuts down the local agent.
func (g *Group) Leave() error {
	if err := g.serf.Leave(); err != nil {
		return err
	}
	return g.serf.Shutdown()
}
