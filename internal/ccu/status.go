// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package ccu

import (
	"encoding/json"
	"net/http"
)

// StatusSnapshot is the JSON body of GET /v1/status, consumed by the
// `allocator status` command. Terminated reports that every
// loaded task has reached a terminal status and been archived.
type StatusSnapshot struct {
	Started     bool              `json:"started"`
	Robots      []string          `json:"robots"`
	Allocations map[string]string `json:"allocations"`
	Archived    int               `json:"archived_tasks"`
	Live        int               `json:"live_tasks"`
	Terminated  bool              `json:"terminated"`
}

// Status assembles the current snapshot.
func (c *CCU) Status() (StatusSnapshot, error) {
	archived, live, err := c.Store.TerminationProgress()
	if err != nil {
		return StatusSnapshot{}, err
	}
	allocations := make(map[string]string, len(c.Auctioneer.Allocations))
	for taskID, robotID := range c.Auctioneer.Allocations {
		allocations[taskID] = robotID
	}
	return StatusSnapshot{
		Started:     c.started,
		Robots:      c.Shadows.RobotIDs(),
		Allocations: allocations,
		Archived:    archived,
		Live:        live,
		Terminated:  live == 0 && archived > 0,
	}, nil
}

// StatusHandler serves Status as JSON, mounted at /v1/status next to the
// metrics handler.
func (c *CCU) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := c.Status()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
}
