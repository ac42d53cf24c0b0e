// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/posener/complete"

	"github.com/ropod-project/mrta/internal/ccu"
)

// AllocatorStatusCommand reads a running allocator's /v1/status endpoint
// and reports allocation and termination progress.
type AllocatorStatusCommand struct {
	Meta
}

func (c *AllocatorStatusCommand) Help() string {
	helpText := `
Usage: allocator status [options]

  Queries a running allocator process and prints fleet membership,
  current allocations, and termination progress.

Options:

  -address=<addr>
    HTTP address of the running allocator. Defaults to
    "http://127.0.0.1:8700".
`
	return strings.TrimSpace(helpText)
}

func (c *AllocatorStatusCommand) Synopsis() string {
	return "Show a running allocator's allocation progress"
}

func (c *AllocatorStatusCommand) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-address": complete.PredictAnything,
	}
}

func (c *AllocatorStatusCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *AllocatorStatusCommand) Run(args []string) int {
	var address string

	flags := c.FlagSet("allocator status")
	flags.StringVar(&address, "address", "http://127.0.0.1:8700", "")
	if err := flags.Parse(args); err != nil {
		c.Ui.Error(fmt.Sprintf("Error parsing flags: %s", err))
		return 1
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(address + "/v1/status")
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error querying allocator: %s", err))
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.Ui.Error(fmt.Sprintf("Allocator returned %s", resp.Status))
		return 1
	}

	var snap ccu.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		c.Ui.Error(fmt.Sprintf("Error decoding status: %s", err))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("Started     = %v", snap.Started))
	c.Ui.Output(fmt.Sprintf("Robots      = %s", strings.Join(snap.Robots, ", ")))
	c.Ui.Output(fmt.Sprintf("Tasks       = %d archived, %d live", snap.Archived, snap.Live))
	c.Ui.Output(fmt.Sprintf("Terminated  = %v", snap.Terminated))

	if len(snap.Allocations) > 0 {
		c.Ui.Output("")
		c.Ui.Output("Allocations:")
		taskIDs := make([]string, 0, len(snap.Allocations))
		for taskID := range snap.Allocations {
			taskIDs = append(taskIDs, taskID)
		}
		sort.Strings(taskIDs)
		for _, taskID := range taskIDs {
			c.Ui.Output(fmt.Sprintf("  %s -> %s", taskID, snap.Allocations[taskID]))
		}
	}
	return 0
}
