// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	uuid "github.com/hashicorp/go-uuid"
	"github.com/posener/complete"

	"github.com/ropod-project/mrta/internal/config"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/transport"
)

// AllocatorTriggerCommand broadcasts a START-TEST message, anchoring the
// fleet's zero timepoint and opening the allocation loop.
type AllocatorTriggerCommand struct {
	Meta
}

func (c *AllocatorTriggerCommand) Help() string {
	helpText := `
Usage: allocator trigger [options]

  Joins the TASK-ALLOCATION group, broadcasts a START-TEST message with
  the current time as the fleet zero timepoint, and leaves.

Options:

  -file=<path>
    Path to the YAML configuration file. Defaults to "config.yaml".
`
	return strings.TrimSpace(helpText)
}

func (c *AllocatorTriggerCommand) Synopsis() string {
	return "Trigger the start of task allocation"
}

func (c *AllocatorTriggerCommand) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-file": complete.PredictFiles("*.yaml"),
	}
}

func (c *AllocatorTriggerCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *AllocatorTriggerCommand) Run(args []string) int {
	var configPath string

	flags := c.FlagSet("allocator trigger")
	flags.StringVar(&configPath, "file", "", "")
	if err := flags.Parse(args); err != nil {
		c.Ui.Error(fmt.Sprintf("Error parsing flags: %s", err))
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	suffix, err := uuid.GenerateUUID()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	group, err := transport.JoinGroup(transport.GroupConfig{
		NodeName: "trigger-" + suffix[:8],
		BindAddr: cfg.Transport.BindAddr,
		BindPort: 0,
	}, cfg.Transport.JoinAddrs, hclog.NewNullLogger())
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error joining TASK-ALLOCATION group: %s", err))
		return 1
	}
	defer group.Leave()

	initial := time.Now().UTC()
	env, err := structs.NewEnvelope(structs.MsgStartTest, structs.StartTestPayload{InitialTime: initial})
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if err := group.Broadcast(env); err != nil {
		c.Ui.Error(fmt.Sprintf("Error broadcasting START-TEST: %s", err))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("START-TEST broadcast (initial_time %s)", initial.Format(time.RFC3339)))
	return 0
}
