// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/posener/complete"

	"github.com/ropod-project/mrta/internal/config"
	"github.com/ropod-project/mrta/internal/robot"
	"github.com/ropod-project/mrta/internal/store"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/transport"
)

// RobotRunCommand starts one robot process: bidder, schedule monitor and
// executor bound to the TASK-ALLOCATION group. The documented
// `robot <robot_id> [--file config.yaml]` invocation lands here.
type RobotRunCommand struct {
	Meta
}

func (c *RobotRunCommand) Help() string {
	helpText := `
Usage: robot <robot_id> [options]

  Starts a robot process identified by robot_id, joining the
  TASK-ALLOCATION group to bid on announced tasks and execute won ones.

Options:

  -file=<path>
    Path to the YAML configuration file. Defaults to "config.yaml".

  -position=<location>
    Named starting location, used as the previous position when bidding
    for the head of the queue.

  -log-level=<level>
    Log verbosity: TRACE, DEBUG, INFO, WARN or ERROR. Defaults to INFO.
`
	return strings.TrimSpace(helpText)
}

func (c *RobotRunCommand) Synopsis() string {
	return "Run a robot process"
}

func (c *RobotRunCommand) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-file":      complete.PredictFiles("*.yaml"),
		"-position":  complete.PredictAnything,
		"-log-level": complete.PredictSet("TRACE", "DEBUG", "INFO", "WARN", "ERROR"),
	}
}

func (c *RobotRunCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictAnything
}

func (c *RobotRunCommand) Run(args []string) int {
	var configPath, position, logLevel string

	flags := c.FlagSet("robot")
	flags.StringVar(&configPath, "file", "", "")
	flags.StringVar(&position, "position", "", "")
	flags.StringVar(&logLevel, "log-level", "INFO", "")
	if err := flags.Parse(args); err != nil {
		c.Ui.Error(fmt.Sprintf("Error parsing flags: %s", err))
		return 1
	}

	if flags.NArg() != 1 {
		c.Ui.Error("Expected a single argument: <robot_id>")
		c.Ui.Error(c.Help())
		return 1
	}
	robotID := flags.Arg(0)

	cfg, err := config.Load(configPath)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "mrta",
		Level: hclog.LevelFromString(logLevel),
	})

	st, err := store.New()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error creating store: %s", err))
		return 1
	}

	table := transport.NewDispatchTable(logger)
	unicast, err := transport.ListenUnicast(cfg.Transport.UnicastAddr, table, logger)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting unicast listener: %s", err))
		return 1
	}

	nodeName := cfg.Transport.NodeName
	if nodeName == "" {
		nodeName = robotID
	}
	group, err := transport.JoinGroup(transport.GroupConfig{
		NodeName: nodeName,
		BindAddr: cfg.Transport.BindAddr,
		BindPort: cfg.Transport.BindPort,
		Tags: map[string]string{
			"robot_id":     robotID,
			"unicast_addr": unicast.Addr().String(),
		},
	}, cfg.Transport.JoinAddrs, logger)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error joining TASK-ALLOCATION group: %s", err))
		unicast.Close()
		return 1
	}
	node := &transport.Node{Group: group, Unicast: unicast}
	defer node.Close()

	rbt, err := robot.New(cfg, robotID, position, st, node, logger)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	rbt.RegisterHandlers(table)

	pose, err := structs.NewEnvelope(structs.MsgRobotPose, rbt.PosePayload(structs.Pose{}))
	if err == nil {
		if err := node.Broadcast(pose); err != nil {
			logger.Warn("broadcast initial pose", "error", err)
		}
	}

	stop := make(chan struct{})
	go group.Run(table, stop)
	go rbt.Run(250*time.Millisecond, stop)

	c.Ui.Output(fmt.Sprintf("Robot %s running (group %s)", robotID, structs.GroupTaskAllocation))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals
	close(stop)
	c.Ui.Output(fmt.Sprintf("Robot %s shutting down", robotID))
	return 0
}
