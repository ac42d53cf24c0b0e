// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/posener/complete"

	"github.com/ropod-project/mrta/internal/ccu"
	"github.com/ropod-project/mrta/internal/config"
	"github.com/ropod-project/mrta/internal/store"
	"github.com/ropod-project/mrta/internal/structs"
	"github.com/ropod-project/mrta/internal/transport"
)

// AllocatorRunCommand starts the allocator/CCU process: the auctioneer,
// dispatcher and fleet monitors bound to the TASK-ALLOCATION group.
type AllocatorRunCommand struct {
	Meta
}

func (c *AllocatorRunCommand) Help() string {
	helpText := `
Usage: allocator run [options]

  Starts the allocator process. Tasks loaded with -tasks are announced in
  auction rounds once a START-TEST message arrives (see 'allocator
  trigger') or immediately with -start.

Options:

  -file=<path>
    Path to the YAML configuration file. Defaults to "config.yaml".

  -tasks=<path>
    Path to a YAML task dataset to load as UNALLOCATED tasks.

  -start
    Anchor the zero timepoint at startup instead of waiting for a
    START-TEST trigger.

  -log-level=<level>
    Log verbosity: TRACE, DEBUG, INFO, WARN or ERROR. Defaults to INFO.
`
	return strings.TrimSpace(helpText)
}

func (c *AllocatorRunCommand) Synopsis() string {
	return "Run the allocator process"
}

func (c *AllocatorRunCommand) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-file":      complete.PredictFiles("*.yaml"),
		"-tasks":     complete.PredictFiles("*.yaml"),
		"-start":     complete.PredictNothing,
		"-log-level": complete.PredictSet("TRACE", "DEBUG", "INFO", "WARN", "ERROR"),
	}
}

func (c *AllocatorRunCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *AllocatorRunCommand) Run(args []string) int {
	var configPath, tasksPath, logLevel string
	var startNow bool

	flags := c.FlagSet("allocator run")
	flags.StringVar(&configPath, "file", "", "")
	flags.StringVar(&tasksPath, "tasks", "", "")
	flags.BoolVar(&startNow, "start", false, "")
	flags.StringVar(&logLevel, "log-level", "INFO", "")
	if err := flags.Parse(args); err != nil {
		c.Ui.Error(fmt.Sprintf("Error parsing flags: %s", err))
		return 1
	}

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
		nodeName = "allocator"
	}
	group, err := transport.JoinGroup(transport.GroupConfig{
		NodeName: nodeName,
		BindAddr: cfg.Transport.BindAddr,
		BindPort: cfg.Transport.BindPort,
		Tags: map[string]string{
			"role":         "allocator",
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

	coordinator, err := ccu.New(cfg, st, node, logger)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	coordinator.RegisterHandlers(table)

	if tasksPath != "" {
		tasks, err := ccu.ReadTasksFile(tasksPath)
		if err != nil {
			c.Ui.Error(err.Error())
			return 1
		}
		if err := coordinator.LoadTasks(tasks); err != nil {
			c.Ui.Error(fmt.Sprintf("Error loading tasks: %s", err))
			return 1
		}
	}
	if startNow {
		coordinator.Start(time.Now().UTC())
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", coordinator.Metrics.Handler())
	mux.Handle("/v1/status", coordinator.StatusHandler())
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err)
		}
	}()
	defer httpServer.Close()

	stop := make(chan struct{})
	go group.Run(table, stop)
	go coordinator.Run(250*time.Millisecond, stop)

	c.Ui.Output(fmt.Sprintf("Allocator running (group %s, http %s)", structs.GroupTaskAllocation, cfg.HTTPAddr))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals
	close(stop)
	c.Ui.Output("Allocator shutting down")
	return 0
}
