// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Command allocator is the central coordination unit of the fleet: it
// runs the auction, dispatches won tasks, and aggregates fleet status.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"

	"github.com/ropod-project/mrta/internal/command"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ui := &cli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr}
	meta := command.Meta{Ui: ui}

	c := cli.NewCLI("allocator", "0.1.0")
	c.Args = args
	c.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &command.AllocatorRunCommand{Meta: meta}, nil
		},
		"trigger": func() (cli.Command, error) {
			return &command.AllocatorTriggerCommand{Meta: meta}, nil
		},
		"status": func() (cli.Command, error) {
			return &command.AllocatorStatusCommand{Meta: meta}, nil
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return exitCode
}
