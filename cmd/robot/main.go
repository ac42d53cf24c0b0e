// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Command robot is one robot process of the fleet: it bids on announced
// tasks and executes the ones it wins. Invoked as
// `robot <robot_id> [--file config.yaml]`; the run verb is implicit.
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

	c := cli.NewCLI("robot", "0.1.0")
	c.Args = withImplicitRun(args)
	c.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &command.RobotRunCommand{Meta: meta}, nil
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return exitCode
}

// withImplicitRun preserves the documented `robot <robot_id>` invocation
// by routing anything that is not a help/version request through the
// run verb.
func withImplicitRun(args []string) []string {
	if len(args) == 0 {
		return args
	}
	switch args[0] {
	case "run", "-h", "-help", "--help", "-v", "-version", "--version":
		return args
	}
	return append([]string{"run"}, args...)
}
