// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package command implements the cli.Command verbs the two entry points
// (cmd/allocator, cmd/robot) register: a shared Meta embedding a cli.Ui,
// one exported *Command type per verb implementing cli.Command, and a
// FlagSet helper every command calls before parsing its own flags.
package command

import (
	"flag"
	"io"

	"github.com/hashicorp/cli"
)

// Meta holds the fields common to every command.
type Meta struct {
	Ui cli.Ui
}

// FlagSet returns a flag.FlagSet for command name, with usage output
// discarded; errors are reported through Ui instead.
func (m *Meta) FlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}
