// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/cli"
	"github.com/stretchr/testify/require"

	"github.com/ropod-project/mrta/internal/ccu"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestCommandsHaveHelpAndSynopsis(t *testing.T) {
	meta := Meta{Ui: cli.NewMockUi()}
	for name, cmd := range map[string]cli.Command{
		"allocator run":     &AllocatorRunCommand{Meta: meta},
		"allocator trigger": &AllocatorTriggerCommand{Meta: meta},
		"allocator status":  &AllocatorStatusCommand{Meta: meta},
		"robot run":         &RobotRunCommand{Meta: meta},
	} {
		require.NotEmpty(t, cmd.Help(), name)
		require.NotEmpty(t, cmd.Synopsis(), name)
	}
}

func TestAllocatorRunFailsOnMissingConfig(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &AllocatorRunCommand{Meta: Meta{Ui: ui}}

	code := cmd.Run([]string{"-file", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "not found")
}

func TestAllocatorRunFailsOnInvalidConfig(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &AllocatorRunCommand{Meta: Meta{Ui: ui}}
	path := writeConfig(t, "allocation_method: bogus\nrecovery_method: re-allocate\n")

	code := cmd.Run([]string{"-file", path})
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "allocation_method")
}

func TestAllocatorRunRejectsUnknownFlag(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &AllocatorRunCommand{Meta: Meta{Ui: ui}}

	code := cmd.Run([]string{"-bogus"})
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "Error parsing flags")
}

func TestAllocatorTriggerFailsOnMissingConfig(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &AllocatorTriggerCommand{Meta: Meta{Ui: ui}}

	code := cmd.Run([]string{"-file", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "not found")
}

func TestAllocatorStatusFailsWhenUnreachable(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &AllocatorStatusCommand{Meta: Meta{Ui: ui}}

	code := cmd.Run([]string{"-address", "http://127.0.0.1:1"})
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "Error querying allocator")
}

func TestAllocatorStatusPrintsSnapshot(t *testing.T) {
	snap := ccu.StatusSnapshot{
		Started:     true,
		Robots:      []string{"robot_001"},
		Allocations: map[string]string{"T1": "robot_001"},
		Archived:    1,
		Live:        0,
		Terminated:  true,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(snap))
	}))
	defer server.Close()

	ui := cli.NewMockUi()
	cmd := &AllocatorStatusCommand{Meta: Meta{Ui: ui}}

	code := cmd.Run([]string{"-address", server.URL})
	require.Zero(t, code)

	out := ui.OutputWriter.String()
	require.Contains(t, out, "robot_001")
	require.Contains(t, out, "T1 -> robot_001")
	require.Contains(t, out, "Terminated  = true")
}

func TestRobotRunRequiresRobotID(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &RobotRunCommand{Meta: Meta{Ui: ui}}

	code := cmd.Run(nil)
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "robot_id")
}

func TestRobotRunFailsOnMissingConfig(t *testing.T) {
	ui := cli.NewMockUi()
	cmd := &RobotRunCommand{Meta: Meta{Ui: ui}}

	code := cmd.Run([]string{"-file", filepath.Join(t.TempDir(), "missing.yaml"), "robot_001"})
	require.Equal(t, 1, code)
	require.Contains(t, ui.ErrorWriter.String(), "not found")
}
