// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package config decodes and validates the YAML configuration both
// processes read (`--file config.yaml`, defaulting to "config.yaml"):
// round timing, the allocation-method-to-solver mapping, per-robot
// recovery method, and the dispatch window/lead.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/ropod-project/mrta/internal/bidding"
	"github.com/ropod-project/mrta/internal/monitor"
	"github.com/ropod-project/mrta/internal/stn"
)

// allocationMethodToSolver maps `{tessi,tessi-srea,tessi-dsc}` ->
// `{fpc,srea,dsc}`.
var allocationMethodToSolver = map[string]string{
	"tessi":      "fpc",
	"tessi-srea": "srea",
	"tessi-dsc":  "dsc",
}

// recoveryMethods is the set of valid `recovery_method` values.
// re-schedule-1 and re-schedule-2 both select
// monitor.RecoveryReschedule; the distinction is kept as a config-level
// alias only.
var recoveryMethods = map[string]monitor.RecoveryMethod{
	"re-allocate":   monitor.RecoveryReallocate,
	"re-schedule-1": monitor.RecoveryReschedule,
	"re-schedule-2": monitor.RecoveryReschedule,
	"abort":         monitor.RecoveryAbort,
}

// Config is the decoded, validated configuration for one allocator or
// robot process.
type Config struct {
	AllocationMethod string `yaml:"allocation_method" mapstructure:"allocation_method"`
	RecoveryMethod   string `yaml:"recovery_method" mapstructure:"recovery_method"`
	TemporalMetric   string `yaml:"temporal_metric" mapstructure:"temporal_metric"`

	RoundTimeSeconds     float64 `yaml:"round_time_seconds" mapstructure:"round_time_seconds"`
	NTasksQueue          int     `yaml:"n_tasks_queue" mapstructure:"n_tasks_queue"`
	AlternativeTimeslots bool    `yaml:"alternative_timeslots" mapstructure:"alternative_timeslots"`

	// AlternativeTimeslotRetries defaults to 1 and is validated to be
	// non-negative. The auction does not read it: a round re-announced with
	// relaxed constraints carries RetryOf and is never retried again, so a
	// task gets at most one relaxed re-announcement whatever the value.
	AlternativeTimeslotRetries int `yaml:"alternative_timeslot_retries" mapstructure:"alternative_timeslot_retries"`

	DispatchLeadSeconds float64 `yaml:"dispatch_lead_seconds" mapstructure:"dispatch_lead_seconds"`

	// HTTPAddr is where the allocator serves /metrics and /v1/status;
	// `allocator status` reads the latter.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr"`

	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`
}

// TransportConfig configures internal/transport's Serf group and
// msgpack-RPC unicast listener.
type TransportConfig struct {
	NodeName    string   `yaml:"node_name" mapstructure:"node_name"`
	BindAddr    string   `yaml:"bind_addr" mapstructure:"bind_addr"`
	BindPort    int      `yaml:"bind_port" mapstructure:"bind_port"`
	UnicastAddr string   `yaml:"unicast_addr" mapstructure:"unicast_addr"`
	JoinAddrs   []string `yaml:"join_addrs" mapstructure:"join_addrs"`
}

// defaults returns a Config carrying the documented defaults.
func defaults() Config {
	return Config{
		AllocationMethod:           "tessi",
		RecoveryMethod:             "re-allocate",
		TemporalMetric:             "makespan",
		RoundTimeSeconds:           5,
		NTasksQueue:                3,
		AlternativeTimeslots:       false,
		AlternativeTimeslotRetries: 1,
		DispatchLeadSeconds:        2,
		HTTPAddr:                   "127.0.0.1:8700",
		Transport: TransportConfig{
			BindAddr:    "0.0.0.0",
			BindPort:    7946,
			UnicastAddr: "0.0.0.0:7373",
		},
	}
}

// Load reads and decodes the YAML file at path (defaulting to
// "config.yaml" when path is empty), applying defaults to
// any field the file omits, then validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config: %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first configuration error found; the CLI exits
// non-zero on any.
func (c *Config) Validate() error {
	if _, ok := allocationMethodToSolver[c.AllocationMethod]; !ok {
		return fmt.Errorf("config: unknown allocation_method %q", c.AllocationMethod)
	}
	if _, ok := recoveryMethods[c.RecoveryMethod]; !ok {
		return fmt.Errorf("config: unknown recovery_method %q", c.RecoveryMethod)
	}
	if _, err := bidding.NewTemporalMetric(c.TemporalMetric); err != nil {
		return fmt.Errorf("config: unknown temporal_metric %q", c.TemporalMetric)
	}
	if c.RoundTimeSeconds <= 0 {
		return fmt.Errorf("config: round_time_seconds must be positive, got %v", c.RoundTimeSeconds)
	}
	if c.NTasksQueue < 0 {
		return fmt.Errorf("config: n_tasks_queue must be non-negative, got %d", c.NTasksQueue)
	}
	if c.AlternativeTimeslotRetries < 0 {
		return fmt.Errorf("config: alternative_timeslot_retries must be non-negative, got %d", c.AlternativeTimeslotRetries)
	}
	if c.DispatchLeadSeconds < 0 {
		return fmt.Errorf("config: dispatch_lead_seconds must be non-negative, got %v", c.DispatchLeadSeconds)
	}
	return nil
}

// Solver builds the internal/stn.Solver the allocation_method field
// selects.
func (c *Config) Solver() (stn.Solver, error) {
	name := allocationMethodToSolver[c.AllocationMethod]
	return stn.NewSolver(name)
}

// Recovery returns the internal/monitor.RecoveryMethod the
// recovery_method field selects.
func (c *Config) Recovery() monitor.RecoveryMethod {
	return recoveryMethods[c.RecoveryMethod]
}

// Temporal returns the bidding.TemporalMetric the temporal_metric field
// selects.
func (c *Config) Temporal() (bidding.TemporalMetric, error) {
	return bidding.NewTemporalMetric(c.TemporalMetric)
}

// RoundTime returns RoundTimeSeconds as a time.Duration.
func (c *Config) RoundTime() time.Duration {
	return time.Duration(c.RoundTimeSeconds * float64(time.Second))
}

// DispatchLead returns DispatchLeadSeconds as a time.Duration.
func (c *Config) DispatchLead() time.Duration {
	return time.Duration(c.DispatchLeadSeconds * float64(time.Second))
}
