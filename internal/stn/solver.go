// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package stn

import (
	"errors"
	"math"
)

// ErrUnknownSolver is returned by NewSolver for an unrecognized name.
var ErrUnknownSolver = errors.New("stn: unknown solver")

// Solver names the three STN solvers the allocation methods map
// onto: tessi -> fpc, tessi-srea -> srea, tessi-dsc -> dsc. Each solver
// shares the same Floyd-Warshall-class consistency core; they differ only
// in how RiskMetric derives a scalar from the resulting dispatchable
// graph's controllability ("risk metric is derived from
// the chosen STN semantics — strict, partial, or dynamic controllability").
type Solver interface {
	Name() string
	// Solve returns the dispatchable graph, or ErrNoSolution if s is
	// inconsistent.
	Solve(s *STN) (*STN, error)
	// RiskMetric scores a solved (dispatchable) network: lower is safer.
	RiskMetric(dispatchable *STN) float64
}

// fpcSolver implements "full path consistency" (strict controllability):
// the network must be consistent under every possible realization of its
// contingent durations, so risk is the narrowest surviving slack across
// all edges — a network with a near-zero window anywhere is as risky as
// having none.
type fpcSolver struct{}

func (fpcSolver) Name() string { return "fpc" }

func (fpcSolver) Solve(s *STN) (*STN, error) { return s.MinimalNetwork() }

func (fpcSolver) RiskMetric(d *STN) float64 {
	minSlack := math.Inf(1)
	for _, e := range d.Edges {
		if slack := e.UB - e.LB; slack < minSlack {
			minSlack = slack
		}
	}
	if math.IsInf(minSlack, 1) {
		return 0
	}
	return -minSlack
}

// sreaSolver implements partial controllability (the "srea" reduction in
// the original solver): risk is the negated mean slack (ub - lb) over all
// edges of the dispatchable graph, rewarding networks that keep more
// freedom overall rather than only on the single tightest edge.
type sreaSolver struct{}

func (sreaSolver) Name() string { return "srea" }

func (sreaSolver) Solve(s *STN) (*STN, error) { return s.MinimalNetwork() }

func (sreaSolver) RiskMetric(d *STN) float64 {
	if len(d.Edges) == 0 {
		return 0
	}
	var total float64
	for _, e := range d.Edges {
		total += e.UB - e.LB
	}
	avg := total / float64(len(d.Edges))
	return -avg
}

// dscSolver implements dynamic controllability: risk is approximated from
// the worst-case propagated uncertainty across the chain of tasks (the
// variance accumulated end-to-end), since a dynamically controllable
// network only needs *some* online strategy to succeed, not a fixed one.
type dscSolver struct{}

func (dscSolver) Name() string { return "dsc" }

func (dscSolver) Solve(s *STN) (*STN, error) { return s.MinimalNetwork() }

func (dscSolver) RiskMetric(d *STN) float64 {
	makespan, err := d.LatestTime(len(d.Nodes) - 1)
	if err != nil || len(d.Nodes) <= 1 {
		return 0
	}
	earliest, _ := d.EarliestTime(len(d.Nodes) - 1)
	spread := makespan - earliest
	return -spread
}

// NewSolver constructs the named solver.
func NewSolver(name string) (Solver, error) {
	switch name {
	case "fpc":
		return fpcSolver{}, nil
	case "srea":
		return sreaSolver{}, nil
	case "dsc":
		return dscSolver{}, nil
	default:
		return nil, ErrUnknownSolver
	}
}
