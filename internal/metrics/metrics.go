// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package metrics exports the allocator's Prometheus counters and
// gauges: the allocation and recovery performance signals an operator
// watches (rounds, bids, contracts, recoveries, completions), served
// from a /metrics endpoint on the allocator process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every counter/gauge this process exports, registered
// against its own prometheus.Registry rather than the global default so
// tests never leak state across packages.
type Registry struct {
	reg *prometheus.Registry

	RoundsOpened   prometheus.Counter
	RoundsClosed   prometheus.Counter
	NoAllocations  prometheus.Counter
	BidsReceived   prometheus.Counter
	NoBidsReceived prometheus.Counter
	ContractsIssued prometheus.Counter
	RecoveriesFired *prometheus.CounterVec
	TasksCompleted prometheus.Counter
	TasksAborted   prometheus.Counter

	RoundDuration prometheus.Histogram
}

// New builds a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		RoundsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mrta", Subsystem: "auction", Name: "rounds_opened_total",
			Help: "Number of auction rounds opened.",
		}),
		RoundsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mrta", Subsystem: "auction", Name: "rounds_closed_total",
			Help: "Number of auction rounds closed, including retries.",
		}),
		NoAllocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mrta", Subsystem: "auction", Name: "no_allocations_total",
			Help: "Number of rounds that closed with no feasible bid.",
		}),
		BidsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mrta", Subsystem: "auction", Name: "bids_received_total",
			Help: "Number of BID messages received by the auctioneer.",
		}),
		NoBidsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mrta", Subsystem: "auction", Name: "no_bids_received_total",
			Help: "Number of NO-BID messages received by the auctioneer.",
		}),
		ContractsIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mrta", Subsystem: "auction", Name: "contracts_issued_total",
			Help: "Number of TASK-CONTRACT messages issued.",
		}),
		RecoveriesFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mrta", Subsystem: "monitor", Name: "recoveries_fired_total",
			Help: "Number of recoveries fired, labeled by method.",
		}, []string{"method"}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mrta", Subsystem: "execution", Name: "tasks_completed_total",
			Help: "Number of tasks that reached COMPLETED.",
		}),
		TasksAborted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mrta", Subsystem: "execution", Name: "tasks_aborted_total",
			Help: "Number of tasks that reached ABORTED.",
		}),
		RoundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mrta", Subsystem: "auction", Name: "round_duration_seconds",
			Help:    "Wall-clock duration from round open to close.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler returns the /metrics HTTP handler the allocator process
// serves.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
