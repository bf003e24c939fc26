// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus gauges and counters over the
// controller's resource accounting map and scheduler pass.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the controller's metric collectors, each registered on its
// own prometheus.Registry rather than the global default so that multiple
// Controller instances (as in tests) never collide.
type Registry struct {
	reg *prometheus.Registry

	NodesTotal       prometheus.Gauge
	NodesAllocated   prometheus.Gauge
	JobsRunning      prometheus.Gauge
	JobsPending      prometheus.Gauge
	StepsRunning     prometheus.Gauge
	MemAllocatedMB   prometheus.Gauge
	SchedulePasses   prometheus.Counter
	ScheduleFailures prometheus.Counter
	SchedulePassTime prometheus.Histogram
	DBReconnects     prometheus.Counter
	ReservationCount prometheus.Gauge
}

// NewRegistry creates and registers every controller metric on a fresh
// registry.
func NewRegistry(clusterName string) *Registry {
	reg := prometheus.NewRegistry()

	constLabels := prometheus.Labels{"cluster": clusterName}

	r := &Registry{
		reg: reg,
		NodesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "slurmctl",
			Name:        "nodes_total",
			Help:        "Total number of nodes known to the controller.",
			ConstLabels: constLabels,
		}),
		NodesAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "slurmctl",
			Name:        "nodes_allocated",
			Help:        "Number of nodes currently carrying at least one running job.",
			ConstLabels: constLabels,
		}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "slurmctl",
			Name:        "jobs_running",
			Help:        "Number of jobs in the RUNNING state.",
			ConstLabels: constLabels,
		}),
		JobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "slurmctl",
			Name:        "jobs_pending",
			Help:        "Number of jobs in the PENDING state.",
			ConstLabels: constLabels,
		}),
		StepsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "slurmctl",
			Name:        "steps_running",
			Help:        "Number of job steps in the RUNNING state.",
			ConstLabels: constLabels,
		}),
		MemAllocatedMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "slurmctl",
			Name:        "mem_allocated_mb",
			Help:        "Total memory allocated across all nodes, in megabytes.",
			ConstLabels: constLabels,
		}),
		SchedulePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "slurmctl",
			Name:        "schedule_passes_total",
			Help:        "Total number of scheduler tick passes run.",
			ConstLabels: constLabels,
		}),
		ScheduleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "slurmctl",
			Name:        "schedule_no_resources_total",
			Help:        "Total number of placement attempts that found no resources.",
			ConstLabels: constLabels,
		}),
		SchedulePassTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "slurmctl",
			Name:        "schedule_pass_seconds",
			Help:        "Duration of each scheduler tick pass.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		DBReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "slurmctl",
			Name:        "db_reconnects_total",
			Help:        "Total number of single-attempt database reconnects.",
			ConstLabels: constLabels,
		}),
		ReservationCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "slurmctl",
			Name:        "reservations_active",
			Help:        "Number of active reservations.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		r.NodesTotal,
		r.NodesAllocated,
		r.JobsRunning,
		r.JobsPending,
		r.StepsRunning,
		r.MemAllocatedMB,
		r.SchedulePasses,
		r.ScheduleFailures,
		r.SchedulePassTime,
		r.DBReconnects,
		r.ReservationCount,
	)

	return r
}

// Handler returns an http.Handler that serves this registry in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
