// Package metrics provides Prometheus metrics for the goalflow orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts total runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Total number of runs by final status",
		},
		[]string{"status"}, // "succeeded", "failed", "cancelled"
	)

	// RunsActive tracks currently active runs.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "runs_active",
			Help:      "Number of currently running runs",
		},
	)

	// RunDuration tracks run execution duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Run execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	// AgentsTotal counts agent dispatches by terminal record status.
	AgentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "agents_total",
			Help:      "Total number of agent dispatches by terminal status",
		},
		[]string{"status"}, // "completed", "failed", "skipped"
	)

	// AgentDuration tracks individual agent execution duration.
	AgentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "agent_duration_seconds",
			Help:      "Agent execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// AgentTimeouts counts agents that hit the per-agent deadline.
	AgentTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "agent_timeouts_total",
			Help:      "Total number of agent executions that exceeded their deadline",
		},
		[]string{"agent_id"},
	)

	// PlansTotal counts planning attempts by outcome.
	PlansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "plans_total",
			Help:      "Total number of planning searches by outcome",
		},
		[]string{"outcome"}, // "found", "exhausted", "iteration_limit"
	)

	// PlanDuration tracks planning search duration.
	PlanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "plan_duration_seconds",
			Help:      "Planning search duration in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"outcome"},
	)

	// PlanNodesExpanded tracks search effort per planning call.
	PlanNodesExpanded = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "plan_nodes_expanded",
			Help:      "Number of search nodes expanded per planning call",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000},
		},
	)

	// ReplansTotal counts mid-run replans by trigger.
	ReplansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "replans_total",
			Help:      "Total number of mid-run replans",
		},
		[]string{"trigger"}, // "executor", "watch"
	)

	// EventsTotal counts events emitted by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "events_total",
			Help:      "Total number of events emitted",
		},
		[]string{"type"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SSEActiveConnections tracks open event-stream connections.
	SSEActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "sse_active_connections",
			Help:      "Number of currently open SSE connections",
		},
	)

	// SSEConnectionDuration tracks how long event-stream connections stay open.
	SSEConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "sse_connection_duration_seconds",
			Help:      "Duration of SSE connections in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	// RunStoreOperations counts runstore operations by op and result.
	RunStoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goalflow",
			Subsystem: "orchestrator",
			Name:      "runstore_operations_total",
			Help:      "Total number of runstore operations",
		},
		[]string{"operation", "result"},
	)
)
