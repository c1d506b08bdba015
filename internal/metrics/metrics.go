// Package metrics provides Prometheus metrics for the workflow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Total number of runs by final status",
		},
		[]string{"status"},
	)

	// RunsActive tracks currently executing runs.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "runs_active",
			Help:      "Number of currently running workflow runs",
		},
	)

	// RunDuration tracks run execution duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "run_duration_seconds",
			Help:      "Run execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	// StepsTotal counts executed steps by final status.
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "steps_total",
			Help:      "Total number of steps executed by status",
		},
		[]string{"status"},
	)

	// StepDuration tracks per-step execution duration including retries.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "step_duration_seconds",
			Help:      "Step execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// StepRetries tracks retries used per step.
	StepRetries = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "step_retries",
			Help:      "Number of retries used per step",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"final_status"},
	)

	// TierSize tracks the fan-out width of executed tiers.
	TierSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "tier_size",
			Help:      "Number of steps executed concurrently per tier",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// ConditionEvals counts edge guard evaluations by outcome.
	ConditionEvals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "condition_evaluations_total",
			Help:      "Total edge condition evaluations by outcome",
		},
		[]string{"outcome"}, // "taken", "not_taken", "error"
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SSEActiveConnections tracks open event-stream connections.
	SSEActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "sse_active_connections",
			Help:      "Number of open SSE connections",
		},
	)

	// SSEConnectionDuration tracks how long SSE clients stay connected.
	SSEConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "sse_connection_duration_seconds",
			Help:      "Duration of SSE connections in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	// StoreOperations counts run store operations by result.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botsmith",
			Subsystem: "workflow",
			Name:      "runstore_operations_total",
			Help:      "Total number of run store operations",
		},
		[]string{"operation", "result"},
	)
)
