// Package observability provides Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pmengine"

var (
	// DecisionsProducedTotal counts persisted decisions.
	DecisionsProducedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_produced_total",
			Help:      "Total number of persisted AI decisions by kind, provider and review flag.",
		},
		[]string{"decision", "provider", "requires_review"},
	)

	// DecisionFailuresTotal counts production attempts that persisted nothing.
	DecisionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_failures_total",
			Help:      "Total number of failed decision productions by error kind.",
		},
		[]string{"kind"},
	)

	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of reasoning backend calls by provider, model and outcome.",
		},
		[]string{"provider", "model", "status"},
	)

	BackendRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Reasoning backend call latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
		[]string{"provider", "model"},
	)

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of decision executions by kind and result status.",
		},
		[]string{"decision", "status"},
	)

	WorkOrderTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "work_order_transitions_total",
			Help:      "Total number of work order lifecycle operations by transition and result.",
		},
		[]string{"transition", "result"},
	)

	ScanRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_runs_total",
			Help:      "Total number of finished batch scans by final status.",
		},
		[]string{"status"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of supplier notifications by driver and outcome.",
		},
		[]string{"driver", "status"},
	)

	// SupplierRepliesTotal counts supplier replies by outcome: scheduled,
	// low_confidence, no_date or an error kind.
	SupplierRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supplier_replies_total",
			Help:      "Total number of supplier replies processed by outcome.",
		},
		[]string{"outcome"},
	)
)
