// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "erp_sentinel"

var (
	CycleRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_runs_total",
			Help:      "Scheduled engine cycles by task and outcome.",
		},
		[]string{"task", "outcome"},
	)

	CycleDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Engine cycle duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2.5, 10),
		},
		[]string{"task"},
	)

	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts created by the evaluator.",
		},
		[]string{"type", "severity"},
	)

	// AlertsSuppressedTotal counts anomalies dropped inside the suppression window.
	AlertsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Anomalies not raised because an active alert already covers them.",
		},
	)

	BaselinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "baselines_total",
			Help:      "Baseline computations by result (computed, insufficient_data, failed).",
		},
		[]string{"result"},
	)

	CorrelationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlations_total",
			Help:      "Correlation changes by action (created, extended).",
		},
		[]string{"action"},
	)

	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation tiers fired.",
		},
		[]string{"tier"},
	)

	NotificationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Failed notification deliveries by channel.",
		},
		[]string{"channel"},
	)

	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)
)
