// Package metrics provides Prometheus metrics for the anomaly pipeline
// (RED for the API plus per-stage pipeline counters). Scrapeable at /metrics;
// dashboards and runbooks rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "seowatch"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// DetectorRunsTotal counts detector invocations by kind and result.
	DetectorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_runs_total",
			Help:      "Total detector runs by kind and result (ok, skipped).",
		},
		[]string{"detector", "result"},
	)

	// CandidatesEmittedTotal counts anomaly candidates by detector kind.
	CandidatesEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_emitted_total",
			Help:      "Total anomaly candidates emitted by detector kind.",
		},
		[]string{"detector"},
	)

	// AnomaliesUpsertedTotal counts fusion upserts by outcome (created, raised, unchanged).
	AnomaliesUpsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_upserted_total",
			Help:      "Total canonical anomaly upserts by outcome.",
		},
		[]string{"outcome"},
	)

	// AlertsTotal counts rule engine decisions by admit outcome.
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total alerts by suppression outcome (new, suppressed, aggregated).",
		},
		[]string{"outcome"},
	)

	// DeliveryAttemptsTotal counts send attempts by channel and outcome.
	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Total delivery attempts by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	// DeliveryDurationSeconds measures channel send latency.
	DeliveryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Channel send duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"channel"},
	)

	// JobsDeadTotal counts jobs that exhausted retries or hit permanent failures.
	JobsDeadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dead_total",
			Help:      "Total notification jobs transitioned to dead, by reason.",
		},
		[]string{"reason"},
	)

	// QueueDepth is the number of queued notification jobs.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_queue_depth",
			Help:      "Number of notification jobs currently queued.",
		},
	)

	// WebSocketConnectionsActive is current number of live feed clients.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active WebSocket connections.",
		},
	)

	// PipelineRunDurationSeconds measures a full detection run.
	PipelineRunDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "End-to-end detection pipeline run duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
	)
)
