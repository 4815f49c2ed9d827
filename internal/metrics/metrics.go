// Package metrics provides Prometheus metrics for the anomaly analytics service (HTTP RED,
// analysis operations, store reads). Everything is registered on the default registry and
// served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "anomaly_analytics"

var (
	// HTTPRequestTotal counts requests by method, path template, status (RED: rate).
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

	// AnalysisDurationSeconds times each public analysis operation.
	AnalysisDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Analysis operation duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.5, 10),
		},
		[]string{"operation"},
	)

	// LogicCacheTotal counts detection logic cache lookups by result (hit, miss).
	LogicCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logic_cache_lookups_total",
			Help:      "Detection logic cache lookups by result.",
		},
		[]string{"result"},
	)

	// AnalysisTotal counts analysis operations by outcome (ok, empty, error kind).
	AnalysisTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_total",
			Help:      "Total number of analysis operations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// RecommendationsEmittedTotal counts threshold recommendations by parameter.
	RecommendationsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_emitted_total",
			Help:      "Total number of threshold recommendations emitted by parameter name.",
		},
		[]string{"parameter"},
	)

	// DetectionsAnalyzed is the size distribution of detection windows read from the store.
	DetectionsAnalyzed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detections_analyzed",
			Help:      "Number of detection results analysed per operation.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8), // 1 to 16384
		},
		[]string{"operation"},
	)

	// StoreQueryDurationSeconds times store reads and writes.
	StoreQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_duration_seconds",
			Help:      "Detection store query duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2.5, 10),
		},
		[]string{"operation"},
	)

	// RateLimitRejectedTotal counts requests rejected by the per-client rate limiter.
	RateLimitRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejected_total",
			Help:      "Total number of requests rejected by rate limiting.",
		},
	)
)
