// Package metrics holds the Prometheus collectors shared by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certproof_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certproof_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certproof_ledger_operations_total",
			Help: "Ledger calls by operation and outcome",
		},
		[]string{"backend", "operation", "outcome"},
	)

	LedgerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certproof_ledger_operation_duration_seconds",
			Help:    "Ledger call latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		},
		[]string{"backend", "operation"},
	)

	ReconcileResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certproof_reconcile_results_total",
			Help: "Ledger reconciliation outcomes",
		},
		[]string{"state"},
	)

	AnchorJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certproof_anchor_jobs_total",
			Help: "Anchoring worker job transitions",
		},
		[]string{"result"},
	)

	VerificationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certproof_verification_requests_total",
			Help: "Verification request operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certproof_notifications_total",
			Help: "Notification dispatch outcomes",
		},
		[]string{"driver", "outcome"},
	)
)
