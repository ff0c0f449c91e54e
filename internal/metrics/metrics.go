// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_mutations_total",
		Help: "Ledger mutations processed, labeled by operation and result",
	}, []string{"operation", "result"})

	MutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_mutation_duration_seconds",
		Help:    "Latency of ledger mutations including lock wait",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation"})

	MutationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_mutation_retries_total",
		Help: "Mutations retried after a version conflict",
	})

	ReconcileMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_reconcile_mismatches_total",
		Help: "Accounts whose cached balance differed from the ledger replay",
	})

	ReconcileCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_reconcile_corrections_total",
		Help: "Cached balances overwritten by reconciliation",
	})

	ReconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_reconcile_failures_total",
		Help: "Accounts whose ledger could not be replayed",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})
)
