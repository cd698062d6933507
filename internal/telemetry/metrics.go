// Package telemetry provides application-level observability for the audit
// engine.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<CLG_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090. The endpoint returns the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds. It is not served
// by the Gin router.
//
// Metric groups:
//
//   - Record write-path counters (persisted, cancelled, skipped)
//   - Exception-recording failure counter (the swallowed-error path)
//   - Shipping error counters per destination
//   - HTTP request counters for the ingest API, labelled by route template
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Write-path metrics.
//
// RecordsPersistedTotal counts audit records successfully handed to the
// persistence layer, labelled by event ("Insert", "Update", "Delete",
// "Scheduled Task", "Exception", or a free-form title bucketed as "Custom").
//
// HookCancellationsTotal counts recordings vetoed by a hook subscriber,
// labelled by channel ("save", "delete").
//
// EmptyDiffSkipsTotal counts update recordings abandoned because the computed
// field diff was empty (no-op updates are not audited).
var (
	RecordsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_persisted_total",
			Help: "Total number of audit records persisted, by event kind.",
		},
		[]string{"event"},
	)

	HookCancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_hook_cancellations_total",
			Help: "Total number of recordings vetoed by a hook subscriber, by channel.",
		},
		[]string{"channel"},
	)

	EmptyDiffSkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_empty_diff_skips_total",
			Help: "Total number of update recordings skipped because nothing changed.",
		},
	)

	ExceptionRecordFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_exception_record_failures_total",
			Help: "Total number of exception records that could not be persisted (swallowed).",
		},
	)

	ShippingErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_shipping_errors_total",
			Help: "Total number of failed shipments to secondary destinations, by destination.",
		},
		[]string{"destination"},
	)
)

// HTTP metrics for the ingest API, labelled by method, route template, and
// status code. The path label holds the Gin route template, not the raw URL,
// to keep label cardinality bounded.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// DBOpenConnections is sampled on a timer by StartDBStatsCollector rather than
// per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits cleanly when the database
// becomes unreachable (db.Ping fails), which happens automatically when the
// application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
