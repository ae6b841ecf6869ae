// Package telemetry provides application-level observability for the operations console.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and served on the
// side-channel HTTP server started by main.go:
//
//	GET http://<host>:<OPS_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Activity records written, and shipper failures
//   - Authorization decisions per gate
//   - Verification codes issued and checked
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics. The path label holds the Gin route template (e.g. /api/v1/users/:id) to keep
// label cardinality bounded.
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

// Activity audit metrics.
//
// ActivityRecordsTotal counts committed activity records by module and action kind.
// ActivityWriteFailuresTotal counts store failures; any increase means a request failed
// after its primary change was committed and warrants an alert:
//
//	increase(activity_write_failures_total[5m]) > 0
//
// ActivityShipErrorsTotal counts fan-out failures per shipper type. These never fail the
// request because the database row is the system of record.
var (
	ActivityRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_records_total",
			Help: "Total number of activity records written, by module and action.",
		},
		[]string{"module", "action"},
	)

	ActivityWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_write_failures_total",
			Help: "Total number of activity records that could not be stored.",
		},
	)

	ActivityShipErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_ship_errors_total",
			Help: "Total number of activity records a shipper failed to deliver, by shipper type.",
		},
		[]string{"shipper"},
	)
)

// AuthorizationDecisionsTotal counts gate outcomes. gate is "role" or "admin";
// result is "allowed" or "denied".
var AuthorizationDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authorization_decisions_total",
		Help: "Total number of authorization decisions, by gate and result.",
	},
	[]string{"gate", "result"},
)

// VerificationCodesTotal counts verification code events. result is one of "sent",
// "verified", "rejected".
var VerificationCodesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "verification_codes_total",
		Help: "Total number of verification code events, by result.",
	},
	[]string{"result"},
)

// DBOpenConnections tracks open connections in the sql.DB pool, sampled every 30 seconds
// by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples connection pool statistics every 30 seconds until ctx is
// cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
}
