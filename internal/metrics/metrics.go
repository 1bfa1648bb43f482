// Package metrics provides Prometheus instrumentation for the paymo service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paymo"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EventsClassifiedTotal counts tier verdicts emitted for streamed payments.
	EventsClassifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_classified_total",
			Help:      "Total tier verdicts emitted by tier and verdict.",
		},
		[]string{"tier", "verdict"},
	)

	// DuplicatesTotal counts streamed payments flagged as duplicates.
	DuplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_total",
		Help:      "Total streamed payments that repeat a recorded payment.",
	})

	// SelfPaymentsTotal counts streamed payments where payer and payee match.
	SelfPaymentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "self_payments_total",
		Help:      "Total streamed payments from a party to itself.",
	})

	// InvalidEventsTotal counts events rejected before touching the graph.
	InvalidEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_events_total",
			Help:      "Total payment events rejected as malformed, by phase.",
		},
		[]string{"phase"},
	)

	// BatchEventsLoadedTotal counts historical events inserted without classification.
	BatchEventsLoadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_events_loaded_total",
		Help:      "Total historical payment events loaded into the graph.",
	})

	// IngestSkippedTotal counts source rows dropped by the CSV reader.
	IngestSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_skipped_total",
			Help:      "Total source rows skipped during ingestion, by reason.",
		},
		[]string{"reason"},
	)

	// GraphNodes tracks the number of parties in the trust graph.
	GraphNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "graph_nodes",
		Help: "Number of parties in the trust graph.",
	})
	// GraphEdges tracks the number of party pairs with recorded payments.
	GraphEdges = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "graph_edges",
		Help: "Number of edges in the trust graph.",
	})

	// ProximityQueryDuration observes bounded shortest-path search latency.
	ProximityQueryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "proximity_query_seconds",
		Help:      "Bounded shortest-path query duration in seconds.",
		Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
	})

	// AuditRecordFailuresTotal counts results the audit store failed to persist.
	AuditRecordFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_record_failures_total",
		Help:      "Total classification results the audit store failed to record.",
	})

	// AuditRecordsSkippedTotal counts results not sent to the store because
	// its circuit was open.
	AuditRecordsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_records_skipped_total",
		Help:      "Total classification results dropped while the audit store circuit was open.",
	})

	// CircuitTransitionsTotal counts circuit breaker state changes.
	CircuitTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "state_transitions_total",
			Help:      "Circuit breaker state transitions by circuit, from-state, and to-state.",
		},
		[]string{"circuit", "from_state", "to_state"},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by event type
	// and outcome (delivered, failed, dropped).
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Total webhook deliveries by event type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EventsClassifiedTotal,
		DuplicatesTotal,
		SelfPaymentsTotal,
		InvalidEventsTotal,
		BatchEventsLoadedTotal,
		IngestSkippedTotal,
		GraphNodes,
		GraphEdges,
		ProximityQueryDuration,
		AuditRecordFailuresTotal,
		AuditRecordsSkippedTotal,
		CircuitTransitionsTotal,
		WebhookDeliveriesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically exports connection pool stats until ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request count and latency.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not the raw path
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
