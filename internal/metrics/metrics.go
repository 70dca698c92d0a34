// Package metrics provides Prometheus instrumentation for the Tianguis engine.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tianguis",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tianguis",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EscrowTransitions counts successful state transitions by resulting status.
	EscrowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tianguis",
			Name:      "escrow_transitions_total",
			Help:      "Escrow state transitions by resulting status.",
		},
		[]string{"status"},
	)

	// EscrowMessages counts thread messages appended by participants.
	EscrowMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tianguis",
			Name:      "escrow_messages_total",
			Help:      "Messages appended to escrow conversation threads.",
		},
	)

	// LedgerQueries counts unified ledger queries.
	LedgerQueries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tianguis",
			Name:      "ledger_queries_total",
			Help:      "Unified transaction ledger queries served.",
		},
	)

	// LedgerExports counts CSV exports.
	LedgerExports = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tianguis",
			Name:      "ledger_exports_total",
			Help:      "Unified transaction ledger CSV exports served.",
		},
	)

	// ActiveWebSocketClients tracks connected realtime subscribers.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tianguis",
			Name:      "websocket_clients",
			Help:      "Currently connected WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EscrowTransitions,
		EscrowMessages,
		LedgerQueries,
		LedgerExports,
		ActiveWebSocketClients,
	)
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// FullPath gives the route pattern (e.g. /v1/escrows/:code), keeping
		// label cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			statusLabel(c.Writer.Status()),
		).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func statusLabel(code int) string {
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
