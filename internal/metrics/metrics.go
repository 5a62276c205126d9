// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts accepted production orders.
	OrdersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tako_orders_total",
		Help: "Total number of production orders accepted",
	})

	// OrderRejections counts rejected orders by reason.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tako_order_rejections_total",
		Help: "Production orders rejected",
	}, []string{"reason"})

	// SettlementsTotal counts settled rounds, partitioned by the weather
	// that drove demand.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tako_settlements_total",
		Help: "Total number of settled rounds",
	}, []string{"weather"})

	// SettlementLatency tracks how long a settlement takes.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tako_settlement_latency_seconds",
		Help:    "Round settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SeasonsTotal counts completed seasons.
	SeasonsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tako_seasons_total",
		Help: "Total number of completed seasons",
	})

	// OpenRound is 1 while a round is accepting orders.
	OpenRound = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tako_open_round",
		Help: "Whether a round is currently accepting orders",
	})

	// RegisteredOwners tracks the number of registered owners.
	RegisteredOwners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tako_registered_owners",
		Help: "Number of registered owners",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tako_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tako_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tako_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
