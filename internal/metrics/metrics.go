// Package metrics provides Prometheus instrumentation for stackwatch.
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
	// TxIndexedTotal counts indexed transactions, partitioned by direction.
	TxIndexedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackwatch_tx_indexed_total",
		Help: "Total number of transactions indexed",
	}, []string{"direction"})

	// ConsumptionsTotal counts FIFO consumption operations.
	ConsumptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stackwatch_fifo_consumptions_total",
		Help: "Total number of FIFO disposal consumptions applied",
	})

	// InsufficientLotsTotal counts disposals that exceeded open lot inventory.
	InsufficientLotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stackwatch_fifo_insufficient_lots_total",
		Help: "Disposals that could not be fully satisfied by open lots",
	})

	// AlertsTriggeredTotal counts alert triggers by condition type.
	AlertsTriggeredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackwatch_alerts_triggered_total",
		Help: "Total number of alerts triggered",
	}, []string{"condition_type"})

	// WebhookDeliveriesTotal counts webhook delivery attempts by outcome.
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackwatch_webhook_deliveries_total",
		Help: "Total webhook delivery attempts",
	}, []string{"status"})

	// JobRunsTotal counts scheduled job runs by job name and outcome.
	JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackwatch_job_runs_total",
		Help: "Total scheduled job runs",
	}, []string{"job", "outcome"})

	// EmailDeliveriesTotal counts alert email deliveries by outcome.
	EmailDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackwatch_email_deliveries_total",
		Help: "Total alert email delivery attempts",
	}, []string{"status"})

	// PriceLookupsTotal counts price lookups by outcome (hit, miss, error, stale).
	PriceLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackwatch_price_lookups_total",
		Help: "Total price lookups",
	}, []string{"outcome"})

	// SSEClients tracks connected SSE stream clients.
	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stackwatch_sse_clients",
		Help: "Number of connected SSE clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackwatch_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stackwatch_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		// Raw path keeps cardinality acceptable for this API surface
		// (addresses are the only variable segment).
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
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

// Flush passes through so SSE responses can stream.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
