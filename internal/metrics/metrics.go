package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diecast_orders_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diecast_orders_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diecast_orders_order_operations_total",
			Help: "Total number of order operations",
		},
		[]string{"operation", "status"},
	)

	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diecast_orders_reservations_total",
			Help: "Approval reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	expiryCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diecast_orders_expiry_cancelled_total",
			Help: "Orders cancelled because the payment window ran out",
		},
	)

	projectedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diecast_orders_projected_events_total",
			Help: "Events seen by the status projector",
		},
		[]string{"event_type", "result"},
	)

	expiryScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "diecast_orders_expiry_scan_duration_seconds",
			Help:    "Duration of one expiry scan",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Middleware records request count and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		status := strconv.Itoa(code)

		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler { return promhttp.Handler() }

// RecordOrderOperation counts one state machine operation.
func RecordOrderOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	orderOperations.WithLabelValues(operation, status).Inc()
}

// RecordReservation outcome is one of "reserved", "sold_out", "error".
func RecordReservation(outcome string) {
	reservations.WithLabelValues(outcome).Inc()
}

func RecordExpiry(n int) { expiryCancelled.Add(float64(n)) }

func ObserveExpiryScan(d time.Duration) { expiryScanDuration.Observe(d.Seconds()) }

// RecordProjected result is one of "applied", "duplicate", "stale", "error".
func RecordProjected(eventType, result string) {
	projectedEvents.WithLabelValues(eventType, result).Inc()
}
