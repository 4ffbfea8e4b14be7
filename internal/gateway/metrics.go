package gateway

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus instrumentation for the gateway. Label cardinality is kept
// low: op is a fixed handler name, never a raw URL path.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planetstore",
		Name:      "gateway_requests_total",
		Help:      "Gateway requests by operation and status code.",
	}, []string{"op", "code"})

	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "planetstore",
		Name:      "gateway_object_bytes_written_total",
		Help:      "Logical object bytes accepted by PUT object.",
	})

	bytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "planetstore",
		Name:      "gateway_object_bytes_read_total",
		Help:      "Logical object bytes served by GET object.",
	})

	dedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "planetstore",
		Name:      "gateway_dedup_hits_total",
		Help:      "Writes satisfied by an existing content row.",
	})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "planetstore",
		Name:      "gateway_rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter.",
	})
)

// metricsHandler serves the Prometheus scrape endpoint.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the status a handler wrote so requestsTotal
// can be labeled after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler func with the requests counter.
func instrument(op string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		requestsTotal.WithLabelValues(op, strconv.Itoa(rec.status)).Inc()
	}
}
