package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every endpoint.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service passes its readiness checks.",
	})
)

// Trust-layer domain metrics. Components bump these directly so the
// transport layer stays free of counting logic.
var (
	CredentialValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_validations_total",
			Help: "Credential validation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	RateLimitDenials = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ratelimit_denials_total",
		Help: "Requests denied by the sliding-window rate limiter.",
	})

	ConsensusAchieved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mesh_consensus_achieved_total",
		Help: "Proposals that reached the consensus threshold.",
	})

	ConsensusFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mesh_consensus_failed_total",
		Help: "Proposals that fell short of the consensus threshold.",
	})

	MiningDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "prooflock_mining_duration_seconds",
		Help:    "Wall-clock time spent mining proof-of-work nonces.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		CredentialValidations, RateLimitDenials,
		ConsensusAchieved, ConsensusFailed, MiningDuration,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady updates the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// CanonicalPath collapses identifier segments so metric cardinality stays
// bounded (/v1/mesh/nodes/<id> -> /v1/mesh/nodes/:id).
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	if len(parts) == 5 && parts[1] == "v1" && parts[2] == "mesh" && parts[3] == "nodes" && parts[4] != "" {
		parts[4] = ":id"
		return strings.Join(parts, "/")
	}
	if len(parts) == 4 && parts[1] == "v1" && parts[2] == "credentials" && parts[3] != "" {
		parts[3] = ":token"
		return strings.Join(parts, "/")
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight accounting.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers stream through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
