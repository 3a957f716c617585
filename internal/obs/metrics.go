package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "estatly_ready",
		Help: "1 when the service passed its last readiness check.",
	})

	// AuthzDecisions counts engine outcomes by reason.
	AuthzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatly_authz_decisions_total",
			Help: "Authorization decisions by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	// Mutations counts terminal states of wrapped mutations.
	Mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatly_mutations_total",
			Help: "Mutations by operation and terminal state.",
		},
		[]string{"operation", "outcome"},
	)

	// AuditWriteFailures counts audit entries that could not be recorded.
	AuditWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatly_audit_write_failures_total",
			Help: "Audit entries lost after the primary mutation succeeded.",
		},
		[]string{"entity_kind"},
	)

	// AuditQueueDepth tracks entries waiting in the asynchronous audit dispatcher.
	AuditQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "estatly_audit_queue_depth",
		Help: "Audit entries waiting to be written.",
	})

	// BindingCache counts role binding cache lookups by result.
	BindingCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estatly_binding_cache_total",
			Help: "Role binding cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	initOnce sync.Once
)

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
			AuthzDecisions, Mutations, AuditWriteFailures, AuditQueueDepth, BindingCache,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the latest readiness check.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument records in-flight, count and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// collections whose second segment is an identifier.
var idCollections = map[string]bool{
	"buildings":  true,
	"apartments": true,
	"expenses":   true,
	"payments":   true,
	"users":      true,
	"bindings":   true,
}

var subCollections = map[string]bool{
	"apartments": true,
	"expenses":   true,
	"payments":   true,
	"bindings":   true,
}

// CanonicalPath replaces identifiers with :id to keep label cardinality bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || !idCollections[parts[1]] {
		return p
	}
	switch {
	case len(parts) == 3:
		return "/v1/" + parts[1] + "/:id"
	case len(parts) == 4 && subCollections[parts[3]]:
		return "/v1/" + parts[1] + "/:id/" + parts[3]
	default:
		return p
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers work behind the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
