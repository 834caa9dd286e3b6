package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP surface and the session core.
type Metrics struct {
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	dispatchTotal   *prometheus.CounterVec
	persistTotal    *prometheus.CounterVec
	mountsTotal     *prometheus.CounterVec
}

// NewMetrics initialises the registry and every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "miciudad_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "miciudad_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	dispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "miciudad_session_dispatch_total",
		Help: "Actions dispatched to the session store by kind.",
	}, []string{"action"})
	persist := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "miciudad_session_persist_total",
		Help: "Background persistence of the session user by operation and outcome.",
	}, []string{"op", "status"})
	mounts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "miciudad_gate_mounts_total",
		Help: "Navigation subtrees mounted by the root gate.",
	}, []string{"root"})
	registry.MustRegister(requests, duration, dispatch, persist, mounts)
	return &Metrics{
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		dispatchTotal:   dispatch,
		persistTotal:    persist,
		mountsTotal:     mounts,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveDispatch counts one dispatched action.
func (m *Metrics) ObserveDispatch(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unrecognized"
	}
	m.dispatchTotal.WithLabelValues(kind).Inc()
}

// ObservePersist counts one storage write or delete.
func (m *Metrics) ObservePersist(op, status string) {
	if m == nil {
		return
	}
	m.persistTotal.WithLabelValues(op, status).Inc()
}

// ObserveMount counts one subtree mount.
func (m *Metrics) ObserveMount(root string) {
	if m == nil {
		return
	}
	m.mountsTotal.WithLabelValues(root).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
