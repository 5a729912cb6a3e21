package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// METRICS - Prometheus collectors exposed at /metrics
// =============================================================================

// Metrics holds the collectors of one server. Each server gets its own
// registry so tests can build many.
type Metrics struct {
	Registry *prometheus.Registry

	Requests     *prometheus.HistogramVec
	Mutations    *prometheus.CounterVec
	Errors       *prometheus.CounterVec
	Materialized prometheus.Counter
	Failed       prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookkeeper",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookkeeper",
			Name:      "ledger_mutations_total",
			Help:      "Committed ledger mutations by operation.",
		}, []string{"op"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookkeeper",
			Name:      "ledger_errors_total",
			Help:      "Rejected or failed ledger operations by class.",
		}, []string{"op", "class"}),
		Materialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookkeeper",
			Name:      "recurring_materialized_total",
			Help:      "Recurring occurrences turned into transactions.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookkeeper",
			Name:      "recurring_failures_total",
			Help:      "Recurring occurrences that need reconciliation.",
		}),
	}
	reg.MustRegister(
		m.Requests, m.Mutations, m.Errors, m.Materialized, m.Failed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Middleware observes request latency labeled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) mutation(op string) {
	if m != nil {
		m.Mutations.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) failure(op, class string) {
	if m != nil {
		m.Errors.WithLabelValues(op, class).Inc()
	}
}
