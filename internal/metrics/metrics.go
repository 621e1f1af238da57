package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP and decision-cycle collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CyclesCreated     *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	ReviewsSubmitted  *prometheus.CounterVec
	OutcomesRecorded  *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionos_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "decisionos_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	m.CyclesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionos_cycles_created_total",
			Help: "Decision cycles created",
		},
		[]string{"project_id"},
	)
	m.StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionos_cycle_status_transitions_total",
			Help: "Decision cycle status transitions",
		},
		[]string{"from", "to"},
	)
	m.ReviewsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionos_reviews_submitted_total",
			Help: "Reviews submitted by verdict",
		},
		[]string{"verdict"},
	)
	m.OutcomesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionos_outcomes_recorded_total",
			Help: "Outcomes recorded by decision",
		},
		[]string{"decision"},
	)
	m.WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisionos_webhook_deliveries_total",
			Help: "Webhook delivery attempts by result",
		},
		[]string{"result"},
	)

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CyclesCreated,
		m.StatusTransitions,
		m.ReviewsSubmitted,
		m.OutcomesRecorded,
		m.WebhookDeliveries,
	)
	return m
}

func (m *Metrics) CycleCreated(projectID string) {
	m.CyclesCreated.WithLabelValues(projectID).Inc()
}

func (m *Metrics) StatusChanged(from, to string) {
	m.StatusTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ReviewSubmitted(verdict string) {
	m.ReviewsSubmitted.WithLabelValues(verdict).Inc()
}

func (m *Metrics) OutcomeRecorded(decision string) {
	m.OutcomesRecorded.WithLabelValues(decision).Inc()
}

func (m *Metrics) WebhookDelivered(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.WebhookDeliveries.WithLabelValues(result).Inc()
}

// RequestTrackingMiddleware records request counts and latency, labelled by chi route pattern.
func (m *Metrics) RequestTrackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
