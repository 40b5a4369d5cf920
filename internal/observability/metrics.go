package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/branch-ledger/internal/jobs"
)

// Metrics collects Prometheus metrics for the ledger API.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	dayTransitions  *prometheus.CounterVec
	voucherStatus   *prometheus.CounterVec
	rateLookups     *prometheus.CounterVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics initialises the registry with HTTP, ledger and job collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	days := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_day_transitions_total",
		Help: "Branch working day transitions by resulting status.",
	}, []string{"status"})
	vouchers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_voucher_transitions_total",
		Help: "Voucher lifecycle transitions by resulting status.",
	}, []string{"status"})
	rates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_rate_lookups_total",
		Help: "Interest rate lookups by product kind and outcome.",
	}, []string{"kind", "outcome"})
	registry.MustRegister(requests, duration, days, vouchers, rates)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		dayTransitions:  days,
		voucherStatus:   vouchers,
		rateLookups:     rates,
		jobs:            jobmetrics.NewMetrics(registry),
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

// Middleware records metrics for every HTTP request.
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

// ObserveDayTransition counts a working day open or close.
func (m *Metrics) ObserveDayTransition(status string) {
	if m == nil {
		return
	}
	m.dayTransitions.WithLabelValues(status).Inc()
}

// ObserveVoucherTransition counts a voucher reaching status.
func (m *Metrics) ObserveVoucherTransition(status string) {
	if m == nil {
		return
	}
	m.voucherStatus.WithLabelValues(status).Inc()
}

// ObserveRateResolution counts a slab lookup.
func (m *Metrics) ObserveRateResolution(kind string, found bool) {
	if m == nil {
		return
	}
	outcome := "found"
	if !found {
		outcome = "not_found"
	}
	m.rateLookups.WithLabelValues(kind, outcome).Inc()
}

// Jobs returns the background job collectors sharing this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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
