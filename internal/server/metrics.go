package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	callbacks     *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	providerCalls *prometheus.CounterVec
	imports       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		gatherer: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "setlist_http_requests_total",
			Help: "HTTP requests processed, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "setlist_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "setlist_auth_callbacks_total",
			Help: "Provider authorization callbacks, by outcome (success or error code).",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "setlist_token_refreshes_total",
			Help: "Access token refresh attempts, by outcome.",
		}, []string{"outcome"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "setlist_provider_calls_total",
			Help: "Authenticated provider API calls, by method and status.",
		}, []string{"method", "status"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "setlist_catalog_imports_total",
			Help: "Catalog tracks processed by imports, by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.httpRequests, m.httpDuration, m.callbacks, m.refreshes, m.providerCalls, m.imports} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests by their chi route pattern so URL parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
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

		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveCallback records an authorization callback outcome.
func (m *Metrics) ObserveCallback(outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome).Inc()
}

// ObserveRefresh records a token refresh outcome. It matches the refresher's callback signature.
func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// ObserveProviderCall records the status of one provider API request; 0 means a transport failure.
func (m *Metrics) ObserveProviderCall(method string, status int) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// ObserveImport records per-track import results.
func (m *Metrics) ObserveImport(added, skipped, failed int) {
	if m == nil {
		return
	}
	m.imports.WithLabelValues("added").Add(float64(added))
	m.imports.WithLabelValues("skipped").Add(float64(skipped))
	m.imports.WithLabelValues("failed").Add(float64(failed))
}
