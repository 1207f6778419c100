package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// Record* methods are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Session store metrics
	SessionStoreOperationsTotal   *prometheus.CounterVec
	SessionStoreOperationDuration *prometheus.HistogramVec

	// Token lifecycle metrics
	LoginsTotal            *prometheus.CounterVec
	TokenRefreshesTotal    *prometheus.CounterVec
	TokenRefreshDuration   prometheus.Histogram
	GateDecisionsTotal     *prometheus.CounterVec
	LogoutsTotal           *prometheus.CounterVec
	RoleMappingReloads     *prometheus.CounterVec
	TokenDetailsLoadsTotal *prometheus.CounterVec

	// Provider metrics
	ProviderUp            prometheus.Gauge
	ProviderProbeDuration prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		SessionStoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_session_store_operations_total",
				Help: "Total number of session store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		SessionStoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_session_store_operation_duration_seconds",
				Help:    "Session store operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"operation", "backend"},
		),

		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_logins_total",
				Help: "Total number of completed sign-in callbacks",
			},
			[]string{"status"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_token_refreshes_total",
				Help: "Total number of access token refresh attempts",
			},
			[]string{"outcome"},
		),
		TokenRefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_token_refresh_duration_seconds",
				Help:    "Refresh grant round trip in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_gate_decisions_total",
				Help: "Total number of access control decisions",
			},
			[]string{"route", "decision"},
		),
		LogoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_logouts_total",
				Help: "Total number of sign-outs",
			},
			[]string{"mode"},
		),
		RoleMappingReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_role_mapping_reloads_total",
				Help: "Total number of role mapping reload attempts",
			},
			[]string{"status"},
		),
		TokenDetailsLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_token_details_loads_total",
				Help: "Total number of token details loads",
			},
			[]string{"status"},
		),

		ProviderUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_provider_up",
				Help: "1 when the identity provider discovery document was reachable at the last probe",
			},
		),
		ProviderProbeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_provider_probe_duration_seconds",
				Help:    "Identity provider probe duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.SessionStoreOperationsTotal,
		m.SessionStoreOperationDuration,
		m.LoginsTotal,
		m.TokenRefreshesTotal,
		m.TokenRefreshDuration,
		m.GateDecisionsTotal,
		m.LogoutsTotal,
		m.RoleMappingReloads,
		m.TokenDetailsLoadsTotal,
		m.ProviderUp,
		m.ProviderProbeDuration,
	)

	return m
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordStoreOperation records one session store call
func (m *Metrics) RecordStoreOperation(operation, backend string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SessionStoreOperationsTotal.WithLabelValues(operation, backend, statusLabel(err)).Inc()
	m.SessionStoreOperationDuration.WithLabelValues(operation, backend).Observe(d.Seconds())
}

// RecordLogin records a sign-in callback outcome
func (m *Metrics) RecordLogin(status string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(status).Inc()
}

// RecordRefresh records a refresh attempt: success, retryable or terminal
func (m *Metrics) RecordRefresh(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
	m.TokenRefreshDuration.Observe(d.Seconds())
}

// RecordGateDecision records an access control decision for a route
func (m *Metrics) RecordGateDecision(route, decision string) {
	if m == nil {
		return
	}
	m.GateDecisionsTotal.WithLabelValues(route, decision).Inc()
}

// RecordLogout records a sign-out: federated or local
func (m *Metrics) RecordLogout(mode string) {
	if m == nil {
		return
	}
	m.LogoutsTotal.WithLabelValues(mode).Inc()
}

// RecordRoleMappingReload records a mapping reload attempt
func (m *Metrics) RecordRoleMappingReload(err error) {
	if m == nil {
		return
	}
	m.RoleMappingReloads.WithLabelValues(statusLabel(err)).Inc()
}

// RecordTokenDetailsLoad records a token details fetch outcome
func (m *Metrics) RecordTokenDetailsLoad(status string) {
	if m == nil {
		return
	}
	m.TokenDetailsLoadsTotal.WithLabelValues(status).Inc()
}

// RecordProviderProbe records the result of a provider reachability probe
func (m *Metrics) RecordProviderProbe(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ProviderProbeDuration.Observe(d.Seconds())
	if err != nil {
		m.ProviderUp.Set(0)
		return
	}
	m.ProviderUp.Set(1)
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the matched mux template so path parameters and unknown
// paths do not create unbounded label values
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
