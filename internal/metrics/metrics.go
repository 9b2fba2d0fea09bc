package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shyim/sitespeed-compare/internal/models"
)

// Metrics holds the Prometheus collectors for trials and comparison runs.
type Metrics struct {
	TrialsTotal   *prometheus.CounterVec
	TrialDuration *prometheus.HistogramVec
	RunsTotal     *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{gatherer: prometheus.DefaultGatherer}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	m.TrialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecompare_trials_total",
			Help: "Total number of page-load trials by browser and outcome",
		},
		[]string{"browser", "outcome"},
	)

	m.TrialDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagecompare_trial_duration_seconds",
			Help:    "Wall-clock duration of a single trial",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"browser"},
	)

	m.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecompare_runs_total",
			Help: "Total number of comparison runs by final status",
		},
		[]string{"status"},
	)

	m.ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagecompare_active_runs",
			Help: "Number of comparison runs currently sampling",
		},
	)

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	reg.MustRegister(
		m.TrialsTotal,
		m.TrialDuration,
		m.RunsTotal,
		m.ActiveRuns,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// TrialFinished records one trial. It satisfies sampler.Observer.
func (m *Metrics) TrialFinished(browser string, elapsed time.Duration, err error) {
	m.TrialsTotal.WithLabelValues(browser, Outcome(err)).Inc()
	m.TrialDuration.WithLabelValues(browser).Observe(elapsed.Seconds())
}

func (m *Metrics) RunStarted() {
	m.ActiveRuns.Inc()
}

func (m *Metrics) RunFinished(status string) {
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
}

// Outcome maps a trial error to a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, models.ErrTrialTimeout):
		return "timeout"
	case errors.Is(err, models.ErrNetwork):
		return "network"
	case errors.Is(err, models.ErrNavigation):
		return "navigation"
	case errors.Is(err, models.ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, models.ErrMissingPrimary):
		return "missing_metric"
	default:
		return "error"
	}
}

// Middleware tracks request counts and latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, http.StatusText(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
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

// Handler serves the registry the collectors were registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
