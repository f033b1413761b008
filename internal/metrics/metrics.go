// Package metrics exposes optimizer and HTTP metrics to Prometheus.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "allocator"

// Recorder owns a registry and the collectors registered on it.
type Recorder struct {
	registry *prometheus.Registry

	trialsTotal   *prometheus.CounterVec
	trialDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	bestValue     *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a recorder on a fresh registry with the Go and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		trialsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trials_total",
				Help:      "Multi-start trials by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		trialDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trial_duration_seconds",
				Help:      "Duration of a single local solve",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"strategy"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Optimization runs by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a full multi-start run",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2.5, 10),
			},
			[]string{"strategy"},
		),
		bestValue: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "best_objective_value",
				Help:      "Objective value of the latest successful run",
			},
			[]string{"strategy"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"route", "method"},
		),
	}
}

// Registry returns the registry the recorder's collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveTrial records one finished trial. It satisfies
// optimization.TrialObserver.
func (r *Recorder) ObserveTrial(strategy string, trial optimization.Trial) {
	outcome := "converged"
	switch {
	case trial.Err != nil:
		outcome = "failed"
	case !trial.Converged:
		outcome = "not_converged"
	}
	r.trialsTotal.WithLabelValues(strategy, outcome).Inc()
	r.trialDuration.WithLabelValues(strategy).Observe(trial.Duration.Seconds())
}

// RecordRun records a finished run. A nil result counts as a failure.
func (r *Recorder) RecordRun(strategy string, result *optimization.Result, duration time.Duration) {
	r.runDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if result == nil {
		r.runsTotal.WithLabelValues(strategy, "failed").Inc()
		return
	}
	r.runsTotal.WithLabelValues(strategy, "succeeded").Inc()
	r.bestValue.WithLabelValues(strategy).Set(result.Value)
}

// Middleware records request counts and latency labeled by chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, req)

		route := routeLabel(req)
		r.httpRequests.WithLabelValues(route, req.Method, strconv.Itoa(rw.status)).Inc()
		r.httpDuration.WithLabelValues(route, req.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through to the underlying writer for websocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// routeLabel prefers the matched route pattern to keep label cardinality low.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
