// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	// Turns counts interview turns by the phase they ended in and the kind of
	// step returned.
	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_turns_total",
			Help: "Interview turns by resulting phase and step type",
		},
		[]string{"phase", "step"},
	)

	RedFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_red_flags_total",
			Help: "Red flag interceptions by pattern",
		},
		[]string{"pattern"},
	)

	ReasoningAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_reasoning_attempts_total",
			Help: "Reasoning candidate attempts by backend and result",
		},
		[]string{"backend", "result"},
	)

	ReasoningLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_reasoning_latency_seconds",
			Help:    "Latency of a single reasoning candidate attempt",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"backend"},
	)

	// Fallbacks counts locally authored substitutes for model output:
	// "timing" and "severity" questions and forced "inconclusive" reports.
	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_fallbacks_total",
			Help: "Deterministic substitutes for unusable reasoning output",
		},
		[]string{"variant"},
	)

	Reports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_reports_total",
			Help: "Reports produced by urgency",
		},
		[]string{"urgency"},
	)

	// CollaboratorFailures counts failed report-time and audit writes.
	CollaboratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_collaborator_failures_total",
			Help: "Failed writes to report storage, memory or audit log",
		},
		[]string{"collaborator"},
	)

	MemoryJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_memory_jobs_total",
			Help: "Memory indexing jobs by result",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and durations labelled by chi route
// pattern, so path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
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
