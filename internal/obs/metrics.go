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
	initOnce sync.Once

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

	registrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sif_registrations_total",
			Help: "Environment registrations by side and result.",
		},
		[]string{"side", "result"},
	)

	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sif_sessions_active",
		Help: "Environments currently issued by this authority.",
	})

	phaseActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sif_phase_actions_total",
			Help: "Functional service phase actions by action and result.",
		},
		[]string{"action", "result"},
	)

	jobsTimedOut = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sif_jobs_timed_out_total",
		Help: "Jobs expired by the timeout sweep.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sif_ready",
		Help: "1 when the service passes its readiness probe.",
	})
)

// Init registers metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			registrationsTotal, sessionsActive, phaseActionsTotal, jobsTimedOut, ready,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRegistration counts a registration attempt. side is "authority"
// or "client".
func ObserveRegistration(side string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	registrationsTotal.WithLabelValues(side, result).Inc()
}

func SessionOpened() { sessionsActive.Inc() }
func SessionClosed() { sessionsActive.Dec() }

// ObservePhaseAction counts one phase action outcome.
func ObservePhaseAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	phaseActionsTotal.WithLabelValues(action, result).Inc()
}

func JobTimedOut() { jobsTimedOut.Inc() }

// SetReady records the readiness probe result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures requests, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers in SIF resource paths so that metric
// label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexAny(raw, "?;"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 2 || parts[0] != "api" {
		return raw
	}
	switch {
	case parts[1] == "environments" && (len(parts) == 3 || len(parts) == 4) && parts[2] != "environment":
		parts[2] = ":id"
	case parts[1] == "jobs" && len(parts) >= 4:
		parts[3] = ":id"
		if len(parts) > 5 {
			return raw
		}
	case parts[1] == "changes" && (len(parts) == 3 || len(parts) == 4):
		parts[2] = ":collection"
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
