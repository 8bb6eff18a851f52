// Package telemetry unifies OpenTelemetry tracing (Google Cloud) and Prometheus metrics.
package telemetry

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
	crawlerJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_jobs_total",
			Help: "Crawl jobs finished, labeled by terminal status.",
		},
		[]string{"status"},
	)

	crawlerPostsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_posts_total",
			Help: "Candidate posts written, labeled by source type and outcome.",
		},
		[]string{"source_type", "outcome"},
	)

	crawlerSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_sweeps_total",
			Help: "Sweeps run, labeled by result (ok, error, skipped).",
		},
		[]string{"result"},
	)

	crawlerSweepDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_sweep_duration_seconds",
			Help:    "Wall time of full sweeps and backfills.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Histogram of courtesy delay waits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"key"},
	)

	crawlerFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_fetch_total",
			Help: "Outbound fetches, labeled by status class (2xx, 4xx, 5xx, error).",
		},
		[]string{"status_class"},
	)

	analyticsCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_cache_requests_total",
			Help: "Analytics client cache lookups, labeled by hit or miss.",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			routePattern = rc.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob records a job reaching a terminal status.
func ObserveJob(status string) {
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// ObservePost records one write outcome.
func ObservePost(sourceType, outcome string) {
	crawlerPostsTotal.WithLabelValues(sourceType, outcome).Inc()
}

// ObserveSweep records a sweep result and, unless skipped, its duration.
func ObserveSweep(result string, duration time.Duration) {
	crawlerSweepsTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		crawlerSweepDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveRateLimitDelay records the duration of a courtesy wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	crawlerRateLimitDelaysSeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveFetch records an outbound fetch by status class. A zero code counts as an error.
func ObserveFetch(code int) {
	class := "error"
	if code >= 100 {
		class = strconv.Itoa(code/100) + "xx"
	}
	crawlerFetchTotal.WithLabelValues(class).Inc()
}

// ObserveCache records an analytics cache lookup.
func ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	analyticsCacheRequestsTotal.WithLabelValues(result).Inc()
}
