// Package observability provides metrics capabilities for opatlas.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics namespace for all opatlas metrics.
const metricsNamespace = "opatlas"

// HTTP metrics.
var (
	// HTTPRequestsTotal counts HTTP requests by method and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	// HTTPRequestDuration measures request duration in seconds.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method"},
	)
)

// Store metrics.
var (
	// StoreOperationsTotal counts store operations by entity, operation,
	// and outcome.
	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "store_operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"entity", "operation", "status"},
	)
)

// Recommendation metrics.
var (
	// RecommendationsScored counts scoring requests.
	RecommendationsScored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "recommendations_scored_total",
			Help:      "Total number of recommendation scoring requests",
		},
	)

	// RecommendationResults observes how many playbooks each scoring
	// request returned.
	RecommendationResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "recommendation_results",
			Help:      "Number of recommendations returned per request",
			Buckets:   prometheus.LinearBuckets(0, 1, 6),
		},
	)
)

func init() {
	// Register all metrics with the default registry.
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		StoreOperationsTotal,
		RecommendationsScored,
		RecommendationResults,
	)
}

// MetricsMiddleware records request counts and latencies.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
