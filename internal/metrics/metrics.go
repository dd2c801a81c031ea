// Package metrics exposes Prometheus collectors for the screenshot service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	capturesTotal              *prometheus.CounterVec
	captureDurationSeconds     *prometheus.HistogramVec
	queueWaitSeconds           prometheus.Histogram
	captureErrorsTotal         *prometheus.CounterVec
	browserPoolBrowsers        *prometheus.GaugeVec
	queueJobs                  *prometheus.GaugeVec
	rateLimitedTotal           prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenshot_captures_total",
				Help: "Total number of capture attempts, labeled by resolution and status.",
			},
			[]string{"resolution", "status"},
		)

		captureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "screenshot_capture_duration_seconds",
				Help:    "Histogram of capture durations, labeled by resolution.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"resolution"},
		)

		queueWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "screenshot_queue_wait_seconds",
				Help:    "Histogram of time jobs spent waiting in the queue.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
			},
		)

		captureErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screenshot_capture_errors_total",
				Help: "Total number of failed captures, labeled by error kind.",
			},
			[]string{"kind"},
		)

		browserPoolBrowsers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "screenshot_browser_pool_browsers",
				Help: "Pooled browsers, labeled by state (total, in_use, available).",
			},
			[]string{"state"},
		)

		queueJobs = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "screenshot_queue_jobs",
				Help: "Jobs in the capture queue, labeled by state (queued, processing).",
			},
			[]string{"state"},
		)

		rateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "screenshot_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter.",
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCapture records one capture attempt. kind is empty on success.
func ObserveCapture(resolution string, success bool, kind string, duration, queueWait time.Duration) {
	Init()
	status := "success"
	if !success {
		status = "failure"
		captureErrorsTotal.WithLabelValues(kind).Inc()
	}
	capturesTotal.WithLabelValues(resolution, status).Inc()
	captureDurationSeconds.WithLabelValues(resolution).Observe(duration.Seconds())
	queueWaitSeconds.Observe(queueWait.Seconds())
}

// ObservePool sets the browser pool gauges.
func ObservePool(total, inUse, available int) {
	Init()
	browserPoolBrowsers.WithLabelValues("total").Set(float64(total))
	browserPoolBrowsers.WithLabelValues("in_use").Set(float64(inUse))
	browserPoolBrowsers.WithLabelValues("available").Set(float64(available))
}

// ObserveQueue sets the queue gauges.
func ObserveQueue(queued, processing int) {
	Init()
	queueJobs.WithLabelValues("queued").Set(float64(queued))
	queueJobs.WithLabelValues("processing").Set(float64(processing))
}

// ObserveRateLimited counts a rejected request.
func ObserveRateLimited() {
	Init()
	rateLimitedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
