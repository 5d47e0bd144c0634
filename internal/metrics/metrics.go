package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagerelay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagerelay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Image pipeline metrics
	imagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagerelay_images_processed_total",
			Help: "Total number of images run through validation",
		},
		[]string{"result"}, // result: ok or an error kind
	)

	imageSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imagerelay_image_size_bytes",
			Help:    "Size of optimized images in bytes",
			Buckets: []float64{10 * 1024, 50 * 1024, 100 * 1024, 250 * 1024, 512 * 1024, 1024 * 1024, 5 * 1024 * 1024},
		},
	)

	// Session metrics
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imagerelay_sessions_active",
			Help: "Number of sessions collecting or submitting",
		},
	)

	sessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagerelay_session_transitions_total",
			Help: "Total number of terminal session transitions",
		},
		[]string{"state"},
	)

	// External tool metrics
	invocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagerelay_invocations_total",
			Help: "Total number of external tool invocations",
		},
		[]string{"strategy", "result"},
	)

	invocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagerelay_invocation_duration_seconds",
			Help:    "External tool invocation duration in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 200, 300, 600},
		},
		[]string{"strategy"},
	)

	tempFilesSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imagerelay_temp_files_swept_total",
			Help: "Total number of temp files removed by retention sweeps",
		},
	)
)

func ObserveHTTPRequest(method, endpoint, status string, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// ObserveImage counts one validated image. An empty kind means success.
func ObserveImage(kind string, size int64) {
	if kind == "" {
		imagesProcessedTotal.WithLabelValues("ok").Inc()
		imageSizeBytes.Observe(float64(size))
		return
	}
	imagesProcessedTotal.WithLabelValues(kind).Inc()
}

func SessionStarted() {
	sessionsActive.Inc()
}

func SessionEnded(state string) {
	sessionsActive.Dec()
	sessionTransitionsTotal.WithLabelValues(state).Inc()
}

func ObserveInvocation(strategy, result string, d time.Duration) {
	invocationsTotal.WithLabelValues(strategy, result).Inc()
	invocationDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func TempFilesSwept(n int) {
	tempFilesSwept.Add(float64(n))
}
