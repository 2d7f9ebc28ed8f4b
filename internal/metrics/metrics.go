package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotator_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annotator_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Inference metrics
	stageOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotator_stage_outcomes_total",
			Help: "Inference stage outcomes by failure class",
		},
		[]string{"stage", "outcome"}, // outcome: ok, unavailable, failed
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "annotator_stage_duration_seconds",
			Help:    "Inference stage duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 25, 60, 120},
		},
		[]string{"stage"},
	)

	annotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotator_annotations_total",
			Help: "Total number of annotation calls",
		},
		[]string{"status"}, // status: success, invalid_image, unavailable, error
	)

	// Embedding metrics
	embedsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "annotator_embeds_total",
			Help: "Total number of metadata embeds",
		},
		[]string{"format", "status"},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "annotator_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)
)

// ObserveStage records one backend call
func ObserveStage(stage, outcome string, d time.Duration) {
	stageOutcomesTotal.WithLabelValues(stage, outcome).Inc()
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func ObserveAnnotation(status string) {
	annotationsTotal.WithLabelValues(status).Inc()
}

func ObserveEmbed(format, status string) {
	embedsTotal.WithLabelValues(format, status).Inc()
}

func ObserveUpload(size int64) {
	uploadSizeBytes.Observe(float64(size))
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency. endpoint is the route
// pattern rather than the raw path to keep label cardinality bounded.
func Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		start := time.Now()
		next(rw, r)
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(r.Method, endpoint, http.StatusText(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(duration.Seconds())
	}
}
