package server

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeKo-Tech/bpread/internal/explore"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpread_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bpread_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Recognition metrics
	recognitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpread_recognitions_total",
			Help: "Total number of recognition requests by outcome",
		},
		[]string{"channel", "outcome"}, // channel: http, websocket
	)

	recognitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bpread_recognition_duration_seconds",
			Help:    "Exploration duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 15, 30},
		},
		[]string{"channel"},
	)

	attemptsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bpread_attempts_per_run",
			Help:    "Attempts issued per exploration run",
			Buckets: []float64{1, 2, 4, 6, 8, 12, 16, 24},
		},
	)

	selectedScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bpread_selected_score",
			Help:    "Total score of the selected attempt",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	selectedPreset = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpread_selected_preset_total",
			Help: "Number of runs won by each preset and method",
		},
		[]string{"method", "preset"},
	)

	segmentReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpread_segment_reads_total",
			Help: "Total number of direct seven-segment reads",
		},
		[]string{"complete"},
	)

	generationChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bpread_generation_changes_total",
			Help: "Number of observed frames that advanced the generation",
		},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpread_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bpread_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 5 * 1024 * 1024, 20 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bpread_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpread_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

// recordRecognition updates the recognition metrics for one call.
func recordRecognition(channel string, res *explore.Result, err error, d time.Duration) {
	recognitionDuration.WithLabelValues(channel).Observe(d.Seconds())
	switch {
	case errors.Is(err, explore.ErrStale):
		recognitionsTotal.WithLabelValues(channel, "stale").Inc()
		return
	case err != nil:
		recognitionsTotal.WithLabelValues(channel, "error").Inc()
		return
	case res == nil:
		return
	}

	attemptsPerRun.Observe(float64(res.AttemptsRun))
	outcome := "ok"
	if res.ErrorCode != "" {
		outcome = res.ErrorCode
	}
	recognitionsTotal.WithLabelValues(channel, outcome).Inc()

	if a, ok := res.Selected(); ok {
		selectedScore.Observe(a.Score.Total)
		selectedPreset.WithLabelValues(a.Method, a.Preset).Inc()
	}
}
