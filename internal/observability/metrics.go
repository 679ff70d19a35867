package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"camera_id"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	}, []string{"camera_id"})

	FacesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "faces_matched_total",
		Help:      "Faces matched against the roster, by outcome (known/unknown)",
	}, []string{"outcome"})

	AttendanceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "attendance_events_total",
		Help:      "Attendance events committed, by kind",
	}, []string{"kind"})

	DebounceSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "debounce_suppressed_total",
		Help:      "Detections suppressed by the debounce window",
	})

	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "persistence_failures_total",
		Help:      "Store operations that failed or timed out",
	}, []string{"op"})

	RosterSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "presence",
		Name:      "roster_size",
		Help:      "Number of identities in the active roster snapshot",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "presence",
		Name:      "inference_duration_seconds",
		Help:      "Duration of frame processing stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	ReportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "presence",
		Name:      "report_duration_seconds",
		Help:      "Duration of report generation",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	ReportCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "presence",
		Name:      "report_cache_total",
		Help:      "Report cache lookups by result (hit/miss/error)",
	}, []string{"result"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "presence",
		Name:      "queue_depth",
		Help:      "Number of pending frame tasks in queue",
	})

	ActiveCameras = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "presence",
		Name:      "active_cameras",
		Help:      "Number of camera feeds currently ingesting",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "presence",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "presence",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
