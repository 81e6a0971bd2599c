package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pairchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "route"},
	)

	// Conversations resolved by the locator, labelled by outcome
	// (existing, created, race_lost).
	ConversationsLocated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairchat",
			Subsystem: "locator",
			Name:      "conversations_total",
			Help:      "Conversations located or created",
		},
		[]string{"outcome"},
	)

	LocatorRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pairchat",
			Subsystem: "locator",
			Name:      "retries_total",
			Help:      "Locator attempts retried after a transient failure",
		},
	)

	MessagesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairchat",
			Subsystem: "messages",
			Name:      "written_total",
			Help:      "Messages persisted",
		},
		[]string{"kind"},
	)

	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairchat",
			Subsystem: "feed",
			Name:      "events_total",
			Help:      "Feed events delivered or dropped",
		},
		[]string{"backend", "result"},
	)

	FeedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pairchat",
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Active feed subscriptions",
		},
	)

	ViewTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairchat",
			Subsystem: "sync",
			Name:      "view_transitions_total",
			Help:      "Conversation view state transitions",
		},
		[]string{"to"},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairchat",
			Subsystem: "media",
			Name:      "uploads_total",
			Help:      "Total file uploads",
		},
		[]string{"content_type", "status"},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairchat",
			Subsystem: "media",
			Name:      "upload_bytes_total",
			Help:      "Total bytes uploaded",
		},
		[]string{"content_type"},
	)

	JanitorDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pairchat",
			Subsystem: "janitor",
			Name:      "orphans_deleted_total",
			Help:      "Orphaned conversations removed by the janitor",
		},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, route, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, route, status).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(durationSec)
}

// RecordUpload records a file upload
func RecordUpload(contentType, status string, bytes int64) {
	UploadsTotal.WithLabelValues(contentType, status).Inc()
	if status == "success" {
		UploadBytesTotal.WithLabelValues(contentType).Add(float64(bytes))
	}
}

func RecordFeedEvent(backend, result string) {
	FeedEvents.WithLabelValues(backend, result).Inc()
}
