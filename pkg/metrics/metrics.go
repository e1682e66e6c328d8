// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// PollsTotal tracks queue polls by outcome (messages, empty, error, skipped, discarded).
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_polls_total",
			Help: "Total conversation polls by result",
		},
		[]string{"result"},
	)

	// PollDuration tracks how long a receive call took.
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_poll_duration_seconds",
			Help:    "Queue receive duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 20},
		},
	)

	// MessagesAdmitted tracks messages appended to conversation logs.
	MessagesAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_messages_admitted_total",
			Help: "Messages admitted into conversation logs",
		},
		[]string{"origin"},
	)

	// MessagesDuplicate tracks polled messages rejected as already known.
	MessagesDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_messages_duplicate_total",
			Help: "Polled messages rejected by dedup",
		},
	)

	// DecodeFailures tracks envelopes that could not be decoded.
	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codec_decode_failures_total",
			Help: "Envelopes dropped because they failed to decode",
		},
	)

	// SendsTotal tracks send attempts by kind (text, image) and status.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_sends_total",
			Help: "Message send attempts",
		},
		[]string{"kind", "status"},
	)

	// UploadsTotal tracks image uploads by status.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_uploads_total",
			Help: "Image uploads to the object store",
		},
		[]string{"status"},
	)

	// ConversationsActive tracks open conversation views.
	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversations_active",
			Help: "Number of open conversation views",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// QueueCallsTotal tracks transport calls by backend, operation and status.
	QueueCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_calls_total",
			Help: "Queue transport calls",
		},
		[]string{"backend", "op", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordQueueCall records the outcome of one transport call.
func RecordQueueCall(backend, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	QueueCallsTotal.WithLabelValues(backend, op, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
