// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "transcript_worker"

// Metrics holds all Prometheus metrics for the worker.
type Metrics struct {
	// Capture metrics
	CaptureBytes    *prometheus.CounterVec
	CaptureFailures *prometheus.CounterVec
	ChannelsActive  prometheus.Gauge

	// Gate metrics
	GateDropped *prometheus.CounterVec

	// Session metrics
	SessionsOpened  *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionRestarts *prometheus.CounterVec
	SessionBackoff  prometheus.Histogram
	STTErrors       *prometheus.CounterVec

	// Transcript metrics
	TranscriptsInterim    *prometheus.CounterVec
	TranscriptsFinal      *prometheus.CounterVec
	TranscriptsSuppressed prometheus.Counter
	UtteranceDuration     prometheus.Histogram

	// Channel state metrics
	Extractions     *prometheus.CounterVec
	SpeakerExpiries prometheus.Counter
	Commands        *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Live subscriber metrics
	SubscribersActive prometheus.Gauge
	SubscriberDropped prometheus.Counter

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
	GRPCLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Capture metrics
		CaptureBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_bytes_total",
			Help:      "Total PCM bytes captured",
		}, []string{"channel"}),
		CaptureFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_failures_total",
			Help:      "Total number of fatal capture backend failures",
		}, []string{"channel", "driver"}),
		ChannelsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels_active",
			Help:      "Number of channels with a running pipeline",
		}),

		// Gate metrics
		GateDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_dropped_chunks_total",
			Help:      "Audio chunks not forwarded to recognition",
		}, []string{"channel", "reason"}),

		// Session metrics
		SessionsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total number of recognition connections opened",
		}, []string{"channel"}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of recognition connections currently streaming",
		}),
		SessionRestarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_restarts_total",
			Help:      "Total number of recognition session restarts",
		}, []string{"channel", "reason"}),
		SessionBackoff: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_backoff_seconds",
			Help:      "Backoff delay applied before reconnecting",
			Buckets:   []float64{1, 2, 4, 8, 16, 30},
		}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		// Transcript metrics
		TranscriptsInterim: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_interim_total",
			Help:      "Total number of interim results received",
		}, []string{"channel"}),
		TranscriptsFinal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final results received",
		}, []string{"channel"}),
		TranscriptsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_suppressed_total",
			Help:      "Results dropped while publishing was stopped",
		}),
		UtteranceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Spoken duration of final results",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),

		// Channel state metrics
		Extractions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phrase_extractions_total",
			Help:      "Phrase extraction attempts by outcome",
		}, []string{"outcome"}),
		SpeakerExpiries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speaker_tag_expiries_total",
			Help:      "Speaker tags cleared after their TTL",
		}),
		Commands: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled by type and outcome",
		}, []string{"type", "outcome"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Live subscriber metrics
		SubscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers_active",
			Help:      "Number of connected websocket event subscribers",
		}),
		SubscriberDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_subscriber_dropped_total",
			Help:      "Events dropped for slow websocket subscribers",
		}),

		// gRPC metrics
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total gRPC calls handled",
		}, []string{"method", "code"}),
		GRPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordCaptured records PCM bytes read from a capture backend.
func (m *Metrics) RecordCaptured(channel, bytes int) {
	m.CaptureBytes.WithLabelValues(strconv.Itoa(channel)).Add(float64(bytes))
}

// RecordCaptureFailure records a fatal capture failure.
func (m *Metrics) RecordCaptureFailure(channel int, driver string) {
	m.CaptureFailures.WithLabelValues(strconv.Itoa(channel), driver).Inc()
}

// RecordGateDrop records a chunk the gate did not forward.
func (m *Metrics) RecordGateDrop(channel int, reason string) {
	m.GateDropped.WithLabelValues(strconv.Itoa(channel), reason).Inc()
}

// RecordSessionOpened records a recognition connection reaching Streaming.
func (m *Metrics) RecordSessionOpened(channel int) {
	m.SessionsOpened.WithLabelValues(strconv.Itoa(channel)).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionClosed records a streaming connection ending.
func (m *Metrics) RecordSessionClosed() {
	m.SessionsActive.Dec()
}

// RecordSessionRestart records a restart and its cause.
func (m *Metrics) RecordSessionRestart(channel int, reason string) {
	m.SessionRestarts.WithLabelValues(strconv.Itoa(channel), reason).Inc()
}

// RecordBackoff records a reconnect delay.
func (m *Metrics) RecordBackoff(seconds float64) {
	m.SessionBackoff.Observe(seconds)
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordInterimTranscript records an interim result received.
func (m *Metrics) RecordInterimTranscript(channel int) {
	m.TranscriptsInterim.WithLabelValues(strconv.Itoa(channel)).Inc()
}

// RecordFinalTranscript records a final result and its spoken duration.
func (m *Metrics) RecordFinalTranscript(channel int, durationSeconds float64) {
	m.TranscriptsFinal.WithLabelValues(strconv.Itoa(channel)).Inc()
	if durationSeconds > 0 {
		m.UtteranceDuration.Observe(durationSeconds)
	}
}

// RecordSuppressed records a result dropped while publishing was stopped.
func (m *Metrics) RecordSuppressed() {
	m.TranscriptsSuppressed.Inc()
}

// RecordExtraction records a phrase extraction outcome.
func (m *Metrics) RecordExtraction(outcome string) {
	m.Extractions.WithLabelValues(outcome).Inc()
}

// RecordSpeakerExpired records a speaker tag cleared by TTL.
func (m *Metrics) RecordSpeakerExpired() {
	m.SpeakerExpiries.Inc()
}

// RecordCommand records a handled command.
func (m *Metrics) RecordCommand(commandType string, err error) {
	outcome := "applied"
	if err != nil {
		outcome = "rejected"
	}
	m.Commands.WithLabelValues(commandType, outcome).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCCall records a completed gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string, seconds float64) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
	m.GRPCLatency.WithLabelValues(method).Observe(seconds)
}
