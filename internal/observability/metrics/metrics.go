// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clinical_scribe"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Panel metrics
	PanelsOpen   prometheus.Gauge
	PanelsOpened prometheus.Counter
	PanelsClosed *prometheus.CounterVec
	SaveDuration prometheus.Histogram
	SaveFailures *prometheus.CounterVec
	StoreWrites  *prometheus.CounterVec
	DraftWrites  *prometheus.CounterVec

	// Session metrics
	SessionsStarted    prometheus.Counter
	SessionsActive     prometheus.Gauge
	SessionStartFailed *prometheus.CounterVec
	StatusTransitions  *prometheus.CounterVec
	Reconnects         *prometheus.CounterVec
	SessionDuration    prometheus.Histogram

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Audio metrics
	AudioBytesCaptured prometheus.Counter
	AudioBytesSent     prometheus.Counter
	AudioBytesDropped  *prometheus.CounterVec

	// STT metrics
	STTKeepAlives     prometheus.Counter
	STTErrors         *prometheus.CounterVec
	STTUtteranceCount prometheus.Counter
	STTClosures       *prometheus.CounterVec

	// Alert metrics
	AlertsRaised      *prometheus.CounterVec
	AlertsSuppressed  prometheus.Counter
	AlertEvalFailures prometheus.Counter
	AlertEvalLatency  prometheus.Histogram

	// Clinical engine metrics
	EngineCalls   *prometheus.CounterVec
	EngineLatency *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
	EventsDropped       *prometheus.CounterVec

	// gRPC metrics
	RPCs *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics. It registers
// against the default registry, so it must only be called once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		PanelsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "panels_open",
			Help:      "Number of currently open consultation panels",
		}),
		PanelsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panels_opened_total",
			Help:      "Total number of consultation panels opened",
		}),
		PanelsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panels_closed_total",
			Help:      "Total number of consultation panels closed",
		}, []string{"outcome"}),
		SaveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "save_duration_seconds",
			Help:      "Duration of consultation saves in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		SaveFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_failures_total",
			Help:      "Total number of failed consultation sub-writes",
		}, []string{"field"}),
		StoreWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Total number of persistence writes",
		}, []string{"op", "result"}),
		DraftWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_writes_total",
			Help:      "Total number of local draft writes",
		}, []string{"op", "result"}),

		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of transcription sessions currently holding resources",
		}),
		SessionStartFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_start_failures_total",
			Help:      "Total number of failed session starts",
		}, []string{"reason"}),
		StatusTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total number of session status transitions",
		}, []string{"from", "to"}),
		Reconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_reconnects_total",
			Help:      "Total number of reconnection attempts",
		}, []string{"result"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of transcription sessions in seconds",
			Buckets:   []float64{1, 5, 30, 60, 300, 600, 1200, 1800, 3600},
		}),

		TranscriptsPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcripts received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),

		AudioBytesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_captured_total",
			Help:      "Total audio bytes accepted from capture devices",
		}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total audio bytes forwarded to the recognition service",
		}),
		AudioBytesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_dropped_total",
			Help:      "Total audio bytes dropped before forwarding",
		}, []string{"reason"}),

		STTKeepAlives: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_keepalives_total",
			Help:      "Total number of keep-alive control messages sent",
		}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),
		STTUtteranceCount: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_utterances_total",
			Help:      "Total number of utterance-end events",
		}),
		STTClosures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_closures_total",
			Help:      "Total number of recognition connection closures",
		}, []string{"kind"}),

		AlertsRaised: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Total number of alerts surfaced",
		}, []string{"severity"}),
		AlertsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Total number of duplicate alerts suppressed",
		}),
		AlertEvalFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_evaluation_failures_total",
			Help:      "Total number of failed alert evaluations",
		}),
		AlertEvalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alert_evaluation_latency_seconds",
			Help:      "Alert evaluation latency in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
		}),

		EngineCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_calls_total",
			Help:      "Total number of clinical engine calls",
		}, []string{"endpoint", "result"}),
		EngineLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_latency_seconds",
			Help:      "Clinical engine call latency in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),

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
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of outbound events dropped",
		}, []string{"sink", "reason"}),
		RPCs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls served by method and status code",
		}, []string{"method", "code"}),
	}
}

// RecordPanelOpened records a consultation panel opening.
func (m *Metrics) RecordPanelOpened() {
	m.PanelsOpened.Inc()
	m.PanelsOpen.Inc()
}

// RecordPanelClosed records a panel closing with the given outcome
// (saved, discarded, unmounted).
func (m *Metrics) RecordPanelClosed(outcome string) {
	m.PanelsOpen.Dec()
	m.PanelsClosed.WithLabelValues(outcome).Inc()
}

// RecordSave records a save attempt and its failed sub-writes.
func (m *Metrics) RecordSave(durationSeconds float64, failed []string) {
	m.SaveDuration.Observe(durationSeconds)
	for _, f := range failed {
		m.SaveFailures.WithLabelValues(f).Inc()
	}
}

// RecordStoreWrite records a persistence write.
func (m *Metrics) RecordStoreWrite(op string, err error) {
	m.StoreWrites.WithLabelValues(op, result(err)).Inc()
}

// RecordDraftWrite records a draft store operation.
func (m *Metrics) RecordDraftWrite(op string, err error) {
	m.DraftWrites.WithLabelValues(op, result(err)).Inc()
}

// RecordSessionStart records a session acquiring its resources.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session releasing its resources.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordStartFailed records a failed session start.
func (m *Metrics) RecordStartFailed(reason string) {
	m.SessionStartFailed.WithLabelValues(reason).Inc()
}

// RecordTransition records a session status change.
func (m *Metrics) RecordTransition(from, to string) {
	m.StatusTransitions.WithLabelValues(from, to).Inc()
}

// RecordReconnect records a reconnection attempt outcome.
func (m *Metrics) RecordReconnect(err error) {
	m.Reconnects.WithLabelValues(result(err)).Inc()
}

// RecordPartialTranscript records a partial transcript received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordAudioCaptured records bytes accepted into a capture buffer.
func (m *Metrics) RecordAudioCaptured(bytes int) {
	m.AudioBytesCaptured.Add(float64(bytes))
}

// RecordAudioSent records bytes forwarded to the recognition service.
func (m *Metrics) RecordAudioSent(bytes int) {
	m.AudioBytesSent.Add(float64(bytes))
}

// RecordAudioDropped records audio bytes that were discarded.
func (m *Metrics) RecordAudioDropped(reason string, bytes int) {
	m.AudioBytesDropped.WithLabelValues(reason).Add(float64(bytes))
}

// RecordKeepAlive records a keep-alive control message.
func (m *Metrics) RecordKeepAlive() {
	m.STTKeepAlives.Inc()
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordUtterance records an utterance boundary detection.
func (m *Metrics) RecordUtterance() {
	m.STTUtteranceCount.Inc()
}

// RecordClosure records a connection closure as normal or abnormal.
func (m *Metrics) RecordClosure(normal bool) {
	kind := "abnormal"
	if normal {
		kind = "normal"
	}
	m.STTClosures.WithLabelValues(kind).Inc()
}

// RecordAlert records a surfaced alert.
func (m *Metrics) RecordAlert(severity string) {
	m.AlertsRaised.WithLabelValues(severity).Inc()
}

// RecordAlertSuppressed records a duplicate alert that was not surfaced.
func (m *Metrics) RecordAlertSuppressed() {
	m.AlertsSuppressed.Inc()
}

// RecordAlertEvaluation records an alert evaluation round.
func (m *Metrics) RecordAlertEvaluation(err error, latencySeconds float64) {
	m.AlertEvalLatency.Observe(latencySeconds)
	if err != nil {
		m.AlertEvalFailures.Inc()
	}
}

// RecordEngineCall records a clinical engine call.
func (m *Metrics) RecordEngineCall(endpoint string, err error, latencySeconds float64) {
	m.EngineCalls.WithLabelValues(endpoint, result(err)).Inc()
	m.EngineLatency.WithLabelValues(endpoint).Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordEventDropped records an outbound event that a sink discarded.
func (m *Metrics) RecordEventDropped(sink, reason string) {
	m.EventsDropped.WithLabelValues(sink, reason).Inc()
}

// RecordRPC records a served gRPC call.
func (m *Metrics) RecordRPC(method, code string) {
	m.RPCs.WithLabelValues(method, code).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
