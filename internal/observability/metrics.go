package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicewire_active_connections",
		Help: "Number of active client connections",
	})

	totalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicewire_connections_total",
		Help: "Total number of client connections handled",
	})

	// Stream metrics
	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicewire_active_streams",
		Help: "Number of active synthesis streams",
	})

	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicewire_streams_total",
		Help: "Total synthesis streams by terminal state",
	}, []string{"state"}) // completed, cancelled, failed

	streamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicewire_stream_duration_seconds",
		Help:    "Duration of synthesis streams in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	chunksEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicewire_chunks_total",
		Help: "Total audio chunks by outcome",
	}, []string{"outcome"}) // emitted, failed

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicewire_synthesis_requests_total",
		Help: "Total number of TTS synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicewire_synthesis_latency_seconds",
		Help:    "TTS synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	synthesisRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicewire_synthesis_retries_total",
		Help: "Total number of TTS synthesis retry attempts",
	})

	// STT metrics
	sttResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicewire_stt_results_total",
		Help: "Transcription results received, by finality",
	}, []string{"finality"})

	// Playback queue metrics
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicewire_playback_queue_depth",
		Help: "Current depth of the playback queue",
	})

	queueRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicewire_playback_queue_rejections_total",
		Help: "Enqueue attempts rejected due to backpressure",
	})

	decodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicewire_playback_decode_failures_total",
		Help: "Audio chunks dropped due to decode failure",
	})

	// Voice activity metrics
	utterancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicewire_utterances_total",
		Help: "Total utterances segmented from captured audio",
	})

	utteranceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicewire_utterance_duration_seconds",
		Help:    "Duration of detected utterances in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicewire_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicewire_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicewire_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicewire_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single connection
type Metrics struct {
	connectionID   string
	startTime      time.Time
	streamStart    time.Time
	synthesisStart time.Time
	mu             sync.Mutex
}

// NewConnectionMetrics creates a new metrics tracker for a connection
func NewConnectionMetrics(connectionID string) *Metrics {
	return &Metrics{
		connectionID: connectionID,
		startTime:    time.Now(),
	}
}

// RecordConnectionStart records a new connection
func (m *Metrics) RecordConnectionStart() {
	activeConnections.Inc()
	totalConnections.Inc()
}

// RecordConnectionEnd records the end of a connection
func (m *Metrics) RecordConnectionEnd() {
	activeConnections.Dec()
}

// RecordStreamStart records the start of a synthesis stream
func (m *Metrics) RecordStreamStart() {
	m.mu.Lock()
	m.streamStart = time.Now()
	m.mu.Unlock()
	activeStreams.Inc()
}

// RecordStreamEnd records a stream reaching a terminal state
// (completed, cancelled or failed)
func (m *Metrics) RecordStreamEnd(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	activeStreams.Dec()
	streamsTotal.WithLabelValues(state).Inc()
	if !m.streamStart.IsZero() {
		streamDuration.Observe(time.Since(m.streamStart).Seconds())
	}
}

// RecordChunk records the outcome of one chunk ("emitted" or "failed")
func (m *Metrics) RecordChunk(outcome string) {
	chunksEmitted.WithLabelValues(outcome).Inc()
}

// RecordSynthesisStart records the start of a TTS call
func (m *Metrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.synthesisStart = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records the end of a TTS call
func (m *Metrics) RecordSynthesisEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synthesisStart.IsZero() {
		synthesisLatency.Observe(time.Since(m.synthesisStart).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status).Inc()
}

// RecordSTTResult records a transcription result received from the backend
func RecordSTTResult(final bool) {
	status := "interim"
	if final {
		status = "final"
	}
	sttResults.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordSynthesisRetry increments the synthesis retry counter
func RecordSynthesisRetry() {
	synthesisRetries.Inc()
}

// SetQueueDepth updates the playback queue depth gauge
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// RecordQueueRejection records an enqueue rejected by backpressure
func RecordQueueRejection() {
	queueRejections.Inc()
}

// RecordDecodeFailure records a chunk dropped due to decode failure
func RecordDecodeFailure() {
	decodeFailures.Inc()
}

// RecordUtterance records a completed utterance and its duration
func RecordUtterance(duration time.Duration) {
	utterancesTotal.Inc()
	utteranceDuration.Observe(duration.Seconds())
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
