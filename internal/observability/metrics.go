package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_transcriber_active_sessions",
		Help: "Number of transcription sessions currently streaming",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_sessions_total",
		Help: "Total number of transcription sessions by outcome",
	}, []string{"outcome"}) // outcome: "stopped", "failed", "aborted"

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_transcriber_session_duration_seconds",
		Help:    "Duration of transcription sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	sessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_transcriber_session_state",
		Help: "Controller state (0=idle, 1=starting, 2=listening, 3=stopping, 4=failed)",
	})

	// Pipeline metrics
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_frames_total",
		Help: "Total number of audio frames per pipeline stage",
	}, []string{"stage"}) // stage: "captured", "sent"

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_frames_dropped_total",
		Help: "Total number of audio frames dropped",
	}, []string{"reason"}) // reason: "overflow", "closed"

	channelDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_transcriber_chunk_channel_depth",
		Help: "Number of audio frames waiting to be sent",
	})

	deviceStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_device_status_total",
		Help: "Number of capture callbacks that reported a non-ok device status",
	}, []string{"status"})

	speechActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_transcriber_speech_active",
		Help: "1 while the voice activity detector hears speech",
	})

	// Recognition metrics
	segmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_segments_total",
		Help: "Total number of recognition segments received",
	}, []string{"kind"}) // kind: "partial", "final"

	firstResultLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_transcriber_first_result_latency_seconds",
		Help:    "Time from session start to the first recognition result",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	connectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_transcriber_connect_latency_seconds",
		Help:    "Time to open the recognizer stream",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "live_transcriber_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_transcriber_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "captured" or "sent"
)

// SessionMetrics tracks metrics for a single transcription session
type SessionMetrics struct {
	sessionID    string
	startTime    time.Time
	connectStart time.Time
	firstResult  bool
	mu           sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// SessionID returns the session this tracker belongs to
func (m *SessionMetrics) SessionID() string {
	return m.sessionID
}

// RecordSessionStart records that the session reached Listening
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session that reached Listening
func (m *SessionMetrics) RecordSessionEnd(outcome string) {
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSessionAborted records a session that never reached Listening
func (m *SessionMetrics) RecordSessionAborted() {
	sessionsTotal.WithLabelValues("aborted").Inc()
}

// RecordConnectStart records the start of a recognizer dial
func (m *SessionMetrics) RecordConnectStart() {
	m.mu.Lock()
	m.connectStart = time.Now()
	m.mu.Unlock()
}

// RecordConnectEnd records the end of a recognizer dial
func (m *SessionMetrics) RecordConnectEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connectStart.IsZero() {
		connectLatency.Observe(time.Since(m.connectStart).Seconds())
	}
	if !success {
		errorsTotal.WithLabelValues("connect", "stt").Inc()
	}
}

// RecordSegment records a received segment and, once per session, the first-result latency
func (m *SessionMetrics) RecordSegment(partial bool) {
	kind := "final"
	if partial {
		kind = "partial"
	}
	segmentsTotal.WithLabelValues(kind).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.firstResult {
		m.firstResult = true
		firstResultLatency.Observe(time.Since(m.startTime).Seconds())
	}
}

// RecordFrameSent records a frame written to the recognizer
func (m *SessionMetrics) RecordFrameSent(bytes int) {
	framesTotal.WithLabelValues("sent").Inc()
	audioBytesProcessed.WithLabelValues("sent").Add(float64(bytes))
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordFrameCaptured records a frame delivered by the capture device
func RecordFrameCaptured(bytes int) {
	framesTotal.WithLabelValues("captured").Inc()
	audioBytesProcessed.WithLabelValues("captured").Add(float64(bytes))
}

// RecordFramesDropped records frames discarded by the chunk channel
func RecordFramesDropped(reason string, n int) {
	framesDropped.WithLabelValues(reason).Add(float64(n))
}

// SetChannelDepth updates the chunk channel depth gauge
func SetChannelDepth(depth int) {
	channelDepth.Set(float64(depth))
}

// RecordDeviceStatus counts a non-ok device status flag
func RecordDeviceStatus(status string) {
	deviceStatus.WithLabelValues(status).Inc()
}

// SetSpeechActive updates the voice activity gauge
func SetSpeechActive(active bool) {
	v := 0.0
	if active {
		v = 1
	}
	speechActive.Set(v)
}

// UpdateSessionState updates the controller state gauge
func UpdateSessionState(state int) {
	sessionState.Set(float64(state))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
