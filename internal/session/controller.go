package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/audio"
	"github.com/lexiqai/live-transcriber/internal/observability"
	"github.com/lexiqai/live-transcriber/internal/resilience"
	"github.com/lexiqai/live-transcriber/internal/stt"
)

const (
	DefaultStartTimeout = 10 * time.Second
	DefaultStopTimeout  = 5 * time.Second
)

// ControllerConfig holds everything fixed for the sessions a controller runs
type ControllerConfig struct {
	Capture audio.CaptureConfig
	Stream  stt.StreamConfig
	Channel audio.ChannelConfig

	// StartTimeout bounds device acquisition plus connection
	StartTimeout time.Duration
	// StopTimeout bounds the graceful drain before duties are cancelled
	StopTimeout time.Duration

	Separator string
	VAD       *audio.VADConfig
	Retry     *resilience.RetryConfig
}

// DefaultControllerConfig returns 16 kHz mono linear PCM in en-US with an unbounded channel
func DefaultControllerConfig() ControllerConfig {
	capture := audio.DefaultCaptureConfig()
	return ControllerConfig{
		Capture: capture,
		Stream: stt.StreamConfig{
			Language:       "en-US",
			SampleRate:     capture.SampleRate,
			Encoding:       stt.EncodingLinear16,
			Channels:       capture.Channels,
			InterimResults: true,
		},
		StartTimeout: DefaultStartTimeout,
		StopTimeout:  DefaultStopTimeout,
	}
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithLogger sets the controller's logger
func WithLogger(logger zerolog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithCircuitBreaker guards recognizer dials with cb
func WithCircuitBreaker(cb *resilience.CircuitBreaker) ControllerOption {
	return func(c *Controller) {
		c.breaker = cb
	}
}

// WithStateListener registers l for every state transition
func WithStateListener(l StateListener) ControllerOption {
	return func(c *Controller) {
		c.listeners = append(c.listeners, l)
	}
}

// run is one Listening session
type run struct {
	id      string
	capture *audio.CaptureSource
	session *TranscriptionSession
	metrics *observability.SessionMetrics
	cancel  context.CancelFunc

	// done is closed once both duties have finished and resources are released; err is set before
	done chan struct{}
	err  error
}

// Controller owns the session lifecycle:
//
//	Idle -> Starting -> Listening -> Stopping -> Idle
//	Starting | Listening -> Failed -> (Reset) -> Idle
//
// Only one session runs at a time.
type Controller struct {
	config     ControllerConfig
	device     audio.Device
	recognizer stt.Recognizer
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
	listeners  []StateListener
	aggregator *Aggregator

	// stopMu serialises Stop and Reset so a second Stop waits for the first teardown
	stopMu sync.Mutex

	// notified is the last transition handed to listeners. Guarded by notifyMu.
	notifyMu sync.Mutex
	notified uint64

	mu        sync.RWMutex
	state     State
	seq       uint64
	err       error
	sessionID string

	// Set while Starting
	startCancel  context.CancelFunc
	startDone    chan struct{}
	abortRequest bool

	current *run
}

// NewController creates an Idle controller
func NewController(cfg ControllerConfig, device audio.Device, recognizer stt.Recognizer, opts ...ControllerOption) *Controller {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	c := &Controller{
		config:     cfg,
		device:     device,
		recognizer: recognizer,
		logger:     observability.GetLogger(),
		aggregator: NewAggregator(cfg.Separator),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = observability.WithComponent(c.logger, "controller")
	return c
}

// Start opens the device and the recognizer stream and begins streaming.
// It is a no-op unless the controller is Idle. A device or connection
// failure leaves the controller Failed and is returned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug().Str("state", state.String()).Msg("Start ignored, controller not idle")
		return nil
	}

	id := uuid.New().String()
	startCtx, cancel := context.WithTimeout(ctx, c.config.StartTimeout)
	startDone := make(chan struct{})
	c.sessionID = id
	c.err = nil
	c.startCancel = cancel
	c.startDone = startDone
	c.abortRequest = false
	c.aggregator.Reset()
	seq := c.setStateLocked(StateStarting)
	c.mu.Unlock()
	c.notify(seq, StateStarting, nil)

	defer close(startDone)
	defer cancel()

	logger := c.logger.With().Str("session_id", id).Logger()
	metrics := observability.NewSessionMetrics(id)

	r, err := c.open(startCtx, id, logger, metrics)

	c.mu.Lock()
	c.startCancel = nil
	aborted := c.abortRequest || (err != nil && errors.Is(ctx.Err(), context.Canceled))
	if aborted {
		c.abortRequest = false
		seq := c.setStateLocked(StateIdle)
		c.mu.Unlock()
		if r != nil {
			r.release()
		}
		metrics.RecordSessionAborted()
		logger.Info().Msg("Session start aborted")
		c.notify(seq, StateIdle, nil)
		return ErrStartAborted
	}
	if err != nil {
		c.err = err
		seq := c.setStateLocked(StateFailed)
		c.mu.Unlock()
		metrics.RecordSessionAborted()
		metrics.RecordError(ErrorKind(err), "controller")
		logger.Error().Err(err).Msg("Session failed to start")
		c.notify(seq, StateFailed, err)
		return err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	r.cancel = runCancel
	c.current = r
	seq = c.setStateLocked(StateListening)
	c.mu.Unlock()

	metrics.RecordSessionStart()
	logger.Info().Msg("Session listening")
	c.notify(seq, StateListening, nil)

	go c.watch(runCtx, r, logger)
	return nil
}

// open acquires the device first so no audio is lost while the stream dials
func (c *Controller) open(ctx context.Context, id string, logger zerolog.Logger, metrics *observability.SessionMetrics) (*run, error) {
	frames := audio.NewChunkChannel(c.config.Channel)
	capture := audio.NewCaptureSource(c.device, c.config.Capture, frames, logger)
	if err := capture.Open(ctx); err != nil {
		capture.Close()
		return nil, err
	}

	sess := NewTranscriptionSession(id, c.recognizer, c.config.Stream, frames, c.aggregator, SessionOptions{
		Logger:  logger,
		Metrics: metrics,
		Breaker: c.breaker,
		Retry:   c.config.Retry,
		VAD:     c.config.VAD,
	})
	if err := sess.Connect(ctx); err != nil {
		capture.Close()
		sess.Close()
		return nil, err
	}

	return &run{
		id:      id,
		capture: capture,
		session: sess,
		metrics: metrics,
		done:    make(chan struct{}),
	}, nil
}

// watch runs the session and handles an end that Stop did not ask for
func (c *Controller) watch(ctx context.Context, r *run, logger zerolog.Logger) {
	err := r.session.Run(ctx)
	r.release()
	r.err = err

	c.mu.Lock()
	if c.state != StateListening || c.current != r {
		// Stop owns the transition
		c.mu.Unlock()
		close(r.done)
		return
	}

	c.current = nil
	if err == nil {
		err = fmt.Errorf("%w: session ended unexpectedly", ErrStream)
	}
	c.err = err
	c.aggregator.DiscardPartial()
	seq := c.setStateLocked(StateFailed)
	c.mu.Unlock()

	r.metrics.RecordSessionEnd("failed")
	logger.Error().Err(err).Str("kind", ErrorKind(err)).Msg("Session failed")
	close(r.done)
	c.notify(seq, StateFailed, err)
}

func (r *run) release() {
	r.capture.Close()
	r.session.Close()
}

// Stop ends the current session and returns once the device and the
// connection are released. It is safe in every state; in Idle and Failed
// it does nothing. A Stop during Starting aborts the start.
// The returned error reports a failure seen while draining; the controller
// still ends up Idle.
func (c *Controller) Stop() error {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case StateStarting:
		c.abortRequest = true
		c.startCancel()
		startDone := c.startDone
		c.mu.Unlock()
		<-startDone
		return nil

	case StateListening:
		r := c.current
		seq := c.setStateLocked(StateStopping)
		c.mu.Unlock()
		c.notify(seq, StateStopping, nil)
		return c.teardown(r)

	default:
		c.mu.Unlock()
		return nil
	}
}

func (c *Controller) teardown(r *run) error {
	logger := c.logger.With().Str("session_id", r.id).Logger()

	// Closing the capture source closes the chunk channel; the send duty
	// drains what is queued and half-closes the stream
	r.capture.Close()

	timer := time.NewTimer(c.config.StopTimeout)
	select {
	case <-r.done:
		timer.Stop()
	case <-timer.C:
		logger.Warn().Dur("timeout", c.config.StopTimeout).Msg("Graceful drain timed out, cancelling session")
		r.cancel()
		<-r.done
	}
	r.cancel()

	err := r.err
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	c.mu.Lock()
	c.current = nil
	c.aggregator.DiscardPartial()
	seq := c.setStateLocked(StateIdle)
	c.mu.Unlock()

	r.metrics.RecordSessionEnd("stopped")
	if err != nil {
		logger.Warn().Err(err).Msg("Session stopped with error")
	} else {
		logger.Info().Msg("Session stopped")
	}
	c.notify(seq, StateIdle, nil)
	return err
}

// Reset acknowledges a failure and returns the controller to Idle.
// The finalized transcript stays readable until the next Start.
func (c *Controller) Reset() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	c.mu.Lock()
	if c.state != StateFailed {
		c.mu.Unlock()
		return
	}
	c.err = nil
	seq := c.setStateLocked(StateIdle)
	c.mu.Unlock()
	c.notify(seq, StateIdle, nil)
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the error that moved the controller to Failed, if any
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// SessionID returns the ID of the current or most recent session
func (c *Controller) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Transcript returns the finalized and partial text of the current or most recent session
func (c *Controller) Transcript() Transcript {
	return c.aggregator.Snapshot()
}

// Changed returns a channel closed on the next transcript change
func (c *Controller) Changed() <-chan struct{} {
	return c.aggregator.Changed()
}

// setStateLocked records a transition and returns its sequence number. Caller holds mu.
func (c *Controller) setStateLocked(state State) uint64 {
	c.state = state
	c.seq++
	observability.UpdateSessionState(int(state))
	return c.seq
}

// notify hands transition seq to the listeners. A transition that lost the
// race to a later one is dropped, so listeners never go back to a stale state.
func (c *Controller) notify(seq uint64, state State, err error) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.notified {
		return
	}
	c.notified = seq
	for _, l := range c.listeners {
		l(state, err)
	}
}
