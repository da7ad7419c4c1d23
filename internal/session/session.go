package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/live-transcriber/internal/audio"
	"github.com/lexiqai/live-transcriber/internal/observability"
	"github.com/lexiqai/live-transcriber/internal/resilience"
	"github.com/lexiqai/live-transcriber/internal/stt"
)

// SessionOptions carries the optional collaborators of a TranscriptionSession
type SessionOptions struct {
	Logger  zerolog.Logger
	Metrics *observability.SessionMetrics
	Breaker *resilience.CircuitBreaker
	Retry   *resilience.RetryConfig
	VAD     *audio.VADConfig
}

// TranscriptionSession owns one recognizer stream. Its send duty drains the
// chunk channel upstream while its receive duty feeds the aggregator.
type TranscriptionSession struct {
	id         string
	recognizer stt.Recognizer
	config     stt.StreamConfig
	frames     *audio.ChunkChannel
	aggregator *Aggregator

	logger  zerolog.Logger
	metrics *observability.SessionMetrics
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	vad     *audio.VADDetector

	// sendClosed is set before CloseSend so the receive duty can tell a
	// requested end of stream from a remote hang-up
	sendClosed atomic.Bool

	mu           sync.Mutex
	stream       stt.Stream
	streamClosed bool
}

// NewTranscriptionSession creates a session; Connect must succeed before Run
func NewTranscriptionSession(
	id string,
	recognizer stt.Recognizer,
	cfg stt.StreamConfig,
	frames *audio.ChunkChannel,
	aggregator *Aggregator,
	opts SessionOptions,
) *TranscriptionSession {
	s := &TranscriptionSession{
		id:         id,
		recognizer: recognizer,
		config:     cfg,
		frames:     frames,
		aggregator: aggregator,
		logger:     observability.WithComponent(opts.Logger, "session"),
		metrics:    opts.Metrics,
		breaker:    opts.Breaker,
		retry:      opts.Retry,
	}
	if s.metrics == nil {
		s.metrics = observability.NewSessionMetrics(id)
	}
	if opts.VAD != nil {
		s.vad = audio.NewVADDetector(*opts.VAD)
	}
	return s
}

// ID returns the session ID
func (s *TranscriptionSession) ID() string {
	return s.id
}

// Connect opens the recognizer stream. Transient dial failures are retried
// until ctx ends; the final failure wraps ErrConnection.
func (s *TranscriptionSession) Connect(ctx context.Context) error {
	s.metrics.RecordConnectStart()

	var stream stt.Stream
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return s.guard(func() error {
			st, err := s.recognizer.Open(ctx, s.config)
			if err != nil {
				s.logger.Warn().Err(err).Str("provider", s.recognizer.Name()).Msg("Recognizer dial failed")
				return err
			}
			stream = st
			return nil
		})
	}, s.retry, isRetryableDial)
	if err != nil {
		s.metrics.RecordConnectEnd(false)
		return fmt.Errorf("%w: %s: %w", ErrConnection, s.recognizer.Name(), err)
	}
	s.metrics.RecordConnectEnd(true)

	s.mu.Lock()
	if s.streamClosed {
		s.mu.Unlock()
		stream.Close()
		return fmt.Errorf("%w: session closed while connecting", ErrConnection)
	}
	s.stream = stream
	s.mu.Unlock()

	s.logger.Info().
		Str("provider", s.recognizer.Name()).
		Str("language", s.config.Language).
		Int("sample_rate", s.config.SampleRate).
		Msg("Recognizer stream opened")
	return nil
}

func (s *TranscriptionSession) guard(fn func() error) error {
	if s.breaker == nil {
		return fn()
	}
	return s.breaker.Call(fn)
}

func isRetryableDial(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	return resilience.IsRetryableNetworkError(err)
}

// Run runs both duties and returns once both have finished.
// The first duty to fail cancels the other and closes the stream.
// A nil result means the chunk channel was closed and the service
// flushed its last results.
func (s *TranscriptionSession) Run(ctx context.Context) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("%w: session is not connected", ErrStream)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Unblocks a duty stuck in network I/O once the group is cancelled
	stop := context.AfterFunc(gctx, func() {
		s.Close()
	})
	defer stop()

	g.Go(func() error {
		return s.sendLoop(gctx, stream)
	})
	g.Go(func() error {
		return s.receiveLoop(gctx, stream)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("Transcription session failed")
		s.metrics.RecordError(ErrorKind(err), "session")
	}
	return err
}

func (s *TranscriptionSession) sendLoop(ctx context.Context, stream stt.Stream) error {
	var lastSeq uint64

	for {
		frame, err := s.frames.Pop(ctx)
		if err != nil {
			if errors.Is(err, audio.ErrDeviceUnavailable) {
				return err
			}
			if errors.Is(err, audio.ErrChannelClosed) {
				return s.finishSend(stream)
			}
			return err
		}

		if lastSeq != 0 && frame.Sequence != lastSeq+1 {
			s.logger.Warn().
				Uint64("expected_seq", lastSeq+1).
				Uint64("seq", frame.Sequence).
				Msg("Audio frame sequence gap")
			s.metrics.RecordError("sequence_gap", "audio")
		}
		lastSeq = frame.Sequence

		s.observeSpeech(frame)

		if err := stream.SendAudio(ctx, frame.Samples); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: send frame %d: %w", ErrStream, frame.Sequence, err)
		}
		s.metrics.RecordFrameSent(len(frame.Samples))
	}
}

func (s *TranscriptionSession) finishSend(stream stt.Stream) error {
	if s.vad != nil && s.vad.IsSpeaking() {
		observability.SetSpeechActive(false)
	}
	s.sendClosed.Store(true)
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("%w: close send: %w", ErrStream, err)
	}
	s.logger.Debug().Msg("Audio stream ended, waiting for final results")
	return nil
}

func (s *TranscriptionSession) observeSpeech(frame audio.AudioFrame) {
	if s.vad == nil {
		return
	}
	switch s.vad.ProcessFrame(frame.Samples) {
	case audio.VADSpeechStarted:
		s.logger.Debug().Uint64("seq", frame.Sequence).Msg("Speech started")
		observability.SetSpeechActive(true)
	case audio.VADSpeechEnded:
		s.logger.Debug().Uint64("seq", frame.Sequence).Msg("Speech ended")
		observability.SetSpeechActive(false)
	}
}

func (s *TranscriptionSession) receiveLoop(ctx context.Context, stream stt.Stream) error {
	for {
		ev, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				if s.sendClosed.Load() {
					return nil
				}
				return fmt.Errorf("%w: recognizer closed the stream", ErrStream)
			}
			return fmt.Errorf("%w: receive: %w", ErrStream, err)
		}

		for _, seg := range ev.Segments {
			s.aggregator.Apply(seg)
			s.metrics.RecordSegment(seg.IsPartial)
			if !seg.IsPartial {
				s.logger.Debug().Str("text", seg.Text()).Msg("Final transcript segment")
			}
		}
	}
}

// Close releases the stream. Safe to call more than once and before Connect.
func (s *TranscriptionSession) Close() error {
	s.mu.Lock()
	if s.streamClosed {
		s.mu.Unlock()
		return nil
	}
	s.streamClosed = true
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	return stream.Close()
}
