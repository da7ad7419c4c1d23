package stt

import (
	"context"
	"fmt"
	"io"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/resilience"
)

// DeepgramRecognizer opens streams against Deepgram's live transcription API
type DeepgramRecognizer struct {
	apiKey string
	model  string
	logger zerolog.Logger

	// retryConnect marks failed dials retryable. The SDK already retries
	// internally and does not say why a dial failed.
	retryConnect bool
}

// NewDeepgramRecognizer creates a Deepgram-backed Recognizer
func NewDeepgramRecognizer(apiKey, model string, logger zerolog.Logger) *DeepgramRecognizer {
	return &DeepgramRecognizer{
		apiKey: apiKey,
		model:  model,
		logger: logger.With().Str("component", "deepgram").Logger(),
	}
}

// SetConnectRetry lets the session retry failed dials on top of the SDK's own retries
func (r *DeepgramRecognizer) SetConnectRetry(enabled bool) {
	r.retryConnect = enabled
}

// Name returns the provider name
func (r *DeepgramRecognizer) Name() string {
	return "deepgram"
}

// Open connects a new Deepgram websocket. The connection outlives ctx;
// ctx only bounds the dial.
func (r *DeepgramRecognizer) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          r.model,
		Language:       cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: cfg.InterimResults,
		Encoding:       string(cfg.Encoding),
		Channels:       cfg.Channels,
		SampleRate:     cfg.SampleRate,
	}
	cOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &deepgramStream{
		ctx:          streamCtx,
		cancel:       cancel,
		logger:       r.logger,
		events:       make(chan *Event, 64),
		errs:         make(chan error, 1),
		remoteClosed: make(chan struct{}),
	}

	callback := &deepgramCallback{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		stream:                 s,
	}

	client, err := listenClient.NewWSUsingCallback(streamCtx, r.apiKey, cOptions, tOptions, callback)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	s.client = client

	connected := make(chan bool, 1)
	go func() {
		connected <- client.Connect()
	}()

	select {
	case ok := <-connected:
		if !ok {
			cancel()
			return nil, r.connectError()
		}
	case <-ctx.Done():
		cancel()
		go func() {
			if <-connected {
				client.Stop()
			}
		}()
		return nil, fmt.Errorf("deepgram connect: %w", ctx.Err())
	}

	r.logger.Info().
		Str("model", r.model).
		Str("language", cfg.Language).
		Int("sample_rate", cfg.SampleRate).
		Msg("Deepgram stream connected")
	return s, nil
}

func (r *DeepgramRecognizer) connectError() error {
	err := fmt.Errorf("deepgram websocket connect failed")
	if r.retryConnect {
		return resilience.NewRetryableError(err)
	}
	return err
}

type deepgramStream struct {
	client *listenClient.WSCallback
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events       chan *Event
	errs         chan error
	remoteClosed chan struct{}

	remoteOnce sync.Once
	closeOnce  sync.Once
}

func (s *deepgramStream) SendAudio(ctx context.Context, audio []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	if _, err := s.client.Write(audio); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

func (s *deepgramStream) CloseSend() error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if err := s.client.WriteJSON(map[string]string{"type": "CloseStream"}); err != nil {
		return fmt.Errorf("failed to send CloseStream to Deepgram: %w", err)
	}
	return nil
}

func (s *deepgramStream) Recv(ctx context.Context) (*Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.errs:
		return nil, err
	case <-s.remoteClosed:
		// Message and error callbacks run before the close callback, so anything left is buffered
		select {
		case ev := <-s.events:
			return ev, nil
		default:
		}
		select {
		case err := <-s.errs:
			return nil, err
		default:
		}
		return nil, io.EOF
	case <-s.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *deepgramStream) Close() error {
	s.closeOnce.Do(func() {
		s.client.Stop()
		s.cancel()
		s.logger.Debug().Msg("Deepgram stream closed")
	})
	return nil
}

func (s *deepgramStream) deliver(ev *Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *deepgramStream) fail(err error) {
	select {
	case s.errs <- err:
	default:
		// An earlier error is already pending
	}
}

// deepgramCallback implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need.
type deepgramCallback struct {
	*websocketv1api.DefaultCallbackHandler
	stream *deepgramStream
}

func (c *deepgramCallback) Open(*msginterfaces.OpenResponse) error {
	c.stream.logger.Debug().Msg("Deepgram websocket open")
	return nil
}

// Message forwards transcription results to Recv
func (c *deepgramCallback) Message(msg *msginterfaces.MessageResponse) error {
	if ev := eventFromMessage(msg); ev != nil {
		c.stream.deliver(ev)
	}
	return nil
}

func (c *deepgramCallback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.stream.logger.Debug().Interface("metadata", md).Msg("Deepgram metadata")
	return nil
}

func (c *deepgramCallback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	c.stream.logger.Debug().Msg("Deepgram: speech started")
	return nil
}

func (c *deepgramCallback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.stream.logger.Debug().Msg("Deepgram: utterance ended")
	return nil
}

// Close marks the end of the remote stream
func (c *deepgramCallback) Close(*msginterfaces.CloseResponse) error {
	c.stream.remoteOnce.Do(func() {
		close(c.stream.remoteClosed)
	})
	return nil
}

// Error surfaces service errors through Recv
func (c *deepgramCallback) Error(errorResponse *msginterfaces.ErrorResponse) error {
	c.stream.logger.Error().Interface("error", errorResponse).Msg("Deepgram error")
	c.stream.fail(fmt.Errorf("%w: deepgram: %+v", ErrRemote, errorResponse))
	return nil
}

// eventFromMessage converts a Deepgram results message; other message types yield nil
func eventFromMessage(msg *msginterfaces.MessageResponse) *Event {
	if msg == nil || msg.Type != "Results" {
		return nil
	}
	if len(msg.Channel.Alternatives) == 0 {
		return nil
	}

	alternatives := make([]Alternative, 0, len(msg.Channel.Alternatives))
	for _, alt := range msg.Channel.Alternatives {
		alternatives = append(alternatives, Alternative{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
		})
	}

	start := msg.Start
	duration := msg.Duration
	if top := msg.Channel.Alternatives[0]; len(top.Words) > 0 && duration == 0 {
		// Fallback: calculate timing from words if not provided
		start = top.Words[0].Start
		duration = top.Words[len(top.Words)-1].End - start
	}

	return &Event{
		Segments: []Segment{{
			IsPartial:    !msg.IsFinal,
			Alternatives: alternatives,
			Start:        start,
			Duration:     duration,
		}},
	}
}
