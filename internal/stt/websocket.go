package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/resilience"
)

const (
	pingInterval = 20 * time.Second
	writeTimeout = 10 * time.Second
)

// Control messages exchanged with a generic streaming recognizer.
// Audio itself travels as binary frames.
type startStreamMessage struct {
	Type           string `json:"type"`
	Language       string `json:"language"`
	SampleRate     int    `json:"sample_rate"`
	Encoding       string `json:"encoding"`
	Channels       int    `json:"channels"`
	InterimResults bool   `json:"interim_results"`
}

type closeStreamMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type    string    `json:"type"`
	Results []Segment `json:"results"`
	Code    int       `json:"code"`
	Message string    `json:"message"`
}

// WebSocketRecognizer speaks a small JSON-over-websocket protocol:
// StartStream, binary audio, CloseStream upstream; Transcript and Error downstream.
type WebSocketRecognizer struct {
	url    string
	apiKey string
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewWebSocketRecognizer creates a Recognizer for the service at url
func NewWebSocketRecognizer(url, apiKey string, logger zerolog.Logger) *WebSocketRecognizer {
	return &WebSocketRecognizer{
		url:    url,
		apiKey: apiKey,
		dialer: websocket.DefaultDialer,
		logger: logger.With().Str("component", "ws-recognizer").Logger(),
	}
}

// Name returns the provider name
func (r *WebSocketRecognizer) Name() string {
	return "websocket"
}

// Open dials the service and sends the stream configuration
func (r *WebSocketRecognizer) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	header := http.Header{}
	if r.apiKey != "" {
		header.Set("Authorization", fmt.Sprintf("Token %s", r.apiKey))
	}

	conn, resp, err := r.dialer.DialContext(ctx, r.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 500 {
			err = resilience.NewRetryableError(fmt.Errorf("%w (status %d)", err, resp.StatusCode))
		}
		return nil, fmt.Errorf("failed to connect to recognizer: %w", err)
	}

	start := startStreamMessage{
		Type:           "StartStream",
		Language:       cfg.Language,
		SampleRate:     cfg.SampleRate,
		Encoding:       string(cfg.Encoding),
		Channels:       cfg.Channels,
		InterimResults: cfg.InterimResults,
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send StartStream message: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &wsStream{
		conn:   conn,
		logger: r.logger,
		ctx:    streamCtx,
		cancel: cancel,
		events: make(chan *Event, 16),
	}
	go s.readLoop()
	go s.keepAlive()

	r.logger.Info().Str("url", r.url).Str("language", cfg.Language).Msg("Recognizer stream connected")
	return s, nil
}

type wsStream struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	// events is closed by readLoop after readErr is set
	events  chan *Event
	readErr error

	closeOnce sync.Once
}

func (s *wsStream) SendAudio(ctx context.Context, audio []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.write(websocket.BinaryMessage, audio)
}

func (s *wsStream) CloseSend() error {
	payload, err := json.Marshal(closeStreamMessage{Type: "CloseStream"})
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, payload)
}

func (s *wsStream) write(messageType int, data []byte) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write to recognizer: %w", err)
	}
	return nil
}

func (s *wsStream) Recv(ctx context.Context) (*Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, s.readErr
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) readLoop() {
	defer close(s.events)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = s.classifyReadError(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.readErr = fmt.Errorf("malformed recognizer message: %w", err)
			s.conn.Close()
			return
		}

		switch msg.Type {
		case "Transcript":
			if len(msg.Results) == 0 {
				continue
			}
			select {
			case s.events <- &Event{Segments: msg.Results}:
			case <-s.ctx.Done():
				s.readErr = ErrClosed
				return
			}
		case "Error":
			s.readErr = fmt.Errorf("%w: code %d: %s", ErrRemote, msg.Code, msg.Message)
			s.conn.Close()
			return
		default:
			s.logger.Debug().Str("type", msg.Type).Msg("Ignoring recognizer message")
		}
	}
}

func (s *wsStream) classifyReadError(err error) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	if websocket.IsCloseError(err, websocket.CloseAbnormalClosure) {
		return fmt.Errorf("recognizer connection lost: %w", err)
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("%w: closed with code %d: %s", ErrRemote, closeErr.Code, closeErr.Text)
	}
	return fmt.Errorf("recognizer read failed: %w", err)
}

func (s *wsStream) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}
