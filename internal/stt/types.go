package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRemote is wrapped by errors the recognition service reports in-band
	ErrRemote = errors.New("recognizer reported an error")

	// ErrClosed is returned by stream operations after Close
	ErrClosed = errors.New("recognizer stream closed")
)

// Encoding names the audio encoding sent upstream
type Encoding string

// EncodingLinear16 is 16-bit signed little-endian PCM
const EncodingLinear16 Encoding = "linear16"

// StreamConfig is fixed for the lifetime of one stream; there is no renegotiation
type StreamConfig struct {
	Language       string
	SampleRate     int
	Encoding       Encoding
	Channels       int
	InterimResults bool
}

// Validate checks the parameters the recognizer needs
func (c StreamConfig) Validate() error {
	if c.Language == "" {
		return fmt.Errorf("language is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.Encoding != EncodingLinear16 {
		return fmt.Errorf("unsupported encoding %q", c.Encoding)
	}
	return nil
}

// Alternative is one candidate transcription of a segment
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Segment is one result entry. Alternatives are ranked best first.
type Segment struct {
	IsPartial    bool          `json:"is_partial"`
	Alternatives []Alternative `json:"alternatives"`

	// Start and Duration are offsets into the stream in seconds, when the service reports them
	Start    float64 `json:"start,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Text returns the top-ranked alternative's text
func (s Segment) Text() string {
	if len(s.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(s.Alternatives[0].Text)
}

// Event is one inbound transcript message, holding its result entries in order
type Event struct {
	Segments []Segment
}

// Recognizer opens streaming recognition sessions
type Recognizer interface {
	// Name identifies the provider in logs and metrics
	Name() string

	// Open establishes one bidirectional stream. ctx bounds the dial only.
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream is one open recognition stream.
// SendAudio and CloseSend are called from one goroutine, Recv from another.
type Stream interface {
	// SendAudio transmits one chunk of raw audio
	SendAudio(ctx context.Context, audio []byte) error

	// CloseSend tells the service no more audio follows.
	// The service flushes its remaining results and then ends the stream.
	CloseSend() error

	// Recv blocks for the next event. It returns io.EOF once the service has
	// closed the stream normally, and an error wrapping ErrRemote for
	// in-band service errors.
	Recv(ctx context.Context) (*Event, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}
