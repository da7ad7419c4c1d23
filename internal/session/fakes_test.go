package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexiqai/live-transcriber/internal/audio"
	"github.com/lexiqai/live-transcriber/internal/resilience"
	"github.com/lexiqai/live-transcriber/internal/stt"
)

var testStreamConfig = stt.StreamConfig{
	Language:       "en-US",
	SampleRate:     16000,
	Encoding:       stt.EncodingLinear16,
	Channels:       1,
	InterimResults: true,
}

func fastRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

// fakeStream echoes each chunk as a partial then a final segment "w<first byte>"
type fakeStream struct {
	mu           sync.Mutex
	events       chan *stt.Event
	eventsClosed bool
	sent         [][]byte
	sendClosed   bool

	// holdOpen keeps Recv blocked after CloseSend, like a service that never flushes
	holdOpen bool

	recvErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events:  make(chan *stt.Event, 256),
		recvErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (s *fakeStream) SendAudio(ctx context.Context, chunk []byte) error {
	if s.isClosed() {
		return stt.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, chunk)

	text := fmt.Sprintf("w%d", chunk[0])
	s.pushLocked(segment(text, true))
	s.pushLocked(segment(text, false))
	return nil
}

// CloseSend flushes: the service ends the stream once the send side is done
func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendClosed = true
	if !s.holdOpen {
		s.closeEventsLocked()
	}
	return nil
}

func (s *fakeStream) Recv(ctx context.Context) (*stt.Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	case err := <-s.recvErr:
		return nil, err
	case <-s.closed:
		return nil, stt.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// fail delivers a transport or remote error to the next Recv
func (s *fakeStream) fail(err error) {
	s.recvErr <- err
}

// hangUp ends the stream from the service side without a CloseSend
func (s *fakeStream) hangUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeEventsLocked()
}

func (s *fakeStream) pushLocked(ev *stt.Event) {
	if !s.eventsClosed {
		s.events <- ev
	}
}

func (s *fakeStream) closeEventsLocked() {
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
}

func (s *fakeStream) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeStream) didCloseSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendClosed
}

func segment(text string, partial bool) *stt.Event {
	return &stt.Event{Segments: []stt.Segment{{
		IsPartial:    partial,
		Alternatives: []stt.Alternative{{Text: text, Confidence: 0.9}},
	}}}
}

// fakeRecognizer returns openErrs in order, then fresh fakeStreams.
// With block set, Open waits for ctx instead.
type fakeRecognizer struct {
	block    bool
	holdOpen bool
	openErrs []error

	opening chan struct{}
	opens   atomic.Int32

	mu      sync.Mutex
	streams []*fakeStream
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{opening: make(chan struct{}, 16)}
}

func (r *fakeRecognizer) Name() string {
	return "fake"
}

func (r *fakeRecognizer) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	n := int(r.opens.Add(1))
	select {
	case r.opening <- struct{}{}:
	default:
	}

	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= len(r.openErrs) {
		return nil, r.openErrs[n-1]
	}

	s := newFakeStream()
	s.holdOpen = r.holdOpen
	r.mu.Lock()
	r.streams = append(r.streams, s)
	r.mu.Unlock()
	return s, nil
}

func (r *fakeRecognizer) last(t *testing.T) *fakeStream {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		t.Fatal("Expected an opened stream")
	}
	return r.streams[len(r.streams)-1]
}

type fakeHandle struct {
	closed atomic.Int32
}

func (h *fakeHandle) Close() error {
	h.closed.Add(1)
	return nil
}

// fakeDevice hands its callback to the test
type fakeDevice struct {
	openErr error

	mu      sync.Mutex
	cb      audio.DeviceCallback
	handles []*fakeHandle
}

func (d *fakeDevice) Open(cfg audio.CaptureConfig, cb audio.DeviceCallback) (audio.DeviceHandle, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = cb
	h := &fakeHandle{}
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *fakeDevice) emit(b byte) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	cb([]byte{b, 0}, 1, audio.StatusOK)
}

func (d *fakeDevice) emitStatus(status audio.DeviceStatus) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	cb(nil, 0, status)
}

func (d *fakeDevice) lastHandle(t *testing.T) *fakeHandle {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		t.Fatal("Expected an opened device handle")
	}
	return d.handles[len(d.handles)-1]
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func frame(seq uint64) audio.AudioFrame {
	return audio.AudioFrame{Samples: []byte{byte(seq), 0}, FrameCount: 1, Sequence: seq}
}
