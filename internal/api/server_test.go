package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lexiqai/live-transcriber/internal/session"
	"github.com/lexiqai/live-transcriber/internal/stt"
)

type fakeController struct {
	mu       sync.Mutex
	state    session.State
	err      error
	startErr error
	stopErr  error
	starts   int
	stops    int

	agg *session.Aggregator
}

func newFakeController() *fakeController {
	return &fakeController{agg: session.NewAggregator(" ")}
}

func (c *fakeController) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		c.state = session.StateFailed
		c.err = c.startErr
		return c.startErr
	}
	c.state = session.StateListening
	return nil
}

func (c *fakeController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	if c.state == session.StateListening {
		c.state = session.StateIdle
	}
	return c.stopErr
}

func (c *fakeController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == session.StateFailed {
		c.state = session.StateIdle
		c.err = nil
	}
}

func (c *fakeController) State() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeController) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeController) SessionID() string {
	return "session-1"
}

func (c *fakeController) Transcript() session.Transcript {
	return c.agg.Snapshot()
}

func (c *fakeController) Changed() <-chan struct{} {
	return c.agg.Changed()
}

func final(text string) stt.Segment {
	return stt.Segment{Alternatives: []stt.Alternative{{Text: text}}}
}

func newTestServer(ctrl Controller) http.Handler {
	mux := http.NewServeMux()
	NewServer(ctrl, zerolog.Nop()).Register(mux)
	return mux
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) SessionStatus {
	t.Helper()
	var body struct {
		State     string `json:"state"`
		SessionID string `json:"session_id"`
		Error     string `json:"error"`
		ErrorKind string `json:"error_kind"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	st := SessionStatus{SessionID: body.SessionID, Error: body.Error, ErrorKind: body.ErrorKind}
	for _, s := range []session.State{session.StateIdle, session.StateStarting, session.StateListening, session.StateStopping, session.StateFailed} {
		if s.String() == body.State {
			st.State = s
		}
	}
	return st
}

func TestServer_StartStop(t *testing.T) {
	ctrl := newFakeController()
	handler := newTestServer(ctrl)

	req := httptest.NewRequest(http.MethodPost, "/session/start", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if st := decodeStatus(t, rr); st.State != session.StateListening || st.SessionID != "session-1" {
		t.Errorf("Unexpected status %+v", st)
	}

	req = httptest.NewRequest(http.MethodPost, "/session/stop", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if st := decodeStatus(t, rr); st.State != session.StateIdle {
		t.Errorf("Expected idle, got %s", st.State)
	}
	if ctrl.starts != 1 || ctrl.stops != 1 {
		t.Errorf("Expected one start and one stop, got %d/%d", ctrl.starts, ctrl.stops)
	}
}

func TestServer_StartErrors(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
		expectedKind string
	}{
		{
			name:         "device unavailable",
			err:          fmt.Errorf("%w: no input", session.ErrDeviceUnavailable),
			expectedCode: http.StatusServiceUnavailable,
			expectedKind: "device_unavailable",
		},
		{
			name:         "connection",
			err:          fmt.Errorf("%w: fake: refused", session.ErrConnection),
			expectedCode: http.StatusBadGateway,
			expectedKind: "connection",
		},
		{
			name:         "other",
			err:          errors.New("boom"),
			expectedCode: http.StatusInternalServerError,
			expectedKind: "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			ctrl.startErr = tt.err
			handler := newTestServer(ctrl)

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/session/start", nil))

			if rr.Code != tt.expectedCode {
				t.Errorf("Expected status %d, got %d", tt.expectedCode, rr.Code)
			}
			st := decodeStatus(t, rr)
			if st.ErrorKind != tt.expectedKind {
				t.Errorf("Expected kind %q, got %q", tt.expectedKind, st.ErrorKind)
			}
			if st.State != session.StateFailed {
				t.Errorf("Expected failed, got %s", st.State)
			}
		})
	}
}

func TestServer_Reset(t *testing.T) {
	ctrl := newFakeController()
	ctrl.state = session.StateFailed
	ctrl.err = session.ErrStream
	handler := newTestServer(ctrl)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/session/reset", nil))

	st := decodeStatus(t, rr)
	if st.State != session.StateIdle || st.Error != "" {
		t.Errorf("Expected idle without error, got %+v", st)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	handler := newTestServer(newFakeController())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/session/start", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rr.Code)
	}
}

func TestServer_Transcript(t *testing.T) {
	ctrl := newFakeController()
	ctrl.agg.Apply(final("hello"))
	ctrl.agg.Apply(final("world"))
	handler := newTestServer(ctrl)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/transcript", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var snap session.Transcript
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode transcript: %v", err)
	}
	if snap.Finalized != "hello world" {
		t.Errorf("Expected 'hello world', got %q", snap.Finalized)
	}
	if len(snap.Segments) != 2 {
		t.Errorf("Expected 2 segments, got %d", len(snap.Segments))
	}
}

func TestServer_TranscriptStream(t *testing.T) {
	ctrl := newFakeController()
	srv := httptest.NewServer(newTestServer(ctrl))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/transcript/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	read := func() session.Transcript {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var snap session.Transcript
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("Failed to read snapshot: %v", err)
		}
		return snap
	}

	if snap := read(); snap.Finalized != "" {
		t.Errorf("Expected empty initial snapshot, got %+v", snap)
	}

	ctrl.agg.Apply(stt.Segment{IsPartial: true, Alternatives: []stt.Alternative{{Text: "hel"}}})
	if snap := read(); snap.Partial != "hel" {
		t.Errorf("Expected partial 'hel', got %+v", snap)
	}

	ctrl.agg.Apply(final("hello"))
	if snap := read(); snap.Finalized != "hello" || snap.Partial != "" {
		t.Errorf("Expected finalized 'hello', got %+v", snap)
	}
}

func TestHealthReporter(t *testing.T) {
	reporter := NewHealthReporter("transcriber")
	listener := reporter.Listener()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := reporter.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: "transcriber"})
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		return resp.Status
	}

	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %s", got)
	}

	listener(session.StateFailed, session.ErrStream)
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING after failure, got %s", got)
	}

	listener(session.StateIdle, nil)
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING after reset, got %s", got)
	}
}

func TestControllerCheck(t *testing.T) {
	ctrl := newFakeController()
	check := ControllerCheck(ctrl)

	if ok, err := check(context.Background()); !ok || err != nil {
		t.Errorf("Expected healthy, got %v, %v", ok, err)
	}

	ctrl.state = session.StateFailed
	ctrl.err = session.ErrConnection
	if ok, err := check(context.Background()); ok || !errors.Is(err, session.ErrConnection) {
		t.Errorf("Expected unhealthy with connection error, got %v, %v", ok, err)
	}
}
