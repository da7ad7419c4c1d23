package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/observability"
	"github.com/lexiqai/live-transcriber/internal/session"
)

const (
	pingInterval = 20 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	// Local control surface; browsers on other origins are expected
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Controller is the part of session.Controller the HTTP surface drives
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Reset()
	State() session.State
	Err() error
	SessionID() string
	Transcript() session.Transcript
	Changed() <-chan struct{}
}

// SessionStatus is the body of every /session response
type SessionStatus struct {
	State     session.State `json:"state"`
	SessionID string        `json:"session_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
}

// Server exposes the controller over HTTP
type Server struct {
	controller Controller
	logger     zerolog.Logger
}

// NewServer creates a Server for controller
func NewServer(controller Controller, logger zerolog.Logger) *Server {
	return &Server{
		controller: controller,
		logger:     observability.WithComponent(logger, "api"),
	}
}

// Register adds the session and transcript routes to mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /session/start", s.handleStart)
	mux.HandleFunc("POST /session/stop", s.handleStop)
	mux.HandleFunc("POST /session/reset", s.handleReset)
	mux.HandleFunc("GET /session", s.handleStatus)
	mux.HandleFunc("GET /transcript", s.handleTranscript)
	mux.HandleFunc("GET /transcript/stream", s.handleTranscriptStream)
}

func (s *Server) status() SessionStatus {
	st := SessionStatus{
		State:     s.controller.State(),
		SessionID: s.controller.SessionID(),
	}
	if err := s.controller.Err(); err != nil {
		st.Error = err.Error()
		st.ErrorKind = session.ErrorKind(err)
	}
	return st
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.controller.Start(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Start request failed")
		st := s.status()
		if st.Error == "" {
			st.Error = err.Error()
			st.ErrorKind = session.ErrorKind(err)
		}
		writeJSON(w, statusCodeFor(err), st)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	st := struct {
		SessionStatus
		DrainError string `json:"drain_error,omitempty"`
	}{}
	if err := s.controller.Stop(); err != nil {
		st.DrainError = err.Error()
	}
	st.SessionStatus = s.status()
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.controller.Reset()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Transcript())
}

// handleTranscriptStream pushes a snapshot now and after every change until the client goes away
func (s *Server) handleTranscriptStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade transcript stream")
		return
	}
	defer conn.Close()

	logger := observability.WithCorrelationID(observability.NewCorrelationID())
	logger.Debug().Str("remote", r.RemoteAddr).Msg("Transcript subscriber connected")

	// The client sends nothing; reading only notices the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn().Err(err).Msg("Transcript stream read error")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	var sent uint64
	first := true
	for {
		// Take the channel before the snapshot so no change is missed
		changed := s.controller.Changed()
		snap := s.controller.Transcript()
		if first || snap.Version != sent {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				logger.Debug().Err(err).Msg("Transcript subscriber write failed")
				return
			}
			sent = snap.Version
			first = false
		}

		select {
		case <-changed:
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-gone:
			logger.Debug().Msg("Transcript subscriber disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}

func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, session.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrConnection):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrStartAborted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
