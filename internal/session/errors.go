package session

import (
	"errors"

	"github.com/lexiqai/live-transcriber/internal/audio"
)

var (
	// ErrConnection means the recognizer stream could not be established
	ErrConnection = errors.New("connection error")

	// ErrStream means the established stream failed in either direction
	ErrStream = errors.New("stream error")

	// ErrStartAborted is returned by Start when Stop or the caller's context cancels it
	ErrStartAborted = errors.New("start aborted")

	// ErrDeviceUnavailable means the microphone could not be opened or was lost
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable

	// ErrChannelClosed marks a clean end of captured audio; it is not a failure
	ErrChannelClosed = audio.ErrChannelClosed
)

// ErrorKind classifies err for metrics labels and API responses
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrStream):
		return "stream"
	case errors.Is(err, ErrStartAborted):
		return "aborted"
	default:
		return "internal"
	}
}
