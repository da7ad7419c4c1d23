package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLogger_Levels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	tests := []struct {
		level      string
		expectLine bool
	}{
		{"debug", true},
		{"info", false},
		{"", false},
		{"not-a-level", false},
		{"warn", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.level, false)
			logger.Debug().Msg("debug line")

			if got := buf.Len() > 0; got != tt.expectLine {
				t.Errorf("Expected debug output %v for level %q, got %q", tt.expectLine, tt.level, buf.String())
			}
		})
	}
}

func TestWithComponent(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	var buf bytes.Buffer
	logger := WithComponent(newLogger(&buf, "info", false), "capture")
	logger.Info().Uint64("seq", 7).Msg("frame")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "capture" {
		t.Errorf("Expected component field 'capture', got %v", entry["component"])
	}
	if entry["message"] != "frame" {
		t.Errorf("Expected message 'frame', got %v", entry["message"])
	}
}

func TestNewCorrelationID(t *testing.T) {
	a, b := NewCorrelationID(), NewCorrelationID()
	if a == "" || a == b {
		t.Errorf("Expected distinct non-empty IDs, got %q and %q", a, b)
	}
}
