package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lexiqai/live-transcriber/internal/session"
	"github.com/lexiqai/live-transcriber/internal/stt"
)

func finalSegment(text string) stt.Segment {
	return stt.Segment{Alternatives: []stt.Alternative{{Text: text}}}
}

func TestTranscriptPrinter_FinalsOnePerLine(t *testing.T) {
	var buf bytes.Buffer
	p := newTranscriptPrinter(&buf, false)

	p.update(session.Transcript{Segments: []stt.Segment{finalSegment("hello")}})
	p.update(session.Transcript{Segments: []stt.Segment{finalSegment("hello"), finalSegment("world")}})
	// Same snapshot again prints nothing
	p.update(session.Transcript{Segments: []stt.Segment{finalSegment("hello"), finalSegment("world")}})

	if got := buf.String(); got != "hello\nworld\n" {
		t.Errorf("Expected one line per final, got %q", got)
	}
}

func TestTranscriptPrinter_Partials(t *testing.T) {
	var buf bytes.Buffer
	p := newTranscriptPrinter(&buf, true)

	p.update(session.Transcript{Partial: "hel"})
	p.update(session.Transcript{Partial: "hello"})
	p.update(session.Transcript{Segments: []stt.Segment{finalSegment("hello there")}})
	p.finish()

	out := buf.String()
	if !strings.Contains(out, "... hel") || !strings.Contains(out, "... hello") {
		t.Errorf("Expected partials in output, got %q", out)
	}
	if !strings.HasSuffix(out, clearLine+"hello there\n") {
		t.Errorf("Expected partial line cleared before the final, got %q", out)
	}
}

func TestTranscriptPrinter_PartialsHidden(t *testing.T) {
	var buf bytes.Buffer
	p := newTranscriptPrinter(&buf, false)

	p.update(session.Transcript{Partial: "hel"})
	p.finish()

	if buf.Len() != 0 {
		t.Errorf("Expected no output, got %q", buf.String())
	}
}
