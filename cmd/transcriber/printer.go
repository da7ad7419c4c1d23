package main

import (
	"fmt"
	"io"

	"github.com/lexiqai/live-transcriber/internal/session"
)

const clearLine = "\r\033[K"

// transcriptPrinter writes each finalized segment on its own line and keeps
// the current partial on a line that is rewritten in place
type transcriptPrinter struct {
	out          io.Writer
	showPartials bool

	printed      int
	partialShown bool
	lastPartial  string
}

func newTranscriptPrinter(out io.Writer, showPartials bool) *transcriptPrinter {
	return &transcriptPrinter{out: out, showPartials: showPartials}
}

func (p *transcriptPrinter) update(t session.Transcript) {
	for ; p.printed < len(t.Segments); p.printed++ {
		p.clearPartial()
		fmt.Fprintln(p.out, t.Segments[p.printed].Text())
	}

	if !p.showPartials || t.Partial == p.lastPartial {
		return
	}
	p.lastPartial = t.Partial
	if t.Partial == "" {
		p.clearPartial()
		return
	}
	fmt.Fprintf(p.out, "%s... %s", clearLine, t.Partial)
	p.partialShown = true
}

func (p *transcriptPrinter) clearPartial() {
	if p.partialShown {
		fmt.Fprint(p.out, clearLine)
		p.partialShown = false
		p.lastPartial = ""
	}
}

// finish leaves the cursor at the start of a clean line
func (p *transcriptPrinter) finish() {
	p.clearPartial()
}
