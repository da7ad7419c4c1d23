package session

import (
	"sync"
	"sync/atomic"

	"github.com/lexiqai/live-transcriber/internal/stt"
)

// Transcript is an immutable view of the aggregated text.
// Finalized and Partial always come from the same update.
type Transcript struct {
	Finalized string `json:"finalized"`
	Partial   string `json:"partial"`

	// Segments holds every finalized segment with all of its alternatives,
	// so callers can apply their own selection policy
	Segments []stt.Segment `json:"segments,omitempty"`

	// Version increases with every change
	Version uint64 `json:"version"`
}

// Aggregator folds recognizer segments into a transcript.
// Writers are serialised; Snapshot never blocks.
type Aggregator struct {
	separator string

	current atomic.Pointer[Transcript]

	mu      sync.Mutex
	changed chan struct{}
}

// NewAggregator creates an empty aggregator. separator is placed between finalized segments.
func NewAggregator(separator string) *Aggregator {
	a := &Aggregator{
		separator: separator,
		changed:   make(chan struct{}),
	}
	a.current.Store(&Transcript{})
	return a
}

// Apply replaces the partial text with a partial segment, or appends a final
// segment's top alternative to the finalized text and clears the partial text
func (a *Aggregator) Apply(seg stt.Segment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.current.Load()
	next := *cur
	text := seg.Text()

	if seg.IsPartial {
		if text == cur.Partial {
			return
		}
		next.Partial = text
	} else {
		if text != "" {
			if next.Finalized != "" {
				next.Finalized += a.separator
			}
			next.Finalized += text
			// Clip so the previous snapshot's backing array is never written
			next.Segments = append(cur.Segments[:len(cur.Segments):len(cur.Segments)], seg)
		}
		next.Partial = ""
	}

	a.publish(&next)
}

// Snapshot returns the finalized and partial text taken together
func (a *Aggregator) Snapshot() Transcript {
	return *a.current.Load()
}

// DiscardPartial drops the in-flight partial text, keeping everything finalized
func (a *Aggregator) DiscardPartial() {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.current.Load()
	if cur.Partial == "" {
		return
	}
	next := *cur
	next.Partial = ""
	a.publish(&next)
}

// Reset clears the transcript for a new session
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.publish(&Transcript{Version: a.current.Load().Version})
}

// Changed returns a channel that is closed on the next change
func (a *Aggregator) Changed() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.changed
}

// publish swaps in t and wakes waiters. Caller holds mu.
func (a *Aggregator) publish(t *Transcript) {
	t.Version++
	a.current.Store(t)
	close(a.changed)
	a.changed = make(chan struct{})
}
