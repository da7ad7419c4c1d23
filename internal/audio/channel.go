package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lexiqai/live-transcriber/internal/observability"
)

// ErrChannelClosed is returned by Pop once the channel is closed and drained
var ErrChannelClosed = errors.New("chunk channel closed")

// OverflowPolicy decides which frame is discarded when a bounded channel is full
type OverflowPolicy string

const (
	// DropOldest discards the oldest queued frame to make room for the new one
	DropOldest OverflowPolicy = "drop-oldest"
	// DropNewest discards the frame being pushed
	DropNewest OverflowPolicy = "drop-newest"
)

// ParseOverflowPolicy converts a config value into a policy
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case DropOldest, DropNewest:
		return OverflowPolicy(s), nil
	case "":
		return DropOldest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// ChannelConfig configures a ChunkChannel
type ChannelConfig struct {
	// Capacity bounds the queue. Zero means unbounded.
	Capacity int
	Policy   OverflowPolicy
}

// ChannelStats is a point-in-time view of the channel counters
type ChannelStats struct {
	Pushed  uint64
	Popped  uint64
	Dropped uint64
	Depth   int
}

// ChunkChannel carries captured frames from the device callback to the sender.
// Push never blocks, so it is safe to call from a real-time audio thread.
// Pop blocks until a frame is available, the channel is closed and drained, or ctx is done.
type ChunkChannel struct {
	config ChannelConfig

	mu      sync.Mutex
	frames  *ring[AudioFrame]
	closed  bool
	reason  error
	pushed  uint64
	popped  uint64
	dropped uint64

	// ready holds a token while frames may be queued
	ready chan struct{}
	// done is closed by Close
	done chan struct{}
}

// NewChunkChannel creates an open, empty channel
func NewChunkChannel(cfg ChannelConfig) *ChunkChannel {
	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}
	if cfg.Policy == "" {
		cfg.Policy = DropOldest
	}

	size := 64
	if cfg.Capacity > 0 {
		size = cfg.Capacity
	}

	return &ChunkChannel{
		config: cfg,
		frames: newRing[AudioFrame](size),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push enqueues a frame without blocking.
// It returns false if the frame was not queued: the channel is closed,
// or it is full and the policy is DropNewest.
func (c *ChunkChannel) Push(frame AudioFrame) bool {
	c.mu.Lock()

	if c.closed {
		c.dropped++
		c.mu.Unlock()
		observability.RecordFramesDropped("closed", 1)
		return false
	}

	accepted := true
	overflow := c.config.Capacity > 0 && c.frames.Len() >= c.config.Capacity
	if overflow {
		c.dropped++
		if c.config.Policy == DropNewest {
			accepted = false
		} else {
			c.frames.Pop()
		}
	}
	if accepted {
		c.frames.Push(frame)
		c.pushed++
	}
	depth := c.frames.Len()
	c.mu.Unlock()

	observability.SetChannelDepth(depth)
	if overflow {
		observability.RecordFramesDropped("overflow", 1)
	}

	c.signal()
	return accepted
}

// Pop returns the oldest frame, waiting for one if the channel is empty.
// After Close it keeps returning queued frames, then ErrChannelClosed
// (or the error passed to CloseWithError).
func (c *ChunkChannel) Pop(ctx context.Context) (AudioFrame, error) {
	for {
		c.mu.Lock()
		frame, ok := c.frames.Pop()
		if ok {
			c.popped++
			depth := c.frames.Len()
			c.mu.Unlock()
			observability.SetChannelDepth(depth)
			if depth > 0 {
				c.signal()
			}
			return frame, nil
		}
		if c.closed {
			reason := c.reason
			c.mu.Unlock()
			return AudioFrame{}, reason
		}
		c.mu.Unlock()

		select {
		case <-c.ready:
		case <-c.done:
		case <-ctx.Done():
			return AudioFrame{}, ctx.Err()
		}
	}
}

// Close marks the end of the stream. Queued frames can still be popped.
func (c *ChunkChannel) Close() {
	c.CloseWithError(nil)
}

// CloseWithError closes the channel; Pop returns err once the queue is drained.
// A nil err means a normal end and Pop returns ErrChannelClosed.
// Only the first close has any effect.
func (c *ChunkChannel) CloseWithError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if err == nil {
		c.reason = ErrChannelClosed
	} else {
		c.reason = fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	close(c.done)
}

// Closed reports whether Close has been called
func (c *ChunkChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of queued frames
func (c *ChunkChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames.Len()
}

// Stats returns the channel counters
func (c *ChunkChannel) Stats() ChannelStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChannelStats{
		Pushed:  c.pushed,
		Popped:  c.popped,
		Dropped: c.dropped,
		Depth:   c.frames.Len(),
	}
}

func (c *ChunkChannel) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}
