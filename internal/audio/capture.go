package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/observability"
)

// ErrDeviceUnavailable is returned when the microphone cannot be opened or goes away
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// CaptureConfig holds the fixed stream parameters for one capture
type CaptureConfig struct {
	SampleRate int
	Channels   int
	// BlockSize is the number of sample frames per device callback
	BlockSize int
	// DeviceName selects an input device by name; empty means the system default
	DeviceName string
}

// DefaultCaptureConfig returns 16 kHz mono with 2048-sample blocks (about 128ms)
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate: 16000,
		Channels:   1,
		BlockSize:  2048,
	}
}

// BytesPerBlock is the size of one full block of 16-bit samples
func (c CaptureConfig) BytesPerBlock() int {
	return c.BlockSize * c.Channels * 2
}

// DeviceCallback receives one block of 16-bit little-endian samples.
// It runs on the device's real-time thread and must return quickly.
// The callee owns samples.
type DeviceCallback func(samples []byte, frameCount int, status DeviceStatus)

// Device is an audio input that invokes a callback at a fixed cadence once opened
type Device interface {
	Open(cfg CaptureConfig, cb DeviceCallback) (DeviceHandle, error)
}

// DeviceHandle stops the callbacks and releases the device
type DeviceHandle interface {
	Close() error
}

// CaptureSource owns the device handle for one session and feeds a ChunkChannel
type CaptureSource struct {
	device Device
	config CaptureConfig
	frames *ChunkChannel
	logger zerolog.Logger

	sequence atomic.Uint64

	mu     sync.Mutex
	handle DeviceHandle
	closed bool
}

// NewCaptureSource creates a capture source that pushes into frames
func NewCaptureSource(device Device, cfg CaptureConfig, frames *ChunkChannel, logger zerolog.Logger) *CaptureSource {
	return &CaptureSource{
		device: device,
		config: cfg,
		frames: frames,
		logger: observability.WithComponent(logger, "capture"),
	}
}

// Open acquires the device. It fails with ErrDeviceUnavailable if the device
// cannot be opened, or with ctx's error if ctx ends first; in that case a
// handle that arrives late is closed.
func (s *CaptureSource) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: capture source already closed", ErrDeviceUnavailable)
	}
	s.mu.Unlock()

	type openResult struct {
		handle DeviceHandle
		err    error
	}
	resultCh := make(chan openResult, 1)

	go func() {
		handle, err := s.device.Open(s.config, s.onSamples)
		resultCh <- openResult{handle: handle, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return fmt.Errorf("%w: %w", ErrDeviceUnavailable, res.err)
		}
		return s.adopt(res.handle)
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.err == nil && res.handle != nil {
				res.handle.Close()
			}
		}()
		return fmt.Errorf("%w: open timed out: %w", ErrDeviceUnavailable, ctx.Err())
	}
}

func (s *CaptureSource) adopt(handle DeviceHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		// Close won the race
		handle.Close()
		return fmt.Errorf("%w: capture source closed during open", ErrDeviceUnavailable)
	}
	s.handle = handle

	s.logger.Info().
		Int("sample_rate", s.config.SampleRate).
		Int("channels", s.config.Channels).
		Int("block_size", s.config.BlockSize).
		Str("device", s.config.DeviceName).
		Msg("Audio capture started")
	return nil
}

// onSamples runs on the device thread: no I/O beyond the push
func (s *CaptureSource) onSamples(samples []byte, frameCount int, status DeviceStatus) {
	if status&StatusDeviceLost != 0 {
		observability.RecordDeviceStatus(status.String())
		s.frames.CloseWithError(fmt.Errorf("%w: device reported %s", ErrDeviceUnavailable, status))
		return
	}
	if status != StatusOK {
		observability.RecordDeviceStatus(status.String())
	}

	frame := AudioFrame{
		Samples:    samples,
		FrameCount: frameCount,
		Status:     status,
		Sequence:   s.sequence.Add(1),
		CapturedAt: time.Now(),
	}
	observability.RecordFrameCaptured(len(samples))
	s.frames.Push(frame)
}

// Captured returns how many frames the device has delivered
func (s *CaptureSource) Captured() uint64 {
	return s.sequence.Load()
}

// Frames returns the channel this source pushes into
func (s *CaptureSource) Frames() *ChunkChannel {
	return s.frames
}

// Close releases the device and closes the channel so the consumer drains and stops.
// Safe to call more than once.
func (s *CaptureSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()

	var err error
	if handle != nil {
		err = handle.Close()
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close audio device")
		}
	}
	s.frames.Close()

	s.logger.Info().
		Uint64("frames_captured", s.sequence.Load()).
		Msg("Audio capture stopped")
	return err
}
