package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeDevice hands its callback to the test instead of running a real stream
type fakeDevice struct {
	openErr   error
	openDelay time.Duration

	mu      sync.Mutex
	cb      DeviceCallback
	handles []*fakeHandle
}

type fakeHandle struct {
	closed atomic.Int32
}

func (h *fakeHandle) Close() error {
	h.closed.Add(1)
	return nil
}

func (d *fakeDevice) Open(cfg CaptureConfig, cb DeviceCallback) (DeviceHandle, error) {
	if d.openDelay > 0 {
		time.Sleep(d.openDelay)
	}
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

func (d *fakeDevice) emit(samples []byte, status DeviceStatus) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	cb(samples, len(samples)/2, status)
}

func (d *fakeDevice) handle(t *testing.T) *fakeHandle {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) != 1 {
		t.Fatalf("Expected exactly one opened handle, got %d", len(d.handles))
	}
	return d.handles[0]
}

func TestCaptureSource_OpenFailure(t *testing.T) {
	device := &fakeDevice{openErr: errors.New("no such device")}
	src := NewCaptureSource(device, DefaultCaptureConfig(), NewChunkChannel(ChannelConfig{}), zerolog.Nop())

	err := src.Open(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestCaptureSource_SequencesFrames(t *testing.T) {
	device := &fakeDevice{}
	frames := NewChunkChannel(ChannelConfig{})
	src := NewCaptureSource(device, DefaultCaptureConfig(), frames, zerolog.Nop())

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		device.emit([]byte{byte(i), 0, byte(i), 0}, StatusOK)
	}
	device.emit([]byte{9, 0}, StatusInputOverflow)

	if src.Captured() != 5 {
		t.Errorf("Expected 5 captured frames, got %d", src.Captured())
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for want := uint64(1); want <= 5; want++ {
		frame, err := frames.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop %d failed: %v", want, err)
		}
		if frame.Sequence != want {
			t.Errorf("Expected sequence %d, got %d", want, frame.Sequence)
		}
		if want == 5 && frame.Status != StatusInputOverflow {
			t.Errorf("Expected overflow status on last frame, got %s", frame.Status)
		}
		if want < 5 && frame.FrameCount != 2 {
			t.Errorf("Expected 2 sample frames, got %d", frame.FrameCount)
		}
	}

	if _, err := frames.Pop(context.Background()); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Expected ErrChannelClosed after draining, got %v", err)
	}
}

func TestCaptureSource_DeviceLostClosesChannel(t *testing.T) {
	device := &fakeDevice{}
	frames := NewChunkChannel(ChannelConfig{})
	src := NewCaptureSource(device, DefaultCaptureConfig(), frames, zerolog.Nop())
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	device.emit([]byte{1, 0}, StatusOK)
	device.emit(nil, StatusDeviceLost)

	if _, err := frames.Pop(context.Background()); err != nil {
		t.Fatalf("Expected the frame captured before the loss, got %v", err)
	}

	_, err := frames.Pop(context.Background())
	if !errors.Is(err, ErrChannelClosed) || !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected channel closed with ErrDeviceUnavailable, got %v", err)
	}
}

func TestCaptureSource_OpenTimeoutReleasesLateHandle(t *testing.T) {
	device := &fakeDevice{openDelay: 100 * time.Millisecond}
	src := NewCaptureSource(device, DefaultCaptureConfig(), NewChunkChannel(ChannelConfig{}), zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := src.Open(ctx)
	if !errors.Is(err, ErrDeviceUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected device timeout, got %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		device.mu.Lock()
		var h *fakeHandle
		if len(device.handles) == 1 {
			h = device.handles[0]
		}
		device.mu.Unlock()
		if h != nil && h.closed.Load() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Late device handle was not released")
}

func TestCaptureSource_CloseIsIdempotent(t *testing.T) {
	device := &fakeDevice{}
	frames := NewChunkChannel(ChannelConfig{})
	src := NewCaptureSource(device, DefaultCaptureConfig(), frames, zerolog.Nop())
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	src.Close()
	src.Close()

	if got := device.handle(t).closed.Load(); got != 1 {
		t.Errorf("Expected device handle closed once, got %d", got)
	}
	if !frames.Closed() {
		t.Error("Expected chunk channel to be closed")
	}
	if err := src.Open(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected reopen of a closed source to fail, got %v", err)
	}
}

func TestAudioFrame_Duration(t *testing.T) {
	frame := AudioFrame{FrameCount: 2048}
	if got := frame.Duration(16000); got != 128*time.Millisecond {
		t.Errorf("Expected 128ms, got %v", got)
	}
	if got := frame.Duration(0); got != 0 {
		t.Errorf("Expected 0 for unknown rate, got %v", got)
	}
}

func TestDeviceStatus_String(t *testing.T) {
	tests := []struct {
		status DeviceStatus
		want   string
	}{
		{StatusOK, "ok"},
		{StatusInputOverflow, "input_overflow"},
		{StatusInputUnderflow | StatusDeviceLost, "input_underflow|device_lost"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}
