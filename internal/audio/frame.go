package audio

import (
	"strings"
	"time"
)

// DeviceStatus is the status bitmask reported by the capture device with each block
type DeviceStatus uint32

const StatusOK DeviceStatus = 0

const (
	StatusInputUnderflow DeviceStatus = 1 << iota
	StatusInputOverflow
	// StatusDeviceLost means the device stopped delivering audio and will not recover
	StatusDeviceLost
)

// String returns a readable form of the status flags, e.g. "input_overflow|device_lost"
func (s DeviceStatus) String() string {
	if s == StatusOK {
		return "ok"
	}

	var parts []string
	if s&StatusInputUnderflow != 0 {
		parts = append(parts, "input_underflow")
	}
	if s&StatusInputOverflow != 0 {
		parts = append(parts, "input_overflow")
	}
	if s&StatusDeviceLost != 0 {
		parts = append(parts, "device_lost")
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// AudioFrame is one block of raw 16-bit little-endian PCM captured from the microphone.
// Frames are immutable once created.
type AudioFrame struct {
	// Samples is the raw PCM payload. The frame owns it.
	Samples []byte

	// FrameCount is the number of sample frames (samples per channel) in Samples
	FrameCount int

	// Status is the device status reported with this block
	Status DeviceStatus

	// Sequence starts at 1 and increases by one per device callback
	Sequence uint64

	// CapturedAt is the wall-clock time the callback ran
	CapturedAt time.Time
}

// Duration returns the amount of audio the frame holds at the given sample rate
func (f AudioFrame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameCount) * time.Second / time.Duration(sampleRate)
}
