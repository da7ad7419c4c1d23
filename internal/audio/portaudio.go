package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDevice captures from a local input device through PortAudio
type PortAudioDevice struct{}

// NewPortAudioDevice creates a PortAudio-backed Device
func NewPortAudioDevice() *PortAudioDevice {
	return &PortAudioDevice{}
}

// Open initializes PortAudio, opens the configured input device and starts the stream.
// PortAudio stays initialized until the returned handle is closed.
func (d *PortAudioDevice) Open(cfg CaptureConfig, cb DeviceCallback) (DeviceHandle, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}

	stream, err := openInputStream(cfg, cb)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start stream failed: %w", err)
	}

	return &portAudioHandle{stream: stream}, nil
}

func openInputStream(cfg CaptureConfig, cb DeviceCallback) (*portaudio.Stream, error) {
	device, err := findInputDevice(cfg.DeviceName)
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.BlockSize

	channels := cfg.Channels
	if channels < 1 {
		channels = 1
	}
	callback := func(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		// PortAudio reuses in between callbacks; SamplesToBytes copies
		cb(SamplesToBytes(in), len(in)/channels, statusFromFlags(flags))
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return nil, fmt.Errorf("open stream on %q failed: %w", device.Name, err)
	}
	return stream, nil
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices failed: %w", err)
	}
	for _, device := range devices {
		if device.Name == name && device.MaxInputChannels > 0 {
			return device, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", name)
}

func statusFromFlags(flags portaudio.StreamCallbackFlags) DeviceStatus {
	status := StatusOK
	if flags&portaudio.InputUnderflow != 0 {
		status |= StatusInputUnderflow
	}
	if flags&portaudio.InputOverflow != 0 {
		status |= StatusInputOverflow
	}
	return status
}

type portAudioHandle struct {
	stream *portaudio.Stream
	once   sync.Once
	err    error
}

// Close stops the callbacks, closes the stream and terminates PortAudio
func (h *portAudioHandle) Close() error {
	h.once.Do(func() {
		if err := h.stream.Stop(); err != nil {
			h.err = fmt.Errorf("stop stream failed: %w", err)
		}
		if err := h.stream.Close(); err != nil && h.err == nil {
			h.err = fmt.Errorf("close stream failed: %w", err)
		}
		portaudio.Terminate()
	})
	return h.err
}

// InputDevice describes one capture-capable device
type InputDevice struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// ListInputDevices returns every device with at least one input channel
func ListInputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init failed: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices failed: %w", err)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil {
		defaultName = def.Name
	}

	var inputs []InputDevice
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		hostAPI := ""
		if device.HostApi != nil {
			hostAPI = device.HostApi.Name
		}
		inputs = append(inputs, InputDevice{
			Name:              device.Name,
			HostAPI:           hostAPI,
			MaxInputChannels:  device.MaxInputChannels,
			DefaultSampleRate: device.DefaultSampleRate,
			Default:           device.Name == defaultName,
		})
	}
	return inputs, nil
}
