package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Number of consecutive silence frames to mark as end of speech
}

// DefaultVADConfig returns a configuration tuned for 2048-sample blocks at 16 kHz
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   4, // ~512ms of silence (4 frames * 128ms)
	}
}

// VADEvent is a speech boundary reported by ProcessFrame
type VADEvent int

const (
	VADNone VADEvent = iota
	VADSpeechStarted
	VADSpeechEnded
)

func (e VADEvent) String() string {
	switch e {
	case VADSpeechStarted:
		return "speech_started"
	case VADSpeechEnded:
		return "speech_ended"
	default:
		return "none"
	}
}

// VADDetector is an energy-based speech detector fed one captured frame at a time.
// Not safe for concurrent use; the send duty owns it.
type VADDetector struct {
	config         VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config VADConfig) *VADDetector {
	if config.SilenceFrames <= 0 {
		config.SilenceFrames = DefaultVADConfig().SilenceFrames
	}
	if config.EnergyThreshold <= 0 {
		config.EnergyThreshold = DefaultVADConfig().EnergyThreshold
	}
	return &VADDetector{config: config}
}

// ProcessFrame feeds one PCM frame and reports a speech boundary if one was crossed
func (v *VADDetector) ProcessFrame(pcmData []byte) VADEvent {
	if CalculateFrameRMS(pcmData) > v.config.EnergyThreshold {
		v.silenceCounter = 0
		if !v.isSpeaking {
			v.isSpeaking = true
			return VADSpeechStarted
		}
		return VADNone
	}

	v.silenceCounter++
	if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
		v.isSpeaking = false
		v.silenceCounter = 0
		return VADSpeechEnded
	}
	return VADNone
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}
