package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SamplesToBytes encodes 16-bit samples as little-endian PCM.
// It allocates a new slice so the result can outlive the device buffer.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// BytesToSamples decodes little-endian 16-bit PCM
func BytesToSamples(pcmData []byte) ([]int16, error) {
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(pcmData))
	}

	samples := make([]int16, len(pcmData)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcmData[i*2:]))
	}
	return samples, nil
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// CalculateFrameRMS returns the RMS level of a PCM frame; a trailing odd byte is ignored
func CalculateFrameRMS(pcmData []byte) float64 {
	samples, err := BytesToSamples(pcmData[:len(pcmData)&^1])
	if err != nil {
		return 0.0
	}
	return CalculateRMS(samples)
}
