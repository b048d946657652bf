package audio

import (
	"fmt"
	"math"
)

// CalculateRMS computes the root-mean-square energy of 16-bit PCM samples.
// The result is the level signal fed to the voice activity segmenter.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// DecodePCM16 converts little-endian 16-bit PCM bytes to samples
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d bytes", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// LevelFromPCM16 computes the RMS level directly from raw PCM16 bytes
func LevelFromPCM16(data []byte) (float64, error) {
	samples, err := DecodePCM16(data)
	if err != nil {
		return 0, err
	}
	return CalculateRMS(samples), nil
}
