// Package audio holds the shared audio graph context of a call: the sample
// format every component agrees on, decoding of clip bytes, and access to the
// agent's capture and playback devices.
package audio

import (
	"math"
	"time"
)

const (
	// SampleRate is the rate of every sample that flows through the mixers
	// and into the Opus encoder.
	SampleRate = 48000
	// FrameDuration is the pacing interval of outbound audio.
	FrameDuration = 20 * time.Millisecond
	// FrameSamples is one mono frame at SampleRate.
	FrameSamples = SampleRate / 50
	// TranscribeSampleRate is what the transcription streams are opened with.
	TranscribeSampleRate = 16000
)

// BytesToSamples reads little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToSamples(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

// SamplesToBytes writes little-endian 16-bit PCM.
func SamplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(v)
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

// Clamp16 rounds v to the nearest int16, saturating at the bounds.
func Clamp16(v float64) int16 {
	if v >= math.MaxInt16 {
		return math.MaxInt16
	}
	if v <= math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}

// Duration of n mono samples at rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
