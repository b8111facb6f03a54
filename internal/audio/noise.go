package audio

import "math/rand"

// WhiteNoiseSeconds is the length of the generated feedback loop.
const WhiteNoiseSeconds = 2

// WhiteNoise returns full-scale uniform noise at SampleRate. Gain is applied
// by whoever plays it.
func WhiteNoise(seconds int) []int16 {
	if seconds <= 0 {
		return nil
	}
	out := make([]int16, seconds*SampleRate)
	for i := range out {
		out[i] = Clamp16((rand.Float64()*2 - 1) * 32767)
	}
	return out
}
