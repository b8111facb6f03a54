package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// Decode turns an encoded clip (WAV or MP3) into mono samples at SampleRate.
func Decode(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrDecode)
	}
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		samples, f, err := decodeWAV(data)
		if err != nil {
			return nil, err
		}
		return Resample(Downmix(samples, f.channels), f.sampleRate, SampleRate), nil
	case looksLikeMP3(data):
		return decodeMP3(data)
	default:
		return nil, fmt.Errorf("%w: unrecognized container", ErrDecode)
	}
}

func looksLikeMP3(data []byte) bool {
	if bytes.HasPrefix(data, []byte("ID3")) {
		return true
	}
	return len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// go-mp3 always yields interleaved 16-bit stereo.
func decodeMP3(data []byte) ([]int16, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrDecode, err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrDecode, err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: mp3: no frames", ErrDecode)
	}
	mono := Downmix(BytesToSamples(raw), 2)
	return Resample(mono, dec.SampleRate(), SampleRate), nil
}
