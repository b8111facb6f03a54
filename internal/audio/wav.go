package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NewWavBuffer wraps mono 16-bit PCM in a RIFF/WAVE container.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

type wavFormat struct {
	audioFormat   uint16
	channels      int
	sampleRate    int
	bitsPerSample int
}

// decodeWAV walks the RIFF chunks and returns the interleaved samples of the
// data chunk. Only integer PCM at 16 bits is accepted.
func decodeWAV(data []byte) ([]int16, wavFormat, error) {
	var f wavFormat
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, f, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrDecode)
	}
	var (
		pcm     []byte
		haveFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, f, fmt.Errorf("%w: short fmt chunk", ErrDecode)
			}
			c := data[body:end]
			f.audioFormat = binary.LittleEndian.Uint16(c[0:2])
			f.channels = int(binary.LittleEndian.Uint16(c[2:4]))
			f.sampleRate = int(binary.LittleEndian.Uint32(c[4:8]))
			f.bitsPerSample = int(binary.LittleEndian.Uint16(c[14:16]))
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}
		// chunks are word aligned
		off = body + size + size%2
	}
	if !haveFmt || pcm == nil {
		return nil, f, fmt.Errorf("%w: missing fmt or data chunk", ErrDecode)
	}
	if f.audioFormat != 1 || f.bitsPerSample != 16 || f.channels < 1 || f.sampleRate <= 0 {
		return nil, f, fmt.Errorf("%w: unsupported wav format %d/%dbit/%dch", ErrDecode, f.audioFormat, f.bitsPerSample, f.channels)
	}
	return BytesToSamples(pcm), f, nil
}
