package transcript

import (
	"sync"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
)

// SilentSource never produces a chunk.
type SilentSource struct{ rate int }

func NewSilentSource(rate int) *SilentSource { return &SilentSource{rate: rate} }

func (s *SilentSource) SampleRate() int        { return s.rate }
func (s *SilentSource) Chunks() <-chan []byte { return nil }
func (s *SilentSource) Stop() error           { return nil }

// MicrophoneSource captures the agent's microphone in 100ms chunks.
type MicrophoneSource struct {
	rate    int
	ch      chan []byte
	mu      sync.Mutex
	pending []int16
	capture audio.Capture
	once    sync.Once
	stopErr error
}

// OpenMicrophone starts capturing deviceID at rate.
func OpenMicrophone(devices audio.Devices, deviceID string, rate int) (*MicrophoneSource, error) {
	m := &MicrophoneSource{rate: rate, ch: make(chan []byte, 32)}
	capture, err := devices.OpenCapture(deviceID, rate, m.push)
	if err != nil {
		return nil, err
	}
	m.capture = capture
	return m, nil
}

func (m *MicrophoneSource) push(samples []int16) {
	chunk := m.rate / 10
	m.mu.Lock()
	m.pending = append(m.pending, samples...)
	var ready [][]byte
	for len(m.pending) >= chunk {
		ready = append(ready, audio.SamplesToBytes(m.pending[:chunk]))
		m.pending = m.pending[chunk:]
	}
	m.mu.Unlock()
	for _, b := range ready {
		select {
		case m.ch <- b:
		default:
		}
	}
}

func (m *MicrophoneSource) SampleRate() int        { return m.rate }
func (m *MicrophoneSource) Chunks() <-chan []byte { return m.ch }

func (m *MicrophoneSource) Stop() error {
	m.once.Do(func() { m.stopErr = m.capture.Stop() })
	return m.stopErr
}
