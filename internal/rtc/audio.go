package rtc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
)

type sampleWriter interface {
	WriteSample(media.Sample) error
}

type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// PacedWriter encodes 48kHz mono PCM into 20ms Opus frames for a local track.
// Queued PCM (WritePCM) is released by the pacer one frame per tick; mixers
// that keep their own clock write whole frames with WriteFrame.
type PacedWriter struct {
	mu           sync.Mutex
	enc          frameEncoder
	track        sampleWriter
	pcmBuf       []int16
	opusBuf      []byte
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	stopped      bool
	muted        atomic.Bool
}

func newOpusEncoder() (*opus.Encoder, error) {
	return opus.NewEncoder(audio.SampleRate, 1, opus.AppVoIP)
}

func newWriter(enc frameEncoder, track sampleWriter) *PacedWriter {
	return &PacedWriter{
		enc:          enc,
		track:        track,
		opusBuf:      make([]byte, 4000),
		frameSamples: audio.FrameSamples,
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
}

// NewPacedWriter starts a pacer that drains queued frames every 20ms.
func NewPacedWriter(track sampleWriter) (*PacedWriter, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	w := newWriter(enc, track)
	go w.pacer()
	return w, nil
}

// NewDirectWriter returns a writer without a pacer; callers drive it with
// WriteFrame on their own clock.
func NewDirectWriter(track sampleWriter) (*PacedWriter, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	return newWriter(enc, track), nil
}

// SetMuted makes every subsequently encoded frame silent.
func (w *PacedWriter) SetMuted(m bool) { w.muted.Store(m) }

// Muted reports the mute flag.
func (w *PacedWriter) Muted() bool { return w.muted.Load() }

// WriteFrame encodes one frame and writes it to the track immediately.
func (w *PacedWriter) WriteFrame(frame []int16) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return audio.ErrDisposed
	}
	pkt, err := w.encodeLocked(frame)
	if err != nil || pkt == nil {
		return err
	}
	return w.track.WriteSample(media.Sample{Data: pkt, Duration: audio.FrameDuration})
}

// WritePCM buffers little-endian PCM and queues every full frame. It blocks
// while the queue is full, until the writer is closed.
func (w *PacedWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.WriteSamples(audio.BytesToSamples(pcmBytes))
}

// WriteSamples is WritePCM for decoded samples.
func (w *PacedWriter) WriteSamples(samples []int16) {
	w.mu.Lock()
	w.pcmBuf = append(w.pcmBuf, samples...)
	var pkts [][]byte
	for len(w.pcmBuf) >= w.frameSamples {
		pkt, _ := w.encodeLocked(w.pcmBuf[:w.frameSamples])
		if pkt != nil {
			pkts = append(pkts, pkt)
		}
		w.pcmBuf = w.pcmBuf[w.frameSamples:]
	}
	if len(w.pcmBuf) == 0 {
		w.pcmBuf = nil
	}
	w.mu.Unlock()
	for _, pkt := range pkts {
		if !w.pushFrame(pkt) {
			return
		}
	}
}

// FlushTail pads the remaining PCM to a full frame.
func (w *PacedWriter) FlushTail() {
	w.mu.Lock()
	var pkt []byte
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, w.frameSamples)
		copy(pad, w.pcmBuf)
		pkt, _ = w.encodeLocked(pad)
		w.pcmBuf = nil
	}
	w.mu.Unlock()
	if pkt != nil {
		w.pushFrame(pkt)
	}
}

func (w *PacedWriter) encodeLocked(frame []int16) ([]byte, error) {
	if w.muted.Load() {
		frame = make([]int16, len(frame))
	}
	n, err := w.enc.Encode(frame, w.opusBuf)
	if err != nil || n <= 0 {
		return nil, err
	}
	pkt := make([]byte, n)
	copy(pkt, w.opusBuf[:n])
	return pkt, nil
}

// Close stops the pacer and unblocks pending writers.
func (w *PacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *PacedWriter) pacer() {
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: audio.FrameDuration})
			default:
			}
		}
	}
}

func (w *PacedWriter) pushFrame(pkt []byte) bool {
	select {
	case <-w.stopCh:
		return false
	case w.frames <- pkt:
		return true
	}
}

// Reset drops queued frames and buffered PCM.
func (w *PacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		select {
		case <-w.frames:
		default:
			w.pcmBuf = nil
			return
		}
	}
}
