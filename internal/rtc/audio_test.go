package rtc

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
)

type fakeSampleTrack struct{ writes int32 }

func (f *fakeSampleTrack) WriteSample(s media.Sample) error {
	atomic.AddInt32(&f.writes, 1)
	return nil
}

// fakeEncoder copies the first sample's low byte so tests can see what was encoded.
type fakeEncoder struct{ last []int16 }

func (e *fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	e.last = append(e.last[:0], pcm...)
	data[0] = byte(pcm[0])
	return 1, nil
}

func TestPacedWriter_PacerWritesFrames(t *testing.T) {
	ft := &fakeSampleTrack{}
	w := newWriter(&fakeEncoder{}, ft)
	done := make(chan struct{})
	go func() { w.pacer(); close(done) }()

	for i := 0; i < 3; i++ {
		w.pushFrame([]byte{0x01, 0x02})
	}
	time.Sleep(80 * time.Millisecond)
	w.Close()
	<-done

	if atomic.LoadInt32(&ft.writes) == 0 {
		t.Fatalf("expected pacer to write at least one frame")
	}
}

func TestPacedWriter_WriteSamplesQueuesWholeFrames(t *testing.T) {
	w := newWriter(&fakeEncoder{}, &fakeSampleTrack{})
	w.WriteSamples(make([]int16, audio.FrameSamples*2+10))
	if got := len(w.frames); got != 2 {
		t.Fatalf("expected 2 queued frames, got %d", got)
	}
	if len(w.pcmBuf) != 10 {
		t.Fatalf("expected 10 buffered samples, got %d", len(w.pcmBuf))
	}
	w.FlushTail()
	if got := len(w.frames); got != 3 {
		t.Fatalf("expected tail frame to be queued, got %d", got)
	}
}

func TestPacedWriter_ResetDrains(t *testing.T) {
	w := newWriter(&fakeEncoder{}, &fakeSampleTrack{})
	w.pcmBuf = []int16{1, 2, 3}
	w.frames <- []byte{0x01}
	w.frames <- []byte{0x02}
	w.Reset()
	select {
	case <-w.frames:
		t.Fatalf("expected frames channel to be drained")
	default:
	}
	if len(w.pcmBuf) != 0 {
		t.Fatalf("expected pcmBuf to be reset, got len=%d", len(w.pcmBuf))
	}
}

func TestPacedWriter_MutedFramesAreSilent(t *testing.T) {
	enc := &fakeEncoder{}
	ft := &fakeSampleTrack{}
	w := newWriter(enc, ft)
	frame := make([]int16, audio.FrameSamples)
	for i := range frame {
		frame[i] = 1000
	}
	w.SetMuted(true)
	if err := w.WriteFrame(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, v := range enc.last {
		if v != 0 {
			t.Fatalf("expected muted frame to be encoded as silence")
		}
	}
	w.Close()
	if err := w.WriteFrame(frame); err == nil {
		t.Fatalf("expected error writing to a closed writer")
	}
	if atomic.LoadInt32(&ft.writes) != 1 {
		t.Fatalf("expected exactly one sample written, got %d", ft.writes)
	}
}
