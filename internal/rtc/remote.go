package rtc

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/logging"
)

// maxOpusPacket is the longest duration a single Opus packet can carry.
const maxOpusPacket = 120 * time.Millisecond

// RemoteAudio decodes the customer's inbound Opus track to PCM and hands
// 100ms chunks to at most one subscriber at a time, plus any number of taps.
type RemoteAudio struct {
	mu      sync.Mutex
	rate    int
	sub     *RemoteSubscription
	taps    map[int]func([]int16)
	nextTap int
	bound   bool
	done    chan struct{}
	log     *zap.SugaredLogger
}

func NewRemoteAudio(sampleRate int, log *zap.SugaredLogger) *RemoteAudio {
	return &RemoteAudio{rate: sampleRate, done: make(chan struct{}), log: logging.Or(log).Named("remote")}
}

// Bind starts reading track. Only the first audio track is used.
func (r *RemoteAudio) Bind(track *webrtc.TrackRemote) error {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return nil
	}
	r.mu.Lock()
	if r.bound {
		r.mu.Unlock()
		return errors.New("rtc: remote audio already bound")
	}
	r.bound = true
	r.mu.Unlock()

	dec, err := opus.NewDecoder(r.rate, 1)
	if err != nil {
		return err
	}
	r.log.Infow("remote audio track received", "codec", track.Codec().MimeType)
	go r.read(track, dec)
	return nil
}

// Done is closed when the remote track stops delivering packets.
func (r *RemoteAudio) Done() <-chan struct{} { return r.done }

func (r *RemoteAudio) read(track *webrtc.TrackRemote, dec *opus.Decoder) {
	defer close(r.done)
	chunkBytes := r.rate / 10 * 2
	buf := make([]byte, 0, chunkBytes*4)
	samples := make([]int16, decodeBufferSamples(r.rate))
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.log.Infow("remote read stopped", "error", err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			r.log.Debugw("opus decode", "error", err)
			continue
		}
		for i := 0; i < n; i++ {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(samples[i]))
		}
		for len(buf) >= chunkBytes {
			chunk := make([]byte, chunkBytes)
			copy(chunk, buf[:chunkBytes])
			r.publish(chunk)
			buf = append(buf[:0], buf[chunkBytes:]...)
		}
	}
}

// decodeBufferSamples fits the longest Opus packet at rate.
func decodeBufferSamples(rate int) int {
	return int(int64(rate) * int64(maxOpusPacket) / int64(time.Second))
}

func (r *RemoteAudio) publish(chunk []byte) {
	r.mu.Lock()
	s := r.sub
	taps := make([]func([]int16), 0, len(r.taps))
	for _, fn := range r.taps {
		taps = append(taps, fn)
	}
	r.mu.Unlock()
	if s != nil {
		s.offer(chunk)
	}
	if len(taps) > 0 {
		pcm := audio.BytesToSamples(chunk)
		for _, fn := range taps {
			fn(pcm)
		}
	}
}

// Tap calls fn with every decoded chunk until the returned cancel is
// called. fn runs on the decode goroutine and must not block.
func (r *RemoteAudio) Tap(fn func(samples []int16)) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taps == nil {
		r.taps = map[int]func([]int16){}
	}
	id := r.nextTap
	r.nextTap++
	r.taps[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.taps, id)
		r.mu.Unlock()
	}
}

// SampleRate is the rate of every decoded chunk.
func (r *RemoteAudio) SampleRate() int { return r.rate }

// Subscribe replaces the current subscriber with a new one.
func (r *RemoteAudio) Subscribe() *RemoteSubscription {
	s := &RemoteSubscription{parent: r, ch: make(chan []byte, 32)}
	r.mu.Lock()
	r.sub = s
	r.mu.Unlock()
	return s
}

func (r *RemoteAudio) unsubscribe(s *RemoteSubscription) {
	r.mu.Lock()
	if r.sub == s {
		r.sub = nil
	}
	r.mu.Unlock()
}

// RemoteSubscription is a transcription audio source over the remote track.
type RemoteSubscription struct {
	parent *RemoteAudio
	ch     chan []byte
}

func (s *RemoteSubscription) SampleRate() int        { return s.parent.rate }
func (s *RemoteSubscription) Chunks() <-chan []byte { return s.ch }

func (s *RemoteSubscription) Stop() error {
	s.parent.unsubscribe(s)
	return nil
}

// offer drops the chunk when the consumer is behind.
func (s *RemoteSubscription) offer(chunk []byte) {
	select {
	case s.ch <- chunk:
	default:
	}
}
