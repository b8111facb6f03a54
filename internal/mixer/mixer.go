// Package mixer renders one outbound audio stream from a live microphone, a
// line-in feed, a looping feedback bed and a FIFO queue of decoded clips.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/logging"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/rtc"
)

const (
	// NoiseFeedbackGain applies to the generated white noise bed.
	NoiseFeedbackGain = 0.005
	// FileFeedbackGain applies to a feedback loop loaded from an asset.
	FileFeedbackGain = 0.05

	micBufferLimit = audio.SampleRate // one second
)

// Output receives every rendered frame.
type Output interface {
	WriteFrame(frame []int16) error
}

// Monitor is an optional local copy of the mix, e.g. the agent's speaker.
type Monitor interface {
	Write(samples []int16)
	Close() error
}

// State is a snapshot of the mixer.
type State struct {
	Playing         bool `json:"playing"`
	Queued          int  `json:"queued"`
	FeedbackEnabled bool `json:"feedbackEnabled"`
	FeedbackPlaying bool `json:"feedbackPlaying"`
	MicActive       bool `json:"micActive"`
	Muted           bool `json:"muted"`
}

type playbackRequest struct {
	samples []int16
	volume  float64
	pos     int
	done    chan error
}

func (p *playbackRequest) finish(err error) {
	p.done <- err
	close(p.done)
}

// Options configure a Mixer.
type Options struct {
	Name    string
	Devices audio.Devices
	Assets  rtc.AssetLoader
	Monitor Monitor
	Log     *zap.SugaredLogger
}

// Mixer sums its sources every 20ms into a SynthesizedOutput track.
type Mixer struct {
	mu      sync.Mutex
	name    string
	devices audio.Devices
	assets  rtc.AssetLoader
	track   *rtc.Track
	out     Output
	writer  *rtc.PacedWriter
	monitor Monitor
	log     *zap.SugaredLogger

	queue   []*playbackRequest
	current *playbackRequest
	playing bool

	feedbackEnabled bool
	feedbackPlaying bool
	feedbackBuf     []int16
	feedbackGain    float64
	feedbackPos     int

	micActive  bool
	micPending chan struct{}
	micCapture audio.Capture
	micGain    float64
	micBuf     []int16

	lineGain float64
	lineBuf  []int16

	frame    []float64
	stopCh   chan struct{}
	disposed bool
}

// New creates a mixer with its own Opus track and starts its frame clock.
func New(opts Options) (*Mixer, error) {
	local, err := rtc.NewLocalAudio(opts.Name)
	if err != nil {
		return nil, err
	}
	w, err := rtc.NewDirectWriter(local)
	if err != nil {
		return nil, err
	}
	m := newMixer(opts, rtc.NewTrack(rtc.TrackSynthesized, local, w, nil), w)
	m.writer = w
	go m.run()
	return m, nil
}

func newMixer(opts Options, track *rtc.Track, out Output) *Mixer {
	devices := opts.Devices
	if devices == nil {
		devices = audio.NoDevices{}
	}
	name := opts.Name
	if name == "" {
		name = "mixer"
	}
	return &Mixer{
		name:    name,
		devices: devices,
		assets:  opts.Assets,
		track:   track,
		out:     out,
		monitor: opts.Monitor,
		log:     logging.Or(opts.Log).Named(name),
		micGain: 1,
		frame:   make([]float64, audio.FrameSamples),
		stopCh:  make(chan struct{}),
	}
}

// Track is the mixed output; its type is SynthesizedOutput.
func (m *Mixer) Track() *rtc.Track { return m.track }

func (m *Mixer) run() {
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.renderFrame()
		}
	}
}

// renderFrame mixes one frame and advances every source by its length.
func (m *Mixer) renderFrame() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	for i := range m.frame {
		m.frame[i] = 0
	}

	if m.micActive && len(m.micBuf) > 0 {
		n := min(len(m.micBuf), len(m.frame))
		for i := 0; i < n; i++ {
			m.frame[i] += float64(m.micBuf[i]) * m.micGain
		}
		m.micBuf = m.micBuf[n:]
	}

	if m.lineGain > 0 && len(m.lineBuf) > 0 {
		n := min(len(m.lineBuf), len(m.frame))
		for i := 0; i < n; i++ {
			m.frame[i] += float64(m.lineBuf[i]) * m.lineGain
		}
		m.lineBuf = m.lineBuf[n:]
	}

	if m.feedbackPlaying && len(m.feedbackBuf) > 0 {
		for i := range m.frame {
			m.frame[i] += float64(m.feedbackBuf[m.feedbackPos]) * m.feedbackGain
			m.feedbackPos = (m.feedbackPos + 1) % len(m.feedbackBuf)
		}
	}

	var finished []*playbackRequest
	for i := 0; i < len(m.frame) && m.current != nil; {
		req := m.current
		n := min(len(req.samples)-req.pos, len(m.frame)-i)
		for j := 0; j < n; j++ {
			m.frame[i+j] += float64(req.samples[req.pos+j]) * req.volume
		}
		req.pos += n
		i += n
		if req.pos >= len(req.samples) {
			finished = append(finished, req)
			m.processQueueLocked()
		}
	}

	out := make([]int16, len(m.frame))
	for i, v := range m.frame {
		out[i] = audio.Clamp16(v)
	}
	sink, monitor := m.out, m.monitor
	m.mu.Unlock()

	for _, req := range finished {
		req.finish(nil)
	}
	if sink != nil {
		if err := sink.WriteFrame(out); err != nil && !errors.Is(err, audio.ErrDisposed) {
			m.log.Debugw("write frame", "error", err)
		}
	}
	if monitor != nil {
		monitor.Write(out)
	}
}

// processQueueLocked moves to the next queued item, or resumes feedback when
// the queue has drained and feedback is still wanted.
func (m *Mixer) processQueueLocked() {
	if len(m.queue) == 0 {
		m.current = nil
		m.playing = false
		if m.feedbackEnabled {
			m.startFeedbackLocked()
		}
		return
	}
	m.stopFeedbackLocked()
	m.playing = true
	m.current = m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
}

func (m *Mixer) startFeedbackLocked() {
	if m.feedbackPlaying || len(m.feedbackBuf) == 0 {
		return
	}
	m.feedbackPlaying = true
	m.feedbackPos = 0
}

func (m *Mixer) stopFeedbackLocked() {
	m.feedbackPlaying = false
}

// PlayAudioBuffer decodes data and queues it at the given gain. The returned
// channel yields nil once the clip has been rendered, ErrDecode right away
// when it cannot be decoded, or ErrDisposed when the mixer is torn down
// first.
func (m *Mixer) PlayAudioBuffer(data []byte, volume float64) <-chan error {
	done := make(chan error, 1)
	samples, err := audio.Decode(data)
	if err != nil {
		done <- err
		close(done)
		return done
	}
	return m.enqueue(samples, volume, done)
}

// PlaySamples queues already decoded audio at audio.SampleRate.
func (m *Mixer) PlaySamples(samples []int16, volume float64) <-chan error {
	return m.enqueue(samples, volume, make(chan error, 1))
}

func (m *Mixer) enqueue(samples []int16, volume float64, done chan error) <-chan error {
	req := &playbackRequest{samples: samples, volume: volume, done: done}
	if len(samples) == 0 {
		req.finish(nil)
		return done
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		req.finish(audio.ErrDisposed)
		return done
	}
	m.queue = append(m.queue, req)
	m.log.Debugw("clip queued", "samples", len(samples), "volume", volume, "queued", len(m.queue))
	if !m.playing {
		m.processQueueLocked()
	}
	return done
}

// EnableAudioFeedback loops the asset at path under every other source, or
// white noise when path is empty or cannot be loaded. Feedback waits while
// clips are queued.
func (m *Mixer) EnableAudioFeedback(ctx context.Context, path string) {
	buf, gain := m.loadFeedback(ctx, path)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.feedbackEnabled = true
	m.feedbackBuf = buf
	m.feedbackGain = gain
	if m.feedbackPos >= len(buf) {
		m.feedbackPos = 0
	}
	if !m.playing {
		m.startFeedbackLocked()
	}
}

func (m *Mixer) loadFeedback(ctx context.Context, path string) ([]int16, float64) {
	if path == "" || m.assets == nil {
		return audio.WhiteNoise(audio.WhiteNoiseSeconds), NoiseFeedbackGain
	}
	data, err := m.assets.Load(ctx, path)
	if err == nil {
		var samples []int16
		if samples, err = audio.Decode(data); err == nil && len(samples) > 0 {
			return samples, FileFeedbackGain
		}
	}
	m.log.Warnw("feedback asset unavailable, using white noise", "path", path, "error", err)
	return audio.WhiteNoise(audio.WhiteNoiseSeconds), NoiseFeedbackGain
}

// DisableAudioFeedback stops the feedback bed and keeps it from resuming.
func (m *Mixer) DisableAudioFeedback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedbackEnabled = false
	m.stopFeedbackLocked()
}

// StartMicrophone adds the capture device to the mix. Starting while active
// is a no-op and a start racing another waits for its outcome; a device
// failure leaves the mixer unchanged.
func (m *Mixer) StartMicrophone(deviceID string) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return audio.ErrDisposed
	}
	if m.micActive {
		m.mu.Unlock()
		return nil
	}
	if pending := m.micPending; pending != nil {
		m.mu.Unlock()
		<-pending
		m.mu.Lock()
		active, disposed := m.micActive, m.disposed
		m.mu.Unlock()
		switch {
		case active:
			return nil
		case disposed:
			return audio.ErrDisposed
		}
		return fmt.Errorf("%w: concurrent microphone start failed", audio.ErrDeviceAccess)
	}
	pending := make(chan struct{})
	m.micPending = pending
	m.mu.Unlock()

	capture, err := m.devices.OpenCapture(deviceID, audio.SampleRate, m.pushMic)

	m.mu.Lock()
	m.micPending = nil
	defer close(pending)
	if err != nil {
		m.mu.Unlock()
		if !errors.Is(err, audio.ErrDeviceAccess) {
			err = fmt.Errorf("%w: %v", audio.ErrDeviceAccess, err)
		}
		return err
	}
	if m.disposed {
		m.mu.Unlock()
		_ = capture.Stop()
		return audio.ErrDisposed
	}
	m.micCapture = capture
	m.micActive = true
	m.mu.Unlock()
	m.log.Infow("microphone started", "device", deviceID)
	return nil
}

func (m *Mixer) pushMic(samples []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.micActive {
		return
	}
	m.micBuf = append(m.micBuf, samples...)
	if over := len(m.micBuf) - micBufferLimit; over > 0 {
		m.micBuf = m.micBuf[over:]
	}
}

// StopMicrophone removes the microphone from the mix.
func (m *Mixer) StopMicrophone() error {
	m.mu.Lock()
	capture := m.micCapture
	m.micCapture = nil
	m.micActive = false
	m.micBuf = nil
	m.mu.Unlock()
	if capture == nil {
		return nil
	}
	return capture.Stop()
}

// SetMicrophoneVolume sets the microphone gain, clamped to [0, 1].
func (m *Mixer) SetMicrophoneVolume(v float64) {
	v = max(0, min(1, v))
	m.mu.Lock()
	m.micGain = v
	m.mu.Unlock()
}

// WriteLineIn mixes live audio captured at rate, such as the customer's
// untranslated voice, at the line-in gain. Audio written while the gain is
// zero is dropped.
func (m *Mixer) WriteLineIn(samples []int16, rate int) {
	if rate != audio.SampleRate {
		samples = audio.Resample(samples, rate, audio.SampleRate)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || m.lineGain == 0 {
		return
	}
	m.lineBuf = append(m.lineBuf, samples...)
	if over := len(m.lineBuf) - micBufferLimit; over > 0 {
		m.lineBuf = m.lineBuf[over:]
	}
}

// SetLineInVolume sets the line-in gain, clamped to [0, 1]. Zero mutes the
// line-in and discards anything buffered.
func (m *Mixer) SetLineInVolume(v float64) {
	v = max(0, min(1, v))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lineGain = v
	if v == 0 {
		m.lineBuf = nil
	}
}

func (m *Mixer) LineInVolume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lineGain
}

// MicrophoneVolume returns the current microphone gain.
func (m *Mixer) MicrophoneVolume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micGain
}

// Mute silences the mixer's track without stopping any source.
func (m *Mixer) Mute()   { m.track.SetEnabled(false) }
func (m *Mixer) Unmute() { m.track.SetEnabled(true) }

func (m *Mixer) IsMuted() bool { return !m.track.Enabled() }

func (m *Mixer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Playing:         m.playing,
		Queued:          len(m.queue),
		FeedbackEnabled: m.feedbackEnabled,
		FeedbackPlaying: m.feedbackPlaying,
		MicActive:       m.micActive,
		Muted:           !m.track.Enabled(),
	}
}

// Dispose stops every source and the output track. Clips still queued or
// playing complete with ErrDisposed.
func (m *Mixer) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	pending := m.queue
	if m.current != nil {
		pending = append([]*playbackRequest{m.current}, pending...)
	}
	m.queue, m.current, m.playing = nil, nil, false
	m.feedbackEnabled = false
	m.stopFeedbackLocked()
	capture := m.micCapture
	m.micCapture, m.micActive, m.micBuf = nil, false, nil
	m.lineGain, m.lineBuf = 0, nil
	monitor := m.monitor
	m.monitor = nil
	close(m.stopCh)
	m.mu.Unlock()

	for _, req := range pending {
		req.finish(audio.ErrDisposed)
	}
	var errs []error
	if capture != nil {
		errs = append(errs, capture.Stop())
	}
	if m.writer != nil {
		m.writer.Close()
	}
	errs = append(errs, m.track.Stop())
	if monitor != nil {
		errs = append(errs, monitor.Close())
	}
	m.log.Infow("mixer disposed", "rejected", len(pending))
	return errors.Join(errs...)
}
