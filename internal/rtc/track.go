package rtc

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
)

// TrackType names the source behind an outbound track.
type TrackType string

const (
	TrackFile        TrackType = "FILE"
	TrackMicrophone  TrackType = "MIC"
	TrackSynthesized TrackType = "SYNTHESIZED"
	TrackSilent      TrackType = "SILENT"
)

// Track is an audio-producing handle that can be attached to the outbound sender.
type Track struct {
	typ    TrackType
	local  webrtc.TrackLocal
	writer *PacedWriter

	once    sync.Once
	release func() error
	stopErr error
}

// NewTrack wraps a local track. release, when non-nil, frees whatever feeds
// it and runs once on Stop.
func NewTrack(typ TrackType, local webrtc.TrackLocal, writer *PacedWriter, release func() error) *Track {
	return &Track{typ: typ, local: local, writer: writer, release: release}
}

// NewLocalAudio creates the Opus sample track every outbound source writes to.
func NewLocalAudio(label string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: 1},
		label+"-"+uuid.NewString()[:8], "v2v",
	)
}

func (t *Track) Type() TrackType         { return t.typ }
func (t *Track) Local() webrtc.TrackLocal { return t.local }

// ID of the underlying local track.
func (t *Track) ID() string {
	if t.local == nil {
		return ""
	}
	return t.local.ID()
}

// SetEnabled mutes or unmutes the encoded output. Tracks without an encoder
// are always silent.
func (t *Track) SetEnabled(enabled bool) {
	if t.writer != nil {
		t.writer.SetMuted(!enabled)
	}
}

// Enabled reports whether the track is producing audio.
func (t *Track) Enabled() bool {
	return t.writer != nil && !t.writer.Muted()
}

// Stop releases the track's source. Safe to call repeatedly.
func (t *Track) Stop() error {
	t.once.Do(func() {
		if t.release != nil {
			t.stopErr = t.release()
		}
	})
	return t.stopErr
}
