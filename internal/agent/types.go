package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/mixer"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/rtc"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/storage"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/transcript"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/translate"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/tts"
)

// Mixer is an outbound mix with a FIFO playback queue.
type Mixer interface {
	Track() *rtc.Track
	PlayAudioBuffer(data []byte, volume float64) <-chan error
	EnableAudioFeedback(ctx context.Context, path string)
	DisableAudioFeedback()
	StartMicrophone(deviceID string) error
	StopMicrophone() error
	SetMicrophoneVolume(v float64)
	WriteLineIn(samples []int16, rate int)
	SetLineInVolume(v float64)
	State() mixer.State
	Dispose() error
}

// Router owns the outbound sender of the softphone peer connection.
type Router interface {
	ReplaceTrack(t *rtc.Track) error
	CreateFileTrack(ctx context.Context, path string) (*rtc.Track, error)
	UseMicrophone(deviceID string) error
	UseSilence() error
	CurrentTrackInfo() (rtc.TrackInfo, bool)
	Dispose() error
}

// Transcriber is one direction's transcription session.
type Transcriber interface {
	Start(ctx context.Context, src transcript.AudioSource, languageCode string, onFinal, onPartial transcript.Handler) error
	Stop() error
	State() transcript.State
	SetMuted(bool)
	Muted() bool
}

// Translator translates text and lists languages.
type Translator interface {
	TranslateText(ctx context.Context, from, to, text string) (string, error)
	ListLanguages(ctx context.Context) ([]translate.Language, error)
}

// Archiver stores the transcript of a finished call.
type Archiver interface {
	Save(ctx context.Context, t storage.Transcript) error
}

// Notifier delivers user-visible updates to the softphone page.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// MixerKind selects which party hears a mixer.
type MixerKind string

const (
	ToCustomer MixerKind = "to-customer"
	ToAgent    MixerKind = "to-agent"
)

// Factory creates the per-call audio components.
type Factory interface {
	NewMixer(kind MixerKind, log *zap.SugaredLogger) (Mixer, error)
	NewRouter(pc rtc.PeerConnection, log *zap.SugaredLogger) (Router, error)
	NewTranscriber(dir transcript.Direction, log *zap.SugaredLogger) Transcriber
	AgentAudio(deviceID string) (transcript.AudioSource, error)
}

// Media is a newly negotiated softphone media session.
type Media struct {
	ConnectionID string
	Peer         rtc.PeerConnection
	// CustomerAudio returns a fresh source over the customer's inbound audio.
	CustomerAudio func() transcript.AudioSource
	// CustomerTap feeds every decoded customer chunk, at CustomerRate, to fn
	// until cancel is called.
	CustomerTap  func(fn func(samples []int16)) (cancel func())
	CustomerRate int
}

// Services are the remote collaborators of a coordinator.
type Services struct {
	Translator  Translator
	Synthesizer tts.Synthesizer
	Archive     Archiver
}
