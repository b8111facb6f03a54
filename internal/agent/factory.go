package agent

import (
	"time"

	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/logging"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/mixer"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/rtc"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/transcript"
)

// MediaFactory builds the real mixers, routers and transcription sessions.
type MediaFactory struct {
	Devices       audio.Devices
	Assets        rtc.AssetLoader
	Streamer      transcript.Streamer
	SpeakerDevice string
	// Timeout bounds each transcription stream handshake.
	Timeout time.Duration
}

func (f MediaFactory) devices() audio.Devices {
	if f.Devices == nil {
		return audio.NoDevices{}
	}
	return f.Devices
}

// NewMixer builds a mixer; the to-agent mix is also played on the local speaker.
func (f MediaFactory) NewMixer(kind MixerKind, log *zap.SugaredLogger) (Mixer, error) {
	opts := mixer.Options{Name: string(kind), Devices: f.devices(), Assets: f.Assets, Log: log}
	if kind == ToAgent {
		speaker, err := f.devices().OpenPlayback(f.SpeakerDevice, audio.SampleRate)
		if err != nil {
			logging.Or(log).Warnw("speaker unavailable, agent mix not monitored", "error", err)
		} else {
			opts.Monitor = speaker
		}
	}
	return mixer.New(opts)
}

func (f MediaFactory) NewRouter(pc rtc.PeerConnection, log *zap.SugaredLogger) (Router, error) {
	return rtc.NewTrackRouter(pc, f.devices(), f.Assets, log)
}

func (f MediaFactory) NewTranscriber(dir transcript.Direction, log *zap.SugaredLogger) Transcriber {
	s := transcript.NewSession(dir, f.Streamer, log)
	s.SetStartTimeout(f.Timeout)
	return s
}

// AgentAudio opens the agent's microphone at the transcription rate.
func (f MediaFactory) AgentAudio(deviceID string) (transcript.AudioSource, error) {
	return transcript.OpenMicrophone(f.devices(), deviceID, audio.TranscribeSampleRate)
}
