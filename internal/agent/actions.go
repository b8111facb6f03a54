package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/transcript"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/translate"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/tts"
)

func (c *Coordinator) requireMedia() (*callMedia, error) {
	if m := c.currentMedia(); m != nil {
		return m, nil
	}
	return nil, ErrNoCall
}

// StartCustomerTranscription streams the customer's inbound audio to
// transcription and routes the to-customer mix onto the call.
func (c *Coordinator) StartCustomerTranscription(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	m, err := c.requireMedia()
	if err != nil {
		return err
	}
	s := c.Settings()
	if s.FeedbackEnabled {
		c.enableFeedback(ctx, m.toCustomer, s.FeedbackPath)
	}
	if err := m.router.ReplaceTrack(m.toCustomer.Track()); err != nil {
		c.log.Warnw("route to-customer mix", "error", err)
	}
	if m.customerAudio == nil {
		return fmt.Errorf("%w: customer audio", transcript.ErrArgument)
	}
	src := m.customerAudio()
	if err := c.customerTx.Start(ctx, src, s.CustomerLanguage, c.onFinal(transcript.Customer), c.onPartial(transcript.Customer)); err != nil {
		_ = src.Stop()
		c.notifyError("start customer transcription", err)
		return err
	}
	c.applyCustomerPassthrough(m)
	c.log.Infow("customer transcription started", "language", s.CustomerLanguage)
	c.notifyControls()
	return nil
}

func (c *Coordinator) StopCustomerTranscription() error {
	c.op.Lock()
	defer c.op.Unlock()
	err := c.customerTx.Stop()
	if m := c.currentMedia(); m != nil {
		m.toCustomer.DisableAudioFeedback()
		c.applyCustomerPassthrough(m)
	}
	c.notifyControls()
	return err
}

// StartAgentTranscription streams the agent's microphone to transcription,
// optionally mixing the raw microphone into the customer's audio.
func (c *Coordinator) StartAgentTranscription(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	m, err := c.requireMedia()
	if err != nil {
		return err
	}
	s := c.Settings()
	c.mu.Lock()
	muted := c.agentMuted
	c.mu.Unlock()
	if s.FeedbackEnabled {
		c.enableFeedback(ctx, m.toAgent, s.FeedbackPath)
	}
	if err := m.router.ReplaceTrack(m.toCustomer.Track()); err != nil {
		c.log.Warnw("route to-customer mix", "error", err)
	}
	if s.AgentStreamMic && !muted {
		c.startAgentMic(m, s)
	}
	src, err := c.factory.AgentAudio(s.MicDeviceID)
	if err != nil {
		c.notifyError("open agent microphone", err)
		return err
	}
	if err := c.agentTx.Start(ctx, src, s.AgentLanguage, c.onFinal(transcript.Agent), c.onPartial(transcript.Agent)); err != nil {
		_ = src.Stop()
		c.notifyError("start agent transcription", err)
		return err
	}
	c.agentTx.SetMuted(muted)
	c.log.Infow("agent transcription started", "language", s.AgentLanguage)
	c.notifyControls()
	return nil
}

func (c *Coordinator) StopAgentTranscription() error {
	c.op.Lock()
	defer c.op.Unlock()
	err := c.agentTx.Stop()
	if m := c.currentMedia(); m != nil {
		m.toAgent.DisableAudioFeedback()
		if merr := m.toCustomer.StopMicrophone(); merr != nil {
			c.log.Warnw("stop microphone", "error", merr)
		}
	}
	c.notifyControls()
	return err
}

func (c *Coordinator) startAgentMic(m *callMedia, s Settings) {
	if err := m.toCustomer.StartMicrophone(s.MicDeviceID); err != nil {
		c.notifyError("start microphone", err)
		return
	}
	m.toCustomer.SetMicrophoneVolume(s.MicVolume)
}

// enableFeedback loads the feedback asset within the service timeout.
func (c *Coordinator) enableFeedback(ctx context.Context, mx Mixer, path string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	mx.EnableAudioFeedback(ctx, path)
}

// applyCustomerPassthrough sets how loud the agent hears the customer's
// untranslated voice: in full with no translation running, otherwise at
// CustomerOriginalToAgentVolume or not at all.
func (c *Coordinator) applyCustomerPassthrough(m *callMedia) {
	vol := 1.0
	if c.customerTx.State() == transcript.StateStreaming {
		vol = 0
		if c.Settings().CustomerStreamMic {
			vol = CustomerOriginalToAgentVolume
		}
	}
	m.toAgent.SetLineInVolume(vol)
}

// ToggleAgentMute flips the agent mute and returns the new value. While the
// agent's transcription runs with the microphone mixed to the customer, the
// microphone is stopped on mute and restarted on unmute.
func (c *Coordinator) ToggleAgentMute() bool {
	c.op.Lock()
	defer c.op.Unlock()
	c.mu.Lock()
	c.agentMuted = !c.agentMuted
	muted := c.agentMuted
	c.mu.Unlock()
	c.agentTx.SetMuted(muted)
	s := c.Settings()
	if m := c.currentMedia(); m != nil && s.AgentStreamMic && c.agentTx.State() == transcript.StateStreaming {
		if muted {
			if err := m.toCustomer.StopMicrophone(); err != nil {
				c.log.Warnw("stop microphone", "error", err)
			}
		} else {
			c.startAgentMic(m, s)
		}
	}
	c.notifyControls()
	return muted
}

// StreamFile sends the configured audio file to the customer directly.
func (c *Coordinator) StreamFile(ctx context.Context, path string) error {
	c.op.Lock()
	defer c.op.Unlock()
	m, err := c.requireMedia()
	if err != nil {
		return err
	}
	if path == "" {
		path = c.Settings().StreamFile
	}
	loadCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	track, err := m.router.CreateFileTrack(loadCtx, path)
	if err != nil {
		c.notifyError("stream file", err)
		return err
	}
	return m.router.ReplaceTrack(track)
}

// StreamMicrophone sends the agent's microphone to the customer directly.
func (c *Coordinator) StreamMicrophone() error {
	c.op.Lock()
	defer c.op.Unlock()
	m, err := c.requireMedia()
	if err != nil {
		return err
	}
	if err := m.router.UseMicrophone(c.Settings().MicDeviceID); err != nil {
		c.notifyError("stream microphone", err)
		return err
	}
	return nil
}

// RemoveAudioTrack puts the customer back on silence.
func (c *Coordinator) RemoveAudioTrack() error {
	c.op.Lock()
	defer c.op.Unlock()
	m, err := c.requireMedia()
	if err != nil {
		return err
	}
	return m.router.UseSilence()
}

// SetFeedback toggles the background feedback loop on the customer mix.
func (c *Coordinator) SetFeedback(ctx context.Context, enabled bool) {
	c.op.Lock()
	defer c.op.Unlock()
	c.mu.Lock()
	c.settings.FeedbackEnabled = enabled
	path := c.settings.FeedbackPath
	c.mu.Unlock()
	m := c.currentMedia()
	if m == nil {
		return
	}
	switch {
	case !enabled:
		m.toCustomer.DisableAudioFeedback()
		m.toAgent.DisableAudioFeedback()
	default:
		if c.customerTx.State() == transcript.StateStreaming {
			c.enableFeedback(ctx, m.toCustomer, path)
		}
		if c.agentTx.State() == transcript.StateStreaming {
			c.enableFeedback(ctx, m.toAgent, path)
		}
	}
}

func (c *Coordinator) SetMicVolume(v float64) {
	c.op.Lock()
	defer c.op.Unlock()
	v = max(0, min(1, v))
	c.mu.Lock()
	c.settings.MicVolume = v
	c.mu.Unlock()
	if m := c.currentMedia(); m != nil {
		m.toCustomer.SetMicrophoneVolume(v)
	}
}

// UpdateSettings replaces the session settings. Running transcriptions keep
// their language until restarted.
func (c *Coordinator) UpdateSettings(s Settings) Settings {
	c.op.Lock()
	defer c.op.Unlock()
	c.mu.Lock()
	c.settings = c.settings.merge(s)
	out := c.settings
	c.mu.Unlock()
	if m := c.currentMedia(); m != nil {
		c.applyCustomerPassthrough(m)
	}
	return out
}

// TranslateText translates typed agent text into the customer's language
// and, during a call, speaks the translation to the customer.
func (c *Coordinator) TranslateText(ctx context.Context, text string) (string, error) {
	s := c.Settings()
	out, err := c.translate(ctx, s.AgentLanguage, s.CustomerLanguage, text)
	if err != nil {
		c.notifyError("translate text", err)
		return "", err
	}
	c.recordTurn(string(transcript.Agent), text, out)
	c.notifier.Notify(Notification{Type: NoteTranslation, Direction: string(transcript.Agent), Text: out})

	m := c.currentMedia()
	if m == nil {
		return out, nil
	}
	clip, err := c.synthesize(ctx, tts.Request{Text: out, LanguageCode: s.CustomerLanguage, VoiceID: s.AgentVoiceID, Engine: s.Engine})
	if err != nil {
		c.notifyError("synthesize text", err)
		return out, err
	}
	done, err := c.playToCustomer(m, clip, s)
	if err != nil {
		return out, err
	}
	go func() {
		if err := <-done; err != nil && !errors.Is(err, audio.ErrDisposed) {
			c.notifyError("play translation", err)
		}
	}()
	return out, nil
}

// playToCustomer routes the to-customer mix and queues clip on it, echoing
// to the agent when enabled. m must still be the current media.
func (c *Coordinator) playToCustomer(m *callMedia, clip []byte, s Settings) (<-chan error, error) {
	c.op.Lock()
	defer c.op.Unlock()
	if c.currentMedia() != m {
		return nil, ErrNoCall
	}
	if err := m.router.ReplaceTrack(m.toCustomer.Track()); err != nil {
		c.log.Warnw("route to-customer mix", "error", err)
	}
	done := m.toCustomer.PlayAudioBuffer(clip, 1)
	if s.AgentEchoTranslation {
		m.toAgent.PlayAudioBuffer(clip, AgentTranslationToAgentVolume)
	}
	return done, nil
}

// SpeakText synthesizes text in the agent's voice and plays it to the
// customer.
func (c *Coordinator) SpeakText(ctx context.Context, text string) error {
	m, err := c.requireMedia()
	if err != nil {
		return err
	}
	s := c.Settings()
	clip, err := c.synthesize(ctx, tts.Request{Text: text, LanguageCode: s.CustomerLanguage, VoiceID: s.AgentVoiceID, Engine: s.Engine})
	if err != nil {
		c.notifyError("synthesize text", err)
		return err
	}
	done, err := c.playToCustomer(m, clip, s)
	if err != nil {
		return err
	}
	c.recordTurn(string(transcript.Agent), text, "")
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) ListLanguages(ctx context.Context) ([]translate.Language, error) {
	if c.svc.Translator == nil {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.svc.Translator.ListLanguages(ctx)
}

func (c *Coordinator) ListVoices(ctx context.Context, languageCode string) ([]tts.Voice, error) {
	if c.svc.Synthesizer == nil {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.svc.Synthesizer.DescribeVoices(ctx, languageCode, c.Settings().Engine)
}
