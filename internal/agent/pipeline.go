package agent

import (
	"context"
	"sync"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/transcript"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/tts"
)

const pipelineDepth = 32

// pipeline runs one worker per direction so each party's utterances are
// translated, synthesized and played in the order they were finalized.
type pipeline struct {
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	customer chan string
	agent    chan string
	once     sync.Once
}

func (c *Coordinator) startPipeline(m *callMedia) *pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{
		ctx:      ctx,
		cancel:   cancel,
		customer: make(chan string, pipelineDepth),
		agent:    make(chan string, pipelineDepth),
	}
	p.wg.Add(2)
	go c.runPipeline(p, m, transcript.Customer, p.customer)
	go c.runPipeline(p, m, transcript.Agent, p.agent)
	return p
}

func (c *Coordinator) runPipeline(p *pipeline, m *callMedia, dir transcript.Direction, in <-chan string) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case text := <-in:
			c.processFinal(p.ctx, m, dir, text)
		}
	}
}

// push queues text for dir, dropping it if the pipeline is stopped or full.
func (p *pipeline) push(dir transcript.Direction, text string) bool {
	ch := p.customer
	if dir == transcript.Agent {
		ch = p.agent
	}
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case ch <- text:
		return true
	default:
		return false
	}
}

// stop cancels in-flight work and waits for both workers to exit.
func (p *pipeline) stop() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

// onFinal returns the transcription callback for dir.
func (c *Coordinator) onFinal(dir transcript.Direction) transcript.Handler {
	return func(text string) {
		c.notifier.Notify(Notification{Type: NoteTranscript, Direction: string(dir), Text: text})
		m := c.currentMedia()
		if m == nil {
			c.recordTurn(string(dir), text, "")
			return
		}
		if !m.pipe.push(dir, text) {
			c.log.Warnw("translation pipeline full, dropping utterance", "direction", dir)
			c.recordTurn(string(dir), text, "")
		}
	}
}

func (c *Coordinator) onPartial(dir transcript.Direction) transcript.Handler {
	return func(text string) {
		c.notifier.Notify(Notification{Type: NoteTranscript, Direction: string(dir), Partial: true, Text: text})
	}
}

// processFinal translates one finalized utterance, synthesizes it and plays
// it to the other party, echoing to the speaker when enabled.
func (c *Coordinator) processFinal(ctx context.Context, m *callMedia, dir transcript.Direction, text string) {
	s := c.Settings()
	from, to := s.CustomerLanguage, s.AgentLanguage
	voice := s.CustomerVoiceID
	listener, speaker := m.toAgent, m.toCustomer
	echo, echoVolume := s.CustomerEchoTranslation, CustomerTranslationToCustomerVolume
	if dir == transcript.Agent {
		from, to = s.AgentLanguage, s.CustomerLanguage
		voice = s.AgentVoiceID
		listener, speaker = m.toCustomer, m.toAgent
		echo, echoVolume = s.AgentEchoTranslation, AgentTranslationToAgentVolume
	}

	translated, err := c.translate(ctx, from, to, text)
	if err != nil {
		if ctx.Err() == nil {
			c.notifyError("translate", err)
		}
		c.recordTurn(string(dir), text, "")
		return
	}
	c.recordTurn(string(dir), text, translated)
	c.notifier.Notify(Notification{Type: NoteTranslation, Direction: string(dir), Text: translated})

	clip, err := c.synthesize(ctx, tts.Request{Text: translated, LanguageCode: to, VoiceID: voice, Engine: s.Engine})
	if err != nil {
		if ctx.Err() == nil {
			c.notifyError("synthesize", err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	done := listener.PlayAudioBuffer(clip, 1)
	if echo {
		speaker.PlayAudioBuffer(clip, echoVolume)
	}
	go func() {
		if err := <-done; err != nil && ctx.Err() == nil {
			c.notifyError("play translation", err)
		}
	}()
}

func (c *Coordinator) translate(ctx context.Context, from, to, text string) (string, error) {
	if c.svc.Translator == nil {
		return "", ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.svc.Translator.TranslateText(ctx, translateCode(from), translateCode(to), text)
}

func (c *Coordinator) synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if c.svc.Synthesizer == nil {
		return nil, ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.svc.Synthesizer.SynthesizeSpeech(ctx, req)
}
