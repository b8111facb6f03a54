package tts

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/awsclient"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/logging"
)

const (
	deepgramIdleWindow = 400 * time.Millisecond
	deepgramMaxWait    = 12 * time.Second
)

// Deepgram synthesizes over Deepgram's speak WebSocket and returns the
// linear16 stream wrapped as WAV. Voices are Deepgram models.
type Deepgram struct {
	apiKey     string
	model      string
	sampleRate int
}

func NewDeepgram(apiKey, model string) *Deepgram {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &Deepgram{apiKey: apiKey, model: model, sampleRate: audio.SampleRate}
}

func (d *Deepgram) DescribeVoices(_ context.Context, languageCode, _ string) ([]Voice, error) {
	return []Voice{{ID: d.model, Name: d.model, LanguageCode: languageCode}}, nil
}

func (d *Deepgram) SynthesizeSpeech(ctx context.Context, req Request) ([]byte, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram: API key missing")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: empty text", audio.ErrInvalidInput)
	}
	model := d.model
	if strings.HasPrefix(req.VoiceID, "aura") {
		model = req.VoiceID
	}

	var (
		mu           sync.Mutex
		pcm          bytes.Buffer
		lastRecvUnix int64
		seenAudio    int32
	)
	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		mu.Lock()
		pcm.Write(data)
		mu.Unlock()
		return nil
	}}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   "linear16",
		SampleRate: d.sampleRate,
	}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, awsclient.Classify("deepgram create ws client", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return nil, awsclient.Classify("deepgram connect", fmt.Errorf("connect failed"))
	}
	if err := dg.SpeakWithText(req.Text); err != nil {
		return nil, awsclient.Classify("deepgram speak text", err)
	}
	if err := dg.Flush(); err != nil {
		logging.L().Warnw("deepgram flush", "error", err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(deepgramMaxWait)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if atomic.LoadInt32(&seenAudio) == 1 {
			last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
			if time.Since(last) > deepgramIdleWindow {
				break
			}
		}
		if time.Now().After(deadline) {
			break
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if pcm.Len() == 0 {
		return nil, awsclient.Classify("deepgram synthesize", fmt.Errorf("no audio received"))
	}
	return audio.NewWavBuffer(pcm.Bytes(), d.sampleRate), nil
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
