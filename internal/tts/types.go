// Package tts turns translated text into audio clips the mixers can play.
package tts

import "context"

// Request describes one synthesis.
type Request struct {
	Text         string
	LanguageCode string
	VoiceID      string
	Engine       string
}

// Voice is a selectable speaker.
type Voice struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	LanguageCode string   `json:"languageCode"`
	Gender       string   `json:"gender,omitempty"`
	Engines      []string `json:"engines,omitempty"`
}

// Synthesizer returns an encoded clip (MP3 or WAV) for a request.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, req Request) ([]byte, error)
	DescribeVoices(ctx context.Context, languageCode, engine string) ([]Voice, error)
}
