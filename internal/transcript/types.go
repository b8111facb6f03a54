// Package transcript streams call audio to a speech-to-text service and
// hands partial and final transcripts back to the caller.
package transcript

import (
	"context"
	"errors"
)

var (
	// ErrArgument is returned when Start is missing a required parameter.
	ErrArgument = errors.New("transcript: missing argument")
	// ErrStreaming is returned by Start on a session that is already running.
	ErrStreaming = errors.New("transcript: session already streaming")
)

// Direction identifies whose speech a session transcribes.
type Direction string

const (
	Customer Direction = "customer"
	Agent    Direction = "agent"
)

// AudioSource produces little-endian 16-bit mono PCM chunks.
type AudioSource interface {
	SampleRate() int
	Chunks() <-chan []byte
	Stop() error
}

// Result is one recognition hypothesis set.
type Result struct {
	Partial      bool
	Alternatives []string
}

// Event is one message from the recognition stream. Events without results
// carry no transcript.
type Event struct {
	Results []Result
}

// StreamConfig opens a stream.
type StreamConfig struct {
	LanguageCode string
	SampleRate   int
}

// Stream is a bidirectional recognition channel.
type Stream interface {
	Send(ctx context.Context, chunk []byte) error
	Events() <-chan Event
	Close() error
	Err() error
}

// Streamer opens recognition streams.
type Streamer interface {
	StartStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Handler receives transcript text.
type Handler func(text string)
