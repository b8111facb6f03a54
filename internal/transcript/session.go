package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/logging"
)

// State of a session.
type State int

const (
	StateIdle State = iota
	StateStreaming
	// StateStopped means the stream ended on its own; Stop still has to
	// release the source.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

const (
	drainTimeout        = 3 * time.Second
	defaultStartTimeout = 10 * time.Second
)

type swapRequest struct {
	src AudioSource
	ack chan struct{}
}

// Session is one direction's transcription stream. Callbacks run on a
// single goroutine in stream order.
type Session struct {
	dir       Direction
	streamer  Streamer
	newSilent func(rate int) AudioSource
	log       *zap.SugaredLogger
	muted     atomic.Bool

	startTimeout time.Duration

	mu           sync.Mutex
	state        State
	source       AudioSource
	stream       Stream
	swap         chan swapRequest
	cancelFwd    context.CancelFunc
	cancelStream context.CancelFunc
	fwdDone      chan struct{}
	recvDone     chan struct{}
}

func NewSession(dir Direction, streamer Streamer, log *zap.SugaredLogger) *Session {
	return &Session{
		dir:          dir,
		streamer:     streamer,
		newSilent:    func(rate int) AudioSource { return NewSilentSource(rate) },
		startTimeout: defaultStartTimeout,
		log:          logging.Or(log).Named("transcribe").With("direction", string(dir)),
	}
}

func (s *Session) Direction() Direction { return s.dir }

// SetStartTimeout bounds the stream handshake in Start.
func (s *Session) SetStartTimeout(d time.Duration) {
	if d > 0 {
		s.mu.Lock()
		s.startTimeout = d
		s.mu.Unlock()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetMuted replaces forwarded audio with silence while true.
func (s *Session) SetMuted(m bool) { s.muted.Store(m) }

func (s *Session) Muted() bool { return s.muted.Load() }

// Start opens a stream for languageCode and forwards source to it. The
// stream outlives ctx's cancellation; only Stop ends it.
func (s *Session) Start(ctx context.Context, source AudioSource, languageCode string, onFinal, onPartial Handler) error {
	switch {
	case source == nil:
		return fmt.Errorf("%w: audio source", ErrArgument)
	case languageCode == "":
		return fmt.Errorf("%w: language code", ErrArgument)
	case onFinal == nil:
		return fmt.Errorf("%w: final transcript handler", ErrArgument)
	case onPartial == nil:
		return fmt.Errorf("%w: partial transcript handler", ErrArgument)
	case s.streamer == nil:
		return fmt.Errorf("%w: streamer", ErrArgument)
	}

	// a stream that ended on its own still holds its source
	if s.State() == StateStopped {
		if err := s.Stop(); err != nil {
			s.log.Warnw("release ended stream", "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return ErrStreaming
	}

	streamCtx, cancelStream := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := s.open(ctx, streamCtx, StreamConfig{LanguageCode: languageCode, SampleRate: source.SampleRate()})
	if err != nil {
		cancelStream()
		return fmt.Errorf("start %s transcription: %w", s.dir, err)
	}
	fwdCtx, cancelFwd := context.WithCancel(streamCtx)

	s.state = StateStreaming
	s.source = source
	s.stream = stream
	s.swap = make(chan swapRequest)
	s.cancelFwd = cancelFwd
	s.cancelStream = cancelStream
	s.fwdDone = make(chan struct{})
	s.recvDone = make(chan struct{})

	go s.forward(fwdCtx, stream, source, s.swap, s.fwdDone)
	go s.receive(stream, onFinal, onPartial, s.recvDone)
	s.log.Infow("transcription started", "language", languageCode, "rate", source.SampleRate())
	return nil
}

type openResult struct {
	stream Stream
	err    error
}

// open runs the handshake on streamCtx, giving up after startTimeout or when
// ctx is done. A stream that arrives late is closed.
func (s *Session) open(ctx, streamCtx context.Context, cfg StreamConfig) (Stream, error) {
	res := make(chan openResult, 1)
	go func() {
		stream, err := s.streamer.StartStream(streamCtx, cfg)
		res <- openResult{stream: stream, err: err}
	}()
	timer := time.NewTimer(s.startTimeout)
	defer timer.Stop()

	var err error
	select {
	case r := <-res:
		return r.stream, r.err
	case <-timer.C:
		err = context.DeadlineExceeded
	case <-ctx.Done():
		err = ctx.Err()
	}
	go func() {
		if r := <-res; r.stream != nil {
			_ = r.stream.Close()
		}
	}()
	return nil, err
}

func (s *Session) forward(ctx context.Context, stream Stream, src AudioSource, swap <-chan swapRequest, done chan struct{}) {
	defer close(done)
	chunks := src.Chunks()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-swap:
			chunks = req.src.Chunks()
			close(req.ack)
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if s.muted.Load() {
				chunk = make([]byte, len(chunk))
			}
			if err := stream.Send(ctx, chunk); err != nil && ctx.Err() == nil {
				s.log.Warnw("send audio chunk", "error", err)
			}
		}
	}
}

func (s *Session) receive(stream Stream, onFinal, onPartial Handler, done chan struct{}) {
	defer close(done)
	for ev := range stream.Events() {
		for _, r := range ev.Results {
			if len(r.Alternatives) == 0 || r.Alternatives[0] == "" {
				continue
			}
			if r.Partial {
				onPartial(r.Alternatives[0])
			} else {
				onFinal(r.Alternatives[0])
			}
		}
	}
	if err := stream.Err(); err != nil {
		s.log.Warnw("transcription stream ended", "error", err)
	}
	s.mu.Lock()
	if s.stream == stream && s.state == StateStreaming {
		s.state = StateStopped
	}
	s.mu.Unlock()
}

// Stop switches the stream to a silent source, waits for in-flight chunks,
// closes the stream and only then stops the caller's source.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	src, stream, swap := s.source, s.stream, s.swap
	cancelFwd, cancelStream := s.cancelFwd, s.cancelStream
	fwdDone, recvDone := s.fwdDone, s.recvDone
	s.state = StateIdle
	s.source, s.stream, s.swap = nil, nil, nil
	s.cancelFwd, s.cancelStream = nil, nil
	s.fwdDone, s.recvDone = nil, nil
	s.mu.Unlock()

	ack := make(chan struct{})
	select {
	case swap <- swapRequest{src: s.newSilent(src.SampleRate()), ack: ack}:
		<-ack
	case <-fwdDone:
	}
	cancelFwd()
	<-fwdDone

	var errs []error
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	select {
	case <-recvDone:
	case <-time.After(drainTimeout):
		s.log.Warnw("transcript receiver did not drain")
	}
	cancelStream()
	if err := src.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop source: %w", err))
	}
	s.log.Infow("transcription stopped")
	return errors.Join(errs...)
}
