package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/transcript"
)

// stalledStreamer never completes the handshake.
type stalledStreamer struct{}

func (stalledStreamer) StartStream(ctx context.Context, _ transcript.StreamConfig) (transcript.Stream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestMediaFactory_TranscriberHandshakeUsesTimeout(t *testing.T) {
	f := MediaFactory{Streamer: stalledStreamer{}, Timeout: 20 * time.Millisecond}
	tx := f.NewTranscriber(transcript.Customer, zap.NewNop().Sugar())
	noop := func(string) {}

	errc := make(chan error, 1)
	go func() {
		errc <- tx.Start(context.Background(), transcript.NewSilentSource(16000), "en-US", noop, noop)
	}()
	select {
	case err := <-errc:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected DeadlineExceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handshake not bounded by the factory timeout")
	}
	if tx.State() != transcript.StateIdle {
		t.Fatalf("state = %v", tx.State())
	}
}
