package transcript

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/awsclient"
)

// TranscribeClientFunc returns a client with current credentials.
type TranscribeClientFunc func(ctx context.Context) (*transcribestreaming.Client, error)

// AWSStreamer opens Amazon Transcribe streaming sessions over PCM.
type AWSStreamer struct {
	client TranscribeClientFunc
}

func NewAWSStreamer(client TranscribeClientFunc) *AWSStreamer {
	return &AWSStreamer{client: client}
}

func (a *AWSStreamer) StartStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	client, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.StartStreamTranscription(ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(cfg.LanguageCode),
		MediaEncoding:        types.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(int32(cfg.SampleRate)),
	})
	if err != nil {
		return nil, awsclient.Classify("transcribe start stream", err)
	}
	s := &awsStream{es: out.GetStream(), events: make(chan Event, 16)}
	go s.pump()
	return s, nil
}

type awsStream struct {
	es     *transcribestreaming.StartStreamTranscriptionEventStream
	events chan Event
}

func (s *awsStream) pump() {
	defer close(s.events)
	for e := range s.es.Events() {
		te, ok := e.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok || te.Value.Transcript == nil {
			continue
		}
		var ev Event
		for _, r := range te.Value.Transcript.Results {
			res := Result{Partial: r.IsPartial}
			for _, alt := range r.Alternatives {
				res.Alternatives = append(res.Alternatives, aws.ToString(alt.Transcript))
			}
			ev.Results = append(ev.Results, res)
		}
		s.events <- ev
	}
}

func (s *awsStream) Send(ctx context.Context, chunk []byte) error {
	err := s.es.Writer.Send(ctx, &types.AudioStreamMemberAudioEvent{Value: types.AudioEvent{AudioChunk: chunk}})
	return awsclient.Classify("transcribe send", err)
}

func (s *awsStream) Events() <-chan Event { return s.events }

func (s *awsStream) Close() error { return s.es.Close() }

func (s *awsStream) Err() error { return awsclient.Classify("transcribe stream", s.es.Err()) }
