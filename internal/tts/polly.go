package tts

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/awsclient"
)

// PollyAPI is the part of the Polly client used here.
type PollyAPI interface {
	SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, opts ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
	DescribeVoices(ctx context.Context, in *polly.DescribeVoicesInput, opts ...func(*polly.Options)) (*polly.DescribeVoicesOutput, error)
}

// PollyClientFunc returns a client with current credentials.
type PollyClientFunc func(ctx context.Context) (PollyAPI, error)

// Polly synthesizes MP3 clips with Amazon Polly.
type Polly struct {
	client PollyClientFunc
}

func NewPolly(client PollyClientFunc) *Polly { return &Polly{client: client} }

func (p *Polly) SynthesizeSpeech(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" || req.VoiceID == "" {
		return nil, fmt.Errorf("%w: synthesis needs text and a voice", audio.ErrInvalidInput)
	}
	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	in := &polly.SynthesizeSpeechInput{
		OutputFormat: types.OutputFormatMp3,
		Text:         aws.String(req.Text),
		VoiceId:      types.VoiceId(req.VoiceID),
		SampleRate:   aws.String("24000"),
	}
	if req.Engine != "" {
		in.Engine = types.Engine(req.Engine)
	}
	if req.LanguageCode != "" {
		in.LanguageCode = types.LanguageCode(req.LanguageCode)
	}
	out, err := c.SynthesizeSpeech(ctx, in)
	if err != nil {
		return nil, awsclient.Classify("polly synthesize", err)
	}
	defer out.AudioStream.Close()
	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, awsclient.Classify("polly read audio", err)
	}
	return data, nil
}

func (p *Polly) DescribeVoices(ctx context.Context, languageCode, engine string) ([]Voice, error) {
	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	in := &polly.DescribeVoicesInput{}
	if languageCode != "" {
		in.LanguageCode = types.LanguageCode(languageCode)
	}
	if engine != "" {
		in.Engine = types.Engine(engine)
	}
	var voices []Voice
	for {
		out, err := c.DescribeVoices(ctx, in)
		if err != nil {
			return nil, awsclient.Classify("polly describe voices", err)
		}
		for _, v := range out.Voices {
			voice := Voice{
				ID:           string(v.Id),
				Name:         aws.ToString(v.Name),
				LanguageCode: string(v.LanguageCode),
				Gender:       string(v.Gender),
			}
			for _, e := range v.SupportedEngines {
				voice.Engines = append(voice.Engines, string(e))
			}
			voices = append(voices, voice)
		}
		if out.NextToken == nil || *out.NextToken == "" {
			return voices, nil
		}
		in.NextToken = out.NextToken
	}
}
