// Package translate wraps Amazon Translate.
package translate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstranslate "github.com/aws/aws-sdk-go-v2/service/translate"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/awsclient"
)

const listPageSize = 500

// API is the part of the Translate client used here.
type API interface {
	TranslateText(ctx context.Context, in *awstranslate.TranslateTextInput, opts ...func(*awstranslate.Options)) (*awstranslate.TranslateTextOutput, error)
	ListLanguages(ctx context.Context, in *awstranslate.ListLanguagesInput, opts ...func(*awstranslate.Options)) (*awstranslate.ListLanguagesOutput, error)
}

// ClientFunc returns a client with current credentials.
type ClientFunc func(ctx context.Context) (API, error)

// Language is a translation language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Translator struct {
	client ClientFunc
}

func New(client ClientFunc) *Translator { return &Translator{client: client} }

// TranslateText translates text between two language codes.
func (t *Translator) TranslateText(ctx context.Context, from, to, text string) (string, error) {
	if from == "" || to == "" || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: translate needs source, target and text", audio.ErrInvalidInput)
	}
	if strings.EqualFold(from, to) {
		return text, nil
	}
	c, err := t.client(ctx)
	if err != nil {
		return "", err
	}
	out, err := c.TranslateText(ctx, &awstranslate.TranslateTextInput{
		SourceLanguageCode: aws.String(from),
		TargetLanguageCode: aws.String(to),
		Text:               aws.String(text),
	})
	if err != nil {
		return "", awsclient.Classify("translate text", err)
	}
	return aws.ToString(out.TranslatedText), nil
}

// ListLanguages returns every supported language sorted by name.
func (t *Translator) ListLanguages(ctx context.Context) ([]Language, error) {
	c, err := t.client(ctx)
	if err != nil {
		return nil, err
	}
	var (
		langs []Language
		next  *string
	)
	for {
		out, err := c.ListLanguages(ctx, &awstranslate.ListLanguagesInput{
			MaxResults: aws.Int32(listPageSize),
			NextToken:  next,
		})
		if err != nil {
			return nil, awsclient.Classify("list languages", err)
		}
		for _, l := range out.Languages {
			langs = append(langs, Language{Code: aws.ToString(l.LanguageCode), Name: aws.ToString(l.LanguageName)})
		}
		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		next = out.NextToken
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i].Name < langs[j].Name })
	return langs, nil
}
