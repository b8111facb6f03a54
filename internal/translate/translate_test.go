package translate

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstranslate "github.com/aws/aws-sdk-go-v2/service/translate"
	"github.com/aws/aws-sdk-go-v2/service/translate/types"
	"github.com/aws/smithy-go"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/awsclient"
)

type fakeAPI struct {
	calls int
	err   error
	pages [][]types.Language
}

func (f *fakeAPI) TranslateText(_ context.Context, in *awstranslate.TranslateTextInput, _ ...func(*awstranslate.Options)) (*awstranslate.TranslateTextOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &awstranslate.TranslateTextOutput{TranslatedText: aws.String("[" + *in.TargetLanguageCode + "] " + *in.Text)}, nil
}

func (f *fakeAPI) ListLanguages(_ context.Context, in *awstranslate.ListLanguagesInput, _ ...func(*awstranslate.Options)) (*awstranslate.ListLanguagesOutput, error) {
	page := 0
	if in.NextToken != nil {
		page = 1
	}
	out := &awstranslate.ListLanguagesOutput{Languages: f.pages[page]}
	if page+1 < len(f.pages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func newTranslator(api *fakeAPI) *Translator {
	return New(func(context.Context) (API, error) { return api, nil })
}

func TestTranslateText(t *testing.T) {
	api := &fakeAPI{}
	tr := newTranslator(api)
	got, err := tr.TranslateText(context.Background(), "en", "es", "hello")
	if err != nil || got != "[es] hello" {
		t.Fatalf("unexpected result %q err=%v", got, err)
	}
	if same, _ := tr.TranslateText(context.Background(), "en", "EN", "hello"); same != "hello" || api.calls != 1 {
		t.Fatalf("expected same-language passthrough without a call")
	}
	if _, err := tr.TranslateText(context.Background(), "en", "es", "  "); !errors.Is(err, audio.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTranslateText_ServiceError(t *testing.T) {
	api := &fakeAPI{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	_, err := newTranslator(api).TranslateText(context.Background(), "en", "es", "hello")
	if !errors.Is(err, awsclient.ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
}

func TestListLanguages_PagesAndSorts(t *testing.T) {
	api := &fakeAPI{pages: [][]types.Language{
		{{LanguageCode: aws.String("es"), LanguageName: aws.String("Spanish")}},
		{{LanguageCode: aws.String("de"), LanguageName: aws.String("German")}},
	}}
	langs, err := newTranslator(api).ListLanguages(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(langs) != 2 || langs[0].Code != "de" || langs[1].Code != "es" {
		t.Fatalf("unexpected languages %+v", langs)
	}
}
