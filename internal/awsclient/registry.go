// Package awsclient builds the AWS service clients used during a call and
// keeps their credentials fresh.
package awsclient

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/translate"
	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/logging"
)

// CredentialExpiryBuffer is how long before expiry credentials are renewed.
const CredentialExpiryBuffer = 15 * time.Minute

// NeedsRefresh reports whether c is missing or expires within the buffer.
func NeedsRefresh(c aws.Credentials, now time.Time) bool {
	if !c.HasKeys() {
		return true
	}
	if !c.CanExpire {
		return false
	}
	return !now.Add(CredentialExpiryBuffer).Before(c.Expires)
}

// Regions per service; empty values fall back to Default.
type Regions struct {
	Default    string
	Transcribe string
	Translate  string
	Polly      string
}

func (r Regions) pick(v string) string {
	if v != "" {
		return v
	}
	return r.Default
}

// Registry lazily constructs service clients. Every client is rebuilt after
// a credential refresh.
type Registry struct {
	mu       sync.Mutex
	base     aws.Config
	regions  Regions
	provider aws.CredentialsProvider
	creds    aws.Credentials
	now      func() time.Time
	log      *zap.SugaredLogger

	transcribe *transcribestreaming.Client
	translate  *translate.Client
	polly      *polly.Client
	s3         *s3.Client
}

// NewRegistry uses provider, or base.Credentials when provider is nil.
func NewRegistry(base aws.Config, regions Regions, provider aws.CredentialsProvider, log *zap.SugaredLogger) *Registry {
	if provider == nil {
		provider = base.Credentials
	}
	if regions.Default == "" {
		regions.Default = base.Region
	}
	return &Registry{
		base:     base,
		regions:  regions,
		provider: provider,
		now:      time.Now,
		log:      logging.Or(log).Named("awsclient"),
	}
}

// SetProvider swaps the credential source and drops every cached client.
func (r *Registry) SetProvider(p aws.CredentialsProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provider = p
	r.resetLocked()
}

// Invalidate forces the next client request to fetch new credentials.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Registry) resetLocked() {
	r.creds = aws.Credentials{}
	r.transcribe, r.translate, r.polly, r.s3 = nil, nil, nil, nil
}

func (r *Registry) ensureLocked(ctx context.Context) error {
	if !NeedsRefresh(r.creds, r.now()) {
		return nil
	}
	if r.provider == nil {
		return Classify("credentials", errNoProvider)
	}
	creds, err := r.provider.Retrieve(ctx)
	if err != nil {
		return Classify("credentials", err)
	}
	r.resetLocked()
	r.creds = creds
	r.log.Infow("credentials refreshed", "source", creds.Source, "expires", creds.Expires, "can_expire", creds.CanExpire)
	return nil
}

func (r *Registry) configLocked(region string) aws.Config {
	cfg := r.base.Copy()
	cfg.Credentials = credentials.StaticCredentialsProvider{Value: r.creds}
	cfg.Region = r.regions.pick(region)
	return cfg
}

func (r *Registry) Transcribe(ctx context.Context) (*transcribestreaming.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLocked(ctx); err != nil {
		return nil, err
	}
	if r.transcribe == nil {
		r.transcribe = transcribestreaming.NewFromConfig(r.configLocked(r.regions.Transcribe))
	}
	return r.transcribe, nil
}

func (r *Registry) Translate(ctx context.Context) (*translate.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLocked(ctx); err != nil {
		return nil, err
	}
	if r.translate == nil {
		r.translate = translate.NewFromConfig(r.configLocked(r.regions.Translate))
	}
	return r.translate, nil
}

func (r *Registry) Polly(ctx context.Context) (*polly.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLocked(ctx); err != nil {
		return nil, err
	}
	if r.polly == nil {
		r.polly = polly.NewFromConfig(r.configLocked(r.regions.Polly))
	}
	return r.polly, nil
}

func (r *Registry) S3(ctx context.Context) (*s3.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLocked(ctx); err != nil {
		return nil, err
	}
	if r.s3 == nil {
		r.s3 = s3.NewFromConfig(r.configLocked(""))
	}
	return r.s3, nil
}
