package awsclient

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
)

var (
	errNoProvider = errors.New("no credentials provider")
	errNoToken    = errors.New("no identity token")
)

// CognitoAPI is the part of the Cognito Identity client the provider uses.
type CognitoAPI interface {
	GetId(ctx context.Context, in *cognitoidentity.GetIdInput, opts ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error)
	GetCredentialsForIdentity(ctx context.Context, in *cognitoidentity.GetCredentialsForIdentityInput, opts ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error)
}

// CognitoProvider exchanges the agent's user pool ID token for temporary
// credentials from an identity pool.
type CognitoProvider struct {
	client       CognitoAPI
	poolID       string
	providerName string

	mu         sync.Mutex
	token      string
	identityID string
}

// NewCognitoProvider builds an unsigned Cognito Identity client from base.
func NewCognitoProvider(base aws.Config, poolID, providerName string) *CognitoProvider {
	cfg := base.Copy()
	cfg.Credentials = aws.AnonymousCredentials{}
	return &CognitoProvider{
		client:       cognitoidentity.NewFromConfig(cfg),
		poolID:       poolID,
		providerName: providerName,
	}
}

// SetToken replaces the ID token used for the next exchange.
func (p *CognitoProvider) SetToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if token != p.token {
		p.token = token
		p.identityID = ""
	}
}

func (p *CognitoProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return aws.Credentials{}, errNoToken
	}
	logins := map[string]string{p.providerName: p.token}
	if p.identityID == "" {
		out, err := p.client.GetId(ctx, &cognitoidentity.GetIdInput{
			IdentityPoolId: aws.String(p.poolID),
			Logins:         logins,
		})
		if err != nil {
			return aws.Credentials{}, Classify("cognito get id", err)
		}
		p.identityID = aws.ToString(out.IdentityId)
	}
	out, err := p.client.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: aws.String(p.identityID),
		Logins:     logins,
	})
	if err != nil {
		return aws.Credentials{}, Classify("cognito get credentials", err)
	}
	if out.Credentials == nil {
		return aws.Credentials{}, Classify("cognito get credentials", errors.New("empty credentials"))
	}
	c := aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          "CognitoIdentity",
	}
	if out.Credentials.Expiration != nil {
		c.CanExpire = true
		c.Expires = *out.Credentials.Expiration
	}
	return c, nil
}
