package config

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

func loadParameters(prefix string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return map[string]string{}, err
	}
	return fetchParameters(ctx, ssm.NewFromConfig(awsCfg), prefix)
}

// fetchParameters reads every parameter below prefix, keyed by the last
// path segment upper-cased (/app/dev/transcribe_region -> TRANSCRIBE_REGION).
func fetchParameters(ctx context.Context, client ssm.GetParametersByPathAPIClient, prefix string) (map[string]string, error) {
	out := map[string]string{}
	p := ssm.NewGetParametersByPathPaginator(client, &ssm.GetParametersByPathInput{
		Path:           aws.String(prefix),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, param := range page.Parameters {
			key := strings.ToUpper(strings.ReplaceAll(path.Base(aws.ToString(param.Name)), "-", "_"))
			out[key] = aws.ToString(param.Value)
		}
	}
	return out, nil
}
