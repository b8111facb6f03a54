// Package storage resolves audio assets and archives call transcripts in S3
// or Supabase storage.
package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	supabase "github.com/supabase-community/supabase-go"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/awsclient"
)

// BlobStore reads and writes whole objects.
type BlobStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key, contentType string, body []byte) error
}

// S3API is the part of the S3 client used here.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ClientFunc returns a client with current credentials.
type S3ClientFunc func(ctx context.Context) (S3API, error)

// S3Blobs stores objects in Amazon S3.
type S3Blobs struct {
	client S3ClientFunc
}

func NewS3Blobs(client S3ClientFunc) *S3Blobs { return &S3Blobs{client: client} }

func (s *S3Blobs) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	c, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, awsclient.Classify("s3 get "+bucket+"/"+key, err)
	}
	defer out.Body.Close()
	return readAsset("s3://"+bucket+"/"+key, out.Body)
}

func (s *S3Blobs) Put(ctx context.Context, bucket, key, contentType string, body []byte) error {
	c, err := s.client(ctx)
	if err != nil {
		return err
	}
	_, err = c.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return awsclient.Classify("s3 put "+bucket+"/"+key, err)
}

// SupabaseBlobs stores objects in Supabase storage.
type SupabaseBlobs struct {
	client *supabase.Client
}

func NewSupabaseBlobs(url, serviceKey string) (*SupabaseBlobs, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &SupabaseBlobs{client: client}, nil
}

// The Supabase storage client takes no context.
func (s *SupabaseBlobs) Get(_ context.Context, bucket, key string) ([]byte, error) {
	data, err := s.client.Storage.DownloadFile(bucket, key)
	if err != nil {
		return nil, awsclient.Classify("supabase download "+bucket+"/"+key, err)
	}
	return data, nil
}

func (s *SupabaseBlobs) Put(_ context.Context, bucket, key, _ string, body []byte) error {
	if _, err := s.client.Storage.UploadFile(bucket, key, bytes.NewReader(body)); err != nil {
		return awsclient.Classify("supabase upload "+bucket+"/"+key, err)
	}
	return nil
}
