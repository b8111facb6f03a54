package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
)

// maxAssetBytes caps any single asset read.
var maxAssetBytes int64 = 32 << 20

// Assets loads audio assets from local paths, s3://bucket/key,
// supabase://bucket/path or http(s) URLs.
type Assets struct {
	S3       BlobStore
	Supabase BlobStore
	HTTP     *http.Client
}

func (a *Assets) Load(ctx context.Context, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty asset path", audio.ErrInvalidInput)
	}
	scheme, rest, found := strings.Cut(path, "://")
	if !found {
		return os.ReadFile(path)
	}
	switch scheme {
	case "s3":
		return a.fromBlobs(ctx, a.S3, "s3", rest)
	case "supabase":
		return a.fromBlobs(ctx, a.Supabase, "supabase", rest)
	case "http", "https":
		return a.fromHTTP(ctx, path)
	case "file":
		return os.ReadFile(rest)
	default:
		return nil, fmt.Errorf("%w: unsupported asset scheme %q", audio.ErrInvalidInput, scheme)
	}
}

func (a *Assets) fromBlobs(ctx context.Context, store BlobStore, scheme, rest string) ([]byte, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: %s storage not configured", audio.ErrInvalidInput, scheme)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: %s path must be bucket/key", audio.ErrInvalidInput, scheme)
	}
	return store.Get(ctx, bucket, key)
}

func (a *Assets) fromHTTP(ctx context.Context, url string) ([]byte, error) {
	client := a.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return readAsset(url, resp.Body)
}

// readAsset reads r in full, failing rather than truncating past maxAssetBytes.
func readAsset(name string, r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(b)) > maxAssetBytes {
		return nil, fmt.Errorf("%w: asset %s exceeds %d bytes", audio.ErrInvalidInput, name, maxAssetBytes)
	}
	return b, nil
}
