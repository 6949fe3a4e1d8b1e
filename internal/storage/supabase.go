package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
)

// SupabaseStore keeps documents in a Supabase Storage bucket. The client has
// no context support, so ctx is only checked before each call.
type SupabaseStore struct {
	client    *storage_go.Client
	bucket    string
	urlExpiry int
}

func NewSupabaseStore(projectURL, apiKey, bucket string) (*SupabaseStore, error) {
	if projectURL == "" || apiKey == "" || bucket == "" {
		return nil, errors.New("supabase storage: url, key and bucket are required")
	}
	c := storage_go.NewClient(strings.TrimRight(projectURL, "/")+"/storage/v1", apiKey, nil)
	return &SupabaseStore{client: c, bucket: bucket, urlExpiry: 3600}, nil
}

func (s *SupabaseStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	upsert := true
	if _, err := s.client.UploadFile(s.bucket, k, r, storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	}); err != nil {
		return "", fmt.Errorf("supabase upload %s: %w", k, err)
	}
	return k, nil
}

func (s *SupabaseStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := s.client.DownloadFile(s.bucket, k)
	if err != nil {
		return nil, fmt.Errorf("supabase download %s: %w", k, err)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *SupabaseStore) SignedURL(ctx context.Context, key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := s.client.CreateSignedUrl(s.bucket, k, s.urlExpiry)
	if err != nil {
		return "", fmt.Errorf("supabase sign %s: %w", k, err)
	}
	return res.SignedURL, nil
}
