// Package storage keeps uploaded source documents so a saved attempt can
// point back at the material its questions came from.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) // returns canonical key
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	SignedURL(ctx context.Context, key string) (string, error) // fs returns "file://..." for dev
}

var ErrInvalidKey = errors.New("storage: invalid key")

// cleanKey rejects empty, absolute and parent-escaping keys and returns the
// slash-separated form every driver stores under.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	k := path.Clean(key)
	if k == "." || k == ".." || strings.HasPrefix(k, "../") {
		return "", ErrInvalidKey
	}
	return k, nil
}
