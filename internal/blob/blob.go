package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("blob not found")

// Store persists raw page images. SignedURL issues a time-limited read URL
// the OCR service can fetch without credentials, mirroring the delegated
// access tokens object stores hand out.
type Store interface {
	Put(ctx context.Context, ref string, r io.Reader, contentType string) error
	SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, ref string) error
}
