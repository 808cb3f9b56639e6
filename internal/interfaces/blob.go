package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrBlobNotFound is returned by BlobStore downloads for unknown paths.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is a content store addressed by path. Uploaded source files
// live under the "uploads" prefix, produced results under "results".
type BlobStore interface {
	// Upload stores data under a generated unique path with the given
	// prefix and returns that path.
	Upload(ctx context.Context, data []byte, format FileFormat, prefix string) (string, error)

	// Download returns the stored bytes for a path, or ErrBlobNotFound.
	Download(ctx context.Context, path string) ([]byte, error)

	// SignedURL returns a time-limited retrieval URL for a path.
	SignedURL(path string, expiry time.Duration) (string, error)

	// Delete removes a stored object.
	Delete(ctx context.Context, path string) error
}
