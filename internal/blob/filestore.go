package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/formatninja/transformd/internal/interfaces"
)

var (
	ErrInvalidPath      = errors.New("invalid blob path")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrSignatureExpired = errors.New("signature expired")
)

// FileStore implements the BlobStore contract on the local filesystem.
// Retrieval URLs are signed with an HMAC over the path and expiry so
// the HTTP layer can serve results without consulting the store.
type FileStore struct {
	root       string
	baseURL    string
	signingKey []byte
}

// NewFileStore creates the store root if needed. baseURL is the public
// address signed URLs point back at, e.g. http://localhost:8080.
func NewFileStore(root, baseURL string, signingKey []byte) (*FileStore, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}
	return &FileStore{
		root:       root,
		baseURL:    strings.TrimRight(baseURL, "/"),
		signingKey: signingKey,
	}, nil
}

// Upload stores data under a fresh uuid-based name below prefix and
// returns the blob path, e.g. "uploads/3f1d....csv".
func (s *FileStore) Upload(_ context.Context, data []byte, format interfaces.FileFormat, prefix string) (string, error) {
	name := fmt.Sprintf("%s.%s", uuid.New().String(), format.Extension())
	path := prefix + "/" + name

	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob prefix %s: %w", prefix, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", path, err)
	}
	return path, nil
}

// Download returns the stored bytes for a blob path.
func (s *FileStore) Download(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, interfaces.ErrBlobNotFound
		}
		return nil, fmt.Errorf("read blob %s: %w", path, err)
	}
	return data, nil
}

// SignedURL returns a time-limited URL for retrieving a blob through
// the HTTP file endpoint.
func (s *FileStore) SignedURL(path string, expiry time.Duration) (string, error) {
	if _, err := s.resolve(path); err != nil {
		return "", err
	}
	expires := time.Now().Add(expiry).Unix()
	sig := s.sign(path, expires)
	return fmt.Sprintf("%s/files/%s?expires=%d&sig=%s",
		s.baseURL, path, expires, url.QueryEscape(sig)), nil
}

// Verify checks the signature and expiry produced by SignedURL.
func (s *FileStore) Verify(path, expiresStr, sig string) error {
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	if !hmac.Equal([]byte(s.sign(path, expires)), []byte(sig)) {
		return ErrSignatureInvalid
	}
	if time.Now().Unix() > expires {
		return ErrSignatureExpired
	}
	return nil
}

// Delete removes a stored blob.
func (s *FileStore) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) sign(path string, expires int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	fmt.Fprintf(mac, "%s\n%d", path, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// resolve maps a blob path to a filesystem path, rejecting anything
// that would escape the store root.
func (s *FileStore) resolve(path string) (string, error) {
	if path == "" || strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(s.root, clean), nil
}
