// Package blob stores enrollment photos by key.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// ErrInvalidKey is returned for keys that are empty, absolute or escape the store root.
var ErrInvalidKey = errors.New("invalid blob key")

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store defines photo blob operations.
type Store interface {
	// Put writes an object, replacing any existing one.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get opens an object for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object below prefix and returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Exists reports whether an object exists.
	Exists(ctx context.Context, key string) (bool, error)
}

// NewKey returns a fresh key of the form {personID}/{uuid}{ext}.
func NewKey(personID, ext string) (string, error) {
	if err := validateSegment(personID); err != nil {
		return "", err
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return personID + "/" + uuid.NewString() + strings.ToLower(ext), nil
}

// ContentKey returns a key derived from the photo bytes, {personID}/{sha256 prefix}{ext}.
// Storing the same photo twice for a person yields the same key.
func ContentKey(personID string, data []byte, ext string) (string, error) {
	if err := validateSegment(personID); err != nil {
		return "", err
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	sum := sha256.Sum256(data)
	return personID + "/" + hex.EncodeToString(sum[:12]) + strings.ToLower(ext), nil
}

// ValidateKey rejects keys that could resolve outside the store.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if err := validateSegment(seg); err != nil {
			return err
		}
	}
	return nil
}

func validateSegment(seg string) error {
	if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, "/\\\x00") {
		return fmt.Errorf("%w: segment %q", ErrInvalidKey, seg)
	}
	return nil
}

// ReadAll fetches an object into memory.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

// ContentType guesses a MIME type from the key's extension.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// New builds the store selected by cfg.Type.
func New(ctx context.Context, cfg *config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStore(cfg.LocalRoot)
	case "s3":
		s, err := NewS3Store(ctx, &cfg.S3)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
