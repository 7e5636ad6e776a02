package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

const (
	StorageTypeLocal = "local"
	StorageTypeS3    = "s3"

	DefaultMaxRetries        = 3
	DefaultRetryDelay        = time.Second
	DefaultPresignExpiration = 7 * 24 * time.Hour
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidKey wraps every ValidateKey failure.
	ErrInvalidKey = errors.New("invalid file key")
)

// Storage keeps generated report files and hands out download links for them.
type Storage interface {
	// Save stores the content of reader under key
	Save(ctx context.Context, key string, reader io.Reader) error

	// Get opens the file stored under key
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the file; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Exists checks whether key is stored
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns a link a user can download the file from
	GetURL(ctx context.Context, key string) (string, error)

	// ValidateKey checks key against the backend's rules
	ValidateKey(key string) error
}
