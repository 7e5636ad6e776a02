package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// LocalConfig configures the local filesystem backend
type LocalConfig struct {
	BasePath    string
	Permissions os.FileMode
	// PublicURL is the externally reachable prefix under which BasePath is served.
	PublicURL string
}

// LocalStorage stores report files on the local filesystem
type LocalStorage struct {
	basePath    string
	permissions os.FileMode
	publicURL   string
	logger      *logrus.Logger
}

// NewLocalStorage creates a filesystem storage rooted at cfg.BasePath
func NewLocalStorage(cfg LocalConfig, logger *logrus.Logger) (*LocalStorage, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	basePath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if cfg.Permissions == 0 {
		cfg.Permissions = 0755
	}

	if err := os.MkdirAll(basePath, cfg.Permissions); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{
		basePath:    basePath,
		permissions: cfg.Permissions,
		publicURL:   strings.TrimRight(cfg.PublicURL, "/"),
		logger:      logger,
	}, nil
}

// BasePath returns the absolute storage root.
func (l *LocalStorage) BasePath() string {
	return l.basePath
}

// Save writes a file under the storage root
func (l *LocalStorage) Save(ctx context.Context, key string, reader io.Reader) error {
	fullPath := l.getFullPath(key)

	if err := os.MkdirAll(filepath.Dir(fullPath), l.permissions); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Get opens a stored file
func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(l.getFullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	err := os.Remove(l.getFullPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists checks whether a file is stored
func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(l.getFullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// GetURL returns the public URL of the file, or a file:// URL when no public prefix is set
func (l *LocalStorage) GetURL(ctx context.Context, key string) (string, error) {
	if l.publicURL == "" {
		return "file://" + l.getFullPath(key), nil
	}
	escaped := make([]string, 0)
	for _, part := range strings.Split(path.Clean("/"+key), "/") {
		if part != "" {
			escaped = append(escaped, url.PathEscape(part))
		}
	}
	return l.publicURL + "/" + strings.Join(escaped, "/"), nil
}

// ValidateKey rejects keys that could escape the storage root
func (l *LocalStorage) ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q contains '..'", ErrInvalidKey, key)
	}
	if filepath.IsAbs(key) {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidKey, key)
	}
	return nil
}

func (l *LocalStorage) getFullPath(key string) string {
	return filepath.Join(l.basePath, key)
}
