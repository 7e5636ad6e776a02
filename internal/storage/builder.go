package storage

import (
	"fmt"

	"report_scheduler/internal/config"
	"report_scheduler/internal/metrics"

	"github.com/sirupsen/logrus"
)

// StorageBuilder assembles the configured backend and its middleware chain
type StorageBuilder struct {
	config  config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewStorageBuilder creates a builder
func NewStorageBuilder(cfg config.Config, logger *logrus.Logger) *StorageBuilder {
	return &StorageBuilder{
		config: cfg,
		logger: logger,
	}
}

// WithMetrics records storage call timings on m
func (b *StorageBuilder) WithMetrics(m *metrics.Metrics) *StorageBuilder {
	b.metrics = m
	return b
}

// Build creates the backend selected by storage.type
func (b *StorageBuilder) Build() (Storage, error) {
	switch b.config.Storage.Type {
	case StorageTypeS3:
		s3Cfg := b.config.Storage.S3
		expiration := s3Cfg.PresignExpiration
		if expiration <= 0 {
			expiration = DefaultPresignExpiration
		}
		backend, err := NewS3Storage(S3Config{
			Region:            s3Cfg.Region,
			Bucket:            s3Cfg.Bucket,
			Endpoint:          s3Cfg.Endpoint,
			AccessKey:         s3Cfg.AccessKey,
			SecretKey:         s3Cfg.SecretKey,
			ForcePathStyle:    s3Cfg.ForcePathStyle,
			PresignExpiration: expiration,
		}, b.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 storage: %w", err)
		}
		return b.wrapWithMiddleware(backend), nil

	case StorageTypeLocal:
		backend, err := NewLocalStorage(LocalConfig{
			BasePath:    b.config.Storage.BasePath,
			Permissions: 0755,
			PublicURL:   b.config.FilesURL(),
		}, b.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create local storage: %w", err)
		}
		return b.wrapWithMiddleware(backend), nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", b.config.Storage.Type)
	}
}

func (b *StorageBuilder) wrapWithMiddleware(storage Storage) Storage {
	if b.logger != nil {
		storage = NewInstrumentedMiddleware(storage, b.logger, b.metrics)
		storage = NewRetryMiddleware(storage, DefaultMaxRetries, DefaultRetryDelay, b.logger)
	}
	return NewValidationMiddleware(storage)
}

// NewStorageFromConfig builds the storage described by cfg
func NewStorageFromConfig(cfg config.Config, logger *logrus.Logger) (Storage, error) {
	return NewStorageBuilder(cfg, logger).Build()
}

// NewInstrumentedStorage builds the storage described by cfg and records its timings on m
func NewInstrumentedStorage(cfg config.Config, m *metrics.Metrics, logger *logrus.Logger) (Storage, error) {
	return NewStorageBuilder(cfg, logger).WithMetrics(m).Build()
}
