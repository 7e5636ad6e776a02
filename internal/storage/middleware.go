package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"report_scheduler/internal/metrics"

	"github.com/sirupsen/logrus"
)

// InstrumentedMiddleware logs and times writes, reads and deletes.
// Other calls go straight to the wrapped storage.
type InstrumentedMiddleware struct {
	Storage
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewInstrumentedMiddleware wraps storage with logging and, when m is not nil, timing metrics
func NewInstrumentedMiddleware(next Storage, logger *logrus.Logger, m *metrics.Metrics) Storage {
	return &InstrumentedMiddleware{Storage: next, logger: logger, metrics: m}
}

func (m *InstrumentedMiddleware) observe(operation, key string, fn func() error) error {
	entry := m.logger.WithFields(logrus.Fields{
		"operation": operation,
		"key":       key,
	})

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
		entry.WithField("duration", elapsed).Debug("Storage key not found")
	case err != nil:
		status = "error"
		entry.WithError(err).WithField("duration", elapsed).Error("Storage operation failed")
	default:
		entry.WithField("duration", elapsed).Debug("Storage operation completed")
	}
	m.metrics.StorageOperation(operation, status, elapsed)
	return err
}

func (m *InstrumentedMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	return m.observe("save", key, func() error {
		return m.Storage.Save(ctx, key, reader)
	})
}

func (m *InstrumentedMiddleware) Get(ctx context.Context, key string) (rc io.ReadCloser, err error) {
	err = m.observe("get", key, func() error {
		rc, err = m.Storage.Get(ctx, key)
		return err
	})
	return rc, err
}

func (m *InstrumentedMiddleware) Delete(ctx context.Context, key string) error {
	return m.observe("delete", key, func() error {
		return m.Storage.Delete(ctx, key)
	})
}

// RetryMiddleware retries transient failures with a doubling delay.
type RetryMiddleware struct {
	Storage
	attempts int
	delay    time.Duration
	logger   *logrus.Logger
}

// NewRetryMiddleware wraps storage with up to retries extra attempts per call
func NewRetryMiddleware(next Storage, retries int, delay time.Duration, logger *logrus.Logger) Storage {
	return &RetryMiddleware{Storage: next, attempts: retries + 1, delay: delay, logger: logger}
}

// Save retries only when the reader can be rewound.
func (m *RetryMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	seeker, ok := reader.(io.Seeker)
	if !ok {
		return m.Storage.Save(ctx, key, reader)
	}
	return m.retry(ctx, "save", key, func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind reader: %w", err)
		}
		return m.Storage.Save(ctx, key, reader)
	})
}

func (m *RetryMiddleware) Get(ctx context.Context, key string) (rc io.ReadCloser, err error) {
	err = m.retry(ctx, "get", key, func() error {
		rc, err = m.Storage.Get(ctx, key)
		return err
	})
	return rc, err
}

func (m *RetryMiddleware) Delete(ctx context.Context, key string) error {
	return m.retry(ctx, "delete", key, func() error {
		return m.Storage.Delete(ctx, key)
	})
}

func (m *RetryMiddleware) retry(ctx context.Context, operation, key string, fn func() error) error {
	delay := m.delay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !retryable(err) || attempt >= m.attempts {
			return err
		}

		m.logger.WithFields(logrus.Fields{
			"operation": operation,
			"key":       key,
			"attempt":   attempt,
			"attempts":  m.attempts,
		}).WithError(err).Warn("Retrying storage operation")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrInvalidKey) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// ValidationMiddleware rejects malformed keys before they reach the backend.
type ValidationMiddleware struct {
	Storage
}

// NewValidationMiddleware wraps storage with key validation
func NewValidationMiddleware(next Storage) Storage {
	return &ValidationMiddleware{Storage: next}
}

func (m *ValidationMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	if err := m.ValidateKey(key); err != nil {
		return err
	}
	return m.Storage.Save(ctx, key, reader)
}

func (m *ValidationMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := m.ValidateKey(key); err != nil {
		return nil, err
	}
	return m.Storage.Get(ctx, key)
}

func (m *ValidationMiddleware) Delete(ctx context.Context, key string) error {
	if err := m.ValidateKey(key); err != nil {
		return err
	}
	return m.Storage.Delete(ctx, key)
}

func (m *ValidationMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.ValidateKey(key); err != nil {
		return false, err
	}
	return m.Storage.Exists(ctx, key)
}

func (m *ValidationMiddleware) GetURL(ctx context.Context, key string) (string, error) {
	if err := m.ValidateKey(key); err != nil {
		return "", err
	}
	return m.Storage.GetURL(ctx, key)
}
