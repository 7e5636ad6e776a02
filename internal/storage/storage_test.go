package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"report_scheduler/internal/config"
	"report_scheduler/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir(), PublicURL: "http://reports.local/files/"}, setupTestLogger())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "reports/1/sales report.tsv", strings.NewReader("a\tb\n")))

	exists, err := store.Exists(ctx, "reports/1/sales report.tsv")
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := store.Get(ctx, "reports/1/sales report.tsv")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "a\tb\n", string(data))

	url, err := store.GetURL(ctx, "reports/1/sales report.tsv")
	require.NoError(t, err)
	assert.Equal(t, "http://reports.local/files/reports/1/sales%20report.tsv", url)

	require.NoError(t, store.Delete(ctx, "reports/1/sales report.tsv"))
	require.NoError(t, store.Delete(ctx, "reports/1/sales report.tsv"))

	_, err = store.Get(ctx, "reports/1/sales report.tsv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorageFileURLWithoutPublicPrefix(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(LocalConfig{BasePath: dir}, setupTestLogger())
	require.NoError(t, err)

	url, err := store.GetURL(context.Background(), "a.tsv")
	require.NoError(t, err)
	assert.Equal(t, "file://"+store.BasePath()+"/a.tsv", url)
}

func TestLocalStorageValidateKey(t *testing.T) {
	store, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()}, setupTestLogger())
	require.NoError(t, err)

	assert.NoError(t, store.ValidateKey("reports/1/a.tsv"))
	assert.Error(t, store.ValidateKey(""))
	assert.ErrorIs(t, store.ValidateKey("../etc/passwd"), ErrInvalidKey)
	assert.Error(t, store.ValidateKey("/etc/passwd"))
}

// MockStorage is a mock implementation of the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Save(ctx context.Context, key string, reader io.Reader) error {
	args := m.Called(ctx, key, reader)
	return args.Error(0)
}

func (m *MockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) GetURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) ValidateKey(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func TestRetryMiddlewareRetriesAndRewinds(t *testing.T) {
	backend := new(MockStorage)
	store := NewRetryMiddleware(backend, 2, time.Millisecond, setupTestLogger())

	var bodies []string
	backend.On("Save", mock.Anything, "k", mock.Anything).Run(func(args mock.Arguments) {
		data, _ := io.ReadAll(args.Get(2).(io.Reader))
		bodies = append(bodies, string(data))
	}).Return(errors.New("temporary")).Once()
	backend.On("Save", mock.Anything, "k", mock.Anything).Run(func(args mock.Arguments) {
		data, _ := io.ReadAll(args.Get(2).(io.Reader))
		bodies = append(bodies, string(data))
	}).Return(nil).Once()

	err := store.Save(context.Background(), "k", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)
	assert.Equal(t, []string{"payload", "payload"}, bodies)
	backend.AssertExpectations(t)
}

func TestRetryMiddlewareDoesNotRetryNotFound(t *testing.T) {
	backend := new(MockStorage)
	store := NewRetryMiddleware(backend, 3, time.Millisecond, setupTestLogger())

	backend.On("Get", mock.Anything, "missing").Return(nil, ErrNotFound).Once()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	backend.AssertExpectations(t)
}

func TestValidationMiddlewareRejectsInvalidKeys(t *testing.T) {
	backend := new(MockStorage)
	store := NewValidationMiddleware(backend)

	backend.On("ValidateKey", "../x").Return(errors.New("invalid key"))

	err := store.Save(context.Background(), "../x", strings.NewReader(""))
	assert.Error(t, err)
	backend.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

type fakeS3 struct {
	mock.Mock
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := f.Called(*in.Key)
	return &s3.PutObjectOutput{}, args.Error(0)
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := f.Called(*in.Key)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("data"))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := f.Called(*in.Key)
	return &s3.DeleteObjectOutput{}, args.Error(0)
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := f.Called(*in.Key)
	return &s3.HeadObjectOutput{}, args.Error(0)
}

func TestS3StorageOperations(t *testing.T) {
	client := new(fakeS3)
	store := &S3Storage{
		client: client,
		presign: func(ctx context.Context, in *s3.GetObjectInput, expires time.Duration) (string, error) {
			return "https://bucket.s3.amazonaws.com/" + *in.Key + "?X-Amz-Expires=" + expires.String(), nil
		},
		bucket:            "bucket",
		presignExpiration: time.Hour,
		logger:            setupTestLogger(),
	}
	ctx := context.Background()

	client.On("PutObject", "reports/1/a.tsv").Return(nil)
	client.On("GetObject", "reports/1/a.tsv").Return(nil)
	client.On("GetObject", "missing").Return(&types.NoSuchKey{})
	client.On("HeadObject", "reports/1/a.tsv").Return(nil)
	client.On("HeadObject", "missing").Return(&types.NotFound{})

	require.NoError(t, store.Save(ctx, "reports/1/a.tsv", strings.NewReader("data")))

	rc, err := store.Get(ctx, "reports/1/a.tsv")
	require.NoError(t, err)
	rc.Close()

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := store.Exists(ctx, "reports/1/a.tsv")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	url, err := store.GetURL(ctx, "reports/1/a.tsv")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.s3.amazonaws.com/reports/1/a.tsv?X-Amz-Expires=1h0m0s", url)

	client.AssertExpectations(t)
}

func TestValidateS3Config(t *testing.T) {
	valid := S3Config{Region: "us-east-1", Bucket: "b", PresignExpiration: time.Hour}
	assert.NoError(t, validateS3Config(valid))

	noBucket := valid
	noBucket.Bucket = ""
	assert.Error(t, validateS3Config(noBucket))

	noSecret := valid
	noSecret.AccessKey = "key"
	assert.Error(t, validateS3Config(noSecret))

	noExpiration := valid
	noExpiration.PresignExpiration = 0
	assert.Error(t, validateS3Config(noExpiration))
}

func TestNewStorageFromConfigLocal(t *testing.T) {
	cfg := config.Config{}
	cfg.Storage.Type = StorageTypeLocal
	cfg.Storage.BasePath = t.TempDir()
	cfg.Server.PublicURL = "http://localhost:8080"

	store, err := NewStorageFromConfig(cfg, setupTestLogger())
	require.NoError(t, err)

	url, err := store.GetURL(context.Background(), "reports/2/b.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/reports/2/b.xlsx", url)

	_, err = store.GetURL(context.Background(), "../b.xlsx")
	assert.Error(t, err)
}

func TestNewStorageFromConfigUnknownType(t *testing.T) {
	cfg := config.Config{}
	cfg.Storage.Type = "ftp"

	_, err := NewStorageFromConfig(cfg, setupTestLogger())
	assert.Error(t, err)
}

func TestInstrumentedMiddlewareRecordsOutcome(t *testing.T) {
	backend := new(MockStorage)
	m := metrics.New()
	store := NewInstrumentedMiddleware(backend, setupTestLogger(), m)

	backend.On("Save", mock.Anything, "k", mock.Anything).Return(nil).Once()
	backend.On("Get", mock.Anything, "missing").Return(nil, ErrNotFound).Once()
	backend.On("GetURL", mock.Anything, "k").Return("http://x/k", nil).Once()

	require.NoError(t, store.Save(context.Background(), "k", strings.NewReader("x")))
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	url, err := store.GetURL(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "http://x/k", url)

	count, err := testutil.GatherAndCount(m.Registry(), "report_storage_operation_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	backend.AssertExpectations(t)
}

func TestRetryMiddlewareGivesUp(t *testing.T) {
	backend := new(MockStorage)
	store := NewRetryMiddleware(backend, 2, time.Millisecond, setupTestLogger())

	backend.On("Delete", mock.Anything, "k").Return(errors.New("unavailable")).Times(3)

	err := store.Delete(context.Background(), "k")
	assert.EqualError(t, err, "unavailable")
	backend.AssertExpectations(t)
}
