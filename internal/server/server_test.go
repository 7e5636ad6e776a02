package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"report_scheduler/internal/config"
	"report_scheduler/internal/generator"
	"report_scheduler/internal/metrics"
	"report_scheduler/internal/models"
	"report_scheduler/internal/notification"
	"report_scheduler/internal/scheduler"
	"report_scheduler/internal/service"
	"report_scheduler/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg notification.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type staticGenerator struct{}

func (staticGenerator) Name() string { return "Monthly sales" }

func (staticGenerator) Generate(ctx context.Context, params models.Params) ([]generator.Output, error) {
	return []generator.Output{{Filename: "sales.tsv", Body: []byte("day\tamount\n2024-01-01\t10\n")}}, nil
}

type testServer struct {
	*Server
	sender *MockSender
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger()})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Scheduler{}, &models.Report{}))

	cfg := config.Config{}
	cfg.Storage.Type = "local"
	cfg.Storage.BasePath = t.TempDir()
	cfg.Server.PublicURL = "http://localhost:8080"

	store, err := storage.NewStorageFromConfig(cfg, logger)
	require.NoError(t, err)

	generators := generator.NewRegistry()
	require.NoError(t, generators.Register("sales", staticGenerator{}))

	m := metrics.New()
	reports, _ := service.NewReportServiceFromDB(db, generators, store, m, logger)
	sender := new(MockSender)
	notifier := notification.NewNotifier(sender, "Reports", m, logger)
	schedulers := scheduler.NewService(scheduler.NewGormRepository(db), reports, generators, notifier, m, logger)

	return &testServer{
		Server: NewServer(cfg, reports, schedulers, generators, m, logger),
		sender: sender,
	}
}

func gormlogger() logger.Interface {
	return logger.Default.LogMode(logger.Silent)
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthCheck(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestReportTypes(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/report-types", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"report_types":[{"key":"sales","name":"Monthly sales"}]}`, rec.Body.String())
}

func TestReportLifecycle(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/reports", `{"report_type":"sales","params":{"start":"2024-01-01"},"process":false}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Report
	decode(t, rec, &created)
	assert.Equal(t, uint(1), created.ID)
	assert.Equal(t, "Monthly sales", created.Name)
	assert.Equal(t, models.StatusPending, created.Status)

	rec = s.do(t, http.MethodPost, "/api/v1/reports/1/process", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var processed models.Report
	decode(t, rec, &processed)
	assert.Equal(t, models.StatusProcessed, processed.Status)
	assert.Equal(t, models.Params{{Name: "start", Value: "2024-01-01"}}, processed.Params)

	rec = s.do(t, http.MethodGet, "/api/v1/reports/1/results/0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "day\tamount\n2024-01-01\t10\n", rec.Body.String())
	assert.Equal(t, `attachment; filename=sales.tsv`, rec.Header().Get("Content-Disposition"))

	rec = s.do(t, http.MethodGet, "/api/v1/reports/1/links", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var links struct {
		Links []string `json:"links"`
	}
	decode(t, rec, &links)
	require.Len(t, links.Links, 1)
	require.True(t, strings.HasPrefix(links.Links[0], "http://localhost:8080/files/reports/1/"))

	// the public link is served by the static files route
	rec = s.do(t, http.MethodGet, strings.TrimPrefix(links.Links[0], "http://localhost:8080"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "day\tamount\n2024-01-01\t10\n", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/reports?status=processed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list service.ReportList
	decode(t, rec, &list)
	assert.Equal(t, int64(1), list.Total)

	rec = s.do(t, http.MethodGet, "/api/v1/reports/1/results/5", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/reports/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/reports/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportErrors(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/reports", `{"report_type":"missing"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/reports", `{"params":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/reports/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/reports/7/process", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/reports?status=done", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelReport(t *testing.T) {
	s := setupTestServer(t)

	// the processor is not running, so the queued task stays pending
	rec := s.do(t, http.MethodPost, "/api/v1/reports", `{"report_type":"sales"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/reports/1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Report processing canceled")

	rec = s.do(t, http.MethodPost, "/api/v1/reports/1/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/reports/99/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/reports/abc/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// canceling before generation starts leaves the report untouched
	rec = s.do(t, http.MethodGet, "/api/v1/reports/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report models.Report
	decode(t, rec, &report)
	assert.Equal(t, models.StatusPending, report.Status)
}

func TestSchedulerLifecycle(t *testing.T) {
	s := setupTestServer(t)
	var sent notification.Message
	s.sender.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(notification.Message)
	}).Return(nil).Once()

	rec := s.do(t, http.MethodPost, "/api/v1/schedulers", `{
		"report_type": "sales",
		"periodicity": "weekdays",
		"hour": 9,
		"params": {"start": "2024-01-01", "region": "north"},
		"notify_emails": "ana@example.com",
		"created_by": "ana@example.com"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sched models.Scheduler
	decode(t, rec, &sched)
	assert.True(t, sched.Enabled)
	assert.NotNil(t, sched.NextRunAt)

	rec = s.do(t, http.MethodPatch, "/api/v1/schedulers/1", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &sched)
	assert.False(t, sched.Enabled)

	rec = s.do(t, http.MethodGet, "/api/v1/schedulers?enabled=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = s.do(t, http.MethodPost, "/api/v1/schedulers/1/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report models.Report
	decode(t, rec, &report)
	s.sender.AssertExpectations(t)

	rec = s.do(t, http.MethodGet, "/api/v1/schedulers/1/reports/1/notification", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Equal(t, sent.Body, rec.Body.String())

	lines := strings.Split(rec.Body.String(), "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "Report: Monthly sales #1", lines[0])
	assert.Equal(t, "Periodicity: Monday to Friday", lines[1])
	assert.Equal(t, "Scheduler created by: ana@example.com", lines[3])
	assert.Equal(t, "Parameters used:", lines[4])
	assert.Equal(t, "- start: 2024-01-01", lines[5])
	assert.Equal(t, "- region: north", lines[6])
	assert.Equal(t, "Download:", lines[7])
	assert.True(t, strings.HasPrefix(lines[8], "- http://localhost:8080/files/reports/1/"))
	assert.Equal(t, "", lines[9])

	rec = s.do(t, http.MethodGet, "/api/v1/schedulers/1/reports/99/notification", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/schedulers/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/schedulers/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSchedulerValidation(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/schedulers", `{"report_type":"sales","periodicity":"hourly","created_by":"ana@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/schedulers", `{"report_type":"sales","periodicity":"custom","cron_expr":"bad","created_by":"ana@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/schedulers", `{"report_type":"nope","periodicity":"daily","created_by":"ana@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/reports", `{"report_type":"sales","process":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/reports/1/process", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `reports_processed_total{report_type="sales",status="processed"} 1`)
}
