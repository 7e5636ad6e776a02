package app

import (
	"io"
	"testing"

	"report_scheduler/internal/config"
	"report_scheduler/internal/generator"
	"report_scheduler/internal/notification"
	"report_scheduler/internal/scheduler"
	"report_scheduler/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestNewLogger(t *testing.T) {
	cfg := config.Config{Logging: config.Logging{Level: "debug", Format: "json"}}
	logger := NewLogger(cfg)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	cfg.Logging = config.Logging{Level: "loud", Format: "text"}
	logger = NewLogger(cfg)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestNewSender(t *testing.T) {
	logger := quietLogger()

	sender, err := NewSender(config.Config{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &notification.LogSender{}, sender)

	cfg := config.Config{}
	cfg.Notification.Slack.WebhookURL = "https://hooks.slack.example/T000"
	sender, err = NewSender(cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &notification.SlackSender{}, sender)

	cfg.Notification.SMTP = config.SMTP{Enabled: true, Host: "smtp.example.com", Port: 587, From: "reports@example.com"}
	sender, err = NewSender(cfg, logger)
	require.NoError(t, err)
	multi, ok := sender.(notification.MultiSender)
	require.True(t, ok)
	assert.Len(t, multi, 2)

	cfg.Notification.SMTP.From = ""
	_, err = NewSender(cfg, logger)
	assert.Error(t, err)
}

func TestModuleGraph(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Address = ":0"
	cfg.Server.PublicURL = "http://localhost:8080"
	cfg.DB = config.DB{Driver: "sqlite", DSN: ":memory:"}
	cfg.Storage.Type = "local"
	cfg.Storage.BasePath = t.TempDir()
	cfg.Logging = config.Logging{Level: "error", Format: "text"}
	cfg.Notification.SubjectPrefix = "Reports"

	var (
		reports    service.ReportService
		processor  *service.QueueProcessor
		schedulers *scheduler.Service
		worker     *scheduler.Worker
		generators *generator.Registry
	)
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module,
		fx.Populate(&reports, &processor, &schedulers, &worker, &generators),
	)
	app.RequireStart()
	defer app.RequireStop()

	assert.NotNil(t, reports)
	assert.NotNil(t, processor)
	assert.NotNil(t, schedulers)
	assert.NotNil(t, worker)
	assert.Empty(t, generators.Keys())
}
