// Package app holds the dependency graph shared by the server and the CLI.
package app

import (
	"context"
	"time"

	"report_scheduler/internal/config"
	"report_scheduler/internal/database"
	"report_scheduler/internal/datasource"
	"report_scheduler/internal/generator"
	"report_scheduler/internal/metrics"
	"report_scheduler/internal/notification"
	"report_scheduler/internal/scheduler"
	"report_scheduler/internal/service"
	"report_scheduler/internal/storage"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module provides every service built from a config.Config.
var Module = fx.Options(
	fx.Provide(
		NewLogger,
		metrics.New,
		NewDatabase,
		NewDatasources,
		generator.NewRegistryFromConfig,
		storage.NewInstrumentedStorage,
		service.NewReportServiceFromDB,
		fx.Annotate(scheduler.NewGormRepository, fx.As(new(scheduler.Repository))),
		NewSender,
		NewNotifier,
		scheduler.NewService,
		NewWorker,
	),
)

// NewLogger creates a logger configured from the logging section
func NewLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Invalid logging level, using info")
	}
	logger.SetLevel(level)

	switch cfg.Logging.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return logger
}

// NewDatabase opens the application database and closes it on stop
func NewDatabase(cfg config.Config, lc fx.Lifecycle, logger *logrus.Logger) (*gorm.DB, error) {
	db, err := database.NewDatabase(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			logger.Debug("Closing database")
			return sqlDB.Close()
		},
	})
	return db, nil
}

// NewDatasources opens the report datasources and closes them on stop
func NewDatasources(cfg config.Config, lc fx.Lifecycle, logger *logrus.Logger) (*datasource.Registry, error) {
	reg, err := datasource.NewRegistryFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return reg.Close()
		},
	})
	return reg, nil
}

// NewSender builds the delivery transports enabled in config. Without any
// transport, notifications are written to the log.
func NewSender(cfg config.Config, logger *logrus.Logger) (notification.Sender, error) {
	var senders notification.MultiSender

	smtp := cfg.Notification.SMTP
	if smtp.Enabled {
		sender, err := notification.NewSMTPSender(notification.SMTPConfig{
			Host:          smtp.Host,
			Port:          smtp.Port,
			Username:      smtp.Username,
			Password:      smtp.Password,
			From:          smtp.From,
			UseTLS:        smtp.UseTLS,
			SkipTLSVerify: smtp.SkipTLSVerify,
		})
		if err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}

	if cfg.Notification.Slack.WebhookURL != "" {
		sender, err := notification.NewSlackSender(cfg.Notification.Slack.WebhookURL, cfg.Notification.Slack.Channel)
		if err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}

	switch len(senders) {
	case 0:
		logger.Warn("No notification transport configured, notifications will be logged")
		return notification.NewLogSender(logger), nil
	case 1:
		return senders[0], nil
	default:
		return senders, nil
	}
}

// NewNotifier creates the report-ready notifier
func NewNotifier(cfg config.Config, sender notification.Sender, m *metrics.Metrics, logger *logrus.Logger) *notification.Notifier {
	return notification.NewNotifier(sender, cfg.Notification.SubjectPrefix, m, logger)
}

// NewWorker creates the scheduler worker from the scheduler section
func NewWorker(cfg config.Config, svc *scheduler.Service, logger *logrus.Logger) *scheduler.Worker {
	return scheduler.NewWorker(svc, scheduler.WorkerConfig{
		CheckInterval: cfg.Scheduler.CheckInterval,
		Enabled:       cfg.Scheduler.Enabled,
	}, logger)
}
