package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"report_scheduler/internal/app"
	"report_scheduler/internal/config"
	"report_scheduler/internal/database"
	"report_scheduler/internal/scheduler"
	"report_scheduler/internal/server"
	"report_scheduler/internal/service"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	application := fx.New(
		fx.Provide(
			provideConfig,
			server.NewServer,
		),
		app.Module,

		fx.Invoke(
			migrate,
			registerLifecycleHooks,
		),
	)

	runWithGracefulShutdown(application)
}

// provideConfig loads the application configuration
func provideConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// migrate brings the schema up to date before anything is served
func migrate(db *gorm.DB, cfg config.Config, logger *logrus.Logger) error {
	logger.WithField("config", cfg.String()).Info("Starting report scheduler")
	return database.AutoMigrate(db, logger)
}

// registerLifecycleHooks starts the background processor, the scheduler
// worker and the HTTP server, and stops them in reverse order.
func registerLifecycleHooks(
	srv *server.Server,
	reports service.ReportService,
	processor *service.QueueProcessor,
	worker *scheduler.Worker,
	cfg config.Config,
	logger *logrus.Logger,
	lc fx.Lifecycle,
) {
	runCtx, cancel := context.WithCancel(context.Background())
	processorDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// nothing is queued yet, so any report still processing was cut off
			if _, err := reports.RecoverInterrupted(ctx); err != nil {
				return err
			}
			go func() {
				defer close(processorDone)
				processor.Start(runCtx)
			}()
			return worker.Start(runCtx)
		},
		OnStop: func(ctx context.Context) error {
			worker.Stop()
			cancel()
			select {
			case <-processorDone:
			case <-ctx.Done():
				logger.Warn("Background tasks did not finish before shutdown timeout")
			}
			return nil
		},
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(cfg.Server.Address); err != nil {
					logger.WithError(err).Debug("HTTP server stopped")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// runWithGracefulShutdown starts the app and stops it on SIGINT or SIGTERM
func runWithGracefulShutdown(application *fx.App) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	startCtx, startCancel := context.WithTimeout(ctx, 15*time.Second)
	defer startCancel()

	if err := application.Start(startCtx); err != nil {
		logrus.WithError(err).Fatal("Failed to start application")
	}

	<-quit
	logrus.Info("Shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := application.Stop(stopCtx); err != nil {
		logrus.WithError(err).Error("Shutdown failed")
		os.Exit(1)
	}

	logrus.Info("Report scheduler stopped")
}
