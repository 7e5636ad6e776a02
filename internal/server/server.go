package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"report_scheduler/internal/config"
	"report_scheduler/internal/generator"
	"report_scheduler/internal/metrics"
	"report_scheduler/internal/models"
	"report_scheduler/internal/notification"
	"report_scheduler/internal/scheduler"
	"report_scheduler/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	echo       *echo.Echo
	reports    service.ReportService
	schedulers *scheduler.Service
	generators *generator.Registry
	logger     *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	reports service.ReportService,
	schedulers *scheduler.Service,
	generators *generator.Registry,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Server {
	e := echo.New()
	e.Debug = cfg.Server.Debug
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("Request failed")
				return nil
			}
			entry.Debug("Request handled")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:       e,
		reports:    reports,
		schedulers: schedulers,
		generators: generators,
		logger:     logger,
	}

	server.setupRoutes(cfg, m)
	return server
}

// Start starts the HTTP server
func (s *Server) Start(address string) error {
	s.logger.WithField("address", address).Info("Starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes(cfg config.Config, m *metrics.Metrics) {
	s.echo.GET("/health", s.healthCheck)
	if m != nil {
		s.echo.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
	if cfg.Storage.Type == "local" && cfg.Storage.BasePath != "" {
		s.echo.Static("/files", cfg.Storage.BasePath)
	}

	api := s.echo.Group("/api/v1")
	{
		api.GET("/report-types", s.listReportTypes)

		reports := api.Group("/reports")
		{
			reports.POST("", s.createReport)
			reports.GET("", s.listReports)
			reports.GET("/:id", s.getReport)
			reports.DELETE("/:id", s.deleteReport)
			reports.POST("/:id/process", s.processReport)
			reports.POST("/:id/cancel", s.cancelReport)
			reports.GET("/:id/links", s.reportLinks)
			reports.GET("/:id/results/:index", s.downloadResult)
		}

		schedulers := api.Group("/schedulers")
		{
			schedulers.POST("", s.createScheduler)
			schedulers.GET("", s.listSchedulers)
			schedulers.GET("/:id", s.getScheduler)
			schedulers.PATCH("/:id", s.updateScheduler)
			schedulers.DELETE("/:id", s.deleteScheduler)
			schedulers.POST("/:id/run", s.runScheduler)
			schedulers.GET("/:id/reports/:report_id/notification", s.previewNotification)
		}
	}
}

// healthCheck handles health check requests
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "report-scheduler",
	})
}

func (s *Server) listReportTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"report_types": s.generators.Types(),
	})
}

// errorResponse maps service errors to HTTP status codes
func (s *Server) errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrReportNotSaved),
		errors.Is(err, scheduler.ErrNotFound),
		errors.Is(err, service.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, generator.ErrUnknownReport):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, notification.ErrMissingField):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Path()).Error("Request failed")
	}
	return c.JSON(status, map[string]string{
		"error": err.Error(),
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func parseID(c echo.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
