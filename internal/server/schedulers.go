package server

import (
	"net/http"
	"strconv"

	"report_scheduler/internal/models"
	"report_scheduler/internal/scheduler"

	"github.com/labstack/echo/v4"
)

type createSchedulerRequest struct {
	Name         string        `json:"name"`
	ReportType   string        `json:"report_type"`
	Periodicity  string        `json:"periodicity"`
	Hour         int           `json:"hour"`
	CronExpr     string        `json:"cron_expr"`
	Timezone     string        `json:"timezone"`
	Params       models.Params `json:"params"`
	NotifyEmails string        `json:"notify_emails"`
	CreatedBy    string        `json:"created_by"`
	Enabled      *bool         `json:"enabled"`
}

func (s *Server) createScheduler(c echo.Context) error {
	var req createSchedulerRequest
	if err := c.Bind(&req); err != nil {
		s.logger.WithError(err).Warn("Failed to bind request")
		return badRequest(c, "Invalid request format")
	}

	sched := &models.Scheduler{
		Name:         req.Name,
		ReportType:   req.ReportType,
		Periodicity:  models.Periodicity(req.Periodicity),
		Hour:         req.Hour,
		CronExpr:     req.CronExpr,
		Timezone:     req.Timezone,
		Params:       req.Params,
		NotifyEmails: req.NotifyEmails,
		CreatedBy:    req.CreatedBy,
		Enabled:      req.Enabled == nil || *req.Enabled,
	}

	if err := s.schedulers.Create(c.Request().Context(), sched); err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, sched)
}

func (s *Server) listSchedulers(c echo.Context) error {
	filter := scheduler.ListFilter{
		ReportType: c.QueryParam("report_type"),
		CreatedBy:  c.QueryParam("created_by"),
	}
	if v := c.QueryParam("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "Invalid enabled filter")
		}
		filter.Enabled = &enabled
	}

	schedulers, err := s.schedulers.List(c.Request().Context(), filter)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"schedulers": schedulers,
		"count":      len(schedulers),
	})
}

func (s *Server) getScheduler(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "Invalid scheduler ID")
	}

	sched, err := s.schedulers.Get(c.Request().Context(), id)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (s *Server) updateScheduler(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "Invalid scheduler ID")
	}

	var upd scheduler.Update
	if err := c.Bind(&upd); err != nil {
		return badRequest(c, "Invalid request format")
	}

	sched, err := s.schedulers.Update(c.Request().Context(), id, upd)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (s *Server) deleteScheduler(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "Invalid scheduler ID")
	}

	if err := s.schedulers.Delete(c.Request().Context(), id); err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Scheduler deleted successfully",
	})
}

// runScheduler executes a scheduler immediately and returns the report it produced
func (s *Server) runScheduler(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "Invalid scheduler ID")
	}

	report, err := s.schedulers.RunNow(c.Request().Context(), id)
	if err != nil {
		if report != nil {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"error":  err.Error(),
				"report": report,
			})
		}
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// previewNotification renders the report-ready notification as plain text
func (s *Server) previewNotification(c echo.Context) error {
	schedulerID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "Invalid scheduler ID")
	}
	reportID, ok := parseID(c, "report_id")
	if !ok {
		return badRequest(c, "Invalid report ID")
	}

	text, err := s.schedulers.Preview(c.Request().Context(), schedulerID, reportID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.String(http.StatusOK, text)
}
