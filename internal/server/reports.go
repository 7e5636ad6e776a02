package server

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"strconv"

	"report_scheduler/internal/models"
	"report_scheduler/internal/service"

	"github.com/labstack/echo/v4"
)

type createReportRequest struct {
	ReportType string        `json:"report_type"`
	Name       string        `json:"name"`
	Params     models.Params `json:"params"`
	CreatedBy  string        `json:"created_by"`
	// Process queues the report for background processing. Defaults to true.
	Process *bool `json:"process"`
}

// createReport stores a report and by default queues it for processing
func (s *Server) createReport(c echo.Context) error {
	var req createReportRequest
	if err := c.Bind(&req); err != nil {
		s.logger.WithError(err).Warn("Failed to bind request")
		return badRequest(c, "Invalid request format")
	}
	if req.ReportType == "" {
		return badRequest(c, "report_type is required")
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "anonymous"
	}

	report := &models.Report{
		ReportType: req.ReportType,
		Name:       req.Name,
		Params:     req.Params,
		CreatedBy:  req.CreatedBy,
	}

	ctx := c.Request().Context()
	if err := s.reports.CreateReport(ctx, report); err != nil {
		return s.errorResponse(c, err)
	}

	if req.Process == nil || *req.Process {
		if err := s.reports.EnqueueReport(ctx, report.ID); err != nil {
			return s.errorResponse(c, err)
		}
		return c.JSON(http.StatusAccepted, report)
	}
	return c.JSON(http.StatusCreated, report)
}

// listReports handles listing reports
func (s *Server) listReports(c echo.Context) error {
	params := service.ListReportParams{
		Search:   c.QueryParam("search"),
		SortBy:   c.QueryParam("sort_by"),
		SortDesc: c.QueryParam("sort_desc") == "true",
	}
	if v := c.QueryParam("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return badRequest(c, "Invalid page")
		}
		params.Page = page
	}
	if v := c.QueryParam("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return badRequest(c, "Invalid page_size")
		}
		params.PageSize = size
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.ReportStatus(v)
		if !status.Valid() {
			return badRequest(c, fmt.Sprintf("Invalid status: %s", v))
		}
		params.Status = &status
	}
	if v := c.QueryParam("scheduler_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return badRequest(c, "Invalid scheduler_id")
		}
		schedulerID := uint(id)
		params.SchedulerID = &schedulerID
	}

	list, err := s.reports.ListReports(c.Request().Context(), params)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// getReport handles getting a single report
func (s *Server) getReport(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "Invalid report ID")
	}

	report, err := s.reports.GetReport(c.Request().Context(), id)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// deleteReport handles report deletion
func (s *Server) deleteReport(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "Invalid report ID")
	}

	if err := s.reports.DeleteReport(c.Request().Context(), id); err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Report deleted successfully",
	})
}

// processReport generates the report synchronously
func (s *Server) processReport(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "Invalid report ID")
	}

	report, err := s.reports.ProcessReport(c.Request().Context(), id)
	if err != nil {
		if report != nil && report.IsFailed() {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"error":  err.Error(),
				"report": report,
			})
		}
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) cancelReport(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "Invalid report ID")
	}

	if err := s.reports.CancelReportProcessing(c.Request().Context(), id); err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Report processing canceled",
	})
}

func (s *Server) reportLinks(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "Invalid report ID")
	}

	ctx := c.Request().Context()
	report, err := s.reports.GetReport(ctx, id)
	if err != nil {
		return s.errorResponse(c, err)
	}
	links, err := s.reports.ResultLinks(ctx, report)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"links": links,
	})
}

// downloadResult streams one result file of a processed report
func (s *Server) downloadResult(c echo.Context) error {
	id, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "Invalid report ID")
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return badRequest(c, "Invalid result index")
	}

	reader, filename, err := s.reports.GetResultFile(c.Request().Context(), id, index)
	if err != nil {
		return s.errorResponse(c, err)
	}
	defer reader.Close()

	contentType := mime.TypeByExtension(path.Ext(filename))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	return c.Stream(http.StatusOK, contentType, reader)
}
