package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"report_scheduler/internal/generator"
	"report_scheduler/internal/metrics"
	"report_scheduler/internal/models"
	"report_scheduler/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultGenerationTimeout = 30 * time.Minute

	maxErrorLength = 1000

	interruptedReason = "processing was interrupted"
)

var (
	// ErrNotFound is returned when a record or result file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrReportNotSaved is returned when processing a report that has no stored record.
	ErrReportNotSaved = errors.New("report must be saved before processing")
	// ErrInvalidState is returned for operations the report status does not allow.
	ErrInvalidState = errors.New("invalid report state")
)

// ReportService manages reports and their generated files
type ReportService interface {
	CreateReport(ctx context.Context, report *models.Report) error
	EnqueueReport(ctx context.Context, id uint) error
	GetReport(ctx context.Context, id uint) (*models.Report, error)
	ListReports(ctx context.Context, params ListReportParams) (*ReportList, error)
	DeleteReport(ctx context.Context, id uint) error
	ProcessReport(ctx context.Context, id uint) (*models.Report, error)
	CancelReportProcessing(ctx context.Context, id uint) error
	RecoverInterrupted(ctx context.Context) (int64, error)
	ResultLinks(ctx context.Context, report *models.Report) ([]string, error)
	GetResultFile(ctx context.Context, id uint, index int) (io.ReadCloser, string, error)
}

// ListReportParams holds list filters and pagination
type ListReportParams struct {
	Page        int                  `json:"page"`
	PageSize    int                  `json:"page_size"`
	Status      *models.ReportStatus `json:"status,omitempty"`
	SchedulerID *uint                `json:"scheduler_id,omitempty"`
	Search      string               `json:"search,omitempty"`
	SortBy      string               `json:"sort_by,omitempty"`
	SortDesc    bool                 `json:"sort_desc,omitempty"`
}

// ReportList is one page of reports
type ReportList struct {
	Reports    []models.Report `json:"reports"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// ReportServiceImpl implements ReportService
type ReportServiceImpl struct {
	repository ReportRepository
	generators *generator.Registry
	storage    storage.Storage
	processor  BackgroundProcessor
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	now        func() time.Time
}

// NewReportService creates a new report service
func NewReportService(
	repository ReportRepository,
	generators *generator.Registry,
	store storage.Storage,
	processor BackgroundProcessor,
	m *metrics.Metrics,
	logger *logrus.Logger,
) ReportService {
	return &ReportServiceImpl{
		repository: repository,
		generators: generators,
		storage:    store,
		processor:  processor,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateReport stores a new pending report. The name defaults to the report type's name.
func (s *ReportServiceImpl) CreateReport(ctx context.Context, report *models.Report) error {
	logger := s.logger.WithFields(logrus.Fields{
		"report_type": report.ReportType,
		"created_by":  report.CreatedBy,
	})

	gen, err := s.generators.Get(report.ReportType)
	if err != nil {
		logger.WithError(err).Warn("Unknown report type")
		return err
	}
	if strings.TrimSpace(report.Name) == "" {
		report.Name = gen.Name()
	}
	report.Status = models.StatusPending
	if report.Params == nil {
		report.Params = models.Params{}
	}

	if err := report.Validate(); err != nil {
		logger.WithError(err).Warn("Report validation failed")
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	if err := s.repository.Create(ctx, report); err != nil {
		logger.WithError(err).Error("Failed to save report")
		return fmt.Errorf("failed to create report: %w", err)
	}

	logger.WithField("report_id", report.ID).Info("Report created")
	return nil
}

// EnqueueReport schedules background processing of a saved report.
func (s *ReportServiceImpl) EnqueueReport(ctx context.Context, id uint) error {
	if s.processor == nil {
		return fmt.Errorf("background processing is not configured")
	}
	if _, err := s.GetReport(ctx, id); err != nil {
		return err
	}

	task := Task{
		ID:      reportTaskID(id),
		Type:    TaskTypeReportGeneration,
		Data:    id,
		Timeout: defaultGenerationTimeout,
	}
	if err := s.processor.SubmitTask(ctx, task); err != nil {
		s.logger.WithError(err).WithField("report_id", id).Error("Failed to queue report")
		return fmt.Errorf("failed to queue report: %w", err)
	}
	return nil
}

// GetReport returns a report by ID
func (s *ReportServiceImpl) GetReport(ctx context.Context, id uint) (*models.Report, error) {
	report, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("report %d: %w", id, ErrNotFound)
		}
		s.logger.WithError(err).WithField("report_id", id).Error("Failed to load report")
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// ListReports returns a page of reports
func (s *ReportServiceImpl) ListReports(ctx context.Context, params ListReportParams) (*ReportList, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	reports, total, err := s.repository.List(ctx, params)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list reports")
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	totalPages := int((total + int64(params.PageSize) - 1) / int64(params.PageSize))

	return &ReportList{
		Reports:    reports,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
	}, nil
}

// DeleteReport removes a report and its stored files
func (s *ReportServiceImpl) DeleteReport(ctx context.Context, id uint) error {
	logger := s.logger.WithField("report_id", id)

	report, err := s.GetReport(ctx, id)
	if err != nil {
		return err
	}

	if s.processor != nil {
		// nothing to cancel is fine here
		_ = s.processor.CancelTask(reportTaskID(id))
	}

	s.deleteFiles(ctx, report.ResultsAsList(), logger)

	if err := s.repository.Delete(ctx, id); err != nil {
		logger.WithError(err).Error("Failed to delete report")
		return fmt.Errorf("failed to delete report: %w", err)
	}

	logger.WithField("name", report.Name).Info("Report deleted")
	return nil
}

// ProcessReport generates the report outputs, stores them and records the
// result keys and process time. On failure the report is marked as error and
// the error is returned.
func (s *ReportServiceImpl) ProcessReport(ctx context.Context, id uint) (*models.Report, error) {
	if id == 0 {
		return nil, ErrReportNotSaved
	}

	report, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("report %d: %w", id, ErrReportNotSaved)
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	if !report.Status.CanTransitionTo(models.StatusProcessing) {
		return report, fmt.Errorf("%w: report %d is %s", ErrInvalidState, id, report.Status)
	}

	logger := s.logger.WithFields(logrus.Fields{
		"report_id":   report.ID,
		"report_type": report.ReportType,
	})

	claimed, err := s.repository.Claim(ctx, report.ID, report.Status)
	if err != nil {
		return report, fmt.Errorf("failed to update report status: %w", err)
	}
	if !claimed {
		return report, fmt.Errorf("%w: report %d is already being processed", ErrInvalidState, id)
	}
	report.Status = models.StatusProcessing
	report.Error = ""
	logger.Info("Processing report")

	start := s.now()
	keys, err := s.generate(ctx, report)
	elapsed := s.now().Sub(start)

	if err != nil {
		logger.WithError(err).Error("Report processing failed")
		s.metrics.ReportProcessed(report.ReportType, string(models.StatusError), elapsed)
		report.Status = models.StatusError
		report.Error = truncate(err.Error(), maxErrorLength)
		if saveErr := s.repository.Save(context.WithoutCancel(ctx), report); saveErr != nil {
			logger.WithError(saveErr).Error("Failed to record report error")
		}
		return report, err
	}

	// previous outputs are replaced on reprocessing
	previous := report.ResultsAsList()
	previousTime := report.ProcessTime

	report.SetResults(keys)
	report.SetProcessTime(elapsed)
	report.Status = models.StatusProcessed
	if err := s.repository.Save(ctx, report); err != nil {
		err = fmt.Errorf("failed to save report results: %w", err)
		logger.WithError(err).Error("Report processing failed")
		s.deleteFiles(context.WithoutCancel(ctx), keys, logger)

		report.SetResults(previous)
		report.ProcessTime = previousTime
		report.Status = models.StatusError
		report.Error = truncate(err.Error(), maxErrorLength)
		if saveErr := s.repository.Save(context.WithoutCancel(ctx), report); saveErr != nil {
			logger.WithError(saveErr).Error("Failed to record report error")
		}
		s.metrics.ReportProcessed(report.ReportType, string(models.StatusError), elapsed)
		return report, err
	}
	s.deleteFiles(ctx, previous, logger)

	s.metrics.ReportProcessed(report.ReportType, string(models.StatusProcessed), elapsed)
	logger.WithFields(logrus.Fields{
		"results":      len(keys),
		"process_time": *report.ProcessTime,
	}).Info("Report processed")

	return report, nil
}

func (s *ReportServiceImpl) generate(ctx context.Context, report *models.Report) ([]string, error) {
	gen, err := s.generators.Get(report.ReportType)
	if err != nil {
		return nil, err
	}

	outputs, err := gen.Generate(ctx, report.Params)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(outputs))
	for _, out := range outputs {
		key := ResultKey(report.ID, out.Filename)
		if err := s.storage.Save(ctx, key, bytes.NewReader(out.Body)); err != nil {
			s.deleteFiles(context.WithoutCancel(ctx), keys, s.logger.WithField("report_id", report.ID))
			return nil, fmt.Errorf("failed to store %s: %w", out.Filename, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// CancelReportProcessing stops a queued or running background task.
func (s *ReportServiceImpl) CancelReportProcessing(ctx context.Context, id uint) error {
	if _, err := s.GetReport(ctx, id); err != nil {
		return err
	}
	if s.processor == nil {
		return fmt.Errorf("background processing is not configured")
	}
	if err := s.processor.CancelTask(reportTaskID(id)); err != nil {
		return fmt.Errorf("report %d: %w", id, err)
	}
	s.logger.WithField("report_id", id).Info("Report processing canceled")
	return nil
}

// RecoverInterrupted marks reports left in processing by a previous run as
// failed so they can be processed again. Call it before any report is queued.
func (s *ReportServiceImpl) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := s.repository.FailProcessing(ctx, interruptedReason)
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted reports: %w", err)
	}
	if n > 0 {
		s.logger.WithField("reports", n).Warn("Marked interrupted reports as failed")
	}
	return n, nil
}

// ResultLinks returns a download URL per stored result, in result order.
func (s *ReportServiceImpl) ResultLinks(ctx context.Context, report *models.Report) ([]string, error) {
	keys := report.ResultsAsList()
	links := make([]string, 0, len(keys))
	for _, key := range keys {
		url, err := s.storage.GetURL(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to get link for %s: %w", key, err)
		}
		links = append(links, url)
	}
	return links, nil
}

// GetResultFile opens the result at index and returns it with its file name.
func (s *ReportServiceImpl) GetResultFile(ctx context.Context, id uint, index int) (io.ReadCloser, string, error) {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !report.IsProcessed() {
		return nil, "", fmt.Errorf("%w: report %d is %s", ErrInvalidState, id, report.Status)
	}

	keys := report.ResultsAsList()
	if index < 0 || index >= len(keys) {
		return nil, "", fmt.Errorf("report %d result %d: %w", id, index, ErrNotFound)
	}

	reader, err := s.storage.Get(ctx, keys[index])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", fmt.Errorf("report %d result %d: %w", id, index, ErrNotFound)
		}
		s.logger.WithError(err).WithField("key", keys[index]).Error("Failed to read result file")
		return nil, "", fmt.Errorf("failed to get result file: %w", err)
	}
	return reader, ResultFilename(keys[index]), nil
}

func (s *ReportServiceImpl) deleteFiles(ctx context.Context, keys []string, logger *logrus.Entry) {
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			logger.WithError(err).WithField("key", key).Error("Failed to delete result file")
		}
	}
}

// ResultKey builds the storage key of a report output.
func ResultKey(reportID uint, filename string) string {
	return fmt.Sprintf("reports/%d/%s-%s", reportID, uuid.NewString(), filename)
}

// ResultFilename strips the directory and unique prefix from a result key.
func ResultFilename(key string) string {
	base := path.Base(key)
	// uuid is 36 characters followed by "-"
	if len(base) > 37 && base[36] == '-' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			return base[37:]
		}
	}
	return base
}

func reportTaskID(id uint) string {
	return fmt.Sprintf("report_%d", id)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// NewReportServiceFromDB wires a report service on a GORM database with a
// background processor that runs ProcessReport for queued reports. The
// processor must be started by the caller.
func NewReportServiceFromDB(
	db *gorm.DB,
	generators *generator.Registry,
	store storage.Storage,
	m *metrics.Metrics,
	logger *logrus.Logger,
) (ReportService, *QueueProcessor) {
	repository := NewGormReportRepository(db, logger)
	processor := NewQueueProcessor(defaultQueueSize, logger)
	svc := NewReportService(repository, generators, store, processor, m, logger)

	processor.Handle(TaskTypeReportGeneration, func(ctx context.Context, task Task) error {
		id, ok := task.Data.(uint)
		if !ok {
			return fmt.Errorf("invalid report task data: %T", task.Data)
		}
		_, err := svc.ProcessReport(ctx, id)
		return err
	})

	return svc, processor
}
