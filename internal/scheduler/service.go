// Package scheduler runs reports on a recurring schedule and notifies
// recipients when they are ready.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"report_scheduler/internal/generator"
	"report_scheduler/internal/metrics"
	"report_scheduler/internal/models"
	"report_scheduler/internal/notification"
	"report_scheduler/internal/service"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrNotFound is returned for unknown scheduler IDs.
var ErrNotFound = errors.New("scheduler not found")

// Update holds the scheduler fields that may change. Nil fields are left alone.
type Update struct {
	Name         *string        `json:"name,omitempty"`
	Periodicity  *string        `json:"periodicity,omitempty"`
	Hour         *int           `json:"hour,omitempty"`
	CronExpr     *string        `json:"cron_expr,omitempty"`
	Timezone     *string        `json:"timezone,omitempty"`
	Params       *models.Params `json:"params,omitempty"`
	NotifyEmails *string        `json:"notify_emails,omitempty"`
	Enabled      *bool          `json:"enabled,omitempty"`
}

// Service manages schedulers and executes them
type Service struct {
	repository Repository
	reports    service.ReportService
	generators *generator.Registry
	notifier   *notification.Notifier
	parser     *CronParser
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	now        func() time.Time
}

// NewService creates a scheduler service
func NewService(
	repository Repository,
	reports service.ReportService,
	generators *generator.Registry,
	notifier *notification.Notifier,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Service {
	return &Service{
		repository: repository,
		reports:    reports,
		generators: generators,
		notifier:   notifier,
		parser:     NewCronParser(),
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Create validates and stores a scheduler and computes its first run.
func (s *Service) Create(ctx context.Context, sched *models.Scheduler) error {
	if err := s.validate(sched); err != nil {
		return err
	}

	next, err := s.parser.NextRun(sched, s.now())
	if err != nil {
		return err
	}
	sched.NextRunAt = &next
	if sched.Params == nil {
		sched.Params = models.Params{}
	}

	if err := s.repository.Create(ctx, sched); err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"scheduler_id": sched.ID,
		"report_type":  sched.ReportType,
		"next_run_at":  next,
	}).Info("Scheduler created")
	return nil
}

// Get returns a scheduler by ID.
func (s *Service) Get(ctx context.Context, id uint) (*models.Scheduler, error) {
	sched, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get scheduler: %w", err)
	}
	return sched, nil
}

// List returns schedulers matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.Scheduler, error) {
	schedulers, err := s.repository.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedulers: %w", err)
	}
	return schedulers, nil
}

// Update applies changes and recomputes the next run.
func (s *Service) Update(ctx context.Context, id uint, upd Update) (*models.Scheduler, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		sched.Name = *upd.Name
	}
	if upd.Periodicity != nil {
		sched.Periodicity = models.Periodicity(*upd.Periodicity)
		if sched.Periodicity != models.PeriodicityCustom && upd.CronExpr == nil {
			sched.CronExpr = ""
		}
	}
	if upd.Hour != nil {
		sched.Hour = *upd.Hour
	}
	if upd.CronExpr != nil {
		sched.CronExpr = *upd.CronExpr
	}
	if upd.Timezone != nil {
		sched.Timezone = *upd.Timezone
	}
	if upd.Params != nil {
		sched.Params = upd.Params.Clone()
	}
	if upd.NotifyEmails != nil {
		sched.NotifyEmails = *upd.NotifyEmails
	}
	if upd.Enabled != nil {
		sched.Enabled = *upd.Enabled
	}

	if err := s.validate(sched); err != nil {
		return nil, err
	}
	next, err := s.parser.NextRun(sched, s.now())
	if err != nil {
		return nil, err
	}
	sched.NextRunAt = &next

	if err := s.repository.Save(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to update scheduler: %w", err)
	}
	s.logger.WithField("scheduler_id", id).Info("Scheduler updated")
	return sched, nil
}

// Delete removes a scheduler. Reports it produced are kept.
func (s *Service) Delete(ctx context.Context, id uint) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repository.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete scheduler: %w", err)
	}
	s.logger.WithField("scheduler_id", id).Info("Scheduler deleted")
	return nil
}

// RunNow executes a scheduler immediately, whether or not it is due.
func (s *Service) RunNow(ctx context.Context, id uint) (*models.Report, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, sched)
}

// Run creates and processes a report for sched, then sends the report-ready
// notification. The next run is advanced whatever the outcome; failed
// reports are not notified.
func (s *Service) Run(ctx context.Context, sched *models.Scheduler) (*models.Report, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"scheduler_id": sched.ID,
		"report_type":  sched.ReportType,
	})
	now := s.now()
	defer s.advance(context.WithoutCancel(ctx), sched, now, logger)

	loc, err := loadLocation(sched.Timezone)
	if err != nil {
		s.metrics.SchedulerRun("error")
		return nil, err
	}

	report := &models.Report{
		Name:        sched.Name,
		ReportType:  sched.ReportType,
		Params:      ResolveParams(sched.Params, now.In(loc)),
		SchedulerID: &sched.ID,
		CreatedBy:   sched.CreatedBy,
	}
	if err := s.reports.CreateReport(ctx, report); err != nil {
		s.metrics.SchedulerRun("error")
		logger.WithError(err).Error("Failed to create scheduled report")
		return nil, err
	}

	processed, err := s.reports.ProcessReport(ctx, report.ID)
	if err != nil {
		s.metrics.SchedulerRun("error")
		logger.WithError(err).WithField("report_id", report.ID).Error("Scheduled report failed")
		if processed != nil {
			return processed, err
		}
		return report, err
	}
	s.metrics.SchedulerRun("processed")

	// senders that need addresses skip an empty list; chat webhooks post anyway
	recipients := sched.Recipients()

	summary, err := s.BuildSummary(ctx, processed, sched)
	if err != nil {
		logger.WithError(err).Error("Failed to build report notification")
		return processed, err
	}
	if err := s.notifier.ReportReady(ctx, summary, recipients); err != nil {
		return processed, err
	}

	logger.WithField("report_id", processed.ID).Info("Scheduled report processed and notified")
	return processed, nil
}

func (s *Service) advance(ctx context.Context, sched *models.Scheduler, ranAt time.Time, logger *logrus.Entry) {
	ranAt = ranAt.UTC()
	sched.LastRunAt = &ranAt

	next, err := s.parser.NextRun(sched, ranAt)
	if err != nil {
		// a broken schedule must not run again on every tick
		logger.WithError(err).Error("Failed to compute next run, disabling scheduler")
		sched.Enabled = false
		sched.NextRunAt = nil
	} else {
		sched.NextRunAt = &next
	}

	if err := s.repository.Save(ctx, sched); err != nil {
		logger.WithError(err).Error("Failed to save scheduler run")
	}
}

// BuildSummary assembles the notification summary of a processed report.
func (s *Service) BuildSummary(ctx context.Context, report *models.Report, sched *models.Scheduler) (*notification.Summary, error) {
	links, err := s.reports.ResultLinks(ctx, report)
	if err != nil {
		return nil, err
	}

	params := report.Params
	if params == nil {
		params = models.Params{}
	}

	return notification.NewSummary(
		&notification.ReportData{
			Name:        report.String(),
			ProcessTime: report.ProcessTime,
			Params:      params,
			ResultLinks: notification.TrustedURLs(links),
		},
		&notification.SchedulerData{
			Periodicity: sched.PeriodicityDisplay(),
			CreatedBy:   sched.CreatedBy,
		},
	)
}

// Preview renders the notification of a report produced by a scheduler.
func (s *Service) Preview(ctx context.Context, schedulerID, reportID uint) (string, error) {
	sched, err := s.Get(ctx, schedulerID)
	if err != nil {
		return "", err
	}
	report, err := s.reports.GetReport(ctx, reportID)
	if err != nil {
		return "", err
	}
	if report.SchedulerID == nil || *report.SchedulerID != sched.ID {
		return "", fmt.Errorf("report %d was not produced by scheduler %d: %w", reportID, schedulerID, service.ErrNotFound)
	}

	summary, err := s.BuildSummary(ctx, report, sched)
	if err != nil {
		return "", err
	}
	return summary.Text()
}

// RunDue executes every scheduler due at now and returns how many ran.
func (s *Service) RunDue(ctx context.Context) (int, error) {
	due, err := s.repository.Due(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to get due schedulers: %w", err)
	}

	for i := range due {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		// errors are logged by Run
		_, _ = s.Run(ctx, &due[i])
	}
	return len(due), nil
}

func (s *Service) validate(sched *models.Scheduler) error {
	if err := sched.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if _, err := s.generators.Get(sched.ReportType); err != nil {
		return err
	}
	if sched.Periodicity == models.PeriodicityCustom {
		if err := s.parser.Validate(sched.CronExpr); err != nil {
			return fmt.Errorf("%w: %v", models.ErrValidation, err)
		}
	}
	if _, err := loadLocation(sched.Timezone); err != nil {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	return nil
}
