package service

import (
	"context"
	"strings"

	"report_scheduler/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReportRepository persists reports
type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, id uint) (*models.Report, error)
	List(ctx context.Context, params ListReportParams) ([]models.Report, int64, error)
	Save(ctx context.Context, report *models.Report) error
	Delete(ctx context.Context, id uint) error
	// Claim moves a report from status from to processing. It reports false
	// when the stored status is no longer from.
	Claim(ctx context.Context, id uint, from models.ReportStatus) (bool, error)
	// FailProcessing marks every report left in processing as error.
	FailProcessing(ctx context.Context, reason string) (int64, error)
}

var reportSortColumns = map[string]bool{
	"id":           true,
	"name":         true,
	"report_type":  true,
	"status":       true,
	"process_time": true,
	"created_at":   true,
	"updated_at":   true,
}

// GormReportRepository implements ReportRepository with GORM
type GormReportRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewGormReportRepository creates a new GORM report repository
func NewGormReportRepository(db *gorm.DB, logger *logrus.Logger) ReportRepository {
	return &GormReportRepository{
		db:     db,
		logger: logger,
	}
}

func (r *GormReportRepository) Create(ctx context.Context, report *models.Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *GormReportRepository) GetByID(ctx context.Context, id uint) (*models.Report, error) {
	var report models.Report
	if err := r.db.WithContext(ctx).First(&report, id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

// List returns one page of reports with the total count before pagination.
func (r *GormReportRepository) List(ctx context.Context, params ListReportParams) ([]models.Report, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Report{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.SchedulerID != nil {
		query = query.Where("scheduler_id = ?", *params.SchedulerID)
	}
	if params.Search != "" {
		pattern := "%" + strings.ToLower(params.Search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(report_type) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if reportSortColumns[params.SortBy] {
		order := params.SortBy
		if params.SortDesc {
			order += " DESC"
		}
		query = query.Order(order)
	} else {
		query = query.Order("created_at DESC").Order("id DESC")
	}

	offset := (params.Page - 1) * params.PageSize
	query = query.Offset(offset).Limit(params.PageSize)

	var reports []models.Report
	err := query.Find(&reports).Error

	return reports, total, err
}

func (r *GormReportRepository) Save(ctx context.Context, report *models.Report) error {
	return r.db.WithContext(ctx).Save(report).Error
}

func (r *GormReportRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Report{}, id).Error
}

func (r *GormReportRepository) Claim(ctx context.Context, id uint, from models.ReportStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Report{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status": models.StatusProcessing,
			"error":  "",
		})
	return res.RowsAffected == 1, res.Error
}

func (r *GormReportRepository) FailProcessing(ctx context.Context, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Report{}).
		Where("status = ?", models.StatusProcessing).
		Updates(map[string]interface{}{
			"status": models.StatusError,
			"error":  reason,
		})
	return res.RowsAffected, res.Error
}
