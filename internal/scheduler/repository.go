package scheduler

import (
	"context"
	"time"

	"report_scheduler/internal/models"

	"gorm.io/gorm"
)

// Repository persists schedulers
type Repository interface {
	Create(ctx context.Context, s *models.Scheduler) error
	GetByID(ctx context.Context, id uint) (*models.Scheduler, error)
	List(ctx context.Context, filter ListFilter) ([]models.Scheduler, error)
	Save(ctx context.Context, s *models.Scheduler) error
	Delete(ctx context.Context, id uint) error
	Due(ctx context.Context, now time.Time) ([]models.Scheduler, error)
}

// ListFilter narrows scheduler listings.
type ListFilter struct {
	Enabled    *bool
	ReportType string
	CreatedBy  string
}

// GormRepository implements Repository with GORM
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM scheduler repository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, s *models.Scheduler) error {
	enabled := s.Enabled
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return err
	}
	// gorm skips zero values of columns with a default on insert
	if !enabled {
		s.Enabled = false
		return r.db.WithContext(ctx).Model(s).Update("enabled", false).Error
	}
	return nil
}

func (r *GormRepository) GetByID(ctx context.Context, id uint) (*models.Scheduler, error) {
	var s models.Scheduler
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormRepository) List(ctx context.Context, filter ListFilter) ([]models.Scheduler, error) {
	query := r.db.WithContext(ctx).Model(&models.Scheduler{})
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}
	if filter.ReportType != "" {
		query = query.Where("report_type = ?", filter.ReportType)
	}
	if filter.CreatedBy != "" {
		query = query.Where("created_by = ?", filter.CreatedBy)
	}

	var schedulers []models.Scheduler
	err := query.Order("id").Find(&schedulers).Error
	return schedulers, err
}

// Save writes every column, including zero values such as Enabled=false.
func (r *GormRepository) Save(ctx context.Context, s *models.Scheduler) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *GormRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Scheduler{}, id).Error
}

// Due returns enabled schedulers whose next run is at or before now.
func (r *GormRepository) Due(ctx context.Context, now time.Time) ([]models.Scheduler, error) {
	var schedulers []models.Scheduler
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now.UTC()).
		Order("next_run_at").
		Find(&schedulers).Error
	return schedulers, err
}
