package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ReportStatus is the processing state of a report
type ReportStatus string

const (
	StatusPending    ReportStatus = "pending"
	StatusProcessing ReportStatus = "processing"
	StatusProcessed  ReportStatus = "processed"
	StatusError      ReportStatus = "error"
)

// resultsSeparator joins storage keys in Report.Results.
const resultsSeparator = ";"

// Report represents a generated report
type Report struct {
	ID          uint           `json:"id" gorm:"primarykey"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
	Name        string         `json:"name" gorm:"size:255;not null"`
	ReportType  string         `json:"report_type" gorm:"size:255;not null"`
	Status      ReportStatus   `json:"status" gorm:"size:20;not null;default:'pending'"`
	ProcessTime *float64       `json:"process_time,omitempty"`
	Results     string         `json:"results,omitempty" gorm:"size:2000"`
	Params      Params         `json:"params"`
	Error       string         `json:"error,omitempty" gorm:"size:1000"`
	SchedulerID *uint          `json:"scheduler_id,omitempty" gorm:"index"`
	CreatedBy   string         `json:"created_by" gorm:"size:255"`
}

// TableName specifies the table name for the Report model
func (Report) TableName() string {
	return "reports"
}

// String returns the report name, suffixed with its ID once saved.
func (r *Report) String() string {
	if r.ID == 0 {
		return r.Name
	}
	return fmt.Sprintf("%s #%d", r.Name, r.ID)
}

// Validate checks the fields required to store a report.
func (r *Report) Validate() error {
	if strings.TrimSpace(r.ReportType) == "" {
		return fmt.Errorf("report type is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("report name is required")
	}
	return nil
}

// ResultsAsList returns the stored output keys. It is never nil.
func (r *Report) ResultsAsList() []string {
	if r.Results == "" {
		return []string{}
	}
	return strings.Split(r.Results, resultsSeparator)
}

// SetResults stores output keys.
func (r *Report) SetResults(keys []string) {
	r.Results = strings.Join(keys, resultsSeparator)
}

// SetProcessTime stores the duration in seconds rounded to 4 decimal places.
func (r *Report) SetProcessTime(d time.Duration) {
	secs := math.Round(d.Seconds()*10000) / 10000
	r.ProcessTime = &secs
}

// IsProcessed returns true if the report generation is completed
func (r *Report) IsProcessed() bool {
	return r.Status == StatusProcessed
}

// IsFailed returns true if the report generation failed
func (r *Report) IsFailed() bool {
	return r.Status == StatusError
}

// HasResults reports whether any output was stored.
func (r *Report) HasResults() bool {
	return r.Results != ""
}

// CanTransitionTo reports whether a report may move from s to next.
func (s ReportStatus) CanTransitionTo(next ReportStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusError
	case StatusProcessing:
		return next == StatusProcessed || next == StatusError
	case StatusProcessed, StatusError:
		// reprocessing
		return next == StatusProcessing
	}
	return false
}

// Valid reports whether s is a known status.
func (s ReportStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusError:
		return true
	}
	return false
}
