package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Periodicity describes how often a scheduler produces a report
type Periodicity string

const (
	PeriodicityDaily    Periodicity = "daily"
	PeriodicityWeekdays Periodicity = "weekdays"
	PeriodicityWeekends Periodicity = "weekends"
	PeriodicityWeekly   Periodicity = "weekly"
	PeriodicityMonthly  Periodicity = "monthly"
	PeriodicityCustom   Periodicity = "custom"
)

var periodicityDisplay = map[Periodicity]string{
	PeriodicityDaily:    "Daily",
	PeriodicityWeekdays: "Monday to Friday",
	PeriodicityWeekends: "Saturday and Sunday",
	PeriodicityWeekly:   "Weekly",
	PeriodicityMonthly:  "Monthly",
	PeriodicityCustom:   "Custom",
}

// Valid reports whether p is a known periodicity.
func (p Periodicity) Valid() bool {
	_, ok := periodicityDisplay[p]
	return ok
}

// Scheduler configures when a report type is generated and who gets notified
type Scheduler struct {
	ID           uint           `json:"id" gorm:"primarykey"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
	Name         string         `json:"name" gorm:"size:255"`
	ReportType   string         `json:"report_type" gorm:"size:255;not null"`
	Periodicity  Periodicity    `json:"periodicity" gorm:"size:20;not null"`
	Hour         int            `json:"hour"`
	CronExpr     string         `json:"cron_expr,omitempty" gorm:"size:100"`
	Timezone     string         `json:"timezone,omitempty" gorm:"size:64"`
	Params       Params         `json:"params"`
	NotifyEmails string         `json:"notify_emails,omitempty" gorm:"size:1000"`
	CreatedBy    string         `json:"created_by" gorm:"size:255;not null"`
	Enabled      bool           `json:"enabled" gorm:"not null;default:true"`
	NextRunAt    *time.Time     `json:"next_run_at,omitempty" gorm:"index"`
	LastRunAt    *time.Time     `json:"last_run_at,omitempty"`
}

// TableName specifies the table name for the Scheduler model
func (Scheduler) TableName() string {
	return "schedulers"
}

// String returns the scheduler name, suffixed with its ID once saved.
func (s *Scheduler) String() string {
	if s.ReportType == "" {
		return "Scheduler object"
	}
	name := s.Name
	if name == "" {
		name = s.ReportType
	}
	if s.ID == 0 {
		return name
	}
	return fmt.Sprintf("%s #%d", name, s.ID)
}

// PeriodicityDisplay returns the human readable recurrence.
func (s *Scheduler) PeriodicityDisplay() string {
	if s.Periodicity == PeriodicityCustom && s.CronExpr != "" {
		return fmt.Sprintf("Custom (%s)", s.CronExpr)
	}
	if display, ok := periodicityDisplay[s.Periodicity]; ok {
		return display
	}
	return string(s.Periodicity)
}

// CronSpec returns the 5-field cron expression for the scheduler.
func (s *Scheduler) CronSpec() (string, error) {
	switch s.Periodicity {
	case PeriodicityDaily:
		return fmt.Sprintf("0 %d * * *", s.Hour), nil
	case PeriodicityWeekdays:
		return fmt.Sprintf("0 %d * * 1-5", s.Hour), nil
	case PeriodicityWeekends:
		return fmt.Sprintf("0 %d * * 0,6", s.Hour), nil
	case PeriodicityWeekly:
		return fmt.Sprintf("0 %d * * 1", s.Hour), nil
	case PeriodicityMonthly:
		return fmt.Sprintf("0 %d 1 * *", s.Hour), nil
	case PeriodicityCustom:
		if s.CronExpr == "" {
			return "", fmt.Errorf("custom periodicity requires a cron expression")
		}
		return s.CronExpr, nil
	default:
		return "", fmt.Errorf("unknown periodicity: %s", s.Periodicity)
	}
}

// Recipients returns the notification addresses.
func (s *Scheduler) Recipients() []string {
	recipients := []string{}
	for _, addr := range strings.Split(s.NotifyEmails, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	return recipients
}

// Validate checks the fields required to store a scheduler.
func (s *Scheduler) Validate() error {
	if strings.TrimSpace(s.ReportType) == "" {
		return fmt.Errorf("report type is required")
	}
	if !s.Periodicity.Valid() {
		return fmt.Errorf("invalid periodicity: %q", s.Periodicity)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("hour must be between 0 and 23, got %d", s.Hour)
	}
	if s.Periodicity != PeriodicityCustom && s.CronExpr != "" {
		return fmt.Errorf("cron expression is only allowed with custom periodicity")
	}
	if strings.TrimSpace(s.CreatedBy) == "" {
		return fmt.Errorf("created_by is required")
	}
	for _, addr := range s.Recipients() {
		if !strings.Contains(addr, "@") {
			return fmt.Errorf("invalid notification address: %q", addr)
		}
	}
	return nil
}
