package scheduler

import (
	"fmt"
	"time"

	"report_scheduler/internal/models"

	"github.com/robfig/cron/v3"
)

// CronParser handles cron expression parsing and next execution calculation
type CronParser struct {
	parser cron.Parser
}

// NewCronParser creates a parser for standard 5-field expressions
func NewCronParser() *CronParser {
	return &CronParser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Validate checks if a cron expression is valid
func (p *CronParser) Validate(cronExpr string) error {
	if _, err := p.parser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Next returns the first activation after from, evaluated in timezone and
// returned in UTC.
func (p *CronParser) Next(cronExpr string, timezone string, from time.Time) (time.Time, error) {
	schedule, err := p.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	loc, err := loadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(from.In(loc)).UTC(), nil
}

// NextRun computes the next run of a scheduler after from.
func (p *CronParser) NextRun(s *models.Scheduler, from time.Time) (time.Time, error) {
	spec, err := s.CronSpec()
	if err != nil {
		return time.Time{}, err
	}
	return p.Next(spec, s.Timezone, from)
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	return loc, nil
}
