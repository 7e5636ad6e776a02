// Package notification renders report-ready summaries and delivers them to users.
package notification

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"strconv"

	"report_scheduler/internal/models"
)

// ErrMissingField is matched by every MissingFieldError.
var ErrMissingField = errors.New("missing required field")

// MissingFieldError reports a required input that was absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingField, e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// TrustedURL is a link written into the summary verbatim.
// All other summary fields are escaped.
type TrustedURL string

// TrustedURLs converts plain strings.
func TrustedURLs(urls []string) []TrustedURL {
	if urls == nil {
		return nil
	}
	out := make([]TrustedURL, len(urls))
	for i, u := range urls {
		out[i] = TrustedURL(u)
	}
	return out
}

// ReportData is the part of a report shown in a notification.
// A nil ProcessTime, Params or ResultLinks means the field is absent.
type ReportData struct {
	Name        string
	ProcessTime *float64
	Params      models.Params
	ResultLinks []TrustedURL
}

// SchedulerData is the part of a scheduler shown in a notification.
type SchedulerData struct {
	Periodicity string
	CreatedBy   string
}

// Summary is a validated, immutable report/scheduler pair ready to render.
type Summary struct {
	reportName  string
	processTime float64
	params      models.Params
	links       []TrustedURL
	periodicity string
	createdBy   string
}

// NewSummary validates the inputs and copies them.
func NewSummary(report *ReportData, scheduler *SchedulerData) (*Summary, error) {
	if report == nil {
		return nil, &MissingFieldError{Field: "report"}
	}
	if scheduler == nil {
		return nil, &MissingFieldError{Field: "scheduler"}
	}
	if report.Name == "" {
		return nil, &MissingFieldError{Field: "report"}
	}
	if scheduler.Periodicity == "" {
		return nil, &MissingFieldError{Field: "scheduler.periodicity"}
	}
	if report.ProcessTime == nil {
		return nil, &MissingFieldError{Field: "report.process_time"}
	}
	if scheduler.CreatedBy == "" {
		return nil, &MissingFieldError{Field: "scheduler.created_by"}
	}
	if report.Params == nil {
		return nil, &MissingFieldError{Field: "report.params"}
	}
	if report.ResultLinks == nil {
		return nil, &MissingFieldError{Field: "report.result_links"}
	}

	links := make([]TrustedURL, len(report.ResultLinks))
	copy(links, report.ResultLinks)

	return &Summary{
		reportName:  report.Name,
		processTime: *report.ProcessTime,
		params:      report.Params.Clone(),
		links:       links,
		periodicity: scheduler.Periodicity,
		createdBy:   scheduler.CreatedBy,
	}, nil
}

// ReportName returns the report name the summary was built with.
func (s *Summary) ReportName() string {
	return s.reportName
}

// Links returns a copy of the download links.
func (s *Summary) Links() []TrustedURL {
	links := make([]TrustedURL, len(s.links))
	copy(links, s.links)
	return links
}

var summaryTemplate = template.Must(template.New("report_ready").Parse(
	`Report: {{.Report}}
Periodicity: {{.Periodicity}}
Process time (secs): {{.ProcessTime}}
Scheduler created by: {{.CreatedBy}}
Parameters used:
{{range .Params}}- {{.Name}}: {{.Value}}
{{end}}Download:
{{range .Links}}- {{.}}
{{end}}`))

type summaryView struct {
	Report      string
	Periodicity string
	ProcessTime string
	CreatedBy   string
	Params      models.Params
	Links       []template.HTML
}

// Render writes the plain-text summary to w.
func (s *Summary) Render(w io.Writer) error {
	view := summaryView{
		Report:      s.reportName,
		Periodicity: s.periodicity,
		ProcessTime: FormatSeconds(s.processTime),
		CreatedBy:   s.createdBy,
		Params:      s.params,
		Links:       make([]template.HTML, len(s.links)),
	}
	for i, link := range s.links {
		view.Links[i] = template.HTML(link)
	}

	if err := summaryTemplate.Execute(w, view); err != nil {
		return fmt.Errorf("render report summary: %w", err)
	}
	return nil
}

// Text renders the summary into a string.
func (s *Summary) Text() (string, error) {
	var buf bytes.Buffer
	if err := s.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatSeconds prints seconds in the shortest form that reads back exactly.
func FormatSeconds(secs float64) string {
	return strconv.FormatFloat(secs, 'f', -1, 64)
}
