package generator

import (
	"context"
	"fmt"
	"strings"

	"report_scheduler/internal/config"
	"report_scheduler/internal/datasource"
	"report_scheduler/internal/models"
)

// RowCleaner may rewrite a row before it is written.
type RowCleaner func(row []any) []any

// SQLReport runs one query against a datasource and writes the rows in every
// configured format. Parameters are referenced in the query as :name.
type SQLReport struct {
	Key     string
	Title   string
	DB      *datasource.DB
	Query   string
	Writers []Writer
	Cleaner RowCleaner
}

func (r *SQLReport) Name() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Key
}

func (r *SQLReport) Generate(ctx context.Context, params models.Params) ([]Output, error) {
	query, args, err := BindParams(r.Query, params, r.DB.Placeholder)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", r.Key, err)
	}

	rows, err := r.DB.Execute(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", r.Key, err)
	}

	if r.Cleaner != nil {
		for i, row := range rows.Values {
			cleaned := r.Cleaner(row)
			if err := rows.CheckRow(i, cleaned); err != nil {
				return nil, fmt.Errorf("report %s: cleaner: %w", r.Key, err)
			}
			rows.Values[i] = cleaned
		}
	}

	outputs := make([]Output, 0, len(r.Writers))
	for _, w := range r.Writers {
		out, err := w.Write(r.Key, rows)
		if err != nil {
			return nil, fmt.Errorf("report %s: %w", r.Key, err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// BindParams replaces :name references with positional placeholders and
// returns the arguments in placeholder order. Quoted text and :: casts are
// left untouched.
func BindParams(query string, params models.Params, placeholder func(n int) string) (string, []any, error) {
	var (
		b    strings.Builder
		args []any
	)
	b.Grow(len(query))

	for i := 0; i < len(query); i++ {
		c := query[i]

		if c == '\'' || c == '"' {
			end := strings.IndexByte(query[i+1:], c)
			if end < 0 {
				b.WriteString(query[i:])
				break
			}
			b.WriteString(query[i : i+end+2])
			i += end + 1
			continue
		}

		if c != ':' {
			b.WriteByte(c)
			continue
		}

		if i+1 < len(query) && query[i+1] == ':' {
			b.WriteString("::")
			i++
			continue
		}

		j := i + 1
		for j < len(query) && isIdentByte(query[j], j == i+1) {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}

		name := query[i+1 : j]
		value, ok := params.Get(name)
		if !ok {
			return "", nil, fmt.Errorf("missing parameter %q", name)
		}
		args = append(args, value)
		b.WriteString(placeholder(len(args)))
		i = j - 1
	}

	return b.String(), args, nil
}

func isIdentByte(c byte, first bool) bool {
	if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
		return true
	}
	return !first && c >= '0' && c <= '9'
}

// NewRegistryFromConfig registers one SQLReport per configured report.
func NewRegistryFromConfig(cfg config.Config, datasources *datasource.Registry) (*Registry, error) {
	reg := NewRegistry()
	for _, rc := range cfg.Reports {
		db, err := datasources.Get(rc.Datasource)
		if err != nil {
			return nil, fmt.Errorf("report %s: %w", rc.Key, err)
		}

		formats := rc.Outputs
		if len(formats) == 0 {
			formats = []string{FormatTSV}
		}
		writers := make([]Writer, 0, len(formats))
		for _, format := range formats {
			w, err := NewWriter(format)
			if err != nil {
				return nil, fmt.Errorf("report %s: %w", rc.Key, err)
			}
			writers = append(writers, w)
		}

		report := &SQLReport{
			Key:     rc.Key,
			Title:   rc.Name,
			DB:      db,
			Query:   rc.Query,
			Writers: writers,
		}
		if err := reg.Register(rc.Key, report); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
