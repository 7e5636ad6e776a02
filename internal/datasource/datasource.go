// Package datasource holds the databases SQL reports read from.
package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"report_scheduler/internal/config"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownDatasource is returned for names missing from the registry.
	ErrUnknownDatasource = errors.New("unknown datasource")
	// ErrRowShape is returned when a row does not match the result columns.
	ErrRowShape = errors.New("row does not match columns")
)

// Rows is a query result: column names plus rows in column order.
type Rows struct {
	Columns []string
	Values  [][]any
}

// CheckRow fails when row i does not have one value per column.
func (r *Rows) CheckRow(i int, row []any) error {
	if len(row) != len(r.Columns) {
		return fmt.Errorf("%w: row %d has %d values for %d columns", ErrRowShape, i+1, len(row), len(r.Columns))
	}
	return nil
}

// DB wraps *sql.DB for report queries.
type DB struct {
	*sql.DB
	Name   string
	Driver string
}

// Open connects to a datasource. Supported drivers: postgres, sqlite3.
func Open(name, driver, dsn string) (*DB, error) {
	switch driver {
	case "postgres", "sqlite3":
	case "sqlite":
		driver = "sqlite3"
	default:
		return nil, fmt.Errorf("datasource %s: unsupported driver %q", name, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("datasource %s: %w", name, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	return &DB{DB: db, Name: name, Driver: driver}, nil
}

// Placeholder returns the positional placeholder for the n-th argument (1-based).
func (d *DB) Placeholder(n int) string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Execute runs a read-only query and returns every row.
func (d *DB) Execute(ctx context.Context, query string, args ...any) (*Rows, error) {
	if err := ValidateQuery(query); err != nil {
		return nil, err
	}

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("datasource %s: query failed: %w", d.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Rows{Columns: cols, Values: make([][]any, 0)}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range ptrs {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		result.Values = append(result.Values, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datasource %s: %w", d.Name, err)
	}
	return result, nil
}

// Registry holds the named datasources.
type Registry struct {
	dbs map[string]*DB
}

// NewRegistry wraps already opened datasources.
func NewRegistry(dbs ...*DB) *Registry {
	r := &Registry{dbs: make(map[string]*DB, len(dbs))}
	for _, db := range dbs {
		r.dbs[db.Name] = db
	}
	return r
}

// NewRegistryFromConfig opens every configured datasource.
func NewRegistryFromConfig(cfg config.Config, logger *logrus.Logger) (*Registry, error) {
	r := NewRegistry()
	for name, ds := range cfg.Datasources {
		db, err := Open(name, ds.Driver, ds.DSN)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.dbs[name] = db
		logger.WithFields(logrus.Fields{"datasource": name, "driver": ds.Driver}).Info("Datasource configured")
	}
	return r, nil
}

// Get returns the named datasource.
func (r *Registry) Get(name string) (*DB, error) {
	db, ok := r.dbs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatasource, name)
	}
	return db, nil
}

// Names lists the datasource names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.dbs))
	for name := range r.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every datasource.
func (r *Registry) Close() error {
	var errs []error
	for _, db := range r.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var forbiddenKeywords = []string{"DROP", "DELETE", "UPDATE", "INSERT", "CREATE", "ALTER", "TRUNCATE", "GRANT"}

// ValidateQuery rejects statements that could modify data.
func ValidateQuery(query string) error {
	words := strings.FieldsFunc(strings.ToUpper(query), func(r rune) bool {
		return !(r == '_' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	for _, w := range words {
		for _, f := range forbiddenKeywords {
			if w == f {
				return fmt.Errorf("forbidden operation: %s", f)
			}
		}
	}
	return nil
}
