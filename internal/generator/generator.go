// Package generator produces report output files.
package generator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"report_scheduler/internal/models"
)

// ErrUnknownReport is returned for report types missing from the registry.
var ErrUnknownReport = errors.New("unknown report type")

// Output is one generated file.
type Output struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Generator computes a report for a set of parameters.
type Generator interface {
	// Name is the display name, e.g. "Monthly sales"
	Name() string
	Generate(ctx context.Context, params models.Params) ([]Output, error)
}

// Registry maps report type keys to generators.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register adds a generator under key.
func (r *Registry) Register(key string, g Generator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key == "" {
		return fmt.Errorf("report key cannot be empty")
	}
	if _, exists := r.generators[key]; exists {
		return fmt.Errorf("report type %s already registered", key)
	}
	r.generators[key] = g
	return nil
}

// Get returns the generator registered under key.
func (r *Registry) Get(key string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.generators[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReport, key)
	}
	return g, nil
}

// Keys lists the registered report types in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.generators))
	for key := range r.generators {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ReportType describes a registered report type.
type ReportType struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Types lists the registered report types with their names.
func (r *Registry) Types() []ReportType {
	keys := r.Keys()

	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]ReportType, 0, len(keys))
	for _, key := range keys {
		types = append(types, ReportType{Key: key, Name: r.generators[key].Name()})
	}
	return types
}
