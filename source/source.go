// Package source defines where report data comes from.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/runner"
)

// DataSource produces the data of one report run. Implementations should
// call Checkpoint between units of work so pause and cancel take effect.
type DataSource interface {
	Generate(ctx context.Context, templateRef string, req report.Request) (report.Data, error)
}

// Func adapts a function to DataSource.
type Func func(ctx context.Context, templateRef string, req report.Request) (report.Data, error)

func (f Func) Generate(ctx context.Context, templateRef string, req report.Request) (report.Data, error) {
	return f(ctx, templateRef, req)
}

// Checkpoint blocks while the execution is paused and returns an error once
// it is cancelled or ctx is done.
func Checkpoint(ctx context.Context) error {
	if err := runner.ControlFrom(ctx).WaitIfPaused(ctx); err != nil {
		return err
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return nil
}

// Registry routes template references to data sources.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]DataSource
	fallback DataSource
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]DataSource)}
}

// Register binds templateRef to src, replacing any previous binding.
func (r *Registry) Register(templateRef string, src DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[templateRef] = src
}

// SetFallback sets the source used for unbound template references.
func (r *Registry) SetFallback(src DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = src
}

// Templates lists bound template references.
func (r *Registry) Templates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for k := range r.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Generate(ctx context.Context, templateRef string, req report.Request) (report.Data, error) {
	r.mu.RLock()
	src, ok := r.sources[templateRef]
	if !ok {
		src = r.fallback
	}
	r.mu.RUnlock()

	if src == nil {
		return report.Data{}, report.NewError(report.ErrExecutionFailed,
			fmt.Sprintf("no data source for template %q", templateRef), nil, map[string]any{
				"template_ref": templateRef,
			})
	}
	return src.Generate(ctx, templateRef, req)
}
