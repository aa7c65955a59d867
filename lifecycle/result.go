package lifecycle

import (
	"maps"
	"sync"
	"time"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/status"
)

// Result is the external view of a report.
type Result struct {
	ID         string        `json:"id"`
	Type       report.Type   `json:"type"`
	Format     report.Format `json:"format"`
	Status     status.Status `json:"status"`
	StatusName string        `json:"status_name"`
	Data       *report.Data  `json:"data,omitempty"`
	URL        string        `json:"url,omitempty"`
	Metadata   Metadata      `json:"metadata"`
	Error      *Error        `json:"error,omitempty"`
	Progress   *Progress     `json:"progress,omitempty"`
	NextAction string        `json:"next_action,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Terminal reports whether the result is final for the execution.
func (r Result) Terminal() bool { return r.Status.IsTerminal() }

// ToResult projects the report without changing it.
func (r *Report) ToResult() Result {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := Result{
		ID:         r.id,
		Type:       r.reportType,
		Format:     r.format,
		Status:     r.status,
		StatusName: r.status.DisplayName(),
		URL:        r.url,
		Metadata:   r.metadata,
		NextAction: r.status.NextAction(),
		CreatedAt:  r.createdAt,
		UpdatedAt:  r.updatedAt,
	}
	if r.data != nil {
		d := r.data.Clone()
		res.Data = &d
	}
	res.Error = cloneError(r.err)
	if r.progress != nil {
		p := *r.progress
		res.Progress = &p
	}
	return res
}

// Snapshot returns an independent copy of the report.
func (r *Report) Snapshot() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := &Report{
		mu:          sync.RWMutex{},
		id:          r.id,
		reportType:  r.reportType,
		format:      r.format,
		templateRef: r.templateRef,
		parameters:  maps.Clone(r.parameters),
		filters:     maps.Clone(r.filters),
		options:     r.options,
		context:     r.context.Clone(),
		status:      r.status,
		url:         r.url,
		metadata:    r.metadata,
		err:         cloneError(r.err),
		createdAt:   r.createdAt,
		updatedAt:   r.updatedAt,
		completed:   r.completed,
		clock:       r.clock,
		retention:   r.retention,
	}
	if r.data != nil {
		d := r.data.Clone()
		cp.data = &d
	}
	if r.progress != nil {
		p := *r.progress
		cp.progress = &p
	}
	if r.startedAt != nil {
		s := *r.startedAt
		cp.startedAt = &s
	}
	return cp
}

// Data returns a copy of the produced data, if any.
func (r *Report) Data() (report.Data, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return report.Data{}, false
	}
	return r.data.Clone(), true
}

// Parameters returns a copy of the request parameters.
func (r *Report) Parameters() map[string]any { return maps.Clone(r.parameters) }

// Filters returns a copy of the request filters.
func (r *Report) Filters() map[string]any { return maps.Clone(r.filters) }

func cloneError(e *Error) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Details = maps.Clone(e.Details)
	return &cp
}
