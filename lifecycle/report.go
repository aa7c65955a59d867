// Package lifecycle holds the Report entity: one execution of a report
// request, its status machine, progress and outcome.
package lifecycle

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/export"
	"github.com/goliatone/go-report/status"
)

// DefaultRetention is how long a generated report stays downloadable.
const DefaultRetention = 90 * 24 * time.Hour

// Metadata describes the produced artifact.
type Metadata struct {
	ExecutionTime time.Duration `json:"execution_time"`
	RecordCount   int           `json:"record_count"`
	FileSize      int64         `json:"file_size"`
	GeneratedAt   time.Time     `json:"generated_at,omitempty"`
	ExpiresAt     time.Time     `json:"expires_at,omitempty"`
	FileID        string        `json:"file_id,omitempty"`
	ExportFormat  report.Format `json:"export_format,omitempty"`
}

// Error is the failure recorded on a report.
type Error struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Recoverable bool           `json:"recoverable"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
}

// Progress of a running report.
type Progress struct {
	Percentage         float64       `json:"percentage"`
	Stage              string        `json:"stage"`
	Message            string        `json:"message,omitempty"`
	EstimatedRemaining time.Duration `json:"estimated_remaining,omitempty"`
}

// File is a stored artifact.
type File struct {
	ID        string
	URL       string
	Size      int64
	ExpiresAt time.Time
}

// Report is safe for concurrent use. Type, format and context never change
// after New.
type Report struct {
	mu sync.RWMutex

	id          string
	reportType  report.Type
	format      report.Format
	templateRef string
	parameters  map[string]any
	filters     map[string]any
	options     report.Options
	context     report.ExecutionContext

	status    status.Status
	data      *report.Data
	url       string
	metadata  Metadata
	err       *Error
	progress  *Progress
	createdAt time.Time
	updatedAt time.Time
	startedAt *time.Time
	completed bool

	clock     func() time.Time
	retention time.Duration
}

// Option configures New.
type Option func(*Report)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(r *Report) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRetention sets how long results stay available after generation.
func WithRetention(d time.Duration) Option {
	return func(r *Report) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithID sets the report id instead of generating one.
func WithID(id string) Option {
	return func(r *Report) {
		if id = strings.TrimSpace(id); id != "" {
			r.id = id
		}
	}
}

// New validates req against catalog and returns a pending report. A nil
// catalog uses report.DefaultCatalog.
func New(req report.Request, catalog *report.Catalog, opts ...Option) (*Report, error) {
	if catalog == nil {
		catalog = report.DefaultCatalog()
	}
	def, err := catalog.Validate(req)
	if err != nil {
		return nil, err
	}

	r := &Report{
		id:          req.ID,
		reportType:  req.Type,
		format:      req.Format,
		templateRef: def.TemplateRef,
		status:      status.Pending,
		clock:       time.Now,
		retention:   DefaultRetention,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}

	req = req.Clone()
	r.parameters = req.Parameters
	r.filters = req.Filters
	r.options = req.Options
	r.context = req.Context

	now := r.clock()
	r.createdAt = now
	r.updatedAt = now
	return r, nil
}

func (r *Report) ID() string            { return r.id }
func (r *Report) Type() report.Type     { return r.reportType }
func (r *Report) Format() report.Format { return r.format }
func (r *Report) TemplateRef() string   { return r.templateRef }
func (r *Report) CreatedAt() time.Time  { return r.createdAt }

// Context returns a copy of the execution context.
func (r *Report) Context() report.ExecutionContext { return r.context.Clone() }

func (r *Report) Options() report.Options { return r.options }

func (r *Report) Status() status.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Metadata returns a copy of the artifact metadata.
func (r *Report) Metadata() Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata
}

// Start moves the report to running and seeds progress at zero.
func (r *Report) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := status.ValidateTransition(r.status, status.Running); err != nil {
		return err
	}
	now := r.clock()
	if r.startedAt == nil {
		r.startedAt = &now
	}
	r.status = status.Running
	if r.progress == nil {
		r.progress = &Progress{Stage: "started"}
	}
	r.updatedAt = now
	return nil
}

// Advance moves between working stages, running to processing to rendering.
func (r *Report) Advance(to status.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if to != status.Processing && to != status.Rendering {
		return r.invalidState("advance", map[string]any{"to": string(to)})
	}
	if err := status.ValidateTransition(r.status, to); err != nil {
		return err
	}
	r.status = to
	r.updatedAt = r.clock()
	return nil
}

// Pause suspends a running report.
func (r *Report) Pause() error {
	return r.transition(status.Paused)
}

// UpdateProgress records progress. Percentages must stay within 0..100 and
// never go down.
func (r *Report) UpdateProgress(pct float64, stage, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.IsTerminal() || !r.status.ShowsProgress() {
		return r.invalidState("update progress", nil)
	}
	if pct < 0 || pct > 100 {
		return report.NewError(report.ErrValidation, fmt.Sprintf("progress %.1f out of range", pct), nil, map[string]any{
			"percentage": pct,
		})
	}
	if r.progress != nil && pct < r.progress.Percentage {
		return r.invalidState("decrease progress", map[string]any{
			"current":   r.progress.Percentage,
			"requested": pct,
		})
	}

	now := r.clock()
	p := &Progress{Percentage: pct, Stage: stage, Message: message}
	if pct > 0 {
		start := r.createdAt
		if r.startedAt != nil {
			start = *r.startedAt
		}
		elapsed := now.Sub(start)
		p.EstimatedRemaining = time.Duration(float64(elapsed)/pct*100) - elapsed
	}
	r.progress = p
	r.updatedAt = now
	return nil
}

// AttachFile records the stored artifact before completion.
func (r *Report) AttachFile(f File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return r.invalidState("attach file", nil)
	}
	r.url = f.URL
	r.metadata.FileID = f.ID
	r.metadata.FileSize = f.Size
	r.metadata.ExpiresAt = f.ExpiresAt
	r.updatedAt = r.clock()
	return nil
}

// Complete finishes the report with data. It may be called once.
func (r *Report) Complete(data report.Data, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.completed {
		return r.invalidState("complete", map[string]any{"reason": "already completed"})
	}
	if err := status.ValidateTransition(r.status, status.Completed); err != nil {
		return err
	}

	now := r.clock()
	d := data.Clone()
	if d.GeneratedAt.IsZero() {
		d.GeneratedAt = now
	}
	r.data = &d
	if url != "" {
		r.url = url
	}
	r.metadata.ExecutionTime = now.Sub(r.createdAt)
	r.metadata.RecordCount = d.Records()
	r.metadata.GeneratedAt = d.GeneratedAt
	expires := d.GeneratedAt.Add(r.retention)
	if r.metadata.ExpiresAt.IsZero() || expires.Before(r.metadata.ExpiresAt) {
		r.metadata.ExpiresAt = expires
	}
	r.status = status.Completed
	r.completed = true
	r.progress = &Progress{Percentage: 100, Stage: "completed"}
	r.updatedAt = now
	return nil
}

// Fail records err and moves to failed.
func (r *Report) Fail(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if terr := status.ValidateTransition(r.status, status.Failed); terr != nil {
		return terr
	}
	now := r.clock()
	r.err = toError(err, now)
	r.status = status.Failed
	r.data = nil
	r.updatedAt = now
	return nil
}

// Cancel moves to cancelled. Cancellation is not recorded as an error.
func (r *Report) Cancel(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := status.ValidateTransition(r.status, status.Cancelled); err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled by request"
	}
	pct := 0.0
	if r.progress != nil {
		pct = r.progress.Percentage
	}
	r.progress = &Progress{Percentage: pct, Stage: "cancelled", Message: reason}
	r.status = status.Cancelled
	r.data = nil
	r.updatedAt = r.clock()
	return nil
}

// Timeout moves to timeout and discards partial results.
func (r *Report) Timeout() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := status.ValidateTransition(r.status, status.Timeout); err != nil {
		return err
	}
	now := r.clock()
	r.err = &Error{
		Code:        report.ErrCodeTimeout,
		Message:     "report execution exceeded its deadline",
		Recoverable: true,
		Timestamp:   now,
	}
	r.status = status.Timeout
	r.data = nil
	r.url = ""
	r.updatedAt = now
	return nil
}

// StartExport begins the export sub-flow. The record count must fit the
// target format.
func (r *Report) StartExport(format report.Format, caps export.Capabilities) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := status.ValidateTransition(r.status, status.Exporting); err != nil {
		return err
	}
	if err := export.CheckCapacity(format, caps, r.metadata.RecordCount, 0); err != nil {
		return err
	}
	r.status = status.Exporting
	r.metadata.ExportFormat = format
	r.err = nil
	r.progress = &Progress{Stage: "exporting"}
	r.updatedAt = r.clock()
	return nil
}

// CompleteExport records the exported file.
func (r *Report) CompleteExport(f File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := status.ValidateTransition(r.status, status.Exported); err != nil {
		return err
	}
	r.url = f.URL
	r.metadata.FileID = f.ID
	r.metadata.FileSize = f.Size
	if !f.ExpiresAt.IsZero() {
		r.metadata.ExpiresAt = f.ExpiresAt
	}
	r.status = status.Exported
	r.progress = &Progress{Percentage: 100, Stage: "exported"}
	r.updatedAt = r.clock()
	return nil
}

// FailExport records an export failure. The report may be exported again.
func (r *Report) FailExport(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if terr := status.ValidateTransition(r.status, status.ExportFailed); terr != nil {
		return terr
	}
	now := r.clock()
	r.err = toError(err, now)
	r.status = status.ExportFailed
	r.updatedAt = now
	return nil
}

func (r *Report) transition(to status.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := status.ValidateTransition(r.status, to); err != nil {
		return err
	}
	r.status = to
	r.updatedAt = r.clock()
	return nil
}

func (r *Report) invalidState(op string, extra map[string]any) error {
	md := map[string]any{
		"report_id": r.id,
		"status":    string(r.status),
		"operation": op,
	}
	for k, v := range extra {
		md[k] = v
	}
	return report.NewError(report.ErrInvalidState, fmt.Sprintf("cannot %s while %s", op, r.status), nil, md)
}

func toError(err error, now time.Time) *Error {
	if err == nil {
		return &Error{
			Code:        report.ErrCodeExecutionFailed,
			Message:     "report execution failed",
			Recoverable: true,
			Timestamp:   now,
		}
	}
	code := report.ErrorCode(err)
	if code == "" {
		code = report.ErrCodeExecutionFailed
	}
	return &Error{
		Code:        code,
		Message:     err.Error(),
		Recoverable: report.IsRetryable(err) || code == report.ErrCodeExecutionFailed,
		Timestamp:   now,
		Details:     report.ErrorMetadata(err),
	}
}
