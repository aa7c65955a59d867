package schedule

import (
	"fmt"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/recurrence"
)

// ExecutionStatus is the state of one scheduled run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ExecutionResult is what a completed run produced.
type ExecutionResult struct {
	ReportID    string    `json:"report_id"`
	FileID      string    `json:"file_id,omitempty"`
	URL         string    `json:"url,omitempty"`
	RecordCount int       `json:"record_count"`
	FileSize    int64     `json:"file_size"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Execution is one entry of the run history.
type Execution struct {
	ID          string           `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Status      ExecutionStatus  `json:"status"`
	Result      *ExecutionResult `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	Duration    time.Duration    `json:"duration,omitempty"`
	FileSize    int64            `json:"file_size,omitempty"`
}

// ScheduledReport binds a request template to a schedule and keeps the run
// history. Every mutator returns a new snapshot with Version bumped.
type ScheduledReport struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	CreatedBy   string         `json:"created_by"`
	Recipients  []string       `json:"recipients,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Enabled     bool           `json:"enabled"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Request     report.Request `json:"request"`
	Schedule    Schedule       `json:"schedule"`
	History     []Execution    `json:"history,omitempty"`
	// MaxHistory of zero keeps every entry.
	MaxHistory int `json:"max_history,omitempty"`
}

// Params holds the inputs of NewScheduledReport.
type Params struct {
	ID               string
	Name             string
	Description      string
	CreatedBy        string
	Recipients       []string
	Tags             []string
	Request          report.Request
	Config           recurrence.Config
	FailureThreshold int
	MaxHistory       int
}

func (p Params) validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.CreatedBy, validation.Required),
		validation.Field(&p.MaxHistory, validation.Min(0)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid scheduled report").
			WithTextCode(report.ErrCodeScheduleInvalid)
	}
	return p.Request.Validate()
}

// NewScheduledReport validates params and builds version 1.
func NewScheduledReport(p Params, now time.Time) (ScheduledReport, error) {
	if err := p.validate(); err != nil {
		return ScheduledReport{}, err
	}
	sched, err := New(p.Config, now, WithFailureThreshold(p.FailureThreshold))
	if err != nil {
		return ScheduledReport{}, err
	}

	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = uuid.NewString()
	}

	return ScheduledReport{
		ID:          id,
		Name:        p.Name,
		Description: p.Description,
		CreatedBy:   p.CreatedBy,
		Recipients:  slices.Clone(p.Recipients),
		Tags:        slices.Clone(p.Tags),
		Enabled:     p.Config.Enabled,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		Request:     p.Request.Clone(),
		Schedule:    sched,
		MaxHistory:  p.MaxHistory,
	}, nil
}

// IsDue reports whether the report should run at now.
func (r ScheduledReport) IsDue(now time.Time) bool {
	return r.Enabled && r.Schedule.IsDue(now)
}

// Enable turns the report and its schedule on.
func (r ScheduledReport) Enable(now time.Time) (ScheduledReport, error) {
	sched, err := r.Schedule.Enable(now)
	if err != nil {
		return r, err
	}
	out := r.next(now)
	out.Enabled = true
	out.Schedule = sched
	return out, nil
}

// Disable turns the report and its schedule off.
func (r ScheduledReport) Disable(now time.Time) (ScheduledReport, error) {
	sched, err := r.Schedule.Disable(now)
	if err != nil {
		return r, err
	}
	out := r.next(now)
	out.Enabled = false
	out.Schedule = sched
	return out, nil
}

func (r ScheduledReport) Pause(now time.Time) (ScheduledReport, error) {
	return r.withSchedule(now, r.Schedule.Pause)
}

func (r ScheduledReport) Resume(now time.Time) (ScheduledReport, error) {
	return r.withSchedule(now, r.Schedule.Resume)
}

// UpdateSchedule merges patch into the recurrence.
func (r ScheduledReport) UpdateSchedule(patch ConfigPatch, now time.Time) (ScheduledReport, error) {
	sched, err := r.Schedule.UpdateConfiguration(patch, now)
	if err != nil {
		return r, err
	}
	out := r.next(now)
	out.Schedule = sched
	out.Enabled = sched.Config.Enabled
	return out, nil
}

// UpdateRequest replaces the request template.
func (r ScheduledReport) UpdateRequest(req report.Request, now time.Time) (ScheduledReport, error) {
	if err := req.Validate(); err != nil {
		return r, err
	}
	out := r.next(now)
	out.Request = req.Clone()
	return out, nil
}

// StartExecution appends a running entry. An empty id gets a generated one.
// Only one execution may be running at a time.
func (r ScheduledReport) StartExecution(id string, now time.Time) (ScheduledReport, error) {
	if id == "" {
		id = uuid.NewString()
	}
	for _, e := range r.History {
		if e.ID == id {
			return r, report.NewError(report.ErrScheduleInvalid, fmt.Sprintf("execution %s already recorded", id), nil, map[string]any{
				"execution_id": id,
			})
		}
		if e.Status == ExecutionRunning {
			return r, report.NewError(report.ErrInvalidState, "an execution is already running", nil, map[string]any{
				"execution_id": e.ID,
				"schedule_id":  r.ID,
			})
		}
	}

	out := r.next(now)
	out.History = append(out.History, Execution{
		ID:        id,
		StartedAt: now,
		Status:    ExecutionRunning,
	})
	if out.MaxHistory > 0 && len(out.History) > out.MaxHistory {
		out.History = slices.Clone(out.History[len(out.History)-out.MaxHistory:])
	}
	return out, nil
}

// CompleteExecution closes a running entry successfully.
func (r ScheduledReport) CompleteExecution(id string, result ExecutionResult, now time.Time) (ScheduledReport, error) {
	return r.finish(id, now, func(e *Execution) {
		e.Status = ExecutionCompleted
		res := result
		e.Result = &res
		e.FileSize = result.FileSize
	})
}

// FailExecution closes a running entry with runErr.
func (r ScheduledReport) FailExecution(id string, runErr error, now time.Time) (ScheduledReport, error) {
	return r.finish(id, now, func(e *Execution) {
		e.Status = ExecutionFailed
		e.Error = "execution failed"
		if runErr != nil {
			e.Error = runErr.Error()
		}
	})
}

// CancelExecution closes a running entry as cancelled.
func (r ScheduledReport) CancelExecution(id string, now time.Time) (ScheduledReport, error) {
	return r.finish(id, now, func(e *Execution) {
		e.Status = ExecutionCancelled
	})
}

// AbandonExecution closes a running entry that never reported back, counting
// it as a failure. The next execution is left alone so the missed run can be
// started again.
func (r ScheduledReport) AbandonExecution(id string, now time.Time) (ScheduledReport, error) {
	reason := fmt.Sprintf("execution %s abandoned", id)
	out, err := r.finish(id, now, func(e *Execution) {
		e.Status = ExecutionFailed
		e.Error = reason
	})
	if err != nil {
		return r, err
	}
	out.Schedule = out.Schedule.recordFailure(reason, now)
	return out, nil
}

// RecordExecution feeds a finished run into the schedule bookkeeping.
func (r ScheduledReport) RecordExecution(success bool, runErr error, now time.Time) (ScheduledReport, error) {
	return r.withSchedule(now, func(now time.Time) (Schedule, error) {
		return r.Schedule.RecordExecution(success, runErr, now)
	})
}

// SkipExecution moves the schedule past now without counting a run.
func (r ScheduledReport) SkipExecution(now time.Time) (ScheduledReport, error) {
	return r.withSchedule(now, r.Schedule.Advance)
}

// Running returns the execution in progress, if any.
func (r ScheduledReport) Running() (Execution, bool) {
	for _, e := range r.History {
		if e.Status == ExecutionRunning {
			return e, true
		}
	}
	return Execution{}, false
}

// BuildRequest stamps a fresh request from the template for a run at now. A
// template date range is treated as a rolling window ending at now.
func (r ScheduledReport) BuildRequest(now time.Time) report.Request {
	req := r.Request.Clone()
	req.ID = ""
	req.Context.Timestamp = now
	if req.DateRange != nil {
		span := req.DateRange.Span()
		req.DateRange = &report.DateRange{From: now.Add(-span), To: now}
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}
	req.Parameters["scheduled_report_id"] = r.ID
	return req
}

func (r ScheduledReport) finish(id string, now time.Time, apply func(*Execution)) (ScheduledReport, error) {
	idx := slices.IndexFunc(r.History, func(e Execution) bool { return e.ID == id })
	if idx < 0 {
		return r, report.NewError(report.ErrNotFound, fmt.Sprintf("execution %s not found", id), nil, map[string]any{
			"execution_id": id,
			"schedule_id":  r.ID,
		})
	}
	if r.History[idx].Status != ExecutionRunning {
		return r, report.NewError(report.ErrInvalidState, fmt.Sprintf("execution %s is %s", id, r.History[idx].Status), nil, map[string]any{
			"execution_id": id,
			"status":       string(r.History[idx].Status),
		})
	}

	out := r.next(now)
	e := &out.History[idx]
	e.CompletedAt = &now
	e.Duration = now.Sub(e.StartedAt)
	apply(e)
	return out, nil
}

func (r ScheduledReport) withSchedule(now time.Time, op func(time.Time) (Schedule, error)) (ScheduledReport, error) {
	sched, err := op(now)
	if err != nil {
		return r, err
	}
	out := r.next(now)
	out.Schedule = sched
	return out, nil
}

// next returns a deep copy with the version bumped.
func (r ScheduledReport) next(now time.Time) ScheduledReport {
	out := r
	out.Recipients = slices.Clone(r.Recipients)
	out.Tags = slices.Clone(r.Tags)
	out.Request = r.Request.Clone()
	out.Schedule = r.Schedule.clone()
	if r.History != nil {
		out.History = make([]Execution, len(r.History))
		for i, e := range r.History {
			if e.CompletedAt != nil {
				at := *e.CompletedAt
				e.CompletedAt = &at
			}
			if e.Result != nil {
				res := *e.Result
				e.Result = &res
			}
			out.History[i] = e
		}
	}
	out.Version = r.Version + 1
	out.UpdatedAt = now
	return out
}
