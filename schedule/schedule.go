// Package schedule wraps a recurrence with run bookkeeping. Schedule and
// ScheduledReport are values: every operation returns a new value and leaves
// the receiver untouched.
package schedule

import (
	"fmt"
	"time"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/recurrence"
)

// Status of a schedule.
type Status string

const (
	Active   Status = "active"
	Paused   Status = "paused"
	Expired  Status = "expired"
	Disabled Status = "disabled"
	Error    Status = "error"
)

// DefaultFailureThreshold is the failure streak that moves a schedule to
// Error.
const DefaultFailureThreshold = 5

// Schedule is a recurrence plus its run bookkeeping.
type Schedule struct {
	Config              recurrence.Config `json:"config"`
	Status              Status            `json:"status"`
	CreatedAt           time.Time         `json:"created_at"`
	LastExecuted        *time.Time        `json:"last_executed,omitempty"`
	NextExecution       time.Time         `json:"next_execution"`
	ExecutionCount      int               `json:"execution_count"`
	FailureCount        int               `json:"failure_count"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastError           string            `json:"last_error,omitempty"`
	FailureThreshold    int               `json:"failure_threshold"`
}

// Option configures New.
type Option func(*Schedule)

// WithFailureThreshold sets the failure streak that moves the schedule to
// Error. Values below one are ignored.
func WithFailureThreshold(n int) Option {
	return func(s *Schedule) {
		if n > 0 {
			s.FailureThreshold = n
		}
	}
}

// New validates cfg and computes the first execution after now. The schedule
// starts Active when cfg is enabled, Disabled otherwise.
func New(cfg recurrence.Config, now time.Time, opts ...Option) (Schedule, error) {
	s := Schedule{
		Config:           cfg.Clone(),
		Status:           Disabled,
		CreatedAt:        now,
		FailureThreshold: DefaultFailureThreshold,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if cfg.Enabled {
		s.Status = Active
	}

	next, err := recurrence.Next(s.Config, now)
	if err != nil {
		return Schedule{}, err
	}
	s.NextExecution = next
	return s.settle(now), nil
}

// ConfigPatch carries the fields to change. Nil fields are left alone.
type ConfigPatch struct {
	Frequency    *recurrence.Frequency
	Time         *string
	Timezone     *string
	StartDate    *time.Time
	EndDate      *time.Time
	ClearEndDate bool
	Enabled      *bool
	Daily        *recurrence.DailyOptions
	Weekly       *recurrence.WeeklyOptions
	Monthly      *recurrence.MonthlyOptions
	Quarterly    *recurrence.QuarterlyOptions
	Yearly       *recurrence.YearlyOptions
}

func (p ConfigPatch) apply(cfg recurrence.Config) recurrence.Config {
	if p.Frequency != nil {
		cfg.Frequency = *p.Frequency
	}
	if p.Time != nil {
		cfg.Time = *p.Time
	}
	if p.Timezone != nil {
		cfg.Timezone = *p.Timezone
	}
	if p.StartDate != nil {
		cfg.StartDate = *p.StartDate
	}
	if p.ClearEndDate {
		cfg.EndDate = nil
	}
	if p.EndDate != nil {
		end := *p.EndDate
		cfg.EndDate = &end
	}
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	if p.Daily != nil {
		cfg.Daily = p.Daily
	}
	if p.Weekly != nil {
		cfg.Weekly = p.Weekly
	}
	if p.Monthly != nil {
		cfg.Monthly = p.Monthly
	}
	if p.Quarterly != nil {
		cfg.Quarterly = p.Quarterly
	}
	if p.Yearly != nil {
		cfg.Yearly = p.Yearly
	}
	return cfg.Clone()
}

// UpdateConfiguration merges patch, re-validates and recomputes the next
// execution from now.
func (s Schedule) UpdateConfiguration(patch ConfigPatch, now time.Time) (Schedule, error) {
	cfg := patch.apply(s.Config.Clone())
	next, err := recurrence.Next(cfg, now)
	if err != nil {
		return s, err
	}

	out := s.clone()
	out.Config = cfg
	out.NextExecution = next
	switch {
	case !cfg.Enabled:
		out.Status = Disabled
	case out.Status == Disabled:
		out.Status = Active
	}
	return out.settle(now), nil
}

// RecordExecution stamps a finished run at now and re-evaluates status: Error
// once the failure streak reaches the threshold, Expired past the end date.
func (s Schedule) RecordExecution(success bool, runErr error, now time.Time) (Schedule, error) {
	out := s.clone()
	out.LastExecuted = &now
	out.ExecutionCount++
	if success {
		out.ConsecutiveFailures = 0
		out.LastError = ""
	} else {
		out.FailureCount++
		out.ConsecutiveFailures++
		out.LastError = "execution failed"
		if runErr != nil {
			out.LastError = runErr.Error()
		}
	}

	next, err := recurrence.Next(out.Config, now)
	if err != nil {
		return s, err
	}
	out.NextExecution = next

	if out.ConsecutiveFailures >= out.threshold() && out.Status == Active {
		out.Status = Error
	}
	return out.settle(now), nil
}

// recordFailure counts a failed run without moving the next execution.
func (s Schedule) recordFailure(reason string, now time.Time) Schedule {
	out := s.clone()
	out.LastExecuted = &now
	out.ExecutionCount++
	out.FailureCount++
	out.ConsecutiveFailures++
	out.LastError = reason
	if out.ConsecutiveFailures >= out.threshold() && out.Status == Active {
		out.Status = Error
	}
	return out
}

// Advance moves the next execution past now without counting a run. Used
// when a run was cancelled.
func (s Schedule) Advance(now time.Time) (Schedule, error) {
	next, err := recurrence.Next(s.Config, now)
	if err != nil {
		return s, err
	}
	out := s.clone()
	out.NextExecution = next
	return out.settle(now), nil
}

// Pause moves an active schedule to Paused.
func (s Schedule) Pause(now time.Time) (Schedule, error) {
	if s.Status != Active {
		return s, s.illegal("pause")
	}
	out := s.clone()
	out.Status = Paused
	return out, nil
}

// Resume reactivates a paused or errored schedule. The next execution is
// recomputed from now so missed runs are not replayed.
func (s Schedule) Resume(now time.Time) (Schedule, error) {
	if s.Status != Paused && s.Status != Error {
		return s, s.illegal("resume")
	}
	next, err := recurrence.Next(s.Config, now)
	if err != nil {
		return s, err
	}
	out := s.clone()
	out.Status = Active
	out.ConsecutiveFailures = 0
	out.NextExecution = next
	return out.settle(now), nil
}

// Disable turns the schedule off.
func (s Schedule) Disable(now time.Time) (Schedule, error) {
	if s.Status == Disabled {
		return s, s.illegal("disable")
	}
	out := s.clone()
	out.Status = Disabled
	out.Config.Enabled = false
	return out, nil
}

// Enable turns a disabled schedule back on from now.
func (s Schedule) Enable(now time.Time) (Schedule, error) {
	if s.Status != Disabled {
		return s, s.illegal("enable")
	}
	out := s.clone()
	out.Config.Enabled = true
	next, err := recurrence.Next(out.Config, now)
	if err != nil {
		return s, err
	}
	out.Status = Active
	out.ConsecutiveFailures = 0
	out.NextExecution = next
	return out.settle(now), nil
}

// IsDue reports whether an active schedule has reached its next execution.
func (s Schedule) IsDue(now time.Time) bool {
	return s.Status == Active && !now.Before(s.NextExecution)
}

// IsExpired reports whether now is past the end date or the next execution
// falls beyond it.
func (s Schedule) IsExpired(now time.Time) bool {
	end := s.Config.EndDate
	if end == nil {
		return false
	}
	return now.After(*end) || s.NextExecution.After(*end)
}

func (s Schedule) settle(now time.Time) Schedule {
	if s.Status == Disabled {
		return s
	}
	if s.IsExpired(now) {
		s.Status = Expired
	} else if s.Status == Expired {
		s.Status = Active
	}
	return s
}

func (s Schedule) threshold() int {
	if s.FailureThreshold > 0 {
		return s.FailureThreshold
	}
	return DefaultFailureThreshold
}

func (s Schedule) clone() Schedule {
	s.Config = s.Config.Clone()
	if s.LastExecuted != nil {
		last := *s.LastExecuted
		s.LastExecuted = &last
	}
	return s
}

func (s Schedule) illegal(op string) error {
	return report.NewError(report.ErrScheduleInvalid, fmt.Sprintf("cannot %s a %s schedule", op, s.Status), nil, map[string]any{
		"operation": op,
		"status":    string(s.Status),
	})
}
