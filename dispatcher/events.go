package dispatcher

import (
	"time"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/lifecycle"
)

const (
	TypeReportStarted    = "report.started"
	TypeReportFinished   = "report.finished"
	TypeScheduleExecuted = "schedule.executed"
)

// ReportStarted is published once a request is admitted.
type ReportStarted struct {
	ReportID   string
	ReportType report.Type
	Format     report.Format
	UserID     string
	AgencyID   string
	At         time.Time
}

func (ReportStarted) Type() string { return TypeReportStarted }

// ReportFinished carries the terminal result of an admitted request.
type ReportFinished struct {
	Result lifecycle.Result
	Err    error
}

func (ReportFinished) Type() string { return TypeReportFinished }

// ScheduleExecuted is published after the poller records a run.
type ScheduleExecuted struct {
	ScheduleID  string
	ExecutionID string
	ReportID    string
	Outcome     string
	Err         error
	At          time.Time
}

func (ScheduleExecuted) Type() string { return TypeScheduleExecuted }
