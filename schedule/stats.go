package schedule

import "time"

// Stats summarises the runs of a scheduled report.
type Stats struct {
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Cancelled       int           `json:"cancelled"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	LastExecution   *time.Time    `json:"last_execution,omitempty"`
}

// ExecutionStats derives run statistics. Counts come from the schedule
// bookkeeping so they survive history trimming; cancellations and durations
// come from the history.
func (r ScheduledReport) ExecutionStats() Stats {
	s := Stats{
		Total:  r.Schedule.ExecutionCount,
		Failed: r.Schedule.FailureCount,
	}
	s.Successful = s.Total - s.Failed
	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total) * 100
	}

	var sum time.Duration
	var timed int
	for _, e := range r.History {
		switch e.Status {
		case ExecutionCancelled:
			s.Cancelled++
		case ExecutionCompleted, ExecutionFailed:
			sum += e.Duration
			timed++
		}
	}
	if timed > 0 {
		s.AverageDuration = sum / time.Duration(timed)
	}
	if r.Schedule.LastExecuted != nil {
		last := *r.Schedule.LastExecuted
		s.LastExecution = &last
	}
	return s
}
