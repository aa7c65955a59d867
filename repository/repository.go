// Package repository persists scheduled reports.
package repository

import (
	"context"
	"fmt"
	"time"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/schedule"
)

// Repository stores ScheduledReport snapshots. Save is optimistic: a
// snapshot is accepted only when its Version is newer than the stored one.
type Repository interface {
	Save(ctx context.Context, sr schedule.ScheduledReport) error
	Get(ctx context.Context, id string) (schedule.ScheduledReport, error)
	List(ctx context.Context) ([]schedule.ScheduledReport, error)
	ListDue(ctx context.Context, now time.Time) ([]schedule.ScheduledReport, error)
	Delete(ctx context.Context, id string) error
}

func notFound(id string) error {
	return report.NewError(report.ErrScheduleNotFound, fmt.Sprintf("scheduled report %s not found", id), nil, map[string]any{
		"schedule_id": id,
	})
}

func conflict(id string, stored, given int) error {
	return report.NewError(report.ErrVersionConflict, fmt.Sprintf("scheduled report %s changed concurrently", id), nil, map[string]any{
		"schedule_id":    id,
		"stored_version": stored,
		"given_version":  given,
	})
}
