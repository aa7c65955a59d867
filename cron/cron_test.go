package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	report "github.com/goliatone/go-report"
)

func quiet() Option { return WithLogger(report.NopLogger{}) }

func TestScheduleAfterCompletesAndReportsStatus(t *testing.T) {
	scheduler := NewScheduler(quiet())
	var count atomic.Int32

	handle, err := scheduler.ScheduleAfter(50*time.Millisecond, JobOptions{}, func(context.Context) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("expected handle completion")
	}

	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, JobCompleted, handle.Status())
}

func TestScheduleAtCancelPreventsExecution(t *testing.T) {
	scheduler := NewScheduler(quiet())
	var count atomic.Int32

	handle, err := scheduler.ScheduleAt(time.Now().Add(250*time.Millisecond), JobOptions{}, func(context.Context) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	handle.Cancel()

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("expected canceled handle to close done channel")
	}

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())
	assert.Equal(t, JobCanceled, handle.Status())
}

func TestScheduleAfterRetriesThenFails(t *testing.T) {
	var handled atomic.Int32
	scheduler := NewScheduler(quiet(), WithErrorHandler(func(error) { handled.Add(1) }))
	var calls atomic.Int32

	handle, err := scheduler.ScheduleAfter(0, JobOptions{MaxRetries: 2}, func(context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	})
	require.NoError(t, err)

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("job did not finish")
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, JobFailed, handle.Status())
	assert.EqualError(t, handle.Err(), "boom")
	assert.Positive(t, handled.Load())
}

func TestScheduleCronCancelableHandle(t *testing.T) {
	scheduler := NewScheduler(quiet(), WithParser(SecondsParser))
	var count atomic.Int32

	handle, err := scheduler.ScheduleCron(JobOptions{Expression: "@every 1s"}, func(context.Context) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop(context.Background())

	assert.Eventually(t, func() bool { return count.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)

	handle.Cancel()
	<-handle.Done()
	after := count.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, count.Load())
	assert.Equal(t, JobCanceled, handle.Status())
}

func TestScheduleCronFailureKeepsJobScheduled(t *testing.T) {
	scheduler := NewScheduler(quiet(), WithErrorHandler(func(error) {}))
	var count atomic.Int32

	handle, err := scheduler.ScheduleCron(JobOptions{Expression: "@every 1s"}, func(context.Context) error {
		count.Add(1)
		return errors.New("tick failed")
	})
	require.NoError(t, err)
	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop(context.Background())

	assert.Eventually(t, func() bool { return count.Load() >= 2 }, 4*time.Second, 20*time.Millisecond)
	assert.False(t, handle.Status().IsTerminal())
}

func TestScheduleCronRejectsBadExpression(t *testing.T) {
	scheduler := NewScheduler(quiet())
	_, err := scheduler.ScheduleCron(JobOptions{Expression: "not a cron"}, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, report.ErrCodeScheduleInvalid, report.ErrorCode(err))

	_, err = scheduler.ScheduleCron(JobOptions{}, func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestStopMarksHandlesStopped(t *testing.T) {
	scheduler := NewScheduler(quiet())
	handle, err := scheduler.ScheduleAfter(time.Hour, JobOptions{}, func(context.Context) error { return nil })
	require.NoError(t, err)
	cronHandle, err := scheduler.ScheduleCron(JobOptions{Expression: "@hourly"}, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Len(t, scheduler.Entries(), 1)

	require.NoError(t, scheduler.Start(context.Background()))
	require.NoError(t, scheduler.Stop(context.Background()))

	assert.Equal(t, JobStopped, handle.Status())
	assert.Equal(t, JobStopped, cronHandle.Status())
	assert.Empty(t, scheduler.Entries())
}
