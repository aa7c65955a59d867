package schedule

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/recurrence"
)

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func mondays() recurrence.Config {
	return recurrence.Config{
		Frequency: recurrence.Weekly,
		Time:      "09:00",
		Timezone:  "UTC",
		StartDate: utc(2024, 1, 1, 0, 0),
		Enabled:   true,
		Weekly:    &recurrence.WeeklyOptions{Days: []recurrence.Weekday{recurrence.Monday}},
	}
}

func TestNewComputesNextAndStatus(t *testing.T) {
	s, err := New(mondays(), utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, Active, s.Status)
	assert.Equal(t, utc(2024, 1, 8, 9, 0), s.NextExecution)
	assert.Equal(t, DefaultFailureThreshold, s.FailureThreshold)

	cfg := mondays()
	cfg.Enabled = false
	s, err = New(cfg, utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, Disabled, s.Status)
	assert.False(t, s.IsDue(utc(2024, 2, 1, 0, 0)))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := mondays()
	cfg.Time = "25:00"
	_, err := New(cfg, utc(2024, 1, 3, 10, 0))
	require.Error(t, err)
	assert.Equal(t, report.ErrCodeScheduleInvalid, report.ErrorCode(err))
}

func TestIsDue(t *testing.T) {
	s, err := New(mondays(), utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)

	assert.False(t, s.IsDue(utc(2024, 1, 8, 8, 59)))
	assert.True(t, s.IsDue(utc(2024, 1, 8, 9, 0)))
	assert.True(t, s.IsDue(utc(2024, 1, 9, 0, 0)))
}

func TestRecordExecutionIsPure(t *testing.T) {
	s, err := New(mondays(), utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)

	ran := utc(2024, 1, 8, 9, 1)
	after, err := s.RecordExecution(true, nil, ran)
	require.NoError(t, err)

	assert.Equal(t, 0, s.ExecutionCount)
	assert.Nil(t, s.LastExecuted)

	assert.Equal(t, 1, after.ExecutionCount)
	require.NotNil(t, after.LastExecuted)
	assert.Equal(t, ran, *after.LastExecuted)
	assert.Equal(t, utc(2024, 1, 15, 9, 0), after.NextExecution)
	assert.False(t, after.NextExecution.Before(ran))
}

func TestFailureStreakMovesToError(t *testing.T) {
	s, err := New(mondays(), utc(2024, 1, 1, 0, 0), WithFailureThreshold(3))
	require.NoError(t, err)

	now := utc(2024, 1, 1, 9, 0)
	for i := range 3 {
		s, err = s.RecordExecution(false, stderrors.New("source down"), now.AddDate(0, 0, 7*i))
		require.NoError(t, err)
	}
	assert.Equal(t, Error, s.Status)
	assert.Equal(t, 3, s.FailureCount)
	assert.Equal(t, 3, s.ConsecutiveFailures)
	assert.Equal(t, "source down", s.LastError)
	assert.False(t, s.IsDue(s.NextExecution))

	s, err = s.Resume(utc(2024, 2, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, Active, s.Status)
	assert.Equal(t, 0, s.ConsecutiveFailures)
}

func TestSuccessResetsStreak(t *testing.T) {
	s, err := New(mondays(), utc(2024, 1, 1, 0, 0))
	require.NoError(t, err)

	s, _ = s.RecordExecution(false, nil, utc(2024, 1, 1, 9, 0))
	s, _ = s.RecordExecution(true, nil, utc(2024, 1, 8, 9, 0))
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, 1, s.FailureCount)
	assert.Empty(t, s.LastError)
	assert.Equal(t, Active, s.Status)
}

func TestExpiresAfterEndDate(t *testing.T) {
	cfg := mondays()
	end := utc(2024, 1, 10, 0, 0)
	cfg.EndDate = &end

	s, err := New(cfg, utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, Active, s.Status)

	s, err = s.RecordExecution(true, nil, utc(2024, 1, 8, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, Expired, s.Status, "the next Monday lies past the end date")
	assert.False(t, s.IsDue(utc(2024, 1, 15, 9, 0)))
}

func TestPauseResumeSkipsBacklog(t *testing.T) {
	s, err := New(mondays(), utc(2024, 1, 1, 0, 0))
	require.NoError(t, err)

	paused, err := s.Pause(utc(2024, 1, 2, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, Paused, paused.Status)
	assert.Equal(t, Active, s.Status)

	_, err = paused.Pause(utc(2024, 1, 2, 0, 0))
	require.Error(t, err)
	assert.Equal(t, report.ErrCodeScheduleInvalid, report.ErrorCode(err))

	resumed, err := paused.Resume(utc(2024, 3, 6, 12, 0))
	require.NoError(t, err)
	assert.Equal(t, Active, resumed.Status)
	assert.Equal(t, utc(2024, 3, 11, 9, 0), resumed.NextExecution)

	_, err = resumed.Resume(utc(2024, 3, 6, 12, 0))
	require.Error(t, err)
}

func TestDisableEnable(t *testing.T) {
	s, err := New(mondays(), utc(2024, 1, 1, 0, 0))
	require.NoError(t, err)

	off, err := s.Disable(utc(2024, 1, 2, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, Disabled, off.Status)
	assert.False(t, off.Config.Enabled)
	assert.True(t, s.Config.Enabled)

	_, err = off.Disable(utc(2024, 1, 2, 0, 0))
	require.Error(t, err)

	on, err := off.Enable(utc(2024, 1, 9, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, Active, on.Status)
	assert.Equal(t, utc(2024, 1, 15, 9, 0), on.NextExecution)
}

func TestUpdateConfiguration(t *testing.T) {
	s, err := New(mondays(), utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)

	at := "14:30"
	updated, err := s.UpdateConfiguration(ConfigPatch{
		Time:   &at,
		Weekly: &recurrence.WeeklyOptions{Days: []recurrence.Weekday{recurrence.Thursday}},
	}, utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 4, 14, 30), updated.NextExecution)
	assert.Equal(t, "09:00", s.Config.Time)

	bad := "noon"
	_, err = s.UpdateConfiguration(ConfigPatch{Time: &bad}, utc(2024, 1, 3, 10, 0))
	require.Error(t, err)
	assert.Equal(t, report.ErrCodeScheduleInvalid, report.ErrorCode(err))

	off := false
	disabled, err := s.UpdateConfiguration(ConfigPatch{Enabled: &off}, utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, Disabled, disabled.Status)
}
