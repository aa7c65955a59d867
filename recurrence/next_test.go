package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	report "github.com/goliatone/go-report"
)

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func weekly(days ...Weekday) Config {
	return Config{
		Frequency: Weekly,
		Time:      "09:00",
		Timezone:  "UTC",
		StartDate: utc(2024, 1, 1, 0, 0),
		Enabled:   true,
		Weekly:    &WeeklyOptions{Days: days},
	}
}

func monthlyDay(day int) Config {
	return Config{
		Frequency: Monthly,
		Time:      "09:00",
		StartDate: utc(2024, 1, 1, 0, 0),
		Enabled:   true,
		Monthly:   &MonthlyOptions{Type: DayOfMonth, Day: day},
	}
}

func TestWeeklyMondayFromWednesday(t *testing.T) {
	next, err := Next(weekly(Monday), utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 8, 9, 0), next)
}

func TestWeeklySameDayBeforeAndAfterTime(t *testing.T) {
	cfg := weekly(Monday, Wednesday, Friday)

	next, err := Next(cfg, utc(2024, 1, 3, 8, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 3, 9, 0), next, "same Wednesday when the time has not passed")

	next, err = Next(cfg, utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 5, 9, 0), next, "Friday once Wednesday has passed")

	next, err = Next(cfg, utc(2024, 1, 5, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 8, 9, 0), next, "wraps to Monday")
}

func TestDailySkipWeekends(t *testing.T) {
	cfg := Config{
		Frequency: Daily,
		Time:      "07:30",
		StartDate: utc(2024, 1, 1, 0, 0),
		Daily:     &DailyOptions{SkipWeekends: true},
	}
	// Friday after the run time
	next, err := Next(cfg, utc(2024, 1, 5, 8, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 8, 7, 30), next)

	cfg.Daily.SkipWeekends = false
	next, err = Next(cfg, utc(2024, 1, 5, 8, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 6, 7, 30), next)
}

func TestMonthlyDay31Clamps(t *testing.T) {
	cfg := monthlyDay(31)

	next, err := Next(cfg, utc(2024, 4, 10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 4, 30, 9, 0), next, "April clamps to the 30th")

	next, err = Next(cfg, utc(2024, 4, 30, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 5, 31, 9, 0), next, "May is not skipped")

	next, err = Next(cfg, utc(2024, 2, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 2, 29, 9, 0), next)

	next, err = Next(cfg, utc(2025, 2, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2025, 2, 28, 9, 0), next)
}

func TestMonthlyDayOfWeek(t *testing.T) {
	cfg := Config{
		Frequency: Monthly,
		Time:      "09:00",
		StartDate: utc(2024, 1, 1, 0, 0),
		Monthly:   &MonthlyOptions{Type: DayOfWeek, Week: 2, Weekday: Tuesday},
	}
	next, err := Next(cfg, utc(2024, 1, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 9, 9, 0), next)

	next, err = Next(cfg, utc(2024, 1, 9, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 2, 13, 9, 0), next)

	cfg.Monthly.Week = LastWeek
	cfg.Monthly.Weekday = Friday
	next, err = Next(cfg, utc(2024, 3, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 3, 29, 9, 0), next)
}

func TestMonthlyLastDayAndLastWeekday(t *testing.T) {
	cfg := Config{
		Frequency: Monthly,
		Time:      "18:00",
		StartDate: utc(2024, 1, 1, 0, 0),
		Monthly:   &MonthlyOptions{Type: LastDay},
	}
	next, err := Next(cfg, utc(2024, 2, 29, 18, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 3, 31, 18, 0), next)

	cfg.Monthly.Type = LastWeekday
	// 2024-03-31 is a Sunday
	next, err = Next(cfg, utc(2024, 3, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 3, 29, 18, 0), next)
}

func TestQuarterly(t *testing.T) {
	cfg := Config{
		Frequency: Quarterly,
		Time:      "06:00",
		StartDate: utc(2024, 1, 1, 0, 0),
		Quarterly: &QuarterlyOptions{MonthOffset: 1, Day: 31},
	}
	// Q1 target is February, clamped to the 29th
	next, err := Next(cfg, utc(2024, 1, 15, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 2, 29, 6, 0), next)

	next, err = Next(cfg, utc(2024, 3, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 5, 31, 6, 0), next)

	next, err = Next(cfg, utc(2024, 11, 30, 7, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2025, 2, 28, 6, 0), next)
}

func TestYearly(t *testing.T) {
	cfg := Config{
		Frequency: Yearly,
		Time:      "00:00",
		StartDate: utc(2024, 1, 1, 0, 0),
		Yearly:    &YearlyOptions{Month: 2, Day: 29},
	}
	next, err := Next(cfg, utc(2024, 1, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 2, 29, 0, 0), next)

	next, err = Next(cfg, next)
	require.NoError(t, err)
	assert.Equal(t, utc(2025, 2, 28, 0, 0), next)
}

func TestStartDateInFutureIsNeverPreceded(t *testing.T) {
	cfg := weekly(Monday)
	cfg.StartDate = utc(2024, 3, 4, 9, 0) // a Monday at the run time

	next, err := Next(cfg, utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 3, 4, 9, 0), next)

	cfg.StartDate = utc(2024, 3, 5, 0, 0)
	next, err = Next(cfg, utc(2024, 1, 3, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 3, 11, 9, 0), next)
}

func TestDSTKeepsWallClock(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	cfg := Config{
		Frequency: Daily,
		Time:      "09:00",
		Timezone:  "America/New_York",
		StartDate: utc(2024, 1, 1, 0, 0),
	}
	// DST starts 2024-03-10 in New York
	times, err := Upcoming(cfg, time.Date(2024, 3, 9, 8, 0, 0, 0, ny), 2)
	require.NoError(t, err)
	require.Len(t, times, 2)
	for _, tm := range times {
		local := tm.In(ny)
		assert.Equal(t, 9, local.Hour())
		assert.Equal(t, 0, local.Minute())
	}
	assert.Equal(t, 23*time.Hour, times[1].Sub(times[0]), "the spring-forward day is one hour short")
}

func TestNextIsStrictlyAfterAndMonotonic(t *testing.T) {
	configs := map[string]Config{
		"daily":        {Frequency: Daily, Time: "09:00", StartDate: utc(2024, 1, 1, 0, 0)},
		"weekly":       weekly(Monday, Thursday),
		"monthly31":    monthlyDay(31),
		"nth-weekday":  {Frequency: Monthly, Time: "23:59", StartDate: utc(2024, 1, 1, 0, 0), Monthly: &MonthlyOptions{Type: DayOfWeek, Week: 4, Weekday: Sunday}},
		"last-weekday": {Frequency: Monthly, Time: "12:00", StartDate: utc(2024, 1, 1, 0, 0), Monthly: &MonthlyOptions{Type: LastWeekday}},
		"quarterly":    {Frequency: Quarterly, Time: "06:00", StartDate: utc(2024, 1, 1, 0, 0), Quarterly: &QuarterlyOptions{MonthOffset: 2, Day: 31}},
		"yearly":       {Frequency: Yearly, Time: "00:00", StartDate: utc(2024, 1, 1, 0, 0), Yearly: &YearlyOptions{Month: 12, Day: 31}},
	}
	froms := []time.Time{
		utc(2024, 1, 1, 0, 0),
		utc(2024, 2, 29, 23, 59),
		utc(2024, 12, 31, 12, 0),
		utc(2025, 6, 15, 9, 0),
	}

	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			for _, from := range froms {
				prev := from
				for range 6 {
					next, err := Next(cfg, prev)
					require.NoError(t, err)
					require.True(t, next.After(prev), "%s not after %s", next, prev)
					prev = next
				}
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, 29, DaysIn(2024, time.February))
	assert.Equal(t, 28, DaysIn(2023, time.February))
	assert.Equal(t, 31, DaysIn(2024, time.December))

	assert.Equal(t, 5, NthWeekday(2024, time.January, time.Friday, 1, time.UTC).Day())
	assert.Equal(t, 26, NthWeekday(2024, time.January, time.Friday, LastWeek, time.UTC).Day())
	assert.Equal(t, 31, NthWeekday(2024, time.January, time.Wednesday, LastWeek, time.UTC).Day())

	// 2024-06-30 is a Sunday
	assert.Equal(t, 28, LastWeekdayOfMonth(2024, time.June, time.UTC).Day())
}

func TestNextRejectsInvalidConfig(t *testing.T) {
	_, err := Next(Config{Frequency: Weekly, Time: "09:00", StartDate: utc(2024, 1, 1, 0, 0)}, utc(2024, 1, 1, 0, 0))
	require.Error(t, err)
	assert.Equal(t, report.ErrCodeScheduleInvalid, report.ErrorCode(err))
}

func TestUpcomingStopsAtEndDate(t *testing.T) {
	cfg := weekly(Monday)
	end := utc(2024, 1, 20, 0, 0)
	cfg.EndDate = &end

	times, err := Upcoming(cfg, utc(2024, 1, 1, 0, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{utc(2024, 1, 1, 9, 0), utc(2024, 1, 8, 9, 0), utc(2024, 1, 15, 9, 0)}, times)
}
