package recurrence

import (
	"fmt"
	"time"

	report "github.com/goliatone/go-report"
)

// lookahead bounds the period scans. Every valid configuration resolves well
// within it; hitting it means the configuration slipped past validation.
const lookahead = 64

// Next returns the first occurrence strictly after from, and never before
// cfg.StartDate. Day values past the end of a short month clamp to its last
// day, so months are never skipped.
func Next(cfg Config, from time.Time) (time.Time, error) {
	if err := cfg.Validate(); err != nil {
		return time.Time{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, _ := ParseTimeOfDay(cfg.Time)

	ref := from
	if floor := cfg.StartDate.Add(-time.Nanosecond); ref.Before(floor) {
		ref = floor
	}
	ref = ref.In(loc)

	c := calc{ref: ref, loc: loc, hour: hour, minute: minute}
	var next time.Time
	switch cfg.Frequency {
	case Daily:
		next = c.daily(cfg.Daily != nil && cfg.Daily.SkipWeekends)
	case Weekly:
		next = c.weekly(cfg.Weekly.Days)
	case Monthly:
		next = c.monthly(*cfg.Monthly)
	case Quarterly:
		next = c.quarterly(*cfg.Quarterly)
	case Yearly:
		next = c.yearly(*cfg.Yearly)
	}

	if next.IsZero() {
		return time.Time{}, report.NewError(report.ErrScheduleInvalid,
			fmt.Sprintf("no %s occurrence found after %s", cfg.Frequency, from.Format(time.RFC3339)), nil, nil)
	}
	return next, nil
}

// Upcoming returns the next n occurrences after from.
func Upcoming(cfg Config, from time.Time, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, max(n, 0))
	cursor := from
	for range n {
		next, err := Next(cfg, cursor)
		if err != nil {
			return out, err
		}
		if cfg.EndDate != nil && next.After(*cfg.EndDate) {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}

type calc struct {
	ref          time.Time
	loc          *time.Location
	hour, minute int
}

func (c calc) at(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, c.hour, c.minute, 0, 0, c.loc)
}

func (c calc) daily(skipWeekends bool) time.Time {
	y, m, d := c.ref.Date()
	for i := range lookahead {
		t := c.at(y, m, d+i)
		if !t.After(c.ref) {
			continue
		}
		if skipWeekends && isWeekend(t.Weekday()) {
			continue
		}
		return t
	}
	return time.Time{}
}

func (c calc) weekly(days []Weekday) time.Time {
	want := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		want[d.Time()] = true
	}
	y, m, d := c.ref.Date()
	// eight days covers the same weekday one week later
	for i := range 8 {
		t := c.at(y, m, d+i)
		if want[t.Weekday()] && t.After(c.ref) {
			return t
		}
	}
	return time.Time{}
}

func (c calc) monthly(o MonthlyOptions) time.Time {
	return c.scanMonths(c.ref.Year(), c.ref.Month(), 1, func(year int, month time.Month) time.Time {
		switch o.Type {
		case DayOfMonth:
			return c.at(year, month, clampDay(year, month, o.Day))
		case DayOfWeek:
			day := NthWeekday(year, month, o.Weekday.Time(), o.Week, c.loc)
			return c.at(year, month, day.Day())
		case LastDay:
			return c.at(year, month, DaysIn(year, month))
		case LastWeekday:
			day := LastWeekdayOfMonth(year, month, c.loc)
			return c.at(year, month, day.Day())
		}
		return time.Time{}
	})
}

func (c calc) quarterly(o QuarterlyOptions) time.Time {
	start := time.Month((int(c.ref.Month())-1)/3*3 + 1)
	return c.scanMonths(c.ref.Year(), start+time.Month(o.MonthOffset), 3, func(year int, month time.Month) time.Time {
		return c.at(year, month, clampDay(year, month, o.Day))
	})
}

func (c calc) yearly(o YearlyOptions) time.Time {
	return c.scanMonths(c.ref.Year(), time.Month(o.Month), 12, func(year int, month time.Month) time.Time {
		return c.at(year, month, clampDay(year, month, o.Day))
	})
}

// scanMonths evaluates candidate for month, month+step, ... and returns the
// first result after the reference instant.
func (c calc) scanMonths(year int, month time.Month, step int, candidate func(int, time.Month) time.Time) time.Time {
	for i := range lookahead {
		first := time.Date(year, month+time.Month(i*step), 1, 0, 0, 0, 0, c.loc)
		t := candidate(first.Year(), first.Month())
		if !t.IsZero() && t.After(c.ref) {
			return t
		}
	}
	return time.Time{}
}

// DaysIn returns the number of days in month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// NthWeekday returns midnight of the nth weekday of month. n of LastWeek (-1)
// selects the last one. n is expected in 1..4 or -1.
func NthWeekday(year int, month time.Month, weekday time.Weekday, n int, loc *time.Location) time.Time {
	if n == LastWeek {
		last := DaysIn(year, month)
		t := time.Date(year, month, last, 0, 0, 0, 0, loc)
		back := (int(t.Weekday()) - int(weekday) + 7) % 7
		return time.Date(year, month, last-back, 0, 0, 0, 0, loc)
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	return time.Date(year, month, 1+offset+(n-1)*7, 0, 0, 0, 0, loc)
}

// LastWeekdayOfMonth returns midnight of the last Monday to Friday day of
// month.
func LastWeekdayOfMonth(year int, month time.Month, loc *time.Location) time.Time {
	day := DaysIn(year, month)
	t := time.Date(year, month, day, 0, 0, 0, 0, loc)
	for isWeekend(t.Weekday()) {
		day--
		t = time.Date(year, month, day, 0, 0, 0, 0, loc)
	}
	return t
}

func clampDay(year int, month time.Month, day int) int {
	return min(day, DaysIn(year, month))
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}
