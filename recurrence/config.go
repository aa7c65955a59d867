// Package recurrence computes the next execution instant of a declarative
// schedule. Everything here is pure: the same configuration and reference
// instant always produce the same answer.
package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	report "github.com/goliatone/go-report"
)

// Frequency selects the recurrence family.
type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

// MonthlyType selects how a monthly schedule picks its day.
type MonthlyType string

const (
	DayOfMonth  MonthlyType = "day_of_month"
	DayOfWeek   MonthlyType = "day_of_week"
	LastDay     MonthlyType = "last_day"
	LastWeekday MonthlyType = "last_weekday"
)

// LastWeek is the week-of-month value meaning "the last one".
const LastWeek = -1

// Weekday is a time.Weekday that reads and writes as a lowercase name.
type Weekday time.Weekday

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = map[string]Weekday{
	"sunday": Sunday, "sun": Sunday,
	"monday": Monday, "mon": Monday,
	"tuesday": Tuesday, "tue": Tuesday,
	"wednesday": Wednesday, "wed": Wednesday,
	"thursday": Thursday, "thu": Thursday,
	"friday": Friday, "fri": Friday,
	"saturday": Saturday, "sat": Saturday,
}

// ParseWeekday accepts full or three letter English names.
func ParseWeekday(value string) (Weekday, error) {
	if d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(value))]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", value)
}

func (d Weekday) String() string     { return strings.ToLower(time.Weekday(d).String()) }
func (d Weekday) Time() time.Weekday { return time.Weekday(d) }
func (d Weekday) Valid() bool        { return d >= Sunday && d <= Saturday }

func (d Weekday) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid weekday %d", int(d))
	}
	return []byte(d.String()), nil
}

func (d *Weekday) UnmarshalText(text []byte) error {
	parsed, err := ParseWeekday(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalYAML accepts names or the 0..6 numbering of time.Weekday.
func (d *Weekday) UnmarshalYAML(node *yaml.Node) error {
	if n, err := strconv.Atoi(node.Value); err == nil {
		*d = Weekday(n)
		return nil
	}
	return d.UnmarshalText([]byte(node.Value))
}

type DailyOptions struct {
	SkipWeekends bool `json:"skip_weekends,omitempty" yaml:"skip_weekends,omitempty"`
}

type WeeklyOptions struct {
	Days []Weekday `json:"days" yaml:"days"`
}

func (o WeeklyOptions) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Days, validation.Required, validation.Each(validation.By(func(v any) error {
			if d, ok := v.(Weekday); !ok || !d.Valid() {
				return validation.NewError("validation_weekday", "must be a weekday")
			}
			return nil
		}))),
	)
}

type MonthlyOptions struct {
	Type MonthlyType `json:"type" yaml:"type"`
	// Day is used by day_of_month.
	Day int `json:"day,omitempty" yaml:"day,omitempty"`
	// Week and Weekday are used by day_of_week. Week is 1..4 or -1.
	Week    int     `json:"week,omitempty" yaml:"week,omitempty"`
	Weekday Weekday `json:"weekday,omitempty" yaml:"weekday,omitempty"`
}

func (o MonthlyOptions) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Type, validation.Required, validation.In(DayOfMonth, DayOfWeek, LastDay, LastWeekday)),
		validation.Field(&o.Day, validation.When(o.Type == DayOfMonth, validation.Required, validation.Min(1), validation.Max(31))),
		validation.Field(&o.Week, validation.When(o.Type == DayOfWeek, validation.Required, validation.In(1, 2, 3, 4, LastWeek))),
		validation.Field(&o.Weekday, validation.When(o.Type == DayOfWeek, validation.By(func(any) error {
			if !o.Weekday.Valid() {
				return validation.NewError("validation_weekday", "must be a weekday")
			}
			return nil
		}))),
	)
}

type QuarterlyOptions struct {
	// MonthOffset is 0, 1 or 2 months after the quarter start.
	MonthOffset int `json:"month_offset" yaml:"month_offset"`
	Day         int `json:"day" yaml:"day"`
}

func (o QuarterlyOptions) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.MonthOffset, validation.Min(0), validation.Max(2)),
		validation.Field(&o.Day, validation.Required, validation.Min(1), validation.Max(31)),
	)
}

type YearlyOptions struct {
	Month int `json:"month" yaml:"month"`
	Day   int `json:"day" yaml:"day"`
}

func (o YearlyOptions) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Month, validation.Required, validation.Min(1), validation.Max(12)),
		validation.Field(&o.Day, validation.Required, validation.Min(1), validation.Max(31), validation.By(func(any) error {
			// leap year so that February 29 is accepted
			if o.Month >= 1 && o.Month <= 12 && o.Day > DaysIn(2024, time.Month(o.Month)) {
				return validation.NewError("validation_day_for_month", "day does not exist in month")
			}
			return nil
		})),
	)
}

// Config is a declarative recurrence.
type Config struct {
	Frequency Frequency  `json:"frequency" yaml:"frequency"`
	Time      string     `json:"time" yaml:"time"`
	Timezone  string     `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	StartDate time.Time  `json:"start_date" yaml:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Enabled   bool       `json:"enabled" yaml:"enabled"`

	Daily     *DailyOptions     `json:"daily,omitempty" yaml:"daily,omitempty"`
	Weekly    *WeeklyOptions    `json:"weekly,omitempty" yaml:"weekly,omitempty"`
	Monthly   *MonthlyOptions   `json:"monthly,omitempty" yaml:"monthly,omitempty"`
	Quarterly *QuarterlyOptions `json:"quarterly,omitempty" yaml:"quarterly,omitempty"`
	Yearly    *YearlyOptions    `json:"yearly,omitempty" yaml:"yearly,omitempty"`
}

// Validate checks the common fields and the options of the configured
// frequency. Failures carry SCHEDULE_INVALID.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Frequency, validation.Required, validation.In(Daily, Weekly, Monthly, Quarterly, Yearly)),
		validation.Field(&c.Time, validation.Required, validation.By(func(any) error {
			if _, _, err := ParseTimeOfDay(c.Time); err != nil {
				return validation.NewError("validation_time_of_day", err.Error())
			}
			return nil
		})),
		validation.Field(&c.Timezone, validation.By(func(any) error {
			if _, err := time.LoadLocation(c.Timezone); err != nil {
				return validation.NewError("validation_timezone", "unknown timezone")
			}
			return nil
		})),
		validation.Field(&c.StartDate, validation.Required),
		validation.Field(&c.EndDate, validation.By(func(any) error {
			if c.EndDate != nil && !c.EndDate.After(c.StartDate) {
				return validation.NewError("validation_end_date", "must be after start date")
			}
			return nil
		})),
		validation.Field(&c.Weekly, validation.When(c.Frequency == Weekly, validation.Required)),
		validation.Field(&c.Monthly, validation.When(c.Frequency == Monthly, validation.Required)),
		validation.Field(&c.Quarterly, validation.When(c.Frequency == Quarterly, validation.Required)),
		validation.Field(&c.Yearly, validation.When(c.Frequency == Yearly, validation.Required)),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid schedule configuration").
			WithTextCode(report.ErrCodeScheduleInvalid)
	}
	return nil
}

// Location returns the configured zone, UTC when unset.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Clone copies the option records so the result shares nothing with c.
func (c Config) Clone() Config {
	if c.EndDate != nil {
		end := *c.EndDate
		c.EndDate = &end
	}
	if c.Daily != nil {
		d := *c.Daily
		c.Daily = &d
	}
	if c.Weekly != nil {
		w := WeeklyOptions{Days: append([]Weekday(nil), c.Weekly.Days...)}
		c.Weekly = &w
	}
	if c.Monthly != nil {
		m := *c.Monthly
		c.Monthly = &m
	}
	if c.Quarterly != nil {
		q := *c.Quarterly
		c.Quarterly = &q
	}
	if c.Yearly != nil {
		y := *c.Yearly
		c.Yearly = &y
	}
	return c
}

var timeOfDay = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ParseTimeOfDay parses a 24 hour HH:MM value.
func ParseTimeOfDay(value string) (hour, minute int, err error) {
	m := timeOfDay.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return 0, 0, fmt.Errorf("time of day %q is not HH:MM", value)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	return hour, minute, nil
}

// Parse decodes a YAML or JSON document into a validated Config.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.CategoryValidation, "decode schedule configuration").
			WithTextCode(report.ErrCodeScheduleInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
