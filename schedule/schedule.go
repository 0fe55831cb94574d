// Package schedule computes recurrence occurrences for one time zone.
//
// A Schedule is either Normal, built from explicit calendar fields
// (years, months, days of month, weekdays, hours, minutes), or Periodic,
// firing every N days, months or years from a start date. Schedules are
// immutable after construction and safe for concurrent use.
//
// Field values are interval lists such as "1-5,8". Out-of-range bounds are
// clamped. The days field also accepts LAST, the last calendar day of
// whichever month is evaluated. Weekdays are numbered 1 (Monday) through
// 7 (Sunday). Hours and minutes default to 0 when left empty; use "*" to
// allow every value.
//
// Every Schedule implements cron.Schedule from github.com/robfig/cron/v3.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/batchflow"
)

// Type is the kind of recurrence.
type Type string

const (
	// TypeNormal fires on every minute matching the calendar fields.
	TypeNormal Type = "normal"
	// TypeDays fires every Period days from PeriodStart.
	TypeDays Type = "days"
	// TypeMonths fires every Period months from PeriodStart.
	TypeMonths Type = "months"
	// TypeYears fires every Period years from PeriodStart.
	TypeYears Type = "years"
)

// ParseType parses a schedule type name. The empty string is TypeNormal.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return TypeNormal, nil
	case "days", "periodic-days", "daily":
		return TypeDays, nil
	case "months", "periodic-months", "monthly":
		return TypeMonths, nil
	case "years", "periodic-years", "yearly":
		return TypeYears, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", batchflow.ErrInvalidSchedule, s)
	}
}

// IsPeriodic reports whether t counts periods from a start date.
func (t Type) IsPeriodic() bool {
	return t == TypeDays || t == TypeMonths || t == TypeYears
}

const (
	lastToken  = "LAST"
	dateLayout = "2006-01-02"
	minYear    = 1
	maxYear    = 9999

	// searchYears bounds a walk. The Gregorian calendar repeats every
	// 400 years, so a walk that finds nothing in that span never will.
	searchYears = 400
)

// Spec is the textual definition of a schedule, as read from
// configuration.
type Spec struct {
	Type        Type   `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
	Years       string `json:"years,omitempty" yaml:"years,omitempty" mapstructure:"years"`
	Months      string `json:"months,omitempty" yaml:"months,omitempty" mapstructure:"months"`
	Days        string `json:"days,omitempty" yaml:"days,omitempty" mapstructure:"days"`
	Weekdays    string `json:"weekdays,omitempty" yaml:"weekdays,omitempty" mapstructure:"weekdays"`
	Hours       string `json:"hours,omitempty" yaml:"hours,omitempty" mapstructure:"hours"`
	Minutes     string `json:"minutes,omitempty" yaml:"minutes,omitempty" mapstructure:"minutes"`
	Period      int    `json:"period,omitempty" yaml:"period,omitempty" mapstructure:"period"`
	PeriodStart string `json:"period_start,omitempty" yaml:"period_start,omitempty" mapstructure:"period_start"`
}

// Schedule is a recurrence bound to one time zone.
type Schedule struct {
	spec Spec
	typ  Type
	loc  *time.Location

	years    field
	months   field
	days     field
	lastDay  bool
	weekdays field
	hours    field
	minutes  field

	period int
	start  date
}

// New validates spec and builds a Schedule in loc. A nil loc means UTC.
// Malformed fields, and a periodic type without a positive period or a
// start date, return an error wrapping batchflow.ErrInvalidSchedule.
func New(spec Spec, loc *time.Location) (*Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	typ, err := ParseType(string(spec.Type))
	if err != nil {
		return nil, err
	}
	spec.Type = typ

	s := &Schedule{spec: spec, typ: typ, loc: loc}

	if s.hours, err = parseField("hours", defaultZero(spec.Hours), 0, 23); err != nil {
		return nil, err
	}
	if s.minutes, err = parseField("minutes", defaultZero(spec.Minutes), 0, 59); err != nil {
		return nil, err
	}

	if typ.IsPeriodic() {
		if spec.Period <= 0 {
			return nil, fmt.Errorf("%w: %s schedule needs a positive period, got %d",
				batchflow.ErrInvalidSchedule, typ, spec.Period)
		}
		if strings.TrimSpace(spec.PeriodStart) == "" {
			return nil, fmt.Errorf("%w: %s schedule needs a period start", batchflow.ErrInvalidSchedule, typ)
		}
		ps, perr := time.Parse(dateLayout, strings.TrimSpace(spec.PeriodStart))
		if perr != nil {
			return nil, fmt.Errorf("%w: period start %q: %v", batchflow.ErrInvalidSchedule, spec.PeriodStart, perr)
		}
		s.period = spec.Period
		s.start = dateOf(ps)
		return s, nil
	}

	if s.years, err = parseField("years", spec.Years, minYear, maxYear); err != nil {
		return nil, err
	}
	if s.months, err = parseField("months", spec.Months, 1, 12); err != nil {
		return nil, err
	}
	if s.days, s.lastDay, err = parseDays(spec.Days); err != nil {
		return nil, err
	}
	if s.weekdays, err = parseField("weekdays", spec.Weekdays, 1, 7); err != nil {
		return nil, err
	}
	return s, nil
}

// MustNew is like New but panics on error. Use for hardcoded schedules.
func MustNew(spec Spec, loc *time.Location) *Schedule {
	s, err := New(spec, loc)
	if err != nil {
		panic(err)
	}
	return s
}

func defaultZero(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return s
}

// Type returns the schedule type.
func (s *Schedule) Type() Type { return s.typ }

// Location returns the schedule's time zone.
func (s *Schedule) Location() *time.Location { return s.loc }

// Spec returns the definition the schedule was built from.
func (s *Schedule) Spec() Spec { return s.spec }

// String renders the normalised fields, e.g. "normal days=1,15 hours=9 minutes=0 (UTC)".
func (s *Schedule) String() string {
	if s.typ.IsPeriodic() {
		return fmt.Sprintf("every %d %s from %s hours=%s minutes=%s (%s)",
			s.period, s.typ, s.start, s.hours, s.minutes, s.loc)
	}
	days := s.days.String()
	if s.lastDay {
		if len(s.days.spans) == 0 {
			days = lastToken
		} else {
			days += "," + lastToken
		}
	}
	return fmt.Sprintf("normal years=%s months=%s days=%s weekdays=%s hours=%s minutes=%s (%s)",
		s.years, s.months, days, s.weekdays, s.hours, s.minutes, s.loc)
}

// MeetsDate reports whether the calendar date of t, in the schedule's
// time zone, carries at least one occurrence.
func (s *Schedule) MeetsDate(t time.Time) bool {
	return s.dateAllowed(dateOf(t.In(s.loc)))
}

// MeetsDatetime reports whether the minute containing t is an occurrence.
func (s *Schedule) MeetsDatetime(t time.Time) bool {
	local := t.In(s.loc)
	return s.dateAllowed(dateOf(local)) &&
		s.hours.contains(local.Hour()) &&
		s.minutes.contains(local.Minute())
}

func (s *Schedule) dateAllowed(d date) bool {
	if s.typ.IsPeriodic() {
		return s.periodicDate(d)
	}
	return s.years.contains(d.y) && s.months.contains(int(d.m)) && s.dayAllowed(d)
}

// NextScheduledTime returns the earliest occurrence at or after from,
// rounded up to the next whole minute. It returns false when no
// occurrence exists.
func (s *Schedule) NextScheduledTime(from time.Time) (time.Time, bool) {
	start := ceilMinute(from).In(s.loc)
	if s.typ.IsPeriodic() {
		return s.nextPeriodic(start)
	}
	return s.nextNormal(start)
}

// Next returns the earliest occurrence strictly after t, or the zero time
// when the schedule is exhausted.
func (s *Schedule) Next(t time.Time) time.Time {
	n, ok := s.NextScheduledTime(t.Truncate(time.Minute).Add(time.Minute))
	if !ok {
		return time.Time{}
	}
	return n
}

// Occurrences lists occurrences in [from, to]. A positive limit caps the
// number returned.
func (s *Schedule) Occurrences(from, to time.Time, limit int) []time.Time {
	var out []time.Time
	t := from
	for {
		n, ok := s.NextScheduledTime(t)
		if !ok || n.After(to) {
			return out
		}
		out = append(out, n)
		if limit > 0 && len(out) >= limit {
			return out
		}
		t = n.Add(time.Minute)
	}
}

func ceilMinute(t time.Time) time.Time {
	tr := t.Truncate(time.Minute)
	if tr.Before(t) {
		tr = tr.Add(time.Minute)
	}
	return tr
}
