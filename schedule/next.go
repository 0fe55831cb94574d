package schedule

import (
	"fmt"
	"time"
)

// date is a civil calendar date with no time zone.
type date struct {
	y int
	m time.Month
	d int
}

func dateOf(t time.Time) date {
	y, m, d := t.Date()
	return date{y, m, d}
}

func (d date) String() string { return fmt.Sprintf("%04d-%02d-%02d", d.y, d.m, d.d) }

func (d date) utc() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

func (d date) before(o date) bool { return d.utc().Before(o.utc()) }

func (d date) addDays(n int) date { return dateOf(d.utc().AddDate(0, 0, n)) }

// daysBetween returns the whole days from a to b.
func daysBetween(a, b date) int {
	return int((b.utc().Unix() - a.utc().Unix()) / 86400)
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addMonths moves y/m forward by n months.
func addMonths(y int, m time.Month, n int) (int, time.Month) {
	total := y*12 + int(m-1) + n
	return total / 12, time.Month(total%12 + 1)
}

func isoWeekday(d date) int {
	wd := d.utc().Weekday()
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

// dayAllowed tests the day-of-month and weekday constraints together.
func (s *Schedule) dayAllowed(d date) bool {
	dayOK := s.days.contains(d.d) || (s.lastDay && d.d == daysIn(d.y, d.m))
	return dayOK && s.weekdays.contains(isoWeekday(d))
}

// nextDay returns the first allowed day >= d.d within d's month.
func (s *Schedule) nextDay(d date) (int, bool) {
	last := daysIn(d.y, d.m)
	for day := d.d; day <= last; day++ {
		if s.dayAllowed(date{d.y, d.m, day}) {
			return day, true
		}
	}
	return 0, false
}

// cursor is the wall-clock position of a walk.
type cursor struct {
	date
	h, mi int
}

func cursorOf(t time.Time) cursor {
	return cursor{date: dateOf(t), h: t.Hour(), mi: t.Minute()}
}

func (c *cursor) nextDate() {
	c.date = c.addDays(1)
	c.h, c.mi = 0, 0
}

func (c *cursor) nextHour() {
	c.h++
	c.mi = 0
	if c.h > 23 {
		c.nextDate()
	}
}

func (c *cursor) nextMinute() {
	c.mi++
	if c.mi > 59 {
		c.nextHour()
	}
}

// resolveTime moves c to the first allowed hour and minute on its date.
// It returns false and advances c to the next date when none is left.
func (s *Schedule) resolveTime(c *cursor) bool {
	h, ok := s.hours.next(c.h, 23)
	if !ok {
		c.nextDate()
		return false
	}
	if h != c.h {
		c.h, c.mi = h, 0
	}
	mi, ok := s.minutes.next(c.mi, 59)
	if !ok {
		c.nextHour()
		return false
	}
	c.mi = mi
	return true
}

// instant converts c into a time in the schedule's zone. It returns false
// when the wall-clock minute does not exist there (a DST gap) or maps
// before start (a repeated hour).
func (s *Schedule) instant(c cursor, start time.Time) (time.Time, bool) {
	t := time.Date(c.y, c.m, c.d, c.h, c.mi, 0, 0, s.loc)
	if cursorOf(t) != c || t.Before(start) {
		return time.Time{}, false
	}
	return t, true
}

func (s *Schedule) nextNormal(start time.Time) (time.Time, bool) {
	c := cursorOf(start)
	limit := c.y + searchYears

	for c.y <= limit {
		y, ok := s.years.next(c.y, maxYear)
		if !ok {
			return time.Time{}, false
		}
		if y != c.y {
			c = cursor{date: date{y, time.January, 1}}
			continue
		}

		m, ok := s.months.next(int(c.m), 12)
		if !ok {
			c = cursor{date: date{c.y + 1, time.January, 1}}
			continue
		}
		if time.Month(m) != c.m {
			c = cursor{date: date{c.y, time.Month(m), 1}}
		}

		d, ok := s.nextDay(c.date)
		if !ok {
			ny, nm := addMonths(c.y, c.m, 1)
			c = cursor{date: date{ny, nm, 1}}
			continue
		}
		if d != c.d {
			c = cursor{date: date{c.y, c.m, d}}
		}

		if !s.resolveTime(&c) {
			continue
		}
		t, ok := s.instant(c, start)
		if !ok {
			c.nextMinute()
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

func (s *Schedule) nextPeriodic(start time.Time) (time.Time, bool) {
	c := cursorOf(start)
	limit := c.y + searchYears

	for c.y <= limit {
		d, ok := s.nextPeriodicDate(c.date)
		if !ok || d.y > limit {
			return time.Time{}, false
		}
		if d != c.date {
			c = cursor{date: d}
		}

		if !s.resolveTime(&c) {
			continue
		}
		t, ok := s.instant(c, start)
		if !ok {
			c.nextMinute()
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

// anchorDay pins the start day-of-month into y/m, clamped to its length.
func (s *Schedule) anchorDay(y int, m time.Month) date {
	return date{y, m, min(s.start.d, daysIn(y, m))}
}

// nextPeriodicDate returns the first occurrence date on or after d.
func (s *Schedule) nextPeriodicDate(d date) (date, bool) {
	if d.before(s.start) {
		return s.start, true
	}

	var next date
	switch s.typ {
	case TypeDays:
		rem := daysBetween(s.start, d) % s.period
		if rem == 0 {
			return d, true
		}
		next = d.addDays(s.period - rem)

	case TypeMonths:
		k := (d.y-s.start.y)*12 + int(d.m-s.start.m)
		if k%s.period == 0 {
			if od := s.anchorDay(d.y, d.m); d.d <= od.d {
				return od, true
			}
			k += s.period
		} else {
			k += s.period - k%s.period
		}
		y, m := addMonths(s.start.y, s.start.m, k)
		next = s.anchorDay(y, m)

	case TypeYears:
		k := d.y - s.start.y
		if k%s.period == 0 {
			if od := s.anchorDay(d.y, s.start.m); !od.before(d) {
				return od, true
			}
			k += s.period
		} else {
			k += s.period - k%s.period
		}
		next = s.anchorDay(s.start.y+k, s.start.m)

	default:
		return date{}, false
	}

	if next.y > maxYear {
		return date{}, false
	}
	return next, true
}

// periodicDate reports whether d is an occurrence date.
func (s *Schedule) periodicDate(d date) bool {
	if d.before(s.start) {
		return false
	}
	switch s.typ {
	case TypeDays:
		return daysBetween(s.start, d)%s.period == 0
	case TypeMonths:
		k := (d.y-s.start.y)*12 + int(d.m-s.start.m)
		return k%s.period == 0 && d == s.anchorDay(d.y, d.m)
	case TypeYears:
		k := d.y - s.start.y
		return k%s.period == 0 && d == s.anchorDay(d.y, s.start.m)
	default:
		return false
	}
}
