package schedule_test

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"
	_ "time/tzdata"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/schedule"
)

var _ cronlib.Schedule = (*schedule.Schedule)(nil)

func utc(y int, m time.Month, d, h, mi int) time.Time {
	return time.Date(y, m, d, h, mi, 0, 0, time.UTC)
}

func mustSchedule(t *testing.T, spec schedule.Spec, loc *time.Location) *schedule.Schedule {
	t.Helper()
	s, err := schedule.New(spec, loc)
	if err != nil {
		t.Fatalf("New(%+v): %v", spec, err)
	}
	return s
}

func mustNext(t *testing.T, s *schedule.Schedule, from time.Time) time.Time {
	t.Helper()
	next, ok := s.NextScheduledTime(from)
	if !ok {
		t.Fatalf("NextScheduledTime(%s): no occurrence for %s", from, s)
	}
	return next
}

func TestNextScheduledTime_Normal(t *testing.T) {
	tests := []struct {
		name string
		spec schedule.Spec
		from time.Time
		want time.Time
	}{
		{
			name: "days 1 and 15 at nine",
			spec: schedule.Spec{Days: "1,15", Hours: "9", Minutes: "0"},
			from: utc(2024, 3, 10, 0, 0),
			want: utc(2024, 3, 15, 9, 0),
		},
		{
			name: "exact occurrence is returned unchanged",
			spec: schedule.Spec{Days: "1,15", Hours: "9"},
			from: utc(2024, 3, 15, 9, 0),
			want: utc(2024, 3, 15, 9, 0),
		},
		{
			name: "seconds round up past the occurrence",
			spec: schedule.Spec{Days: "1,15", Hours: "9"},
			from: utc(2024, 3, 15, 9, 0).Add(30 * time.Second),
			want: utc(2024, 4, 1, 9, 0),
		},
		{
			name: "hours and minutes default to midnight",
			spec: schedule.Spec{Days: "20"},
			from: utc(2024, 3, 10, 12, 0),
			want: utc(2024, 3, 20, 0, 0),
		},
		{
			name: "last day of a leap february",
			spec: schedule.Spec{Days: "LAST"},
			from: utc(2024, 2, 10, 0, 0),
			want: utc(2024, 2, 29, 0, 0),
		},
		{
			name: "last day of a common february",
			spec: schedule.Spec{Days: "last"},
			from: utc(2023, 2, 10, 0, 0),
			want: utc(2023, 2, 28, 0, 0),
		},
		{
			name: "last day that is a friday",
			spec: schedule.Spec{Days: "LAST", Weekdays: "5"},
			from: utc(2024, 1, 1, 0, 0),
			want: utc(2024, 5, 31, 0, 0),
		},
		{
			name: "friday the thirteenth",
			spec: schedule.Spec{Days: "13", Weekdays: "5"},
			from: utc(2024, 1, 1, 0, 0),
			want: utc(2024, 9, 13, 0, 0),
		},
		{
			name: "weekdays only rolls over the weekend",
			spec: schedule.Spec{Weekdays: "1-5", Hours: "18", Minutes: "30"},
			from: utc(2024, 3, 8, 19, 0), // Friday evening
			want: utc(2024, 3, 11, 18, 30),
		},
		{
			name: "month rollover into next year",
			spec: schedule.Spec{Months: "1", Days: "2"},
			from: utc(2024, 2, 1, 0, 0),
			want: utc(2025, 1, 2, 0, 0),
		},
		{
			name: "future year",
			spec: schedule.Spec{Years: "2026"},
			from: utc(2024, 6, 1, 10, 0),
			want: utc(2026, 1, 1, 0, 0),
		},
		{
			name: "hour rollover within the day",
			spec: schedule.Spec{Hours: "8,17", Minutes: "15,45"},
			from: utc(2024, 3, 10, 8, 46),
			want: utc(2024, 3, 10, 17, 15),
		},
		{
			name: "minute rollover to next day",
			spec: schedule.Spec{Hours: "23", Minutes: "0-10"},
			from: utc(2024, 12, 31, 23, 11),
			want: utc(2025, 1, 1, 23, 0),
		},
		{
			name: "day 31 skips short months",
			spec: schedule.Spec{Days: "31"},
			from: utc(2024, 4, 1, 0, 0),
			want: utc(2024, 5, 31, 0, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustSchedule(t, tt.spec, time.UTC)
			if got := mustNext(t, s, tt.from); !got.Equal(tt.want) {
				t.Errorf("NextScheduledTime(%s) = %s, want %s", tt.from, got, tt.want)
			}
		})
	}
}

func TestNextScheduledTime_Exhausted(t *testing.T) {
	s := mustSchedule(t, schedule.Spec{Years: "2020-2022"}, time.UTC)
	if next, ok := s.NextScheduledTime(utc(2024, 1, 1, 0, 0)); ok {
		t.Fatalf("expected no occurrence, got %s", next)
	}
	if next := s.Next(utc(2024, 1, 1, 0, 0)); !next.IsZero() {
		t.Fatalf("Next: expected zero time, got %s", next)
	}

	impossible := mustSchedule(t, schedule.Spec{Months: "2", Days: "30"}, time.UTC)
	if next, ok := impossible.NextScheduledTime(utc(2024, 1, 1, 0, 0)); ok {
		t.Fatalf("expected February 30th to never occur, got %s", next)
	}
}

func TestNextScheduledTime_Periodic(t *testing.T) {
	tests := []struct {
		name string
		spec schedule.Spec
		from time.Time
		want time.Time
	}{
		{
			name: "every two months from the 31st",
			spec: schedule.Spec{Type: schedule.TypeMonths, Period: 2, PeriodStart: "2024-01-31"},
			from: utc(2024, 2, 1, 0, 0),
			want: utc(2024, 3, 31, 0, 0),
		},
		{
			name: "31st clamps in a thirty day month",
			spec: schedule.Spec{Type: schedule.TypeMonths, Period: 2, PeriodStart: "2024-01-31"},
			from: utc(2024, 8, 1, 0, 0),
			want: utc(2024, 9, 30, 0, 0),
		},
		{
			name: "before the start date",
			spec: schedule.Spec{Type: schedule.TypeDays, Period: 3, PeriodStart: "2024-01-01", Hours: "6"},
			from: utc(2023, 12, 1, 0, 0),
			want: utc(2024, 1, 1, 6, 0),
		},
		{
			name: "every three days",
			spec: schedule.Spec{Type: schedule.TypeDays, Period: 3, PeriodStart: "2024-01-01"},
			from: utc(2024, 1, 2, 0, 0),
			want: utc(2024, 1, 4, 0, 0),
		},
		{
			name: "past the last minute of an occurrence day",
			spec: schedule.Spec{Type: schedule.TypeDays, Period: 2, PeriodStart: "2024-01-01", Hours: "7"},
			from: utc(2024, 1, 3, 8, 0),
			want: utc(2024, 1, 5, 7, 0),
		},
		{
			name: "yearly from a leap day",
			spec: schedule.Spec{Type: schedule.TypeYears, Period: 1, PeriodStart: "2024-02-29"},
			from: utc(2024, 3, 1, 0, 0),
			want: utc(2025, 2, 28, 0, 0),
		},
		{
			name: "every four years returns to the leap day",
			spec: schedule.Spec{Type: schedule.TypeYears, Period: 4, PeriodStart: "2024-02-29"},
			from: utc(2024, 3, 1, 0, 0),
			want: utc(2028, 2, 29, 0, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustSchedule(t, tt.spec, time.UTC)
			if got := mustNext(t, s, tt.from); !got.Equal(tt.want) {
				t.Errorf("NextScheduledTime(%s) = %s, want %s", tt.from, got, tt.want)
			}
		})
	}
}

func TestPeriodicResultIsWholeMultiple(t *testing.T) {
	start := time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewPCG(7, 11))

	for _, typ := range []schedule.Type{schedule.TypeDays, schedule.TypeMonths, schedule.TypeYears} {
		for period := 1; period <= 5; period++ {
			s := mustSchedule(t, schedule.Spec{
				Type: typ, Period: period, PeriodStart: "2023-05-31", Hours: "3,15", Minutes: "20",
			}, time.UTC)

			for range 50 {
				from := start.Add(time.Duration(rng.Int64N(int64(6 * 365 * 24 * time.Hour))))
				next := mustNext(t, s, from)

				var elapsed int
				switch typ {
				case schedule.TypeDays:
					elapsed = int(next.Truncate(24*time.Hour).Sub(start).Hours() / 24)
				case schedule.TypeMonths:
					elapsed = (next.Year()-start.Year())*12 + int(next.Month()-start.Month())
				case schedule.TypeYears:
					elapsed = next.Year() - start.Year()
				}
				if elapsed%period != 0 {
					t.Fatalf("%s/%d from %s: %s is %d units from start", typ, period, from, next, elapsed)
				}
				if !s.MeetsDatetime(next) {
					t.Fatalf("%s/%d: MeetsDatetime(%s) = false for a returned occurrence", typ, period, next)
				}
			}
		}
	}
}

func TestNextScheduledTime_Idempotent(t *testing.T) {
	specs := []schedule.Spec{
		{Days: "1,15", Hours: "9"},
		{Days: "LAST", Weekdays: "1-5", Hours: "*", Minutes: "0,30"},
		{Months: "3-4,11", Weekdays: "6-7", Hours: "22-23", Minutes: "59"},
		{Type: schedule.TypeMonths, Period: 5, PeriodStart: "2020-08-31", Hours: "12"},
		{Type: schedule.TypeDays, Period: 9, PeriodStart: "2021-02-03", Minutes: "5-7"},
	}
	rng := rand.New(rand.NewPCG(1, 2))
	base := utc(2022, 1, 1, 0, 0)

	for _, spec := range specs {
		s := mustSchedule(t, spec, time.UTC)
		for range 100 {
			from := base.Add(time.Duration(rng.Int64N(int64(3 * 365 * 24 * time.Hour))))
			first := mustNext(t, s, from)
			second := mustNext(t, s, first)
			if !first.Equal(second) {
				t.Fatalf("%s: NextScheduledTime(%s) = %s, re-applied = %s", s, from, first, second)
			}
			if first.Before(from.Truncate(time.Minute)) {
				t.Fatalf("%s: %s is before %s", s, first, from)
			}
		}
	}
}

// TestNextMatchesMinuteWalk compares the nested search with a brute-force
// walk over every minute.
func TestNextMatchesMinuteWalk(t *testing.T) {
	specs := []schedule.Spec{
		{Days: "1,15", Hours: "9"},
		{Days: "LAST", Hours: "6-7", Minutes: "0,45"},
		{Weekdays: "2,4", Hours: "13", Minutes: "10-12"},
		{Months: "2", Days: "28-31", Weekdays: "3-5"},
	}
	rng := rand.New(rand.NewPCG(3, 4))
	base := utc(2024, 1, 1, 0, 0)

	for _, spec := range specs {
		s := mustSchedule(t, spec, time.UTC)
		for range 5 {
			from := base.Add(time.Duration(rng.Int64N(int64(200*24*time.Hour)))).Truncate(time.Minute)
			want := from
			for !s.MeetsDatetime(want) {
				want = want.Add(time.Minute)
				if want.Sub(from) > 3*366*24*time.Hour {
					t.Fatalf("%s: brute force found nothing after %s", s, from)
				}
			}
			if got := mustNext(t, s, from); !got.Equal(want) {
				t.Errorf("%s: NextScheduledTime(%s) = %s, minute walk = %s", s, from, got, want)
			}
		}
	}
}

func TestMeetsDatetime_FieldConjunction(t *testing.T) {
	s := mustSchedule(t, schedule.Spec{
		Years:    "2024-2025",
		Months:   "1-6,12",
		Days:     "1-10,LAST",
		Weekdays: "1-5",
		Hours:    "8-17",
		Minutes:  "0,15,30,45",
	}, time.UTC)

	inSet := func(v int, set ...[2]int) bool {
		for _, r := range set {
			if v >= r[0] && v <= r[1] {
				return true
			}
		}
		return false
	}

	rng := rand.New(rand.NewPCG(5, 6))
	base := utc(2023, 6, 1, 0, 0)
	for range 5000 {
		ts := base.Add(time.Duration(rng.Int64N(int64(3*365*24*time.Hour)))).Truncate(time.Minute)
		lastDay := time.Date(ts.Year(), ts.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
		wd := int(ts.Weekday())
		if wd == 0 {
			wd = 7
		}

		want := inSet(ts.Year(), [2]int{2024, 2025}) &&
			inSet(int(ts.Month()), [2]int{1, 6}, [2]int{12, 12}) &&
			(inSet(ts.Day(), [2]int{1, 10}) || ts.Day() == lastDay) &&
			inSet(wd, [2]int{1, 5}) &&
			inSet(ts.Hour(), [2]int{8, 17}) &&
			inSet(ts.Minute(), [2]int{0, 0}, [2]int{15, 15}, [2]int{30, 30}, [2]int{45, 45})

		if got := s.MeetsDatetime(ts); got != want {
			t.Fatalf("MeetsDatetime(%s) = %v, want %v", ts, got, want)
		}
		if want && !s.MeetsDate(ts) {
			t.Fatalf("MeetsDate(%s) = false for a matching instant", ts)
		}
	}
}

func TestMeetsDate_Periodic(t *testing.T) {
	s := mustSchedule(t, schedule.Spec{Type: schedule.TypeMonths, Period: 1, PeriodStart: "2024-01-31"}, time.UTC)

	cases := map[time.Time]bool{
		utc(2024, 1, 31, 0, 0):  true,
		utc(2024, 2, 29, 0, 0):  true,
		utc(2024, 3, 31, 0, 0):  true,
		utc(2024, 3, 30, 0, 0):  false,
		utc(2024, 4, 30, 0, 0):  true,
		utc(2023, 12, 31, 0, 0): false,
	}
	for ts, want := range cases {
		if got := s.MeetsDate(ts); got != want {
			t.Errorf("MeetsDate(%s) = %v, want %v", ts.Format("2006-01-02"), got, want)
		}
	}
}

func TestTimeZones(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	s := mustSchedule(t, schedule.Spec{Hours: "9"}, ny)
	winter := mustNext(t, s, utc(2024, 1, 15, 0, 0))
	if want := utc(2024, 1, 15, 14, 0); !winter.Equal(want) {
		t.Errorf("winter: got %s, want %s", winter.UTC(), want)
	}
	summer := mustNext(t, s, utc(2024, 7, 15, 0, 0))
	if want := utc(2024, 7, 15, 13, 0); !summer.Equal(want) {
		t.Errorf("summer: got %s, want %s", summer.UTC(), want)
	}

	// 02:30 does not exist on 2024-03-10 in New York.
	gap := mustSchedule(t, schedule.Spec{Hours: "2", Minutes: "30"}, ny)
	got := mustNext(t, gap, time.Date(2024, 3, 10, 0, 0, 0, 0, ny))
	if want := time.Date(2024, 3, 11, 2, 30, 0, 0, ny); !got.Equal(want) {
		t.Errorf("DST gap: got %s, want %s", got, want)
	}

	// The date belongs to the schedule's zone, not the caller's.
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	firsts := mustSchedule(t, schedule.Spec{Days: "1"}, tokyo)
	if !firsts.MeetsDate(utc(2024, 3, 31, 20, 0)) {
		t.Error("expected 2024-03-31T20:00Z to be April 1st in Tokyo")
	}
}

func TestNext_StrictlyAfter(t *testing.T) {
	s := mustSchedule(t, schedule.Spec{Hours: "9", Minutes: "0,30"}, time.UTC)
	at := utc(2024, 3, 10, 9, 0)
	if got := s.Next(at); !got.Equal(utc(2024, 3, 10, 9, 30)) {
		t.Errorf("Next(%s) = %s", at, got)
	}
}

func TestOccurrences(t *testing.T) {
	s := mustSchedule(t, schedule.Spec{Days: "1,15", Hours: "9"}, time.UTC)
	got := s.Occurrences(utc(2024, 1, 1, 0, 0), utc(2024, 3, 1, 9, 0), 0)
	want := []time.Time{
		utc(2024, 1, 1, 9, 0),
		utc(2024, 1, 15, 9, 0),
		utc(2024, 2, 1, 9, 0),
		utc(2024, 2, 15, 9, 0),
		utc(2024, 3, 1, 9, 0),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d occurrences, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d = %s, want %s", i, got[i], want[i])
		}
	}

	if limited := s.Occurrences(utc(2024, 1, 1, 0, 0), utc(2030, 1, 1, 0, 0), 3); len(limited) != 3 {
		t.Errorf("expected limit of 3, got %d", len(limited))
	}
}

func TestNew_Clamping(t *testing.T) {
	s := mustSchedule(t, schedule.Spec{Days: "0-40", Hours: "20-99", Minutes: "70"}, time.UTC)
	if !s.MeetsDatetime(utc(2024, 1, 31, 23, 59)) {
		t.Error("expected clamped fields to allow day 31 23:59")
	}
	if s.MeetsDatetime(utc(2024, 1, 31, 19, 59)) {
		t.Error("hour 19 should not be allowed")
	}
}

func TestNew_Invalid(t *testing.T) {
	specs := []schedule.Spec{
		{Days: "1-"},
		{Days: "a"},
		{Days: "5-1"},
		{Days: "1,,2"},
		{Hours: "-3"},
		{Minutes: "1.5"},
		{Weekdays: "mon"},
		{Type: "fortnightly"},
		{Type: schedule.TypeDays, PeriodStart: "2024-01-01"},
		{Type: schedule.TypeMonths, Period: -1, PeriodStart: "2024-01-01"},
		{Type: schedule.TypeYears, Period: 1},
		{Type: schedule.TypeYears, Period: 1, PeriodStart: "2024-02-30"},
	}
	for _, spec := range specs {
		if _, err := schedule.New(spec, time.UTC); !errors.Is(err, batchflow.ErrInvalidSchedule) {
			t.Errorf("New(%+v): expected ErrInvalidSchedule, got %v", spec, err)
		}
	}
}

func TestParseType(t *testing.T) {
	cases := map[string]schedule.Type{
		"":               schedule.TypeNormal,
		"Normal":         schedule.TypeNormal,
		"periodic-days":  schedule.TypeDays,
		"MONTHS":         schedule.TypeMonths,
		"periodic-years": schedule.TypeYears,
	}
	for in, want := range cases {
		got, err := schedule.ParseType(in)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseType(%q) = %q, want %q", in, got, want)
		}
	}
}
