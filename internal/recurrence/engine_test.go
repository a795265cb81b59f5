package recurrence

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"
)

func starts(occurrences []Occurrence) []string {
	out := make([]string, 0, len(occurrences))
	for _, occ := range occurrences {
		out = append(out, occ.Start.Format("2006-01-02 15:04 Mon"))
	}
	return out
}

func assertStarts(t *testing.T, got []Occurrence, want ...string) {
	t.Helper()
	gotStarts := starts(got)
	if len(gotStarts) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %v", len(want), len(gotStarts), gotStarts)
	}
	for i := range want {
		if gotStarts[i] != want[i] {
			t.Fatalf("occurrence %d: got %s want %s (all: %v)", i, gotStarts[i], want[i], gotStarts)
		}
	}
}

func TestEngine_Expand(t *testing.T) {
	t.Parallel()

	// Monday.
	baseStart := time.Date(2030, time.June, 3, 9, 0, 0, 0, time.UTC)
	baseEnd := baseStart.Add(90 * time.Minute)
	engine := NewEngine(nil, 0)

	t.Run("daily after count", func(t *testing.T) {
		t.Parallel()
		got, err := engine.Expand(baseStart, baseEnd, Rule{Frequency: FrequencyDaily, Interval: 1, EndType: EndAfterCount, OccurrenceCount: 3})
		if err != nil {
			t.Fatalf("Expand returned error: %v", err)
		}
		assertStarts(t, got, "2030-06-03 09:00 Mon", "2030-06-04 09:00 Tue", "2030-06-05 09:00 Wed")
		for i, occ := range got {
			if occ.Index != i {
				t.Fatalf("occurrence %d has index %d", i, occ.Index)
			}
			if occ.End.Sub(occ.Start) != 90*time.Minute {
				t.Fatalf("occurrence %d lost its duration: %v", i, occ.End.Sub(occ.Start))
			}
		}
	})

	t.Run("daily with interval", func(t *testing.T) {
		t.Parallel()
		got, err := engine.Expand(baseStart, baseEnd, Rule{Frequency: FrequencyDaily, Interval: 2, EndType: EndAfterCount, OccurrenceCount: 3})
		if err != nil {
			t.Fatalf("Expand returned error: %v", err)
		}
		assertStarts(t, got, "2030-06-03 09:00 Mon", "2030-06-05 09:00 Wed", "2030-06-07 09:00 Fri")
	})

	t.Run("weekly without days steps by weeks", func(t *testing.T) {
		t.Parallel()
		got, err := engine.Expand(baseStart, baseEnd, Rule{Frequency: FrequencyWeekly, Interval: 2, EndType: EndAfterCount, OccurrenceCount: 3})
		if err != nil {
			t.Fatalf("Expand returned error: %v", err)
		}
		assertStarts(t, got, "2030-06-03 09:00 Mon", "2030-06-17 09:00 Mon", "2030-07-01 09:00 Mon")
	})

	t.Run("weekly with days respects selection and skips earlier days", func(t *testing.T) {
		t.Parallel()
		rule := Rule{
			Frequency:       FrequencyWeekly,
			Interval:        1,
			DaysOfWeek:      []time.Weekday{time.Friday, time.Sunday, time.Wednesday, time.Friday},
			EndType:         EndAfterCount,
			OccurrenceCount: 4,
		}
		got, err := engine.Expand(baseStart, baseEnd, rule)
		if err != nil {
			t.Fatalf("Expand returned error: %v", err)
		}
		assertStarts(t, got, "2030-06-05 09:00 Wed", "2030-06-07 09:00 Fri", "2030-06-09 09:00 Sun", "2030-06-12 09:00 Wed")
	})

	t.Run("monthly clamps day of month", func(t *testing.T) {
		t.Parallel()
		jan31 := time.Date(2031, time.January, 31, 10, 0, 0, 0, time.UTC)
		got, err := engine.Expand(jan31, jan31.Add(time.Hour), Rule{Frequency: FrequencyMonthly, Interval: 1, EndType: EndAfterCount, OccurrenceCount: 4})
		if err != nil {
			t.Fatalf("Expand returned error: %v", err)
		}
		assertStarts(t, got, "2031-01-31 10:00 Fri", "2031-02-28 10:00 Fri", "2031-03-31 10:00 Mon", "2031-04-30 10:00 Wed")
	})

	t.Run("on date stops before later starts", func(t *testing.T) {
		t.Parallel()
		end := time.Date(2030, time.June, 5, 9, 0, 0, 0, time.UTC)
		got, err := engine.Expand(baseStart, baseEnd, Rule{Frequency: FrequencyDaily, Interval: 1, EndType: EndOnDate, EndDate: end})
		if err != nil {
			t.Fatalf("Expand returned error: %v", err)
		}
		assertStarts(t, got, "2030-06-03 09:00 Mon", "2030-06-04 09:00 Tue", "2030-06-05 09:00 Wed")
	})

	t.Run("on date before base yields no occurrences", func(t *testing.T) {
		t.Parallel()
		_, err := engine.Expand(baseStart, baseEnd, Rule{Frequency: FrequencyDaily, Interval: 1, EndType: EndOnDate, EndDate: baseStart.Add(-time.Hour)})
		if !errors.Is(err, ErrNoOccurrences) {
			t.Fatalf("expected ErrNoOccurrences, got %v", err)
		}
	})

	t.Run("keeps wall clock across daylight saving change", func(t *testing.T) {
		t.Parallel()
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			t.Skipf("timezone data unavailable: %v", err)
		}
		dstEngine := NewEngine(loc, 0)
		start := time.Date(2031, time.March, 8, 9, 0, 0, 0, loc)
		got, err := dstEngine.Expand(start, start.Add(time.Hour), Rule{Frequency: FrequencyDaily, Interval: 1, EndType: EndAfterCount, OccurrenceCount: 2})
		if err != nil {
			t.Fatalf("Expand returned error: %v", err)
		}
		if got[1].Start.Hour() != 9 {
			t.Fatalf("expected 09:00 local after DST change, got %v", got[1].Start)
		}
	})
}

func TestEngine_ExpandLimits(t *testing.T) {
	t.Parallel()

	baseStart := time.Date(2030, time.June, 3, 9, 0, 0, 0, time.UTC)
	engine := NewEngine(time.UTC, 5)

	_, err := engine.Expand(baseStart, baseStart.Add(time.Hour), Rule{Frequency: FrequencyDaily, Interval: 1, EndType: EndAfterCount, OccurrenceCount: 6})
	if !errors.Is(err, ErrTooManyOccurrences) {
		t.Fatalf("expected ErrTooManyOccurrences, got %v", err)
	}

	_, err = engine.Expand(baseStart, baseStart, Rule{Frequency: FrequencyDaily, Interval: 1, EndType: EndAfterCount, OccurrenceCount: 1})
	if !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestRule_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		rule Rule
		want error
	}{
		{name: "unknown frequency", rule: Rule{Frequency: "yearly", Interval: 1, EndType: EndAfterCount, OccurrenceCount: 1}, want: ErrInvalidFrequency},
		{name: "zero interval", rule: Rule{Frequency: FrequencyDaily, EndType: EndAfterCount, OccurrenceCount: 1}, want: ErrInvalidInterval},
		{name: "days on daily rule", rule: Rule{Frequency: FrequencyDaily, Interval: 1, DaysOfWeek: []time.Weekday{time.Monday}, EndType: EndAfterCount, OccurrenceCount: 1}, want: ErrInvalidDaysOfWeek},
		{name: "weekday out of range", rule: Rule{Frequency: FrequencyWeekly, Interval: 1, DaysOfWeek: []time.Weekday{7}, EndType: EndAfterCount, OccurrenceCount: 1}, want: ErrInvalidDaysOfWeek},
		{name: "missing count", rule: Rule{Frequency: FrequencyDaily, Interval: 1, EndType: EndAfterCount}, want: ErrInvalidEnd},
		{name: "missing end date", rule: Rule{Frequency: FrequencyDaily, Interval: 1, EndType: EndOnDate}, want: ErrInvalidEnd},
		{name: "unknown end type", rule: Rule{Frequency: FrequencyDaily, Interval: 1}, want: ErrInvalidEnd},
		{name: "valid", rule: Rule{Frequency: FrequencyMonthly, Interval: 3, EndType: EndAfterCount, OccurrenceCount: 2}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.rule.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected valid rule, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestEngine_ExpandCalendarDayEnd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		zone string
		hour int
		want []string
	}{
		{
			name: "west of UTC keeps the last local day",
			zone: "America/New_York",
			hour: 20,
			want: []string{"2026-03-08 20:00 Sun", "2026-03-09 20:00 Mon", "2026-03-10 20:00 Tue"},
		},
		{
			name: "east of UTC stops at local midnight",
			zone: "Asia/Tokyo",
			hour: 8,
			want: []string{"2026-03-08 08:00 Sun", "2026-03-09 08:00 Mon", "2026-03-10 08:00 Tue"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			loc, err := time.LoadLocation(tt.zone)
			if err != nil {
				t.Fatalf("load location: %v", err)
			}
			start := time.Date(2026, time.March, 8, tt.hour, 0, 0, 0, loc)
			rule := Rule{
				Frequency:    FrequencyDaily,
				Interval:     1,
				EndType:      EndOnDate,
				EndDate:      time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
				EndDateIsDay: true,
			}

			got, err := NewEngine(loc, 0).Expand(start, start.Add(time.Hour), rule)
			if err != nil {
				t.Fatalf("Expand returned error: %v", err)
			}
			assertStarts(t, got, tt.want...)
		})
	}
}

func TestEngine_LastStart(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	engine := NewEngine(loc, 0)

	exact := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	if got := engine.LastStart(Rule{EndType: EndOnDate, EndDate: exact}); !got.Equal(exact) {
		t.Fatalf("timestamp end should be used as is, got %v", got)
	}

	day := Rule{EndType: EndOnDate, EndDate: time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC), EndDateIsDay: true}
	want := time.Date(2026, time.March, 11, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
	if got := engine.LastStart(day); !got.Equal(want) {
		t.Fatalf("LastStart() = %v, want %v", got, want)
	}
}
