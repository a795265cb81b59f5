package http

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/example/resource-scheduler/internal/recurrence"
)

func TestRecurrenceRequestToRule(t *testing.T) {
	t.Parallel()

	t.Run("bare end date covers the whole local day", func(t *testing.T) {
		t.Parallel()
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			t.Fatalf("load location: %v", err)
		}

		rule := recurrenceRequest{Frequency: "daily", EndType: "on_date", EndDate: "2026-03-10"}.toRule()
		if !rule.EndDateIsDay || rule.Interval != 1 {
			t.Fatalf("unexpected rule: %+v", rule)
		}

		start := time.Date(2026, time.March, 8, 20, 0, 0, 0, loc)
		got, err := recurrence.NewEngine(loc, 0).Expand(start, start.Add(time.Hour), rule)
		if err != nil {
			t.Fatalf("Expand returned error: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 occurrences through 10 March, got %d", len(got))
		}
		if last := got[2].Start; last.Day() != 10 || last.Hour() != 20 {
			t.Fatalf("unexpected last occurrence %v", last)
		}
	})

	t.Run("timestamp end date is an exact bound", func(t *testing.T) {
		t.Parallel()
		rule := recurrenceRequest{Frequency: "weekly", Interval: 2, EndType: "on_date", EndDate: "2026-03-10T09:30:00+09:00", DaysOfWeek: []int{1, 3}}.toRule()
		want := time.Date(2026, time.March, 10, 0, 30, 0, 0, time.UTC)
		if rule.EndDateIsDay || !rule.EndDate.Equal(want) {
			t.Fatalf("unexpected end: %+v", rule)
		}
		if rule.Interval != 2 || len(rule.DaysOfWeek) != 2 || rule.DaysOfWeek[1] != time.Wednesday {
			t.Fatalf("unexpected rule: %+v", rule)
		}
	})
}
