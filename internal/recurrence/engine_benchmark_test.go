package recurrence

import (
	"testing"
	"time"
)

func BenchmarkEngineExpand(b *testing.B) {
	engine := NewEngine(nil, 0)
	baseStart := time.Date(2030, 5, 6, 9, 0, 0, 0, time.UTC)
	baseEnd := baseStart.Add(90 * time.Minute)

	rule := Rule{
		Frequency: FrequencyWeekly,
		Interval:  1,
		DaysOfWeek: []time.Weekday{
			time.Monday,
			time.Tuesday,
			time.Wednesday,
			time.Thursday,
			time.Friday,
		},
		EndType: EndOnDate,
		EndDate: baseStart.AddDate(0, 3, 0),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		occurrences, err := engine.Expand(baseStart, baseEnd, rule)
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if len(occurrences) == 0 {
			b.Fatal("expected occurrences to be generated")
		}
	}
}
