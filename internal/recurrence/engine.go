package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// DefaultMaxOccurrences bounds a single expansion when no limit is configured.
const DefaultMaxOccurrences = 366

// Frequency represents supported recurrence intervals.
type Frequency string

const (
	// FrequencyDaily repeats every Interval days.
	FrequencyDaily Frequency = "daily"
	// FrequencyWeekly repeats every Interval weeks, optionally on selected weekdays.
	FrequencyWeekly Frequency = "weekly"
	// FrequencyMonthly repeats every Interval months on the base day-of-month.
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether the frequency is supported.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// EndType selects how a series terminates.
type EndType string

const (
	// EndAfterCount stops after OccurrenceCount occurrences.
	EndAfterCount EndType = "after_count"
	// EndOnDate stops before the first occurrence starting after EndDate.
	EndOnDate EndType = "on_date"
)

// Valid reports whether the end type is supported.
func (e EndType) Valid() bool {
	return e == EndAfterCount || e == EndOnDate
}

// Rule describes a recurrence configuration for a reservation series.
type Rule struct {
	Frequency       Frequency
	Interval        int
	DaysOfWeek      []time.Weekday
	EndType         EndType
	OccurrenceCount int
	EndDate         time.Time
	// EndDateIsDay marks EndDate as a calendar date; the series then runs through the
	// whole of that day in the engine's location.
	EndDateIsDay bool
}

// Occurrence represents one expanded interval of a series.
type Occurrence struct {
	Index int
	Start time.Time
	End   time.Time
}

var (
	// ErrInvalidFrequency indicates the recurrence frequency is not supported.
	ErrInvalidFrequency = errors.New("recurrence: invalid frequency")
	// ErrInvalidInterval indicates an interval below one.
	ErrInvalidInterval = errors.New("recurrence: interval must be at least 1")
	// ErrInvalidDaysOfWeek indicates weekday selections outside 0-6 or on a non-weekly rule.
	ErrInvalidDaysOfWeek = errors.New("recurrence: days_of_week must be 0-6 and only used with weekly frequency")
	// ErrInvalidEnd indicates a missing or malformed termination condition.
	ErrInvalidEnd = errors.New("recurrence: end condition requires occurrence_count >= 1 or an end_date")
	// ErrInvalidDuration indicates the base reservation duration is invalid.
	ErrInvalidDuration = errors.New("recurrence: base duration must be positive")
	// ErrNoOccurrences indicates the rule ends before the first occurrence.
	ErrNoOccurrences = errors.New("recurrence: rule yields no occurrences")
	// ErrTooManyOccurrences indicates the expansion exceeds the configured limit.
	ErrTooManyOccurrences = errors.New("recurrence: too many occurrences")
)

// Validate checks the rule independently of any base interval.
func (r Rule) Validate() error {
	if !r.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if r.Interval < 1 {
		return ErrInvalidInterval
	}
	if len(r.DaysOfWeek) > 0 && r.Frequency != FrequencyWeekly {
		return ErrInvalidDaysOfWeek
	}
	for _, day := range r.DaysOfWeek {
		if day < time.Sunday || day > time.Saturday {
			return ErrInvalidDaysOfWeek
		}
	}
	switch r.EndType {
	case EndAfterCount:
		if r.OccurrenceCount < 1 {
			return ErrInvalidEnd
		}
	case EndOnDate:
		if r.EndDate.IsZero() {
			return ErrInvalidEnd
		}
	default:
		return ErrInvalidEnd
	}
	return nil
}

// Engine expands recurrence rules into occurrences.
type Engine struct {
	location       *time.Location
	maxOccurrences int
}

// NewEngine constructs an Engine that performs calendar arithmetic in loc.
// If loc is nil, UTC is used. A non-positive limit falls back to DefaultMaxOccurrences.
func NewEngine(loc *time.Location, maxOccurrences int) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	return &Engine{location: loc, maxOccurrences: maxOccurrences}
}

// Location returns the zone used for calendar arithmetic.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// LastStart returns the latest start an on_date rule may emit. For a calendar-day end
// it is the last instant of that day in the engine's location.
func (e *Engine) LastStart(rule Rule) time.Time {
	if !rule.EndDateIsDay {
		return rule.EndDate
	}
	y, m, d := rule.EndDate.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, e.Location()).Add(-time.Nanosecond)
}

// Expand turns one base interval and a rule into an ordered list of occurrences.
//
//   - Every occurrence keeps the base wall-clock time of day and duration.
//   - Weekly rules with days_of_week walk Sunday-based weeks starting with the
//     week of baseStart; days before baseStart in that week are skipped.
//   - Monthly rules keep the base day-of-month, clamped to shorter months.
func (e *Engine) Expand(baseStart, baseEnd time.Time, rule Rule) ([]Occurrence, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if !baseEnd.After(baseStart) {
		return nil, ErrInvalidDuration
	}

	loc := e.Location()
	limit := e.maxOccurrences
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}

	start := baseStart.In(loc)
	duration := baseEnd.Sub(baseStart)
	days := normalizeWeekdays(rule.DaysOfWeek)
	lastStart := e.LastStart(rule)

	occurrences := make([]Occurrence, 0)
	for period := 0; ; period++ {
		for _, candidate := range e.periodStarts(start, rule, days, period) {
			if rule.EndType == EndAfterCount && len(occurrences) >= rule.OccurrenceCount {
				return occurrences, nil
			}
			if rule.EndType == EndOnDate && candidate.After(lastStart) {
				if len(occurrences) == 0 {
					return nil, ErrNoOccurrences
				}
				return occurrences, nil
			}
			if len(occurrences) >= limit {
				return nil, fmt.Errorf("%w: limit is %d", ErrTooManyOccurrences, limit)
			}
			occurrences = append(occurrences, Occurrence{
				Index: len(occurrences),
				Start: candidate,
				End:   candidate.Add(duration),
			})
		}
		if rule.EndType == EndAfterCount && len(occurrences) >= rule.OccurrenceCount {
			return occurrences, nil
		}
	}
}

// periodStarts returns the occurrence starts belonging to the given period, in order.
func (e *Engine) periodStarts(start time.Time, rule Rule, days []time.Weekday, period int) []time.Time {
	y, m, d := start.Date()
	hh, mm, ss := start.Clock()
	ns := start.Nanosecond()
	loc := start.Location()
	step := period * rule.Interval

	switch rule.Frequency {
	case FrequencyDaily:
		return []time.Time{time.Date(y, m, d+step, hh, mm, ss, ns, loc)}
	case FrequencyWeekly:
		if len(days) == 0 {
			return []time.Time{time.Date(y, m, d+7*step, hh, mm, ss, ns, loc)}
		}
		weekStart := d - int(start.Weekday()) + 7*step
		starts := make([]time.Time, 0, len(days))
		for _, day := range days {
			candidate := time.Date(y, m, weekStart+int(day), hh, mm, ss, ns, loc)
			if candidate.Before(start) {
				continue
			}
			starts = append(starts, candidate)
		}
		return starts
	case FrequencyMonthly:
		first := time.Date(y, m+time.Month(step), 1, hh, mm, ss, ns, loc)
		day := d
		if last := daysIn(first.Year(), first.Month(), loc); day > last {
			day = last
		}
		return []time.Time{time.Date(first.Year(), first.Month(), day, hh, mm, ss, ns, loc)}
	default:
		return nil
	}
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func normalizeWeekdays(days []time.Weekday) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	seen := make(map[time.Weekday]struct{}, len(days))
	result := make([]time.Weekday, 0, len(days))
	for _, day := range days {
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		result = append(result, day)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
