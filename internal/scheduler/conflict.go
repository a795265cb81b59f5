package scheduler

import (
	"errors"
	"sort"
	"time"
)

// ErrInvalidWindow indicates a window whose start is not strictly before its end.
var ErrInvalidWindow = errors.New("scheduler: start must be before end")

// ErrWindowInPast indicates a window that begins before the reference time.
var ErrWindowInPast = errors.New("scheduler: start must not be in the past")

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Booking is a reservation interval held on a resource.
type Booking struct {
	ID         string
	ResourceID string
	Start      time.Time
	End        time.Time
}

// Window returns the booking interval.
func (b Booking) Window() Window {
	return Window{Start: b.Start, End: b.End}
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share any instant.
// Back-to-back intervals where one ends exactly when the other starts do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Overlaps reports whether the two windows intersect.
func (w Window) Overlaps(other Window) bool {
	return Overlaps(w.Start, w.End, other.Start, other.End)
}

// Equal reports whether both bounds are the same instants.
func (w Window) Equal(other Window) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End)
}

// ValidateWindow rejects inverted or empty windows and windows starting before now.
// A zero now skips the past check.
func ValidateWindow(start, end, now time.Time) error {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return ErrInvalidWindow
	}
	if !now.IsZero() && start.Before(now) {
		return ErrWindowInPast
	}
	return nil
}

// DetectConflicts returns the bookings that overlap the candidate window, sorted by
// start time. A booking whose ID equals excludeID is ignored so that a reservation
// can be re-checked against its own resource.
func DetectConflicts(existing []Booking, candidate Window, excludeID string) []Booking {
	var conflicts []Booking
	for _, booking := range existing {
		if excludeID != "" && booking.ID == excludeID {
			continue
		}
		if booking.Window().Overlaps(candidate) {
			conflicts = append(conflicts, booking)
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Start.Equal(conflicts[j].Start) {
			return conflicts[i].ID < conflicts[j].ID
		}
		return conflicts[i].Start.Before(conflicts[j].Start)
	})

	return conflicts
}

// HasConflict reports whether any booking other than excludeID overlaps candidate.
func HasConflict(existing []Booking, candidate Window, excludeID string) bool {
	for _, booking := range existing {
		if excludeID != "" && booking.ID == excludeID {
			continue
		}
		if booking.Window().Overlaps(candidate) {
			return true
		}
	}
	return false
}

// IDs extracts booking identifiers in order.
func IDs(bookings []Booking) []string {
	if len(bookings) == 0 {
		return nil
	}
	ids := make([]string, 0, len(bookings))
	for _, booking := range bookings {
		ids = append(ids, booking.ID)
	}
	return ids
}

// FirstMutualOverlap returns the indexes of the first pair of windows that overlap
// each other, scanning in input order. ok is false when all windows are disjoint.
func FirstMutualOverlap(windows []Window) (i, j int, ok bool) {
	for j = 1; j < len(windows); j++ {
		for i = 0; i < j; i++ {
			if windows[i].Overlaps(windows[j]) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}
