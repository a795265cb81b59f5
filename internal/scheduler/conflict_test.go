package scheduler

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var base = time.Date(2030, time.June, 3, 9, 0, 0, 0, time.UTC)

func at(hours float64) time.Time {
	return base.Add(time.Duration(hours * float64(time.Hour)))
}

func TestOverlaps(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		a, b   Window
		expect bool
	}{
		{name: "identical", a: Window{at(0), at(1)}, b: Window{at(0), at(1)}, expect: true},
		{name: "partial", a: Window{at(0), at(2)}, b: Window{at(1), at(3)}, expect: true},
		{name: "containment", a: Window{at(0), at(4)}, b: Window{at(1), at(2)}, expect: true},
		{name: "back to back", a: Window{at(0), at(1)}, b: Window{at(1), at(2)}, expect: false},
		{name: "back to back reversed", a: Window{at(1), at(2)}, b: Window{at(0), at(1)}, expect: false},
		{name: "disjoint", a: Window{at(0), at(1)}, b: Window{at(3), at(4)}, expect: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.a.Overlaps(tc.b); got != tc.expect {
				t.Fatalf("Overlaps() = %v, want %v", got, tc.expect)
			}
			if got := tc.b.Overlaps(tc.a); got != tc.expect {
				t.Fatalf("Overlaps() is not symmetric: got %v", got)
			}
		})
	}
}

func TestValidateWindow(t *testing.T) {
	t.Parallel()

	now := at(-1)

	if err := ValidateWindow(at(0), at(1), now); err != nil {
		t.Fatalf("expected valid window, got %v", err)
	}
	if err := ValidateWindow(at(1), at(1), now); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow for empty window, got %v", err)
	}
	if err := ValidateWindow(at(2), at(1), now); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow for inverted window, got %v", err)
	}
	if err := ValidateWindow(at(-3), at(-2), now); !errors.Is(err, ErrWindowInPast) {
		t.Fatalf("expected ErrWindowInPast, got %v", err)
	}
	if err := ValidateWindow(at(-3), at(-2), time.Time{}); err != nil {
		t.Fatalf("zero now should skip past check, got %v", err)
	}
}

func TestDetectConflicts(t *testing.T) {
	t.Parallel()

	existing := []Booking{
		{ID: "late", ResourceID: "room-1", Start: at(3), End: at(4)},
		{ID: "early", ResourceID: "room-1", Start: at(0), End: at(1)},
		{ID: "adjacent", ResourceID: "room-1", Start: at(2), End: at(2.5)},
	}

	t.Run("overlapping bookings are returned in start order", func(t *testing.T) {
		t.Parallel()
		got := DetectConflicts(existing, Window{at(0.5), at(3.5)}, "")
		if want := []string{"early", "adjacent", "late"}; !reflect.DeepEqual(IDs(got), want) {
			t.Fatalf("unexpected conflicts: got %v want %v", IDs(got), want)
		}
	})

	t.Run("excluded booking is ignored", func(t *testing.T) {
		t.Parallel()
		got := DetectConflicts(existing, Window{at(0), at(1)}, "early")
		if len(got) != 0 {
			t.Fatalf("expected no conflicts, got %v", IDs(got))
		}
		if HasConflict(existing, Window{at(0), at(1)}, "early") {
			t.Fatalf("HasConflict should ignore excluded booking")
		}
	})

	t.Run("back-to-back bookings do not conflict", func(t *testing.T) {
		t.Parallel()
		if HasConflict(existing, Window{at(1), at(2)}, "") {
			t.Fatalf("expected adjacent window to be free")
		}
	})
}

func TestFirstMutualOverlap(t *testing.T) {
	t.Parallel()

	if _, _, ok := FirstMutualOverlap([]Window{{at(0), at(1)}, {at(1), at(2)}, {at(2), at(3)}}); ok {
		t.Fatalf("expected disjoint windows")
	}

	i, j, ok := FirstMutualOverlap([]Window{{at(0), at(1)}, {at(4), at(5)}, {at(0.5), at(2)}})
	if !ok || i != 0 || j != 2 {
		t.Fatalf("unexpected overlap result: %d %d %v", i, j, ok)
	}
}
