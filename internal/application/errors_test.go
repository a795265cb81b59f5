package application

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"field": "invalid"}}
	if got := withFields.Error(); got != "validation failed" {
		t.Fatalf("expected consistent message for populated error, got %q", got)
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	if base.HasErrors() {
		t.Fatalf("expected HasErrors to report false for empty error")
	}
	base.add("first", "value")
	if got := base.FieldErrors["first"]; got != "value" {
		t.Fatalf("expected add to populate map, got %q", got)
	}

	base.merge(&ValidationError{FieldErrors: map[string]string{"second": "another"}})
	base.merge(nil)
	if len(base.FieldErrors) != 2 || !base.HasErrors() {
		t.Fatalf("expected two fields after merge, got %v", base.FieldErrors)
	}
}

func TestConflictErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	index := 3
	start := time.Date(2030, time.March, 4, 10, 0, 0, 0, time.UTC)
	err := fmt.Errorf("wrapped: %w", &ConflictError{
		Kind:            ConflictOverlap,
		ResourceID:      "room-1",
		Start:           start,
		End:             start.Add(time.Hour),
		ConflictingIDs:  []string{"a", "b"},
		OccurrenceIndex: &index,
	})

	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected errors.Is to match ErrConflict")
	}
	if errors.Is(err, ErrInvalidState) {
		t.Fatalf("did not expect conflict to match ErrInvalidState")
	}
	msg := err.Error()
	for _, want := range []string{"room-1", "occurrence 3", "a, b"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestStateErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	err := &StateError{Entity: "waitlist entry", ID: "w-1", State: "expired", Operation: "accept"}
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected errors.Is to match ErrInvalidState")
	}
	if got := err.Error(); got != `cannot accept waitlist entry w-1 in state "expired"` {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrForbidden, "forbidden"},
		{fmt.Errorf("get: %w", ErrNotFound), "not_found"},
		{&ConflictError{Kind: ConflictDuplicate}, "conflict"},
		{&StateError{}, "invalid_state"},
		{newValidationError("start_time", "bad"), "validation"},
		{errors.New("disk full"), "unexpected"},
	}
	for _, tc := range tests {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
