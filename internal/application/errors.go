package application

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrForbidden is returned when the acting principal lacks permission for an operation.
	ErrForbidden = errors.New("application: forbidden")
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("application: conflict")
	// ErrInvalidState matches every *StateError.
	ErrInvalidState = errors.New("application: invalid state")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func newValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.add(field, message)
	return v
}

// ConflictKind distinguishes overlapping bookings from duplicate requests.
type ConflictKind string

const (
	ConflictOverlap   ConflictKind = "overlap"
	ConflictDuplicate ConflictKind = "duplicate"
)

// ConflictError reports a requested window that collides with existing state.
type ConflictError struct {
	Kind           ConflictKind
	ResourceID     string
	Start          time.Time
	End            time.Time
	ConflictingIDs []string
	// OccurrenceIndex is set when the colliding window belongs to a recurring series.
	OccurrenceIndex *int
}

// Error implements the error interface.
func (c *ConflictError) Error() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	if c.Kind == ConflictDuplicate {
		fmt.Fprintf(&b, "duplicate request for resource %s", c.ResourceID)
	} else {
		fmt.Fprintf(&b, "resource %s is already booked", c.ResourceID)
	}
	fmt.Fprintf(&b, " between %s and %s", c.Start.UTC().Format(time.RFC3339), c.End.UTC().Format(time.RFC3339))
	if c.OccurrenceIndex != nil {
		fmt.Fprintf(&b, " (occurrence %d)", *c.OccurrenceIndex)
	}
	if len(c.ConflictingIDs) > 0 {
		fmt.Fprintf(&b, ": conflicts with %s", strings.Join(c.ConflictingIDs, ", "))
	}
	return b.String()
}

// Is lets errors.Is(err, ErrConflict) match.
func (c *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StateError reports an operation that the entity's current state does not allow.
type StateError struct {
	Entity    string
	ID        string
	State     string
	Operation string
}

// Error implements the error interface.
func (s *StateError) Error() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("cannot %s %s %s in state %q", s.Operation, s.Entity, s.ID, s.State)
}

// Is lets errors.Is(err, ErrInvalidState) match.
func (s *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
