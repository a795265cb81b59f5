package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
)

var reservationCounter uint64

// referenceTime is a Monday morning well clear of any DST transition.
var referenceTime = time.Date(2030, time.March, 4, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the baseline instant used by fixtures and the default Clock.
func ReferenceTime() time.Time {
	return referenceTime
}

// Slot returns the window starting hours after ReferenceTime and lasting d.
func Slot(hours int, d time.Duration) (time.Time, time.Time) {
	start := referenceTime.Add(time.Duration(hours) * time.Hour)
	return start, start.Add(d)
}

// ReservationOption configures a reservation fixture.
type ReservationOption func(*persistence.Reservation)

// NewReservation returns an active one-hour reservation on "room-1" starting a day after
// ReferenceTime, with overrides applied.
func NewReservation(opts ...ReservationOption) persistence.Reservation {
	idx := atomic.AddUint64(&reservationCounter, 1)
	start, end := Slot(24, time.Hour)
	reservation := persistence.Reservation{
		ID:         fmt.Sprintf("res-fixture-%03d", idx),
		ResourceID: "room-1",
		UserID:     "user-1",
		Start:      start,
		End:        end,
		Status:     persistence.ReservationActive,
		CreatedAt:  referenceTime,
		UpdatedAt:  referenceTime,
	}
	for _, opt := range opts {
		opt(&reservation)
	}
	return reservation
}

// WithReservationID overrides the identifier.
func WithReservationID(id string) ReservationOption {
	return func(r *persistence.Reservation) { r.ID = id }
}

// WithResource overrides the resource.
func WithResource(resourceID string) ReservationOption {
	return func(r *persistence.Reservation) { r.ResourceID = resourceID }
}

// WithOwner overrides the booking user.
func WithOwner(userID string) ReservationOption {
	return func(r *persistence.Reservation) { r.UserID = userID }
}

// WithWindow overrides the reserved interval.
func WithWindow(start, end time.Time) ReservationOption {
	return func(r *persistence.Reservation) {
		r.Start = start.UTC()
		r.End = end.UTC()
	}
}

// WithStatus overrides the lifecycle state.
func WithStatus(status persistence.ReservationStatus) ReservationOption {
	return func(r *persistence.Reservation) { r.Status = status }
}

// SeedReservations writes the reservations to store in one transaction.
func SeedReservations(ctx context.Context, store persistence.Store, reservations ...persistence.Reservation) error {
	return store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		for _, reservation := range reservations {
			if err := tx.CreateReservation(ctx, reservation); err != nil {
				return fmt.Errorf("seed reservation %s: %w", reservation.ID, err)
			}
		}
		return nil
	})
}

// LoadReservation reads one reservation outside of any service.
func LoadReservation(ctx context.Context, store persistence.Store, id string) (persistence.Reservation, error) {
	var reservation persistence.Reservation
	err := store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		found, err := tx.GetReservation(ctx, id)
		reservation = found
		return err
	})
	return reservation, err
}

// LoadWaitlistEntry reads one waitlist entry outside of any service.
func LoadWaitlistEntry(ctx context.Context, store persistence.Store, id string) (persistence.WaitlistEntry, error) {
	var entry persistence.WaitlistEntry
	err := store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		found, err := tx.GetWaitlistEntry(ctx, id)
		entry = found
		return err
	})
	return entry, err
}

// CountReservations returns how many reservations match filter.
func CountReservations(ctx context.Context, store persistence.Store, filter persistence.ReservationFilter) (int, error) {
	var count int
	err := store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		found, err := tx.ListReservations(ctx, filter)
		count = len(found)
		return err
	})
	return count, err
}
