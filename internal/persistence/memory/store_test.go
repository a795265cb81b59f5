package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
)

var reference = time.Date(2030, time.June, 3, 9, 0, 0, 0, time.UTC)

func reservation(id, resourceID string, startHour, endHour int) persistence.Reservation {
	return persistence.Reservation{
		ID:         id,
		ResourceID: resourceID,
		UserID:     "user-1",
		Start:      reference.Add(time.Duration(startHour) * time.Hour),
		End:        reference.Add(time.Duration(endHour) * time.Hour),
		Status:     persistence.ReservationActive,
		CreatedAt:  reference,
		UpdatedAt:  reference,
	}
}

func TestStore_WithTransaction(t *testing.T) {
	t.Parallel()

	t.Run("commits on success", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := New()

		err := store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
			return tx.CreateReservation(ctx, reservation("res-1", "room-1", 0, 1))
		})
		if err != nil {
			t.Fatalf("WithTransaction failed: %v", err)
		}

		err = store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
			_, err := tx.GetReservation(ctx, "res-1")
			return err
		})
		if err != nil {
			t.Fatalf("expected committed reservation, got %v", err)
		}
	})

	t.Run("rolls back on error", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := New()
		boom := errors.New("boom")

		err := store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
			if err := tx.CreateReservation(ctx, reservation("res-1", "room-1", 0, 1)); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		assertMissing(t, store, "res-1")
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := New()

		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic to propagate")
				}
			}()
			_ = store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
				_ = tx.CreateReservation(ctx, reservation("res-1", "room-1", 0, 1))
				panic("boom")
			})
		}()

		assertMissing(t, store, "res-1")
	})

	t.Run("read-only transactions reject writes", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := New()

		err := store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
			return tx.CreateReservation(ctx, reservation("res-1", "room-1", 0, 1))
		})
		if !errors.Is(err, persistence.ErrReadOnly) {
			t.Fatalf("expected ErrReadOnly, got %v", err)
		}
	})
}

func TestStore_Constraints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()

	err := store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		if err := tx.CreateReservation(ctx, reservation("res-1", "room-1", 0, 1)); err != nil {
			return err
		}
		if err := tx.CreateReservation(ctx, reservation("res-1", "room-1", 2, 3)); !errors.Is(err, persistence.ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
		if err := tx.CreateReservation(ctx, reservation("res-2", "room-1", 3, 2)); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Errorf("expected ErrConstraintViolation, got %v", err)
		}
		orphan := persistence.ReservationEvent{ID: "evt-1", ReservationID: "missing", Type: persistence.EventCreated, OccurredAt: reference}
		if err := tx.AppendEvent(ctx, orphan); !errors.Is(err, persistence.ErrForeignKeyViolation) {
			t.Errorf("expected ErrForeignKeyViolation, got %v", err)
		}
		request := persistence.ApprovalRequest{ID: "apr-1", ReservationID: "res-1", Status: persistence.ApprovalPending, CreatedAt: reference}
		if err := tx.CreateApprovalRequest(ctx, request); err != nil {
			return err
		}
		request.ID = "apr-2"
		if err := tx.CreateApprovalRequest(ctx, request); !errors.Is(err, persistence.ErrDuplicate) {
			t.Errorf("expected one approval per reservation, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}
}

func TestStore_ListOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	offerExpiry := reference.Add(-time.Minute)

	err := store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		for _, r := range []persistence.Reservation{
			reservation("res-b", "room-1", 4, 5),
			reservation("res-a", "room-1", 0, 1),
			reservation("res-c", "room-2", 0, 1),
		} {
			if err := tx.CreateReservation(ctx, r); err != nil {
				return err
			}
		}
		positions := map[string]int{"wl-1": 1, "wl-2": 2, "wl-3": 3}
		for _, id := range []string{"wl-3", "wl-1", "wl-2"} {
			entry := persistence.WaitlistEntry{
				ID:           id,
				ResourceID:   "room-1",
				UserID:       "user-1",
				DesiredStart: reference,
				DesiredEnd:   reference.Add(time.Hour),
				Status:       persistence.WaitlistWaiting,
				Position:     positions[id],
				CreatedAt:    reference,
			}
			if id == "wl-1" {
				entry.Status = persistence.WaitlistOffered
				entry.OfferExpiresAt = &offerExpiry
			}
			if err := tx.CreateWaitlistEntry(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_ = store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		windowEnd := reference.Add(2 * time.Hour)
		reservations, err := tx.ListReservations(ctx, persistence.ReservationFilter{ResourceID: "room-1"})
		if err != nil {
			t.Fatalf("ListReservations failed: %v", err)
		}
		if len(reservations) != 2 || reservations[0].ID != "res-a" || reservations[1].ID != "res-b" {
			t.Fatalf("unexpected reservation order: %+v", reservations)
		}

		overlapping, err := tx.ListReservations(ctx, persistence.ReservationFilter{ResourceID: "room-1", StartsBefore: &windowEnd, EndsAfter: &reference})
		if err != nil {
			t.Fatalf("ListReservations failed: %v", err)
		}
		if len(overlapping) != 1 || overlapping[0].ID != "res-a" {
			t.Fatalf("unexpected window filter result: %+v", overlapping)
		}

		entries, err := tx.ListWaitlistEntries(ctx, persistence.WaitlistFilter{ResourceID: "room-1"})
		if err != nil {
			t.Fatalf("ListWaitlistEntries failed: %v", err)
		}
		if len(entries) != 3 || entries[0].ID != "wl-1" || entries[2].ID != "wl-3" {
			t.Fatalf("unexpected waitlist order: %+v", entries)
		}

		lapsed, err := tx.ListWaitlistEntries(ctx, persistence.WaitlistFilter{OfferExpiresBefore: &reference})
		if err != nil {
			t.Fatalf("ListWaitlistEntries failed: %v", err)
		}
		if len(lapsed) != 1 || lapsed[0].ID != "wl-1" {
			t.Fatalf("unexpected lapsed offers: %+v", lapsed)
		}
		return nil
	})
}

func assertMissing(t *testing.T, store *Store, id string) {
	t.Helper()
	err := store.WithReadOnlyTransaction(context.Background(), func(ctx context.Context, tx persistence.Tx) error {
		_, err := tx.GetReservation(ctx, id)
		return err
	})
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected %s to be absent, got %v", id, err)
	}
}

func TestStore_Ping(t *testing.T) {
	store := New()
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Ping(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
