package testfixtures

import (
	"context"
	"testing"
	"time"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/persistence"
)

func TestServiceFactoryUsesDeterministicClockAndIDs(t *testing.T) {
	t.Parallel()

	factory := NewServiceFactory(WithIDGenerator(NewIDGenerator("res")))
	services := factory.NewServices(nil)

	start, end := Slot(2, time.Hour)
	reservation, err := services.Reservations.CreateReservation(context.Background(), application.CreateReservationParams{
		Principal: application.Principal{UserID: "user-1"},
		Input:     application.ReservationInput{ResourceID: "room-1", Start: start, End: end},
	})
	if err != nil {
		t.Fatalf("CreateReservation returned error: %v", err)
	}
	if reservation.ID != "res-1" {
		t.Fatalf("expected deterministic id res-1, got %q", reservation.ID)
	}
	if !reservation.CreatedAt.Equal(ReferenceTime()) {
		t.Fatalf("expected created_at %v, got %v", ReferenceTime(), reservation.CreatedAt)
	}
}

func TestSQLiteStoreSeedAndLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSQLiteStore(t)

	fixture := NewReservation(WithReservationID("seeded"), WithOwner("user-9"))
	if err := SeedReservations(ctx, store, fixture); err != nil {
		t.Fatalf("SeedReservations returned error: %v", err)
	}

	loaded, err := LoadReservation(ctx, store, "seeded")
	if err != nil {
		t.Fatalf("LoadReservation returned error: %v", err)
	}
	if loaded.UserID != "user-9" || !loaded.Start.Equal(fixture.Start) {
		t.Fatalf("unexpected reservation %+v", loaded)
	}

	count, err := CountReservations(ctx, store, persistence.ReservationFilter{ResourceID: "room-1"})
	if err != nil {
		t.Fatalf("CountReservations returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reservation, got %d", count)
	}
}
