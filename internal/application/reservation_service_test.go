package application_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/testfixtures"
)

func TestCreateReservationRejectsOverlap(t *testing.T) {
	t.Parallel()

	services, _ := newServices(t)
	ctx := context.Background()

	first := book(t, services, alice, input("room-1", 2, time.Hour))

	// 10:30-11:30 overlaps 10:00-11:00.
	start, _ := at(2, time.Hour)
	_, err := services.Reservations.CreateReservation(ctx, application.CreateReservationParams{
		Principal: bob,
		Input: application.ReservationInput{
			ResourceID: "room-1",
			Start:      start.Add(30 * time.Minute),
			End:        start.Add(90 * time.Minute),
		},
	})
	if !errors.Is(err, application.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var conflict *application.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %T", err)
	}
	if conflict.Kind != application.ConflictOverlap || !slices.Equal(conflict.ConflictingIDs, []string{first.ID}) {
		t.Fatalf("unexpected conflict detail %+v", conflict)
	}

	count, err := testfixtures.CountReservations(ctx, services.Store, persistence.ReservationFilter{ResourceID: "room-1"})
	if err != nil {
		t.Fatalf("CountReservations returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the first reservation to be stored, got %d", count)
	}
}

func TestCreateReservationAllowsBackToBackAndOtherResources(t *testing.T) {
	t.Parallel()

	services, _ := newServices(t)

	book(t, services, alice, input("room-1", 2, time.Hour))
	book(t, services, bob, input("room-1", 3, time.Hour))
	book(t, services, bob, input("room-2", 2, time.Hour))
}

func TestCreateReservationValidation(t *testing.T) {
	t.Parallel()

	services, clock := newServices(t)
	now := clock.Now()

	tests := []struct {
		name  string
		input application.ReservationInput
		field string
	}{
		{
			name:  "missing resource",
			input: application.ReservationInput{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)},
			field: "resource_id",
		},
		{
			name:  "inverted window",
			input: application.ReservationInput{ResourceID: "room-1", Start: now.Add(2 * time.Hour), End: now.Add(time.Hour)},
			field: "end_time",
		},
		{
			name:  "empty window",
			input: application.ReservationInput{ResourceID: "room-1", Start: now.Add(time.Hour), End: now.Add(time.Hour)},
			field: "end_time",
		},
		{
			name:  "starts in the past",
			input: application.ReservationInput{ResourceID: "room-1", Start: now.Add(-time.Hour), End: now.Add(time.Hour)},
			field: "start_time",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := services.Reservations.CreateReservation(context.Background(), application.CreateReservationParams{
				Principal: alice,
				Input:     tc.input,
			})
			requireValidationField(t, err, tc.field)
		})
	}
}

func TestCreateReservationHonoursAuthorizer(t *testing.T) {
	t.Parallel()

	services, _ := newServices(t, testfixtures.WithAuthorizer(denyAll{}))
	ctx := context.Background()

	_, err := services.Reservations.CreateReservation(ctx, application.CreateReservationParams{
		Principal: alice,
		Input:     input("room-1", 2, time.Hour),
	})
	if !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if _, err := services.Reservations.CreateReservation(ctx, application.CreateReservationParams{
		Principal: admin,
		Input:     input("room-1", 2, time.Hour),
	}); err != nil {
		t.Fatalf("expected admin to bypass authorizer, got %v", err)
	}
}

func TestCancelReservation(t *testing.T) {
	t.Parallel()

	services, _ := newServices(t)
	ctx := context.Background()

	reservation := book(t, services, alice, input("room-1", 2, time.Hour))

	_, err := services.Reservations.CancelReservation(ctx, application.CancelReservationParams{Principal: bob, ReservationID: reservation.ID})
	if !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}

	_, err = services.Reservations.CancelReservation(ctx, application.CancelReservationParams{Principal: alice, ReservationID: "missing"})
	if !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	cancelled, err := services.Reservations.CancelReservation(ctx, application.CancelReservationParams{
		Principal:     alice,
		ReservationID: reservation.ID,
		Reason:        "meeting moved",
	})
	if err != nil {
		t.Fatalf("CancelReservation returned error: %v", err)
	}
	if cancelled.Status != persistence.ReservationCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled reservation %+v", cancelled)
	}
	if cancelled.CancellationReason == nil || *cancelled.CancellationReason != "meeting moved" {
		t.Fatalf("expected reason to be recorded, got %v", cancelled.CancellationReason)
	}

	_, err = services.Reservations.CancelReservation(ctx, application.CancelReservationParams{Principal: alice, ReservationID: reservation.ID})
	var stateErr *application.StateError
	if !errors.As(err, &stateErr) || !errors.Is(err, application.ErrInvalidState) {
		t.Fatalf("expected state error on second cancel, got %v", err)
	}

	// The freed slot can be booked again.
	book(t, services, bob, input("room-1", 2, time.Hour))
}

func TestCancelReservationOffersWindowToWaitlist(t *testing.T) {
	t.Parallel()

	services, clock := newServices(t)
	ctx := context.Background()

	reservation := book(t, services, alice, input("room-1", 2, time.Hour))
	entry := join(t, services, bob, "room-1", 2, time.Hour, false)

	if _, err := services.Reservations.CancelReservation(ctx, application.CancelReservationParams{Principal: alice, ReservationID: reservation.ID}); err != nil {
		t.Fatalf("CancelReservation returned error: %v", err)
	}

	offered, err := testfixtures.LoadWaitlistEntry(ctx, services.Store, entry.ID)
	if err != nil {
		t.Fatalf("LoadWaitlistEntry returned error: %v", err)
	}
	if offered.Status != persistence.WaitlistOffered {
		t.Fatalf("expected entry to be offered, got %s", offered.Status)
	}
	if offered.OfferExpiresAt == nil || !offered.OfferExpiresAt.Equal(clock.Now().Add(application.DefaultOfferTTL)) {
		t.Fatalf("unexpected offer expiry %v", offered.OfferExpiresAt)
	}
}

func TestListReservationsScopesToOwner(t *testing.T) {
	t.Parallel()

	services, _ := newServices(t)
	ctx := context.Background()

	mine := book(t, services, alice, input("room-1", 2, time.Hour))
	book(t, services, bob, input("room-1", 4, time.Hour))

	got, err := services.Reservations.ListReservations(ctx, application.ListReservationsParams{Principal: alice})
	if err != nil {
		t.Fatalf("ListReservations returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != mine.ID {
		t.Fatalf("expected only alice's reservation, got %+v", got)
	}

	if _, err := services.Reservations.ListReservations(ctx, application.ListReservationsParams{Principal: alice, UserID: "bob"}); !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected forbidden when listing another user, got %v", err)
	}

	all, err := services.Reservations.ListReservations(ctx, application.ListReservationsParams{Principal: admin, ResourceID: "room-1"})
	if err != nil {
		t.Fatalf("ListReservations returned error: %v", err)
	}
	if len(all) != 2 || !all[0].Start.Before(all[1].Start) {
		t.Fatalf("expected two reservations ordered by start, got %+v", all)
	}

	from, to := at(3, 2*time.Hour)
	windowed, err := services.Reservations.ListReservations(ctx, application.ListReservationsParams{Principal: admin, From: &from, To: &to})
	if err != nil {
		t.Fatalf("ListReservations returned error: %v", err)
	}
	if len(windowed) != 1 || windowed[0].UserID != "bob" {
		t.Fatalf("expected only the reservation inside the window, got %+v", windowed)
	}
}

func TestGetReservationAndHistory(t *testing.T) {
	t.Parallel()

	services, _ := newServices(t)
	ctx := context.Background()

	reservation := book(t, services, alice, input("room-1", 2, time.Hour))

	if _, err := services.Reservations.GetReservation(ctx, bob, reservation.ID); !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := services.Reservations.GetReservation(ctx, alice, "missing"); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	got, err := services.Reservations.GetReservation(ctx, admin, reservation.ID)
	if err != nil || got.ID != reservation.ID {
		t.Fatalf("expected admin to read reservation, got %+v, %v", got, err)
	}

	if _, err := services.Reservations.CancelReservation(ctx, application.CancelReservationParams{Principal: alice, ReservationID: reservation.ID}); err != nil {
		t.Fatalf("CancelReservation returned error: %v", err)
	}

	events, err := services.Reservations.History(ctx, alice, reservation.ID)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	var types []persistence.EventType
	for _, event := range events {
		types = append(types, event.Type)
	}
	want := []persistence.EventType{persistence.EventCreated, persistence.EventCancelled}
	if !slices.Equal(types, want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
}

func TestCreateRecurringReservation(t *testing.T) {
	t.Parallel()

	services, _ := newServices(t)
	ctx := context.Background()

	result, err := services.Reservations.CreateRecurringReservation(ctx, application.RecurringReservationParams{
		Principal: alice,
		Input:     input("room-1", 2, time.Hour),
		Rule: recurrence.Rule{
			Frequency:       recurrence.FrequencyWeekly,
			Interval:        1,
			EndType:         recurrence.EndAfterCount,
			OccurrenceCount: 3,
		},
	})
	if err != nil {
		t.Fatalf("CreateRecurringReservation returned error: %v", err)
	}
	if len(result.Reservations) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(result.Reservations))
	}
	base, _ := at(2, time.Hour)
	for i, reservation := range result.Reservations {
		if reservation.RecurrenceRuleID == nil || *reservation.RecurrenceRuleID != result.Rule.ID {
			t.Fatalf("occurrence %d not linked to rule", i)
		}
		if want := base.AddDate(0, 0, 7*i); !reservation.Start.Equal(want) {
			t.Fatalf("occurrence %d starts %v, want %v", i, reservation.Start, want)
		}
	}
}

func TestCreateRecurringReservationIsAllOrNothing(t *testing.T) {
	t.Parallel()

	services, _ := newServices(t)
	ctx := context.Background()

	// Occupy the third daily occurrence.
	blocker := book(t, services, bob, input("room-1", 2+48, time.Hour))

	_, err := services.Reservations.CreateRecurringReservation(ctx, application.RecurringReservationParams{
		Principal: alice,
		Input:     input("room-1", 2, time.Hour),
		Rule: recurrence.Rule{
			Frequency:       recurrence.FrequencyDaily,
			Interval:        1,
			EndType:         recurrence.EndAfterCount,
			OccurrenceCount: 5,
		},
	})
	var conflict *application.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if conflict.OccurrenceIndex == nil || *conflict.OccurrenceIndex != 2 {
		t.Fatalf("expected occurrence index 2, got %v", conflict.OccurrenceIndex)
	}
	if !slices.Equal(conflict.ConflictingIDs, []string{blocker.ID}) {
		t.Fatalf("unexpected conflicting ids %v", conflict.ConflictingIDs)
	}

	count, err := testfixtures.CountReservations(ctx, services.Store, persistence.ReservationFilter{UserID: "alice"})
	if err != nil {
		t.Fatalf("CountReservations returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no occurrences to be written, got %d", count)
	}
}

func TestCreateRecurringReservationValidation(t *testing.T) {
	t.Parallel()

	services, _ := newServices(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		rule  recurrence.Rule
		d     time.Duration
		field string
	}{
		{
			name:  "unknown frequency",
			rule:  recurrence.Rule{Frequency: "yearly", Interval: 1, EndType: recurrence.EndAfterCount, OccurrenceCount: 2},
			d:     time.Hour,
			field: "recurrence.frequency",
		},
		{
			name:  "zero interval",
			rule:  recurrence.Rule{Frequency: recurrence.FrequencyDaily, EndType: recurrence.EndAfterCount, OccurrenceCount: 2},
			d:     time.Hour,
			field: "recurrence.interval",
		},
		{
			name:  "too many occurrences",
			rule:  recurrence.Rule{Frequency: recurrence.FrequencyDaily, Interval: 1, EndType: recurrence.EndAfterCount, OccurrenceCount: 1000},
			d:     time.Hour,
			field: "recurrence",
		},
		{
			name:  "occurrences overlap each other",
			rule:  recurrence.Rule{Frequency: recurrence.FrequencyDaily, Interval: 1, EndType: recurrence.EndAfterCount, OccurrenceCount: 2},
			d:     30 * time.Hour,
			field: "recurrence",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := services.Reservations.CreateRecurringReservation(ctx, application.RecurringReservationParams{
				Principal: alice,
				Input:     input("room-1", 2, tc.d),
				Rule:      tc.rule,
			})
			requireValidationField(t, err, tc.field)
		})
	}
}

func TestCreateRecurringReservationReportsWindowAndRuleErrorsTogether(t *testing.T) {
	t.Parallel()

	services, _ := newServices(t)
	start, _ := at(2, time.Hour)

	_, err := services.Reservations.CreateRecurringReservation(context.Background(), application.RecurringReservationParams{
		Principal: alice,
		Input:     application.ReservationInput{ResourceID: "room-1", Start: start, End: start.Add(-time.Hour)},
		Rule:      recurrence.Rule{Frequency: "yearly", Interval: 1, EndType: recurrence.EndAfterCount, OccurrenceCount: 2},
	})
	requireValidationField(t, err, "end_time")
	requireValidationField(t, err, "recurrence.frequency")
}

func TestCreateRecurringReservationRejectsApprovalResources(t *testing.T) {
	t.Parallel()

	services, _ := newServices(t)
	ctx := context.Background()

	if _, err := services.Approvals.ConfigureResource(ctx, application.ConfigureResourceParams{
		Principal:         admin,
		ResourceID:        "hall",
		RequiresApproval:  true,
		DefaultApproverID: "carol",
	}); err != nil {
		t.Fatalf("ConfigureResource returned error: %v", err)
	}

	_, err := services.Reservations.CreateRecurringReservation(ctx, application.RecurringReservationParams{
		Principal: alice,
		Input:     input("hall", 2, time.Hour),
		Rule:      recurrence.Rule{Frequency: recurrence.FrequencyDaily, Interval: 1, EndType: recurrence.EndAfterCount, OccurrenceCount: 2},
	})
	requireValidationField(t, err, "resource_id")
}

func TestConcurrentCreateOnSQLiteBooksOnce(t *testing.T) {
	t.Parallel()

	factory := testfixtures.NewServiceFactory(testfixtures.WithIDGenerator(testfixtures.NewIDGenerator("race")))
	services := factory.NewServices(testfixtures.NewSQLiteStore(t))
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := services.Reservations.CreateReservation(ctx, application.CreateReservationParams{
				Principal: alice,
				Input:     input("room-1", 2, time.Hour),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, application.ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected exactly one success, got %d successes and %d conflicts", successes, conflicts)
	}
}
