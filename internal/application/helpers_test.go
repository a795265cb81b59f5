package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/testfixtures"
)

var (
	alice = application.Principal{UserID: "alice"}
	bob   = application.Principal{UserID: "bob"}
	carol = application.Principal{UserID: "carol"}
	admin = application.Principal{UserID: "root", IsAdmin: true}
)

func newServices(t *testing.T, opts ...testfixtures.ServiceFactoryOption) (*testfixtures.Services, *testfixtures.Clock) {
	t.Helper()
	factory := testfixtures.NewServiceFactory(opts...)
	return factory.NewServices(nil), factory.Clock
}

// at returns the window starting hours after the reference time.
func at(hours int, d time.Duration) (time.Time, time.Time) {
	return testfixtures.Slot(hours, d)
}

func input(resourceID string, hours int, d time.Duration) application.ReservationInput {
	start, end := at(hours, d)
	return application.ReservationInput{ResourceID: resourceID, Start: start, End: end}
}

func book(t *testing.T, services *testfixtures.Services, principal application.Principal, in application.ReservationInput) application.Reservation {
	t.Helper()
	reservation, err := services.Reservations.CreateReservation(context.Background(), application.CreateReservationParams{
		Principal: principal,
		Input:     in,
	})
	if err != nil {
		t.Fatalf("CreateReservation returned error: %v", err)
	}
	return reservation
}

func join(t *testing.T, services *testfixtures.Services, principal application.Principal, resourceID string, hours int, d time.Duration, flexible bool) application.WaitlistEntry {
	t.Helper()
	start, end := at(hours, d)
	entry, err := services.Waitlist.Join(context.Background(), application.JoinWaitlistParams{
		Principal:    principal,
		ResourceID:   resourceID,
		DesiredStart: start,
		DesiredEnd:   end,
		FlexibleTime: flexible,
	})
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	return entry
}

func requireValidationField(t *testing.T, err error, field string) {
	t.Helper()
	var vErr *application.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := vErr.FieldErrors[field]; !ok {
		t.Fatalf("expected field %q in %v", field, vErr.FieldErrors)
	}
}

type denyAll struct{}

func (denyAll) CanUseResource(context.Context, application.Principal, string) (bool, error) {
	return false, nil
}
