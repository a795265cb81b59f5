package testfixtures

import (
	"io"
	"log/slog"
	"time"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/persistence/memory"
	"github.com/example/resource-scheduler/internal/recurrence"
)

// Services bundles every application service built on one store.
type Services struct {
	Store        persistence.Store
	Reservations *application.ReservationService
	Waitlist     *application.WaitlistService
	Approvals    *application.ApprovalService
	Bulk         *application.BulkService
}

// ServiceFactory builds services with a deterministic clock and identifiers.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Policy      application.Policy
	Authorizer  application.ResourceAuthorizer
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithPolicy overrides the service policy.
func WithPolicy(policy application.Policy) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Policy = policy
	}
}

// WithAuthorizer overrides the resource authorizer.
func WithAuthorizer(authorizer application.ResourceAuthorizer) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Authorizer = authorizer
	}
}

// Dependencies returns the service dependencies for store.
func (f *ServiceFactory) Dependencies(store persistence.Store) application.Dependencies {
	return application.Dependencies{
		Store:       store,
		Authorizer:  f.Authorizer,
		Policy:      f.Policy,
		IDGenerator: f.IDGenerator.NextFunc(),
		Now:         f.Clock.NowFunc(),
		Logger:      f.Logger,
	}
}

// NewServices wires every service on store. A nil store gets a fresh in-memory store.
func (f *ServiceFactory) NewServices(store persistence.Store) *Services {
	if store == nil {
		store = memory.New()
	}
	deps := f.Dependencies(store)
	reservations := application.NewReservationService(deps, recurrence.NewEngine(time.UTC, 0))
	approvals := application.NewApprovalService(deps)
	return &Services{
		Store:        store,
		Reservations: reservations,
		Waitlist:     application.NewWaitlistService(deps),
		Approvals:    approvals,
		Bulk:         application.NewBulkService(deps, approvals, reservations),
	}
}
