package persistence

import (
	"context"
	"time"
)

// ReservationFilter narrows reservation queries. Zero values match everything.
type ReservationFilter struct {
	ResourceID       string
	UserID           string
	RecurrenceRuleID string
	Statuses         []ReservationStatus
	// StartsBefore and EndsAfter together select reservations overlapping a window.
	StartsBefore *time.Time
	EndsAfter    *time.Time
}

// ReservationRepository stores reservations. Rows are never deleted.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, reservation Reservation) error
	UpdateReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
}

// RecurrenceRepository stores recurrence rules.
type RecurrenceRepository interface {
	CreateRecurrence(ctx context.Context, rule RecurrenceRule) error
	GetRecurrence(ctx context.Context, id string) (RecurrenceRule, error)
}

// EventRepository stores reservation history.
type EventRepository interface {
	AppendEvent(ctx context.Context, event ReservationEvent) error
	ListEvents(ctx context.Context, reservationID string) ([]ReservationEvent, error)
}

// WaitlistFilter narrows waitlist queries. Zero values match everything.
type WaitlistFilter struct {
	ResourceID string
	UserID     string
	Statuses   []WaitlistStatus
	// OfferExpiresBefore selects offered entries whose offer lapses at or before the instant.
	OfferExpiresBefore *time.Time
}

// WaitlistRepository stores waitlist entries. Listings are ordered by position, then creation.
type WaitlistRepository interface {
	CreateWaitlistEntry(ctx context.Context, entry WaitlistEntry) error
	UpdateWaitlistEntry(ctx context.Context, entry WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, id string) (WaitlistEntry, error)
	ListWaitlistEntries(ctx context.Context, filter WaitlistFilter) ([]WaitlistEntry, error)
}

// ApprovalFilter narrows approval queries. Zero values match everything.
type ApprovalFilter struct {
	ApproverID string
	ResourceID string
	Statuses   []ApprovalStatus
}

// ApprovalRepository stores approval requests and per-resource approval settings.
type ApprovalRepository interface {
	CreateApprovalRequest(ctx context.Context, request ApprovalRequest) error
	UpdateApprovalRequest(ctx context.Context, request ApprovalRequest) error
	GetApprovalRequest(ctx context.Context, id string) (ApprovalRequest, error)
	GetApprovalRequestByReservation(ctx context.Context, reservationID string) (ApprovalRequest, error)
	ListApprovalRequests(ctx context.Context, filter ApprovalFilter) ([]ApprovalRequest, error)

	GetApprovalSettings(ctx context.Context, resourceID string) (ResourceApprovalSettings, error)
	UpsertApprovalSettings(ctx context.Context, settings ResourceApprovalSettings) error
}

// Tx exposes every repository bound to a single transaction.
type Tx interface {
	ReservationRepository
	RecurrenceRepository
	EventRepository
	WaitlistRepository
	ApprovalRepository
}

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx Tx) error

// Store runs units of work atomically.
//
// WithTransaction serializes writers: a unit that reads reservations on a resource and then
// inserts one cannot interleave with another writer, so check-then-insert is atomic. The
// transaction rolls back when fn returns an error or panics and commits otherwise.
//
// WithReadOnlyTransaction runs fn against a consistent snapshot and never persists writes.
// Ping reports whether the store can serve requests.
type Store interface {
	WithTransaction(ctx context.Context, fn TxFunc) error
	WithReadOnlyTransaction(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close() error
}

// MatchesReservation reports whether reservation satisfies filter.
func (f ReservationFilter) MatchesReservation(reservation Reservation) bool {
	if f.ResourceID != "" && reservation.ResourceID != f.ResourceID {
		return false
	}
	if f.UserID != "" && reservation.UserID != f.UserID {
		return false
	}
	if f.RecurrenceRuleID != "" && (reservation.RecurrenceRuleID == nil || *reservation.RecurrenceRuleID != f.RecurrenceRuleID) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, reservation.Status) {
		return false
	}
	if f.StartsBefore != nil && !reservation.Start.Before(*f.StartsBefore) {
		return false
	}
	if f.EndsAfter != nil && !reservation.End.After(*f.EndsAfter) {
		return false
	}
	return true
}

// MatchesEntry reports whether entry satisfies filter.
func (f WaitlistFilter) MatchesEntry(entry WaitlistEntry) bool {
	if f.ResourceID != "" && entry.ResourceID != f.ResourceID {
		return false
	}
	if f.UserID != "" && entry.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, entry.Status) {
		return false
	}
	if f.OfferExpiresBefore != nil {
		if entry.Status != WaitlistOffered || entry.OfferExpiresAt == nil || entry.OfferExpiresAt.After(*f.OfferExpiresBefore) {
			return false
		}
	}
	return true
}

// MatchesRequest reports whether request satisfies filter.
func (f ApprovalFilter) MatchesRequest(request ApprovalRequest) bool {
	if f.ApproverID != "" && request.ApproverID != f.ApproverID {
		return false
	}
	if f.ResourceID != "" && request.ResourceID != f.ResourceID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, request.Status) {
		return false
	}
	return true
}

func containsStatus[S ~string](statuses []S, status S) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}
