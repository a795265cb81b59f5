package application

import (
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/recurrence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Entity types are shared with the persistence layer.
type (
	Reservation              = persistence.Reservation
	ReservationEvent         = persistence.ReservationEvent
	RecurrenceRule           = persistence.RecurrenceRule
	WaitlistEntry            = persistence.WaitlistEntry
	ApprovalRequest          = persistence.ApprovalRequest
	ResourceApprovalSettings = persistence.ResourceApprovalSettings
)

// ReservationInput captures caller provided reservation fields.
type ReservationInput struct {
	ResourceID string
	Start      time.Time
	End        time.Time
	// RequestMessage is forwarded to the approver when the resource requires approval.
	RequestMessage string
}

// CreateReservationParams wraps the data required to create a reservation.
type CreateReservationParams struct {
	Principal Principal
	Input     ReservationInput
}

// CreateReservationResult is returned by the approval-aware entry point.
// Approval is nil when the reservation became active immediately.
type CreateReservationResult struct {
	Reservation Reservation
	Approval    *ApprovalRequest
}

// CancelReservationParams identifies the reservation to cancel.
type CancelReservationParams struct {
	Principal     Principal
	ReservationID string
	Reason        string
}

// ListReservationsParams filters reservation listings. Non-admins only see their own.
type ListReservationsParams struct {
	Principal  Principal
	ResourceID string
	UserID     string
	From       *time.Time
	To         *time.Time
	Statuses   []persistence.ReservationStatus
}

// RecurringReservationParams describes a series to create atomically.
type RecurringReservationParams struct {
	Principal Principal
	Input     ReservationInput
	Rule      recurrence.Rule
}

// RecurringReservationResult carries the persisted rule and its occurrences.
type RecurringReservationResult struct {
	Rule         RecurrenceRule
	Reservations []Reservation
}

// JoinWaitlistParams describes a waitlist request.
type JoinWaitlistParams struct {
	Principal    Principal
	ResourceID   string
	DesiredStart time.Time
	DesiredEnd   time.Time
	FlexibleTime bool
}

// ListWaitlistParams filters waitlist listings. Non-admins only see their own.
type ListWaitlistParams struct {
	Principal  Principal
	ResourceID string
	Statuses   []persistence.WaitlistStatus
}

// AcceptOfferResult is returned when an offer converts into a reservation.
type AcceptOfferResult struct {
	Entry       WaitlistEntry
	Reservation Reservation
}

// ApprovalAction is the approver's decision.
type ApprovalAction string

const (
	ActionApprove ApprovalAction = "approve"
	ActionReject  ApprovalAction = "reject"
)

// RespondParams carries an approver decision.
type RespondParams struct {
	Principal       Principal
	ApprovalID      string
	Action          ApprovalAction
	ResponseMessage string
}

// RespondResult carries the updated request and reservation.
type RespondResult struct {
	Approval    ApprovalRequest
	Reservation Reservation
}

// ConfigureResourceParams upserts approval settings for a resource.
type ConfigureResourceParams struct {
	Principal         Principal
	ResourceID        string
	RequiresApproval  bool
	DefaultApproverID string
}

// BulkOutcome is the per-item result of a bulk operation.
type BulkOutcome string

const (
	OutcomeCreated   BulkOutcome = "created"
	OutcomeCancelled BulkOutcome = "cancelled"
	OutcomeValid     BulkOutcome = "valid"
	OutcomeFailed    BulkOutcome = "failed"
	OutcomeSkipped   BulkOutcome = "skipped"
)

// BulkItemResult reports what happened to one item of a batch.
type BulkItemResult struct {
	Index         int
	Outcome       BulkOutcome
	ReservationID string
	Status        persistence.ReservationStatus
	Err           error
}

// BulkResult aggregates a batch. Items are in input order.
type BulkResult struct {
	DryRun  bool
	Success int
	Failed  int
	Skipped int
	Items   []BulkItemResult
}

// BulkValidation is the outcome of a preflight check.
type BulkValidation struct {
	Valid bool
	Items []BulkItemResult
}

func (r *BulkResult) record(item BulkItemResult) {
	switch item.Outcome {
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Success++
	}
	r.Items = append(r.Items, item)
}
