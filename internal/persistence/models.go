package persistence

import "time"

// ReservationStatus enumerates the lifecycle states of a reservation.
type ReservationStatus string

const (
	ReservationActive          ReservationStatus = "active"
	ReservationPendingApproval ReservationStatus = "pending_approval"
	ReservationCancelled       ReservationStatus = "cancelled"
)

// Reservation is a booking of one resource over the half-open interval [Start, End).
type Reservation struct {
	ID                 string
	ResourceID         string
	UserID             string
	Start              time.Time
	End                time.Time
	Status             ReservationStatus
	RecurrenceRuleID   *string
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CancelledAt        *time.Time
}

// RecurrenceRule is the immutable pattern shared by a series of reservations.
type RecurrenceRule struct {
	ID              string
	Frequency       string
	Interval        int
	DaysOfWeek      []time.Weekday
	EndType         string
	OccurrenceCount *int
	EndDate         *time.Time
	CreatedAt       time.Time
}

// EventType labels an entry in a reservation's history.
type EventType string

const (
	EventCreated           EventType = "created"
	EventApprovalRequested EventType = "approval_requested"
	EventApproved          EventType = "approved"
	EventRejected          EventType = "rejected"
	EventCancelled         EventType = "cancelled"
	EventWaitlistAccepted  EventType = "waitlist_accepted"
	EventApprovalExpired   EventType = "approval_expired"
)

// ReservationEvent is an append-only lifecycle record.
type ReservationEvent struct {
	ID            string
	ReservationID string
	Type          EventType
	ActorID       string
	Detail        *string
	OccurredAt    time.Time
}

// WaitlistStatus enumerates the lifecycle states of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistOffered   WaitlistStatus = "offered"
	WaitlistAccepted  WaitlistStatus = "accepted"
	WaitlistCancelled WaitlistStatus = "cancelled"
	WaitlistExpired   WaitlistStatus = "expired"
)

// Terminal reports whether no further transitions are allowed.
func (s WaitlistStatus) Terminal() bool {
	return s == WaitlistAccepted || s == WaitlistCancelled || s == WaitlistExpired
}

// WaitlistEntry is a user's request to be offered a resource slot once it frees up.
type WaitlistEntry struct {
	ID             string
	ResourceID     string
	UserID         string
	DesiredStart   time.Time
	DesiredEnd     time.Time
	FlexibleTime   bool
	Status         WaitlistStatus
	Position       int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	OfferedAt      *time.Time
	OfferExpiresAt *time.Time
}

// ApprovalStatus enumerates the lifecycle states of an approval request.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// ApprovalRequest gates exactly one pending_approval reservation.
type ApprovalRequest struct {
	ID              string
	ReservationID   string
	ResourceID      string
	RequesterID     string
	ApproverID      string
	Status          ApprovalStatus
	RequestMessage  *string
	ResponseMessage *string
	CreatedAt       time.Time
	RespondedAt     *time.Time
}

// ResourceApprovalSettings decides whether bookings on a resource need approval.
type ResourceApprovalSettings struct {
	ResourceID        string
	RequiresApproval  bool
	DefaultApproverID *string
	UpdatedAt         time.Time
}
