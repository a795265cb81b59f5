package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

const (
	// DefaultOfferTTL is how long a waitlist offer stays open when no TTL is configured.
	DefaultOfferTTL = 30 * time.Minute
	// DefaultMaxBatchSize bounds bulk requests when no limit is configured.
	DefaultMaxBatchSize = 100
)

// ResourceAuthorizer decides whether a principal may book or administer a resource.
type ResourceAuthorizer interface {
	CanUseResource(ctx context.Context, principal Principal, resourceID string) (bool, error)
}

// AllowAll authorizes every principal for every resource.
type AllowAll struct{}

// CanUseResource implements ResourceAuthorizer.
func (AllowAll) CanUseResource(context.Context, Principal, string) (bool, error) {
	return true, nil
}

// Policy holds the behaviors that deployments may tune.
type Policy struct {
	// PendingBlocksConflicts makes pending_approval reservations block overlapping bookings.
	PendingBlocksConflicts bool
	// IdempotentWaitlistLeave returns terminal entries unchanged instead of failing.
	IdempotentWaitlistLeave bool
	OfferTTL                time.Duration
	MaxBatchSize            int
}

// Dependencies are shared by every service constructor.
type Dependencies struct {
	Store       persistence.Store
	Authorizer  ResourceAuthorizer
	Policy      Policy
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

type core struct {
	store       persistence.Store
	authorizer  ResourceAuthorizer
	policy      Policy
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

func newCore(deps Dependencies) *core {
	c := &core{
		store:       deps.Store,
		authorizer:  deps.Authorizer,
		policy:      deps.Policy,
		idGenerator: deps.IDGenerator,
		now:         deps.Now,
		logger:      defaultLogger(deps.Logger),
	}
	if c.authorizer == nil {
		c.authorizer = AllowAll{}
	}
	if c.idGenerator == nil {
		c.idGenerator = uuid.NewString
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.policy.OfferTTL <= 0 {
		c.policy.OfferTTL = DefaultOfferTTL
	}
	if c.policy.MaxBatchSize <= 0 {
		c.policy.MaxBatchSize = DefaultMaxBatchSize
	}
	return c
}

func (c *core) ready() error {
	if c == nil || c.store == nil {
		return fmt.Errorf("store not configured")
	}
	return nil
}

func (c *core) clock() time.Time {
	return c.now().UTC()
}

func (c *core) authorize(ctx context.Context, principal Principal, resourceID string) error {
	if strings.TrimSpace(principal.UserID) == "" {
		return ErrForbidden
	}
	if principal.IsAdmin {
		return nil
	}
	ok, err := c.authorizer.CanUseResource(ctx, principal, resourceID)
	if err != nil {
		return fmt.Errorf("authorize resource %s: %w", resourceID, err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func ownsOrAdmin(principal Principal, ownerID string) bool {
	return principal.IsAdmin || (principal.UserID != "" && principal.UserID == ownerID)
}

// validateWindowFields checks a requested window and reports problems under the given field names.
func validateWindowFields(resourceID string, start, end, now time.Time, startField, endField string) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(resourceID) == "" {
		vErr.add("resource_id", "resource_id is required")
	}
	if start.IsZero() {
		vErr.add(startField, startField+" is required")
	}
	if end.IsZero() {
		vErr.add(endField, endField+" is required")
	}
	if vErr.HasErrors() {
		return vErr
	}
	switch err := scheduler.ValidateWindow(start, end, now); {
	case errors.Is(err, scheduler.ErrInvalidWindow):
		vErr.add(endField, endField+" must be after "+startField)
	case errors.Is(err, scheduler.ErrWindowInPast):
		vErr.add(startField, startField+" must not be in the past")
	}
	return vErr
}

func (c *core) blockingStatuses() []persistence.ReservationStatus {
	if c.policy.PendingBlocksConflicts {
		return []persistence.ReservationStatus{persistence.ReservationActive, persistence.ReservationPendingApproval}
	}
	return []persistence.ReservationStatus{persistence.ReservationActive}
}

func (c *core) blocks(status persistence.ReservationStatus) bool {
	for _, s := range c.blockingStatuses() {
		if s == status {
			return true
		}
	}
	return false
}

// blockingBookings loads the reservations on resourceID that block window.
func (c *core) blockingBookings(ctx context.Context, tx persistence.Tx, resourceID string, window scheduler.Window) ([]scheduler.Booking, error) {
	start, end := window.Start, window.End
	reservations, err := tx.ListReservations(ctx, persistence.ReservationFilter{
		ResourceID:   resourceID,
		Statuses:     c.blockingStatuses(),
		StartsBefore: &end,
		EndsAfter:    &start,
	})
	if err != nil {
		return nil, fmt.Errorf("list reservations for %s: %w", resourceID, err)
	}
	bookings := make([]scheduler.Booking, 0, len(reservations))
	for _, r := range reservations {
		bookings = append(bookings, bookingOf(r))
	}
	return bookings, nil
}

// checkConflict returns a *ConflictError when window collides with a blocking reservation.
func (c *core) checkConflict(ctx context.Context, tx persistence.Tx, resourceID string, window scheduler.Window, excludeID string) error {
	bookings, err := c.blockingBookings(ctx, tx, resourceID, window)
	if err != nil {
		return err
	}
	if conflicts := scheduler.DetectConflicts(bookings, window, excludeID); len(conflicts) > 0 {
		return &ConflictError{
			Kind:           ConflictOverlap,
			ResourceID:     resourceID,
			Start:          window.Start,
			End:            window.End,
			ConflictingIDs: scheduler.IDs(conflicts),
		}
	}
	return nil
}

func bookingOf(r Reservation) scheduler.Booking {
	return scheduler.Booking{ID: r.ID, ResourceID: r.ResourceID, Start: r.Start, End: r.End}
}

func windowOf(r Reservation) scheduler.Window {
	return scheduler.Window{Start: r.Start, End: r.End}
}

func entryWindow(e WaitlistEntry) scheduler.Window {
	return scheduler.Window{Start: e.DesiredStart, End: e.DesiredEnd}
}

// approvalSettings returns the settings for resourceID, or zero settings when none were configured.
func approvalSettings(ctx context.Context, tx persistence.Tx, resourceID string) (ResourceApprovalSettings, error) {
	settings, err := tx.GetApprovalSettings(ctx, resourceID)
	if errors.Is(err, persistence.ErrNotFound) {
		return ResourceApprovalSettings{ResourceID: resourceID}, nil
	}
	if err != nil {
		return ResourceApprovalSettings{}, fmt.Errorf("load approval settings for %s: %w", resourceID, err)
	}
	return settings, nil
}

type newReservation struct {
	userID string
	input  ReservationInput
	status persistence.ReservationStatus
	ruleID *string
	event  persistence.EventType
	detail *string
}

// insertReservation checks for conflicts, then writes the reservation and its creation event.
func (c *core) insertReservation(ctx context.Context, tx persistence.Tx, req newReservation) (Reservation, error) {
	window := scheduler.Window{Start: req.input.Start, End: req.input.End}
	if err := c.checkConflict(ctx, tx, req.input.ResourceID, window, ""); err != nil {
		return Reservation{}, err
	}

	now := c.clock()
	reservation := Reservation{
		ID:               c.idGenerator(),
		ResourceID:       req.input.ResourceID,
		UserID:           req.userID,
		Start:            req.input.Start.UTC(),
		End:              req.input.End.UTC(),
		Status:           req.status,
		RecurrenceRuleID: req.ruleID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.CreateReservation(ctx, reservation); err != nil {
		return Reservation{}, mapRepoError(err)
	}
	if err := c.appendEvent(ctx, tx, reservation.ID, req.event, req.userID, req.detail); err != nil {
		return Reservation{}, err
	}
	return reservation, nil
}

func (c *core) appendEvent(ctx context.Context, tx persistence.Tx, reservationID string, eventType persistence.EventType, actorID string, detail *string) error {
	event := ReservationEvent{
		ID:            c.idGenerator(),
		ReservationID: reservationID,
		Type:          eventType,
		ActorID:       actorID,
		Detail:        detail,
		OccurredAt:    c.clock(),
	}
	if err := tx.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, mapRepoError(err))
	}
	return nil
}

// cancelReservation moves an active or pending reservation to cancelled, closes its pending
// approval and offers the freed window to the waitlist when the reservation was blocking.
func (c *core) cancelReservation(ctx context.Context, tx persistence.Tx, reservation Reservation, actorID, reason string, eventType persistence.EventType) (Reservation, error) {
	if reservation.Status == persistence.ReservationCancelled {
		return Reservation{}, &StateError{
			Entity:    "reservation",
			ID:        reservation.ID,
			State:     string(reservation.Status),
			Operation: "cancel",
		}
	}
	wasBlocking := c.blocks(reservation.Status)
	wasPending := reservation.Status == persistence.ReservationPendingApproval

	now := c.clock()
	reservation.Status = persistence.ReservationCancelled
	reservation.UpdatedAt = now
	reservation.CancelledAt = &now
	if reason = strings.TrimSpace(reason); reason != "" {
		reservation.CancellationReason = &reason
	}
	if err := tx.UpdateReservation(ctx, reservation); err != nil {
		return Reservation{}, mapRepoError(err)
	}
	if err := c.appendEvent(ctx, tx, reservation.ID, eventType, actorID, reservation.CancellationReason); err != nil {
		return Reservation{}, err
	}

	if wasPending {
		request, err := tx.GetApprovalRequestByReservation(ctx, reservation.ID)
		switch {
		case errors.Is(err, persistence.ErrNotFound):
		case err != nil:
			return Reservation{}, fmt.Errorf("load approval for %s: %w", reservation.ID, err)
		case request.Status == persistence.ApprovalPending:
			request.Status = persistence.ApprovalCancelled
			request.RespondedAt = &now
			if err := tx.UpdateApprovalRequest(ctx, request); err != nil {
				return Reservation{}, mapRepoError(err)
			}
		}
	}

	if wasBlocking {
		if _, err := c.promoteNext(ctx, tx, reservation.ResourceID, windowOf(reservation)); err != nil {
			return Reservation{}, err
		}
	}
	return reservation, nil
}

// promoteNext offers freed to the lowest-position compatible waiting entry on resourceID.
// Non-flexible entries need an exact window match, flexible ones an overlapping window. The
// entry's own window must be free and must not overlap an outstanding offer. It returns nil
// when nobody is eligible.
func (c *core) promoteNext(ctx context.Context, tx persistence.Tx, resourceID string, freed scheduler.Window) (*WaitlistEntry, error) {
	entries, err := tx.ListWaitlistEntries(ctx, persistence.WaitlistFilter{
		ResourceID: resourceID,
		Statuses:   []persistence.WaitlistStatus{persistence.WaitlistWaiting, persistence.WaitlistOffered},
	})
	if err != nil {
		return nil, fmt.Errorf("list waitlist for %s: %w", resourceID, err)
	}

	now := c.clock()
	var outstanding []scheduler.Window
	for _, entry := range entries {
		if entry.Status == persistence.WaitlistOffered && entry.OfferExpiresAt != nil && now.Before(*entry.OfferExpiresAt) {
			outstanding = append(outstanding, entryWindow(entry))
		}
	}

	for _, entry := range entries {
		if entry.Status != persistence.WaitlistWaiting {
			continue
		}
		desired := entryWindow(entry)
		if !desired.Start.After(now) {
			continue
		}
		if entry.FlexibleTime {
			if !desired.Overlaps(freed) {
				continue
			}
		} else if !desired.Equal(freed) {
			continue
		}
		if overlapsAny(desired, outstanding) {
			continue
		}
		if err := c.checkConflict(ctx, tx, resourceID, desired, ""); err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				continue
			}
			return nil, err
		}

		expires := now.Add(c.policy.OfferTTL)
		entry.Status = persistence.WaitlistOffered
		entry.OfferedAt = &now
		entry.OfferExpiresAt = &expires
		entry.UpdatedAt = now
		if err := tx.UpdateWaitlistEntry(ctx, entry); err != nil {
			return nil, mapRepoError(err)
		}
		serviceLogger(ctx, c.logger, "WaitlistService", "PromoteNext").InfoContext(ctx, "waitlist offer issued",
			"entry_id", entry.ID,
			"resource_id", resourceID,
			"offer_expires_at", expires,
		)
		return &entry, nil
	}
	return nil, nil
}

func overlapsAny(window scheduler.Window, others []scheduler.Window) bool {
	for _, other := range others {
		if window.Overlaps(other) {
			return true
		}
	}
	return false
}

// mapRepoError translates persistence sentinels into service errors.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		return fmt.Errorf("%w: referenced record missing", ErrNotFound)
	default:
		return err
	}
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
