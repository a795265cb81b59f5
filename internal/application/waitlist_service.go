package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

var liveWaitlistStatuses = []persistence.WaitlistStatus{persistence.WaitlistWaiting, persistence.WaitlistOffered}

// WaitlistService queues users for busy slots and turns freed slots into time-limited offers.
type WaitlistService struct {
	*core
}

// NewWaitlistService wires dependencies for waitlist operations.
func NewWaitlistService(deps Dependencies) *WaitlistService {
	return &WaitlistService{core: newCore(deps)}
}

func (s *WaitlistService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "WaitlistService", operation, attrs...)
}

// Join adds the principal to the queue for a slot. Positions within a slot start at 1 and are
// never renumbered; a user may hold only one live entry per slot.
func (s *WaitlistService) Join(ctx context.Context, params JoinWaitlistParams) (entry WaitlistEntry, err error) {
	if s == nil {
		return WaitlistEntry{}, fmt.Errorf("WaitlistService is nil")
	}
	if err = s.ready(); err != nil {
		return WaitlistEntry{}, err
	}

	logger := s.loggerWith(ctx, "Join",
		"resource_id", params.ResourceID,
		"user_id", params.Principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "waitlist join failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("entry_id", entry.ID, "position", entry.Position).InfoContext(ctx, "waitlist joined")
	}()

	now := s.clock()
	if vErr := validateWindowFields(params.ResourceID, params.DesiredStart, params.DesiredEnd, now, "desired_start", "desired_end"); vErr.HasErrors() {
		return WaitlistEntry{}, vErr
	}
	if err = s.authorize(ctx, params.Principal, params.ResourceID); err != nil {
		return WaitlistEntry{}, err
	}

	desired := scheduler.Window{Start: params.DesiredStart.UTC(), End: params.DesiredEnd.UTC()}
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		live, txErr := tx.ListWaitlistEntries(ctx, persistence.WaitlistFilter{
			ResourceID: params.ResourceID,
			Statuses:   liveWaitlistStatuses,
		})
		if txErr != nil {
			return fmt.Errorf("list waitlist for %s: %w", params.ResourceID, txErr)
		}

		highest := 0
		for _, other := range live {
			if !entryWindow(other).Equal(desired) {
				continue
			}
			if other.UserID == params.Principal.UserID {
				return &ConflictError{
					Kind:           ConflictDuplicate,
					ResourceID:     params.ResourceID,
					Start:          desired.Start,
					End:            desired.End,
					ConflictingIDs: []string{other.ID},
				}
			}
			if other.Position > highest {
				highest = other.Position
			}
		}

		entry = WaitlistEntry{
			ID:           s.idGenerator(),
			ResourceID:   params.ResourceID,
			UserID:       params.Principal.UserID,
			DesiredStart: desired.Start,
			DesiredEnd:   desired.End,
			FlexibleTime: params.FlexibleTime,
			Status:       persistence.WaitlistWaiting,
			Position:     highest + 1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return mapRepoError(tx.CreateWaitlistEntry(ctx, entry))
	})
	if err != nil {
		return WaitlistEntry{}, err
	}
	return entry, nil
}

// PromoteNext offers the freed window to the next eligible entry on the resource. It returns
// nil when nobody qualifies.
func (s *WaitlistService) PromoteNext(ctx context.Context, resourceID string, freed scheduler.Window) (*WaitlistEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("WaitlistService is nil")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	var offered *WaitlistEntry
	err := s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		entry, err := s.promoteNext(ctx, tx, resourceID, freed)
		offered = entry
		return err
	})
	if err != nil {
		return nil, err
	}
	return offered, nil
}

// Accept converts an open offer into an active reservation. An offer found past its
// expiry is marked expired before the StateError is returned.
func (s *WaitlistService) Accept(ctx context.Context, principal Principal, entryID string) (result AcceptOfferResult, err error) {
	if s == nil {
		return AcceptOfferResult{}, fmt.Errorf("WaitlistService is nil")
	}
	if err = s.ready(); err != nil {
		return AcceptOfferResult{}, err
	}

	logger := s.loggerWith(ctx, "Accept",
		"entry_id", entryID,
		"user_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "waitlist accept failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("reservation_id", result.Reservation.ID).InfoContext(ctx, "waitlist offer accepted")
	}()

	var lapsed *StateError
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		entry, txErr := tx.GetWaitlistEntry(ctx, entryID)
		if txErr != nil {
			return mapRepoError(txErr)
		}
		if !ownsOrAdmin(principal, entry.UserID) {
			return ErrForbidden
		}
		if entry.Status != persistence.WaitlistOffered || entry.OfferExpiresAt == nil {
			return &StateError{Entity: "waitlist entry", ID: entry.ID, State: string(entry.Status), Operation: "accept"}
		}

		now := s.clock()
		if !now.Before(*entry.OfferExpiresAt) {
			if txErr := s.expireOffer(ctx, tx, entry); txErr != nil {
				return txErr
			}
			lapsed = &StateError{Entity: "waitlist entry", ID: entry.ID, State: string(persistence.WaitlistExpired), Operation: "accept"}
			return nil
		}

		reservation, txErr := s.insertReservation(ctx, tx, newReservation{
			userID: entry.UserID,
			input: ReservationInput{
				ResourceID: entry.ResourceID,
				Start:      entry.DesiredStart,
				End:        entry.DesiredEnd,
			},
			status: persistence.ReservationActive,
			event:  persistence.EventWaitlistAccepted,
			detail: &entry.ID,
		})
		if txErr != nil {
			return txErr
		}

		entry.Status = persistence.WaitlistAccepted
		entry.UpdatedAt = now
		if txErr := tx.UpdateWaitlistEntry(ctx, entry); txErr != nil {
			return mapRepoError(txErr)
		}
		result = AcceptOfferResult{Entry: entry, Reservation: reservation}
		return nil
	})
	if err != nil {
		return AcceptOfferResult{}, err
	}
	if lapsed != nil {
		return AcceptOfferResult{}, lapsed
	}
	return result, nil
}

// Leave withdraws a non-terminal entry. Withdrawing an open offer passes the window on to
// the next eligible entry.
func (s *WaitlistService) Leave(ctx context.Context, principal Principal, entryID string) (entry WaitlistEntry, err error) {
	if s == nil {
		return WaitlistEntry{}, fmt.Errorf("WaitlistService is nil")
	}
	if err = s.ready(); err != nil {
		return WaitlistEntry{}, err
	}

	logger := s.loggerWith(ctx, "Leave",
		"entry_id", entryID,
		"user_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "waitlist leave failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("status", entry.Status).InfoContext(ctx, "waitlist left")
	}()

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		existing, txErr := tx.GetWaitlistEntry(ctx, entryID)
		if txErr != nil {
			return mapRepoError(txErr)
		}
		if !ownsOrAdmin(principal, existing.UserID) {
			return ErrForbidden
		}
		if existing.Status.Terminal() {
			if s.policy.IdempotentWaitlistLeave {
				entry = existing
				return nil
			}
			return &StateError{Entity: "waitlist entry", ID: existing.ID, State: string(existing.Status), Operation: "leave"}
		}

		wasOffered := existing.Status == persistence.WaitlistOffered
		existing.Status = persistence.WaitlistCancelled
		existing.UpdatedAt = s.clock()
		if txErr := tx.UpdateWaitlistEntry(ctx, existing); txErr != nil {
			return mapRepoError(txErr)
		}
		entry = existing

		if wasOffered {
			if _, txErr := s.promoteNext(ctx, tx, existing.ResourceID, entryWindow(existing)); txErr != nil {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		return WaitlistEntry{}, err
	}
	return entry, nil
}

// ExpireOffers marks every lapsed offer expired and promotes the next entry for each
// window. Running it again with nothing lapsed changes nothing.
func (s *WaitlistService) ExpireOffers(ctx context.Context) (expired int, err error) {
	if s == nil {
		return 0, fmt.Errorf("WaitlistService is nil")
	}
	if err = s.ready(); err != nil {
		return 0, err
	}

	logger := s.loggerWith(ctx, "ExpireOffers")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "offer expiry failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if expired > 0 {
			logger.InfoContext(ctx, "offers expired", "count", expired)
		}
	}()

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		now := s.clock()
		lapsed, txErr := tx.ListWaitlistEntries(ctx, persistence.WaitlistFilter{
			Statuses:           []persistence.WaitlistStatus{persistence.WaitlistOffered},
			OfferExpiresBefore: &now,
		})
		if txErr != nil {
			return fmt.Errorf("list lapsed offers: %w", txErr)
		}
		expired = 0
		for _, entry := range lapsed {
			if txErr := s.expireOffer(ctx, tx, entry); txErr != nil {
				return txErr
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

func (s *WaitlistService) expireOffer(ctx context.Context, tx persistence.Tx, entry WaitlistEntry) error {
	entry.Status = persistence.WaitlistExpired
	entry.UpdatedAt = s.clock()
	if err := tx.UpdateWaitlistEntry(ctx, entry); err != nil {
		return mapRepoError(err)
	}
	_, err := s.promoteNext(ctx, tx, entry.ResourceID, entryWindow(entry))
	return err
}

// GetEntry returns one entry visible to the principal.
func (s *WaitlistService) GetEntry(ctx context.Context, principal Principal, entryID string) (WaitlistEntry, error) {
	if s == nil {
		return WaitlistEntry{}, fmt.Errorf("WaitlistService is nil")
	}
	if err := s.ready(); err != nil {
		return WaitlistEntry{}, err
	}

	var entry WaitlistEntry
	err := s.store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		found, err := tx.GetWaitlistEntry(ctx, entryID)
		if err != nil {
			return mapRepoError(err)
		}
		entry = found
		return nil
	})
	if err != nil {
		return WaitlistEntry{}, err
	}
	if !ownsOrAdmin(principal, entry.UserID) {
		return WaitlistEntry{}, ErrForbidden
	}
	return entry, nil
}

// ListEntries returns entries ordered by position. Non-admin principals only see their own.
func (s *WaitlistService) ListEntries(ctx context.Context, params ListWaitlistParams) ([]WaitlistEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("WaitlistService is nil")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	filter := persistence.WaitlistFilter{
		ResourceID: strings.TrimSpace(params.ResourceID),
		Statuses:   params.Statuses,
	}
	if !params.Principal.IsAdmin {
		filter.UserID = params.Principal.UserID
	}

	var entries []WaitlistEntry
	err := s.store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		found, err := tx.ListWaitlistEntries(ctx, filter)
		if err != nil {
			return err
		}
		entries = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}
