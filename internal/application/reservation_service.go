package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/recurrence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

// ReservationService books, cancels and reads reservations.
type ReservationService struct {
	*core
	engine *recurrence.Engine
}

// NewReservationService wires dependencies for reservation operations. A nil engine expands
// recurrences in UTC with the default occurrence limit.
func NewReservationService(deps Dependencies, engine *recurrence.Engine) *ReservationService {
	if engine == nil {
		engine = recurrence.NewEngine(nil, 0)
	}
	return &ReservationService{core: newCore(deps), engine: engine}
}

func (s *ReservationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReservationService", operation, attrs...)
}

// CreateReservation books the window when it is free. The overlap check and the insert run
// in one transaction, so two overlapping requests never both succeed.
func (s *ReservationService) CreateReservation(ctx context.Context, params CreateReservationParams) (reservation Reservation, err error) {
	if s == nil {
		return Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	if err = s.ready(); err != nil {
		return Reservation{}, err
	}

	input := params.Input
	logger := s.loggerWith(ctx, "CreateReservation",
		"resource_id", input.ResourceID,
		"user_id", params.Principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "reservation create failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("reservation_id", reservation.ID).InfoContext(ctx, "reservation created")
	}()

	if vErr := validateWindowFields(input.ResourceID, input.Start, input.End, s.clock(), "start_time", "end_time"); vErr.HasErrors() {
		return Reservation{}, vErr
	}
	if err = s.authorize(ctx, params.Principal, input.ResourceID); err != nil {
		return Reservation{}, err
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		created, txErr := s.insertReservation(ctx, tx, newReservation{
			userID: params.Principal.UserID,
			input:  input,
			status: persistence.ReservationActive,
			event:  persistence.EventCreated,
		})
		if txErr != nil {
			return txErr
		}
		reservation = created
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return reservation, nil
}

// CancelReservation cancels an active or pending reservation owned by the principal and
// offers the freed window to the waitlist in the same transaction.
func (s *ReservationService) CancelReservation(ctx context.Context, params CancelReservationParams) (reservation Reservation, err error) {
	if s == nil {
		return Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	if err = s.ready(); err != nil {
		return Reservation{}, err
	}

	logger := s.loggerWith(ctx, "CancelReservation",
		"reservation_id", params.ReservationID,
		"user_id", params.Principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "reservation cancel failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reservation cancelled")
	}()

	if strings.TrimSpace(params.ReservationID) == "" {
		return Reservation{}, newValidationError("reservation_id", "reservation_id is required")
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		existing, txErr := tx.GetReservation(ctx, params.ReservationID)
		if txErr != nil {
			return mapRepoError(txErr)
		}
		if !ownsOrAdmin(params.Principal, existing.UserID) {
			return ErrForbidden
		}
		cancelled, txErr := s.cancelReservation(ctx, tx, existing, params.Principal.UserID, params.Reason, persistence.EventCancelled)
		if txErr != nil {
			return txErr
		}
		reservation = cancelled
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return reservation, nil
}

// GetReservation returns one reservation visible to the principal.
func (s *ReservationService) GetReservation(ctx context.Context, principal Principal, id string) (Reservation, error) {
	if s == nil {
		return Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	if err := s.ready(); err != nil {
		return Reservation{}, err
	}

	var reservation Reservation
	err := s.store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		found, err := tx.GetReservation(ctx, id)
		if err != nil {
			return mapRepoError(err)
		}
		reservation = found
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	if !ownsOrAdmin(principal, reservation.UserID) {
		return Reservation{}, ErrForbidden
	}
	return reservation, nil
}

// ListReservations returns reservations ordered by start time. Non-admin principals are
// limited to their own reservations.
func (s *ReservationService) ListReservations(ctx context.Context, params ListReservationsParams) ([]Reservation, error) {
	if s == nil {
		return nil, fmt.Errorf("ReservationService is nil")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	userID := params.UserID
	if !params.Principal.IsAdmin {
		if userID != "" && userID != params.Principal.UserID {
			return nil, ErrForbidden
		}
		userID = params.Principal.UserID
	}
	if params.From != nil && params.To != nil && !params.From.Before(*params.To) {
		return nil, newValidationError("to", "to must be after from")
	}

	filter := persistence.ReservationFilter{
		ResourceID:   params.ResourceID,
		UserID:       userID,
		Statuses:     params.Statuses,
		StartsBefore: params.To,
		EndsAfter:    params.From,
	}

	var reservations []Reservation
	err := s.store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		found, err := tx.ListReservations(ctx, filter)
		if err != nil {
			return err
		}
		reservations = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	sort.SliceStable(reservations, func(i, j int) bool {
		if reservations[i].Start.Equal(reservations[j].Start) {
			return reservations[i].ID < reservations[j].ID
		}
		return reservations[i].Start.Before(reservations[j].Start)
	})
	return reservations, nil
}

// History returns the lifecycle events of a reservation in the order they happened.
func (s *ReservationService) History(ctx context.Context, principal Principal, id string) ([]ReservationEvent, error) {
	if s == nil {
		return nil, fmt.Errorf("ReservationService is nil")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}

	var events []ReservationEvent
	err := s.store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		reservation, err := tx.GetReservation(ctx, id)
		if err != nil {
			return mapRepoError(err)
		}
		if !ownsOrAdmin(principal, reservation.UserID) {
			return ErrForbidden
		}
		events, err = tx.ListEvents(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// GetRecurrenceRule returns the rule of the series a reservation belongs to. A reservation
// outside any series is reported as ErrNotFound.
func (s *ReservationService) GetRecurrenceRule(ctx context.Context, principal Principal, reservationID string) (RecurrenceRule, error) {
	if s == nil {
		return RecurrenceRule{}, fmt.Errorf("ReservationService is nil")
	}
	if err := s.ready(); err != nil {
		return RecurrenceRule{}, err
	}

	var rule RecurrenceRule
	err := s.store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		reservation, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return mapRepoError(err)
		}
		if !ownsOrAdmin(principal, reservation.UserID) {
			return ErrForbidden
		}
		if reservation.RecurrenceRuleID == nil {
			return ErrNotFound
		}
		rule, err = tx.GetRecurrence(ctx, *reservation.RecurrenceRuleID)
		return mapRepoError(err)
	})
	if err != nil {
		return RecurrenceRule{}, err
	}
	return rule, nil
}

// CreateRecurringReservation expands the rule and books every occurrence, or none.
func (s *ReservationService) CreateRecurringReservation(ctx context.Context, params RecurringReservationParams) (result RecurringReservationResult, err error) {
	if s == nil {
		return RecurringReservationResult{}, fmt.Errorf("ReservationService is nil")
	}
	if err = s.ready(); err != nil {
		return RecurringReservationResult{}, err
	}

	input := params.Input
	logger := s.loggerWith(ctx, "CreateRecurringReservation",
		"resource_id", input.ResourceID,
		"user_id", params.Principal.UserID,
		"frequency", params.Rule.Frequency,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "recurring reservation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"recurrence_rule_id", result.Rule.ID,
			"occurrences", len(result.Reservations),
		).InfoContext(ctx, "recurring reservation created")
	}()

	vErr := validateWindowFields(input.ResourceID, input.Start, input.End, s.clock(), "start_time", "end_time")
	if ruleErr := params.Rule.Validate(); ruleErr != nil {
		var ruleFields *ValidationError
		if !errors.As(recurrenceValidationError(ruleErr), &ruleFields) {
			return RecurringReservationResult{}, recurrenceValidationError(ruleErr)
		}
		vErr.merge(ruleFields)
	}
	if vErr.HasErrors() {
		return RecurringReservationResult{}, vErr
	}

	occurrences, expandErr := s.engine.Expand(input.Start, input.End, params.Rule)
	if expandErr != nil {
		return RecurringReservationResult{}, recurrenceValidationError(expandErr)
	}

	windows := make([]scheduler.Window, len(occurrences))
	for i, occurrence := range occurrences {
		windows[i] = scheduler.Window{Start: occurrence.Start, End: occurrence.End}
	}
	if i, j, overlap := scheduler.FirstMutualOverlap(windows); overlap {
		return RecurringReservationResult{}, newValidationError("recurrence",
			fmt.Sprintf("occurrences %d and %d overlap; duration must be shorter than the repeat interval", i, j))
	}

	if err = s.authorize(ctx, params.Principal, input.ResourceID); err != nil {
		return RecurringReservationResult{}, err
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		settings, txErr := approvalSettings(ctx, tx, input.ResourceID)
		if txErr != nil {
			return txErr
		}
		if settings.RequiresApproval {
			return newValidationError("resource_id", "recurring reservations are not available on resources that require approval")
		}

		for _, occurrence := range occurrences {
			window := scheduler.Window{Start: occurrence.Start, End: occurrence.End}
			if txErr := s.checkConflict(ctx, tx, input.ResourceID, window, ""); txErr != nil {
				var conflict *ConflictError
				if errors.As(txErr, &conflict) {
					index := occurrence.Index
					conflict.OccurrenceIndex = &index
				}
				return txErr
			}
		}

		rule := recurrenceRecord(s.idGenerator(), params.Rule, s.engine.LastStart(params.Rule), s.clock())
		if txErr := tx.CreateRecurrence(ctx, rule); txErr != nil {
			return mapRepoError(txErr)
		}

		reservations := make([]Reservation, 0, len(occurrences))
		for _, occurrence := range occurrences {
			created, txErr := s.insertReservation(ctx, tx, newReservation{
				userID: params.Principal.UserID,
				input: ReservationInput{
					ResourceID: input.ResourceID,
					Start:      occurrence.Start,
					End:        occurrence.End,
				},
				status: persistence.ReservationActive,
				ruleID: &rule.ID,
				event:  persistence.EventCreated,
			})
			if txErr != nil {
				return txErr
			}
			reservations = append(reservations, created)
		}
		result = RecurringReservationResult{Rule: rule, Reservations: reservations}
		return nil
	})
	if err != nil {
		return RecurringReservationResult{}, err
	}
	return result, nil
}

func recurrenceRecord(id string, rule recurrence.Rule, lastStart, now time.Time) RecurrenceRule {
	record := RecurrenceRule{
		ID:         id,
		Frequency:  string(rule.Frequency),
		Interval:   rule.Interval,
		DaysOfWeek: append([]time.Weekday(nil), rule.DaysOfWeek...),
		EndType:    string(rule.EndType),
		CreatedAt:  now,
	}
	switch rule.EndType {
	case recurrence.EndAfterCount:
		count := rule.OccurrenceCount
		record.OccurrenceCount = &count
	case recurrence.EndOnDate:
		end := lastStart.UTC()
		record.EndDate = &end
	}
	return record
}

func recurrenceValidationError(err error) error {
	vErr := &ValidationError{}
	switch {
	case errors.Is(err, recurrence.ErrInvalidFrequency):
		vErr.add("recurrence.frequency", "frequency must be daily, weekly or monthly")
	case errors.Is(err, recurrence.ErrInvalidInterval):
		vErr.add("recurrence.interval", "interval must be at least 1")
	case errors.Is(err, recurrence.ErrInvalidDaysOfWeek):
		vErr.add("recurrence.days_of_week", "days_of_week must be 0-6 and only used with weekly frequency")
	case errors.Is(err, recurrence.ErrInvalidEnd):
		vErr.add("recurrence.end_type", "end condition requires occurrence_count >= 1 or an end_date")
	case errors.Is(err, recurrence.ErrInvalidDuration):
		vErr.add("end_time", "end_time must be after start_time")
	case errors.Is(err, recurrence.ErrNoOccurrences):
		vErr.add("recurrence.end_date", "end_date is before the first occurrence")
	case errors.Is(err, recurrence.ErrTooManyOccurrences):
		vErr.add("recurrence", err.Error())
	default:
		return fmt.Errorf("expand recurrence: %w", err)
	}
	return vErr
}
