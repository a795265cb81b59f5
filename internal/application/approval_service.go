package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/resource-scheduler/internal/persistence"
)

const approvalExpiredReason = "approval expired"

// ApprovalService is the public booking entry point. It holds reservations on gated
// resources in pending_approval until the designated approver responds.
type ApprovalService struct {
	*core
}

// NewApprovalService wires dependencies for approval operations.
func NewApprovalService(deps Dependencies) *ApprovalService {
	return &ApprovalService{core: newCore(deps)}
}

func (s *ApprovalService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ApprovalService", operation, attrs...)
}

// CreateReservation books the window directly, or as pending_approval with an approval
// request when the resource requires approval. Both paths check conflicts first.
func (s *ApprovalService) CreateReservation(ctx context.Context, params CreateReservationParams) (result CreateReservationResult, err error) {
	if s == nil {
		return CreateReservationResult{}, fmt.Errorf("ApprovalService is nil")
	}
	if err = s.ready(); err != nil {
		return CreateReservationResult{}, err
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
		logger.With(
			"reservation_id", result.Reservation.ID,
			"status", result.Reservation.Status,
		).InfoContext(ctx, "reservation created")
	}()

	if vErr := validateWindowFields(input.ResourceID, input.Start, input.End, s.clock(), "start_time", "end_time"); vErr.HasErrors() {
		return CreateReservationResult{}, vErr
	}
	if err = s.authorize(ctx, params.Principal, input.ResourceID); err != nil {
		return CreateReservationResult{}, err
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		created, txErr := s.createInTx(ctx, tx, params.Principal, input)
		if txErr != nil {
			return txErr
		}
		result = created
		return nil
	})
	if err != nil {
		return CreateReservationResult{}, err
	}
	return result, nil
}

func (s *ApprovalService) createInTx(ctx context.Context, tx persistence.Tx, principal Principal, input ReservationInput) (CreateReservationResult, error) {
	settings, err := approvalSettings(ctx, tx, input.ResourceID)
	if err != nil {
		return CreateReservationResult{}, err
	}

	if !settings.RequiresApproval {
		reservation, err := s.insertReservation(ctx, tx, newReservation{
			userID: principal.UserID,
			input:  input,
			status: persistence.ReservationActive,
			event:  persistence.EventCreated,
		})
		if err != nil {
			return CreateReservationResult{}, err
		}
		return CreateReservationResult{Reservation: reservation}, nil
	}

	if settings.DefaultApproverID == nil || *settings.DefaultApproverID == "" {
		return CreateReservationResult{}, fmt.Errorf("resource %s requires approval but has no approver", input.ResourceID)
	}

	message := optionalString(input.RequestMessage)
	reservation, err := s.insertReservation(ctx, tx, newReservation{
		userID: principal.UserID,
		input:  input,
		status: persistence.ReservationPendingApproval,
		event:  persistence.EventApprovalRequested,
		detail: message,
	})
	if err != nil {
		return CreateReservationResult{}, err
	}

	request := ApprovalRequest{
		ID:             s.idGenerator(),
		ReservationID:  reservation.ID,
		ResourceID:     reservation.ResourceID,
		RequesterID:    principal.UserID,
		ApproverID:     *settings.DefaultApproverID,
		Status:         persistence.ApprovalPending,
		RequestMessage: message,
		CreatedAt:      s.clock(),
	}
	if err := tx.CreateApprovalRequest(ctx, request); err != nil {
		return CreateReservationResult{}, mapRepoError(err)
	}
	return CreateReservationResult{Reservation: reservation, Approval: &request}, nil
}

// Respond records the approver's decision. Approval re-checks conflicts before activating
// the reservation; rejection cancels it.
func (s *ApprovalService) Respond(ctx context.Context, params RespondParams) (result RespondResult, err error) {
	if s == nil {
		return RespondResult{}, fmt.Errorf("ApprovalService is nil")
	}
	if err = s.ready(); err != nil {
		return RespondResult{}, err
	}

	logger := s.loggerWith(ctx, "Respond",
		"approval_id", params.ApprovalID,
		"approver_id", params.Principal.UserID,
		"action", params.Action,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "approval response failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"reservation_id", result.Reservation.ID,
			"status", result.Approval.Status,
		).InfoContext(ctx, "approval responded")
	}()

	if params.Action != ActionApprove && params.Action != ActionReject {
		return RespondResult{}, newValidationError("action", "action must be approve or reject")
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		request, txErr := tx.GetApprovalRequest(ctx, params.ApprovalID)
		if txErr != nil {
			return mapRepoError(txErr)
		}
		if params.Principal.UserID == "" || request.ApproverID != params.Principal.UserID {
			return ErrForbidden
		}
		if request.Status != persistence.ApprovalPending {
			return &StateError{Entity: "approval request", ID: request.ID, State: string(request.Status), Operation: "respond to"}
		}

		reservation, txErr := tx.GetReservation(ctx, request.ReservationID)
		if txErr != nil {
			return fmt.Errorf("load reservation %s: %w", request.ReservationID, txErr)
		}

		now := s.clock()
		request.RespondedAt = &now
		request.ResponseMessage = optionalString(params.ResponseMessage)

		switch params.Action {
		case ActionApprove:
			if txErr := s.checkConflict(ctx, tx, reservation.ResourceID, windowOf(reservation), reservation.ID); txErr != nil {
				return txErr
			}
			reservation.Status = persistence.ReservationActive
			reservation.UpdatedAt = now
			if txErr := tx.UpdateReservation(ctx, reservation); txErr != nil {
				return mapRepoError(txErr)
			}
			if txErr := s.appendEvent(ctx, tx, reservation.ID, persistence.EventApproved, params.Principal.UserID, request.ResponseMessage); txErr != nil {
				return txErr
			}
			request.Status = persistence.ApprovalApproved
		case ActionReject:
			reason := "rejected"
			if request.ResponseMessage != nil {
				reason = "rejected: " + *request.ResponseMessage
			}
			// The request is resolved here so cancelReservation leaves it alone.
			request.Status = persistence.ApprovalRejected
			if txErr := tx.UpdateApprovalRequest(ctx, request); txErr != nil {
				return mapRepoError(txErr)
			}
			cancelled, txErr := s.cancelReservation(ctx, tx, reservation, params.Principal.UserID, reason, persistence.EventRejected)
			if txErr != nil {
				return txErr
			}
			result = RespondResult{Approval: request, Reservation: cancelled}
			return nil
		}

		if txErr := tx.UpdateApprovalRequest(ctx, request); txErr != nil {
			return mapRepoError(txErr)
		}
		result = RespondResult{Approval: request, Reservation: reservation}
		return nil
	})
	if err != nil {
		return RespondResult{}, err
	}
	return result, nil
}

// ConfigureResource upserts the approval settings of a resource.
func (s *ApprovalService) ConfigureResource(ctx context.Context, params ConfigureResourceParams) (settings ResourceApprovalSettings, err error) {
	if s == nil {
		return ResourceApprovalSettings{}, fmt.Errorf("ApprovalService is nil")
	}
	if err = s.ready(); err != nil {
		return ResourceApprovalSettings{}, err
	}

	logger := s.loggerWith(ctx, "ConfigureResource",
		"resource_id", params.ResourceID,
		"user_id", params.Principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "approval settings update failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("requires_approval", settings.RequiresApproval).InfoContext(ctx, "approval settings updated")
	}()

	vErr := &ValidationError{}
	resourceID := strings.TrimSpace(params.ResourceID)
	if resourceID == "" {
		vErr.add("resource_id", "resource_id is required")
	}
	approver := optionalString(params.DefaultApproverID)
	if params.RequiresApproval && approver == nil {
		vErr.add("default_approver_id", "default_approver_id is required when approval is required")
	}
	if vErr.HasErrors() {
		return ResourceApprovalSettings{}, vErr
	}
	if err = s.authorize(ctx, params.Principal, resourceID); err != nil {
		return ResourceApprovalSettings{}, err
	}

	settings = ResourceApprovalSettings{
		ResourceID:        resourceID,
		RequiresApproval:  params.RequiresApproval,
		DefaultApproverID: approver,
		UpdatedAt:         s.clock(),
	}
	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		return mapRepoError(tx.UpsertApprovalSettings(ctx, settings))
	})
	if err != nil {
		return ResourceApprovalSettings{}, err
	}
	return settings, nil
}

// GetSettings returns the approval settings of a resource. Unconfigured resources do not
// require approval.
func (s *ApprovalService) GetSettings(ctx context.Context, resourceID string) (ResourceApprovalSettings, error) {
	if s == nil {
		return ResourceApprovalSettings{}, fmt.Errorf("ApprovalService is nil")
	}
	if err := s.ready(); err != nil {
		return ResourceApprovalSettings{}, err
	}

	var settings ResourceApprovalSettings
	err := s.store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		found, err := approvalSettings(ctx, tx, resourceID)
		settings = found
		return err
	})
	return settings, err
}

// ListPending returns the pending requests assigned to the principal, or every pending
// request for admins.
func (s *ApprovalService) ListPending(ctx context.Context, principal Principal) ([]ApprovalRequest, error) {
	if s == nil {
		return nil, fmt.Errorf("ApprovalService is nil")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if principal.UserID == "" {
		return nil, ErrForbidden
	}

	filter := persistence.ApprovalFilter{Statuses: []persistence.ApprovalStatus{persistence.ApprovalPending}}
	if !principal.IsAdmin {
		filter.ApproverID = principal.UserID
	}

	var requests []ApprovalRequest
	err := s.store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		found, err := tx.ListApprovalRequests(ctx, filter)
		if err != nil {
			return err
		}
		requests = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	return requests, nil
}

// ExpireStale cancels pending requests whose reservation has already started, along with
// the reservation itself.
func (s *ApprovalService) ExpireStale(ctx context.Context) (expired int, err error) {
	if s == nil {
		return 0, fmt.Errorf("ApprovalService is nil")
	}
	if err = s.ready(); err != nil {
		return 0, err
	}

	logger := s.loggerWith(ctx, "ExpireStale")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "approval expiry failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if expired > 0 {
			logger.InfoContext(ctx, "stale approvals expired", "count", expired)
		}
	}()

	err = s.store.WithTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		pending, txErr := tx.ListApprovalRequests(ctx, persistence.ApprovalFilter{
			Statuses: []persistence.ApprovalStatus{persistence.ApprovalPending},
		})
		if txErr != nil {
			return fmt.Errorf("list pending approvals: %w", txErr)
		}

		now := s.clock()
		expired = 0
		for _, request := range pending {
			reservation, txErr := tx.GetReservation(ctx, request.ReservationID)
			if errors.Is(txErr, persistence.ErrNotFound) {
				continue
			}
			if txErr != nil {
				return fmt.Errorf("load reservation %s: %w", request.ReservationID, txErr)
			}
			if reservation.Start.After(now) {
				continue
			}

			request.Status = persistence.ApprovalCancelled
			request.RespondedAt = &now
			if txErr := tx.UpdateApprovalRequest(ctx, request); txErr != nil {
				return mapRepoError(txErr)
			}
			if reservation.Status == persistence.ReservationPendingApproval {
				if _, txErr := s.cancelReservation(ctx, tx, reservation, "", approvalExpiredReason, persistence.EventApprovalExpired); txErr != nil {
					return txErr
				}
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
