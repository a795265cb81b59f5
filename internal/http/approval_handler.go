package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/resource-scheduler/internal/application"
)

type approvalService interface {
	Respond(ctx context.Context, params application.RespondParams) (application.RespondResult, error)
	ListPending(ctx context.Context, principal application.Principal) ([]application.ApprovalRequest, error)
	ConfigureResource(ctx context.Context, params application.ConfigureResourceParams) (application.ResourceApprovalSettings, error)
	GetSettings(ctx context.Context, resourceID string) (application.ResourceApprovalSettings, error)
}

type ApprovalHandler struct {
	service   approvalService
	responder responder
	logger    *slog.Logger
}

func NewApprovalHandler(service approvalService, logger *slog.Logger) *ApprovalHandler {
	logger = defaultLogger(logger)
	return &ApprovalHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *ApprovalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	requests, err := h.service.ListPending(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]approvalDTO, 0, len(requests))
	for _, req := range requests {
		out = append(out, toApprovalDTO(req))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listApprovalsResponse{Approvals: out})
}

// Respond resolves a pending approval. Unknown ids are reported as bad requests.
func (h *ApprovalHandler) Respond(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req respondRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	approvalID := r.PathValue("id")
	result, err := h.service.Respond(r.Context(), application.RespondParams{
		Principal:       principal,
		ApprovalID:      approvalID,
		Action:          application.ApprovalAction(req.Action),
		ResponseMessage: strings.TrimSpace(req.ResponseMessage),
	})
	if err != nil {
		if errors.Is(err, application.ErrNotFound) {
			h.responder.writeJSON(r.Context(), w, http.StatusBadRequest, errorResponse{
				ErrorCode: "UNKNOWN_APPROVAL",
				Message:   "approval request " + approvalID + " does not exist",
			})
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, "ApprovalHandler", "Respond", "approval_id", approvalID).
		InfoContext(r.Context(), "approval resolved", "status", result.Approval.Status)

	h.responder.writeJSON(r.Context(), w, http.StatusOK, respondResponse{
		Approval:    toApprovalDTO(result.Approval),
		Reservation: toReservationDTO(result.Reservation),
	})
}

func (h *ApprovalHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	settings, err := h.service.GetSettings(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSettingsDTO(settings))
}

func (h *ApprovalHandler) ConfigureResource(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req approvalSettingsRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	settings, err := h.service.ConfigureResource(r.Context(), application.ConfigureResourceParams{
		Principal:         principal,
		ResourceID:        r.PathValue("id"),
		RequiresApproval:  req.RequiresApproval,
		DefaultApproverID: strings.TrimSpace(req.DefaultApproverID),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSettingsDTO(settings))
}

type respondRequest struct {
	Action          string `json:"action" validate:"required,oneof=approve reject"`
	ResponseMessage string `json:"response_message" validate:"max=1000"`
}

type approvalSettingsRequest struct {
	RequiresApproval  bool   `json:"requires_approval"`
	DefaultApproverID string `json:"default_approver_id"`
}

type approvalDTO struct {
	ID              string  `json:"id"`
	ReservationID   string  `json:"reservation_id"`
	ResourceID      string  `json:"resource_id"`
	RequesterID     string  `json:"requester_id"`
	ApproverID      string  `json:"approver_id"`
	Status          string  `json:"status"`
	RequestMessage  *string `json:"request_message,omitempty"`
	ResponseMessage *string `json:"response_message,omitempty"`
	CreatedAt       string  `json:"created_at"`
	RespondedAt     *string `json:"responded_at,omitempty"`
}

func toApprovalDTO(req application.ApprovalRequest) approvalDTO {
	return approvalDTO{
		ID:              req.ID,
		ReservationID:   req.ReservationID,
		ResourceID:      req.ResourceID,
		RequesterID:     req.RequesterID,
		ApproverID:      req.ApproverID,
		Status:          string(req.Status),
		RequestMessage:  req.RequestMessage,
		ResponseMessage: req.ResponseMessage,
		CreatedAt:       formatTime(req.CreatedAt),
		RespondedAt:     formatTimePtr(req.RespondedAt),
	}
}

type settingsDTO struct {
	ResourceID        string  `json:"resource_id"`
	RequiresApproval  bool    `json:"requires_approval"`
	DefaultApproverID *string `json:"default_approver_id,omitempty"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
}

func toSettingsDTO(settings application.ResourceApprovalSettings) settingsDTO {
	return settingsDTO{
		ResourceID:        settings.ResourceID,
		RequiresApproval:  settings.RequiresApproval,
		DefaultApproverID: settings.DefaultApproverID,
		UpdatedAt:         formatTime(settings.UpdatedAt),
	}
}

type listApprovalsResponse struct {
	Approvals []approvalDTO `json:"approvals"`
}

type respondResponse struct {
	Approval    approvalDTO    `json:"approval"`
	Reservation reservationDTO `json:"reservation"`
}
