package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/persistence"
)

type waitlistService interface {
	Join(ctx context.Context, params application.JoinWaitlistParams) (application.WaitlistEntry, error)
	Accept(ctx context.Context, principal application.Principal, entryID string) (application.AcceptOfferResult, error)
	Leave(ctx context.Context, principal application.Principal, entryID string) (application.WaitlistEntry, error)
	GetEntry(ctx context.Context, principal application.Principal, entryID string) (application.WaitlistEntry, error)
	ListEntries(ctx context.Context, params application.ListWaitlistParams) ([]application.WaitlistEntry, error)
}

type WaitlistHandler struct {
	service   waitlistService
	responder responder
	logger    *slog.Logger
}

func NewWaitlistHandler(service waitlistService, logger *slog.Logger) *WaitlistHandler {
	logger = defaultLogger(logger)
	return &WaitlistHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *WaitlistHandler) Join(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req joinWaitlistRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	entry, err := h.service.Join(r.Context(), application.JoinWaitlistParams{
		Principal:    principal,
		ResourceID:   strings.TrimSpace(req.ResourceID),
		DesiredStart: parseTimestamp(req.DesiredStart),
		DesiredEnd:   parseTimestamp(req.DesiredEnd),
		FlexibleTime: req.FlexibleTime,
	})
	if err != nil {
		var cErr *application.ConflictError
		if errors.As(err, &cErr) && cErr.Kind == application.ConflictDuplicate {
			h.responder.writeJSON(r.Context(), w, http.StatusBadRequest, errorResponse{
				ErrorCode: "DUPLICATE_WAITLIST_ENTRY",
				Message:   cErr.Error(),
				Conflict:  toConflictDTO(cErr),
			})
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, "WaitlistHandler", "Join", "entry_id", entry.ID).
		DebugContext(r.Context(), "joined waitlist", "position", entry.Position)

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toWaitlistDTO(entry))
}

func (h *WaitlistHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()
	params := application.ListWaitlistParams{
		Principal:  principal,
		ResourceID: strings.TrimSpace(query.Get("resource_id")),
	}
	for _, status := range parseCSV(query.Get("status")) {
		params.Statuses = append(params.Statuses, persistence.WaitlistStatus(status))
	}

	entries, err := h.service.ListEntries(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]waitlistEntryDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toWaitlistDTO(entry))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listWaitlistResponse{Entries: out})
}

func (h *WaitlistHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	entry, err := h.service.GetEntry(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toWaitlistDTO(entry))
}

func (h *WaitlistHandler) Accept(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	entryID := r.PathValue("id")
	result, err := h.service.Accept(r.Context(), principal, entryID)
	if err != nil {
		if errors.Is(err, application.ErrNotFound) {
			h.responder.writeJSON(r.Context(), w, http.StatusBadRequest, errorResponse{
				ErrorCode: "NO_ACTIVE_OFFER",
				Message:   "waitlist entry " + entryID + " has no active offer",
			})
			return
		}
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, acceptOfferResponse{
		Entry:       toWaitlistDTO(result.Entry),
		Reservation: toReservationDTO(result.Reservation),
	})
}

func (h *WaitlistHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	entry, err := h.service.Leave(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toWaitlistDTO(entry))
}

type joinWaitlistRequest struct {
	ResourceID   string `json:"resource_id" validate:"required"`
	DesiredStart string `json:"desired_start" validate:"required,rfc3339"`
	DesiredEnd   string `json:"desired_end" validate:"required,rfc3339"`
	FlexibleTime bool   `json:"flexible_time"`
}

type waitlistEntryDTO struct {
	ID             string  `json:"id"`
	ResourceID     string  `json:"resource_id"`
	UserID         string  `json:"user_id"`
	DesiredStart   string  `json:"desired_start"`
	DesiredEnd     string  `json:"desired_end"`
	FlexibleTime   bool    `json:"flexible_time"`
	Status         string  `json:"status"`
	Position       int     `json:"position"`
	CreatedAt      string  `json:"created_at"`
	OfferedAt      *string `json:"offered_at,omitempty"`
	OfferExpiresAt *string `json:"offer_expires_at,omitempty"`
}

func toWaitlistDTO(entry application.WaitlistEntry) waitlistEntryDTO {
	return waitlistEntryDTO{
		ID:             entry.ID,
		ResourceID:     entry.ResourceID,
		UserID:         entry.UserID,
		DesiredStart:   formatTime(entry.DesiredStart),
		DesiredEnd:     formatTime(entry.DesiredEnd),
		FlexibleTime:   entry.FlexibleTime,
		Status:         string(entry.Status),
		Position:       entry.Position,
		CreatedAt:      formatTime(entry.CreatedAt),
		OfferedAt:      formatTimePtr(entry.OfferedAt),
		OfferExpiresAt: formatTimePtr(entry.OfferExpiresAt),
	}
}

type listWaitlistResponse struct {
	Entries []waitlistEntryDTO `json:"entries"`
}

type acceptOfferResponse struct {
	Entry       waitlistEntryDTO `json:"entry"`
	Reservation reservationDTO   `json:"reservation"`
}
