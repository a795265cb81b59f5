package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/recurrence"
)

type reservationService interface {
	CancelReservation(ctx context.Context, params application.CancelReservationParams) (application.Reservation, error)
	GetReservation(ctx context.Context, principal application.Principal, id string) (application.Reservation, error)
	ListReservations(ctx context.Context, params application.ListReservationsParams) ([]application.Reservation, error)
	History(ctx context.Context, principal application.Principal, id string) ([]application.ReservationEvent, error)
	GetRecurrenceRule(ctx context.Context, principal application.Principal, reservationID string) (application.RecurrenceRule, error)
	CreateRecurringReservation(ctx context.Context, params application.RecurringReservationParams) (application.RecurringReservationResult, error)
}

// reservationCreator is the approval aware creation entry point.
type reservationCreator interface {
	CreateReservation(ctx context.Context, params application.CreateReservationParams) (application.CreateReservationResult, error)
}

type ReservationHandler struct {
	service   reservationService
	creator   reservationCreator
	responder responder
	logger    *slog.Logger
}

func NewReservationHandler(service reservationService, creator reservationCreator, logger *slog.Logger) *ReservationHandler {
	logger = defaultLogger(logger)
	return &ReservationHandler{service: service, creator: creator, responder: newResponder(logger), logger: logger}
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.creator == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req reservationRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeDecodeError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.creator.CreateReservation(r.Context(), application.CreateReservationParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, "ReservationHandler", "Create", "reservation_id", result.Reservation.ID).
		DebugContext(r.Context(), "reservation created", "status", result.Reservation.Status)

	payload := createReservationResponse{Reservation: toReservationDTO(result.Reservation)}
	if result.Approval != nil {
		dto := toApprovalDTO(*result.Approval)
		payload.Approval = &dto
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, payload)
}

func (h *ReservationHandler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req recurringReservationRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeDecodeError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.CreateRecurringReservation(r.Context(), application.RecurringReservationParams{
		Principal: principal,
		Input:     req.toInput(),
		Rule:      req.Recurrence.toRule(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, recurringReservationResponse{
		RecurrenceRuleID: result.Rule.ID,
		Reservations:     toReservationDTOs(result.Reservations),
	})
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	reservation, err := h.service.GetReservation(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	params, err := buildListParams(r.URL.Query(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	reservations, err := h.service.ListReservations(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, listReservationsResponse{Reservations: toReservationDTOs(reservations)})
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req cancelRequest
	if err := decodeOptionalRequest(r, &req); err != nil {
		h.writeDecodeError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	reservation, err := h.service.CancelReservation(r.Context(), application.CancelReservationParams{
		Principal:     principal,
		ReservationID: r.PathValue("id"),
		Reason:        strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, reservationResponse{Reservation: toReservationDTO(reservation)})
}

func (h *ReservationHandler) History(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	events, err := h.service.History(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]eventDTO, 0, len(events))
	for _, event := range events {
		out = append(out, eventDTO{
			ID:         event.ID,
			Type:       string(event.Type),
			ActorID:    event.ActorID,
			Detail:     event.Detail,
			OccurredAt: formatTime(event.OccurredAt),
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, historyResponse{Events: out})
}

func (h *ReservationHandler) Recurrence(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	rule, err := h.service.GetRecurrenceRule(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toRecurrenceRuleDTO(rule))
}

// writeDecodeError distinguishes malformed JSON from failed tag validation.
func (h *ReservationHandler) writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	writeDecodeError(ctx, h.responder, w, err)
}

func writeDecodeError(ctx context.Context, resp responder, w http.ResponseWriter, err error) {
	if isBadBody(err) {
		resp.writeError(ctx, w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	resp.handleServiceError(ctx, w, err)
}

type reservationRequest struct {
	ResourceID     string `json:"resource_id" validate:"required"`
	StartTime      string `json:"start_time" validate:"required,rfc3339"`
	EndTime        string `json:"end_time" validate:"required,rfc3339"`
	RequestMessage string `json:"request_message" validate:"max=1000"`
}

func (r reservationRequest) toInput() application.ReservationInput {
	return application.ReservationInput{
		ResourceID:     strings.TrimSpace(r.ResourceID),
		Start:          parseTimestamp(r.StartTime),
		End:            parseTimestamp(r.EndTime),
		RequestMessage: strings.TrimSpace(r.RequestMessage),
	}
}

type recurrenceRequest struct {
	Frequency       string `json:"frequency" validate:"required,oneof=daily weekly monthly"`
	Interval        int    `json:"interval" validate:"gte=0"`
	EndType         string `json:"end_type" validate:"required,oneof=after_count on_date"`
	OccurrenceCount int    `json:"occurrence_count" validate:"required_if=EndType after_count,gte=0"`
	EndDate         string `json:"end_date" validate:"omitempty,rfc3339|datetime=2006-01-02"`
	DaysOfWeek      []int  `json:"days_of_week" validate:"omitempty,dive,min=0,max=6"`
}

// toRule treats a missing interval as 1. A bare end date is kept as a calendar day so the
// recurrence engine can include the whole day in its own location.
func (r recurrenceRequest) toRule() recurrence.Rule {
	rule := recurrence.Rule{
		Frequency:       recurrence.Frequency(r.Frequency),
		Interval:        r.Interval,
		EndType:         recurrence.EndType(r.EndType),
		OccurrenceCount: r.OccurrenceCount,
	}
	if rule.Interval == 0 {
		rule.Interval = 1
	}
	if end := strings.TrimSpace(r.EndDate); end != "" {
		if ts, err := time.Parse(time.RFC3339, end); err == nil {
			rule.EndDate = ts.UTC()
		} else if day, err := time.Parse("2006-01-02", end); err == nil {
			rule.EndDate = day
			rule.EndDateIsDay = true
		}
	}
	for _, day := range r.DaysOfWeek {
		rule.DaysOfWeek = append(rule.DaysOfWeek, time.Weekday(day))
	}
	return rule
}

type recurringReservationRequest struct {
	ResourceID string            `json:"resource_id" validate:"required"`
	StartTime  string            `json:"start_time" validate:"required,rfc3339"`
	EndTime    string            `json:"end_time" validate:"required,rfc3339"`
	Recurrence recurrenceRequest `json:"recurrence" validate:"required"`
}

func (r recurringReservationRequest) toInput() application.ReservationInput {
	return reservationRequest{ResourceID: r.ResourceID, StartTime: r.StartTime, EndTime: r.EndTime}.toInput()
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type reservationDTO struct {
	ID                 string  `json:"id"`
	ResourceID         string  `json:"resource_id"`
	UserID             string  `json:"user_id"`
	StartTime          string  `json:"start_time"`
	EndTime            string  `json:"end_time"`
	Status             string  `json:"status"`
	RecurrenceRuleID   *string `json:"recurrence_rule_id,omitempty"`
	CancellationReason *string `json:"cancellation_reason,omitempty"`
	CreatedAt          string  `json:"created_at"`
	CancelledAt        *string `json:"cancelled_at,omitempty"`
}

func toReservationDTO(reservation application.Reservation) reservationDTO {
	return reservationDTO{
		ID:                 reservation.ID,
		ResourceID:         reservation.ResourceID,
		UserID:             reservation.UserID,
		StartTime:          formatTime(reservation.Start),
		EndTime:            formatTime(reservation.End),
		Status:             string(reservation.Status),
		RecurrenceRuleID:   reservation.RecurrenceRuleID,
		CancellationReason: reservation.CancellationReason,
		CreatedAt:          formatTime(reservation.CreatedAt),
		CancelledAt:        formatTimePtr(reservation.CancelledAt),
	}
}

func toReservationDTOs(reservations []application.Reservation) []reservationDTO {
	out := make([]reservationDTO, 0, len(reservations))
	for _, reservation := range reservations {
		out = append(out, toReservationDTO(reservation))
	}
	return out
}

type eventDTO struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	ActorID    string  `json:"actor_id"`
	Detail     *string `json:"detail,omitempty"`
	OccurredAt string  `json:"occurred_at"`
}

type reservationResponse struct {
	Reservation reservationDTO `json:"reservation"`
}

type createReservationResponse struct {
	Reservation reservationDTO `json:"reservation"`
	Approval    *approvalDTO   `json:"approval,omitempty"`
}

type recurringReservationResponse struct {
	RecurrenceRuleID string           `json:"recurrence_rule_id"`
	Reservations     []reservationDTO `json:"reservations"`
}

type listReservationsResponse struct {
	Reservations []reservationDTO `json:"reservations"`
}

type historyResponse struct {
	Events []eventDTO `json:"events"`
}

type recurrenceRuleDTO struct {
	ID              string  `json:"id"`
	Frequency       string  `json:"frequency"`
	Interval        int     `json:"interval"`
	DaysOfWeek      []int   `json:"days_of_week,omitempty"`
	EndType         string  `json:"end_type"`
	OccurrenceCount *int    `json:"occurrence_count,omitempty"`
	EndDate         *string `json:"end_date,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func toRecurrenceRuleDTO(rule application.RecurrenceRule) recurrenceRuleDTO {
	dto := recurrenceRuleDTO{
		ID:              rule.ID,
		Frequency:       rule.Frequency,
		Interval:        rule.Interval,
		EndType:         rule.EndType,
		OccurrenceCount: rule.OccurrenceCount,
		EndDate:         formatTimePtr(rule.EndDate),
		CreatedAt:       formatTime(rule.CreatedAt),
	}
	for _, day := range rule.DaysOfWeek {
		dto.DaysOfWeek = append(dto.DaysOfWeek, int(day))
	}
	return dto
}

// buildListParams maps query parameters onto a listing filter.
// Unparseable bounds are reported as validation errors on the parameter name.
func buildListParams(values url.Values, principal application.Principal) (application.ListReservationsParams, error) {
	params := application.ListReservationsParams{
		Principal:  principal,
		ResourceID: strings.TrimSpace(values.Get("resource_id")),
		UserID:     strings.TrimSpace(values.Get("user_id")),
	}

	vErr := &application.ValidationError{}
	for _, bound := range []struct {
		name   string
		target **time.Time
	}{
		{"from", &params.From},
		{"to", &params.To},
	} {
		ts, err := parseOptionalTimestamp(values.Get(bound.name))
		if err != nil {
			if vErr.FieldErrors == nil {
				vErr.FieldErrors = make(map[string]string)
			}
			vErr.FieldErrors[bound.name] = "must be an RFC 3339 timestamp"
			continue
		}
		*bound.target = ts
	}
	if vErr.HasErrors() {
		return params, vErr
	}

	for _, status := range parseCSV(values.Get("status")) {
		params.Statuses = append(params.Statuses, persistence.ReservationStatus(status))
	}
	return params, nil
}
