package http

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/resource-scheduler/internal/application"
)

const maxImportSize = 4 << 20

type bulkService interface {
	BulkCreate(ctx context.Context, principal application.Principal, inputs []application.ReservationInput, dryRun bool) (application.BulkResult, error)
	Validate(ctx context.Context, principal application.Principal, inputs []application.ReservationInput) (application.BulkValidation, error)
	BulkCancel(ctx context.Context, principal application.Principal, ids []string, reason string) (application.BulkResult, error)
	ImportCSV(ctx context.Context, principal application.Principal, r io.Reader, dryRun bool) (application.BulkResult, error)
	ExportCSV(ctx context.Context, params application.ListReservationsParams, w io.Writer) error
}

type BulkHandler struct {
	service   bulkService
	responder responder
	logger    *slog.Logger
}

func NewBulkHandler(service bulkService, logger *slog.Logger) *BulkHandler {
	logger = defaultLogger(logger)
	return &BulkHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *BulkHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req bulkCreateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.BulkCreate(r.Context(), principal, req.inputs(), req.DryRun)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBulkResponse(result))
}

func (h *BulkHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req bulkCreateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	validation, err := h.service.Validate(r.Context(), principal, req.inputs())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	items := make([]bulkItemDTO, 0, len(validation.Items))
	for _, item := range validation.Items {
		items = append(items, toBulkItemDTO(item))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, bulkValidationResponse{Valid: validation.Valid, Items: items})
}

func (h *BulkHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req bulkCancelRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDecodeError(r.Context(), h.responder, w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.BulkCancel(r.Context(), principal, req.ReservationIDs, strings.TrimSpace(req.Reason))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBulkResponse(result))
}

// Import accepts either a raw text/csv body or a multipart form with a "file" part.
func (h *BulkHandler) Import(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	dryRun := false
	if raw := strings.TrimSpace(r.URL.Query().Get("dry_run")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, &application.ValidationError{
				FieldErrors: map[string]string{"dry_run": "must be a boolean"},
			})
			return
		}
		dryRun = parsed
	}

	var body io.Reader = io.LimitReader(r.Body, maxImportSize)
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxImportSize); err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			h.responder.handleServiceError(r.Context(), w, &application.ValidationError{
				FieldErrors: map[string]string{"file": "is required"},
			})
			return
		}
		defer file.Close()
		body = file
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.ImportCSV(r.Context(), principal, body, dryRun)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	handlerLogger(r.Context(), h.logger, "BulkHandler", "Import").
		InfoContext(r.Context(), "csv imported", "success", result.Success, "failed", result.Failed, "dry_run", dryRun)

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toBulkResponse(result))
}

func (h *BulkHandler) Export(w http.ResponseWriter, r *http.Request) {
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

	var buf bytes.Buffer
	if err := h.service.ExportCSV(r.Context(), params, &buf); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="reservations.csv"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		handlerLogger(r.Context(), h.logger, "BulkHandler", "Export").
			ErrorContext(r.Context(), "failed to write csv", "error", err)
	}
}

type bulkCreateRequest struct {
	Reservations []bulkReservationRequest `json:"reservations"`
	DryRun       bool                     `json:"dry_run"`
}

// bulkReservationRequest is parsed leniently so that one bad item fails alone.
type bulkReservationRequest struct {
	ResourceID     string `json:"resource_id"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	RequestMessage string `json:"request_message"`
}

func (r bulkCreateRequest) inputs() []application.ReservationInput {
	out := make([]application.ReservationInput, 0, len(r.Reservations))
	for _, item := range r.Reservations {
		out = append(out, reservationRequest{
			ResourceID:     item.ResourceID,
			StartTime:      item.StartTime,
			EndTime:        item.EndTime,
			RequestMessage: item.RequestMessage,
		}.toInput())
	}
	return out
}

type bulkCancelRequest struct {
	ReservationIDs []string `json:"reservation_ids"`
	Reason         string   `json:"reason" validate:"max=500"`
}

type bulkItemDTO struct {
	Index         int            `json:"index"`
	Outcome       string         `json:"outcome"`
	ReservationID string         `json:"reservation_id,omitempty"`
	Status        string         `json:"status,omitempty"`
	Error         *errorResponse `json:"error,omitempty"`
}

func toBulkItemDTO(item application.BulkItemResult) bulkItemDTO {
	dto := bulkItemDTO{
		Index:         item.Index,
		Outcome:       string(item.Outcome),
		ReservationID: item.ReservationID,
		Status:        string(item.Status),
	}
	if item.Err != nil {
		_, body := classifyError(item.Err)
		dto.Error = &body
	}
	return dto
}

type bulkResponse struct {
	DryRun    bool          `json:"dry_run"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Created   []bulkItemDTO `json:"created,omitempty"`
	Cancelled []bulkItemDTO `json:"cancelled,omitempty"`
	Errors    []bulkItemDTO `json:"errors"`
}

func toBulkResponse(result application.BulkResult) bulkResponse {
	resp := bulkResponse{
		DryRun:  result.DryRun,
		Success: result.Success,
		Failed:  result.Failed,
		Skipped: result.Skipped,
		Errors:  []bulkItemDTO{},
	}
	for _, item := range result.Items {
		dto := toBulkItemDTO(item)
		switch item.Outcome {
		case application.OutcomeCreated:
			resp.Created = append(resp.Created, dto)
		case application.OutcomeCancelled:
			resp.Cancelled = append(resp.Cancelled, dto)
		case application.OutcomeFailed:
			resp.Errors = append(resp.Errors, dto)
		}
	}
	return resp
}

type bulkValidationResponse struct {
	Valid bool          `json:"valid"`
	Items []bulkItemDTO `json:"items"`
}
