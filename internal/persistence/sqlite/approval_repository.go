package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/resource-scheduler/internal/persistence"
)

const approvalColumns = `id, reservation_id, resource_id, requester_id, approver_id, status,
	request_message, response_message, created_at, responded_at`

type approvalRow struct {
	ID              string         `db:"id"`
	ReservationID   string         `db:"reservation_id"`
	ResourceID      string         `db:"resource_id"`
	RequesterID     string         `db:"requester_id"`
	ApproverID      string         `db:"approver_id"`
	Status          string         `db:"status"`
	RequestMessage  sql.NullString `db:"request_message"`
	ResponseMessage sql.NullString `db:"response_message"`
	CreatedAt       string         `db:"created_at"`
	RespondedAt     sql.NullString `db:"responded_at"`
}

func (row approvalRow) toModel() (persistence.ApprovalRequest, error) {
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return persistence.ApprovalRequest{}, err
	}
	respondedAt, err := timePtr(row.RespondedAt)
	if err != nil {
		return persistence.ApprovalRequest{}, err
	}

	return persistence.ApprovalRequest{
		ID:              row.ID,
		ReservationID:   row.ReservationID,
		ResourceID:      row.ResourceID,
		RequesterID:     row.RequesterID,
		ApproverID:      row.ApproverID,
		Status:          persistence.ApprovalStatus(row.Status),
		RequestMessage:  stringPtr(row.RequestMessage),
		ResponseMessage: stringPtr(row.ResponseMessage),
		CreatedAt:       createdAt,
		RespondedAt:     respondedAt,
	}, nil
}

// CreateApprovalRequest inserts an approval request.
func (r *txRepository) CreateApprovalRequest(ctx context.Context, request persistence.ApprovalRequest) error {
	err := r.exec(ctx, false, `
		INSERT INTO approval_requests (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		request.ID,
		request.ReservationID,
		request.ResourceID,
		request.RequesterID,
		request.ApproverID,
		string(request.Status),
		nullString(request.RequestMessage),
		nullString(request.ResponseMessage),
		formatTime(request.CreatedAt),
		nullTime(request.RespondedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create approval request %s: %w", request.ID, err)
	}
	return nil
}

// UpdateApprovalRequest records a decision on an approval request.
func (r *txRepository) UpdateApprovalRequest(ctx context.Context, request persistence.ApprovalRequest) error {
	err := r.exec(ctx, true, `
		UPDATE approval_requests
		SET status = ?, response_message = ?, responded_at = ?
		WHERE id = ?`,
		string(request.Status),
		nullString(request.ResponseMessage),
		nullTime(request.RespondedAt),
		request.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update approval request %s: %w", request.ID, err)
	}
	return nil
}

// GetApprovalRequest loads one approval request.
func (r *txRepository) GetApprovalRequest(ctx context.Context, id string) (persistence.ApprovalRequest, error) {
	return r.getApproval(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = ?`, id)
}

// GetApprovalRequestByReservation loads the request gating a reservation.
func (r *txRepository) GetApprovalRequestByReservation(ctx context.Context, reservationID string) (persistence.ApprovalRequest, error) {
	return r.getApproval(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE reservation_id = ?`, reservationID)
}

func (r *txRepository) getApproval(ctx context.Context, query string, arg string) (persistence.ApprovalRequest, error) {
	var row approvalRow
	if err := r.tx.GetContext(ctx, &row, query, arg); err != nil {
		return persistence.ApprovalRequest{}, r.mapper.MapError(err)
	}
	return row.toModel()
}

// ListApprovalRequests returns matching requests ordered by creation time, then ID.
func (r *txRepository) ListApprovalRequests(ctx context.Context, filter persistence.ApprovalFilter) ([]persistence.ApprovalRequest, error) {
	var where whereClause
	if filter.ApproverID != "" {
		where.add("approver_id = ?", filter.ApproverID)
	}
	if filter.ResourceID != "" {
		where.add("resource_id = ?", filter.ResourceID)
	}
	if len(filter.Statuses) > 0 {
		if err := where.addIn("status", toStrings(filter.Statuses)); err != nil {
			return nil, err
		}
	}

	var rows []approvalRow
	query := `SELECT ` + approvalColumns + ` FROM approval_requests` + where.String() + ` ORDER BY created_at ASC, id ASC`
	if err := r.tx.SelectContext(ctx, &rows, r.tx.Rebind(query), where.args...); err != nil {
		return nil, r.mapper.MapError(err)
	}

	requests := make([]persistence.ApprovalRequest, 0, len(rows))
	for _, row := range rows {
		request, err := row.toModel()
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, nil
}

type settingsRow struct {
	ResourceID        string         `db:"resource_id"`
	RequiresApproval  bool           `db:"requires_approval"`
	DefaultApproverID sql.NullString `db:"default_approver_id"`
	UpdatedAt         string         `db:"updated_at"`
}

// GetApprovalSettings loads the approval configuration of a resource.
func (r *txRepository) GetApprovalSettings(ctx context.Context, resourceID string) (persistence.ResourceApprovalSettings, error) {
	var row settingsRow
	err := r.tx.GetContext(ctx, &row, `
		SELECT resource_id, requires_approval, default_approver_id, updated_at
		FROM resource_approval_settings WHERE resource_id = ?`, resourceID)
	if err != nil {
		return persistence.ResourceApprovalSettings{}, r.mapper.MapError(err)
	}

	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return persistence.ResourceApprovalSettings{}, err
	}

	return persistence.ResourceApprovalSettings{
		ResourceID:        row.ResourceID,
		RequiresApproval:  row.RequiresApproval,
		DefaultApproverID: stringPtr(row.DefaultApproverID),
		UpdatedAt:         updatedAt,
	}, nil
}

// UpsertApprovalSettings creates or replaces the approval configuration of a resource.
func (r *txRepository) UpsertApprovalSettings(ctx context.Context, settings persistence.ResourceApprovalSettings) error {
	err := r.exec(ctx, false, `
		INSERT INTO resource_approval_settings (resource_id, requires_approval, default_approver_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			requires_approval = excluded.requires_approval,
			default_approver_id = excluded.default_approver_id,
			updated_at = excluded.updated_at`,
		settings.ResourceID,
		boolToInt(settings.RequiresApproval),
		nullString(settings.DefaultApproverID),
		formatTime(settings.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert approval settings %s: %w", settings.ResourceID, err)
	}
	return nil
}
