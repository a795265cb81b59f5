package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/resource-scheduler/internal/persistence"
)

const reservationColumns = `id, resource_id, user_id, start_time, end_time, status, recurrence_rule_id,
	cancellation_reason, created_at, updated_at, cancelled_at`

type reservationRow struct {
	ID                 string         `db:"id"`
	ResourceID         string         `db:"resource_id"`
	UserID             string         `db:"user_id"`
	StartTime          string         `db:"start_time"`
	EndTime            string         `db:"end_time"`
	Status             string         `db:"status"`
	RecurrenceRuleID   sql.NullString `db:"recurrence_rule_id"`
	CancellationReason sql.NullString `db:"cancellation_reason"`
	CreatedAt          string         `db:"created_at"`
	UpdatedAt          string         `db:"updated_at"`
	CancelledAt        sql.NullString `db:"cancelled_at"`
}

func (row reservationRow) toModel() (persistence.Reservation, error) {
	start, err := parseTime(row.StartTime)
	if err != nil {
		return persistence.Reservation{}, err
	}
	end, err := parseTime(row.EndTime)
	if err != nil {
		return persistence.Reservation{}, err
	}
	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return persistence.Reservation{}, err
	}
	updatedAt, err := parseTime(row.UpdatedAt)
	if err != nil {
		return persistence.Reservation{}, err
	}
	cancelledAt, err := timePtr(row.CancelledAt)
	if err != nil {
		return persistence.Reservation{}, err
	}

	return persistence.Reservation{
		ID:                 row.ID,
		ResourceID:         row.ResourceID,
		UserID:             row.UserID,
		Start:              start,
		End:                end,
		Status:             persistence.ReservationStatus(row.Status),
		RecurrenceRuleID:   stringPtr(row.RecurrenceRuleID),
		CancellationReason: stringPtr(row.CancellationReason),
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
		CancelledAt:        cancelledAt,
	}, nil
}

// CreateReservation inserts a reservation row.
func (r *txRepository) CreateReservation(ctx context.Context, reservation persistence.Reservation) error {
	if reservation.ID == "" {
		return persistence.ErrConstraintViolation
	}

	err := r.exec(ctx, false, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reservation.ID,
		reservation.ResourceID,
		reservation.UserID,
		formatTime(reservation.Start),
		formatTime(reservation.End),
		string(reservation.Status),
		nullString(reservation.RecurrenceRuleID),
		nullString(reservation.CancellationReason),
		formatTime(reservation.CreatedAt),
		formatTime(reservation.UpdatedAt),
		nullTime(reservation.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create reservation %s: %w", reservation.ID, err)
	}
	return nil
}

// UpdateReservation replaces the mutable columns of a reservation.
func (r *txRepository) UpdateReservation(ctx context.Context, reservation persistence.Reservation) error {
	err := r.exec(ctx, true, `
		UPDATE reservations
		SET status = ?, cancellation_reason = ?, updated_at = ?, cancelled_at = ?
		WHERE id = ?`,
		string(reservation.Status),
		nullString(reservation.CancellationReason),
		formatTime(reservation.UpdatedAt),
		nullTime(reservation.CancelledAt),
		reservation.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update reservation %s: %w", reservation.ID, err)
	}
	return nil
}

// GetReservation loads one reservation.
func (r *txRepository) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	var row reservationRow
	if err := r.tx.GetContext(ctx, &row, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id); err != nil {
		return persistence.Reservation{}, r.mapper.MapError(err)
	}
	return row.toModel()
}

// ListReservations returns matching reservations ordered by start time, then ID.
func (r *txRepository) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	var where whereClause
	if filter.ResourceID != "" {
		where.add("resource_id = ?", filter.ResourceID)
	}
	if filter.UserID != "" {
		where.add("user_id = ?", filter.UserID)
	}
	if filter.RecurrenceRuleID != "" {
		where.add("recurrence_rule_id = ?", filter.RecurrenceRuleID)
	}
	if len(filter.Statuses) > 0 {
		if err := where.addIn("status", toStrings(filter.Statuses)); err != nil {
			return nil, err
		}
	}
	if filter.StartsBefore != nil {
		where.add("start_time < ?", formatTime(*filter.StartsBefore))
	}
	if filter.EndsAfter != nil {
		where.add("end_time > ?", formatTime(*filter.EndsAfter))
	}

	var rows []reservationRow
	query := `SELECT ` + reservationColumns + ` FROM reservations` + where.String() + ` ORDER BY start_time ASC, id ASC`
	if err := r.tx.SelectContext(ctx, &rows, r.tx.Rebind(query), where.args...); err != nil {
		return nil, r.mapper.MapError(err)
	}

	reservations := make([]persistence.Reservation, 0, len(rows))
	for _, row := range rows {
		reservation, err := row.toModel()
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func toStrings[S ~string](values []S) []string {
	out := make([]string, len(values))
	for i, value := range values {
		out[i] = string(value)
	}
	return out
}
