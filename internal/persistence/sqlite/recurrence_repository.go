package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/resource-scheduler/internal/persistence"
)

type recurrenceRow struct {
	ID              string         `db:"id"`
	Frequency       string         `db:"frequency"`
	Interval        int            `db:"interval_count"`
	DaysOfWeek      int            `db:"days_of_week"`
	EndType         string         `db:"end_type"`
	OccurrenceCount sql.NullInt64  `db:"occurrence_count"`
	EndDate         sql.NullString `db:"end_date"`
	CreatedAt       string         `db:"created_at"`
}

// CreateRecurrence inserts a recurrence rule.
func (r *txRepository) CreateRecurrence(ctx context.Context, rule persistence.RecurrenceRule) error {
	err := r.exec(ctx, false, `
		INSERT INTO recurrence_rules (id, frequency, interval_count, days_of_week, end_type, occurrence_count, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.Frequency,
		rule.Interval,
		encodeWeekdays(rule.DaysOfWeek),
		rule.EndType,
		nullInt(rule.OccurrenceCount),
		nullTime(rule.EndDate),
		formatTime(rule.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create recurrence %s: %w", rule.ID, err)
	}
	return nil
}

// GetRecurrence loads a recurrence rule.
func (r *txRepository) GetRecurrence(ctx context.Context, id string) (persistence.RecurrenceRule, error) {
	var row recurrenceRow
	err := r.tx.GetContext(ctx, &row, `
		SELECT id, frequency, interval_count, days_of_week, end_type, occurrence_count, end_date, created_at
		FROM recurrence_rules WHERE id = ?`, id)
	if err != nil {
		return persistence.RecurrenceRule{}, r.mapper.MapError(err)
	}

	createdAt, err := parseTime(row.CreatedAt)
	if err != nil {
		return persistence.RecurrenceRule{}, err
	}
	endDate, err := timePtr(row.EndDate)
	if err != nil {
		return persistence.RecurrenceRule{}, err
	}

	return persistence.RecurrenceRule{
		ID:              row.ID,
		Frequency:       row.Frequency,
		Interval:        row.Interval,
		DaysOfWeek:      decodeWeekdays(row.DaysOfWeek),
		EndType:         row.EndType,
		OccurrenceCount: intPtr(row.OccurrenceCount),
		EndDate:         endDate,
		CreatedAt:       createdAt,
	}, nil
}

type eventRow struct {
	ID            string         `db:"id"`
	ReservationID string         `db:"reservation_id"`
	EventType     string         `db:"event_type"`
	ActorID       string         `db:"actor_id"`
	Detail        sql.NullString `db:"detail"`
	OccurredAt    string         `db:"occurred_at"`
}

// AppendEvent records a history entry.
func (r *txRepository) AppendEvent(ctx context.Context, event persistence.ReservationEvent) error {
	err := r.exec(ctx, false, `
		INSERT INTO reservation_events (id, reservation_id, event_type, actor_id, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.ReservationID,
		string(event.Type),
		event.ActorID,
		nullString(event.Detail),
		formatTime(event.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append event %s: %w", event.ID, err)
	}
	return nil
}

// ListEvents returns the reservation's history in occurrence order.
func (r *txRepository) ListEvents(ctx context.Context, reservationID string) ([]persistence.ReservationEvent, error) {
	var rows []eventRow
	err := r.tx.SelectContext(ctx, &rows, `
		SELECT id, reservation_id, event_type, actor_id, detail, occurred_at
		FROM reservation_events
		WHERE reservation_id = ?
		ORDER BY occurred_at ASC, seq ASC`, reservationID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}

	events := make([]persistence.ReservationEvent, 0, len(rows))
	for _, row := range rows {
		occurredAt, err := parseTime(row.OccurredAt)
		if err != nil {
			return nil, err
		}
		events = append(events, persistence.ReservationEvent{
			ID:            row.ID,
			ReservationID: row.ReservationID,
			Type:          persistence.EventType(row.EventType),
			ActorID:       row.ActorID,
			Detail:        stringPtr(row.Detail),
			OccurredAt:    occurredAt,
		})
	}
	return events, nil
}
