package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/resource-scheduler/internal/persistence"
)

const waitlistColumns = `id, resource_id, user_id, desired_start, desired_end, flexible_time, status, position,
	created_at, updated_at, offered_at, offer_expires_at`

type waitlistRow struct {
	ID             string         `db:"id"`
	ResourceID     string         `db:"resource_id"`
	UserID         string         `db:"user_id"`
	DesiredStart   string         `db:"desired_start"`
	DesiredEnd     string         `db:"desired_end"`
	FlexibleTime   bool           `db:"flexible_time"`
	Status         string         `db:"status"`
	Position       int            `db:"position"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
	OfferedAt      sql.NullString `db:"offered_at"`
	OfferExpiresAt sql.NullString `db:"offer_expires_at"`
}

func (row waitlistRow) toModel() (persistence.WaitlistEntry, error) {
	entry := persistence.WaitlistEntry{
		ID:           row.ID,
		ResourceID:   row.ResourceID,
		UserID:       row.UserID,
		FlexibleTime: row.FlexibleTime,
		Status:       persistence.WaitlistStatus(row.Status),
		Position:     row.Position,
	}

	var err error
	if entry.DesiredStart, err = parseTime(row.DesiredStart); err != nil {
		return persistence.WaitlistEntry{}, err
	}
	if entry.DesiredEnd, err = parseTime(row.DesiredEnd); err != nil {
		return persistence.WaitlistEntry{}, err
	}
	if entry.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return persistence.WaitlistEntry{}, err
	}
	if entry.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return persistence.WaitlistEntry{}, err
	}
	if entry.OfferedAt, err = timePtr(row.OfferedAt); err != nil {
		return persistence.WaitlistEntry{}, err
	}
	if entry.OfferExpiresAt, err = timePtr(row.OfferExpiresAt); err != nil {
		return persistence.WaitlistEntry{}, err
	}
	return entry, nil
}

// CreateWaitlistEntry inserts a waitlist entry.
func (r *txRepository) CreateWaitlistEntry(ctx context.Context, entry persistence.WaitlistEntry) error {
	err := r.exec(ctx, false, `
		INSERT INTO waitlist_entries (`+waitlistColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ResourceID,
		entry.UserID,
		formatTime(entry.DesiredStart),
		formatTime(entry.DesiredEnd),
		boolToInt(entry.FlexibleTime),
		string(entry.Status),
		entry.Position,
		formatTime(entry.CreatedAt),
		formatTime(entry.UpdatedAt),
		nullTime(entry.OfferedAt),
		nullTime(entry.OfferExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create waitlist entry %s: %w", entry.ID, err)
	}
	return nil
}

// UpdateWaitlistEntry replaces the lifecycle columns of an entry. Position is immutable.
func (r *txRepository) UpdateWaitlistEntry(ctx context.Context, entry persistence.WaitlistEntry) error {
	err := r.exec(ctx, true, `
		UPDATE waitlist_entries
		SET status = ?, updated_at = ?, offered_at = ?, offer_expires_at = ?
		WHERE id = ?`,
		string(entry.Status),
		formatTime(entry.UpdatedAt),
		nullTime(entry.OfferedAt),
		nullTime(entry.OfferExpiresAt),
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update waitlist entry %s: %w", entry.ID, err)
	}
	return nil
}

// GetWaitlistEntry loads one entry.
func (r *txRepository) GetWaitlistEntry(ctx context.Context, id string) (persistence.WaitlistEntry, error) {
	var row waitlistRow
	if err := r.tx.GetContext(ctx, &row, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = ?`, id); err != nil {
		return persistence.WaitlistEntry{}, r.mapper.MapError(err)
	}
	return row.toModel()
}

// ListWaitlistEntries returns matching entries ordered by position, creation time, then ID.
func (r *txRepository) ListWaitlistEntries(ctx context.Context, filter persistence.WaitlistFilter) ([]persistence.WaitlistEntry, error) {
	var where whereClause
	if filter.ResourceID != "" {
		where.add("resource_id = ?", filter.ResourceID)
	}
	if filter.UserID != "" {
		where.add("user_id = ?", filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		if err := where.addIn("status", toStrings(filter.Statuses)); err != nil {
			return nil, err
		}
	}
	if filter.OfferExpiresBefore != nil {
		where.add("status = ? AND offer_expires_at IS NOT NULL AND offer_expires_at <= ?",
			string(persistence.WaitlistOffered), formatTime(*filter.OfferExpiresBefore))
	}

	var rows []waitlistRow
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries` + where.String() + ` ORDER BY position ASC, created_at ASC, id ASC`
	if err := r.tx.SelectContext(ctx, &rows, r.tx.Rebind(query), where.args...); err != nil {
		return nil, r.mapper.MapError(err)
	}

	entries := make([]persistence.WaitlistEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
