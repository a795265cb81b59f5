// Package memory provides a process-local persistence.Store.
//
// Writers are serialized by a single lock and operate on a copy of the data set; the copy
// replaces the committed state only when the unit of work succeeds, so a failed or
// panicking transaction leaves no trace.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/resource-scheduler/internal/persistence"
)

// Store is an in-memory persistence.Store.
type Store struct {
	mu    sync.RWMutex
	state *dataset
}

var _ persistence.Store = (*Store)(nil)

type dataset struct {
	reservations map[string]persistence.Reservation
	rules        map[string]persistence.RecurrenceRule
	events       []persistence.ReservationEvent
	waitlist     map[string]persistence.WaitlistEntry
	approvals    map[string]persistence.ApprovalRequest
	settings     map[string]persistence.ResourceApprovalSettings
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: newDataset()}
}

func newDataset() *dataset {
	return &dataset{
		reservations: make(map[string]persistence.Reservation),
		rules:        make(map[string]persistence.RecurrenceRule),
		waitlist:     make(map[string]persistence.WaitlistEntry),
		approvals:    make(map[string]persistence.ApprovalRequest),
		settings:     make(map[string]persistence.ResourceApprovalSettings),
	}
}

// Close releases resources held by the store. No-op for the in-memory implementation.
func (s *Store) Close() error {
	return nil
}

// Ping only honours ctx; an in-memory store is always reachable.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// WithTransaction runs fn with exclusive access to a working copy of the data.
func (s *Store) WithTransaction(ctx context.Context, fn persistence.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &tx{data: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = working
	return nil
}

// WithReadOnlyTransaction runs fn against the committed state. Writes fail with
// persistence.ErrReadOnly.
func (s *Store) WithReadOnlyTransaction(ctx context.Context, fn persistence.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(ctx, &tx{data: s.state, readOnly: true})
}

type tx struct {
	data     *dataset
	readOnly bool
}

var _ persistence.Tx = (*tx)(nil)

func (t *tx) writable() error {
	if t.readOnly {
		return persistence.ErrReadOnly
	}
	return nil
}

// --- ReservationRepository implementation ---

func (t *tx) CreateReservation(_ context.Context, reservation persistence.Reservation) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.reservations[reservation.ID]; ok {
		return fmt.Errorf("memory: reservation %s: %w", reservation.ID, persistence.ErrDuplicate)
	}
	if !reservation.Start.Before(reservation.End) {
		return fmt.Errorf("memory: reservation %s: %w", reservation.ID, persistence.ErrConstraintViolation)
	}
	if reservation.RecurrenceRuleID != nil {
		if _, ok := t.data.rules[*reservation.RecurrenceRuleID]; !ok {
			return fmt.Errorf("memory: recurrence %s: %w", *reservation.RecurrenceRuleID, persistence.ErrForeignKeyViolation)
		}
	}

	t.data.reservations[reservation.ID] = cloneReservation(reservation)
	return nil
}

func (t *tx) UpdateReservation(_ context.Context, reservation persistence.Reservation) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.reservations[reservation.ID]; !ok {
		return persistence.ErrNotFound
	}

	t.data.reservations[reservation.ID] = cloneReservation(reservation)
	return nil
}

func (t *tx) GetReservation(_ context.Context, id string) (persistence.Reservation, error) {
	reservation, ok := t.data.reservations[id]
	if !ok {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	return cloneReservation(reservation), nil
}

// ListReservations returns matching reservations ordered by start time, then ID.
func (t *tx) ListReservations(_ context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	reservations := make([]persistence.Reservation, 0)
	for _, reservation := range t.data.reservations {
		if filter.MatchesReservation(reservation) {
			reservations = append(reservations, cloneReservation(reservation))
		}
	}

	sort.Slice(reservations, func(i, j int) bool {
		if reservations[i].Start.Equal(reservations[j].Start) {
			return reservations[i].ID < reservations[j].ID
		}
		return reservations[i].Start.Before(reservations[j].Start)
	})

	return reservations, nil
}

// --- RecurrenceRepository implementation ---

func (t *tx) CreateRecurrence(_ context.Context, rule persistence.RecurrenceRule) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.rules[rule.ID]; ok {
		return fmt.Errorf("memory: recurrence %s: %w", rule.ID, persistence.ErrDuplicate)
	}
	if rule.Interval < 1 {
		return fmt.Errorf("memory: recurrence %s: %w", rule.ID, persistence.ErrConstraintViolation)
	}

	t.data.rules[rule.ID] = cloneRecurrence(rule)
	return nil
}

func (t *tx) GetRecurrence(_ context.Context, id string) (persistence.RecurrenceRule, error) {
	rule, ok := t.data.rules[id]
	if !ok {
		return persistence.RecurrenceRule{}, persistence.ErrNotFound
	}
	return cloneRecurrence(rule), nil
}

// --- EventRepository implementation ---

func (t *tx) AppendEvent(_ context.Context, event persistence.ReservationEvent) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.reservations[event.ReservationID]; !ok {
		return fmt.Errorf("memory: event %s: %w", event.ID, persistence.ErrForeignKeyViolation)
	}
	for _, existing := range t.data.events {
		if existing.ID == event.ID {
			return fmt.Errorf("memory: event %s: %w", event.ID, persistence.ErrDuplicate)
		}
	}

	t.data.events = append(t.data.events, cloneEvent(event))
	return nil
}

// ListEvents returns the reservation's events in the order they were appended.
func (t *tx) ListEvents(_ context.Context, reservationID string) ([]persistence.ReservationEvent, error) {
	events := make([]persistence.ReservationEvent, 0)
	for _, event := range t.data.events {
		if event.ReservationID == reservationID {
			events = append(events, cloneEvent(event))
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})

	return events, nil
}

// --- WaitlistRepository implementation ---

func (t *tx) CreateWaitlistEntry(_ context.Context, entry persistence.WaitlistEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.waitlist[entry.ID]; ok {
		return fmt.Errorf("memory: waitlist entry %s: %w", entry.ID, persistence.ErrDuplicate)
	}
	if entry.Position < 1 || !entry.DesiredStart.Before(entry.DesiredEnd) {
		return fmt.Errorf("memory: waitlist entry %s: %w", entry.ID, persistence.ErrConstraintViolation)
	}

	t.data.waitlist[entry.ID] = cloneWaitlistEntry(entry)
	return nil
}

func (t *tx) UpdateWaitlistEntry(_ context.Context, entry persistence.WaitlistEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.waitlist[entry.ID]; !ok {
		return persistence.ErrNotFound
	}

	t.data.waitlist[entry.ID] = cloneWaitlistEntry(entry)
	return nil
}

func (t *tx) GetWaitlistEntry(_ context.Context, id string) (persistence.WaitlistEntry, error) {
	entry, ok := t.data.waitlist[id]
	if !ok {
		return persistence.WaitlistEntry{}, persistence.ErrNotFound
	}
	return cloneWaitlistEntry(entry), nil
}

// ListWaitlistEntries returns matching entries ordered by position, creation time, then ID.
func (t *tx) ListWaitlistEntries(_ context.Context, filter persistence.WaitlistFilter) ([]persistence.WaitlistEntry, error) {
	entries := make([]persistence.WaitlistEntry, 0)
	for _, entry := range t.data.waitlist {
		if filter.MatchesEntry(entry) {
			entries = append(entries, cloneWaitlistEntry(entry))
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Position != entries[j].Position {
			return entries[i].Position < entries[j].Position
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})

	return entries, nil
}

// --- ApprovalRepository implementation ---

func (t *tx) CreateApprovalRequest(_ context.Context, request persistence.ApprovalRequest) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.approvals[request.ID]; ok {
		return fmt.Errorf("memory: approval %s: %w", request.ID, persistence.ErrDuplicate)
	}
	if _, ok := t.data.reservations[request.ReservationID]; !ok {
		return fmt.Errorf("memory: approval %s: %w", request.ID, persistence.ErrForeignKeyViolation)
	}
	for _, existing := range t.data.approvals {
		if existing.ReservationID == request.ReservationID {
			return fmt.Errorf("memory: approval for reservation %s: %w", request.ReservationID, persistence.ErrDuplicate)
		}
	}

	t.data.approvals[request.ID] = cloneApproval(request)
	return nil
}

func (t *tx) UpdateApprovalRequest(_ context.Context, request persistence.ApprovalRequest) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.data.approvals[request.ID]; !ok {
		return persistence.ErrNotFound
	}

	t.data.approvals[request.ID] = cloneApproval(request)
	return nil
}

func (t *tx) GetApprovalRequest(_ context.Context, id string) (persistence.ApprovalRequest, error) {
	request, ok := t.data.approvals[id]
	if !ok {
		return persistence.ApprovalRequest{}, persistence.ErrNotFound
	}
	return cloneApproval(request), nil
}

func (t *tx) GetApprovalRequestByReservation(_ context.Context, reservationID string) (persistence.ApprovalRequest, error) {
	for _, request := range t.data.approvals {
		if request.ReservationID == reservationID {
			return cloneApproval(request), nil
		}
	}
	return persistence.ApprovalRequest{}, persistence.ErrNotFound
}

// ListApprovalRequests returns matching requests ordered by creation time, then ID.
func (t *tx) ListApprovalRequests(_ context.Context, filter persistence.ApprovalFilter) ([]persistence.ApprovalRequest, error) {
	requests := make([]persistence.ApprovalRequest, 0)
	for _, request := range t.data.approvals {
		if filter.MatchesRequest(request) {
			requests = append(requests, cloneApproval(request))
		}
	}

	sort.Slice(requests, func(i, j int) bool {
		if requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].ID < requests[j].ID
		}
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})

	return requests, nil
}

func (t *tx) GetApprovalSettings(_ context.Context, resourceID string) (persistence.ResourceApprovalSettings, error) {
	settings, ok := t.data.settings[resourceID]
	if !ok {
		return persistence.ResourceApprovalSettings{}, persistence.ErrNotFound
	}
	return cloneSettings(settings), nil
}

func (t *tx) UpsertApprovalSettings(_ context.Context, settings persistence.ResourceApprovalSettings) error {
	if err := t.writable(); err != nil {
		return err
	}
	if settings.ResourceID == "" {
		return fmt.Errorf("memory: approval settings: %w", persistence.ErrConstraintViolation)
	}

	t.data.settings[settings.ResourceID] = cloneSettings(settings)
	return nil
}
