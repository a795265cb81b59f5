package application

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/scheduler"
)

var (
	importHeader = []string{"resource_id", "start_time", "end_time"}
	exportHeader = []string{"id", "resource_id", "user_id", "start_time", "end_time", "status", "recurrence_rule_id"}
)

// BulkService runs batches of independent reservation operations. Every item gets its
// own transaction, so one failure never undoes another item.
type BulkService struct {
	*core
	approvals    *ApprovalService
	reservations *ReservationService
}

// NewBulkService wires dependencies for bulk operations. Nil services are built from deps.
func NewBulkService(deps Dependencies, approvals *ApprovalService, reservations *ReservationService) *BulkService {
	if approvals == nil {
		approvals = NewApprovalService(deps)
	}
	if reservations == nil {
		reservations = NewReservationService(deps, nil)
	}
	return &BulkService{core: newCore(deps), approvals: approvals, reservations: reservations}
}

func (s *BulkService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BulkService", operation, attrs...)
}

type bulkItem struct {
	input ReservationInput
	err   error
}

func (s *BulkService) checkBatchSize(field string, n int) error {
	switch {
	case n == 0:
		return newValidationError(field, "at least one item is required")
	case n > s.policy.MaxBatchSize:
		return newValidationError(field, fmt.Sprintf("at most %d items are allowed, got %d", s.policy.MaxBatchSize, n))
	}
	return nil
}

// BulkCreate books each item through the approval-aware entry point. With dryRun the
// items are only evaluated and nothing is persisted. If ctx ends mid-batch the items not
// yet attempted are skipped and the partial result is returned with the context error.
func (s *BulkService) BulkCreate(ctx context.Context, principal Principal, inputs []ReservationInput, dryRun bool) (BulkResult, error) {
	items := make([]bulkItem, len(inputs))
	for i, input := range inputs {
		items[i] = bulkItem{input: input}
	}
	return s.create(ctx, "BulkCreate", principal, items, dryRun)
}

func (s *BulkService) create(ctx context.Context, operation string, principal Principal, items []bulkItem, dryRun bool) (result BulkResult, err error) {
	if s == nil {
		return BulkResult{}, fmt.Errorf("BulkService is nil")
	}
	if err = s.ready(); err != nil {
		return BulkResult{}, err
	}

	logger := s.loggerWith(ctx, operation,
		"user_id", principal.UserID,
		"items", len(items),
		"dry_run", dryRun,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "bulk create failed", "error", err, "error_kind", ErrorKind(err),
				"success", result.Success, "skipped", result.Skipped)
			return
		}
		logger.With(
			"success", result.Success,
			"failed", result.Failed,
		).InfoContext(ctx, "bulk create finished")
	}()

	if err = s.checkBatchSize("reservations", len(items)); err != nil {
		return BulkResult{}, err
	}

	result = BulkResult{DryRun: dryRun}
	if dryRun {
		planned, planErr := s.plan(ctx, principal, items, OutcomeCreated)
		if planErr != nil {
			return BulkResult{}, planErr
		}
		for _, item := range planned {
			result.record(item)
		}
		return result, nil
	}

	for i, item := range items {
		if err = ctx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				result.record(BulkItemResult{Index: j, Outcome: OutcomeSkipped})
			}
			return result, err
		}
		if item.err != nil {
			result.record(BulkItemResult{Index: i, Outcome: OutcomeFailed, Err: item.err})
			continue
		}
		created, createErr := s.approvals.CreateReservation(ctx, CreateReservationParams{Principal: principal, Input: item.input})
		if createErr != nil {
			s.logItemFailure(ctx, logger, i, createErr)
			result.record(BulkItemResult{Index: i, Outcome: OutcomeFailed, Err: createErr})
			continue
		}
		result.record(BulkItemResult{
			Index:         i,
			Outcome:       OutcomeCreated,
			ReservationID: created.Reservation.ID,
			Status:        created.Reservation.Status,
		})
	}
	return result, nil
}

// Validate evaluates a batch the way BulkCreate would without persisting anything.
func (s *BulkService) Validate(ctx context.Context, principal Principal, inputs []ReservationInput) (BulkValidation, error) {
	if s == nil {
		return BulkValidation{}, fmt.Errorf("BulkService is nil")
	}
	if err := s.ready(); err != nil {
		return BulkValidation{}, err
	}
	if err := s.checkBatchSize("reservations", len(inputs)); err != nil {
		return BulkValidation{}, err
	}

	items := make([]bulkItem, len(inputs))
	for i, input := range inputs {
		items[i] = bulkItem{input: input}
	}
	planned, err := s.plan(ctx, principal, items, OutcomeValid)
	if err != nil {
		return BulkValidation{}, err
	}

	validation := BulkValidation{Valid: true, Items: planned}
	for _, item := range planned {
		if item.Outcome == OutcomeFailed {
			validation.Valid = false
		}
	}
	return validation, nil
}

// plan evaluates every item inside one read-only transaction. Items that would be booked are
// remembered so later items in the batch are checked against them too.
func (s *BulkService) plan(ctx context.Context, principal Principal, items []bulkItem, success BulkOutcome) ([]BulkItemResult, error) {
	results := make([]BulkItemResult, 0, len(items))
	err := s.store.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx persistence.Tx) error {
		results = results[:0]
		planned := make(map[string][]scheduler.Booking)
		now := s.clock()
		for i, item := range items {
			status, err := s.planItem(ctx, tx, principal, i, item, now, planned)
			if err != nil {
				results = append(results, BulkItemResult{Index: i, Outcome: OutcomeFailed, Err: err})
				continue
			}
			results = append(results, BulkItemResult{Index: i, Outcome: success, Status: status})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *BulkService) planItem(ctx context.Context, tx persistence.Tx, principal Principal, index int, item bulkItem, now time.Time, planned map[string][]scheduler.Booking) (persistence.ReservationStatus, error) {
	if item.err != nil {
		return "", item.err
	}
	input := item.input
	if vErr := validateWindowFields(input.ResourceID, input.Start, input.End, now, "start_time", "end_time"); vErr.HasErrors() {
		return "", vErr
	}
	if err := s.authorize(ctx, principal, input.ResourceID); err != nil {
		return "", err
	}

	settings, err := approvalSettings(ctx, tx, input.ResourceID)
	if err != nil {
		return "", err
	}
	status := persistence.ReservationActive
	if settings.RequiresApproval {
		if settings.DefaultApproverID == nil || *settings.DefaultApproverID == "" {
			return "", fmt.Errorf("resource %s requires approval but has no approver", input.ResourceID)
		}
		status = persistence.ReservationPendingApproval
	}

	window := scheduler.Window{Start: input.Start, End: input.End}
	if err := s.checkConflict(ctx, tx, input.ResourceID, window, ""); err != nil {
		return "", err
	}
	if conflicts := scheduler.DetectConflicts(planned[input.ResourceID], window, ""); len(conflicts) > 0 {
		return "", &ConflictError{
			Kind:           ConflictOverlap,
			ResourceID:     input.ResourceID,
			Start:          input.Start,
			End:            input.End,
			ConflictingIDs: scheduler.IDs(conflicts),
		}
	}
	if s.blocks(status) {
		planned[input.ResourceID] = append(planned[input.ResourceID], scheduler.Booking{
			ID:         fmt.Sprintf("item-%d", index),
			ResourceID: input.ResourceID,
			Start:      input.Start,
			End:        input.End,
		})
	}
	return status, nil
}

// BulkCancel cancels each id independently. Unknown and foreign ids are failures; repeated
// ids, and ids left unprocessed when ctx ends, are skipped.
func (s *BulkService) BulkCancel(ctx context.Context, principal Principal, ids []string, reason string) (result BulkResult, err error) {
	if s == nil {
		return BulkResult{}, fmt.Errorf("BulkService is nil")
	}
	if err = s.ready(); err != nil {
		return BulkResult{}, err
	}

	logger := s.loggerWith(ctx, "BulkCancel",
		"user_id", principal.UserID,
		"items", len(ids),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "bulk cancel failed", "error", err, "error_kind", ErrorKind(err),
				"success", result.Success, "skipped", result.Skipped)
			return
		}
		logger.With(
			"success", result.Success,
			"failed", result.Failed,
			"skipped", result.Skipped,
		).InfoContext(ctx, "bulk cancel finished")
	}()

	if err = s.checkBatchSize("reservation_ids", len(ids)); err != nil {
		return BulkResult{}, err
	}

	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if err = ctx.Err(); err != nil {
			for j := i; j < len(ids); j++ {
				result.record(BulkItemResult{Index: j, Outcome: OutcomeSkipped, ReservationID: strings.TrimSpace(ids[j])})
			}
			return result, err
		}
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup && id != "" {
			result.record(BulkItemResult{Index: i, Outcome: OutcomeSkipped, ReservationID: id})
			continue
		}
		seen[id] = struct{}{}

		cancelled, cancelErr := s.reservations.CancelReservation(ctx, CancelReservationParams{
			Principal:     principal,
			ReservationID: id,
			Reason:        reason,
		})
		if cancelErr != nil {
			s.logItemFailure(ctx, logger, i, cancelErr)
			result.record(BulkItemResult{Index: i, Outcome: OutcomeFailed, ReservationID: id, Err: cancelErr})
			continue
		}
		result.record(BulkItemResult{
			Index:         i,
			Outcome:       OutcomeCancelled,
			ReservationID: cancelled.ID,
			Status:        cancelled.Status,
		})
	}
	return result, nil
}

// ImportCSV reads resource_id,start_time,end_time rows after a header row and books them
// like BulkCreate. Rows that cannot be parsed fail individually.
func (s *BulkService) ImportCSV(ctx context.Context, principal Principal, r io.Reader, dryRun bool) (BulkResult, error) {
	if s == nil {
		return BulkResult{}, fmt.Errorf("BulkService is nil")
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return BulkResult{}, newValidationError("file", "csv header row is required")
	}
	if err != nil {
		return BulkResult{}, newValidationError("file", fmt.Sprintf("invalid csv: %v", err))
	}
	if !matchesHeader(header, importHeader) {
		return BulkResult{}, newValidationError("file", "csv header must be "+strings.Join(importHeader, ","))
	}

	var items []bulkItem
	for {
		record, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			var parseErr *csv.ParseError
			if !errors.As(readErr, &parseErr) {
				return BulkResult{}, fmt.Errorf("read csv: %w", readErr)
			}
			items = append(items, bulkItem{err: newValidationError("row", parseErr.Error())})
			continue
		}
		items = append(items, parseImportRow(record))
	}

	return s.create(ctx, "ImportCSV", principal, items, dryRun)
}

func parseImportRow(record []string) bulkItem {
	if len(record) != len(importHeader) {
		return bulkItem{err: newValidationError("row", fmt.Sprintf("expected %d columns, got %d", len(importHeader), len(record)))}
	}
	vErr := &ValidationError{}
	input := ReservationInput{ResourceID: strings.TrimSpace(record[0])}
	var err error
	if input.Start, err = time.Parse(time.RFC3339, strings.TrimSpace(record[1])); err != nil {
		vErr.add("start_time", "start_time must be an RFC 3339 timestamp")
	}
	if input.End, err = time.Parse(time.RFC3339, strings.TrimSpace(record[2])); err != nil {
		vErr.add("end_time", "end_time must be an RFC 3339 timestamp")
	}
	if vErr.HasErrors() {
		return bulkItem{err: vErr}
	}
	return bulkItem{input: input}
}

func matchesHeader(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if !strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(got[i], "\ufeff")), want[i]) {
			return false
		}
	}
	return true
}

// ExportCSV writes the reservations matching params, with a header row.
func (s *BulkService) ExportCSV(ctx context.Context, params ListReservationsParams, w io.Writer) error {
	if s == nil {
		return fmt.Errorf("BulkService is nil")
	}
	reservations, err := s.reservations.ListReservations(ctx, params)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range reservations {
		ruleID := ""
		if r.RecurrenceRuleID != nil {
			ruleID = *r.RecurrenceRuleID
		}
		record := []string{
			r.ID,
			r.ResourceID,
			r.UserID,
			r.Start.UTC().Format(time.RFC3339),
			r.End.UTC().Format(time.RFC3339),
			string(r.Status),
			ruleID,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func (s *BulkService) logItemFailure(ctx context.Context, logger *slog.Logger, index int, err error) {
	if ErrorKind(err) == "unexpected" {
		logger.ErrorContext(ctx, "bulk item failed", "index", index, "error", err, "error_kind", ErrorKind(err))
		return
	}
	logger.DebugContext(ctx, "bulk item failed", "index", index, "error", err, "error_kind", ErrorKind(err))
}
