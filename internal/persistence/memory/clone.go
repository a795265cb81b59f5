package memory

import (
	"time"

	"github.com/example/resource-scheduler/internal/persistence"
)

func (d *dataset) clone() *dataset {
	next := newDataset()
	for id, reservation := range d.reservations {
		next.reservations[id] = cloneReservation(reservation)
	}
	for id, rule := range d.rules {
		next.rules[id] = cloneRecurrence(rule)
	}
	next.events = make([]persistence.ReservationEvent, 0, len(d.events))
	for _, event := range d.events {
		next.events = append(next.events, cloneEvent(event))
	}
	for id, entry := range d.waitlist {
		next.waitlist[id] = cloneWaitlistEntry(entry)
	}
	for id, request := range d.approvals {
		next.approvals[id] = cloneApproval(request)
	}
	for id, settings := range d.settings {
		next.settings[id] = cloneSettings(settings)
	}
	return next
}

func cloneReservation(reservation persistence.Reservation) persistence.Reservation {
	clone := reservation
	clone.RecurrenceRuleID = cloneString(reservation.RecurrenceRuleID)
	clone.CancellationReason = cloneString(reservation.CancellationReason)
	clone.CancelledAt = cloneTime(reservation.CancelledAt)
	return clone
}

func cloneRecurrence(rule persistence.RecurrenceRule) persistence.RecurrenceRule {
	clone := rule
	if rule.DaysOfWeek != nil {
		clone.DaysOfWeek = make([]time.Weekday, len(rule.DaysOfWeek))
		copy(clone.DaysOfWeek, rule.DaysOfWeek)
	}
	if rule.OccurrenceCount != nil {
		count := *rule.OccurrenceCount
		clone.OccurrenceCount = &count
	}
	clone.EndDate = cloneTime(rule.EndDate)
	return clone
}

func cloneEvent(event persistence.ReservationEvent) persistence.ReservationEvent {
	clone := event
	clone.Detail = cloneString(event.Detail)
	return clone
}

func cloneWaitlistEntry(entry persistence.WaitlistEntry) persistence.WaitlistEntry {
	clone := entry
	clone.OfferedAt = cloneTime(entry.OfferedAt)
	clone.OfferExpiresAt = cloneTime(entry.OfferExpiresAt)
	return clone
}

func cloneApproval(request persistence.ApprovalRequest) persistence.ApprovalRequest {
	clone := request
	clone.RequestMessage = cloneString(request.RequestMessage)
	clone.ResponseMessage = cloneString(request.ResponseMessage)
	clone.RespondedAt = cloneTime(request.RespondedAt)
	return clone
}

func cloneSettings(settings persistence.ResourceApprovalSettings) persistence.ResourceApprovalSettings {
	clone := settings
	clone.DefaultApproverID = cloneString(settings.DefaultApproverID)
	return clone
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}
