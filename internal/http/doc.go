// Package http provides HTTP handlers and middleware for the reservation API.
//
// The router exposes the following endpoints:
//   - POST /reservations: creates a reservation, routing it through approval when the
//     resource requires it. Body: {"resource_id","start_time","end_time","request_message"}.
//     Response: {"reservation","approval"} with approval omitted for immediate bookings.
//   - GET /reservations, GET /reservations/{id}, GET /reservations/{id}/history:
//     listing (resource_id, user_id, from, to, status query parameters), lookup and
//     lifecycle history.
//   - POST /reservations/{id}/cancel: cancels a reservation. Body: {"reason"}.
//   - POST /reservations/recurring: creates every occurrence of a recurrence rule or none.
//   - POST /reservations/bulk, /bulk/validate, /bulk/cancel: batch operations reporting
//     per-item outcomes in input order.
//   - POST /reservations/import, GET /reservations/export: CSV with the header
//     resource_id,start_time,end_time for import.
//   - POST /waitlist, GET /waitlist, GET /waitlist/{id}, POST /waitlist/{id}/accept,
//     DELETE /waitlist/{id}: waitlist membership and offers.
//   - GET /approvals, POST /approvals/{id}/respond: the approver's queue and decisions.
//   - GET /resources/{id}/approval-settings, PUT /resources/{id}/approval-settings.
//
// Every endpoint requires an identity supplied by an IdentityResolver. Timestamps are
// RFC 3339 strings. Request/response DTOs live alongside their respective handlers.
package http
