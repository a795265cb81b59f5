package http

import (
	"context"
	"net/http"
)

// RouterConfig selects the handler groups to mount. Nil groups are not routed.
type RouterConfig struct {
	Reservations *ReservationHandler
	Bulk         *BulkHandler
	Waitlist     *WaitlistHandler
	Approvals    *ApprovalHandler
	Middleware   []func(http.Handler) http.Handler
	// Readiness backs GET /readyz; nil reports ready.
	Readiness func(ctx context.Context) error
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if cfg.Reservations != nil {
		mux.HandleFunc("POST /reservations", cfg.Reservations.Create)
		mux.HandleFunc("GET /reservations", cfg.Reservations.List)
		mux.HandleFunc("POST /reservations/recurring", cfg.Reservations.CreateRecurring)
		mux.HandleFunc("GET /reservations/{id}", cfg.Reservations.Get)
		mux.HandleFunc("POST /reservations/{id}/cancel", cfg.Reservations.Cancel)
		mux.HandleFunc("GET /reservations/{id}/history", cfg.Reservations.History)
		mux.HandleFunc("GET /reservations/{id}/recurrence", cfg.Reservations.Recurrence)
	}

	if cfg.Bulk != nil {
		mux.HandleFunc("POST /reservations/bulk", cfg.Bulk.Create)
		mux.HandleFunc("POST /reservations/bulk/validate", cfg.Bulk.Validate)
		mux.HandleFunc("POST /reservations/bulk/cancel", cfg.Bulk.Cancel)
		mux.HandleFunc("POST /reservations/import", cfg.Bulk.Import)
		mux.HandleFunc("GET /reservations/export", cfg.Bulk.Export)
	}

	if cfg.Waitlist != nil {
		mux.HandleFunc("POST /waitlist", cfg.Waitlist.Join)
		mux.HandleFunc("GET /waitlist", cfg.Waitlist.List)
		mux.HandleFunc("GET /waitlist/{id}", cfg.Waitlist.Get)
		mux.HandleFunc("POST /waitlist/{id}/accept", cfg.Waitlist.Accept)
		mux.HandleFunc("DELETE /waitlist/{id}", cfg.Waitlist.Leave)
	}

	if cfg.Approvals != nil {
		mux.HandleFunc("GET /approvals", cfg.Approvals.ListPending)
		mux.HandleFunc("POST /approvals/{id}/respond", cfg.Approvals.Respond)
		mux.HandleFunc("GET /resources/{id}/approval-settings", cfg.Approvals.GetSettings)
		mux.HandleFunc("PUT /resources/{id}/approval-settings", cfg.Approvals.ConfigureResource)
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	// Health and readiness checks bypass the middleware chain and need no identity.
	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	root.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Readiness != nil {
			if err := cfg.Readiness(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	root.Handle("/", handler)
	return root
}
