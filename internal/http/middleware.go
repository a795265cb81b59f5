package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/example/resource-scheduler/internal/application"
)

const (
	// HeaderUserID carries the authenticated user id set by the fronting proxy.
	HeaderUserID = "X-User-ID"
	// HeaderUserAdmin marks the caller as an administrator when set to a true value.
	HeaderUserAdmin = "X-User-Admin"
)

var errMissingIdentity = errors.New("authentication required")

// IdentityResolver extracts the authenticated principal from a request.
// ok is false when the request carries no identity.
type IdentityResolver interface {
	Resolve(r *http.Request) (principal application.Principal, ok bool, err error)
}

// HeaderIdentityResolver trusts identity headers written by an authenticating proxy.
type HeaderIdentityResolver struct{}

// Resolve implements IdentityResolver.
func (HeaderIdentityResolver) Resolve(r *http.Request) (application.Principal, bool, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return application.Principal{}, false, nil
	}

	principal := application.Principal{UserID: userID}
	if raw := strings.TrimSpace(r.Header.Get(HeaderUserAdmin)); raw != "" {
		admin, err := strconv.ParseBool(raw)
		if err != nil {
			return application.Principal{}, false, errors.New("invalid " + HeaderUserAdmin + " header")
		}
		principal.IsAdmin = admin
	}
	return principal, true, nil
}

// RequireIdentity rejects requests without an identity and stores the principal in the context.
func RequireIdentity(resolver IdentityResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		resolver = HeaderIdentityResolver{}
	}
	responder := newResponder(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok, err := resolver.Resolve(r)
			if err != nil {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, err)
				return
			}
			if !ok {
				responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingIdentity)
				return
			}

			ctx := r.Context()
			if logger := LoggerFromContext(ctx); logger != nil {
				ctx = ContextWithLogger(ctx, logger.With("user_id", principal.UserID))
			}
			ctx = ContextWithPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := counter.Add(1)
			logger := base.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)

			ctx := ContextWithLogger(r.Context(), logger)
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			logger.InfoContext(ctx, "request started")
			next.ServeHTTP(recorder, r.WithContext(ctx))
			logger.InfoContext(ctx, "request completed", "status", recorder.status, "duration", time.Since(start))
		})
	}
}
