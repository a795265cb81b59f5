package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/resource-scheduler/internal/application"
)

type stubResolver struct {
	principal application.Principal
	ok        bool
	err       error
}

func (s stubResolver) Resolve(*http.Request) (application.Principal, bool, error) {
	return s.principal, s.ok, s.err
}

func TestRequireIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		headers    map[string]string
		resolver   IdentityResolver
		wantStatus int
		want       application.Principal
	}{
		{
			name:       "missing headers",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "user header",
			headers:    map[string]string{HeaderUserID: "alice"},
			wantStatus: http.StatusOK,
			want:       application.Principal{UserID: "alice"},
		},
		{
			name:       "admin header",
			headers:    map[string]string{HeaderUserID: "root", HeaderUserAdmin: "true"},
			wantStatus: http.StatusOK,
			want:       application.Principal{UserID: "root", IsAdmin: true},
		},
		{
			name:       "malformed admin header",
			headers:    map[string]string{HeaderUserID: "root", HeaderUserAdmin: "sometimes"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "custom resolver",
			resolver:   stubResolver{principal: application.Principal{UserID: "svc"}, ok: true},
			wantStatus: http.StatusOK,
			want:       application.Principal{UserID: "svc"},
		},
		{
			name:       "resolver failure",
			resolver:   stubResolver{err: errors.New("token expired")},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var got application.Principal
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				principal, ok := PrincipalFromContext(r.Context())
				if !ok {
					t.Fatalf("principal missing from context")
				}
				got = principal
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/reservations", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			rec := httptest.NewRecorder()
			RequireIdentity(tc.resolver, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(next).ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantStatus == http.StatusOK && got != tc.want {
				t.Fatalf("expected principal %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestRequestLoggerAttachesScopedLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scoped := LoggerFromContext(r.Context())
		if scoped == nil {
			t.Fatalf("expected request logger in context")
		}
		scoped.InfoContext(r.Context(), "inside handler")
		w.WriteHeader(http.StatusTeapot)
	})

	handler := RequestLogger(logger)(RequireIdentity(nil, logger)(next))
	req := httptest.NewRequest(http.MethodGet, "/waitlist", nil)
	req.Header.Set(HeaderUserID, "alice")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var sawHandler, sawCompleted bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		if entry["path"] != "/waitlist" || entry["request_id"] == nil {
			t.Fatalf("log line missing request attributes: %v", entry)
		}
		switch entry["msg"] {
		case "inside handler":
			sawHandler = entry["user_id"] == "alice"
		case "request completed":
			sawCompleted = entry["status"] == float64(http.StatusTeapot)
		}
	}
	if !sawHandler || !sawCompleted {
		t.Fatalf("expected handler and completion logs, got %s", buf.String())
	}
}

func TestHandleServiceErrorStatusMapping(t *testing.T) {
	t.Parallel()

	index := 2
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", &application.ValidationError{FieldErrors: map[string]string{"end_time": "bad"}}, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
		{"conflict", &application.ConflictError{Kind: application.ConflictOverlap, ResourceID: "room-1", Start: time.Now(), End: time.Now().Add(time.Hour), OccurrenceIndex: &index}, http.StatusConflict, "RESERVATION_CONFLICT"},
		{"state", &application.StateError{Entity: "reservation", ID: "r1", State: "cancelled", Operation: "cancel"}, http.StatusBadRequest, "INVALID_STATE"},
		{"forbidden", application.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"not found", errors.Join(errors.New("lookup"), application.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL"},
	}

	r := newResponder(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		r.handleServiceError(httptest.NewRequest(http.MethodGet, "/", nil).Context(), rec, tc.err)
		if rec.Code != tc.wantStatus {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.wantStatus, rec.Code)
		}
		var body errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if body.ErrorCode != tc.wantCode {
			t.Fatalf("%s: expected code %s, got %s", tc.name, tc.wantCode, body.ErrorCode)
		}
		if tc.name == "unexpected" && strings.Contains(body.Message, "disk") {
			t.Fatalf("internal error details leaked: %q", body.Message)
		}
		if tc.name == "conflict" && (body.Conflict == nil || body.Conflict.OccurrenceIndex == nil || *body.Conflict.OccurrenceIndex != 2) {
			t.Fatalf("expected occurrence index in conflict body, got %+v", body.Conflict)
		}
	}
}
