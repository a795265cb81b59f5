package application

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/example/resource-scheduler/internal/logging"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}
	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestServiceLoggerUsesRequestLogger(t *testing.T) {
	t.Parallel()

	var requestBuf, baseBuf bytes.Buffer
	request := slog.New(slog.NewJSONHandler(&requestBuf, nil)).With("request_id", "req-1")
	base := slog.New(slog.NewJSONHandler(&baseBuf, nil))
	ctx := logging.ContextWithLogger(context.Background(), request)

	serviceLogger(ctx, base, "reservations", "cancel", "reservation_id", "r-1").Info("cancelled")

	if baseBuf.Len() != 0 {
		t.Fatalf("base logger should not be used when the context carries one")
	}
	var entry map[string]any
	if err := json.Unmarshal(requestBuf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	for key, want := range map[string]string{
		"request_id":     "req-1",
		"service":        "reservations",
		"operation":      "cancel",
		"reservation_id": "r-1",
	} {
		if entry[key] != want {
			t.Fatalf("expected %s=%s, got %v", key, want, entry[key])
		}
	}
}
