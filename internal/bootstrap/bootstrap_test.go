package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/config"
	"github.com/example/resource-scheduler/internal/persistence/memory"
	"github.com/example/resource-scheduler/internal/persistence/sqlite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Storage = config.StorageMemory

		store, err := OpenStore(context.Background(), cfg, discardLogger())
		if err != nil {
			t.Fatalf("OpenStore returned error: %v", err)
		}
		if _, ok := store.(*memory.Store); !ok {
			t.Fatalf("expected memory store, got %T", store)
		}
	})

	t.Run("sqlite is migrated and usable", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.SQLiteDSN = filepath.Join(t.TempDir(), "scheduler.db")

		store, err := OpenStore(context.Background(), cfg, discardLogger())
		if err != nil {
			t.Fatalf("OpenStore returned error: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		if _, ok := store.(*sqlite.Store); !ok {
			t.Fatalf("expected sqlite store, got %T", store)
		}

		services := NewServices(cfg, store, discardLogger())
		start := time.Now().Add(48 * time.Hour).Truncate(time.Hour)
		reservation, err := services.Reservations.CreateReservation(context.Background(), application.CreateReservationParams{
			Principal: application.Principal{UserID: "alice"},
			Input:     application.ReservationInput{ResourceID: "room-1", Start: start, End: start.Add(time.Hour)},
		})
		if err != nil {
			t.Fatalf("CreateReservation returned error: %v", err)
		}
		if len(reservation.ID) != 36 {
			t.Fatalf("expected a uuid identifier, got %q", reservation.ID)
		}
	})

	t.Run("unknown storage", func(t *testing.T) {
		t.Parallel()
		cfg := config.Default()
		cfg.Storage = "postgres"
		if _, err := OpenStore(context.Background(), cfg, discardLogger()); err == nil {
			t.Fatalf("expected error for unknown storage")
		}
	})
}

func TestPolicyFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.PendingBlocks = true
	cfg.OfferTTL = 10 * time.Minute
	cfg.MaxBulkItems = 7

	policy := Policy(cfg)
	if !policy.PendingBlocksConflicts || policy.IdempotentWaitlistLeave {
		t.Fatalf("unexpected flags: %+v", policy)
	}
	if policy.OfferTTL != 10*time.Minute || policy.MaxBatchSize != 7 {
		t.Fatalf("unexpected limits: %+v", policy)
	}
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.LogLevel = "warn"
	var buf bytes.Buffer
	logger := NewLogger(&buf, cfg)

	logger.Info("hidden")
	logger.Warn("shown")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "shown" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	t.Setenv("SCHEDULER_HTTP_PORT", "")
	if err := os.Unsetenv("SCHEDULER_HTTP_PORT"); err != nil {
		t.Fatalf("unset: %v", err)
	}
	t.Setenv(config.EnvConfigFile, "")

	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("SCHEDULER_HTTP_PORT=9191\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// godotenv sets the variable outside t.Setenv; restore it afterwards.
	t.Cleanup(func() { _ = os.Unsetenv("SCHEDULER_HTTP_PORT") })

	cfg, err := LoadConfig(envFile, "")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.HTTPPort != 9191 {
		t.Fatalf("expected port from env file, got %d", cfg.HTTPPort)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"), ""); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}
