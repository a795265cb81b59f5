// Package bootstrap wires configuration, storage and services for the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/config"
	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/persistence/memory"
	"github.com/example/resource-scheduler/internal/persistence/sqlite"
	"github.com/example/resource-scheduler/internal/persistence/sqlite/migration"
	"github.com/example/resource-scheduler/internal/recurrence"
)

// LoadConfig reads envFile into the process environment when it exists and then loads
// the configuration. A non-empty configFile takes precedence over SCHEDULER_CONFIG_FILE.
func LoadConfig(envFile, configFile string) (config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

// NewLogger builds the JSON logger used by every binary.
func NewLogger(w io.Writer, cfg config.Config) *slog.Logger {
	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// OpenStore opens the configured store. SQLite databases are migrated before use.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		logger.WarnContext(ctx, "using in-memory storage; data is lost on exit")
		return memory.New(), nil
	case config.StorageSQLite, "":
		store, err := sqlite.Open(ctx, migration.DefaultSQLiteConfig(cfg.SQLiteDSN), logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// Services bundles the application services built from one store.
type Services struct {
	Store        persistence.Store
	Reservations *application.ReservationService
	Waitlist     *application.WaitlistService
	Approvals    *application.ApprovalService
	Bulk         *application.BulkService
}

// Policy maps configuration onto service policy.
func Policy(cfg config.Config) application.Policy {
	return application.Policy{
		PendingBlocksConflicts:  cfg.PendingBlocks,
		IdempotentWaitlistLeave: cfg.WaitlistLeaveIdempotent,
		OfferTTL:                cfg.OfferTTL,
		MaxBatchSize:            cfg.MaxBulkItems,
	}
}

// NewServices wires every service on store with production identifiers and clock.
func NewServices(cfg config.Config, store persistence.Store, logger *slog.Logger) *Services {
	deps := application.Dependencies{
		Store:       store,
		Authorizer:  application.AllowAll{},
		Policy:      Policy(cfg),
		IDGenerator: uuid.NewString,
		Logger:      logger,
	}
	reservations := application.NewReservationService(deps, recurrence.NewEngine(cfg.Location, cfg.MaxOccurrences))
	approvals := application.NewApprovalService(deps)
	return &Services{
		Store:        store,
		Reservations: reservations,
		Waitlist:     application.NewWaitlistService(deps),
		Approvals:    approvals,
		Bulk:         application.NewBulkService(deps, approvals, reservations),
	}
}
