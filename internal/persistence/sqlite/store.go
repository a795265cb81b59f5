package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() migration.Scanner {
	return migration.NewScanner(migrationFiles, "migrations")
}

// Store implements persistence.Store on SQLite.
type Store struct {
	pool *ConnectionPool
}

var _ persistence.Store = (*Store)(nil)

// NewStore wraps an already migrated connection pool.
func NewStore(pool *ConnectionPool) *Store {
	return &Store{pool: pool}
}

// Open connects to the database described by config, applies pending migrations and
// returns a ready Store.
func Open(ctx context.Context, config migration.SQLiteConfig, logger *slog.Logger) (*Store, error) {
	db, err := migration.Open(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := Migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewStore(NewConnectionPool(db, DefaultRetryConfig())), nil
}

// Migrate applies the embedded migrations to db.
func Migrate(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	manager := migration.NewManager(Migrations(), migration.NewSQLiteExecutor(db), logger)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTransaction runs fn inside an IMMEDIATE transaction when the pool is configured
// with _txlock=immediate, which serializes writers before their first read.
func (s *Store) WithTransaction(ctx context.Context, fn persistence.TxFunc) error {
	return s.pool.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		return fn(ctx, newTxRepository(tx, s.pool.mapper))
	})
}

// WithReadOnlyTransaction runs fn inside a read-only transaction.
func (s *Store) WithReadOnlyTransaction(ctx context.Context, fn persistence.TxFunc) error {
	return s.pool.WithReadOnlyTransaction(ctx, func(tx *sqlx.Tx) error {
		return fn(ctx, newTxRepository(tx, s.pool.mapper))
	})
}

// txRepository implements every repository against one transaction.
type txRepository struct {
	tx     *sqlx.Tx
	mapper *ErrorMapper
}

var _ persistence.Tx = (*txRepository)(nil)

func newTxRepository(tx *sqlx.Tx, mapper *ErrorMapper) *txRepository {
	return &txRepository{tx: tx, mapper: mapper}
}

// exec runs a write and reports persistence.ErrNotFound when no row was affected.
func (r *txRepository) exec(ctx context.Context, requireRow bool, query string, args ...any) error {
	result, err := r.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return r.mapper.MapError(err)
	}
	if !requireRow {
		return nil
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return r.mapper.MapError(err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// whereClause accumulates AND-ed conditions with their bind arguments.
type whereClause struct {
	conditions []string
	args       []any
}

func (w *whereClause) add(condition string, args ...any) {
	w.conditions = append(w.conditions, condition)
	w.args = append(w.args, args...)
}

// addIn appends "column IN (?)" expanded by sqlx.In.
func (w *whereClause) addIn(column string, values any) error {
	query, args, err := sqlx.In(column+" IN (?)", values)
	if err != nil {
		return err
	}
	w.add(query, args...)
	return nil
}

func (w *whereClause) String() string {
	if len(w.conditions) == 0 {
		return ""
	}
	clause := " WHERE " + w.conditions[0]
	for _, condition := range w.conditions[1:] {
		clause += " AND " + condition
	}
	return clause
}
