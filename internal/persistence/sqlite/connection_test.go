package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resource-scheduler/internal/persistence"
)

func newMockPool(t *testing.T) (*ConnectionPool, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	retry := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	return NewConnectionPool(sqlx.NewDb(db, "sqlmock"), retry), mock
}

func TestConnectionPool_WithTransaction(t *testing.T) {
	t.Parallel()

	t.Run("commits when the function succeeds", func(t *testing.T) {
		t.Parallel()

		pool, mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE reservations").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := pool.WithTransaction(context.Background(), func(tx *sqlx.Tx) error {
			_, err := tx.Exec("UPDATE reservations SET status = 'cancelled'")
			return err
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when the function fails", func(t *testing.T) {
		t.Parallel()

		pool, mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectRollback()
		boom := errors.New("boom")

		err := pool.WithTransaction(context.Background(), func(tx *sqlx.Tx) error {
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and re-panics", func(t *testing.T) {
		t.Parallel()

		pool, mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.Panics(t, func() {
			_ = pool.WithTransaction(context.Background(), func(tx *sqlx.Tx) error {
				panic("boom")
			})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retries busy transactions", func(t *testing.T) {
		t.Parallel()

		pool, mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectCommit()

		attempts := 0
		err := pool.WithTransaction(context.Background(), func(tx *sqlx.Tx) error {
			attempts++
			if attempts == 1 {
				return fmt.Errorf("%w: locked", ErrBusy)
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("does not retry domain errors", func(t *testing.T) {
		t.Parallel()

		pool, mock := newMockPool(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		attempts := 0
		err := pool.WithTransaction(context.Background(), func(tx *sqlx.Tx) error {
			attempts++
			return persistence.ErrDuplicate
		})

		assert.ErrorIs(t, err, persistence.ErrDuplicate)
		assert.Equal(t, 1, attempts)
	})
}

func TestWeekdayEncoding(t *testing.T) {
	t.Parallel()

	mask := encodeWeekdays([]time.Weekday{time.Sunday, time.Wednesday, time.Wednesday, 9})
	assert.Equal(t, 1|1<<3, mask)
	assert.Equal(t, []time.Weekday{time.Sunday, time.Wednesday}, decodeWeekdays(mask))
	assert.Nil(t, decodeWeekdays(0))
}
