package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-builders/soulpull-backend/internal/domain/participation"
	"github.com/open-builders/soulpull-backend/internal/repository"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres")), mock
}

// exact matches the whole statement after whitespace is collapsed.
func exact(q string) string { return "^" + regexp.QuoteMeta(q) + "$" }

// tail matches the end of a statement, skipping the column list.
func tail(q string) string { return regexp.QuoteMeta(q) + "$" }

func TestUpdate_LookupsLockRows(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(tail("FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "points"}).AddRow(3, 10))
	mock.ExpectQuery(tail("WHERE user_id = $1 AND status <> 'REJECTED' AND closed_at IS NULL ORDER BY id DESC LIMIT 1 FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).AddRow(7, 3, "CONFIRMED"))
	mock.ExpectQuery(tail("FROM users WHERE telegram_id = $1 FOR UPDATE")).
		WithArgs(int64(500)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := s.Update(ctx, func(tx repository.Tx) error {
		u, err := tx.Users().GetByID(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(10), u.Points)
		p, err := tx.Participations().Current(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, participation.StatusConfirmed, p.Status)
		missing, err := tx.Users().GetByTelegramID(ctx, 500)
		assert.Nil(t, missing)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestView_LookupsDoNotLock(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(tail("FROM users WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectQuery(tail("FROM participations WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	err := s.View(ctx, func(tx repository.Tx) error {
		if _, err := tx.Users().GetByID(ctx, 3); err != nil {
			return err
		}
		_, err := tx.Participations().GetByID(ctx, 7)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_OwnerLookupsNeverLock(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(exact("SELECT user_id FROM participations WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(3))
	mock.ExpectQuery(exact("SELECT id FROM users WHERE telegram_id = $1")).
		WithArgs(int64(500)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err := s.Update(ctx, func(tx repository.Tx) error {
		owner, err := tx.Participations().OwnerOf(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(3), owner)
		id, err := tx.Users().IDByTelegramID(ctx, 500)
		assert.Zero(t, id)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecide_ConditionalOnStatus(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	q := exact("UPDATE participations SET status = $1, tx_hash = COALESCE($2, tx_hash), decided_at = $3, decided_by = $4 WHERE id = $5 AND status IN ($6,$7)")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(q).
		WithArgs("CONFIRMED", sqlmock.AnyArg(), at, "admin", int64(7), "NEW", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).
		WithArgs("REJECTED", sqlmock.AnyArg(), at, "admin", int64(7), "NEW", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.Update(ctx, func(tx repository.Tx) error {
		won, err := tx.Participations().Decide(ctx, 7, participation.StatusConfirmed, nil, "admin", at)
		require.NoError(t, err)
		assert.True(t, won)
		won, err = tx.Participations().Decide(ctx, 7, participation.StatusRejected, nil, "admin", at)
		require.NoError(t, err)
		assert.False(t, won)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_RetriesDeadlock(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	q := exact("UPDATE users SET points = points + $1, updated_at = now() WHERE id = $2")

	mock.ExpectBegin()
	mock.ExpectExec(q).WithArgs(int64(1), int64(3)).WillReturnError(&pq.Error{Code: pqDeadlockDetected})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(q).WithArgs(int64(1), int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	attempts := 0
	err := s.Update(ctx, func(tx repository.Tx) error {
		attempts++
		return tx.Users().AddPoints(ctx, 3, 1)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_RetryLimits(t *testing.T) {
	ctx := context.Background()

	t.Run("gives up after max attempts", func(t *testing.T) {
		s, mock := newMockStore(t)
		for i := 0; i < maxTxAttempts; i++ {
			mock.ExpectBegin()
			mock.ExpectRollback()
		}
		attempts := 0
		err := s.Update(ctx, func(repository.Tx) error {
			attempts++
			return errors.Wrap(&pq.Error{Code: pqSerializationFailure}, "select")
		})
		assert.True(t, retryable(err))
		assert.Equal(t, maxTxAttempts, attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectRollback()
		attempts := 0
		err := s.Update(ctx, func(repository.Tx) error {
			attempts++
			return &pq.Error{Code: pqUniqueViolation}
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
