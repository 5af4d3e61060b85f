package postgres

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/open-builders/soulpull-backend/internal/domain/participation"
	"github.com/open-builders/soulpull-backend/internal/domain/payout"
	"github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/repository"
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"

	// attempts for a write transaction aborted by a deadlock or serialization failure
	maxTxAttempts = 3
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Store implements repository.Store on PostgreSQL.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

// Update retries fn when Postgres aborts the transaction to break a deadlock
// or a serialization conflict. fn must not have effects outside tx.
func (s *Store) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.transaction(ctx, nil, true, fn)
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *Store) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.transaction(ctx, &sql.TxOptions{ReadOnly: true}, false, fn)
}

func (s *Store) transaction(ctx context.Context, opts *sql.TxOptions, lock bool, fn func(tx repository.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(&txn{tx: tx, lock: lock}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rollback error: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

type txn struct {
	tx   *sqlx.Tx
	lock bool
}

func (t *txn) Users() user.Repository                   { return &UserRepository{t: t} }
func (t *txn) Participations() participation.Repository { return &ParticipationRepository{t: t} }
func (t *txn) Payouts() payout.Repository               { return &PayoutRepository{t: t} }
func (t *txn) AuthorCodes() user.AuthorCodeRepository   { return &AuthorCodeRepository{t: t} }

// locking appends FOR UPDATE inside write transactions.
func (t *txn) locking(q string) string {
	if t.lock {
		return q + " FOR UPDATE"
	}
	return q
}

func (t *txn) get(ctx context.Context, dest interface{}, q string, args ...interface{}) (bool, error) {
	if err := t.tx.GetContext(ctx, dest, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, translate(err)
	}
	return true, nil
}

// translate turns unique violations into repository.ConflictError.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return &repository.ConflictError{Constraint: pqErr.Constraint, Err: err}
	}
	return err
}

func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqDeadlockDetected || pqErr.Code == pqSerializationFailure
}
