package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-builders/soulpull-backend/internal/domain/participation"
	"github.com/open-builders/soulpull-backend/internal/domain/payout"
	"github.com/open-builders/soulpull-backend/internal/domain/user"
)

// Unique index names shared by every store implementation.
const (
	ConstraintUserTelegram    = "users_telegram_id_key"
	ConstraintUserWallet      = "users_wallet_address_key"
	ConstraintParticipationTx = "participations_tx_hash_key"
	ConstraintOneActiveCycle  = "participations_one_active_per_user"
	ConstraintOneOpenPayout   = "payout_requests_one_open_per_user"
	ConstraintAuthorCode      = "author_codes_code_key"
)

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Users() user.Repository
	Participations() participation.Repository
	Payouts() payout.Repository
	AuthorCodes() user.AuthorCodeRepository
}

// Store runs units of work atomically.
type Store interface {
	// Update runs fn in a read-write transaction. Row lookups lock the rows
	// they return until commit. Returning an error rolls everything back.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn in a read-only transaction without row locks.
	View(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// ConflictError reports a unique index violation.
type ConflictError struct {
	Constraint string
	Err        error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unique violation on %s: %v", e.Constraint, e.Err)
	}
	return "unique violation on " + e.Constraint
}

func (e *ConflictError) Unwrap() error { return e.Err }

// ConflictOn returns the violated constraint name if err is a ConflictError.
func ConflictOn(err error) (string, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Constraint, true
	}
	return "", false
}
