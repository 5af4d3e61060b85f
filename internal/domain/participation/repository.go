package participation

import (
	"context"
	"time"
)

// Repository defines persistence operations for participations.
// Lookups return (nil, nil) when nothing matches. Inside a write transaction
// single-row lookups lock the row.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Participation, error)
	GetByTxHash(ctx context.Context, txHash string) (*Participation, error)
	// Current returns the user's open cycle: the newest participation that is
	// neither rejected nor closed.
	Current(ctx context.Context, userID int64) (*Participation, error)
	// OwnerOf returns the user id of participation id without locking the
	// row, or 0 when it does not exist.
	OwnerOf(ctx context.Context, id int64) (int64, error)
	HasAny(ctx context.Context, userID int64) (bool, error)
	// Create inserts p and fills ID and CreatedAt.
	Create(ctx context.Context, p *Participation) error
	// SetTxHash stores the submitted hash; chain is the matching on-chain
	// transfer or nil.
	SetTxHash(ctx context.Context, id int64, txHash string, chain *ChainPayment) error
	// Decide moves a NEW or PENDING participation to status. It reports false
	// when no row was in a decidable state.
	Decide(ctx context.Context, id int64, status Status, txHash *string, decidedBy string, at time.Time) (bool, error)
	Close(ctx context.Context, id int64, at time.Time) error
	CountReferrals(ctx context.Context, referrerParticipationID int64, statuses ...Status) (int, error)
	ListReferrals(ctx context.Context, referrerParticipationID int64) ([]*Participation, error)
	ListPending(ctx context.Context, limit int) ([]*Participation, error)
	// ListStale returns PENDING participations without a tx hash whose
	// valid_until is before the given time.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Participation, error)
}
