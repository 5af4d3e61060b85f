package postgres

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	domain "github.com/open-builders/soulpull-backend/internal/domain/payout"
)

const payoutColumns = `id, user_id, participation_id, amount_cents, status, tx_hash, created_at, decided_at, decided_by`

// PayoutRepository provides payout request persistence inside a transaction.
type PayoutRepository struct {
	t *txn
}

func (r *PayoutRepository) GetByID(ctx context.Context, id int64) (*domain.Request, error) {
	var p domain.Request
	ok, err := r.t.get(ctx, &p, r.t.locking(`SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1`), id)
	if err != nil || !ok {
		return nil, errors.Wrap(err, "get payout request")
	}
	return &p, nil
}

func (r *PayoutRepository) GetOpen(ctx context.Context, userID int64) (*domain.Request, error) {
	var p domain.Request
	q := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE user_id = $1 AND status = 'OPEN'`
	ok, err := r.t.get(ctx, &p, r.t.locking(q), userID)
	if err != nil || !ok {
		return nil, errors.Wrap(err, "get open payout request")
	}
	return &p, nil
}

func (r *PayoutRepository) Create(ctx context.Context, p *domain.Request) error {
	const q = `
INSERT INTO payout_requests (user_id, participation_id, amount_cents, status, tx_hash)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at`
	err := r.t.tx.QueryRowxContext(ctx, q, p.UserID, p.ParticipationID, p.AmountCents, p.Status, p.TxHash).
		Scan(&p.ID, &p.CreatedAt)
	return errors.Wrap(translate(err), "insert payout request")
}

func (r *PayoutRepository) Settle(ctx context.Context, id int64, status domain.Status, txHash *string, decidedBy string, at time.Time) (bool, error) {
	query, args, err := psql.
		Update("payout_requests").
		Set("status", string(status)).
		Set("tx_hash", squirrel.Expr("COALESCE(?, tx_hash)", txHash)).
		Set("decided_at", at).
		Set("decided_by", decidedBy).
		Where(squirrel.Eq{"id": id, "status": string(domain.StatusOpen)}).
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, "build settle query")
	}
	res, err := r.t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(err, "settle payout request")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

func (r *PayoutRepository) ListOpen(ctx context.Context, limit int) ([]*domain.Request, error) {
	b := psql.Select(payoutColumns).From("payout_requests").
		Where(squirrel.Eq{"status": string(domain.StatusOpen)}).
		OrderBy("id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build list query")
	}
	var out []*domain.Request
	if err := r.t.tx.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, errors.Wrap(err, "list open payout requests")
	}
	return out, nil
}
