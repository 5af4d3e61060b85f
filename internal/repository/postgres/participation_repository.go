package postgres

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	domain "github.com/open-builders/soulpull-backend/internal/domain/participation"
)

const participationColumns = `id, user_id, referrer_telegram_id, referrer_participation_id, author_code, status,
	amount_cents, tx_hash, chain_verified, chain_tx_hash, chain_sender, created_at, valid_until, decided_at,
	decided_by, closed_at`

var decidableStatuses = []string{string(domain.StatusNew), string(domain.StatusPending)}

// ParticipationRepository provides participation persistence inside a transaction.
type ParticipationRepository struct {
	t *txn
}

func (r *ParticipationRepository) GetByID(ctx context.Context, id int64) (*domain.Participation, error) {
	var p domain.Participation
	ok, err := r.t.get(ctx, &p, r.t.locking(`SELECT `+participationColumns+` FROM participations WHERE id = $1`), id)
	if err != nil || !ok {
		return nil, errors.Wrap(err, "get participation")
	}
	return &p, nil
}

func (r *ParticipationRepository) GetByTxHash(ctx context.Context, txHash string) (*domain.Participation, error) {
	var p domain.Participation
	ok, err := r.t.get(ctx, &p, `SELECT `+participationColumns+` FROM participations WHERE tx_hash = $1`, txHash)
	if err != nil || !ok {
		return nil, errors.Wrap(err, "get participation by tx hash")
	}
	return &p, nil
}

func (r *ParticipationRepository) Current(ctx context.Context, userID int64) (*domain.Participation, error) {
	q := `SELECT ` + participationColumns + ` FROM participations
WHERE user_id = $1 AND status <> 'REJECTED' AND closed_at IS NULL
ORDER BY id DESC LIMIT 1`
	var p domain.Participation
	ok, err := r.t.get(ctx, &p, r.t.locking(q), userID)
	if err != nil || !ok {
		return nil, errors.Wrap(err, "get current participation")
	}
	return &p, nil
}

// OwnerOf reads without FOR UPDATE so callers holding another participation
// row never wait on this one.
func (r *ParticipationRepository) OwnerOf(ctx context.Context, id int64) (int64, error) {
	var userID int64
	ok, err := r.t.get(ctx, &userID, `SELECT user_id FROM participations WHERE id = $1`, id)
	if err != nil || !ok {
		return 0, errors.Wrap(err, "get participation owner")
	}
	return userID, nil
}

func (r *ParticipationRepository) HasAny(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.t.tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM participations WHERE user_id = $1)`, userID)
	return exists, errors.Wrap(err, "check participations")
}

func (r *ParticipationRepository) Create(ctx context.Context, p *domain.Participation) error {
	const q = `
INSERT INTO participations (user_id, referrer_telegram_id, referrer_participation_id, author_code, status,
	amount_cents, tx_hash, chain_verified, valid_until)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, created_at`
	err := r.t.tx.QueryRowxContext(ctx, q,
		p.UserID, p.ReferrerTelegramID, p.ReferrerParticipationID, p.AuthorCode, p.Status,
		p.AmountCents, p.TxHash, p.ChainVerified, p.ValidUntil,
	).Scan(&p.ID, &p.CreatedAt)
	return errors.Wrap(translate(err), "insert participation")
}

func (r *ParticipationRepository) SetTxHash(ctx context.Context, id int64, txHash string, chain *domain.ChainPayment) error {
	var p domain.Participation
	p.SetPayment(txHash, chain)
	_, err := r.t.tx.ExecContext(ctx,
		`UPDATE participations SET tx_hash = $2, chain_verified = $3, chain_tx_hash = $4, chain_sender = $5 WHERE id = $1`,
		id, p.TxHash, p.ChainVerified, p.ChainTxHash, p.ChainSender)
	return errors.Wrap(translate(err), "set tx hash")
}

// Decide is a conditional update; concurrent deciders race on the status predicate.
func (r *ParticipationRepository) Decide(ctx context.Context, id int64, status domain.Status, txHash *string, decidedBy string, at time.Time) (bool, error) {
	query, args, err := psql.
		Update("participations").
		Set("status", string(status)).
		Set("tx_hash", squirrel.Expr("COALESCE(?, tx_hash)", txHash)).
		Set("decided_at", at).
		Set("decided_by", decidedBy).
		Where(squirrel.Eq{"id": id, "status": decidableStatuses}).
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, "build decide query")
	}
	res, err := r.t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(translate(err), "decide participation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

func (r *ParticipationRepository) Close(ctx context.Context, id int64, at time.Time) error {
	_, err := r.t.tx.ExecContext(ctx, `UPDATE participations SET closed_at = $2 WHERE id = $1 AND closed_at IS NULL`, id, at)
	return errors.Wrap(err, "close participation")
}

func (r *ParticipationRepository) CountReferrals(ctx context.Context, referrerParticipationID int64, statuses ...domain.Status) (int, error) {
	b := psql.Select("count(*)").From("participations").
		Where(squirrel.Eq{"referrer_participation_id": referrerParticipationID})
	if len(statuses) > 0 {
		b = b.Where(squirrel.Eq{"status": statusStrings(statuses)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build count query")
	}
	var n int
	if err := r.t.tx.GetContext(ctx, &n, query, args...); err != nil {
		return 0, errors.Wrap(err, "count referrals")
	}
	return n, nil
}

func (r *ParticipationRepository) ListReferrals(ctx context.Context, referrerParticipationID int64) ([]*domain.Participation, error) {
	return r.list(ctx, psql.Select(participationColumns).From("participations").
		Where(squirrel.Eq{"referrer_participation_id": referrerParticipationID}).
		OrderBy("id"))
}

func (r *ParticipationRepository) ListPending(ctx context.Context, limit int) ([]*domain.Participation, error) {
	b := psql.Select(participationColumns).From("participations").
		Where(squirrel.Eq{"status": decidableStatuses}).
		OrderBy("id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return r.list(ctx, b)
}

func (r *ParticipationRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*domain.Participation, error) {
	b := psql.Select(participationColumns).From("participations").
		Where(squirrel.Eq{"status": string(domain.StatusPending), "tx_hash": nil}).
		Where(squirrel.Lt{"valid_until": before}).
		OrderBy("id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return r.list(ctx, b)
}

func (r *ParticipationRepository) list(ctx context.Context, b squirrel.SelectBuilder) ([]*domain.Participation, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build list query")
	}
	var out []*domain.Participation
	if err := r.t.tx.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, errors.Wrap(err, "list participations")
	}
	return out, nil
}

func statusStrings(ss []domain.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
