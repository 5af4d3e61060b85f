package postgres

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	domain "github.com/open-builders/soulpull-backend/internal/domain/user"
)

const authorCodeColumns = `id, code, owner_user_id, active, expires_at, created_at`

// AuthorCodeRepository provides author code persistence inside a transaction.
type AuthorCodeRepository struct {
	t *txn
}

func (r *AuthorCodeRepository) GetByCode(ctx context.Context, code string) (*domain.AuthorCode, error) {
	var c domain.AuthorCode
	ok, err := r.t.get(ctx, &c, `SELECT `+authorCodeColumns+` FROM author_codes WHERE code = $1`, code)
	if err != nil || !ok {
		return nil, errors.Wrap(err, "get author code")
	}
	return &c, nil
}

func (r *AuthorCodeRepository) Create(ctx context.Context, c *domain.AuthorCode) error {
	const q = `
INSERT INTO author_codes (code, owner_user_id, active, expires_at)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at`
	err := r.t.tx.QueryRowxContext(ctx, q, c.Code, c.OwnerUserID, c.Active, c.ExpiresAt).Scan(&c.ID, &c.CreatedAt)
	return errors.Wrap(translate(err), "insert author code")
}

func (r *AuthorCodeRepository) SetActive(ctx context.Context, code string, active bool) (bool, error) {
	query, args, err := psql.
		Update("author_codes").
		Set("active", active).
		Where(squirrel.Eq{"code": code}).
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, "build author code update")
	}
	res, err := r.t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(err, "update author code")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

func (r *AuthorCodeRepository) List(ctx context.Context, limit int) ([]*domain.AuthorCode, error) {
	b := psql.Select(authorCodeColumns).From("author_codes").OrderBy("id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build author code list")
	}
	var out []*domain.AuthorCode
	if err := r.t.tx.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, errors.Wrap(err, "list author codes")
	}
	return out, nil
}
