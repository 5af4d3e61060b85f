package postgres

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	domain "github.com/open-builders/soulpull-backend/internal/domain/user"
)

const userColumns = `id, telegram_id, telegram_username, wallet_address, public_key, inviter_telegram_id,
	author_code, points, merged_into, created_at, updated_at`

// UserRepository provides user persistence inside a transaction.
type UserRepository struct {
	t *txn
}

// GetByID returns a user by primary key.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	ok, err := r.t.get(ctx, &u, r.t.locking(`SELECT `+userColumns+` FROM users WHERE id = $1`), id)
	if err != nil || !ok {
		return nil, errors.Wrap(err, "get user by id")
	}
	return &u, nil
}

// GetByTelegramID returns the user linked to a Telegram account.
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	var u domain.User
	ok, err := r.t.get(ctx, &u, r.t.locking(`SELECT `+userColumns+` FROM users WHERE telegram_id = $1`), telegramID)
	if err != nil || !ok {
		return nil, errors.Wrap(err, "get user by telegram id")
	}
	return &u, nil
}

// IDByTelegramID never locks; referrer lookups must not hold a second user row.
func (r *UserRepository) IDByTelegramID(ctx context.Context, telegramID int64) (int64, error) {
	var id int64
	ok, err := r.t.get(ctx, &id, `SELECT id FROM users WHERE telegram_id = $1`, telegramID)
	if err != nil || !ok {
		return 0, errors.Wrap(err, "get user id by telegram id")
	}
	return id, nil
}

// GetByWallet returns the user linked to a wallet address.
func (r *UserRepository) GetByWallet(ctx context.Context, address string) (*domain.User, error) {
	var u domain.User
	ok, err := r.t.get(ctx, &u, r.t.locking(`SELECT `+userColumns+` FROM users WHERE wallet_address = $1`), address)
	if err != nil || !ok {
		return nil, errors.Wrap(err, "get user by wallet")
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	const q = `
INSERT INTO users (telegram_id, telegram_username, wallet_address, public_key, inviter_telegram_id, author_code, points, merged_into)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, updated_at`
	err := r.t.tx.QueryRowxContext(ctx, q,
		u.TelegramID, u.TelegramUsername, u.WalletAddress, u.PublicKey,
		u.InviterTelegramID, u.AuthorCode, u.Points, u.MergedInto,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return errors.Wrap(translate(err), "insert user")
}

func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	const q = `
UPDATE users SET
	telegram_id = $2,
	telegram_username = $3,
	wallet_address = $4,
	public_key = $5,
	inviter_telegram_id = $6,
	author_code = $7,
	points = $8,
	merged_into = $9,
	updated_at = now()
WHERE id = $1
RETURNING updated_at`
	err := r.t.tx.QueryRowxContext(ctx, q,
		u.ID, u.TelegramID, u.TelegramUsername, u.WalletAddress, u.PublicKey,
		u.InviterTelegramID, u.AuthorCode, u.Points, u.MergedInto,
	).Scan(&u.UpdatedAt)
	return errors.Wrap(translate(err), "update user")
}

// AddPoints increments points atomically.
func (r *UserRepository) AddPoints(ctx context.Context, id int64, delta int64) error {
	query, args, err := psql.
		Update("users").
		Set("points", squirrel.Expr("points + ?", delta)).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build add points query")
	}
	_, err = r.t.tx.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "add points")
}
