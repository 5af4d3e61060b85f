package user

import "context"

// Repository defines persistence operations for the User aggregate.
// Lookups return (nil, nil) when nothing matches. Inside a write transaction
// every lookup locks the returned row.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	GetByWallet(ctx context.Context, address string) (*User, error)
	// IDByTelegramID resolves a Telegram account to a user id without locking,
	// or 0 when none is linked.
	IDByTelegramID(ctx context.Context, telegramID int64) (int64, error)
	// Create inserts u and fills ID, CreatedAt and UpdatedAt.
	Create(ctx context.Context, u *User) error
	// Update writes every mutable column of u.
	Update(ctx context.Context, u *User) error
	AddPoints(ctx context.Context, id int64, delta int64) error
}
