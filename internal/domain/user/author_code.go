package user

import (
	"context"
	"strings"
	"time"
)

// AuthorCode is a registered code. Its owner is credited for every confirmed
// participation that carries it.
type AuthorCode struct {
	ID          int64      `json:"id" db:"id"`
	Code        string     `json:"code" db:"code"`
	OwnerUserID int64      `json:"owner_user_id" db:"owner_user_id"`
	Active      bool       `json:"active" db:"active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Usable reports whether the code may still be applied at now.
func (c *AuthorCode) Usable(now time.Time) bool {
	if c == nil || !c.Active {
		return false
	}
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}

// NormalizeAuthorCode trims s. Codes are matched case-sensitively.
func NormalizeAuthorCode(s string) string {
	return strings.TrimSpace(s)
}

// AuthorCodeRepository persists author codes. Lookups never lock: codes are
// only inserted or deactivated.
type AuthorCodeRepository interface {
	GetByCode(ctx context.Context, code string) (*AuthorCode, error)
	// Create inserts c and fills ID and CreatedAt.
	Create(ctx context.Context, c *AuthorCode) error
	// SetActive reports false when no code matched.
	SetActive(ctx context.Context, code string, active bool) (bool, error)
	List(ctx context.Context, limit int) ([]*AuthorCode, error)
}
