package user

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// User is a single human identity reachable by a Telegram ID, a wallet, or both.
// InviterTelegramID and AuthorCode are set once and never change afterwards.
type User struct {
	ID                int64     `json:"id" db:"id"`
	TelegramID        *int64    `json:"telegram_id,omitempty" db:"telegram_id"`
	TelegramUsername  *string   `json:"username,omitempty" db:"telegram_username"`
	WalletAddress     *string   `json:"wallet_address,omitempty" db:"wallet_address"`
	PublicKey         *string   `json:"public_key,omitempty" db:"public_key"`
	InviterTelegramID *int64    `json:"inviter_telegram_id,omitempty" db:"inviter_telegram_id"`
	AuthorCode        *string   `json:"author_code,omitempty" db:"author_code"`
	Points            int64     `json:"points" db:"points"`
	MergedInto        *int64    `json:"merged_into,omitempty" db:"merged_into"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// HasTelegram reports whether a Telegram identity is linked.
func (u *User) HasTelegram() bool { return u != nil && u.TelegramID != nil }

// HasWallet reports whether a wallet is linked.
func (u *User) HasWallet() bool { return u != nil && u.WalletAddress != nil && *u.WalletAddress != "" }

// Username returns the Telegram username or an empty string.
func (u *User) Username() string {
	if u == nil || u.TelegramUsername == nil {
		return ""
	}
	return *u.TelegramUsername
}

// Wallet returns the linked wallet or an empty string.
func (u *User) Wallet() string {
	if !u.HasWallet() {
		return ""
	}
	return *u.WalletAddress
}

var authorCodeRe = regexp.MustCompile(`^[A-Za-z0-9_-]{2,32}$`)

// ParseTelegramID parses a digits-only Telegram ID. A leading '@' or any
// non-digit character is rejected.
func ParseTelegramID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ValidAuthorCode reports whether code has the accepted shape.
func ValidAuthorCode(code string) bool {
	return authorCodeRe.MatchString(code)
}

// NormalizeUsername strips a leading '@' and surrounding spaces.
func NormalizeUsername(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "@")
}
