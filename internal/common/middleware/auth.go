package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	userdomain "github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/platform/telegram"
	"github.com/open-builders/soulpull-backend/internal/service/session"
)

const AdminTokenHeader = "X-Admin-Token"

// SessionResolver turns a bearer token into the caller's identity.
type SessionResolver interface {
	Resolve(ctx context.Context, raw string) (*session.Identity, error)
}

// InitDataValidator authenticates Telegram Mini App init data.
type InitDataValidator interface {
	Enabled() bool
	Validate(raw string) (*telegram.InitDataUser, error)
}

// TelegramUsers finds registered users by Telegram ID.
type TelegramUsers interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*userdomain.User, error)
}

// Auth authenticates users. Bearer session tokens are primary; init data and
// the raw telegram_id parameter are compatibility fallbacks for user routes.
type Auth struct {
	Sessions SessionResolver
	InitData InitDataValidator
	Users    TelegramUsers
	// LegacyTelegramID trusts an unauthenticated telegram_id parameter.
	LegacyTelegramID bool
	Log              zerolog.Logger
}

func bearerToken(c *gin.Context) (string, bool) {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if h == "" {
		return "", false
	}
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", true
	}
	return strings.TrimSpace(h[7:]), true
}

func (a *Auth) fromBearer(c *gin.Context, raw string) error {
	id, err := a.Sessions.Resolve(c.Request.Context(), raw)
	if err != nil {
		return err
	}
	setIdentity(c, id.UserID, id.Address, AuthBearer)
	return nil
}

// Bearer accepts session tokens only.
func (a *Auth) Bearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, present := bearerToken(c)
		if !present {
			WriteError(c, a.Log, apperrors.ErrUnauthorized)
			return
		}
		if err := a.fromBearer(c, raw); err != nil {
			WriteError(c, a.Log, err)
			return
		}
		c.Next()
	}
}

// User accepts a session token, then X-Telegram-Init-Data, then (when
// enabled) a raw telegram_id. A present but invalid token never falls through.
func (a *Auth) User() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, present := bearerToken(c); present {
			if err := a.fromBearer(c, raw); err != nil {
				WriteError(c, a.Log, err)
				return
			}
			c.Next()
			return
		}

		if raw := c.GetHeader(InitDataHeader); raw != "" && a.InitData != nil && a.InitData.Enabled() {
			tg, err := a.InitData.Validate(raw)
			if err != nil {
				WriteError(c, a.Log, err)
				return
			}
			if err := a.fromTelegram(c, tg.ID, AuthInitData); err != nil {
				WriteError(c, a.Log, err)
				return
			}
			c.Next()
			return
		}

		if a.LegacyTelegramID {
			if tgID, ok := legacyTelegramID(c); ok {
				if err := a.fromTelegram(c, tgID, AuthLegacy); err != nil {
					WriteError(c, a.Log, err)
					return
				}
				c.Next()
				return
			}
		}

		WriteError(c, a.Log, apperrors.ErrUnauthorized)
	}
}

// WalletLink guards identity linking. The wallet is proven by a session
// token and the Telegram account by init data, or by a raw telegram_id when
// legacy auth is on.
func (a *Auth) WalletLink() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, present := bearerToken(c)
		if !present {
			WriteError(c, a.Log, apperrors.ErrUnauthorized)
			return
		}
		if err := a.fromBearer(c, raw); err != nil {
			WriteError(c, a.Log, err)
			return
		}
		tgID, username, err := a.provenTelegram(c)
		if err != nil {
			WriteError(c, a.Log, err)
			return
		}
		c.Set(TelegramIDKey, tgID)
		c.Set(TelegramUsernameKey, username)
		c.Next()
	}
}

func (a *Auth) provenTelegram(c *gin.Context) (int64, string, error) {
	if raw := c.GetHeader(InitDataHeader); raw != "" && a.InitData != nil && a.InitData.Enabled() {
		tg, err := a.InitData.Validate(raw)
		if err != nil {
			return 0, "", err
		}
		return tg.ID, tg.Username, nil
	}
	if a.LegacyTelegramID {
		if id, ok := legacyTelegramID(c); ok {
			return id, "", nil
		}
	}
	return 0, "", apperrors.ErrTelegramProofRequired
}

func (a *Auth) fromTelegram(c *gin.Context, telegramID int64, method string) error {
	u, err := a.Users.GetByTelegramID(c.Request.Context(), telegramID)
	if err != nil {
		return err
	}
	setIdentity(c, u.ID, u.Wallet(), method)
	return nil
}

// CheckAdminToken compares got with the configured token in constant time.
func CheckAdminToken(expected, got string) error {
	switch {
	case expected == "":
		return apperrors.ErrAdminDisabled
	case got == "":
		return apperrors.ErrUnauthorized
	case subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1:
		return apperrors.ErrForbidden
	}
	return nil
}

// RequireAdmin guards admin routes with X-Admin-Token.
func RequireAdmin(expected string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := CheckAdminToken(expected, c.GetHeader(AdminTokenHeader)); err != nil {
			WriteError(c, logger, err)
			return
		}
		c.Set(AdminKey, true)
		c.Next()
	}
}
