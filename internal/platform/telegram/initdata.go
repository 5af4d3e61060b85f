package telegram

import (
	"time"

	initdata "github.com/telegram-mini-apps/init-data-golang"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
)

// InitDataUser is the Telegram identity carried by Mini App init data.
type InitDataUser struct {
	ID        int64
	Username  string
	FirstName string
}

// InitDataValidator checks Mini App init data against the bot token.
type InitDataValidator struct {
	token string
	expIn time.Duration
}

// NewInitDataValidator returns a validator; expIn of zero disables the age check.
func NewInitDataValidator(botToken string, expIn time.Duration) *InitDataValidator {
	return &InitDataValidator{token: botToken, expIn: expIn}
}

// Enabled reports whether a bot token is configured.
func (v *InitDataValidator) Enabled() bool { return v != nil && v.token != "" }

// Validate verifies the signature and age of raw and returns its user.
func (v *InitDataValidator) Validate(raw string) (*InitDataUser, error) {
	if !v.Enabled() {
		return nil, apperrors.ErrTelegramVerifyDisabled
	}
	if raw == "" {
		return nil, apperrors.ErrTelegramVerification.WithDetail("reason", "missing init data")
	}
	if err := initdata.Validate(raw, v.token, v.expIn); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindAuthentication, apperrors.CodeTelegramVerification, "telegram init data verification failed")
	}
	parsed, err := initdata.Parse(raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindAuthentication, apperrors.CodeTelegramVerification, "telegram init data verification failed")
	}
	if parsed.User.ID <= 0 {
		return nil, apperrors.ErrTelegramVerification.WithDetail("reason", "init data has no user")
	}
	return &InitDataUser{
		ID:        parsed.User.ID,
		Username:  parsed.User.Username,
		FirstName: parsed.User.FirstName,
	}, nil
}
