// Package user is the user registry: registration, identity linking and
// set-once profile fields.
package user

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	domain "github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/platform/telegram"
	"github.com/open-builders/soulpull-backend/internal/repository"
)

// WalletCache drops cached wallet owners after identity changes.
type WalletCache interface {
	Invalidate(ctx context.Context, addresses ...string) error
}

// InitDataVerifier authenticates Telegram Mini App init data.
type InitDataVerifier interface {
	Validate(raw string) (*telegram.InitDataUser, error)
}

// Service orchestrates user access with the store and the wallet cache.
type Service struct {
	store    repository.Store
	cache    WalletCache
	initData InitDataVerifier
	log      zerolog.Logger
	now      func() time.Time
	intents  IntentSource
}

func NewService(store repository.Store, cache WalletCache, initData InitDataVerifier, log zerolog.Logger) *Service {
	return &Service{store: store, cache: cache, initData: initData, log: log, now: time.Now}
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if c, ok := repository.ConflictOn(err); ok {
		switch c {
		case repository.ConstraintUserWallet:
			return apperrors.ErrWalletAlreadyLinked
		case repository.ConstraintUserTelegram:
			return apperrors.ErrTelegramAlreadyLinked
		}
	}
	return apperrors.Storage(op, err)
}

// update retries fn once when a concurrent insert won a unique index race;
// the second attempt sees the committed row.
func (s *Service) update(ctx context.Context, op string, fn func(tx repository.Tx) error) error {
	err := s.store.Update(ctx, fn)
	if _, conflict := repository.ConflictOn(err); conflict {
		err = s.store.Update(ctx, fn)
	}
	return storageErr(op, err)
}

func (s *Service) invalidate(ctx context.Context, addresses ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, addresses...); err != nil {
		s.log.Warn().Err(err).Msg("wallet cache invalidation failed")
	}
}

// Get returns the user by id.
func (s *Service) Get(ctx context.Context, id int64) (*domain.User, error) {
	var u *domain.User
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		u, err = tx.Users().GetByID(ctx, id)
		return err
	})
	if err = storageErr("get user", err); err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperrors.ErrUserNotFound
	}
	return u, nil
}

// GetByTelegramID returns the user holding telegramID.
func (s *Service) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	var u *domain.User
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		u, err = tx.Users().GetByTelegramID(ctx, telegramID)
		return err
	})
	if err = storageErr("get user", err); err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperrors.ErrUserNotFound
	}
	return u, nil
}

// Register creates the user for telegramID or refreshes its username.
func (s *Service) Register(ctx context.Context, telegramID int64, username string) (*domain.User, error) {
	if telegramID <= 0 {
		return nil, apperrors.ErrInvalidTelegramID
	}
	username = domain.NormalizeUsername(username)

	var out *domain.User
	err := s.update(ctx, "register user", func(tx repository.Tx) error {
		u, err := tx.Users().GetByTelegramID(ctx, telegramID)
		if err != nil {
			return err
		}
		if u == nil {
			u = &domain.User{TelegramID: &telegramID}
			setUsername(u, username)
			if err := tx.Users().Create(ctx, u); err != nil {
				return err
			}
			out = u
			return nil
		}
		if setUsername(u, username) {
			if err := tx.Users().Update(ctx, u); err != nil {
				return err
			}
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertWallet returns the user owning a freshly proven wallet, creating it
// on first sight and remembering the proven public key.
func (s *Service) UpsertWallet(ctx context.Context, address, publicKey string) (*domain.User, error) {
	var out *domain.User
	err := s.update(ctx, "upsert wallet", func(tx repository.Tx) error {
		u, err := tx.Users().GetByWallet(ctx, address)
		if err != nil {
			return err
		}
		if u == nil {
			u = &domain.User{WalletAddress: &address}
			if publicKey != "" {
				u.PublicKey = &publicKey
			}
			if err := tx.Users().Create(ctx, u); err != nil {
				return err
			}
			out = u
			return nil
		}
		if publicKey != "" && (u.PublicKey == nil || *u.PublicKey != publicKey) {
			u.PublicKey = &publicKey
			if err := tx.Users().Update(ctx, u); err != nil {
				return err
			}
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyInviter sets the inviter once. raw must be a digits-only Telegram ID.
func (s *Service) ApplyInviter(ctx context.Context, userID int64, raw string) (*domain.User, error) {
	inviter, ok := domain.ParseTelegramID(raw)
	if !ok {
		return nil, apperrors.ErrInvalidInviterFormat.WithDetail("inviter", raw)
	}
	var out *domain.User
	err := s.update(ctx, "apply inviter", func(tx repository.Tx) error {
		u, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return apperrors.ErrUserNotFound
		}
		if u.InviterTelegramID != nil {
			return apperrors.ErrInviterImmutable.WithDetail("inviter", *u.InviterTelegramID)
		}
		if !u.HasTelegram() {
			return apperrors.ErrTelegramNotLinked
		}
		if *u.TelegramID == inviter {
			return apperrors.ErrSelfReferral
		}
		u.InviterTelegramID = &inviter
		if err := tx.Users().Update(ctx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyAuthorCode sets the author code once. The code must be registered,
// active and owned by someone else.
func (s *Service) ApplyAuthorCode(ctx context.Context, userID int64, code string) (*domain.User, error) {
	code = domain.NormalizeAuthorCode(code)
	if !domain.ValidAuthorCode(code) {
		return nil, apperrors.ErrInvalidAuthorCode
	}
	var out *domain.User
	err := s.update(ctx, "apply author code", func(tx repository.Tx) error {
		u, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return apperrors.ErrUserNotFound
		}
		if u.AuthorCode != nil {
			return apperrors.ErrAuthorCodeApplied.WithDetail("author_code", *u.AuthorCode)
		}
		ac, err := tx.AuthorCodes().GetByCode(ctx, code)
		if err != nil {
			return err
		}
		if !ac.Usable(s.now()) {
			return apperrors.ErrAuthorCodeNotFound.WithDetail("author_code", code)
		}
		if ac.OwnerUserID == u.ID {
			return apperrors.ErrOwnAuthorCode
		}
		u.AuthorCode = &code
		if err := tx.Users().Update(ctx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyTelegram authenticates initData and links its Telegram user to userID.
func (s *Service) VerifyTelegram(ctx context.Context, userID int64, initData string) (*domain.User, error) {
	if s.initData == nil {
		return nil, apperrors.ErrTelegramVerifyDisabled
	}
	tg, err := s.initData.Validate(initData)
	if err != nil {
		return nil, err
	}
	return s.LinkTelegram(ctx, userID, tg.ID, tg.Username)
}

// setUsername stores a non-empty username and reports whether it changed.
func setUsername(u *domain.User, username string) bool {
	if username == "" || u.Username() == username {
		return false
	}
	u.TelegramUsername = &username
	return true
}
