package admin

import (
	"context"
	"time"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	userdomain "github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/repository"
)

// AuthorCodeView is a registered code with its owner.
type AuthorCodeView struct {
	*userdomain.AuthorCode
	Owner *UserSummary `json:"owner,omitempty"`
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if c, ok := repository.ConflictOn(err); ok && c == repository.ConstraintAuthorCode {
		return apperrors.ErrAuthorCodeExists
	}
	return apperrors.Storage(op, err)
}

// CreateAuthorCode registers code for the user linked to ownerTelegramID.
// A nil expiresAt never expires.
func (s *Service) CreateAuthorCode(ctx context.Context, code string, ownerTelegramID int64, expiresAt *time.Time) (*AuthorCodeView, error) {
	code = userdomain.NormalizeAuthorCode(code)
	if !userdomain.ValidAuthorCode(code) {
		return nil, apperrors.ErrInvalidAuthorCode
	}
	var out *AuthorCodeView
	err := s.store.Update(ctx, func(tx repository.Tx) error {
		owner, err := tx.Users().GetByTelegramID(ctx, ownerTelegramID)
		if err != nil {
			return err
		}
		if owner == nil {
			return apperrors.ErrUserNotFound.WithDetail("telegram_id", ownerTelegramID)
		}
		ac := &userdomain.AuthorCode{Code: code, OwnerUserID: owner.ID, Active: true, ExpiresAt: expiresAt}
		if err := tx.AuthorCodes().Create(ctx, ac); err != nil {
			return err
		}
		out = &AuthorCodeView{AuthorCode: ac, Owner: summarize(owner)}
		return nil
	})
	if err = storageErr("create author code", err); err != nil {
		return nil, err
	}
	s.log.Info().Str("code", code).Int64("owner_user_id", out.OwnerUserID).Msg("author code created")
	return out, nil
}

// DeactivateAuthorCode stops code from being applied to new cycles. Cycles
// that already carry it still credit the owner on confirmation.
func (s *Service) DeactivateAuthorCode(ctx context.Context, code string) error {
	code = userdomain.NormalizeAuthorCode(code)
	err := s.store.Update(ctx, func(tx repository.Tx) error {
		found, err := tx.AuthorCodes().SetActive(ctx, code, false)
		if err != nil {
			return err
		}
		if !found {
			return apperrors.ErrAuthorCodeNotFound.WithDetail("author_code", code)
		}
		return nil
	})
	if err = storageErr("deactivate author code", err); err != nil {
		return err
	}
	s.log.Info().Str("code", code).Msg("author code deactivated")
	return nil
}

func (s *Service) ListAuthorCodes(ctx context.Context, limit int) ([]AuthorCodeView, error) {
	out := []AuthorCodeView{}
	err := s.store.View(ctx, func(tx repository.Tx) error {
		codes, err := tx.AuthorCodes().List(ctx, clampLimit(limit))
		if err != nil {
			return err
		}
		sums := &summaries{ctx: ctx, tx: tx, users: map[int64]*UserSummary{}}
		for _, ac := range codes {
			item := AuthorCodeView{AuthorCode: ac}
			if item.Owner, err = sums.get(ac.OwnerUserID); err != nil {
				return err
			}
			out = append(out, item)
		}
		return nil
	})
	if err = storageErr("list author codes", err); err != nil {
		return nil, err
	}
	return out, nil
}
