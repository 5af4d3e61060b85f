package user

import (
	"context"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	domain "github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/service/tonproof"
)

// LinkWallet binds a wallet to the Telegram identity, merging the two user
// records when both already exist. Repeating the call is a no-op.
func (s *Service) LinkWallet(ctx context.Context, telegramID int64, username, wallet string) (*domain.User, error) {
	if telegramID <= 0 {
		return nil, apperrors.ErrInvalidTelegramID
	}
	addr, err := tonproof.NormalizeAddress(wallet)
	if err != nil {
		return nil, apperrors.ErrInvalidAddress
	}
	username = domain.NormalizeUsername(username)

	var res linkResult
	err = s.update(ctx, "link wallet", func(tx repository.Tx) error {
		tg, err := tx.Users().GetByTelegramID(ctx, telegramID)
		if err != nil {
			return err
		}
		w, err := tx.Users().GetByWallet(ctx, addr)
		if err != nil {
			return err
		}
		res, err = s.link(ctx, tx, tg, w, telegramID, username, addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, addr)
	return res.user, nil
}

// LinkTelegram binds telegramID to the wallet user userID.
func (s *Service) LinkTelegram(ctx context.Context, userID, telegramID int64, username string) (*domain.User, error) {
	if telegramID <= 0 {
		return nil, apperrors.ErrInvalidTelegramID
	}
	username = domain.NormalizeUsername(username)

	var (
		res    linkResult
		wallet string
	)
	err := s.update(ctx, "link telegram", func(tx repository.Tx) error {
		u, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return apperrors.ErrUserNotFound
		}
		tg, err := tx.Users().GetByTelegramID(ctx, telegramID)
		if err != nil {
			return err
		}
		if !u.HasWallet() {
			switch {
			case u.HasTelegram() && *u.TelegramID == telegramID:
				res = linkResult{user: u}
				if setUsername(u, username) {
					return tx.Users().Update(ctx, u)
				}
				return nil
			case u.HasTelegram(), tg != nil:
				return apperrors.ErrTelegramAlreadyLinked
			}
			u.TelegramID = &telegramID
			setUsername(u, username)
			res = linkResult{user: u}
			return tx.Users().Update(ctx, u)
		}
		wallet = u.Wallet()
		res, err = s.link(ctx, tx, tg, u, telegramID, username, wallet)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, wallet)
	return res.user, nil
}

type linkResult struct {
	user   *domain.User
	merged *domain.User
}

// link reconciles the record holding the Telegram ID (tg) with the record
// holding the wallet (w). Either may be nil.
func (s *Service) link(ctx context.Context, tx repository.Tx, tg, w *domain.User, telegramID int64, username, wallet string) (linkResult, error) {
	users := tx.Users()
	switch {
	case tg == nil && w == nil:
		u := &domain.User{TelegramID: &telegramID}
		if wallet != "" {
			u.WalletAddress = &wallet
		}
		setUsername(u, username)
		return linkResult{user: u}, users.Create(ctx, u)

	case w == nil:
		if tg.HasWallet() && tg.Wallet() != wallet {
			return linkResult{}, apperrors.ErrTelegramAlreadyLinked
		}
		changed := setUsername(tg, username)
		if wallet != "" && !tg.HasWallet() {
			tg.WalletAddress = &wallet
			changed = true
		}
		if changed {
			return linkResult{user: tg}, users.Update(ctx, tg)
		}
		return linkResult{user: tg}, nil

	case tg == nil:
		if w.HasTelegram() {
			return linkResult{}, apperrors.ErrWalletAlreadyLinked
		}
		w.TelegramID = &telegramID
		setUsername(w, username)
		return linkResult{user: w}, users.Update(ctx, w)

	case tg.ID == w.ID:
		if setUsername(tg, username) {
			return linkResult{user: tg}, users.Update(ctx, tg)
		}
		return linkResult{user: tg}, nil
	}

	if tg.HasWallet() {
		return linkResult{}, apperrors.ErrTelegramAlreadyLinked
	}
	if w.HasTelegram() {
		return linkResult{}, apperrors.ErrWalletAlreadyLinked
	}
	survivor, loser, err := s.pickSurvivor(ctx, tx, tg, w)
	if err != nil {
		return linkResult{}, err
	}
	if err := merge(ctx, tx, survivor, loser, telegramID, username, wallet, w.PublicKey); err != nil {
		return linkResult{}, err
	}
	s.log.Info().
		Int64("survivor_id", survivor.ID).
		Int64("merged_id", loser.ID).
		Msg("user identities merged")
	return linkResult{user: survivor, merged: loser}, nil
}

// pickSurvivor keeps the Telegram record unless only the wallet record has
// participation history. History on both sides can not be merged.
func (s *Service) pickSurvivor(ctx context.Context, tx repository.Tx, tg, w *domain.User) (*domain.User, *domain.User, error) {
	tgHas, err := tx.Participations().HasAny(ctx, tg.ID)
	if err != nil {
		return nil, nil, err
	}
	wHas, err := tx.Participations().HasAny(ctx, w.ID)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case tgHas && wHas:
		return nil, nil, apperrors.ErrIdentityConflict.
			WithDetail("telegram_user_id", tg.ID).
			WithDetail("wallet_user_id", w.ID)
	case wHas:
		return w, tg, nil
	default:
		return tg, w, nil
	}
}

// merge folds loser into survivor. The loser keeps its row with both
// identifiers cleared and merged_into set; the loser is written first so the
// unique indexes never see an identifier twice.
func merge(ctx context.Context, tx repository.Tx, survivor, loser *domain.User, telegramID int64, username, wallet string, publicKey *string) error {
	points := loser.Points
	if survivor.InviterTelegramID == nil {
		survivor.InviterTelegramID = loser.InviterTelegramID
	}
	if survivor.AuthorCode == nil {
		survivor.AuthorCode = loser.AuthorCode
	}
	if survivor.TelegramUsername == nil {
		survivor.TelegramUsername = loser.TelegramUsername
	}

	loser.TelegramID = nil
	loser.TelegramUsername = nil
	loser.WalletAddress = nil
	loser.PublicKey = nil
	loser.Points = 0
	loser.MergedInto = &survivor.ID
	if err := tx.Users().Update(ctx, loser); err != nil {
		return err
	}

	survivor.TelegramID = &telegramID
	survivor.WalletAddress = &wallet
	if publicKey != nil {
		survivor.PublicKey = publicKey
	}
	setUsername(survivor, username)
	// an inviter carried over from the other record may be the survivor itself
	if survivor.InviterTelegramID != nil && *survivor.InviterTelegramID == telegramID {
		survivor.InviterTelegramID = nil
	}
	survivor.Points += points
	return tx.Users().Update(ctx, survivor)
}
