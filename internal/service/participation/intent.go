package participation

import (
	"context"
	"time"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	domain "github.com/open-builders/soulpull-backend/internal/domain/participation"
	"github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/service/events"
)

// IntentRequest names an optional referrer and author code. Empty values fall
// back to what the user applied earlier; a referrer that contradicts the
// applied inviter is rejected.
type IntentRequest struct {
	ReferrerTelegramID *int64
	AuthorCode         string
}

// PaymentIntent describes the transfer the user must make. Nothing is moved.
type PaymentIntent struct {
	ParticipationID    int64     `json:"participation_id"`
	ReceiverWallet     string    `json:"receiver_wallet"`
	JettonMaster       string    `json:"jetton_master"`
	JettonAmount       string    `json:"jetton_amount"`
	Amount             string    `json:"amount"`
	AmountCents        int64     `json:"amount_cents"`
	ForwardTonNanotons int64     `json:"forward_ton_nanotons"`
	Comment            string    `json:"comment"`
	ValidUntil         time.Time `json:"valid_until"`
	ReferrerTelegramID *int64    `json:"referrer_telegram_id,omitempty"`
	SlotsUsed          int       `json:"slots_used"`
	SlotsLimit         int       `json:"slots_limit"`
	// Existing is set when the user's PENDING intent was returned again.
	Existing bool `json:"existing,omitempty"`
}

// CreateIntent opens a new PENDING cycle for userID. A user whose cycle is
// still PENDING gets that intent back unchanged, so a retried request never
// loses the payment comment. The user row and the referrer's participation
// row stay locked until commit, so slot counting and the insert are atomic
// per user and per referrer.
func (s *Service) CreateIntent(ctx context.Context, userID int64, req IntentRequest) (*PaymentIntent, error) {
	code := user.NormalizeAuthorCode(req.AuthorCode)
	if code != "" && !user.ValidAuthorCode(code) {
		return nil, apperrors.ErrInvalidAuthorCode
	}

	var (
		p         *domain.Participation
		slotsUsed int
		replay    *PaymentIntent
	)
	err := s.update(ctx, "create intent", func(tx repository.Tx) error {
		u, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return apperrors.ErrUserNotFound
		}
		if !u.HasTelegram() {
			return apperrors.ErrTelegramNotLinked
		}

		cur, err := tx.Participations().Current(ctx, u.ID)
		if err != nil {
			return err
		}
		if cur != nil {
			if cur.Status != domain.StatusPending {
				return apperrors.ErrActiveCycle.
					WithDetail("participation_id", cur.ID).
					WithDetail("status", cur.Status)
			}
			replay, err = s.PendingIntentTx(ctx, tx, cur)
			p = cur
			return err
		}

		referrer := u.InviterTelegramID
		if req.ReferrerTelegramID != nil {
			if referrer != nil && *referrer != *req.ReferrerTelegramID {
				return apperrors.ErrReferrerMismatch.
					WithDetail("inviter_telegram_id", *referrer).
					WithDetail("referrer_telegram_id", *req.ReferrerTelegramID)
			}
			referrer = req.ReferrerTelegramID
		}
		author, err := s.authorCode(ctx, tx, u, code)
		if err != nil {
			return err
		}

		next := &domain.Participation{
			UserID:             u.ID,
			ReferrerTelegramID: referrer,
			Status:             domain.StatusPending,
			AmountCents:        s.cfg.TicketCents,
			ValidUntil:         s.now().UTC().Add(s.cfg.IntentTTL),
		}
		if author != "" {
			next.AuthorCode = &author
		}

		if referrer != nil {
			refPart, used, err := s.reserveSlot(ctx, tx, u, *referrer)
			if err != nil {
				return err
			}
			next.ReferrerParticipationID = &refPart.ID
			slotsUsed = used + 1
		}

		if err := tx.Participations().Create(ctx, next); err != nil {
			return err
		}
		p = next
		return nil
	})
	if err != nil {
		s.risk(ctx, userID, err)
		return nil, err
	}
	if replay != nil {
		s.log.Debug().Int64("user_id", userID).Int64("participation_id", p.ID).Msg("pending intent returned")
		replay.Existing = true
		return replay, nil
	}

	s.log.Info().Int64("user_id", userID).Int64("participation_id", p.ID).Msg("participation intent created")
	s.events.Publish(ctx, events.Event{
		Type:            events.ParticipationCreated,
		UserID:          userID,
		ParticipationID: p.ID,
		Status:          string(p.Status),
	})
	return s.intent(p, slotsUsed), nil
}

// authorCode picks the code a new cycle carries. A requested code must be
// registered, usable and not the user's own; a code remembered on the profile
// is dropped once it stops being usable.
func (s *Service) authorCode(ctx context.Context, tx repository.Tx, u *user.User, requested string) (string, error) {
	code := requested
	if code == "" {
		if u.AuthorCode == nil {
			return "", nil
		}
		code = *u.AuthorCode
	}
	ac, err := tx.AuthorCodes().GetByCode(ctx, code)
	if err != nil {
		return "", err
	}
	switch {
	case requested == "" && (!ac.Usable(s.now()) || ac.OwnerUserID == u.ID):
		return "", nil
	case !ac.Usable(s.now()):
		return "", apperrors.ErrAuthorCodeNotFound.WithDetail("author_code", code)
	case ac.OwnerUserID == u.ID:
		return "", apperrors.ErrOwnAuthorCode
	}
	return code, nil
}

// reserveSlot validates the referrer and counts the live referrals of its
// current cycle, whose row stays locked for the rest of the transaction. The
// referrer's user row is read without a lock.
func (s *Service) reserveSlot(ctx context.Context, tx repository.Tx, u *user.User, referrerTG int64) (*domain.Participation, int, error) {
	if referrerTG == *u.TelegramID {
		return nil, 0, apperrors.ErrSelfReferral
	}
	refID, err := tx.Users().IDByTelegramID(ctx, referrerTG)
	if err != nil {
		return nil, 0, err
	}
	if refID == 0 {
		return nil, 0, apperrors.ErrReferrerNotFound.WithDetail("referrer_telegram_id", referrerTG)
	}
	refPart, err := tx.Participations().Current(ctx, refID)
	if err != nil {
		return nil, 0, err
	}
	if refPart == nil || refPart.Status != domain.StatusConfirmed {
		return nil, 0, apperrors.ErrReferrerNotConfirmed.WithDetail("referrer_telegram_id", referrerTG)
	}
	if refPart.ReferrerTelegramID != nil && *refPart.ReferrerTelegramID == *u.TelegramID {
		return nil, 0, apperrors.ErrReferralCycle
	}
	used, err := tx.Participations().CountReferrals(ctx, refPart.ID, domain.StatusPending, domain.StatusConfirmed)
	if err != nil {
		return nil, 0, err
	}
	if used >= domain.SlotsLimit {
		return nil, 0, apperrors.ErrReferrerLimit.
			WithDetail("slots_used", used).
			WithDetail("slots_limit", domain.SlotsLimit)
	}
	return refPart, used, nil
}

// PendingIntentTx rebuilds the payment intent of a PENDING participation
// inside tx. Other statuses yield nil.
func (s *Service) PendingIntentTx(ctx context.Context, tx repository.Tx, p *domain.Participation) (*PaymentIntent, error) {
	if p == nil || p.Status != domain.StatusPending {
		return nil, nil
	}
	used := 0
	if p.ReferrerParticipationID != nil {
		n, err := tx.Participations().CountReferrals(ctx, *p.ReferrerParticipationID, domain.StatusPending, domain.StatusConfirmed)
		if err != nil {
			return nil, err
		}
		used = n
	}
	return s.intent(p, used), nil
}

func (s *Service) intent(p *domain.Participation, slotsUsed int) *PaymentIntent {
	return &PaymentIntent{
		ParticipationID:    p.ID,
		ReceiverWallet:     s.cfg.ReceiverWallet,
		JettonMaster:       s.cfg.JettonMaster,
		JettonAmount:       JettonUnits(p.AmountCents, s.cfg.JettonDecimals).String(),
		Amount:             decimal2(p.AmountCents),
		AmountCents:        p.AmountCents,
		ForwardTonNanotons: s.cfg.ForwardTonNanotons,
		Comment:            domain.Comment(s.cfg.CommentPrefix, p.ID),
		ValidUntil:         p.ValidUntil,
		ReferrerTelegramID: p.ReferrerTelegramID,
		SlotsUsed:          slotsUsed,
		SlotsLimit:         domain.SlotsLimit,
	}
}
