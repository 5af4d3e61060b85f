package user

import (
	"context"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	partdomain "github.com/open-builders/soulpull-backend/internal/domain/participation"
	payoutdomain "github.com/open-builders/soulpull-backend/internal/domain/payout"
	domain "github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/service/participation"
)

// Referral is one participation that named the user's current cycle.
type Referral struct {
	ParticipationID int64             `json:"participation_id"`
	TelegramID      *int64            `json:"telegram_id,omitempty"`
	Username        string            `json:"username,omitempty"`
	Status          partdomain.Status `json:"status"`
}

// IntentSource rebuilds the payment intent of a PENDING cycle.
type IntentSource interface {
	PendingIntentTx(ctx context.Context, tx repository.Tx, p *partdomain.Participation) (*participation.PaymentIntent, error)
}

// SetIntents makes Profile include the pending payment intent.
func (s *Service) SetIntents(src IntentSource) { s.intents = src }

// Profile is everything the user's own dashboard shows.
type Profile struct {
	User          *domain.User                 `json:"user"`
	Participation *partdomain.Participation    `json:"participation,omitempty"`
	Intent        *participation.PaymentIntent `json:"intent,omitempty"`
	Stats         *participation.Eligibility   `json:"stats"`
	Referrals     []Referral                   `json:"referrals"`
	OpenPayout    *payoutdomain.Request        `json:"open_payout,omitempty"`
}

// Profile reads the user, the current cycle with its referrals and eligibility,
// and any open payout from one consistent snapshot.
func (s *Service) Profile(ctx context.Context, userID int64) (*Profile, error) {
	p := &Profile{Referrals: []Referral{}}
	err := s.store.View(ctx, func(tx repository.Tx) error {
		u, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return apperrors.ErrUserNotFound
		}
		p.User = u

		el, cur, err := participation.EligibilityTx(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		p.Stats, p.Participation = el, cur
		if s.intents != nil {
			if p.Intent, err = s.intents.PendingIntentTx(ctx, tx, cur); err != nil {
				return err
			}
		}

		if cur != nil {
			refs, err := tx.Participations().ListReferrals(ctx, cur.ID)
			if err != nil {
				return err
			}
			for _, r := range refs {
				ref := Referral{ParticipationID: r.ID, Status: r.Status}
				if ru, err := tx.Users().GetByID(ctx, r.UserID); err != nil {
					return err
				} else if ru != nil {
					ref.TelegramID, ref.Username = ru.TelegramID, ru.Username()
				}
				p.Referrals = append(p.Referrals, ref)
			}
		}

		p.OpenPayout, err = tx.Payouts().GetOpen(ctx, u.ID)
		return err
	})
	if err = storageErr("load profile", err); err != nil {
		return nil, err
	}
	return p, nil
}
