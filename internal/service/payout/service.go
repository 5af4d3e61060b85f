// Package payout handles payout requests and their manual settlement.
package payout

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	domain "github.com/open-builders/soulpull-backend/internal/domain/payout"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/service/events"
	"github.com/open-builders/soulpull-backend/internal/service/participation"
)

// Service is the payout engine.
type Service struct {
	store       repository.Store
	amountCents int64
	events      events.Publisher
	log         zerolog.Logger
	now         func() time.Time
}

func NewService(store repository.Store, amountCents int64, pub events.Publisher, log zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{store: store, amountCents: amountCents, events: pub, log: log, now: time.Now}
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if c, ok := repository.ConflictOn(err); ok && c == repository.ConstraintOneOpenPayout {
		return apperrors.ErrOpenPayoutExists
	}
	return apperrors.Storage(op, err)
}

// RequestPayout opens a payout for the user's current cycle. Eligibility is
// evaluated under the user's row lock in the same transaction as the insert.
func (s *Service) RequestPayout(ctx context.Context, userID int64) (*domain.Request, error) {
	var out *domain.Request
	err := s.store.Update(ctx, func(tx repository.Tx) error {
		u, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u == nil {
			return apperrors.ErrUserNotFound
		}

		el, cur, err := participation.EligibilityTx(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		if !el.EligiblePayout {
			return apperrors.ErrNotEligible.
				WithDetail("confirmed_l1", el.ConfirmedL1).
				WithDetail("required", participation.PayoutThreshold).
				WithDetail("participation_status", el.ParticipationStatus)
		}

		open, err := tx.Payouts().GetOpen(ctx, u.ID)
		if err != nil {
			return err
		}
		if open != nil {
			return apperrors.ErrOpenPayoutExists.WithDetail("payout_request_id", open.ID)
		}

		r := &domain.Request{
			UserID:          u.ID,
			ParticipationID: cur.ID,
			AmountCents:     s.amountCents,
			Status:          domain.StatusOpen,
		}
		if err := tx.Payouts().Create(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err = storageErr("request payout", err); err != nil {
		return nil, err
	}

	s.log.Info().Int64("user_id", userID).Int64("payout_request_id", out.ID).Msg("payout requested")
	s.events.Publish(ctx, events.Event{
		Type:            events.PayoutRequested,
		UserID:          userID,
		ParticipationID: out.ParticipationID,
		PayoutID:        out.ID,
		Status:          string(out.Status),
	})
	return out, nil
}

// MarkSettled records the admin's settlement of an OPEN request. SENT closes
// the participation cycle the payout was drawn from.
func (s *Service) MarkSettled(ctx context.Context, payoutID int64, decision, txHash, decidedBy string) (*domain.Request, error) {
	d, ok := domain.ParseDecision(strings.TrimSpace(decision))
	if !ok {
		return nil, apperrors.ErrInvalidDecision.WithDetail("decision", decision)
	}
	var hash *string
	if strings.TrimSpace(txHash) != "" {
		h, err := participation.NormalizeTxHash(txHash)
		if err != nil {
			return nil, err
		}
		hash = &h
	}
	status := domain.StatusRejected
	if d == domain.DecisionSent {
		if hash == nil {
			return nil, apperrors.ErrTxHashRequired
		}
		status = domain.StatusSent
	}
	if decidedBy == "" {
		decidedBy = "admin"
	}

	var out *domain.Request
	err := s.store.Update(ctx, func(tx repository.Tx) error {
		now := s.now()
		changed, err := tx.Payouts().Settle(ctx, payoutID, status, hash, decidedBy, now)
		if err != nil {
			return err
		}
		r, err := tx.Payouts().GetByID(ctx, payoutID)
		if err != nil {
			return err
		}
		if r == nil {
			return apperrors.ErrPayoutNotFound
		}
		if !changed {
			return apperrors.ErrAlreadyDecided.WithDetail("status", r.Status)
		}
		if status == domain.StatusSent {
			if err := tx.Participations().Close(ctx, r.ParticipationID, now); err != nil {
				return err
			}
		}
		out = r
		return nil
	})
	if err = storageErr("settle payout", err); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("payout_request_id", out.ID).
		Str("status", string(out.Status)).
		Str("decided_by", decidedBy).
		Msg("payout settled")
	s.events.Publish(ctx, events.Event{
		Type:            events.PayoutSettled,
		UserID:          out.UserID,
		ParticipationID: out.ParticipationID,
		PayoutID:        out.ID,
		Status:          string(out.Status),
		Actor:           decidedBy,
	})
	return out, nil
}

// Open returns the user's OPEN request, or nil.
func (s *Service) Open(ctx context.Context, userID int64) (*domain.Request, error) {
	var r *domain.Request
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		r, err = tx.Payouts().GetOpen(ctx, userID)
		return err
	})
	if err = storageErr("load open payout", err); err != nil {
		return nil, err
	}
	return r, nil
}
