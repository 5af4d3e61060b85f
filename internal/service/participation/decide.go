package participation

import (
	"context"
	"sort"
	"strings"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	domain "github.com/open-builders/soulpull-backend/internal/domain/participation"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/service/events"
)

// AdminDecide confirms or rejects a NEW or PENDING participation. The
// transition is a conditional update, so of two racing decisions exactly one
// wins and the other gets already_decided. Confirming credits the referrer
// and the author code owner.
func (s *Service) AdminDecide(ctx context.Context, participationID int64, decision, txHash, decidedBy string) (*domain.Participation, error) {
	d, ok := domain.ParseDecision(strings.TrimSpace(decision))
	if !ok {
		return nil, apperrors.ErrInvalidDecision.WithDetail("decision", decision)
	}
	var hash *string
	if strings.TrimSpace(txHash) != "" {
		h, err := NormalizeTxHash(txHash)
		if err != nil {
			return nil, err
		}
		hash = &h
	}
	status := domain.StatusConfirmed
	if d == domain.DecisionReject {
		status = domain.StatusRejected
	}
	if decidedBy == "" {
		decidedBy = "admin"
	}

	var credits []credit
	if status == domain.StatusConfirmed {
		c, err := s.credits(ctx, participationID)
		if err != nil {
			return nil, err
		}
		credits = c
	}

	var out *domain.Participation
	err := s.update(ctx, "decide participation", func(tx repository.Tx) error {
		// User rows first, participation rows second, as in CreateIntent.
		for _, c := range credits {
			if _, err := tx.Users().GetByID(ctx, c.userID); err != nil {
				return err
			}
		}
		changed, err := tx.Participations().Decide(ctx, participationID, status, hash, decidedBy, s.now())
		if err != nil {
			return err
		}
		p, err := tx.Participations().GetByID(ctx, participationID)
		if err != nil {
			return err
		}
		if p == nil {
			return apperrors.ErrParticipationNotFound
		}
		if !changed {
			return apperrors.ErrAlreadyDecided.WithDetail("status", p.Status)
		}
		for _, c := range credits {
			if err := tx.Users().AddPoints(ctx, c.userID, c.points); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("participation_id", out.ID).
		Str("status", string(out.Status)).
		Str("decided_by", decidedBy).
		Msg("participation decided")
	s.events.Publish(ctx, events.Event{
		Type:            events.ParticipationDecided,
		UserID:          out.UserID,
		ParticipationID: out.ID,
		Status:          string(out.Status),
		Actor:           decidedBy,
	})
	return out, nil
}

type credit struct {
	userID int64
	points int64
}

// credits resolves who a confirmation pays, sorted by user id. Referrer links
// and author codes never change after the intent is created, so they are read
// outside the deciding transaction and without row locks.
func (s *Service) credits(ctx context.Context, participationID int64) ([]credit, error) {
	byUser := make(map[int64]int64)
	err := s.view(ctx, "resolve credits", func(tx repository.Tx) error {
		p, err := tx.Participations().GetByID(ctx, participationID)
		if err != nil {
			return err
		}
		if p == nil {
			return apperrors.ErrParticipationNotFound
		}
		if p.ReferrerParticipationID != nil && s.cfg.ReferralPoints > 0 {
			owner, err := tx.Participations().OwnerOf(ctx, *p.ReferrerParticipationID)
			if err != nil {
				return err
			}
			if owner != 0 {
				byUser[owner] += s.cfg.ReferralPoints
			}
		}
		if p.AuthorCode != nil && s.cfg.AuthorPoints > 0 {
			ac, err := tx.AuthorCodes().GetByCode(ctx, *p.AuthorCode)
			if err != nil {
				return err
			}
			if ac != nil && ac.OwnerUserID != p.UserID {
				byUser[ac.OwnerUserID] += s.cfg.AuthorPoints
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]credit, 0, len(byUser))
	for id, pts := range byUser {
		out = append(out, credit{userID: id, points: pts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].userID < out[j].userID })
	return out, nil
}
