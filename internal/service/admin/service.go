// Package admin backs the manual review queues: pending payments and open
// payout requests.
package admin

import (
	"context"

	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	partdomain "github.com/open-builders/soulpull-backend/internal/domain/participation"
	payoutdomain "github.com/open-builders/soulpull-backend/internal/domain/payout"
	userdomain "github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/service/participation"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// UserSummary is the reviewer's view of a user.
type UserSummary struct {
	ID         int64  `json:"id"`
	TelegramID *int64 `json:"telegram_id,omitempty"`
	Username   string `json:"username,omitempty"`
	Wallet     string `json:"wallet,omitempty"`
	Points     int64  `json:"points"`
}

// ReferrerSummary names the cycle a pending participation occupies a slot of.
type ReferrerSummary struct {
	ParticipationID int64             `json:"participation_id"`
	Status          partdomain.Status `json:"status"`
	User            *UserSummary      `json:"user,omitempty"`
}

type PendingParticipation struct {
	*partdomain.Participation
	User     *UserSummary     `json:"user,omitempty"`
	Referrer *ReferrerSummary `json:"referrer,omitempty"`
}

type OpenPayout struct {
	*payoutdomain.Request
	User        *UserSummary `json:"user,omitempty"`
	ConfirmedL1 int          `json:"confirmed_l1"`
}

type Service struct {
	store repository.Store
	log   zerolog.Logger
}

func NewService(store repository.Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// summaries memoizes user lookups within one listing.
type summaries struct {
	ctx   context.Context
	tx    repository.Tx
	users map[int64]*UserSummary
}

func (s *summaries) get(id int64) (*UserSummary, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	u, err := s.tx.Users().GetByID(s.ctx, id)
	if err != nil {
		return nil, err
	}
	sum := summarize(u)
	s.users[id] = sum
	return sum, nil
}

func summarize(u *userdomain.User) *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:         u.ID,
		TelegramID: u.TelegramID,
		Username:   u.Username(),
		Wallet:     u.Wallet(),
		Points:     u.Points,
	}
}

// ListPendingParticipations returns undecided participations, oldest first.
func (s *Service) ListPendingParticipations(ctx context.Context, limit int) ([]PendingParticipation, error) {
	out := []PendingParticipation{}
	err := s.store.View(ctx, func(tx repository.Tx) error {
		ps, err := tx.Participations().ListPending(ctx, clampLimit(limit))
		if err != nil {
			return err
		}
		sums := &summaries{ctx: ctx, tx: tx, users: map[int64]*UserSummary{}}
		for _, p := range ps {
			item := PendingParticipation{Participation: p}
			if item.User, err = sums.get(p.UserID); err != nil {
				return err
			}
			if p.ReferrerParticipationID != nil {
				ref, err := tx.Participations().GetByID(ctx, *p.ReferrerParticipationID)
				if err != nil {
					return err
				}
				if ref != nil {
					item.Referrer = &ReferrerSummary{ParticipationID: ref.ID, Status: ref.Status}
					if item.Referrer.User, err = sums.get(ref.UserID); err != nil {
						return err
					}
				}
			}
			out = append(out, item)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Storage("list pending participations", err)
	}
	return out, nil
}

// ListOpenPayouts returns OPEN payout requests with the confirmed referral
// count of the cycle each one pays out.
func (s *Service) ListOpenPayouts(ctx context.Context, limit int) ([]OpenPayout, error) {
	out := []OpenPayout{}
	err := s.store.View(ctx, func(tx repository.Tx) error {
		rs, err := tx.Payouts().ListOpen(ctx, clampLimit(limit))
		if err != nil {
			return err
		}
		sums := &summaries{ctx: ctx, tx: tx, users: map[int64]*UserSummary{}}
		for _, r := range rs {
			item := OpenPayout{Request: r}
			if item.User, err = sums.get(r.UserID); err != nil {
				return err
			}
			if item.ConfirmedL1, err = tx.Participations().CountReferrals(ctx, r.ParticipationID, partdomain.StatusConfirmed); err != nil {
				return err
			}
			out = append(out, item)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Storage("list open payouts", err)
	}
	return out, nil
}

// Stats is a small dashboard header for reviewers.
type Stats struct {
	PendingParticipations int `json:"pending_participations"`
	OpenPayouts           int `json:"open_payouts"`
	Threshold             int `json:"payout_threshold"`
}

// QueueStats counts both review queues up to MaxLimit.
func (s *Service) QueueStats(ctx context.Context) (*Stats, error) {
	st := &Stats{Threshold: participation.PayoutThreshold}
	err := s.store.View(ctx, func(tx repository.Tx) error {
		ps, err := tx.Participations().ListPending(ctx, MaxLimit)
		if err != nil {
			return err
		}
		rs, err := tx.Payouts().ListOpen(ctx, MaxLimit)
		if err != nil {
			return err
		}
		st.PendingParticipations, st.OpenPayouts = len(ps), len(rs)
		return nil
	})
	if err != nil {
		return nil, apperrors.Storage("queue stats", err)
	}
	return st, nil
}
