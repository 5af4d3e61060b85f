package participation

import (
	"context"

	domain "github.com/open-builders/soulpull-backend/internal/domain/participation"
	"github.com/open-builders/soulpull-backend/internal/repository"
)

// PayoutThreshold is how many confirmed direct referrals a cycle needs
// before its owner may request a payout.
const PayoutThreshold = domain.SlotsLimit

// Eligibility is the derived payout gate of a user's current cycle.
type Eligibility struct {
	EligiblePayout      bool          `json:"eligible_payout"`
	ConfirmedL1         int           `json:"confirmed_l1"`
	SlotsUsed           int           `json:"slots_used"`
	SlotsLimit          int           `json:"slots_limit"`
	ParticipationID     int64         `json:"participation_id,omitempty"`
	ParticipationStatus domain.Status `json:"participation_status,omitempty"`
}

// EligibilityTx computes eligibility inside tx and also returns the current
// cycle (nil when there is none). Inside a write transaction the cycle row
// stays locked.
func EligibilityTx(ctx context.Context, tx repository.Tx, userID int64) (*Eligibility, *domain.Participation, error) {
	e := &Eligibility{SlotsLimit: domain.SlotsLimit}
	cur, err := tx.Participations().Current(ctx, userID)
	if err != nil || cur == nil {
		return e, nil, err
	}
	e.ParticipationID = cur.ID
	e.ParticipationStatus = cur.Status
	if cur.Status != domain.StatusConfirmed {
		return e, cur, nil
	}

	if e.ConfirmedL1, err = tx.Participations().CountReferrals(ctx, cur.ID, domain.StatusConfirmed); err != nil {
		return nil, nil, err
	}
	if e.SlotsUsed, err = tx.Participations().CountReferrals(ctx, cur.ID, domain.StatusPending, domain.StatusConfirmed); err != nil {
		return nil, nil, err
	}
	e.EligiblePayout = e.ConfirmedL1 >= PayoutThreshold
	return e, cur, nil
}

// ComputeEligibility is the read-only form of EligibilityTx.
func (s *Service) ComputeEligibility(ctx context.Context, userID int64) (*Eligibility, error) {
	var e *Eligibility
	err := s.view(ctx, "compute eligibility", func(tx repository.Tx) error {
		var err error
		e, _, err = EligibilityTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}
