package participation

import (
	"context"
	"time"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	domain "github.com/open-builders/soulpull-backend/internal/domain/participation"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/service/events"
)

const chainLookupTimeout = 10 * time.Second

// ConfirmPayment records txHash on the user's PENDING participation. The
// status is left for an admin to decide. Submitting the same hash twice is a
// no-op.
func (s *Service) ConfirmPayment(ctx context.Context, userID int64, txHash string) (*domain.Participation, error) {
	hash, err := NormalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}

	var pending *domain.Participation
	err = s.view(ctx, "load pending participation", func(tx repository.Tx) error {
		var err error
		pending, err = pendingOf(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if pending.TxHash != nil && *pending.TxHash == hash {
		return pending, nil
	}

	found := s.lookupPayment(ctx, pending)

	var (
		out  *domain.Participation
		noop bool
	)
	err = s.update(ctx, "confirm payment", func(tx repository.Tx) error {
		p, err := pendingOf(ctx, tx, userID)
		if err != nil {
			return err
		}
		if p.TxHash != nil && *p.TxHash == hash {
			out, noop = p, true
			return nil
		}
		owner, err := tx.Participations().GetByTxHash(ctx, hash)
		if err != nil {
			return err
		}
		if owner != nil && owner.ID != p.ID {
			return apperrors.ErrDuplicateTx
		}
		if p.TxHash != nil {
			return apperrors.ErrTxAlreadySubmitted.WithDetail("tx_hash", *p.TxHash)
		}
		var chain *domain.ChainPayment
		if p.ID == pending.ID {
			chain = found
		}
		if err := tx.Participations().SetTxHash(ctx, p.ID, hash, chain); err != nil {
			return err
		}
		p.SetPayment(hash, chain)
		out = p
		return nil
	})
	if err != nil {
		s.risk(ctx, userID, err)
		return nil, err
	}
	if noop {
		return out, nil
	}

	ev := s.log.Info().
		Int64("user_id", userID).
		Int64("participation_id", out.ID).
		Bool("chain_verified", out.ChainVerified)
	if out.ChainTxHash != nil {
		ev = ev.Str("chain_tx_hash", *out.ChainTxHash).Bool("hash_matches", *out.ChainTxHash == hash)
	}
	ev.Msg("payment submitted")
	s.events.Publish(ctx, events.Event{
		Type:            events.PaymentSubmitted,
		UserID:          userID,
		ParticipationID: out.ID,
		Status:          string(out.Status),
	})
	return out, nil
}

func pendingOf(ctx context.Context, tx repository.Tx, userID int64) (*domain.Participation, error) {
	p, err := tx.Participations().Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Decidable() {
		return nil, apperrors.ErrNoPendingParticipation
	}
	return p, nil
}

// lookupPayment asks the chain collaborator, if any, for the transfer
// carrying p's comment. Failures only mean the payment stays unverified.
func (s *Service) lookupPayment(ctx context.Context, p *domain.Participation) *domain.ChainPayment {
	if s.chain == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, chainLookupTimeout)
	defer cancel()

	comment := domain.Comment(s.cfg.CommentPrefix, p.ID)
	units := JettonUnits(p.AmountCents, s.cfg.JettonDecimals).BigInt()
	m, err := s.chain.FindPayment(ctx, comment, units)
	if err != nil {
		s.log.Warn().Err(err).Int64("participation_id", p.ID).Msg("chain lookup failed")
		return nil
	}
	if m == nil {
		return nil
	}
	return &domain.ChainPayment{TxHash: m.TxHash, Sender: m.Sender}
}
