package participation

import (
	"context"
	"time"

	domain "github.com/open-builders/soulpull-backend/internal/domain/participation"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/service/events"
)

// ExpiredBy is recorded as decided_by on auto-rejected intents.
const ExpiredBy = "system:expired"

const expiryBatch = 100

// ExpireStale rejects PENDING participations that never got a tx hash and
// whose valid_until passed more than grace ago. It returns how many it rejected.
func (s *Service) ExpireStale(ctx context.Context, grace time.Duration) (int, error) {
	now := s.now().UTC()
	var expired []*domain.Participation
	err := s.update(ctx, "expire stale intents", func(tx repository.Tx) error {
		stale, err := tx.Participations().ListStale(ctx, now.Add(-grace), expiryBatch)
		if err != nil {
			return err
		}
		for _, c := range stale {
			// re-read under lock; a payment may have landed since the listing
			p, err := tx.Participations().GetByID(ctx, c.ID)
			if err != nil {
				return err
			}
			if p == nil || p.Status != domain.StatusPending || p.TxHash != nil {
				continue
			}
			ok, err := tx.Participations().Decide(ctx, p.ID, domain.StatusRejected, nil, ExpiredBy, now)
			if err != nil {
				return err
			}
			if ok {
				expired = append(expired, p)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, p := range expired {
		s.events.Publish(ctx, events.Event{
			Type:            events.ParticipationDecided,
			UserID:          p.UserID,
			ParticipationID: p.ID,
			Status:          string(domain.StatusRejected),
			Actor:           ExpiredBy,
			Reason:          "intent_expired",
		})
	}
	return len(expired), nil
}

// RunExpiry calls ExpireStale every interval until ctx is cancelled.
func (s *Service) RunExpiry(ctx context.Context, interval, grace time.Duration) {
	if grace <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	log := s.log.With().Str("worker", "intent-expiry").Logger()
	log.Info().Dur("interval", interval).Dur("grace", grace).Msg("starting intent expiry worker")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping intent expiry worker")
			return
		case <-ticker.C:
			n, err := s.ExpireStale(ctx, grace)
			if err != nil {
				log.Error().Err(err).Msg("expire stale intents")
				continue
			}
			if n > 0 {
				log.Info().Int("rejected", n).Msg("stale intents rejected")
			}
		}
	}
}
