// Package participation runs the referral cycle state machine:
// intent, payment submission, admin decision and eligibility.
package participation

import (
	"context"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	"github.com/open-builders/soulpull-backend/internal/repository"
	"github.com/open-builders/soulpull-backend/internal/service/events"
)

// Config carries payment terms and cycle settings.
type Config struct {
	ReceiverWallet     string
	JettonMaster       string
	JettonDecimals     int32
	TicketCents        int64
	ForwardTonNanotons int64
	IntentTTL          time.Duration
	ReferralPoints     int64
	AuthorPoints       int64
	CommentPrefix      string
}

// Match is an on-chain transfer found for a payment comment.
type Match struct {
	TxHash string
	Units  *big.Int
	Sender string
	At     time.Time
}

// PaymentChecker looks for an incoming jetton transfer carrying comment.
// It returns nil when no such transfer is found.
type PaymentChecker interface {
	FindPayment(ctx context.Context, comment string, minUnits *big.Int) (*Match, error)
}

// Service is the participation engine.
type Service struct {
	store  repository.Store
	cfg    Config
	chain  PaymentChecker
	events events.Publisher
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(store repository.Store, cfg Config, chain PaymentChecker, pub events.Publisher, log zerolog.Logger) *Service {
	if cfg.IntentTTL <= 0 {
		cfg.IntentTTL = 15 * time.Minute
	}
	if cfg.CommentPrefix == "" {
		cfg.CommentPrefix = "Soulpull"
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		chain:  chain,
		events: pub,
		log:    log,
		now:    time.Now,
	}
}

// JettonUnits converts cents into indivisible jetton units.
func JettonUnits(cents int64, decimals int32) decimal.Decimal {
	return decimal.New(cents, decimals-2).Ceil()
}

func decimal2(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// update runs fn in a write transaction and maps infrastructure failures to
// storage_unavailable. Domain errors pass through untouched.
func (s *Service) update(ctx context.Context, op string, fn func(tx repository.Tx) error) error {
	return storageErr(op, s.store.Update(ctx, fn))
}

func (s *Service) view(ctx context.Context, op string, fn func(tx repository.Tx) error) error {
	return storageErr(op, s.store.View(ctx, fn))
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if c, ok := repository.ConflictOn(err); ok {
		switch c {
		case repository.ConstraintOneActiveCycle:
			return apperrors.ErrActiveCycle
		case repository.ConstraintParticipationTx:
			return apperrors.ErrDuplicateTx
		}
	}
	return apperrors.Storage(op, err)
}

func (s *Service) risk(ctx context.Context, userID int64, err error) {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeActiveCycle, apperrors.CodeReferrerLimit, apperrors.CodeSelfReferral,
		apperrors.CodeDuplicateTx, apperrors.CodeReferralCycle, apperrors.CodeOwnAuthorCode,
		apperrors.CodeReferrerMismatch:
		s.events.Publish(ctx, events.Event{Type: events.RiskDetected, UserID: userID, Reason: apperrors.CodeOf(err)})
	}
}

var txHashRe = regexp.MustCompile(`^[A-Za-z0-9+/=_:-]{1,128}$`)

// NormalizeTxHash trims h and checks it looks like a hex or base64 hash.
func NormalizeTxHash(h string) (string, error) {
	h = strings.TrimSpace(h)
	if !txHashRe.MatchString(h) {
		return "", apperrors.ErrInvalidTxHash
	}
	return h, nil
}
