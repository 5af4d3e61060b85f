package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	"github.com/open-builders/soulpull-backend/internal/domain/user"
	"github.com/open-builders/soulpull-backend/internal/repository"
)

// OwnerCache remembers which user owns a wallet. Misses and errors fall back
// to the store.
type OwnerCache interface {
	Get(ctx context.Context, address string) (int64, bool, error)
	Set(ctx context.Context, address string, userID int64) error
}

// Token is a signed bearer token.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity is what a valid token resolves to.
type Identity struct {
	UserID  int64
	Address string
}

// Claims carried by session tokens. Subject is the wallet address.
type Claims struct {
	UID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// Manager issues and resolves HS256 session tokens bound to a wallet.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	store  repository.Store
	cache  OwnerCache
	now    func() time.Time
	log    zerolog.Logger
}

func NewManager(secret string, ttl time.Duration, issuer string, store repository.Store, cache OwnerCache, log zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		store:  store,
		cache:  cache,
		now:    time.Now,
		log:    log,
	}
}

// Issue signs a token for u, which must have a linked wallet.
func (m *Manager) Issue(u *user.User) (*Token, error) {
	if u == nil || !u.HasWallet() {
		return nil, apperrors.Internal(errors.New("issue session: user has no wallet"))
	}
	now := m.now().UTC()
	exp := now.Add(m.ttl)
	claims := Claims{
		UID: u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Wallet(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        strconv.FormatInt(now.UnixNano(), 36),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &Token{Value: signed, ExpiresAt: exp}, nil
}

// Resolve validates raw and returns the user currently owning its wallet.
// Any parse, signature, expiry or ownership failure yields invalid_token.
func (m *Manager) Resolve(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, apperrors.ErrUnauthorized
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		m.log.Debug().Err(err).Msg("session token rejected")
		return nil, apperrors.ErrInvalidToken
	}
	if claims.Subject == "" || claims.UID <= 0 {
		return nil, apperrors.ErrInvalidToken
	}

	if m.cache != nil {
		if id, ok, err := m.cache.Get(ctx, claims.Subject); err == nil && ok {
			return &Identity{UserID: id, Address: claims.Subject}, nil
		}
	}

	var owner *user.User
	err = m.store.View(ctx, func(tx repository.Tx) error {
		u, err := tx.Users().GetByID(ctx, claims.UID)
		if err != nil {
			return err
		}
		// a merged record points at the survivor that now holds the wallet
		if u != nil && u.MergedInto != nil {
			u, err = tx.Users().GetByID(ctx, *u.MergedInto)
			if err != nil {
				return err
			}
		}
		owner = u
		return nil
	})
	if err != nil {
		return nil, apperrors.Storage("resolve session", err)
	}
	if owner == nil || owner.Wallet() != claims.Subject {
		return nil, apperrors.ErrInvalidToken
	}

	if m.cache != nil {
		if err := m.cache.Set(ctx, claims.Subject, owner.ID); err != nil {
			m.log.Warn().Err(err).Msg("session cache write failed")
		}
	}
	return &Identity{UserID: owner.ID, Address: claims.Subject}, nil
}
