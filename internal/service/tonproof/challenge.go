package tonproof

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	rplatform "github.com/open-builders/soulpull-backend/internal/platform/redis"
)

const (
	payloadKeyPrefix = "tonproof:payload:"
	payloadBytes     = 32
	// longer values can never be ours; skip the storage round trip
	maxPayloadLen = 64
)

// Challenge is a single-use payload the wallet must sign.
type Challenge struct {
	Payload    string    `json:"payload"`
	IssuedAt   time.Time `json:"issuedAt"`
	TTLSeconds int       `json:"ttlSeconds"`
}

// ChallengeStore issues payloads and consumes each of them at most once.
type ChallengeStore interface {
	Issue(ctx context.Context) (*Challenge, error)
	// Consume atomically removes payload and reports whether it was live.
	Consume(ctx context.Context, payload string) (bool, error)
}

func newPayload() (string, error) {
	var buf [payloadBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// RedisChallengeStore keeps payloads in Redis with a TTL.
type RedisChallengeStore struct {
	rdb *rplatform.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedisChallengeStore(rdb *rplatform.Client, ttl time.Duration) *RedisChallengeStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisChallengeStore{rdb: rdb, ttl: ttl, now: time.Now}
}

// Issue creates a random base64url payload and stores it in Redis with TTL.
func (s *RedisChallengeStore) Issue(ctx context.Context) (*Challenge, error) {
	payload, err := newPayload()
	if err != nil {
		return nil, err
	}
	issued := s.now().UTC()
	if err := s.rdb.Set(ctx, payloadKeyPrefix+payload, strconv.FormatInt(issued.Unix(), 10), s.ttl).Err(); err != nil {
		return nil, err
	}
	return &Challenge{Payload: payload, IssuedAt: issued, TTLSeconds: int(s.ttl.Seconds())}, nil
}

// Consume uses GETDEL so two concurrent verifications can not both succeed.
func (s *RedisChallengeStore) Consume(ctx context.Context, payload string) (bool, error) {
	if payload == "" || len(payload) > maxPayloadLen {
		return false, nil
	}
	err := s.rdb.GetDel(ctx, payloadKeyPrefix+payload).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MemoryChallengeStore is an in-process ChallengeStore. Expired entries are
// dropped lazily on access and on Issue.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryChallengeStore(ttl time.Duration) *MemoryChallengeStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryChallengeStore{entries: map[string]time.Time{}, ttl: ttl, now: time.Now}
}

func (s *MemoryChallengeStore) Issue(_ context.Context) (*Challenge, error) {
	payload, err := newPayload()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for p, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, p)
		}
	}
	s.entries[payload] = now.Add(s.ttl)
	return &Challenge{Payload: payload, IssuedAt: now, TTLSeconds: int(s.ttl.Seconds())}, nil
}

func (s *MemoryChallengeStore) Consume(_ context.Context, payload string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.entries[payload]
	if !ok {
		return false, nil
	}
	delete(s.entries, payload)
	return s.now().Before(exp), nil
}
