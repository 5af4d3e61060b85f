package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	rplatform "github.com/open-builders/soulpull-backend/internal/platform/redis"
)

// WalletCache maps a linked wallet to the id of the user owning it. It only
// ever holds mappings the database confirmed and is dropped on identity changes.
type WalletCache struct {
	client *rplatform.Client
	ttl    time.Duration
}

func NewWalletCache(client *rplatform.Client, ttl time.Duration) *WalletCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &WalletCache{client: client, ttl: ttl}
}

func (c *WalletCache) key(address string) string { return "session:wallet:" + address }

// Get returns the cached owner of address; ok is false on miss.
func (c *WalletCache) Get(ctx context.Context, address string) (int64, bool, error) {
	v, err := c.client.Get(ctx, c.key(address)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

func (c *WalletCache) Set(ctx context.Context, address string, userID int64) error {
	return c.client.Set(ctx, c.key(address), strconv.FormatInt(userID, 10), c.ttl).Err()
}

// Invalidate removes cached entries for the given wallets.
func (c *WalletCache) Invalidate(ctx context.Context, addresses ...string) error {
	keys := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a != "" {
			keys = append(keys, c.key(a))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
