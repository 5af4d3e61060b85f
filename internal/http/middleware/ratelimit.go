package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	apperrors "github.com/open-builders/soulpull-backend/internal/common/errors"
	common "github.com/open-builders/soulpull-backend/internal/common/middleware"
	rplatform "github.com/open-builders/soulpull-backend/internal/platform/redis"
)

// RateLimitConfig configures the token bucket.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// KEYS[1] bucket; ARGV now_ms, capacity, refill_tokens, interval_ms, ttl_seconds.
// Returns {allowed, remaining, retry_after_ms}.
const tokenBucketScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
  local elapsed = math.max(0, now_ms - last_refill)
  local intervals = math.floor(elapsed / interval_ms)
  if intervals > 0 then
    tokens = math.min(capacity, tokens + (intervals * refill_tokens))
    last_refill = last_refill + (intervals * interval_ms)
  end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  retry_after_ms = interval_ms - (now_ms - last_refill)
  if retry_after_ms < 0 then retry_after_ms = 0 end
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return { allowed, tokens, retry_after_ms }
`

// RateLimiter is a Redis token bucket per client IP, user and route.
type RateLimiter struct {
	rdb    *rplatform.Client
	cfg    RateLimitConfig
	script *redis.Script
	log    zerolog.Logger
	now    func() time.Time
}

func NewRateLimiter(rdb *rplatform.Client, cfg RateLimitConfig, log zerolog.Logger) *RateLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &RateLimiter{
		rdb:    rdb,
		cfg:    cfg,
		script: redis.NewScript(tokenBucketScript),
		log:    log,
		now:    time.Now,
	}
}

// Handler limits the routes it is attached to. Redis failures let the
// request through.
func (l *RateLimiter) Handler() gin.HandlerFunc {
	if l == nil || !l.cfg.Enabled || l.rdb == nil || l.cfg.Capacity <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		key := l.key(c)
		vals, err := l.script.Run(c.Request.Context(), l.rdb, []string{key},
			l.now().UnixMilli(),
			l.cfg.Capacity,
			l.cfg.RefillTokens,
			l.cfg.RefillInterval.Milliseconds(),
			int64(l.cfg.TTL/time.Second),
		).Int64Slice()
		if err != nil || len(vals) != 3 {
			l.log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(l.cfg.Capacity))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(vals[1], 10))
		if vals[0] != 1 {
			secs := int(math.Ceil(float64(vals[2]) / 1000.0))
			c.Header("Retry-After", strconv.Itoa(secs))
			common.WriteError(c, l.log, apperrors.ErrRateLimited.WithDetail("retry_after", secs))
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) key(c *gin.Context) string {
	uid := "anon"
	if id := common.GetUserID(c); id != 0 {
		uid = strconv.FormatInt(id, 10)
	}
	return l.cfg.Prefix + ":ip:" + c.ClientIP() + ":user:" + uid + ":route:" + c.Request.Method + " " + c.FullPath()
}
