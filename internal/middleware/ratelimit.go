package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/meeting-sync/internal/config"
)

// takeToken refills the bucket at KEYS[1] for the whole intervals elapsed
// since its last refill and then tries to take one token.
// ARGV: now_ms, capacity, refill_tokens, interval_ms, ttl_seconds.
// Returns {allowed (0|1), tokens left, ms until the next refill}.
var takeToken = redis.NewScript(`
local now, cap, refill, interval = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4])
local b = redis.call('HMGET', KEYS[1], 'tokens', 'at')
local tokens, at = tonumber(b[1]) or cap, tonumber(b[2]) or now
local steps = math.floor(math.max(0, now - at) / interval)
if steps > 0 then
  tokens = math.min(cap, tokens + steps * refill)
  at = at + steps * interval
end
local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'at', at)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[5]))
return {allowed, tokens, math.max(0, interval - (now - at))}
`)

// verdict is the outcome of one token request.
type verdict struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

// roomBucket is a Redis token bucket shared by every node.
type roomBucket struct {
	rdb *redis.Client
	cfg config.RateLimitConfig
	now func() time.Time
}

func (b *roomBucket) take(ctx context.Context, key string) (verdict, error) {
	res, err := takeToken.Run(ctx, b.rdb, []string{key},
		b.now().UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL/time.Second),
	).Int64Slice()
	if err != nil {
		return verdict{}, err
	}
	if len(res) != 3 {
		return verdict{}, fmt.Errorf("unexpected limiter reply %v", res)
	}
	return verdict{allowed: res[0] == 1, remaining: res[1], retry: time.Duration(res[2]) * time.Millisecond}, nil
}

// NewTokenBucket limits the mutating meeting room routes per caller.
// Routes addressing one room (update, delete, enter, leave) get a bucket
// per user and room, so a busy room can not drain the caller's budget for
// the others; room creation has its own bucket per user.  Without Redis,
// or when disabled, every request passes, and so does a request whose
// bucket could not be read.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	bucket := &roomBucket{rdb: rdb, cfg: cfg, now: time.Now}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg.Prefix, c)
			v, err := bucket.take(c.Request().Context(), key)
			if err != nil {
				log.Warn().Err(err).Str("module", "ratelimit").Str("key", key).Msg("limiter unavailable, allowing request")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(v.remaining, 10))
			if v.allowed {
				return next(c)
			}

			secs := int((v.retry + time.Second - 1) / time.Second)
			h.Set("Retry-After", strconv.Itoa(secs))
			log.Debug().Str("module", "ratelimit").Str("key", key).Dur("retry", v.retry).Msg("request throttled")
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"error":       "too_many_requests",
				"retry_after": secs,
			})
		}
	}
}

// rateKey names the bucket for a request:
// <prefix>:<user>:room:<room>:<action> for routes with a room segment and
// <prefix>:<user>:create otherwise.  The action is the route's last path
// segment (enter, leave) or the method for the bare room route.
func rateKey(prefix string, c echo.Context) string {
	uid := userID(c)
	room := c.Param("room")
	if room == "" {
		return prefix + ":" + uid + ":create"
	}
	action := strings.ToLower(c.Request().Method)
	if path := c.Path(); !strings.HasSuffix(path, ":room") {
		action = path[strings.LastIndexByte(path, '/')+1:]
	}
	return prefix + ":" + uid + ":room:" + room + ":" + action
}
