package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/book-catalog/internal/config"
	"github.com/iliyamo/book-catalog/internal/logger"
	"github.com/iliyamo/book-catalog/internal/metrics"
)

// bucketScript takes one token from the bucket at KEYS[1], refilling it
// first. ARGV: capacity, tokens per refill, refill interval ms, ttl s, now ms.
// Returns {allowed (0|1), tokens left, ms until the next refill}.
var bucketScript = redis.NewScript(`
local cap, per, every = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])
local ttl, now = tonumber(ARGV[4]), tonumber(ARGV[5])

local b = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens, ts = tonumber(b[1]) or cap, tonumber(b[2]) or now

local n = math.floor((now - ts) / every)
if n > 0 then
	tokens = math.min(cap, tokens + n * per)
	ts = ts + n * every
end

local ok, wait = 0, 0
if tokens >= 1 then
	ok, tokens = 1, tokens - 1
else
	wait = math.max(0, every - (now - ts))
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('EXPIRE', KEYS[1], ttl)
return {ok, tokens, wait}
`)

// NewTokenBucket limits requests per key with a Redis token bucket. Redis
// errors fail open.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passthrough
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := buildRateKey(cfg, c)

			res, err := bucketScript.Run(ctx, rdb, []string{key},
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL/time.Second),
				time.Now().UnixMilli(),
			).Int64Slice()
			if err != nil || len(res) != 3 {
				logger.From(ctx).Warn("ratelimit: script failed", zap.String("key", key), zap.Error(err))
				return next(c)
			}
			allowed, remaining, waitMs := res[0] == 1, res[1], res[2]

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if allowed {
				return next(c)
			}

			secs := (waitMs + 999) / 1000
			metrics.RateLimited.Inc()
			h.Set("Retry-After", strconv.FormatInt(secs, 10))
			if cfg.Debug {
				logger.From(ctx).Info("ratelimit: blocked", zap.String("key", key), zap.Int64("retry_ms", waitMs))
			}
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too_many_requests",
				"message":     "rate limit exceeded",
				"retry_after": secs,
			})
		}
	}
}

func passthrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// buildRateKey keys the bucket by client IP ("ip") or by client IP and
// route ("ip_route", the default). The limited routes are unauthenticated,
// so there is no user to key on.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	if strings.EqualFold(cfg.KeyStrategy, "ip") {
		return cfg.Prefix + ":ip:" + ip
	}
	return cfg.Prefix + ":ip:" + ip + ":route:" + c.Request().Method + " " + c.Path()
}
