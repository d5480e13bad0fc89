package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisCounter is the subset of *redis.Client the shared limiter needs.
type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisRateLimitConfig configures a fixed-window limiter shared by every
// replica talking to the same Redis.
type RedisRateLimitConfig struct {
	Prefix string
	Limit  int64
	Window time.Duration
}

// RedisRateLimit counts requests per client IP in fixed windows stored in
// Redis. When Redis is unreachable the request is let through and a warning
// is logged.
func RedisRateLimit(client redisCounter, cfg RedisRateLimitConfig, logger zerolog.Logger) echo.MiddlewareFunc {
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	limit := strconv.FormatInt(cfg.Limit, 10)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			t := time.Now()
			window := t.Truncate(cfg.Window)
			key := cfg.Prefix + ":" + c.RealIP() + ":" + strconv.FormatInt(window.Unix(), 10)
			ctx := c.Request().Context()

			n, err := client.Incr(ctx, key).Result()
			if err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("rate limit store unavailable")
				return next(c)
			}
			if n == 1 {
				if err := client.Expire(ctx, key, cfg.Window).Err(); err != nil {
					logger.Warn().Err(err).Str("key", key).Msg("rate limit expiry not set")
				}
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			remaining := cfg.Limit - n
			if remaining < 0 {
				remaining = 0
			}
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if n > cfg.Limit {
				return tooManyRequests(c, window.Add(cfg.Window).Sub(t))
			}
			return next(c)
		}
	}
}
