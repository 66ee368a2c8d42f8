package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	// RateLimitRemaining is the header for remaining requests.
	RateLimitRemaining = "X-RateLimit-Remaining"
	// RateLimitLimit is the header for the limit.
	RateLimitLimit = "X-RateLimit-Limit"
	// RetryAfter is the header for retry time.
	RetryAfter = "Retry-After"
)

// slidingWindowScript trims expired entries, counts the window, and
// admits the request atomically.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window_start = tonumber(ARGV[1])
	local now = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local expiry = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local current = redis.call('ZCARD', key)
	if current >= limit then
		return {0, 0}
	end

	redis.call('ZADD', key, now, now)
	redis.call('PEXPIRE', key, expiry)

	return {1, limit - current - 1}
`)

// RateLimiter provides sliding-window request rate limiting backed by Redis.
type RateLimiter struct {
	redis redis.UniversalClient
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(rdb redis.UniversalClient) *RateLimiter {
	return &RateLimiter{redis: rdb}
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	Limit     int64
}

// Allow checks and records one request for the given key.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixNano()

	result, err := slidingWindowScript.Run(ctx, r.redis, []string{"ratelimit:" + key},
		windowStart,
		now.UnixNano(),
		limit,
		window.Milliseconds()+60000,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	allowed, _ := result[0].(int64)
	remaining, _ := result[1].(int64)

	return &RateLimitResult{
		Allowed:   allowed == 1,
		Remaining: remaining,
		Limit:     limit,
	}, nil
}

// RateLimitConfig holds rate limit middleware configuration.
type RateLimitConfig struct {
	// Limit is the maximum number of requests per window.
	Limit int64
	// Window is the time window.
	Window time.Duration
	// KeyFunc generates the rate limit key from the request.
	// Default uses client IP.
	KeyFunc func(*gin.Context) string
}

// RateLimit returns a middleware that limits requests using the given limiter.
// A nil limiter or a Redis error lets the request through.
func RateLimit(limiter *RateLimiter, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string {
			return "ip:" + c.ClientIP()
		}
	}
	if cfg.Window == 0 {
		cfg.Window = time.Minute
	}

	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		result, err := limiter.Allow(c.Request.Context(), cfg.KeyFunc(c), cfg.Limit, cfg.Window)
		if err != nil {
			c.Next()
			return
		}

		c.Header(RateLimitLimit, strconv.FormatInt(result.Limit, 10))
		c.Header(RateLimitRemaining, strconv.FormatInt(result.Remaining, 10))

		if !result.Allowed {
			c.Header(RetryAfter, strconv.Itoa(int(cfg.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
				"code":  "RATE_LIMITED",
			})
			return
		}

		c.Next()
	}
}
