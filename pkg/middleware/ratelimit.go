package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/consolesso/pkg/auth"
	"github.com/platinummonkey/consolesso/pkg/httputil"
	"github.com/platinummonkey/consolesso/pkg/observability"
)

// CodeRateLimited is returned when a client exceeds its request budget
const CodeRateLimited = "RATE_LIMITED"

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// LoginRateLimitConfig returns the budget for login attempts per client
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 20,
		WindowDuration:    time.Minute,
	}
}

// Limiter decides whether a keyed request may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Window() time.Duration
}

// MemoryLimiter is a per-process token bucket limiter per key
type MemoryLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
}

// NewMemoryLimiter creates an in-process limiter. Idle keys are dropped
// after two windows.
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config,
		buckets: expirable.NewLRU[string, *rate.Limiter](10000, nil, 2*config.WindowDuration),
	}
}

// Allow consumes one token for key
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	limiter, ok := l.buckets.Get(key)
	if !ok {
		every := l.config.WindowDuration / time.Duration(l.config.RequestsPerWindow)
		limiter = rate.NewLimiter(rate.Every(every), l.config.RequestsPerWindow)
		l.buckets.Add(key, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow(), nil
}

// Window returns the configured window
func (l *MemoryLimiter) Window() time.Duration { return l.config.WindowDuration }

// RedisLimiter implements a fixed-window counter shared across instances
type RedisLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "consolesso:ratelimit"
	}
	return &RedisLimiter{redis: client, config: config, prefix: prefix}
}

// Allow increments the key's counter for the current window
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)

	pipe := l.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	return incr.Val() <= int64(l.config.RequestsPerWindow), nil
}

// Window returns the configured window
func (l *RedisLimiter) Window() time.Duration { return l.config.WindowDuration }

// RateLimit throttles requests per client address. Limiter failures let
// the request through.
func RateLimit(limiter Limiter, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + auth.ClientIP(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				retryAfter := int(limiter.Window().Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteErrorDetails(w, http.StatusTooManyRequests, CodeRateLimited,
					"Too many requests.", map[string]interface{}{"retry_after": retryAfter})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
