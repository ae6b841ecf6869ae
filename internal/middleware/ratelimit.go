// ratelimit.go provides Gin middleware that enforces per-client rate limits, returning
// 429 responses when the configured requests-per-minute threshold is exceeded. Limits are
// kept either in process (token bucket) or in Redis so that every instance shares them.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up expired entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// AuthRateLimitConfig returns stricter limits for login, registration and verification codes
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// Decision is the outcome of a single rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// rateLimitEntry tracks request counts for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements an in-process token bucket limiter
type RateLimiter struct {
	config   RateLimitConfig
	entries  map[string]*rateLimitEntry
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically removes idle entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) refill(entry *rateLimitEntry, now time.Time) {
	tokensPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	entry.tokens = math.Min(float64(rl.config.BurstSize), entry.tokens+now.Sub(entry.lastUpdate).Seconds()*tokensPerSecond)
	entry.lastUpdate = now
}

// Allow implements Limiter. It never returns an error.
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	d := Decision{Limit: rl.config.RequestsPerMinute}

	entry, exists := rl.entries[key]
	if !exists {
		entry = &rateLimitEntry{tokens: float64(rl.config.BurstSize), lastUpdate: now}
		rl.entries[key] = entry
	} else {
		rl.refill(entry, now)
	}

	if entry.tokens >= 1 {
		entry.tokens--
		d.Allowed = true
	} else if rl.config.RequestsPerMinute > 0 {
		missing := 1 - entry.tokens
		d.RetryAfter = time.Duration(missing * 60 / float64(rl.config.RequestsPerMinute) * float64(time.Second))
	}
	d.Remaining = int(entry.tokens)
	return d, nil
}

// RedisLimiter keeps GCRA rate limit state in Redis so limits hold across instances
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter creates a Redis-backed limiter. prefix separates independent limits
// (e.g. general API traffic and auth endpoints) sharing one Redis.
func NewRedisLimiter(rdb redis.UniversalClient, prefix string, config RateLimitConfig) *RedisLimiter {
	burst := config.BurstSize
	if burst <= 0 {
		burst = config.RequestsPerMinute
	}
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redis_rate.Limit{Rate: config.RequestsPerMinute, Burst: burst, Period: time.Minute},
		prefix:  prefix,
	}
}

// Allow implements Limiter
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := rl.limiter.Allow(ctx, rl.prefix+":"+key, rl.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit check: %w", err)
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Limit:      rl.limit.Rate,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// NewLimiter builds the limiter selected by cfg.Backend. The configured requests per minute
// and burst override the defaults in base when set. The memory backend's *RateLimiter
// must be stopped by the caller.
func NewLimiter(cfg config.RateLimitingConfig, rdb redis.UniversalClient, prefix string, base RateLimitConfig) (Limiter, error) {
	if cfg.RequestsPerMinute > 0 {
		base.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.Burst > 0 {
		base.BurstSize = cfg.Burst
	}

	switch cfg.Backend {
	case "", "memory":
		return NewRateLimiter(base), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis rate limiting requires redis.enabled")
		}
		return NewRedisLimiter(rdb, prefix, base), nil
	default:
		return nil, fmt.Errorf("unknown rate limiting backend: %s", cfg.Backend)
	}
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests. A limiter error
// is logged and the request is let through.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting.
// Authenticated callers are limited per user, everyone else per client IP.
func getRateLimitKey(c *gin.Context) string {
	if id, ok := CurrentUserID(c); ok {
		return "user:" + strconv.FormatInt(id, 10)
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
