package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// webhookLimitPrefix keeps the webhook surface's counters in a pool separate
// from any other limiter sharing the store.
const webhookLimitPrefix = "ratelimit:webhook:"

// CounterStore is the subset of shared-store operations the fixed-window
// limiter needs. Counters are shared by every process instance.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, keys ...string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// RateLimitConfig defines the fixed-window limits for the webhook surface.
type RateLimitConfig struct {
	Quota  int           // requests allowed per window
	Window time.Duration // counting window
	Block  time.Duration // block applied once the quota is exceeded
}

// WebhookRateLimitMiddleware enforces per-client-IP fixed-window limits
// against the shared store. Exceeding the quota sets a block independent of
// the counting window, so an abuser cannot simply wait out a short window.
// Rejected requests never reach signature validation.
func WebhookRateLimitMiddleware(counters CounterStore, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Quota <= 0 {
		cfg.Quota = 120
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Hour
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		blockedKey := webhookLimitPrefix + ip + ":blocked"

		if n, err := counters.Exists(c.Request.Context(), blockedKey); err == nil && n > 0 {
			retryAfter := cfg.Block
			if ttl, err := counters.TTL(c.Request.Context(), blockedKey); err == nil && ttl > 0 {
				retryAfter = ttl
			}
			rejectRateLimited(c, ip, retryAfter)
			return
		}

		count, err := counters.Incr(c.Request.Context(), webhookLimitPrefix+ip, cfg.Window)
		if err != nil {
			// A broken limiter must not take the ingestion path down with it.
			log.Error().Err(err).Str("client_ip", ip).Msg("rate limit counter unavailable")
			c.Next()
			return
		}

		if count > int64(cfg.Quota) {
			if err := counters.Set(c.Request.Context(), blockedKey, "1", cfg.Block); err != nil {
				log.Error().Err(err).Str("client_ip", ip).Msg("failed to set rate limit block")
			}
			rejectRateLimited(c, ip, cfg.Block)
			return
		}

		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, ip string, retryAfter time.Duration) {
	log.Warn().
		Str("client_ip", ip).
		Str("request_id", GetRequestID(c)).
		Msg("rate limit exceeded")
	c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error": "rate limit exceeded",
	})
	c.Abort()
}

// limiterEntry holds a token-bucket limiter with last used timestamp
type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// ipRateLimiter manages per-IP in-process limiters for the admin surface.
// Admin traffic is low and operator-facing, so a local token bucket is enough
// and avoids a store round-trip on every login attempt.
type ipRateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
}

func newIPRateLimiter(limit rate.Limit, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    limit,
		burst:    burst,
	}
}

func (l *ipRateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.limiters[ip]; ok {
		entry.lastUsed = time.Now()
		return entry.limiter
	}

	// Opportunistic cleanup keeps the map bounded without a sweep timer.
	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters[ip] = &limiterEntry{limiter: limiter, lastUsed: time.Now()}
	return limiter
}

// AdminRateLimitMiddleware limits admin login attempts to a few per minute
// per IP.
func AdminRateLimitMiddleware() gin.HandlerFunc {
	limiter := newIPRateLimiter(rate.Every(time.Minute/3), 1)

	return func(c *gin.Context) {
		if !limiter.getLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "too many attempts, try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
