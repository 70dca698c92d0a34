// Package ratelimit throttles API callers with a per-actor token bucket.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config tunes a Limiter.
type Config struct {
	// PerMinute is the sustained request budget per actor.
	PerMinute int
	// Burst is how far above the sustained rate an actor may spike.
	Burst int
	// Stale is how long an idle actor's bucket survives before eviction.
	Stale time.Duration
}

// DefaultConfig is generous enough for a browsing session while still
// cutting off runaway clients.
func DefaultConfig() Config {
	return Config{
		PerMinute: 300,
		Burst:     50,
		Stale:     5 * time.Minute,
	}
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// Limiter tracks one token bucket per actor key.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates a Limiter. Call Sweep periodically (or rely on the middleware's
// lazy eviction) to drop idle buckets.
func New(cfg Config) *Limiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = DefaultConfig().PerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	if cfg.Stale <= 0 {
		cfg.Stale = DefaultConfig().Stale
	}
	return &Limiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// WithNow overrides the clock, for tests.
func (l *Limiter) WithNow(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow spends one token from the actor's bucket, reporting whether the
// request may proceed. Unknown actors start with a full burst allowance.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(l.cfg.Burst) - 1, seen: now}
		return true
	}

	refill := now.Sub(b.seen).Seconds() * float64(l.cfg.PerMinute) / 60
	b.tokens += refill
	if max := float64(l.cfg.Burst); b.tokens > max {
		b.tokens = max
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Sweep evicts buckets idle longer than the configured Stale window.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.Stale)
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Middleware throttles by the acting identity, falling back to the client IP
// for anonymous browsing. Throttled requests get a 429 with a retry hint.
func (l *Limiter) Middleware() gin.HandlerFunc {
	var sweepMu sync.Mutex
	lastSweep := l.now()

	return func(c *gin.Context) {
		key := c.GetHeader("X-User-ID")
		if key == "" {
			key = c.ClientIP()
		}

		if !l.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate_limited",
				"message":    "demasiadas solicitudes, intenta de nuevo en un momento",
				"retryAfter": 1,
			})
			c.Abort()
			return
		}

		sweepMu.Lock()
		if now := l.now(); now.Sub(lastSweep) > l.cfg.Stale {
			lastSweep = now
			go l.Sweep()
		}
		sweepMu.Unlock()

		c.Next()
	}
}
