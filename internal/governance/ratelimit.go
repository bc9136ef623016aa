package governance

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiterConfig defines per-tier rate limit settings.
type RateLimiterConfig struct {
	// DefaultLimit applies when the caller's plan tier is unrecognised.
	DefaultLimit int
	// Window is the refill interval. The full capacity is restored in one
	// lump at each window boundary, never as a continuous trickle.
	Window time.Duration
	// PlanLimits maps plan tier names to bucket capacity.
	PlanLimits map[string]int
	// IdleTTL evicts buckets untouched for this long. Zero disables eviction.
	IdleTTL time.Duration
}

// Consumption reports the outcome of a token consumption attempt.
type Consumption struct {
	Consumed  bool
	Remaining int64
}

// RateLimiter implements token bucket rate limiting per caller identity.
// Buckets are created lazily on first use and guarded individually, so
// unrelated identities never serialize on a shared lock.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	config  RateLimiterConfig

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

// NewRateLimiter creates a rate limiter with the provided configuration and
// starts the idle-bucket janitor when eviction is enabled.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 100
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	rl := &RateLimiter{
		buckets:     make(map[string]*tokenBucket),
		config:      config,
		stopJanitor: make(chan struct{}),
	}

	if config.IdleTTL > 0 {
		go rl.janitor()
	}

	return rl
}

// TryConsume attempts to take one token from the identity's bucket.
// Remaining always reflects the token count after the attempt, including a
// zero count on denial.
func (rl *RateLimiter) TryConsume(identityKey, plan string) Consumption {
	bucket := rl.resolveBucket(identityKey, plan)
	consumed, remaining := bucket.take()
	return Consumption{Consumed: consumed, Remaining: remaining}
}

// TryConsumeContext is TryConsume with context cancellation support.
func (rl *RateLimiter) TryConsumeContext(ctx context.Context, identityKey, plan string) Consumption {
	select {
	case <-ctx.Done():
		return Consumption{Consumed: false}
	default:
	}
	return rl.TryConsume(identityKey, plan)
}

// Close stops the idle-bucket janitor.
func (rl *RateLimiter) Close() {
	rl.janitorOnce.Do(func() { close(rl.stopJanitor) })
}

// Len reports the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

// Stats returns current rate limit statistics for all identities.
func (rl *RateLimiter) Stats() map[string]RateLimitStats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	stats := make(map[string]RateLimitStats, len(rl.buckets))
	for key, bucket := range rl.buckets {
		stats[key] = bucket.stats()
	}
	return stats
}

// RateLimitStats exposes current state of a rate limit bucket.
type RateLimitStats struct {
	Capacity    int64  `json:"capacity"`
	Available   int64  `json:"available"`
	WindowStart string `json:"windowStart"`
}

func (rl *RateLimiter) resolveBucket(identityKey, plan string) *tokenBucket {
	rl.mu.RLock()
	bucket, exists := rl.buckets[identityKey]
	rl.mu.RUnlock()
	if exists {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	// Re-check under the write lock: another request may have created it.
	if bucket, exists = rl.buckets[identityKey]; exists {
		return bucket
	}
	bucket = newTokenBucket(rl.limitForPlan(plan), rl.config.Window)
	rl.buckets[identityKey] = bucket
	return bucket
}

func (rl *RateLimiter) limitForPlan(plan string) int64 {
	if limit, ok := rl.config.PlanLimits[plan]; ok && limit > 0 {
		return int64(limit)
	}
	return int64(rl.config.DefaultLimit)
}

// janitor periodically evicts buckets with no recent activity to bound the
// map's growth under many distinct identities.
func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(rl.config.IdleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stopJanitor:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, bucket := range rl.buckets {
		if now.Sub(bucket.lastAccess()) >= rl.config.IdleTTL {
			delete(rl.buckets, key)
		}
	}
}

// tokenBucket implements an interval-refill token bucket: the full capacity
// is restored at each window boundary rather than accruing continuously.
type tokenBucket struct {
	mu          sync.Mutex
	capacity    int64
	window      time.Duration
	tokens      int64
	windowStart time.Time
	touched     time.Time
}

func newTokenBucket(capacity int64, window time.Duration) *tokenBucket {
	now := time.Now()
	return &tokenBucket{
		capacity:    capacity,
		window:      window,
		tokens:      capacity, // Start with full bucket
		windowStart: now,
		touched:     now,
	}
}

// take attempts to consume one token. The refill check, the decrement, and
// the remaining-count read happen under one lock acquisition so concurrent
// callers for the same identity observe a consistent bucket.
func (tb *tokenBucket) take() (bool, int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.refill(now)
	tb.touched = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true, tb.tokens
	}
	return false, tb.tokens
}

// refill restores the full capacity when at least one window has elapsed.
// Tokens never exceed capacity and never go negative.
func (tb *tokenBucket) refill(now time.Time) {
	if now.Sub(tb.windowStart) >= tb.window {
		tb.tokens = tb.capacity
		tb.windowStart = now
	}
}

func (tb *tokenBucket) lastAccess() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.touched
}

func (tb *tokenBucket) stats() RateLimitStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(time.Now())

	return RateLimitStats{
		Capacity:    tb.capacity,
		Available:   tb.tokens,
		WindowStart: tb.windowStart.Format(time.RFC3339),
	}
}

// WriteRateLimitHeaders adds rate limit status headers to the response.
func WriteRateLimitHeaders(w http.ResponseWriter, remaining int64, resetTime time.Time) {
	w.Header().Set("X-Rate-Limit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
}
