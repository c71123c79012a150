package middleware

import (
	"sync"
	"time"
)

// bucketIdleTTL is how long an untouched caller bucket is kept. A bucket idle
// this long has refilled completely anyway.
const bucketIdleTTL = 10 * time.Minute

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a token bucket per caller.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*tokenBucket
	maxTokens  float64
	refillRate float64 // tokens per second
	lastPrune  time.Time
	nowFn      func() time.Time
}

// NewRateLimiter creates a limiter allowing rate messages per second per
// caller with bursts of up to burst. A rate of zero or less disables
// limiting.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets:    make(map[string]*tokenBucket),
		maxTokens:  float64(burst),
		refillRate: rate,
		nowFn:      time.Now,
	}
}

// SetNowFunc overrides the clock (for testing).
func (rl *RateLimiter) SetNowFunc(fn func() time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.nowFn = fn
}

// Allow consumes one token from caller's bucket and reports whether one was
// available.
func (rl *RateLimiter) Allow(caller string) bool {
	if rl == nil || rl.refillRate <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	rl.pruneLocked(now)

	b, ok := rl.buckets[caller]
	if !ok {
		b = &tokenBucket{tokens: rl.maxTokens, lastRefill: now}
		rl.buckets[caller] = b
	}
	b.tokens += now.Sub(b.lastRefill).Seconds() * rl.refillRate
	if b.tokens > rl.maxTokens {
		b.tokens = rl.maxTokens
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	if now.Sub(rl.lastPrune) < bucketIdleTTL {
		return
	}
	rl.lastPrune = now
	for caller, b := range rl.buckets {
		if now.Sub(b.lastRefill) > bucketIdleTTL {
			delete(rl.buckets, caller)
		}
	}
}

// Len returns the number of tracked callers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
