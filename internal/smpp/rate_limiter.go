package smpp

import (
	"context"
	"sync"
	"time"
)

// TokenBucket caps the sustained outbound submission rate.
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) Take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.tokens = minFloat(tb.capacity, tb.tokens+(elapsed.Seconds()*tb.refillRate))
	tb.lastRefill = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// RateLimitConfig bounds outbound submissions: a token bucket for the
// messages-per-second ceiling plus a cap on concurrently pending requests.
type RateLimitConfig struct {
	MessagesPerSecond     float64
	MaxConcurrentRequests int
}

type rateLimiter struct {
	bucket *TokenBucket
	slots  chan struct{}
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 100
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 50
	}
	return &rateLimiter{
		bucket: NewTokenBucket(cfg.MessagesPerSecond, cfg.MessagesPerSecond),
		slots:  make(chan struct{}, cfg.MaxConcurrentRequests),
	}
}

// acquire claims a rate token and a concurrency slot. Rate exhaustion is a
// hard reject (the caller decides whether to retry); waiting for a slot
// respects ctx.
func (rl *rateLimiter) acquire(ctx context.Context) error {
	if !rl.bucket.Take() {
		return ErrRateLimited
	}
	select {
	case rl.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rl *rateLimiter) release() {
	<-rl.slots
}
