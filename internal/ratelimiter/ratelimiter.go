package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// unlimited is used when a rate of zero is requested.
const unlimited = 1_000_000_000

// RateLimiter is a token bucket limiter wrapping golang.org/x/time/rate.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained requests
// with bursts of up to burst requests.
//
// A requestsPerSecond of 0 disables limiting.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimited
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the number of tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// KeyedLimiter hands out one RateLimiter per key (for example a caller pid),
// so a single noisy caller cannot exhaust the budget of the others.
//
// Limiters idle for longer than the configured TTL are dropped on the next
// call to Allow.
type KeyedLimiter[K comparable] struct {
	mu       sync.Mutex
	rps      uint
	burst    uint
	ttl      time.Duration
	now      func() time.Time
	limiters map[K]*keyedEntry
}

type keyedEntry struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// NewKeyed creates a KeyedLimiter. A ttl of 0 keeps limiters forever.
func NewKeyed[K comparable](requestsPerSecond, burst uint, ttl time.Duration) *KeyedLimiter[K] {
	return &KeyedLimiter[K]{
		rps:      requestsPerSecond,
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
		limiters: make(map[K]*keyedEntry),
	}
}

// Allow reports whether a request for key may proceed now.
func (k *KeyedLimiter[K]) Allow(key K) bool {
	k.mu.Lock()
	now := k.now()
	k.evictLocked(now)

	entry, ok := k.limiters[key]
	if !ok {
		entry = &keyedEntry{limiter: New(k.rps, k.burst)}
		k.limiters[key] = entry
	}
	entry.lastSeen = now
	k.mu.Unlock()

	return entry.limiter.Allow()
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

func (k *KeyedLimiter[K]) evictLocked(now time.Time) {
	if k.ttl <= 0 {
		return
	}
	for key, entry := range k.limiters {
		if now.Sub(entry.lastSeen) > k.ttl {
			delete(k.limiters, key)
		}
	}
}
