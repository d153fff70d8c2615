package vectorguard

import (
	"sync"
	"time"
)

// TokenBucketRateLimiter implements RateLimiter using token bucket algorithm. Each key
// receives capacity tokens per refill period.
type TokenBucketRateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*tokenBucket
	capacity   int
	refillRate time.Duration
	now        func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

func NewTokenBucketRateLimiter(capacity int, refillRate time.Duration) *TokenBucketRateLimiter {
	return newTokenBucketRateLimiter(capacity, refillRate, time.Now)
}

func newTokenBucketRateLimiter(capacity int, refillRate time.Duration, now func() time.Time) *TokenBucketRateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucketRateLimiter{
		buckets:    make(map[string]*tokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        now,
	}
}

func (rl *TokenBucketRateLimiter) Allow(key string) (allowed bool, remaining int, reset time.Time, err error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = &tokenBucket{
			tokens:     float64(rl.capacity),
			lastRefill: now,
		}
		rl.buckets[key] = bucket
	}

	elapsed := now.Sub(bucket.lastRefill)
	if elapsed > 0 {
		bucket.tokens += elapsed.Seconds() * float64(rl.capacity) / rl.refillRate.Seconds()
		if bucket.tokens > float64(rl.capacity) {
			bucket.tokens = float64(rl.capacity)
		}
		bucket.lastRefill = now
	}

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true, int(bucket.tokens), now.Add(rl.refillRate), nil
	}
	return false, 0, now.Add(rl.refillRate), nil
}
