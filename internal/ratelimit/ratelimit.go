// Package ratelimit implements the per-(tenant, host) token bucket quota
// described in spec.md §4.3. Refill is lazy — computed from elapsed wall
// time on access — so there are deliberately no background timers; the
// standard library is sufficient and no third-party rate-limit library
// from the retrieval pack fits this "no background goroutine" constraint
// (see DESIGN.md).
package ratelimit

import (
	"sync"
	"time"

	"riptide/internal/riperrors"
)

// Bucket is a single token bucket for one (tenant, host) key.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(capacity, refillRate float64) *bucket {
	return &bucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// refill tops up tokens based on elapsed time since the last access, then
// clamps to capacity. Caller must hold b.mu.
func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

func (b *bucket) checkQuota() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens >= 1
}

func (b *bucket) consume(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	b.tokens -= n
	if b.tokens < 0 {
		b.tokens = 0
	}
}

func (b *bucket) resetFull() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = b.capacity
	b.lastRefill = time.Now()
}

func (b *bucket) remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return float64(int64(b.tokens))
}

// Limiter manages independent token buckets keyed by an arbitrary string
// (tenant id, or host name). Per-host and per-tenant limits are two
// separate Limiter instances, checked independently (spec.md §4.3).
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   float64
	refillRate float64
}

// New constructs a Limiter where each key gets its own bucket of the given
// capacity, refilling at refillRate tokens/second.
func New(capacity, refillRate float64) *Limiter {
	return &Limiter{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
	}
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.capacity, l.refillRate)
		l.buckets[key] = b
	}
	return b
}

// CheckQuota reports whether key currently has at least one token
// available, returning RateLimited otherwise.
func (l *Limiter) CheckQuota(key string) error {
	if l.bucketFor(key).checkQuota() {
		return nil
	}
	return riperrors.New(riperrors.RateLimited, "ratelimit.CheckQuota", "quota exceeded for "+key).
		WithRetryAfter(l.retryAfterSeconds(key))
}

// retryAfterSeconds estimates how long until at least one token refills.
func (l *Limiter) retryAfterSeconds(key string) int {
	if l.refillRate <= 0 {
		return 1
	}
	secs := 1.0 / l.refillRate
	if secs < 1 {
		return 1
	}
	return int(secs + 0.999)
}

// Consume deducts n tokens from key's bucket, clamped at zero.
func (l *Limiter) Consume(key string, n float64) {
	l.bucketFor(key).consume(n)
}

// Reset refills key's bucket back to full capacity.
func (l *Limiter) Reset(key string) {
	l.bucketFor(key).resetFull()
}

// GetRemaining returns the current token count for key.
func (l *Limiter) GetRemaining(key string) float64 {
	return l.bucketFor(key).remaining()
}
