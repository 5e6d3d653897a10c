// Package ratelimit bounds how often expensive queries may run.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket with continuous refill. The allowance is capped
// at the configured rate, so a long idle period never banks more than one
// burst. The zero value is not usable; use NewBucket.
type Bucket struct {
	mu        sync.Mutex
	rate      float64 // tokens added per window, also the capacity
	per       time.Duration
	allowance float64
	last      time.Time
	now       func() time.Time
}

// NewBucket creates a bucket granting rate calls per window, starting full.
func NewBucket(rate float64, per time.Duration) *Bucket {
	b := &Bucket{
		rate:      rate,
		per:       per,
		allowance: rate,
		now:       time.Now,
	}
	b.last = b.now()
	return b
}

// DefaultBucket returns the bucket used for chat queries: 1.5 calls per
// minute.
func DefaultBucket() *Bucket {
	return NewBucket(1.5, time.Minute)
}

// Allow consumes one token if available and reports whether the call may
// proceed. A refused call consumes nothing.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.allowance += now.Sub(b.last).Seconds() / b.per.Seconds() * b.rate
	b.last = now
	if b.allowance > b.rate {
		b.allowance = b.rate
	}
	if b.allowance < 1 {
		return false
	}
	b.allowance--
	return true
}

// setClock replaces the time source, for tests.
func (b *Bucket) setClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	b.last = now()
}
