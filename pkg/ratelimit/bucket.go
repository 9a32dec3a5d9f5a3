// Package ratelimit provides a token bucket for pacing message generation.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket is a token bucket refilled at a fixed rate. A full bucket holds
// capacity tokens, so bursts up to capacity are allowed after idle periods.
type Bucket struct {
	rate     float64 // tokens per second
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewBucket creates a bucket producing rate tokens per second with the given
// burst capacity. The bucket starts full. Rate and capacity must be positive;
// zero or negative values are clamped to 1.
func NewBucket(rate, capacity float64) *Bucket {
	if rate <= 0 {
		rate = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	b := &Bucket{
		rate:     rate,
		capacity: capacity,
		tokens:   capacity,
		now:      time.Now,
	}
	b.last = b.now()
	return b
}

func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

// TryTake removes n tokens if available and reports whether it succeeded.
func (b *Bucket) TryTake(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Take blocks until n tokens are available or the context is done.
func (b *Bucket) Take(ctx context.Context, n float64) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= n {
			b.tokens -= n
			b.mu.Unlock()
			return nil
		}
		deficit := n - b.tokens
		b.mu.Unlock()

		wait := time.Duration(deficit / b.rate * float64(time.Second))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Tokens returns the current token count, refilling first.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}
