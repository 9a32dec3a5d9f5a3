package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucket_StartsFull(t *testing.T) {
	b := NewBucket(10, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, b.TryTake(1), "take %d should succeed from a full bucket", i)
	}
	assert.False(t, b.TryTake(1), "empty bucket should reject")
}

func TestBucket_Refill(t *testing.T) {
	b := NewBucket(1000, 10)
	now := time.Now()
	b.now = func() time.Time { return now }
	b.last = now
	b.tokens = 0

	require.False(t, b.TryTake(1))

	// 100ms at 1000/s refills 100 tokens, capped at capacity 10
	now = now.Add(100 * time.Millisecond)
	assert.True(t, b.TryTake(10))
	assert.False(t, b.TryTake(1))
}

func TestBucket_CapacityCap(t *testing.T) {
	b := NewBucket(1000, 5)
	now := time.Now()
	b.now = func() time.Time { return now }
	b.last = now

	now = now.Add(time.Hour)
	assert.InDelta(t, 5, b.Tokens(), 0.001, "tokens must not exceed capacity")
}

func TestBucket_Take_Blocks(t *testing.T) {
	b := NewBucket(100, 1)
	require.True(t, b.TryTake(1))

	start := time.Now()
	err := b.Take(context.Background(), 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestBucket_Take_ContextCanceled(t *testing.T) {
	b := NewBucket(0.001, 1)
	require.True(t, b.TryTake(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Take(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBucket_ClampsInvalidConfig(t *testing.T) {
	b := NewBucket(0, -1)
	assert.True(t, b.TryTake(1))
}
