package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucketAllowsBurstThenBlocks(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 1, BurstSize: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, b.Allow(), "burst request %d", i)
	}
	assert.False(t, b.Allow(), "bucket should be empty after the burst")
}

func TestBucketRefills(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 100, BurstSize: 1})

	assert.True(t, b.Allow())
	assert.False(t, b.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow(), "one token should have refilled at 100/s")
}

func TestBucketTokensCappedAtBurst(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 1000, BurstSize: 5})

	time.Sleep(10 * time.Millisecond)
	assert.LessOrEqual(t, b.Tokens(), 5.0)
}

func TestWaitTimeZeroWhenTokensAvailable(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 1, BurstSize: 1})
	assert.Equal(t, time.Duration(0), b.WaitTime())
}

func TestWaitTimeReflectsRefillRate(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 10, BurstSize: 1})

	assert.True(t, b.Allow())
	wait := b.WaitTime()
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, 100*time.Millisecond)
}

func TestDefaultsAppliedToNonPositiveConfig(t *testing.T) {
	b := NewBucket(Config{})
	assert.Equal(t, 20.0, b.Tokens())
}
