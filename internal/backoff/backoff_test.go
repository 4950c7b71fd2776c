package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Minute, Factor: 2}

	assert.Equal(t, 100*time.Millisecond, p.delayWithRand(1, 0))
	assert.Equal(t, 200*time.Millisecond, p.delayWithRand(2, 0))
	assert.Equal(t, 400*time.Millisecond, p.delayWithRand(3, 0))
}

func TestDelayCapsAtMax(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 3 * time.Second, Factor: 2}

	assert.Equal(t, 3*time.Second, p.delayWithRand(10, 0))
}

func TestDelayJitterAddsUpToFraction(t *testing.T) {
	p := Policy{Initial: time.Second, Max: time.Minute, Factor: 2, Jitter: 0.2}

	base := p.delayWithRand(1, 0)
	jittered := p.delayWithRand(1, 1)
	assert.Equal(t, time.Second, base)
	assert.Equal(t, 1200*time.Millisecond, jittered)
}

func TestDelayZeroAttemptClampsToFirst(t *testing.T) {
	p := Policy{Initial: time.Second, Max: time.Minute, Factor: 2}

	assert.Equal(t, p.delayWithRand(1, 0), p.delayWithRand(0, 0))
}

func TestForRetryDelay(t *testing.T) {
	p := ForRetryDelay(500 * time.Millisecond)

	assert.Equal(t, 500*time.Millisecond, p.Initial)
	assert.Equal(t, 8*time.Second, p.Max)
}

func TestSleepCompletes(t *testing.T) {
	start := time.Now()
	require.NoError(t, Sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Sleep(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleepNonPositiveReturnsImmediately(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), 0))
	require.NoError(t, Sleep(context.Background(), -time.Second))
}
