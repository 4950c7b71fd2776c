// Package backoff computes jittered exponential retry delays and provides
// a context-aware sleep, used by the LLM client's rate-limit retry loop.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy parameterizes the delay curve for one retry loop.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the delay regardless of attempt number.
	Max time.Duration
	// Factor multiplies the delay each attempt. Values below 1 are
	// treated as 2.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added on top of
	// the computed delay, spreading out retries from concurrent foci.
	Jitter float64
}

// Delay returns the sleep duration before retry number attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter needs no cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 2
	}
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*random
	if max := float64(p.Max); p.Max > 0 && total > max {
		total = max
	}
	return time.Duration(total)
}

// ForRetryDelay builds the policy the LLM client uses: start at the
// configured delay, double each attempt with 20% jitter, cap at 16x.
func ForRetryDelay(initial time.Duration) Policy {
	return Policy{Initial: initial, Max: initial * 16, Factor: 2, Jitter: 0.2}
}

// Sleep blocks for d, returning ctx.Err() if the context is cancelled
// first. A non-positive d returns immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
