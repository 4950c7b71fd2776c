// Package ratelimit implements the client-side token bucket that paces
// LLM requests ahead of the provider's own limits, so a burst of
// concurrent foci spreads its calls instead of tripping 429s.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures the bucket.
type Config struct {
	// RequestsPerSecond is the sustained refill rate.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// BurstSize is the bucket capacity: how many requests may go out
	// back-to-back before pacing kicks in.
	BurstSize int `yaml:"burst_size"`
	// Enabled turns the limiter off entirely when false.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig paces to 10 requests/second with a burst of 20, a safe
// floor for one animus instance sharing a provider key.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 10, BurstSize: 20, Enabled: true}
}

// Bucket is a token bucket: capacity BurstSize, refilled continuously at
// RequestsPerSecond.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

// NewBucket builds a full bucket from cfg, applying defaults to
// non-positive values.
func NewBucket(cfg Config) *Bucket {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond * 2)
	}
	return &Bucket{
		tokens:     float64(cfg.BurstSize),
		maxTokens:  float64(cfg.BurstSize),
		refillRate: cfg.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available, reporting whether the caller may
// proceed now.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// WaitTime reports how long until one token will be available; zero means
// a call may proceed immediately.
func (b *Bucket) WaitTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
}

// Tokens returns the current token count, for tests and status output.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// refill credits tokens for the time elapsed since the last refill.
// Callers hold b.mu.
func (b *Bucket) refill() {
	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	b.lastRefill = now
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}
