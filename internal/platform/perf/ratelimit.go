package perf

import (
	"context"
	"math"
	"sync"
	"time"
)

// Named rate limiter identifiers shared across the engine.
const (
	LimiterBatch = "batch_processing"
	LimiterAPI   = "api_calls"
)

type bucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

// Limiter is a set of named token buckets. Buckets refill continuously at
// their configured rate up to a burst cap and charge one token per permitted
// call. When a bucket is empty the caller sleeps for one refill interval and
// then contends for the refilled tokens again, so concurrent waiters are
// admitted at the refill rate rather than all at once.
type Limiter struct {
	enabled bool
	rps     float64
	burst   int

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLimiter builds a Limiter whose buckets are created on first use with
// the given defaults. A disabled limiter passes every call through.
func NewLimiter(enabled bool, requestsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		enabled: enabled,
		rps:     requestsPerSecond,
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Configure registers or replaces a named bucket with its own rate.
func (l *Limiter) Configure(name string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[name] = &bucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: requestsPerSecond,
		lastRefill: l.now(),
	}
}

// WithRateLimit acquires a token from the named bucket, then runs fn.
// Acquiring blocks until a token is available or ctx is cancelled.
func (l *Limiter) WithRateLimit(ctx context.Context, name string, fn func() error) error {
	if !l.enabled {
		return fn()
	}
	if err := l.acquire(ctx, name); err != nil {
		return err
	}
	return fn()
}

func (l *Limiter) acquire(ctx context.Context, name string) error {
	l.mu.Lock()
	b, ok := l.buckets[name]
	if !ok {
		b = &bucket{
			tokens:     float64(l.burst),
			maxTokens:  float64(l.burst),
			refillRate: l.rps,
			lastRefill: l.now(),
		}
		l.buckets[name] = b
	}

	for {
		now := l.now()
		elapsed := now.Sub(b.lastRefill).Seconds()
		b.tokens = math.Min(b.maxTokens, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now

		if b.tokens >= 1 {
			b.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration(float64(time.Second) / b.refillRate)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		// Tokens accrued while sleeping are contended for, not handed to
		// every waiter at once.
		l.mu.Lock()
	}
}

// Tokens reports the current token count of a bucket, refill applied.
// Unknown buckets report the configured burst.
func (l *Limiter) Tokens(name string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[name]
	if !ok {
		return float64(l.burst)
	}
	elapsed := l.now().Sub(b.lastRefill).Seconds()
	return math.Min(b.maxTokens, b.tokens+elapsed*b.refillRate)
}
