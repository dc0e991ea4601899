package infra

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Backoff yields exponentially growing delays with ±20% jitter, never below
// the minimum nor above the maximum delay.
type Backoff struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64
	current    time.Duration
	attempts   int
	mu         sync.Mutex
}

func NewBackoff(minDelay, maxDelay time.Duration, mult float64) *Backoff {
	return &Backoff{
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		multiplier: mult,
		current:    minDelay,
	}
}

func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	jitterFactor := rand.Float64()*0.4 - 0.2
	jitter := time.Duration(jitterFactor * float64(b.current))
	wait := min(max(b.current+jitter, b.minDelay), b.maxDelay)

	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.maxDelay)

	return wait
}

// Wait sleeps for the next delay. It returns early with ctx's error when ctx
// is done first.
func (b *Backoff) Wait(ctx context.Context) (time.Duration, error) {
	d := b.Next()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return d, ctx.Err()
	case <-t.C:
		return d, nil
	}
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.minDelay
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
