package stage

import (
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy maps a task's failed-attempt count to a backoff tier. Attempts
// beyond the budget are exhausted: parked for the final sweep, where a single
// extra attempt decides the task. Final-sweep failures never consult the
// policy.
type RetryPolicy struct {
	Tier1Min time.Duration
	Tier1Max time.Duration
	Tier2Min time.Duration
	Tier2Max time.Duration

	// MaxAttempts is the per-pass fetch budget; the attempt that reaches it
	// exhausts the task.
	MaxAttempts int

	mu  sync.Mutex
	rng *rand.Rand
}

// DefaultRetryPolicy returns the production tiers: a short cool-off after the
// first failure, a long one after the second, exhaustion after the third.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		Tier1Min:    60 * time.Second,
		Tier1Max:    180 * time.Second,
		Tier2Min:    600 * time.Second,
		Tier2Max:    780 * time.Second,
		MaxAttempts: 3,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Backoff returns the cool-off before the next attempt, given how many
// attempts have already failed. ok is false when the budget is exhausted.
func (p *RetryPolicy) Backoff(attempts int) (time.Duration, bool) {
	if attempts >= p.MaxAttempts {
		return 0, false
	}
	min, max := p.Tier1Min, p.Tier1Max
	if attempts >= 2 {
		min, max = p.Tier2Min, p.Tier2Max
	}
	if max <= min {
		return min, true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return min + time.Duration(p.rng.Int63n(int64(max-min))), true
}
