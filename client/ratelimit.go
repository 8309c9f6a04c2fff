package client

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled lazily from elapsed time. A nil or
// zero-capacity limiter admits everything.
type RateLimiter struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewRateLimiter creates a full bucket of capacity permits refilled at perSecond.
func NewRateLimiter(capacity int, perSecond float64) *RateLimiter {
	return &RateLimiter{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: perSecond,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (r *RateLimiter) disabled() bool {
	return r == nil || r.capacity <= 0
}

// refill must be called with mu held.
func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.lastRefill).Seconds()
	if elapsed > 0 {
		r.tokens = math.Min(r.capacity, r.tokens+elapsed*r.refillRate)
		r.lastRefill = now
	}
}

// TryAcquire takes a permit if one is available.
func (r *RateLimiter) TryAcquire() bool {
	if r.disabled() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill(r.now())
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// reserve takes a permit, possibly going into debt, and returns how long the
// caller has to wait before using it.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill(r.now())
	r.tokens--
	if r.tokens >= 0 {
		return 0
	}
	if r.refillRate <= 0 {
		return time.Duration(math.MaxInt64)
	}
	deficit := -r.tokens
	return time.Duration(deficit / r.refillRate * float64(time.Second))
}

// cancel returns a reserved permit.
func (r *RateLimiter) cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = math.Min(r.capacity, r.tokens+1)
}

// Wait blocks until a permit is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.disabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	delay := r.reserve()
	if delay == 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}

// Available returns the current number of whole permits.
func (r *RateLimiter) Available() int {
	if r.disabled() {
		return math.MaxInt32
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill(r.now())
	if r.tokens < 0 {
		return 0
	}
	return int(r.tokens)
}
