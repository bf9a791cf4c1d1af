package gmail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Operation identifies a Gmail API call for quota accounting.
type Operation int

const (
	OpProfile Operation = iota
	OpMessagesList
	OpMessagesGet
	OpThreadsGet
)

// Cost returns the Gmail quota units consumed by the operation.
func (op Operation) Cost() int {
	switch op {
	case OpProfile:
		return 1
	case OpMessagesList, OpMessagesGet:
		return 5
	case OpThreadsGet:
		return 10
	default:
		return 1
	}
}

const (
	// DefaultCapacity is the per-user burst, in quota units.
	DefaultCapacity = 250
	// DefaultRefillRate is quota units per second at DefaultQPS.
	DefaultRefillRate = 250.0
	// DefaultQPS is the request rate the refill rate is calibrated for.
	DefaultQPS = 5.0
	// MinQPS is the lowest accepted rate.
	MinQPS = 0.1
)

// RateLimiter is a quota-unit token bucket shared by all calls of one client.
// After a rate-limit response the bucket is drained, calls pause until the
// backoff ends and the refill rate is halved until then.
type RateLimiter struct {
	mu             sync.Mutex
	limiter        *rate.Limiter
	capacity       int
	baseRate       float64
	refillRate     float64
	throttledUntil time.Time
}

// NewRateLimiter creates a limiter for the given QPS. Rates above DefaultQPS
// do not raise the refill rate.
func NewRateLimiter(qps float64) *RateLimiter {
	if qps < MinQPS {
		qps = MinQPS
	}
	scale := qps / DefaultQPS
	if scale > 1 {
		scale = 1
	}
	r := DefaultRefillRate * scale
	return &RateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(r), DefaultCapacity),
		capacity:   DefaultCapacity,
		baseRate:   r,
		refillRate: r,
	}
}

// Acquire blocks until the operation's cost is available or ctx is done.
func (rl *RateLimiter) Acquire(ctx context.Context, op Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rl.mu.Lock()
	wait := time.Until(rl.throttledUntil)
	rl.mu.Unlock()
	if wait > 0 {
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}

	rl.mu.Lock()
	now := time.Now()
	rl.recoverLocked(now)
	r := rl.limiter.ReserveN(now, op.Cost())
	rl.mu.Unlock()

	if !r.OK() {
		return fmt.Errorf("operation cost %d exceeds bucket capacity %d", op.Cost(), rl.capacity)
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return nil
	}
	if err := sleepCtx(ctx, delay); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

// Throttle drains the bucket, pauses acquisition for d and halves the refill
// rate. An existing longer backoff is never shortened.
func (rl *RateLimiter) Throttle(d time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if until := now.Add(d); until.After(rl.throttledUntil) {
		rl.throttledUntil = until
	}
	rl.refillRate = rl.baseRate * 0.5
	rl.limiter = rate.NewLimiter(rate.Limit(rl.refillRate), rl.capacity)
	rl.limiter.AllowN(now, rl.capacity)
}

// recoverLocked restores the configured refill rate once the backoff is over.
func (rl *RateLimiter) recoverLocked(now time.Time) {
	if rl.refillRate == rl.baseRate || now.Before(rl.throttledUntil) {
		return
	}
	rl.refillRate = rl.baseRate
	rl.limiter.SetLimitAt(now, rate.Limit(rl.baseRate))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
