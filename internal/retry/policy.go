// Package retry implements bounded retries with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is wrapped by Do when every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy retries an operation up to MaxRetries extra times.
// The delay after attempt n (0-based) is min(BaseDelay*2^n, MaxDelay).
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// OnRetry, when set, observes every failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy builds a policy; non-positive delays fall back to 1s base and 5s cap.
func NewPolicy(maxRetries int, base, maxDelay time.Duration) *Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &Policy{
		MaxRetries: maxRetries,
		BaseDelay:  base,
		MaxDelay:   maxDelay,
	}
}

// Backoff returns the wait duration after the given 0-based attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay <= 0 {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Attempts is the total number of tries Do will make.
func (p *Policy) Attempts() int {
	return p.MaxRetries + 1
}

// Do runs fn until it succeeds, the attempts run out, or ctx is canceled.
// Timeouts returned by fn are retried like any other failure; only the
// cancellation of ctx itself stops the loop early.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.Attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry canceled: %w", err)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		}
		if attempt == p.Attempts()-1 {
			break
		}
		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, wait)
		}
		if err := p.wait(ctx, wait); err != nil {
			return fmt.Errorf("retry canceled: %w", err)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.Attempts(), lastErr)
}

func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
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
