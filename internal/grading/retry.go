package grading

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds exponential backoff around an external call.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter is the fraction of the delay randomised in both directions.
	Jitter float64
}

// DefaultRetryPolicy is three attempts starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Jitter:    0.2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the wait before the attempt following attempt (zero based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	delay := p.BaseDelay << attempt
	if delay > p.MaxDelay || delay < 0 {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 && delay > 0 {
		spread := int64(float64(delay) * p.Jitter)
		if spread > 0 {
			delay += time.Duration(rand.Int64N(2*spread+1) - spread)
		}
	}
	return delay
}

// ExhaustedError reports a call that failed on every attempt or hit a permanent failure.
type ExhaustedError struct {
	Attempts  int
	Retryable bool
	Err       error
}

func (e *ExhaustedError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("permanent failure on attempt %d: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs op until it succeeds, fails permanently or the attempts are spent.
// Cancellation of ctx is returned as ctx.Err() and never retried.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, op func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !retryable(lastErr) {
			return &ExhaustedError{Attempts: attempt + 1, Err: lastErr}
		}
		if attempt == p.Attempts-1 {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return &ExhaustedError{Attempts: p.Attempts, Retryable: true, Err: lastErr}
}
