// Package retry runs operations that may hit an IoTimeout under a bounded
// exponential backoff policy.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/plexload/pkg/plexerrors"
)

// Policy defines retry behavior
type Policy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64

	// OnRetry, when set, is called before each wait with the failed attempt
	// number (starting at 1) and its error.
	OnRetry func(attempt int, err error)
}

// NewPolicy creates a new retry policy with exponential backoff
func NewPolicy(maxAttempts int, initialDelay, maxDelay time.Duration, multiplier float64) *Policy {
	return &Policy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        maxDelay,
		Multiplier:      multiplier,
		RandomizeFactor: 0.25,
	}
}

// DefaultPolicy returns a sensible default retry policy
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// Do runs fn, retrying only errors for which plexerrors.IsRetryable is true.
// Exhausting every attempt returns the last error wrapped as IoTimeout.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.DoWithCondition(ctx, fn, plexerrors.IsRetryable)
}

// DoWithCondition runs fn with retry only if shouldRetry accepts the error
func (p *Policy) DoWithCondition(ctx context.Context, fn func(ctx context.Context) error, shouldRetry func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Don't wait after the last attempt
		if attempt == attempts-1 {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(p.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return plexerrors.Wrap(ctx.Err(), plexerrors.ErrorTypeCancelled, "retry cancelled")
		case <-timer.C:
		}
	}

	return plexerrors.Wrap(lastErr, plexerrors.ErrorTypeIoTimeout,
		fmt.Sprintf("all %d attempts failed", attempts))
}

// calculateDelay calculates the delay for a given attempt
func (p *Policy) calculateDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// jitter
	if p.RandomizeFactor > 0 {
		delta := delay * p.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta
		delay = minDelay + (rand.Float64() * (maxDelay - minDelay)) //nolint:gosec
	}

	return time.Duration(delay)
}

// GetDelay returns the backoff before attempt+1.
func (p *Policy) GetDelay(attempt int) time.Duration {
	return p.calculateDelay(attempt)
}

// Timeout runs fn under a per-attempt deadline. A deadline hit on the
// attempt context (not the parent) is reported as a retryable IoTimeout so
// it composes with Do.
func Timeout(ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && attemptCtx.Err() == context.DeadlineExceeded {
		return plexerrors.Wrap(err, plexerrors.ErrorTypeIoTimeout, op+" exceeded "+d.String())
	}
	return err
}
