// Package retry runs fallible operations with bounded attempts, exponential
// backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"polyagent/internal/errs"
	"polyagent/internal/logger"
	textutil "polyagent/internal/pkg/text"
)

// Observer receives one event per attempt.
type Observer interface {
	ObserveAttempt(operation string, attempt int, err error)
}

// Policy is immutable once built; construct one per call site.
type Policy struct {
	Name              string
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFraction    float64
	// Timeout bounds each attempt. Zero disables the per-attempt bound.
	Timeout   time.Duration
	Retryable func(error) bool
	Observer  Observer

	// jitter returns a value in [0,1). Tests pin it.
	jitter func() float64
}

// DefaultPolicy mirrors the historical defaults: 1s base, doubling, 60s cap,
// up to 10% jitter.
func DefaultPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:       maxAttempts,
		BaseDelay:         time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2,
		JitterFraction:    0.1,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errs.Configf("retry: max attempts must be >= 1, got %d", p.MaxAttempts)
	case p.BaseDelay < 0 || p.MaxDelay < 0:
		return errs.Configf("retry: delays must be >= 0")
	case p.BaseDelay > p.MaxDelay:
		return errs.Configf("retry: base delay %s exceeds max delay %s", p.BaseDelay, p.MaxDelay)
	case p.BackoffMultiplier <= 1:
		return errs.Configf("retry: backoff multiplier must be > 1, got %v", p.BackoffMultiplier)
	case p.JitterFraction < 0 || p.JitterFraction >= 1:
		return errs.Configf("retry: jitter fraction must be in [0,1), got %v", p.JitterFraction)
	case p.Timeout < 0:
		return errs.Configf("retry: timeout must be >= 0")
	}
	return nil
}

// BaseDelayFor returns min(BaseDelay * multiplier^attemptIndex, MaxDelay).
// attemptIndex is zero for the delay after the first failure.
func (p Policy) BaseDelayFor(attemptIndex int) time.Duration {
	if attemptIndex < 0 {
		attemptIndex = 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attemptIndex))
	if math.IsInf(d, 0) || d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// DelayFor adds uniform jitter in [0, JitterFraction*base] to BaseDelayFor.
func (p Policy) DelayFor(attemptIndex int) time.Duration {
	base := p.BaseDelayFor(attemptIndex)
	if p.JitterFraction <= 0 || base <= 0 {
		return base
	}
	rnd := p.jitter
	if rnd == nil {
		rnd = rand.Float64
	}
	return base + time.Duration(rnd()*p.JitterFraction*float64(base))
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return errs.Retryable(err)
}

func (p Policy) name() string {
	if p.Name == "" {
		return "operation"
	}
	return p.Name
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs op until it succeeds, fails with a non-retryable error, runs out of
// attempts or ctx ends. A ctx deadline takes precedence over remaining
// attempts.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, abortErr(p, attempt-1, err, lastErr)
		}
		out, err := runAttempt(ctx, p, op)
		if p.Observer != nil {
			p.Observer.ObserveAttempt(p.name(), attempt, err)
		}
		if err == nil {
			if attempt > 1 {
				logger.Infof("[retry] %s succeeded on attempt %d/%d", p.name(), attempt, p.MaxAttempts)
			}
			return out, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, abortErr(p, attempt, ctxErr, lastErr)
		}
		if !p.retryable(err) {
			logger.Warnf("[retry] %s attempt %d/%d failed with non-retryable error: %s",
				p.name(), attempt, p.MaxAttempts, summarize(err))
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}
		delay := p.DelayFor(attempt - 1)
		logger.Warnf("[retry] %s attempt %d/%d failed: %s; retrying in %s",
			p.name(), attempt, p.MaxAttempts, summarize(err), delay.Round(time.Millisecond))
		if err := sleep(ctx, delay); err != nil {
			return zero, abortErr(p, attempt, err, lastErr)
		}
	}
	logger.Errorf("[retry] %s failed after %d attempts: %s", p.name(), p.MaxAttempts, summarize(lastErr))
	return zero, &ExhaustedError{Operation: p.name(), Attempts: p.MaxAttempts, Last: lastErr}
}

func runAttempt[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	if p.Timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	out, err := op(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		// The attempt, not the caller, ran out of time.
		return out, &errs.TransientRemoteError{
			Op:  p.name(),
			Err: fmt.Errorf("attempt timed out after %s: %w", p.Timeout, err),
		}
	}
	return out, err
}

func abortErr(p Policy, attempts int, ctxErr, last error) error {
	if last == nil {
		return fmt.Errorf("%s aborted before attempt %d: %w", p.name(), attempts+1, ctxErr)
	}
	return fmt.Errorf("%s aborted after %d attempts: %w (last error: %w)", p.name(), attempts, ctxErr, last)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func summarize(err error) string {
	if err == nil {
		return ""
	}
	return textutil.Truncate(err.Error(), 240)
}
