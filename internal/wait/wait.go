// Package wait implements the bounded-poll primitive every assertion and
// element lookup is built on.
//
// The application under test updates its rendered state asynchronously after
// a user action, so a single snapshot check is flaky by construction. Until
// re-evaluates a probe at a fixed interval until it reports success or the
// policy's ceiling elapses.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Default policy values.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultInterval = 250 * time.Millisecond
)

// Policy bounds a poll loop.
type Policy struct {
	// Timeout is the ceiling after which the loop gives up.
	Timeout time.Duration `yaml:"timeout"`

	// Interval is the pause between two probe evaluations.
	Interval time.Duration `yaml:"interval"`
}

// DefaultPolicy returns the package defaults.
func DefaultPolicy() Policy {
	return Policy{Timeout: DefaultTimeout, Interval: DefaultInterval}
}

// Normalize fills zero fields from DefaultPolicy and clamps the interval to the timeout.
func (p Policy) Normalize() Policy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.Interval > p.Timeout {
		p.Interval = p.Timeout
	}
	return p
}

// Probe evaluates a condition once.
// A non-nil error is treated as "not yet" and remembered for diagnostics.
type Probe func(ctx context.Context) (bool, error)

// TimeoutError is returned when a probe never succeeded within the policy.
type TimeoutError struct {
	Timeout  time.Duration
	Elapsed  time.Duration
	Attempts int
	LastErr  error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("condition not met after %d attempts in %s (timeout %s): last error: %v",
			e.Attempts, e.Elapsed.Round(time.Millisecond), e.Timeout, e.LastErr)
	}
	return fmt.Sprintf("condition not met after %d attempts in %s (timeout %s)",
		e.Attempts, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// Unwrap exposes the last probe error.
func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// IsTimeout reports whether err is (or wraps) a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Until evaluates probe until it returns true or the policy ceiling elapses.
//
// The first evaluation happens immediately. Subsequent evaluations are paced
// by a token bucket refilled once per interval, so a slow probe does not add
// an extra full interval on top of its own latency. Cancellation of ctx by
// the caller is returned unwrapped; expiry of the policy ceiling is reported
// as *TimeoutError.
func Until(ctx context.Context, p Policy, probe Probe) error {
	p = p.Normalize()

	pollCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(p.Interval), 1)
	start := time.Now()
	attempts := 0
	var lastErr error

	for {
		if err := limiter.Wait(pollCtx); err != nil {
			// Wait fails early when the next token would land past the deadline.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TimeoutError{Timeout: p.Timeout, Elapsed: time.Since(start), Attempts: attempts, LastErr: lastErr}
		}

		attempts++
		ok, err := probe(pollCtx)
		if ok && err == nil {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if pollCtx.Err() != nil {
			return &TimeoutError{Timeout: p.Timeout, Elapsed: time.Since(start), Attempts: attempts, LastErr: lastErr}
		}
	}
}
