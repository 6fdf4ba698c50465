// Package retry vends a retry util with exponential backoff, jitter, max
// attempts, max timeout and caller-pluggable retry decisions.
//
// Retries up to either MaxAttempts or till Timeout or RetryOn returns false.
// The wait between the i-th and (i+1)-th attempt is
// min( BaseDelay * Exp^(i-1) * (1 + Jitter*rand), MaxBackoff ).
// A Plan, when set, replaces the MaxAttempts/RetryOn/backoff machinery with a
// single callback deciding both whether to retry and how long to wait.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Fn is the function to retry
type Fn func() error

// RetryOnFn decides whether to retry on given error
type RetryOnFn func(error) bool

// PlanFn receives the latest error and the number of attempts completed so
// far (1-based) and returns the wait before the next attempt, or false to stop.
type PlanFn func(err error, attempts int64) (time.Duration, bool)

type retryConfig struct {
	MaxAttempts int64 // max retries after the initial attempt
	MaxBackoff  time.Duration
	Timeout     time.Duration // 0 means no timeout
	Jitter      float64
	BaseDelay   time.Duration
	Exp         float64
	RetryOn     RetryOnFn
	Plan        PlanFn
}

type RetryOption func(*retryConfig)

func defaultRetryConfig() *retryConfig {
	return &retryConfig{
		MaxAttempts: math.MaxInt64,
		MaxBackoff:  time.Duration(math.MaxInt64),
		Exp:         1,
		RetryOn:     func(error) bool { return false },
	}
}

func WithMaxAttempts(a int64) RetryOption {
	return func(c *retryConfig) { c.MaxAttempts = a }
}

func WithTimeout(t time.Duration) RetryOption {
	return func(c *retryConfig) { c.Timeout = t }
}

func WithJitter(j float64) RetryOption {
	return func(c *retryConfig) { c.Jitter = j }
}

func WithBaseDelay(t time.Duration) RetryOption {
	return func(c *retryConfig) { c.BaseDelay = t }
}

func WithExp(e float64) RetryOption {
	return func(c *retryConfig) { c.Exp = e }
}

func WithMaxBackoff(b time.Duration) RetryOption {
	return func(c *retryConfig) { c.MaxBackoff = b }
}

func WithRetryOn(f RetryOnFn) RetryOption {
	return func(c *retryConfig) { c.RetryOn = f }
}

// WithPlan takes over the retry decision entirely; MaxAttempts, RetryOn and
// the backoff options are ignored when a plan is set.
func WithPlan(p PlanFn) RetryOption {
	return func(c *retryConfig) { c.Plan = p }
}

func Retry(f Fn, opts ...RetryOption) error {
	cfg := defaultRetryConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	// fire f first in case it doesn't need retry at all
	err := f()
	var attempts int64 = 1
	// receiving from a nil chan always blocks, representing no timeout
	var timeout <-chan time.Time
	if cfg.Timeout > 0 {
		t := time.NewTimer(cfg.Timeout)
		defer t.Stop()
		timeout = t.C
	}
	for {
		if err == nil {
			return nil
		}
		delay, ok := cfg.nextDelay(err, attempts)
		if !ok {
			return err
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
			err = f()
			attempts++
		case <-timeout:
			t.Stop()
			return ErrTimedOut
		}
		t.Stop()
	}
}

func (c *retryConfig) nextDelay(err error, attempts int64) (time.Duration, bool) {
	if c.Plan != nil {
		return c.Plan(err, attempts)
	}
	if !c.RetryOn(err) || attempts > c.MaxAttempts {
		return 0, false
	}
	factor := math.Pow(c.Exp, float64(attempts-1)) * (1 + c.Jitter*rand.Float64())
	// cap the delay to the max of time.Duration, which is ~290 years
	delay := time.Duration(math.Min(float64(c.BaseDelay)*factor, float64(math.MaxInt64)))
	if delay > c.MaxBackoff {
		delay = c.MaxBackoff
	}
	return delay, true
}

type errRetry string

func (e errRetry) Error() string {
	return string(e)
}

const ErrTimedOut errRetry = "retry timed out"
