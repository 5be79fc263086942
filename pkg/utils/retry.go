package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   4,
		InitialDelay:  time.Second,
		MaxDelay:      8 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryState is a state of the Backoff machine.
type RetryState int

const (
	StateIdle RetryState = iota
	StateAttempting
	StateBackoffWait
	StateSuccess
	StateExhausted
)

func (s RetryState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateBackoffWait:
		return "backoff_wait"
	case StateSuccess:
		return "success"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Backoff is the retry state machine
// Idle -> Attempting -> (Success | BackoffWait -> Attempting ... | Exhausted).
// It holds no timers; callers sleep on the delay returned by Fail.
type Backoff struct {
	cfg      RetryConfig
	state    RetryState
	attempts int
}

// NewBackoff creates a Backoff in the Idle state.
func NewBackoff(cfg RetryConfig) *Backoff {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	return &Backoff{cfg: cfg, state: StateIdle}
}

// State returns the current state.
func (b *Backoff) State() RetryState { return b.state }

// Attempts returns how many attempts have been started.
func (b *Backoff) Attempts() int { return b.attempts }

// Begin starts an attempt. Valid from Idle or BackoffWait.
func (b *Backoff) Begin() error {
	if b.state != StateIdle && b.state != StateBackoffWait {
		return fmt.Errorf("backoff: cannot begin attempt from %s", b.state)
	}
	b.state = StateAttempting
	b.attempts++
	return nil
}

// Succeed records a successful attempt.
func (b *Backoff) Succeed() {
	b.state = StateSuccess
}

// Fail records a failed attempt. It returns the delay to wait before the next
// attempt and true, or zero and false once the budget is spent.
func (b *Backoff) Fail() (time.Duration, bool) {
	if b.attempts >= b.cfg.MaxAttempts {
		b.state = StateExhausted
		return 0, false
	}
	b.state = StateBackoffWait
	return CalculateBackoff(b.attempts-1, b.cfg.InitialDelay, b.cfg.MaxDelay, b.cfg.BackoffFactor), true
}

// Rewind returns the current attempt to the budget so it can be started
// again immediately. Valid only while Attempting.
func (b *Backoff) Rewind() error {
	if b.state != StateAttempting {
		return fmt.Errorf("backoff: cannot rewind from %s", b.state)
	}
	b.attempts--
	b.state = StateIdle
	return nil
}

// Abort moves the machine to Exhausted regardless of remaining budget.
func (b *Backoff) Abort() {
	b.state = StateExhausted
}

type stopError struct{ err error }

func (e stopError) Error() string { return e.err.Error() }
func (e stopError) Unwrap() error { return e.err }

// Stop marks err as final; Retry returns it without further attempts.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return stopError{err: err}
}

// Retry executes fn with exponential backoff on clock. An error wrapped
// with Stop ends the loop immediately.
func Retry(ctx context.Context, clock Clock, cfg RetryConfig, fn func() error) error {
	b := NewBackoff(cfg)
	for {
		if err := b.Begin(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			b.Succeed()
			return nil
		}
		var stop stopError
		if errors.As(err, &stop) {
			b.Abort()
			return stop.err
		}
		delay, ok := b.Fail()
		if !ok {
			return err
		}
		if serr := clock.Sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// CalculateBackoff calculates the backoff duration for a given zero-based attempt.
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration, factor float64) time.Duration {
	delay := float64(initialDelay) * math.Pow(factor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}
