package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestBackoffStateMachine(t *testing.T) {
	b := NewBackoff(RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2})
	require.Equal(t, StateIdle, b.State())

	require.NoError(t, b.Begin())
	require.Equal(t, StateAttempting, b.State())
	d, ok := b.Fail()
	require.True(t, ok)
	require.Equal(t, time.Second, d)
	require.Equal(t, StateBackoffWait, b.State())

	require.NoError(t, b.Begin())
	d, ok = b.Fail()
	require.True(t, ok)
	require.Equal(t, 2*time.Second, d)

	require.NoError(t, b.Begin())
	_, ok = b.Fail()
	require.False(t, ok)
	require.Equal(t, StateExhausted, b.State())
	require.Equal(t, 3, b.Attempts())

	require.Error(t, b.Begin())
}

func TestBackoffSucceed(t *testing.T) {
	b := NewBackoff(DefaultRetryConfig())
	require.NoError(t, b.Begin())
	b.Succeed()
	require.Equal(t, StateSuccess, b.State())
	require.Error(t, b.Begin())
}

func TestBackoffRewind(t *testing.T) {
	b := NewBackoff(RetryConfig{MaxAttempts: 1, InitialDelay: time.Second, MaxDelay: time.Second, BackoffFactor: 2})
	require.Error(t, b.Rewind())

	require.NoError(t, b.Begin())
	require.NoError(t, b.Rewind())
	require.Equal(t, 0, b.Attempts())

	// The rewound attempt did not spend the single-attempt budget.
	require.NoError(t, b.Begin())
	_, ok := b.Fail()
	require.False(t, ok)
	require.Equal(t, StateExhausted, b.State())
}

// Property: for k consecutive failures below the budget, delays are
// non-decreasing and never exceed MaxDelay.
func TestProperty_BackoffDelaysBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("backoff delays are non-decreasing and capped", prop.ForAll(
		func(maxAttempts int, baseMs int, maxMs int) bool {
			if maxMs < baseMs {
				baseMs, maxMs = maxMs, baseMs
			}
			cfg := RetryConfig{
				MaxAttempts:   maxAttempts,
				InitialDelay:  time.Duration(baseMs) * time.Millisecond,
				MaxDelay:      time.Duration(maxMs) * time.Millisecond,
				BackoffFactor: 2,
			}
			b := NewBackoff(cfg)
			var prev time.Duration
			for k := 0; k < maxAttempts-1; k++ {
				if err := b.Begin(); err != nil {
					return false
				}
				d, ok := b.Fail()
				if !ok || d < prev || d > cfg.MaxDelay {
					return false
				}
				prev = d
			}
			return true
		},
		gen.IntRange(1, 12),
		gen.IntRange(1, 2000),
		gen.IntRange(1, 20000),
	))

	properties.TestingRun(t)
}

func TestRetryUsesClock(t *testing.T) {
	clock := NewManualClock(time.Date(2026, 10, 15, 10, 0, 0, 0, IndiaLocation))
	calls := 0
	err := Retry(context.Background(), clock, RetryConfig{MaxAttempts: 4, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}, func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.Sleeps())
}

func TestRetryStop(t *testing.T) {
	clock := NewManualClock(time.Date(2026, 10, 15, 10, 0, 0, 0, IndiaLocation))
	final := errors.New("bad request")
	calls := 0
	err := Retry(context.Background(), clock, DefaultRetryConfig(), func() error {
		calls++
		return Stop(final)
	})
	require.Same(t, final, err)
	require.Equal(t, 1, calls)
	require.Empty(t, clock.Sleeps())
}

func TestTimeToExpiry(t *testing.T) {
	now := time.Date(2026, 2, 20, 11, 0, 0, 0, IndiaLocation)

	expiry, err := ParseExpiry("24FEB2026")
	require.NoError(t, err)
	require.Equal(t, 4, DaysToExpiry(expiry, now))
	require.InDelta(t, 4.0/365.0, TimeToExpiry(expiry, now), 1e-12)

	// Expiry day floors at one day.
	sameDay := time.Date(2026, 2, 24, 14, 0, 0, 0, IndiaLocation)
	require.InDelta(t, 1.0/365.0, TimeToExpiry(expiry, sameDay), 1e-12)
	require.Equal(t, "24FEB2026", FormatExpiry(expiry))
}

func TestFormatIndianCurrency(t *testing.T) {
	require.Equal(t, "₹12,34,567.50", FormatIndianCurrency(1234567.5))
	require.Equal(t, "-₹999.00", FormatIndianCurrency(-999))
	require.Equal(t, "1.25 L", FormatCompactQuantity(125000))
	require.Equal(t, "45,000", FormatCompactQuantity(45000))
}
