package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"auth", NewAuthError("smartapi", "login rejected", nil), ErrNotAuthenticated},
		{"rate limit", NewRateLimitError("smartapi", "429", "slow down"), ErrRateLimited},
		{"session", NewSessionExpiredError("kite", "TokenException", "expired"), ErrSessionExpired},
		{"not found", NewNotFoundError("symbol", "XYZ"), ErrSymbolNotFound},
		{"domain", NewDomainError("vol", 0, "must be positive"), ErrDomain},
		{"no convergence", &NoConvergenceError{MarketPrice: 1}, ErrNoConvergence},
		{"validation", NewValidationError("fetcher.batch_size", 0, "must be positive"), ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			require.True(t, Is(wrapped, tt.target))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(NewRateLimitError("smartapi", "", "")))
	require.True(t, IsRetryable(NewTransportError("quote", 502, New("bad gateway"))))
	require.True(t, IsRetryable(Wrap(context.DeadlineExceeded, "attempt")))
	require.False(t, IsRetryable(NewSessionExpiredError("smartapi", "AG8002", "")))
	require.False(t, IsRetryable(NewAuthError("smartapi", "bad totp", nil)))
	require.False(t, IsRetryable(nil))
}

func TestWrapNil(t *testing.T) {
	require.NoError(t, Wrap(nil, "ctx"))
	require.NoError(t, Wrapf(nil, "ctx %d", 1))
}
