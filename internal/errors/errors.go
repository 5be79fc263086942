// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSymbolNotFound     = errors.New("symbol not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrDataNotFound       = errors.New("data not found")
	ErrDatabaseError      = errors.New("database error")
	ErrDomain             = errors.New("input outside model domain")
	ErrNoConvergence      = errors.New("implied volatility did not converge")
	ErrSpotUnavailable    = errors.New("spot price unavailable")
	ErrCredentialAccess   = errors.New("credential access denied")
)

// AuthError is returned when a session cannot be opened: bad credential,
// OTP mismatch, revoked access or a failed login round-trip. It is never
// retried automatically.
type AuthError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error [%s]: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error [%s]: %s", e.Provider, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool {
	return target == ErrNotAuthenticated
}

// NewAuthError creates a new AuthError.
func NewAuthError(provider, reason string, err error) *AuthError {
	return &AuthError{Provider: provider, Reason: reason, Err: err}
}

// RateLimitError is a provider throttling response.
type RateLimitError struct {
	Provider   string
	Code       string
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited [%s] %s: %s", e.Provider, e.Code, e.Message)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(provider, code, message string) *RateLimitError {
	return &RateLimitError{Provider: provider, Code: code, Message: message}
}

// SessionExpiredError means the gateway rejected the auth token.
type SessionExpiredError struct {
	Provider string
	Code     string
	Message  string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session invalid [%s] %s: %s", e.Provider, e.Code, e.Message)
}

func (e *SessionExpiredError) Is(target error) bool {
	return target == ErrSessionExpired
}

// NewSessionExpiredError creates a new SessionExpiredError.
func NewSessionExpiredError(provider, code, message string) *SessionExpiredError {
	return &SessionExpiredError{Provider: provider, Code: code, Message: message}
}

// TransportError covers network failures, timeouts and generic server errors.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error [%s] status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error [%s]: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError creates a new TransportError.
func NewTransportError(op string, status int, err error) *TransportError {
	return &TransportError{Op: op, StatusCode: status, Err: err}
}

// NotFoundError is returned for unknown tickers or tickers without options.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrSymbolNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

// DomainError is a degenerate numeric input to the pricing model.
type DomainError struct {
	Field   string
	Value   float64
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("domain error: %s=%g: %s", e.Field, e.Value, e.Message)
}

func (e *DomainError) Is(target error) bool {
	return target == ErrDomain
}

// NewDomainError creates a new DomainError.
func NewDomainError(field string, value float64, message string) *DomainError {
	return &DomainError{Field: field, Value: value, Message: message}
}

// NoConvergenceError is returned when no volatility in the solver domain
// reproduces the market price.
type NoConvergenceError struct {
	MarketPrice float64
	Lower       float64
	Upper       float64
	Iterations  int
}

func (e *NoConvergenceError) Error() string {
	return fmt.Sprintf("no convergence: price %g outside achievable range [%g, %g] after %d iterations",
		e.MarketPrice, e.Lower, e.Upper, e.Iterations)
}

func (e *NoConvergenceError) Is(target error) bool {
	return target == ErrNoConvergence
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// SecurityError represents a security-related error.
type SecurityError struct {
	Operation string
	Reason    string
	Err       error
}

func (e *SecurityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("security error [%s]: %s: %v", e.Operation, e.Reason, e.Err)
	}
	return fmt.Sprintf("security error [%s]: %s", e.Operation, e.Reason)
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}

// NewSecurityError creates a new SecurityError.
func NewSecurityError(operation, reason string, err error) *SecurityError {
	return &SecurityError{
		Operation: operation,
		Reason:    reason,
		Err:       err,
	}
}

// IsRetryable reports whether a gateway error may succeed on a later attempt.
// Session errors are excluded: they need re-authentication first.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
