// Package broker provides quote gateway interfaces and implementations.
package broker

import (
	"context"

	"fno-chain/internal/models"
)

// Gateway is an upstream market-data provider. Implementations classify
// failures into the typed errors of internal/errors: throttling as
// RateLimitError, rejected sessions as SessionExpiredError, failed logins as
// AuthError and everything else as TransportError.
type Gateway interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Authentication
	Login(ctx context.Context, req models.LoginRequest) (*models.Session, error)
	Logout(ctx context.Context, session *models.Session) error

	// Market Data
	Quotes(ctx context.Context, session *models.Session, exchange models.Exchange, tokens []string) (*QuoteResult, error)
	LTP(ctx context.Context, session *models.Session, inst models.Instrument) (float64, error)
	Instruments(ctx context.Context) ([]models.Instrument, error)
}

// QuoteResult is the response to one quote submission. A token is either in
// Quotes or in Unfetched; tokens in neither were silently dropped upstream.
type QuoteResult struct {
	Quotes    map[string]models.Quote
	Unfetched map[string]string // token -> upstream reason
}

// NewQuoteResult returns an empty result with room for n quotes.
func NewQuoteResult(n int) *QuoteResult {
	return &QuoteResult{
		Quotes:    make(map[string]models.Quote, n),
		Unfetched: make(map[string]string),
	}
}
