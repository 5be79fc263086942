package chain

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/greeks"
	"fno-chain/internal/instruments"
	"fno-chain/internal/logging"
	"fno-chain/internal/metrics"
	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

// Resolver resolves a ticker to the contracts of its chain.
type Resolver interface {
	Resolve(ctx context.Context, ticker string) (*instruments.Resolution, error)
}

// QuoteFetcher returns one quote per instrument in input order.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, insts []models.Instrument) ([]models.Quote, error)
}

// Config configures a Service.
type Config struct {
	// RequestTimeout bounds one GetOptionChain call end to end.
	RequestTimeout  time.Duration
	RiskFreeRate    float64
	ATMTieTolerance float64
	Clock           utils.Clock
	Logger          zerolog.Logger
}

// Service builds option chains on demand.
type Service struct {
	resolver Resolver
	fetcher  QuoteFetcher
	cfg      Config
	logger   zerolog.Logger
}

// NewService creates a Service.
func NewService(resolver Resolver, fetcher QuoteFetcher, cfg Config) *Service {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.RiskFreeRate == 0 {
		cfg.RiskFreeRate = greeks.DefaultRiskFreeRate
	}
	if cfg.ATMTieTolerance <= 0 {
		cfg.ATMTieTolerance = DefaultATMTieTolerance
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	return &Service{
		resolver: resolver,
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   logging.WithComponent(cfg.Logger, "chain"),
	}
}

// GetOptionChain resolves ticker, fetches quotes for its nearest-expiry
// strike window and assembles the chain. Batches that exhaust their retries
// show up as a PartialCoverageWarning on the chain, not as an error.
func (s *Service) GetOptionChain(ctx context.Context, ticker string) (*models.OptionChain, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	chain, err := s.build(ctx, ticker)
	failed := 0
	if chain != nil {
		failed = chain.Coverage.Failed
	}
	metrics.RecordChain(time.Since(start), failed, err)
	return chain, err
}

func (s *Service) build(ctx context.Context, ticker string) (*models.OptionChain, error) {
	logger := logging.WithTicker(logging.WithRequest(s.logger, ctx), ticker)

	res, err := s.resolver.Resolve(ctx, ticker)
	if err != nil {
		logger.Debug().Err(err).Msg("Resolve failed")
		return nil, err
	}

	quotes, err := s.fetcher.FetchQuotes(ctx, res.Options)
	if err != nil {
		logger.Warn().Err(err).Int("contracts", len(res.Options)).Msg("Quote fetch aborted")
		return nil, apperrors.Wrapf(err, "quotes for %s", res.Ticker)
	}

	chain := Assemble(res.Ticker, res.Spot, res.Expiry, res.Options, quotes, Params{
		RiskFreeRate:    s.cfg.RiskFreeRate,
		ATMTieTolerance: s.cfg.ATMTieTolerance,
		Now:             s.cfg.Clock.Now(),
	})

	event := logger.Info()
	if chain.Warning != nil {
		event = logger.Warn().Floats64("failed_strikes", chain.Warning.FailedStrikes)
	}
	event.
		Float64("spot", chain.SpotPrice).
		Str("expiry", utils.FormatExpiry(chain.Expiry)).
		Int("rows", len(chain.Rows)).
		Int("failed", chain.Coverage.Failed).
		Msg("Option chain assembled")
	return chain, nil
}
