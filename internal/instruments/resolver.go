package instruments

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/logging"
	"fno-chain/internal/models"
	"fno-chain/internal/security"
	"fno-chain/pkg/utils"
)

// DefaultStrikesEachSide is the window half-width in strikes.
const DefaultStrikesEachSide = 8

// SpotQuoter fetches the last traded price of an underlying.
type SpotQuoter interface {
	FetchSpot(ctx context.Context, inst models.Instrument) (float64, error)
}

// SpotFunc adapts a function to SpotQuoter.
type SpotFunc func(ctx context.Context, inst models.Instrument) (float64, error)

// FetchSpot calls f.
func (f SpotFunc) FetchSpot(ctx context.Context, inst models.Instrument) (float64, error) {
	return f(ctx, inst)
}

// Resolution is everything needed to fetch one option chain.
type Resolution struct {
	Ticker     string
	Underlying models.Instrument
	Spot       float64
	Expiry     time.Time
	StrikeStep float64
	// Options are ordered by strike, CE before PE.
	Options []models.Instrument
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	StrikesEachSide int
	Clock           utils.Clock
	Logger          zerolog.Logger
}

// Resolver maps a ticker to the contracts of its nearest-expiry chain.
type Resolver struct {
	master *Master
	spot   SpotQuoter
	cfg    ResolverConfig
	logger zerolog.Logger
}

// NewResolver creates a Resolver over master.
func NewResolver(master *Master, spot SpotQuoter, cfg ResolverConfig) *Resolver {
	if cfg.StrikesEachSide <= 0 {
		cfg.StrikesEachSide = DefaultStrikesEachSide
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	return &Resolver{
		master: master,
		spot:   spot,
		cfg:    cfg,
		logger: logging.WithComponent(cfg.Logger, "resolver"),
	}
}

// Resolve looks up ticker, picks its nearest unexpired expiry, fetches the
// spot and selects the strike window around it.
func (r *Resolver) Resolve(ctx context.Context, ticker string) (*Resolution, error) {
	symbol, err := security.NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	catalog := r.master.Snapshot()
	underlying, ok := catalog.Underlying(symbol)
	if !ok {
		return nil, apperrors.NewNotFoundError("symbol", symbol)
	}

	expiry, ok := catalog.NearestExpiry(symbol, r.cfg.Clock.Now())
	if !ok {
		return nil, apperrors.NewNotFoundError("options", symbol)
	}

	spot, err := r.spot.FetchSpot(ctx, underlying)
	if err != nil {
		return nil, apperrors.Wrapf(err, "spot for %s", symbol)
	}

	strikes := catalog.Strikes(symbol, expiry)
	window, step := StrikeWindow(strikes, spot, r.cfg.StrikesEachSide)
	options := SelectOptions(catalog.Options(symbol, expiry), window)

	r.logger.Debug().
		Str("ticker", symbol).
		Float64("spot", spot).
		Str("expiry", utils.FormatExpiry(expiry)).
		Int("strikes", len(window)).
		Int("contracts", len(options)).
		Msg("Resolved chain instruments")

	return &Resolution{
		Ticker:     symbol,
		Underlying: underlying,
		Spot:       spot,
		Expiry:     expiry,
		StrikeStep: step,
		Options:    options,
	}, nil
}

// StrikeIncrement returns the smallest gap between consecutive listed
// strikes, or 0 when fewer than two are listed.
func StrikeIncrement(strikes []float64) float64 {
	step := 0.0
	for i := 1; i < len(strikes); i++ {
		gap := strikes[i] - strikes[i-1]
		if gap > 0 && (step == 0 || gap < step) {
			step = gap
		}
	}
	return step
}

// StrikeWindow selects up to each strikes strictly below the anchor and up
// to each at or above it. The anchor is spot rounded to the strike
// increment. strikes must be ascending and distinct.
func StrikeWindow(strikes []float64, spot float64, each int) ([]float64, float64) {
	step := StrikeIncrement(strikes)
	anchor := spot
	if step > 0 {
		anchor = math.Round(spot/step) * step
	}

	split := sort.SearchFloat64s(strikes, anchor)
	lo := split - each
	if lo < 0 {
		lo = 0
	}
	hi := split + each
	if hi > len(strikes) {
		hi = len(strikes)
	}
	return append([]float64(nil), strikes[lo:hi]...), step
}

// SelectOptions keeps the options whose strike is in window and orders
// them by strike, calls before puts.
func SelectOptions(options []models.Instrument, window []float64) []models.Instrument {
	keep := make(map[float64]bool, len(window))
	for _, s := range window {
		keep[s] = true
	}

	out := make([]models.Instrument, 0, 2*len(window))
	for _, o := range options {
		if keep[o.Strike] {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Strike != out[j].Strike {
			return out[i].Strike < out[j].Strike
		}
		return out[i].OptionType == models.Call && out[j].OptionType != models.Call
	})
	return out
}
