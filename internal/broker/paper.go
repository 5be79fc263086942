package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/greeks"
	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

const paperName = "paper"

// Fault is a failure the paper gateway can be scripted to return.
type Fault string

const (
	FaultThrottle       Fault = "throttle"
	FaultSessionExpired Fault = "session_expired"
	FaultOutage         Fault = "outage"
)

// PaperUnderlying describes one simulated underlying and its option series.
type PaperUnderlying struct {
	Symbol     string
	Spot       float64
	StrikeStep float64
	Vol        float64
	LotSize    int
	Index      bool
}

// DefaultPaperUnderlyings returns a small NSE-like universe.
func DefaultPaperUnderlyings() []PaperUnderlying {
	return []PaperUnderlying{
		{Symbol: "RELIANCE", Spot: 2948.35, StrikeStep: 20, Vol: 0.24, LotSize: 250},
		{Symbol: "INFY", Spot: 1852.10, StrikeStep: 20, Vol: 0.26, LotSize: 400},
		{Symbol: "TCS", Spot: 4105.60, StrikeStep: 50, Vol: 0.22, LotSize: 175},
		{Symbol: "HDFCBANK", Spot: 1648.90, StrikeStep: 10, Vol: 0.21, LotSize: 550},
		{Symbol: "SBIN", Spot: 812.45, StrikeStep: 10, Vol: 0.28, LotSize: 750},
		{Symbol: "NIFTY", Spot: 24512.30, StrikeStep: 50, Vol: 0.14, LotSize: 75, Index: true},
		{Symbol: "BANKNIFTY", Spot: 52040.75, StrikeStep: 100, Vol: 0.17, LotSize: 15, Index: true},
	}
}

// PaperConfig holds configuration for the paper gateway.
type PaperConfig struct {
	Underlyings  []PaperUnderlying
	Clock        utils.Clock
	Seed         int64
	ThrottleRate float64 // probability that a quote call is throttled
	SessionTTL   time.Duration
	RiskFreeRate float64
	// StrikesEachSide is how many strikes are listed above and below spot.
	StrikesEachSide int
}

// PaperGateway is a deterministic in-process Gateway. Quotes are priced with
// Black-Scholes from a fixed volatility smile, and failures can be scripted
// per quote call.
type PaperGateway struct {
	cfg PaperConfig
	rng *rand.Rand

	catalog []models.Instrument
	byToken map[string]models.Instrument
	spot    map[string]float64
	vol     map[string]float64

	script    map[int]Fault
	unfetched map[string]string
	calls     [][]string
	logins    int
	revoked   map[string]bool

	mu sync.Mutex
}

// NewPaperGateway creates a new paper gateway and generates its catalog.
func NewPaperGateway(cfg PaperConfig) *PaperGateway {
	if len(cfg.Underlyings) == 0 {
		cfg.Underlyings = DefaultPaperUnderlyings()
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.RiskFreeRate == 0 {
		cfg.RiskFreeRate = greeks.DefaultRiskFreeRate
	}
	if cfg.StrikesEachSide <= 0 {
		cfg.StrikesEachSide = 20
	}

	p := &PaperGateway{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		byToken:   make(map[string]models.Instrument),
		spot:      make(map[string]float64),
		vol:       make(map[string]float64),
		script:    make(map[int]Fault),
		unfetched: make(map[string]string),
		revoked:   make(map[string]bool),
	}
	p.buildCatalog()
	return p
}

// Name implements Gateway.
func (p *PaperGateway) Name() string { return paperName }

func (p *PaperGateway) buildCatalog() {
	expiries := monthlyExpiries(p.cfg.Clock.Now(), 2)
	next := 10001

	for _, u := range p.cfg.Underlyings {
		p.spot[u.Symbol] = u.Spot
		p.vol[u.Symbol] = u.Vol

		cash := models.Instrument{
			Token:      strconv.Itoa(next),
			Symbol:     u.Symbol + "-EQ",
			Underlying: u.Symbol,
			Exchange:   models.NSE,
			Kind:       models.KindEquity,
			LotSize:    1,
			TickSize:   0.05,
		}
		if u.Index {
			cash.Symbol = u.Symbol
			cash.Kind = models.KindIndex
			cash.InstrType = "AMXIDX"
		}
		p.add(cash)
		next++

		anchor := math.Round(u.Spot/u.StrikeStep) * u.StrikeStep
		for _, expiry := range expiries {
			for i := -p.cfg.StrikesEachSide; i <= p.cfg.StrikesEachSide; i++ {
				strike := anchor + float64(i)*u.StrikeStep
				if strike <= 0 {
					continue
				}
				for _, typ := range []models.OptionType{models.Call, models.Put} {
					instrType := "OPTSTK"
					if u.Index {
						instrType = "OPTIDX"
					}
					p.add(models.Instrument{
						Token:      strconv.Itoa(next),
						Symbol:     fmt.Sprintf("%s%s%s%s", u.Symbol, expiry.Format("02Jan06"), strconv.FormatFloat(strike, 'f', -1, 64), typ),
						Underlying: u.Symbol,
						Exchange:   models.NFO,
						Kind:       models.KindOption,
						InstrType:  instrType,
						Expiry:     expiry,
						Strike:     strike,
						OptionType: typ,
						LotSize:    u.LotSize,
						TickSize:   0.05,
					})
					next++
				}
			}
		}
	}
}

func (p *PaperGateway) add(inst models.Instrument) {
	p.catalog = append(p.catalog, inst)
	p.byToken[inst.Token] = inst
}

// monthlyExpiries returns the last Thursday of the next n months whose expiry
// is on or after now's trading day.
func monthlyExpiries(now time.Time, n int) []time.Time {
	today := utils.TradingDay(now)
	var out []time.Time
	for month := 0; len(out) < n; month++ {
		first := time.Date(today.Year(), today.Month()+time.Month(month)+1, 1, 0, 0, 0, 0, utils.IndiaLocation)
		last := first.AddDate(0, 0, -1)
		for last.Weekday() != time.Thursday {
			last = last.AddDate(0, 0, -1)
		}
		if !last.Before(today) {
			out = append(out, last)
		}
	}
	return out
}

// Script makes the n-th quote call (1-based, counted from construction)
// fail with the given fault.
func (p *PaperGateway) Script(faults map[int]Fault) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for n, f := range faults {
		p.script[n] = f
	}
}

// MarkUnfetched makes tokens come back as unfetched inside otherwise
// successful responses.
func (p *PaperGateway) MarkUnfetched(reasons map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for token, reason := range reasons {
		p.unfetched[token] = reason
	}
}

// SetSpot moves an underlying.
func (p *PaperGateway) SetSpot(symbol string, spot float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spot[symbol] = spot
}

// QuoteCalls returns the token lists of every quote submission so far.
func (p *PaperGateway) QuoteCalls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = append([]string(nil), c...)
	}
	return out
}

// Logins returns how many sessions were issued.
func (p *PaperGateway) Logins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins
}

// Login issues a synthetic session.
func (p *PaperGateway) Login(ctx context.Context, req models.LoginRequest) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewAuthError(paperName, "login cancelled", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logins++
	now := p.cfg.Clock.Now()
	return &models.Session{
		AuthToken:  fmt.Sprintf("paper-session-%d", p.logins),
		FeedToken:  fmt.Sprintf("paper-feed-%d", p.logins),
		ClientCode: req.ClientCode,
		IssuedAt:   now,
		ExpiresAt:  now.Add(p.cfg.SessionTTL),
	}, nil
}

// Logout revokes the session's token.
func (p *PaperGateway) Logout(ctx context.Context, session *models.Session) error {
	if session == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[session.AuthToken] = true
	return nil
}

func (p *PaperGateway) checkSession(session *models.Session) error {
	if session == nil || session.AuthToken == "" || p.revoked[session.AuthToken] {
		return apperrors.NewSessionExpiredError(paperName, "AG8001", "Invalid Token")
	}
	return nil
}

func faultError(f Fault) error {
	switch f {
	case FaultThrottle:
		return apperrors.NewRateLimitError(paperName, "", "Access denied because of exceeding access rate")
	case FaultSessionExpired:
		return apperrors.NewSessionExpiredError(paperName, "AG8002", "Token Expired")
	default:
		return apperrors.NewTransportError("quote", 503, fmt.Errorf("service unavailable"))
	}
}

// Quotes implements Gateway.
func (p *PaperGateway) Quotes(ctx context.Context, session *models.Session, exchange models.Exchange, tokens []string) (*QuoteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, append([]string(nil), tokens...))
	if f, ok := p.script[len(p.calls)]; ok {
		return nil, faultError(f)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewTransportError("quote", 0, err)
	}
	if err := p.checkSession(session); err != nil {
		return nil, err
	}
	if p.cfg.ThrottleRate > 0 && p.rng.Float64() < p.cfg.ThrottleRate {
		return nil, faultError(FaultThrottle)
	}

	now := p.cfg.Clock.Now()
	result := NewQuoteResult(len(tokens))
	for _, token := range tokens {
		if reason, ok := p.unfetched[token]; ok {
			result.Unfetched[token] = reason
			continue
		}
		inst, ok := p.byToken[token]
		if !ok || inst.Exchange != exchange {
			result.Unfetched[token] = "Invalid Token"
			continue
		}
		result.Quotes[token] = p.quote(inst, now)
	}
	return result, nil
}

func (p *PaperGateway) quote(inst models.Instrument, now time.Time) models.Quote {
	ltp := p.spot[inst.Underlying]
	if inst.IsOption() {
		ltp = p.optionPrice(inst, now)
	}

	h := fnv.New32a()
	h.Write([]byte(inst.Token))
	seed := int64(h.Sum32())

	lot := int64(inst.LotSize)
	if lot <= 0 {
		lot = 1
	}
	return models.Quote{
		Token:        inst.Token,
		LTP:          ltp,
		Open:         roundTick(ltp * 0.98),
		High:         roundTick(ltp * 1.04),
		Low:          roundTick(ltp * 0.95),
		Close:        roundTick(ltp * 0.99),
		Volume:       (seed%400 + 1) * lot,
		OI:           (seed%2000 + 10) * lot,
		LastTradeQty: lot,
		TotalBuyQty:  (seed%50 + 1) * lot,
		TotalSellQty: (seed%60 + 1) * lot,
		Timestamp:    now,
	}
}

func (p *PaperGateway) optionPrice(inst models.Instrument, now time.Time) float64 {
	spot := p.spot[inst.Underlying]
	t := utils.TimeToExpiry(inst.Expiry, now)
	// Simple symmetric smile around spot.
	vol := p.vol[inst.Underlying] * (1 + 0.8*math.Abs(math.Log(inst.Strike/spot)))

	price, err := greeks.Price(spot, inst.Strike, t, vol, p.cfg.RiskFreeRate, inst.OptionType)
	if err != nil {
		return 0.05
	}
	return math.Max(roundTick(price), 0.05)
}

func roundTick(v float64) float64 {
	return math.Round(v/0.05) * 0.05
}

// LTP implements Gateway.
func (p *PaperGateway) LTP(ctx context.Context, session *models.Session, inst models.Instrument) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkSession(session); err != nil {
		return 0, err
	}
	known, ok := p.byToken[inst.Token]
	if !ok {
		return 0, apperrors.NewDataError("ltp", inst.Symbol, "unknown token", apperrors.ErrSpotUnavailable)
	}
	if known.IsOption() {
		return p.optionPrice(known, p.cfg.Clock.Now()), nil
	}
	return p.spot[known.Underlying], nil
}

// Instruments returns the generated catalog.
func (p *PaperGateway) Instruments(ctx context.Context) ([]models.Instrument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Instrument(nil), p.catalog...), nil
}

var _ Gateway = (*PaperGateway)(nil)
