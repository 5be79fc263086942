package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

func TestClassifyKite(t *testing.T) {
	require.NoError(t, classifyKite("quote", nil))

	err := classifyKite("quote", kiteconnect.Error{Code: 429, ErrorType: "NetworkException", Message: "Too many requests"})
	require.ErrorIs(t, err, apperrors.ErrRateLimited)

	err = classifyKite("quote", kiteconnect.Error{Code: 403, ErrorType: "TokenException", Message: "Incorrect `api_key` or `access_token`."})
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)

	err = classifyKite("quote", kiteconnect.Error{Code: 500, ErrorType: "GeneralException", Message: "boom"})
	var te *apperrors.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 500, te.StatusCode)

	err = classifyKite("quote", errors.New("dial tcp: connection refused"))
	require.ErrorAs(t, err, &te)
}

func TestKiteExpiry(t *testing.T) {
	before := time.Date(2026, 10, 15, 5, 30, 0, 0, utils.IndiaLocation)
	require.Equal(t, time.Date(2026, 10, 15, 6, 0, 0, 0, utils.IndiaLocation), kiteExpiry(before))

	after := time.Date(2026, 10, 15, 9, 30, 0, 0, utils.IndiaLocation)
	require.Equal(t, time.Date(2026, 10, 16, 6, 0, 0, 0, utils.IndiaLocation), kiteExpiry(after))
}

func TestFromKiteInstrument(t *testing.T) {
	opt, ok := fromKiteInstrument(kiteconnect.Instrument{
		InstrumentToken: 12345, Tradingsymbol: "INFY26OCT1860CE", Name: "INFY",
		StrikePrice: 1860, InstrumentType: "CE", Segment: "NFO-OPT", Exchange: "NFO", LotSize: 400, TickSize: 0.05,
	})
	require.True(t, ok)
	require.Equal(t, "12345", opt.Token)
	require.Equal(t, models.Call, opt.OptionType)
	require.Equal(t, 1860.0, opt.Strike)

	idx, ok := fromKiteInstrument(kiteconnect.Instrument{
		InstrumentToken: 256265, Tradingsymbol: "NIFTY 50", Name: "NIFTY 50", Segment: "INDICES", Exchange: "NSE",
	})
	require.True(t, ok)
	require.Equal(t, models.KindIndex, idx.Kind)
	require.Equal(t, "NIFTY", idx.Underlying)

	eq, ok := fromKiteInstrument(kiteconnect.Instrument{
		InstrumentToken: 408065, Tradingsymbol: "INFY", Name: "INFOSYS", InstrumentType: "EQ", Segment: "NSE", Exchange: "NSE",
	})
	require.True(t, ok)
	require.Equal(t, "INFY", eq.Underlying)

	_, ok = fromKiteInstrument(kiteconnect.Instrument{Tradingsymbol: "X", InstrumentType: "ETF"})
	require.False(t, ok)
}

func newTestPaper() *PaperGateway {
	return NewPaperGateway(PaperConfig{
		Clock: utils.NewManualClock(time.Date(2026, 10, 15, 10, 0, 0, 0, utils.IndiaLocation)),
		Seed:  7,
	})
}

func TestPaperCatalog(t *testing.T) {
	p := newTestPaper()
	insts, err := p.Instruments(context.Background())
	require.NoError(t, err)

	var options int
	expiries := map[string]bool{}
	for _, inst := range insts {
		if inst.Underlying != "SBIN" {
			continue
		}
		if inst.IsOption() {
			options++
			expiries[utils.FormatExpiry(inst.Expiry)] = true
		}
	}
	// 41 strikes x 2 sides x 2 expiries.
	require.Equal(t, 164, options)
	require.True(t, expiries["29OCT2026"])
	require.True(t, expiries["26NOV2026"])
}

func TestPaperScriptedFaults(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()
	s, err := p.Login(ctx, models.LoginRequest{Credentials: models.Credentials{ClientCode: "PAPER"}})
	require.NoError(t, err)

	insts, _ := p.Instruments(ctx)
	var tokens []string
	for _, inst := range insts {
		if inst.IsOption() && inst.Underlying == "INFY" && len(tokens) < 3 {
			tokens = append(tokens, inst.Token)
		}
	}

	p.Script(map[int]Fault{1: FaultThrottle, 2: FaultSessionExpired, 3: FaultOutage})
	p.MarkUnfetched(map[string]string{tokens[2]: "Invalid Token"})

	_, err = p.Quotes(ctx, s, models.NFO, tokens)
	require.ErrorIs(t, err, apperrors.ErrRateLimited)
	_, err = p.Quotes(ctx, s, models.NFO, tokens)
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)
	_, err = p.Quotes(ctx, s, models.NFO, tokens)
	require.True(t, apperrors.IsRetryable(err))

	res, err := p.Quotes(ctx, s, models.NFO, tokens)
	require.NoError(t, err)
	require.Len(t, res.Quotes, 2)
	require.Equal(t, "Invalid Token", res.Unfetched[tokens[2]])
	require.Len(t, p.QuoteCalls(), 4)

	require.NoError(t, p.Logout(ctx, s))
	_, err = p.Quotes(ctx, s, models.NFO, tokens)
	require.ErrorIs(t, err, apperrors.ErrSessionExpired)
}

// Property: every paper quote is a positive price on the 0.05 tick grid.
func TestProperty_PaperQuotesOnTickGrid(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()
	s, _ := p.Login(ctx, models.LoginRequest{})
	insts, _ := p.Instruments(ctx)

	var options []models.Instrument
	for _, inst := range insts {
		if inst.IsOption() {
			options = append(options, inst)
		}
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("option LTP is positive and tick aligned", prop.ForAll(
		func(i int) bool {
			inst := options[i%len(options)]
			res, err := p.Quotes(ctx, s, models.NFO, []string{inst.Token})
			if err != nil {
				return false
			}
			q, ok := res.Quotes[inst.Token]
			if !ok || q.LTP < 0.05 {
				return false
			}
			ticks := q.LTP / 0.05
			return ticks-float64(int64(ticks+0.5)) < 1e-6 && float64(int64(ticks+0.5))-ticks < 1e-6
		},
		gen.IntRange(0, 100000),
	))

	properties.TestingRun(t)
}
