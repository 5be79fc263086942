package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/logging"
	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

const kiteName = "kite"

// KiteConfig holds configuration for the Zerodha Kite Connect gateway.
type KiteConfig struct {
	APIKey  string
	BaseURI string // optional override of the API root
	Timeout time.Duration
	Logger  zerolog.Logger
}

// KiteGateway implements Gateway for Zerodha Kite Connect.
type KiteGateway struct {
	client *kiteconnect.Client
	logger zerolog.Logger
	now    func() time.Time

	// mu serialises access-token changes with the calls that rely on them.
	mu sync.Mutex
}

// NewKiteGateway creates a new Kite Connect gateway.
func NewKiteGateway(cfg KiteConfig) *KiteGateway {
	client := kiteconnect.New(cfg.APIKey)
	if cfg.BaseURI != "" {
		client.SetBaseURI(cfg.BaseURI)
	}
	if cfg.Timeout > 0 {
		client.SetHTTPClient(&http.Client{Timeout: cfg.Timeout})
	}
	return &KiteGateway{
		client: client,
		logger: logging.WithComponent(cfg.Logger, "kite"),
		now:    time.Now,
	}
}

// Name implements Gateway.
func (k *KiteGateway) Name() string { return kiteName }

// LoginURL returns the Kite login page that issues request tokens.
func (k *KiteGateway) LoginURL() string {
	return k.client.GetLoginURL()
}

// kiteCall runs fn with the session's access token installed. The client has no
// context support, so a cancelled ctx abandons the result rather than the
// request.
func kiteCall[T any](ctx context.Context, k *KiteGateway, op, accessToken string, fn func(*kiteconnect.Client) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		if accessToken != "" {
			k.client.SetAccessToken(accessToken)
		}
		v, err := fn(k.client)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		err := classifyKite(op, out.err)
		logging.LogAPICall(k.logger, "KITE", op, time.Since(start), err)
		return out.val, err
	case <-ctx.Done():
		var zero T
		return zero, apperrors.NewTransportError(op, 0, ctx.Err())
	}
}

func classifyKite(op string, err error) error {
	if err == nil {
		return nil
	}

	var kerr kiteconnect.Error
	var kerrPtr *kiteconnect.Error
	switch {
	case errors.As(err, &kerr):
	case errors.As(err, &kerrPtr) && kerrPtr != nil:
		kerr = *kerrPtr
	default:
		return apperrors.NewTransportError(op, 0, err)
	}

	msg := strings.ToLower(kerr.Message)
	switch {
	case kerr.Code == http.StatusTooManyRequests || strings.Contains(msg, "too many requests"):
		return apperrors.NewRateLimitError(kiteName, strconv.Itoa(kerr.Code), kerr.Message)
	case kerr.ErrorType == "TokenException":
		return apperrors.NewSessionExpiredError(kiteName, kerr.ErrorType, kerr.Message)
	default:
		return apperrors.NewTransportError(op, kerr.Code, err)
	}
}

// Login exchanges a request token for an access token.
func (k *KiteGateway) Login(ctx context.Context, req models.LoginRequest) (*models.Session, error) {
	if req.RequestToken == "" {
		return nil, apperrors.NewAuthError(kiteName,
			fmt.Sprintf("request token required: visit %s and complete login", k.LoginURL()), apperrors.ErrInvalidCredentials)
	}

	session, err := kiteCall(ctx, k, "generate_session", "", func(c *kiteconnect.Client) (kiteconnect.UserSession, error) {
		return c.GenerateSession(req.RequestToken, req.APISecret)
	})
	if err != nil {
		return nil, apperrors.NewAuthError(kiteName, "session generation failed", err)
	}

	now := k.now()
	clientCode := session.UserID
	if clientCode == "" {
		clientCode = req.ClientCode
	}
	return &models.Session{
		AuthToken:    session.AccessToken,
		RefreshToken: session.RefreshToken,
		ClientCode:   clientCode,
		IssuedAt:     now,
		ExpiresAt:    kiteExpiry(now),
	}, nil
}

// kiteExpiry returns the next 6 AM IST, when Kite access tokens lapse.
func kiteExpiry(now time.Time) time.Time {
	ist := now.In(utils.IndiaLocation)
	expiry := time.Date(ist.Year(), ist.Month(), ist.Day(), 6, 0, 0, 0, utils.IndiaLocation)
	if !ist.Before(expiry) {
		expiry = expiry.AddDate(0, 0, 1)
	}
	return expiry
}

// Logout invalidates the access token.
func (k *KiteGateway) Logout(ctx context.Context, session *models.Session) error {
	if session == nil || session.AuthToken == "" {
		return nil
	}
	_, err := kiteCall(ctx, k, "invalidate_token", session.AuthToken, func(c *kiteconnect.Client) (bool, error) {
		return c.InvalidateAccessToken()
	})
	return err
}

// Quotes fetches full quotes. Kite accepts instrument tokens in place of
// exchange:symbol keys, so the exchange only matters for logging.
func (k *KiteGateway) Quotes(ctx context.Context, session *models.Session, exchange models.Exchange, tokens []string) (*QuoteResult, error) {
	if session == nil || session.AuthToken == "" {
		return nil, apperrors.NewSessionExpiredError(kiteName, "", "no session")
	}

	quotes, err := kiteCall(ctx, k, "quote", session.AuthToken, func(c *kiteconnect.Client) (kiteconnect.Quote, error) {
		return c.GetQuote(tokens...)
	})
	if err != nil {
		return nil, err
	}

	result := NewQuoteResult(len(tokens))
	for _, token := range tokens {
		q, ok := quotes[token]
		if !ok {
			result.Unfetched[token] = fmt.Sprintf("no quote returned on %s", exchange)
			continue
		}
		result.Quotes[token] = models.Quote{
			Token:        token,
			LTP:          q.LastPrice,
			Open:         q.OHLC.Open,
			High:         q.OHLC.High,
			Low:          q.OHLC.Low,
			Close:        q.OHLC.Close,
			Volume:       int64(q.Volume),
			OI:           int64(q.OI),
			LastTradeQty: int64(q.LastQuantity),
			TotalBuyQty:  int64(q.BuyQuantity),
			TotalSellQty: int64(q.SellQuantity),
			Timestamp:    q.Timestamp.Time,
		}
	}
	return result, nil
}

// LTP fetches the last traded price of one instrument.
func (k *KiteGateway) LTP(ctx context.Context, session *models.Session, inst models.Instrument) (float64, error) {
	if session == nil || session.AuthToken == "" {
		return 0, apperrors.NewSessionExpiredError(kiteName, "", "no session")
	}

	ltp, err := kiteCall(ctx, k, "ltp", session.AuthToken, func(c *kiteconnect.Client) (kiteconnect.QuoteLTP, error) {
		return c.GetLTP(inst.Token)
	})
	if err != nil {
		return 0, err
	}
	q, ok := ltp[inst.Token]
	if !ok || q.LastPrice <= 0 {
		return 0, apperrors.NewDataError("ltp", inst.Symbol, "no last traded price", apperrors.ErrSpotUnavailable)
	}
	return q.LastPrice, nil
}

// Instruments downloads the full instrument dump.
func (k *KiteGateway) Instruments(ctx context.Context) ([]models.Instrument, error) {
	dump, err := kiteCall(ctx, k, "instruments", "", func(c *kiteconnect.Client) (kiteconnect.Instruments, error) {
		return c.GetInstruments()
	})
	if err != nil {
		return nil, err
	}

	result := make([]models.Instrument, 0, len(dump))
	for _, inst := range dump {
		if m, ok := fromKiteInstrument(inst); ok {
			result = append(result, m)
		}
	}
	return result, nil
}

// kiteIndexAliases maps index names in the cash segment to the name their
// derivatives are listed under.
var kiteIndexAliases = map[string]string{
	"NIFTY 50":          "NIFTY",
	"NIFTY BANK":        "BANKNIFTY",
	"NIFTY FIN SERVICE": "FINNIFTY",
	"NIFTY MID SELECT":  "MIDCPNIFTY",
	"NIFTY NEXT 50":     "NIFTYNXT50",
}

func fromKiteInstrument(inst kiteconnect.Instrument) (models.Instrument, bool) {
	m := models.Instrument{
		Token:      strconv.Itoa(inst.InstrumentToken),
		Symbol:     inst.Tradingsymbol,
		Underlying: strings.ToUpper(inst.Name),
		Exchange:   models.Exchange(inst.Exchange),
		InstrType:  inst.InstrumentType,
		LotSize:    int(inst.LotSize),
		TickSize:   inst.TickSize,
	}

	switch {
	case inst.InstrumentType == "CE" || inst.InstrumentType == "PE":
		m.Kind = models.KindOption
		m.OptionType = models.OptionType(inst.InstrumentType)
		m.Strike = inst.StrikePrice
		m.Expiry = utils.TradingDay(inst.Expiry.Time)
	case inst.InstrumentType == "FUT":
		m.Kind = models.KindFuture
		m.Expiry = utils.TradingDay(inst.Expiry.Time)
	case inst.Segment == "INDICES":
		m.Kind = models.KindIndex
		if alias, ok := kiteIndexAliases[m.Underlying]; ok {
			m.Underlying = alias
		}
	case inst.InstrumentType == "EQ":
		m.Kind = models.KindEquity
		// Equities carry their own symbol as the underlying name.
		m.Underlying = strings.ToUpper(inst.Tradingsymbol)
	default:
		return m, false
	}
	if m.Underlying == "" {
		return m, false
	}
	return m, true
}

var _ Gateway = (*KiteGateway)(nil)
