package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/logging"
	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

const (
	smartAPIName = "angelone"

	pathLogin  = "/rest/auth/angelbroking/user/v1/loginByPassword"
	pathLogout = "/rest/secure/angelbroking/user/v1/logout"
	pathQuote  = "/rest/secure/angelbroking/market/v1/quote/"
	pathLTP    = "/rest/secure/angelbroking/order/v1/getLtpData"
)

// Error codes SmartAPI returns for an invalid or expired JWT.
var smartAPISessionCodes = map[string]bool{
	"AG8001": true,
	"AG8002": true,
	"AG8003": true,
}

// SmartAPIConfig holds configuration for the Angel One gateway.
type SmartAPIConfig struct {
	APIKey         string
	BaseURL        string
	ScripMasterURL string
	Timeout        time.Duration
	ClientLocalIP  string
	ClientPublicIP string
	MACAddress     string
	Logger         zerolog.Logger
}

// SmartAPIGateway implements Gateway for Angel One SmartAPI.
type SmartAPIGateway struct {
	http           *resty.Client
	scripMasterURL string
	logger         zerolog.Logger
	// now stamps sessions; replaced in tests.
	now func() time.Time
}

// NewSmartAPIGateway creates a new SmartAPI gateway.
func NewSmartAPIGateway(cfg SmartAPIConfig) *SmartAPIGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("X-UserType", "USER").
		SetHeader("X-SourceID", "WEB").
		SetHeader("X-ClientLocalIP", cfg.ClientLocalIP).
		SetHeader("X-ClientPublicIP", cfg.ClientPublicIP).
		SetHeader("X-MACAddress", cfg.MACAddress).
		SetHeader("X-PrivateKey", cfg.APIKey)

	return &SmartAPIGateway{
		http:           client,
		scripMasterURL: cfg.ScripMasterURL,
		logger:         logging.WithComponent(cfg.Logger, "smartapi"),
		now:            time.Now,
	}
}

// Name implements Gateway.
func (g *SmartAPIGateway) Name() string { return smartAPIName }

// envelope is the common SmartAPI response wrapper.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// post submits body and returns the data member of a successful response.
// Bodies are decoded by hand because throttled responses arrive as plain
// text rather than JSON.
func (g *SmartAPIGateway) post(ctx context.Context, op, path, jwt string, body interface{}) (json.RawMessage, error) {
	start := time.Now()

	req := g.http.R().SetContext(ctx).SetBody(body)
	if jwt != "" {
		req.SetAuthToken(jwt)
	}
	resp, err := req.Post(path)
	if err != nil {
		logging.LogAPICall(g.logger, http.MethodPost, path, time.Since(start), err)
		return nil, apperrors.NewTransportError(op, 0, err)
	}

	data, err := classifySmartAPI(op, resp.StatusCode(), resp.Body())
	logging.LogAPICall(g.logger, http.MethodPost, path, time.Since(start), err)
	return data, err
}

func classifySmartAPI(op string, status int, raw []byte) (json.RawMessage, error) {
	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	message := env.Message
	if decodeErr != nil {
		message = strings.TrimSpace(string(raw))
	}

	if status == http.StatusTooManyRequests || strings.Contains(strings.ToLower(message), "exceeding access rate") {
		return nil, apperrors.NewRateLimitError(smartAPIName, env.ErrorCode, message)
	}
	if smartAPISessionCodes[env.ErrorCode] || status == http.StatusUnauthorized {
		return nil, apperrors.NewSessionExpiredError(smartAPIName, env.ErrorCode, message)
	}
	if status < 200 || status >= 300 {
		return nil, apperrors.NewTransportError(op, status, fmt.Errorf("%s", truncate(message, 200)))
	}
	if decodeErr != nil {
		return nil, apperrors.NewTransportError(op, status, fmt.Errorf("decoding response: %w", decodeErr))
	}
	if !env.Status {
		return nil, apperrors.NewTransportError(op, status, fmt.Errorf("%s (%s)", env.Message, env.ErrorCode))
	}
	return env.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Login authenticates with client code, PIN and a TOTP code.
func (g *SmartAPIGateway) Login(ctx context.Context, req models.LoginRequest) (*models.Session, error) {
	if req.ClientCode == "" || req.Password == "" || req.TOTP == "" {
		return nil, apperrors.NewAuthError(smartAPIName, "client code, password and TOTP are required", apperrors.ErrInvalidCredentials)
	}

	payload := map[string]string{
		"clientcode": req.ClientCode,
		"password":   req.Password,
		"totp":       req.TOTP,
	}
	data, err := g.post(ctx, "login", pathLogin, "", payload)
	if err != nil {
		return nil, apperrors.NewAuthError(smartAPIName, "login rejected", err)
	}

	var tokens struct {
		JWTToken     string `json:"jwtToken"`
		RefreshToken string `json:"refreshToken"`
		FeedToken    string `json:"feedToken"`
	}
	if err := json.Unmarshal(data, &tokens); err != nil || tokens.JWTToken == "" {
		return nil, apperrors.NewAuthError(smartAPIName, "login response carried no token", err)
	}

	now := g.now()
	return &models.Session{
		AuthToken:    strings.TrimPrefix(tokens.JWTToken, "Bearer "),
		RefreshToken: tokens.RefreshToken,
		FeedToken:    tokens.FeedToken,
		ClientCode:   req.ClientCode,
		IssuedAt:     now,
		ExpiresAt:    nextSessionCutoff(now),
	}, nil
}

// nextSessionCutoff returns the next 5 AM IST. Broker sessions are wiped
// before the pre-open of every trading day.
func nextSessionCutoff(now time.Time) time.Time {
	ist := now.In(utils.IndiaLocation)
	cutoff := time.Date(ist.Year(), ist.Month(), ist.Day(), 5, 0, 0, 0, utils.IndiaLocation)
	if !ist.Before(cutoff) {
		cutoff = cutoff.AddDate(0, 0, 1)
	}
	return cutoff
}

// Logout terminates the session upstream.
func (g *SmartAPIGateway) Logout(ctx context.Context, session *models.Session) error {
	if session == nil || session.AuthToken == "" {
		return nil
	}
	_, err := g.post(ctx, "logout", pathLogout, session.AuthToken, map[string]string{
		"clientcode": session.ClientCode,
	})
	return err
}

type smartQuote struct {
	Exchange      string  `json:"exchange"`
	TradingSymbol string  `json:"tradingSymbol"`
	SymbolToken   string  `json:"symbolToken"`
	LTP           float64 `json:"ltp"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	LastTradeQty  float64 `json:"lastTradeQty"`
	TradeVolume   float64 `json:"tradeVolume"`
	OpenInterest  float64 `json:"opnInterest"`
	TotBuyQuan    float64 `json:"totBuyQuan"`
	TotSellQuan   float64 `json:"totSellQuan"`
	ExchFeedTime  string  `json:"exchFeedTime"`
}

type smartUnfetched struct {
	Exchange    string `json:"exchange"`
	SymbolToken string `json:"symbolToken"`
	Message     string `json:"message"`
	ErrorCode   string `json:"errorCode"`
}

// Quotes fetches FULL-mode market data for tokens of one exchange.
func (g *SmartAPIGateway) Quotes(ctx context.Context, session *models.Session, exchange models.Exchange, tokens []string) (*QuoteResult, error) {
	if session == nil || session.AuthToken == "" {
		return nil, apperrors.NewSessionExpiredError(smartAPIName, "", "no session")
	}

	payload := map[string]interface{}{
		"mode": "FULL",
		"exchangeTokens": map[string][]string{
			string(exchange): tokens,
		},
	}
	data, err := g.post(ctx, "quote", pathQuote, session.AuthToken, payload)
	if err != nil {
		return nil, err
	}

	var body struct {
		Fetched   []smartQuote     `json:"fetched"`
		Unfetched []smartUnfetched `json:"unfetched"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, apperrors.NewTransportError("quote", http.StatusOK, fmt.Errorf("decoding quote data: %w", err))
	}

	result := NewQuoteResult(len(tokens))
	for _, q := range body.Fetched {
		result.Quotes[q.SymbolToken] = models.Quote{
			Token:        q.SymbolToken,
			LTP:          q.LTP,
			Open:         q.Open,
			High:         q.High,
			Low:          q.Low,
			Close:        q.Close,
			Volume:       int64(q.TradeVolume),
			OI:           int64(q.OpenInterest),
			LastTradeQty: int64(q.LastTradeQty),
			TotalBuyQty:  int64(q.TotBuyQuan),
			TotalSellQty: int64(q.TotSellQuan),
			Timestamp:    parseFeedTime(q.ExchFeedTime),
		}
	}
	for _, u := range body.Unfetched {
		reason := u.Message
		if u.ErrorCode != "" {
			reason = fmt.Sprintf("%s (%s)", u.Message, u.ErrorCode)
		}
		result.Unfetched[u.SymbolToken] = reason
	}
	return result, nil
}

// parseFeedTime reads "15-Mar-2024 15:29:59"; zero on any other shape.
func parseFeedTime(s string) time.Time {
	t, err := time.ParseInLocation("02-Jan-2006 15:04:05", s, utils.IndiaLocation)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LTP fetches the last traded price of one instrument.
func (g *SmartAPIGateway) LTP(ctx context.Context, session *models.Session, inst models.Instrument) (float64, error) {
	if session == nil || session.AuthToken == "" {
		return 0, apperrors.NewSessionExpiredError(smartAPIName, "", "no session")
	}

	payload := map[string]string{
		"exchange":      string(inst.Exchange),
		"tradingsymbol": inst.Symbol,
		"symboltoken":   inst.Token,
	}
	data, err := g.post(ctx, "ltp", pathLTP, session.AuthToken, payload)
	if err != nil {
		return 0, err
	}

	var body struct {
		LTP float64 `json:"ltp"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, apperrors.NewTransportError("ltp", http.StatusOK, fmt.Errorf("decoding ltp data: %w", err))
	}
	if body.LTP <= 0 {
		return 0, apperrors.NewDataError("ltp", inst.Symbol, "no last traded price", apperrors.ErrSpotUnavailable)
	}
	return body.LTP, nil
}

// scripRecord is one row of the public scrip master. Numeric fields are
// strings and strikes are quoted in paise.
type scripRecord struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
	TickSize       string `json:"tick_size"`
}

// Instruments downloads the public scrip master. It needs no session.
func (g *SmartAPIGateway) Instruments(ctx context.Context) ([]models.Instrument, error) {
	start := time.Now()
	resp, err := g.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(g.scripMasterURL)
	if err != nil {
		logging.LogAPICall(g.logger, http.MethodGet, g.scripMasterURL, time.Since(start), err)
		return nil, apperrors.NewTransportError("scrip_master", 0, err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() != http.StatusOK {
		err := apperrors.NewTransportError("scrip_master", resp.StatusCode(), fmt.Errorf("unexpected status"))
		logging.LogAPICall(g.logger, http.MethodGet, g.scripMasterURL, time.Since(start), err)
		return nil, err
	}

	instruments, err := parseScripMaster(raw)
	logging.LogAPICall(g.logger, http.MethodGet, g.scripMasterURL, time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewTransportError("scrip_master", resp.StatusCode(), err)
	}
	return instruments, nil
}

// parseScripMaster streams the JSON array and keeps cash-segment equities and
// indices plus F&O options and futures.
func parseScripMaster(r io.Reader) ([]models.Instrument, error) {
	dec := json.NewDecoder(r)
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("reading scrip master: %w", err)
	}

	var out []models.Instrument
	for dec.More() {
		var rec scripRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decoding scrip record: %w", err)
		}
		if inst, ok := rec.toInstrument(); ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (r scripRecord) toInstrument() (models.Instrument, bool) {
	exchange := models.Exchange(strings.ToUpper(r.ExchSeg))
	inst := models.Instrument{
		Token:      r.Token,
		Symbol:     r.Symbol,
		Underlying: strings.ToUpper(strings.TrimSpace(r.Name)),
		Exchange:   exchange,
		InstrType:  r.InstrumentType,
		LotSize:    atoi(r.LotSize),
		TickSize:   atof(r.TickSize) / 100,
	}
	if inst.Token == "" || inst.Underlying == "" {
		return inst, false
	}

	switch exchange {
	case models.NSE, models.BSE:
		switch {
		case r.InstrumentType == "AMXIDX":
			inst.Kind = models.KindIndex
		case r.InstrumentType == "" && (strings.HasSuffix(r.Symbol, "-EQ") || exchange == models.BSE):
			inst.Kind = models.KindEquity
		default:
			return inst, false
		}
	case models.NFO, models.BFO:
		expiry, err := utils.ParseExpiry(r.Expiry)
		if err != nil {
			return inst, false
		}
		inst.Expiry = expiry
		switch r.InstrumentType {
		case "OPTSTK", "OPTIDX":
			if len(r.Symbol) < 2 {
				return inst, false
			}
			inst.Kind = models.KindOption
			inst.Strike = atof(r.Strike) / 100
			inst.OptionType = models.OptionType(r.Symbol[len(r.Symbol)-2:])
			if !inst.OptionType.IsValid() || inst.Strike <= 0 {
				return inst, false
			}
		case "FUTSTK", "FUTIDX":
			inst.Kind = models.KindFuture
		default:
			return inst, false
		}
	default:
		return inst, false
	}
	return inst, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return int(atof(s))
	}
	return n
}

func atof(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

var _ Gateway = (*SmartAPIGateway)(nil)
