package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

func newTestSmartAPI(t *testing.T, handler http.HandlerFunc) *SmartAPIGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := NewSmartAPIGateway(SmartAPIConfig{
		APIKey:         "key-1",
		BaseURL:        srv.URL,
		ScripMasterURL: srv.URL + "/scrip-master.json",
		Timeout:        5 * time.Second,
		ClientLocalIP:  "10.0.0.2",
		ClientPublicIP: "1.2.3.4",
		MACAddress:     "aa:bb:cc:dd:ee:ff",
		Logger:         zerolog.Nop(),
	})
	g.now = func() time.Time { return time.Date(2026, 10, 15, 10, 0, 0, 0, utils.IndiaLocation) }
	return g
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSmartAPILogin(t *testing.T) {
	g := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathLogin, r.URL.Path)
		require.Equal(t, "key-1", r.Header.Get("X-PrivateKey"))
		require.Equal(t, "USER", r.Header.Get("X-UserType"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "A123", body["clientcode"])
		require.Equal(t, "123456", body["totp"])

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": true, "message": "SUCCESS", "errorcode": "",
			"data": map[string]string{"jwtToken": "Bearer jwt-1", "refreshToken": "r-1", "feedToken": "f-1"},
		})
	})

	s, err := g.Login(context.Background(), models.LoginRequest{
		Credentials: models.Credentials{ClientCode: "A123", Password: "1111"},
		TOTP:        "123456",
	})
	require.NoError(t, err)
	require.Equal(t, "jwt-1", s.AuthToken)
	require.Equal(t, "f-1", s.FeedToken)
	require.Equal(t, time.Date(2026, 10, 16, 5, 0, 0, 0, utils.IndiaLocation), s.ExpiresAt)
}

func TestSmartAPILoginRejected(t *testing.T) {
	g := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": false, "message": "Invalid totp", "errorcode": "AB1050",
		})
	})

	_, err := g.Login(context.Background(), models.LoginRequest{
		Credentials: models.Credentials{ClientCode: "A123", Password: "1111"},
		TOTP:        "000000",
	})
	require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)

	_, err = g.Login(context.Background(), models.LoginRequest{})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestSmartAPIQuotes(t *testing.T) {
	g := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathQuote, r.URL.Path)
		require.Equal(t, "Bearer jwt-1", r.Header.Get("Authorization"))

		var body struct {
			Mode           string              `json:"mode"`
			ExchangeTokens map[string][]string `json:"exchangeTokens"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "FULL", body.Mode)
		require.Equal(t, []string{"101", "102", "103"}, body.ExchangeTokens["NFO"])

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": true, "message": "SUCCESS",
			"data": map[string]interface{}{
				"fetched": []map[string]interface{}{
					{"symbolToken": "101", "ltp": 42.5, "open": 40, "high": 45, "low": 39.5, "close": 41,
						"tradeVolume": 125000, "opnInterest": 880000, "lastTradeQty": 250,
						"totBuyQuan": 5000, "totSellQuan": 7000, "exchFeedTime": "15-Oct-2026 10:01:02"},
					{"symbolToken": "102", "ltp": 12.05, "tradeVolume": 500, "opnInterest": 2500},
				},
				"unfetched": []map[string]interface{}{
					{"exchange": "NFO", "symbolToken": "103", "message": "Invalid Token", "errorCode": "AB4005"},
				},
			},
		})
	})

	res, err := g.Quotes(context.Background(), &models.Session{AuthToken: "jwt-1"}, models.NFO, []string{"101", "102", "103"})
	require.NoError(t, err)
	require.Len(t, res.Quotes, 2)

	q := res.Quotes["101"]
	require.Equal(t, 42.5, q.LTP)
	require.Equal(t, int64(125000), q.Volume)
	require.Equal(t, int64(880000), q.OI)
	require.Equal(t, int64(7000), q.TotalSellQty)
	require.Equal(t, 2, q.Timestamp.Second())
	require.Contains(t, res.Unfetched["103"], "Invalid Token")
}

func TestSmartAPIErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"plain text throttle", http.StatusForbidden, "Access denied because of exceeding access rate", apperrors.ErrRateLimited},
		{"429", http.StatusTooManyRequests, `{"status":false,"message":"slow down"}`, apperrors.ErrRateLimited},
		{"invalid token", http.StatusOK, `{"status":false,"message":"Invalid Token","errorcode":"AG8001"}`, apperrors.ErrSessionExpired},
		{"401", http.StatusUnauthorized, `{"status":false,"message":"Unauthorized"}`, apperrors.ErrSessionExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := g.Quotes(context.Background(), &models.Session{AuthToken: "jwt"}, models.NFO, []string{"1"})
			require.ErrorIs(t, err, tc.target)
		})
	}

	g := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	})
	_, err := g.Quotes(context.Background(), &models.Session{AuthToken: "jwt"}, models.NFO, []string{"1"})
	var te *apperrors.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, http.StatusBadGateway, te.StatusCode)
	require.True(t, apperrors.IsRetryable(err))
}

func TestSmartAPILTP(t *testing.T) {
	g := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathLTP, r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": true, "message": "SUCCESS",
			"data": map[string]interface{}{"exchange": "NSE", "tradingsymbol": "SBIN-EQ", "symboltoken": "3045", "ltp": 812.45},
		})
	})
	ltp, err := g.LTP(context.Background(), &models.Session{AuthToken: "jwt"}, models.Instrument{Token: "3045", Symbol: "SBIN-EQ", Exchange: models.NSE})
	require.NoError(t, err)
	require.Equal(t, 812.45, ltp)
}

const scripMasterFixture = `[
 {"token":"3045","symbol":"SBIN-EQ","name":"SBIN","expiry":"","strike":"-1.000000","lotsize":"1","instrumenttype":"","exch_seg":"NSE","tick_size":"5.000000"},
 {"token":"99926000","symbol":"Nifty 50","name":"NIFTY","expiry":"","strike":"0.000000","lotsize":"1","instrumenttype":"AMXIDX","exch_seg":"NSE","tick_size":"0.000000"},
 {"token":"51234","symbol":"SBIN27OCT26800CE","name":"SBIN","expiry":"27OCT2026","strike":"80000.000000","lotsize":"750","instrumenttype":"OPTSTK","exch_seg":"NFO","tick_size":"5.000000"},
 {"token":"51235","symbol":"SBIN27OCT26800PE","name":"SBIN","expiry":"27OCT2026","strike":"80000.000000","lotsize":"750","instrumenttype":"OPTSTK","exch_seg":"NFO","tick_size":"5.000000"},
 {"token":"51300","symbol":"SBIN27OCT26FUT","name":"SBIN","expiry":"27OCT2026","strike":"-1.000000","lotsize":"750","instrumenttype":"FUTSTK","exch_seg":"NFO","tick_size":"10.000000"},
 {"token":"7","symbol":"USDINR","name":"USDINR","expiry":"27OCT2026","strike":"-1","lotsize":"1000","instrumenttype":"FUTCUR","exch_seg":"CDS","tick_size":"0.25"}
]`

func TestParseScripMaster(t *testing.T) {
	insts, err := parseScripMaster(strings.NewReader(scripMasterFixture))
	require.NoError(t, err)
	require.Len(t, insts, 5)

	require.Equal(t, models.KindEquity, insts[0].Kind)
	require.Equal(t, "SBIN", insts[0].Underlying)
	require.Equal(t, models.KindIndex, insts[1].Kind)

	ce := insts[2]
	require.Equal(t, models.KindOption, ce.Kind)
	require.Equal(t, models.Call, ce.OptionType)
	require.Equal(t, 800.0, ce.Strike)
	require.Equal(t, 750, ce.LotSize)
	require.Equal(t, 0.05, ce.TickSize)
	require.Equal(t, "27OCT2026", utils.FormatExpiry(ce.Expiry))

	require.Equal(t, models.Put, insts[3].OptionType)
	require.Equal(t, models.KindFuture, insts[4].Kind)
}

func TestSmartAPIInstruments(t *testing.T) {
	g := newTestSmartAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/scrip-master.json", r.URL.Path)
		_, _ = io.WriteString(w, scripMasterFixture)
	})
	insts, err := g.Instruments(context.Background())
	require.NoError(t, err)
	require.Len(t, insts, 5)
}
