// Package metrics exposes Prometheus collectors for the chain pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnochain_logins_total",
		Help: "Gateway logins by outcome",
	}, []string{"provider", "result"})

	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fnochain_session_state",
		Help: "1 for the current session state, 0 otherwise",
	}, []string{"state"})

	// Quote metrics
	quoteAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnochain_quote_attempts_total",
		Help: "Quote submissions by outcome",
	}, []string{"outcome"})

	quoteBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnochain_quote_batches_total",
		Help: "Quote batches by final result",
	}, []string{"result"})

	quoteTokensFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnochain_quote_tokens_failed_total",
		Help: "Tokens that ended without a quote",
	}, []string{"reason"})

	backoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fnochain_quote_backoff_seconds",
		Help:    "Backoff delays scheduled between quote attempts",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})

	pacingWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fnochain_pacing_wait_seconds",
		Help:    "Time spent waiting on the global quote pacer",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	// Chain metrics
	chainRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnochain_chain_requests_total",
		Help: "Option chain requests by result",
	}, []string{"result"})

	chainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fnochain_chain_duration_seconds",
		Help:    "Wall-clock time to build an option chain",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	chainFailedQuotes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fnochain_chain_failed_quotes",
		Help:    "Failed quotes per chain",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
	})

	// Instrument master metrics
	instrumentsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fnochain_instruments_loaded",
		Help: "Instruments in the current master snapshot",
	})

	instrumentRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnochain_instrument_refresh_total",
		Help: "Instrument master refreshes by result",
	}, []string{"result"})

	// API metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fnochain_http_requests_total",
		Help: "HTTP requests processed",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fnochain_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"method", "route"})
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLogin records a gateway login.
func RecordLogin(provider string, err error) {
	loginsTotal.WithLabelValues(provider, result(err)).Inc()
}

// SetSessionState marks state as the current one among all.
func SetSessionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

// RecordQuoteAttempt records one quote submission outcome
// (ok, throttled, transport, session).
func RecordQuoteAttempt(outcome string) {
	quoteAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordQuoteBatch records a batch's final result.
func RecordQuoteBatch(err error) {
	quoteBatchesTotal.WithLabelValues(result(err)).Inc()
}

// RecordFailedTokens adds n tokens failed for reason.
func RecordFailedTokens(reason string, n int) {
	if n > 0 {
		quoteTokensFailed.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordBackoff records a scheduled backoff delay.
func RecordBackoff(d time.Duration) {
	backoffSeconds.Observe(d.Seconds())
}

// RecordPacingWait records time spent waiting on the pacer.
func RecordPacingWait(d time.Duration) {
	pacingWaitSeconds.Observe(d.Seconds())
}

// RecordChain records one chain request.
func RecordChain(d time.Duration, failedQuotes int, err error) {
	chainRequestsTotal.WithLabelValues(result(err)).Inc()
	chainDuration.Observe(d.Seconds())
	if err == nil {
		chainFailedQuotes.Observe(float64(failedQuotes))
	}
}

// SetInstrumentsLoaded sets the size of the master snapshot.
func SetInstrumentsLoaded(n int) {
	instrumentsLoaded.Set(float64(n))
}

// RecordInstrumentRefresh records an instrument master refresh.
func RecordInstrumentRefresh(err error) {
	instrumentRefreshTotal.WithLabelValues(result(err)).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
