package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fno-chain/internal/broker"
	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/logging"
	"fno-chain/internal/metrics"
	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

// DefaultBatchSize is the number of tokens per quote request.
const DefaultBatchSize = 4

// Failure reasons attached to quotes that could not be fetched.
const (
	ReasonCancelled = "cancelled"
	ReasonMissing   = "missing from response"
)

// SessionProvider hands out gateway sessions and accepts reports of
// rejected tokens. session.Manager satisfies it.
type SessionProvider interface {
	EnsureSession(ctx context.Context) (*models.Session, error)
	Invalidate(token string)
}

// Config configures a Fetcher.
type Config struct {
	BatchSize      int
	Retry          utils.RetryConfig
	AttemptTimeout time.Duration
	Clock          utils.Clock
	Logger         zerolog.Logger
}

// Fetcher pulls quotes batch by batch. Batches run sequentially; a batch
// that exhausts its retries fails its tokens without failing the fetch.
type Fetcher struct {
	gateway  broker.Gateway
	sessions SessionProvider
	pacer    *Pacer
	cfg      Config
	logger   zerolog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(gateway broker.Gateway, sessions SessionProvider, pacer *Pacer, cfg Config) *Fetcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = utils.DefaultRetryConfig()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	if pacer == nil {
		pacer = NewPacer(0, cfg.Clock)
	}
	return &Fetcher{
		gateway:  gateway,
		sessions: sessions,
		pacer:    pacer,
		cfg:      cfg,
		logger:   logging.WithComponent(cfg.Logger, "fetcher"),
	}
}

// Batch is a contiguous run of instruments on one exchange.
type Batch struct {
	Exchange models.Exchange
	// Start is the index of the first instrument in the fetch input.
	Start       int
	Instruments []models.Instrument
}

// Tokens returns the exchange tokens of the batch.
func (b Batch) Tokens() []string {
	tokens := make([]string, len(b.Instruments))
	for i, inst := range b.Instruments {
		tokens[i] = inst.Token
	}
	return tokens
}

// Partition splits instruments, in order, into batches of at most size.
// A batch never spans two exchanges.
func Partition(instruments []models.Instrument, size int) []Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches []Batch
	for i, inst := range instruments {
		n := len(batches)
		if n == 0 || len(batches[n-1].Instruments) == size || batches[n-1].Exchange != inst.Exchange {
			batches = append(batches, Batch{Exchange: inst.Exchange, Start: i})
			n++
		}
		batches[n-1].Instruments = append(batches[n-1].Instruments, inst)
	}
	return batches
}

// FetchQuotes returns one quote per instrument, in input order. Tokens of
// exhausted batches come back failed. An AuthError aborts the fetch. On
// cancellation the quotes gathered so far are returned with ctx's error and
// every token not fetched is failed as cancelled.
func (f *Fetcher) FetchQuotes(ctx context.Context, instruments []models.Instrument) ([]models.Quote, error) {
	out := make([]models.Quote, len(instruments))
	batches := Partition(instruments, f.cfg.BatchSize)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			f.failFrom(out, instruments, batches[i:], ReasonCancelled)
			return out, err
		}

		res, attempts, err := f.fetchBatch(ctx, batch)
		logging.LogBatch(f.logger, i+1, len(batch.Instruments), attempts, err)
		metrics.RecordQuoteBatch(err)

		switch {
		case err == nil:
			f.fill(out, batch, res)
		case errors.Is(err, apperrors.ErrNotAuthenticated):
			return nil, err
		case ctx.Err() != nil:
			f.failFrom(out, instruments, batches[i:], ReasonCancelled)
			return out, ctx.Err()
		default:
			f.failBatch(out, batch, exhaustedReason(err))
		}
	}
	return out, nil
}

func (f *Fetcher) fill(out []models.Quote, batch Batch, res *broker.QuoteResult) {
	var missing int
	for j, inst := range batch.Instruments {
		idx := batch.Start + j
		if q, ok := res.Quotes[inst.Token]; ok {
			q.Token = inst.Token
			out[idx] = q
			continue
		}
		reason, ok := res.Unfetched[inst.Token]
		if !ok {
			reason = ReasonMissing
		}
		out[idx] = models.FailedQuote(inst.Token, reason)
		missing++
	}
	metrics.RecordFailedTokens("unfetched", missing)
}

func (f *Fetcher) failBatch(out []models.Quote, batch Batch, reason string) {
	for j, inst := range batch.Instruments {
		out[batch.Start+j] = models.FailedQuote(inst.Token, reason)
	}
	metrics.RecordFailedTokens("exhausted", len(batch.Instruments))
}

func (f *Fetcher) failFrom(out []models.Quote, instruments []models.Instrument, rest []Batch, reason string) {
	if len(rest) == 0 {
		return
	}
	for idx := rest[0].Start; idx < len(instruments); idx++ {
		out[idx] = models.FailedQuote(instruments[idx].Token, reason)
	}
	metrics.RecordFailedTokens(ReasonCancelled, len(instruments)-rest[0].Start)
}

func exhaustedReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrRateLimited):
		return "retries exhausted: rate limited"
	case errors.Is(err, apperrors.ErrSessionExpired):
		return "retries exhausted: session rejected"
	default:
		return fmt.Sprintf("retries exhausted: %v", err)
	}
}

func (f *Fetcher) fetchBatch(ctx context.Context, batch Batch) (*broker.QuoteResult, int, error) {
	tokens := batch.Tokens()
	var res *broker.QuoteResult
	attempts, err := f.run(ctx, func(actx context.Context, s *models.Session) error {
		r, err := f.gateway.Quotes(actx, s, batch.Exchange, tokens)
		if err == nil {
			res = r
		}
		return err
	})
	return res, attempts, err
}

// FetchSpot returns the last traded price of inst under the same pacing
// and retry policy as quote batches.
func (f *Fetcher) FetchSpot(ctx context.Context, inst models.Instrument) (float64, error) {
	var ltp float64
	attempts, err := f.run(ctx, func(actx context.Context, s *models.Session) error {
		v, err := f.gateway.LTP(actx, s, inst)
		if err == nil {
			ltp = v
		}
		return err
	})
	if err != nil {
		return 0, apperrors.Wrapf(err, "ltp %s after %d attempts", inst.Symbol, attempts)
	}
	return ltp, nil
}

// run drives one request through the retry state machine. Every submission
// waits on the pacer. A rejected session is renewed and the attempt repeated
// once without spending the budget; a second rejection counts as an
// ordinary failure.
func (f *Fetcher) run(ctx context.Context, submit func(context.Context, *models.Session) error) (int, error) {
	b := utils.NewBackoff(f.cfg.Retry)
	renewed := false

	for {
		if err := ctx.Err(); err != nil {
			return b.Attempts(), err
		}
		session, err := f.sessions.EnsureSession(ctx)
		if err != nil {
			return b.Attempts(), err
		}
		if err := f.pacer.Wait(ctx); err != nil {
			return b.Attempts(), err
		}
		if err := b.Begin(); err != nil {
			return b.Attempts(), err
		}

		err = f.attempt(ctx, session, submit)
		if err == nil {
			b.Succeed()
			metrics.RecordQuoteAttempt("ok")
			return b.Attempts(), nil
		}

		if errors.Is(err, apperrors.ErrSessionExpired) {
			metrics.RecordQuoteAttempt("session")
			f.sessions.Invalidate(session.AuthToken)
			if !renewed {
				renewed = true
				f.logger.Info().Msg("Session rejected, renewing")
				if rerr := b.Rewind(); rerr != nil {
					return b.Attempts(), rerr
				}
				continue
			}
		} else if apperrors.IsRetryable(err) {
			if errors.Is(err, apperrors.ErrRateLimited) {
				metrics.RecordQuoteAttempt("throttled")
			} else {
				metrics.RecordQuoteAttempt("transport")
			}
		} else {
			metrics.RecordQuoteAttempt("rejected")
			b.Abort()
			return b.Attempts(), err
		}

		delay, ok := b.Fail()
		if !ok {
			return b.Attempts(), err
		}
		f.logger.Debug().Err(err).Int("attempt", b.Attempts()).Dur("backoff", delay).Msg("Retrying after backoff")
		metrics.RecordBackoff(delay)
		if serr := f.cfg.Clock.Sleep(ctx, delay); serr != nil {
			return b.Attempts(), serr
		}
	}
}

// attempt submits once on a context that survives caller cancellation but
// is bounded by the attempt timeout.
func (f *Fetcher) attempt(ctx context.Context, s *models.Session, submit func(context.Context, *models.Session) error) error {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.AttemptTimeout)
	defer cancel()
	return submit(actx, s)
}
