package quotes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fno-chain/internal/broker"
	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/instruments"
	"fno-chain/internal/models"
	"fno-chain/internal/session"
	"fno-chain/pkg/utils"
)

var testStart = time.Date(2026, 10, 15, 10, 0, 0, 0, utils.IndiaLocation)

type fixture struct {
	clock    *utils.ManualClock
	paper    *broker.PaperGateway
	sessions *session.Manager
	fetcher  *Fetcher
}

func newFixture(t *testing.T, gw func(*broker.PaperGateway) broker.Gateway) *fixture {
	t.Helper()
	clock := utils.NewManualClock(testStart)
	paper := broker.NewPaperGateway(broker.PaperConfig{Clock: clock, Seed: 1})

	var gateway broker.Gateway = paper
	if gw != nil {
		gateway = gw(paper)
	}
	sessions := session.NewManager(gateway, session.Config{Clock: clock, Logger: zerolog.Nop()})
	fetcher := NewFetcher(gateway, sessions, NewPacer(250*time.Millisecond, clock), Config{
		BatchSize: 4,
		Retry: utils.RetryConfig{
			MaxAttempts:   4,
			InitialDelay:  time.Second,
			MaxDelay:      8 * time.Second,
			BackoffFactor: 2,
		},
		AttemptTimeout: 5 * time.Second,
		Clock:          clock,
		Logger:         zerolog.Nop(),
	})
	return &fixture{clock: clock, paper: paper, sessions: sessions, fetcher: fetcher}
}

// chainContracts returns the SBIN near-month contracts for the given number
// of strikes starting at 780, ordered by strike with calls first.
func chainContracts(t *testing.T, paper *broker.PaperGateway, strikes int) []models.Instrument {
	t.Helper()
	insts, err := paper.Instruments(context.Background())
	require.NoError(t, err)
	c := instruments.NewCatalog(insts, testStart)
	expiry, ok := c.NearestExpiry("SBIN", testStart)
	require.True(t, ok)

	window := make([]float64, strikes)
	for i := range window {
		window[i] = 780 + float64(i*10)
	}
	out := instruments.SelectOptions(c.Options("SBIN", expiry), window)
	require.Len(t, out, 2*strikes)
	return out
}

func requireAligned(t *testing.T, insts []models.Instrument, got []models.Quote) {
	t.Helper()
	require.Len(t, got, len(insts))
	for i := range insts {
		require.Equal(t, insts[i].Token, got[i].Token)
	}
}

func TestThrottledBatchRecovers(t *testing.T) {
	f := newFixture(t, nil)
	insts := chainContracts(t, f.paper, 8)
	f.paper.Script(map[int]broker.Fault{2: broker.FaultThrottle, 3: broker.FaultThrottle})

	got, err := f.fetcher.FetchQuotes(context.Background(), insts)
	require.NoError(t, err)
	requireAligned(t, insts, got)
	for _, q := range got {
		require.True(t, q.HasPrice(), q.Token)
	}

	// Pacing before batch 2, two backoffs, then pacing before batches 3 and 4.
	require.Equal(t, []time.Duration{
		250 * time.Millisecond,
		time.Second,
		2 * time.Second,
		250 * time.Millisecond,
		250 * time.Millisecond,
	}, f.clock.Sleeps())

	calls := f.paper.QuoteCalls()
	require.Len(t, calls, 6)
	require.Equal(t, calls[1], calls[2])
	require.Equal(t, calls[1], calls[3])
	for _, c := range calls {
		require.LessOrEqual(t, len(c), 4)
	}
}

func TestExhaustedBatchIsAbsorbed(t *testing.T) {
	f := newFixture(t, nil)
	insts := chainContracts(t, f.paper, 8)
	f.paper.Script(map[int]broker.Fault{
		3: broker.FaultThrottle, 4: broker.FaultThrottle, 5: broker.FaultThrottle, 6: broker.FaultThrottle,
	})

	got, err := f.fetcher.FetchQuotes(context.Background(), insts)
	require.NoError(t, err)
	requireAligned(t, insts, got)

	for i, q := range got {
		if i >= 8 && i < 12 {
			require.True(t, q.Failed)
			require.Equal(t, "retries exhausted: rate limited", q.FailureReason)
			require.Zero(t, q.LTP)
			continue
		}
		require.True(t, q.HasPrice())
	}

	require.Equal(t, []time.Duration{
		250 * time.Millisecond,
		250 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		250 * time.Millisecond,
	}, f.clock.Sleeps())
	require.Len(t, f.paper.QuoteCalls(), 7)
}

func TestSessionRejectionRetriesOnceFree(t *testing.T) {
	f := newFixture(t, nil)
	insts := chainContracts(t, f.paper, 8)
	f.paper.Script(map[int]broker.Fault{2: broker.FaultSessionExpired})

	got, err := f.fetcher.FetchQuotes(context.Background(), insts)
	require.NoError(t, err)
	for _, q := range got {
		require.True(t, q.HasPrice())
	}
	require.Equal(t, 2, f.paper.Logins())

	// No backoff: the renewed attempt only waits for its pacing slot.
	for _, d := range f.clock.Sleeps() {
		require.Equal(t, 250*time.Millisecond, d)
	}
	require.Len(t, f.paper.QuoteCalls(), 5)
}

func TestSecondSessionRejectionBacksOff(t *testing.T) {
	f := newFixture(t, nil)
	insts := chainContracts(t, f.paper, 8)
	f.paper.Script(map[int]broker.Fault{2: broker.FaultSessionExpired, 3: broker.FaultSessionExpired})

	got, err := f.fetcher.FetchQuotes(context.Background(), insts)
	require.NoError(t, err)
	for _, q := range got {
		require.True(t, q.HasPrice())
	}
	require.Equal(t, 3, f.paper.Logins())
	require.Equal(t, []time.Duration{
		250 * time.Millisecond,
		250 * time.Millisecond,
		time.Second,
		250 * time.Millisecond,
		250 * time.Millisecond,
	}, f.clock.Sleeps())
}

func TestUnfetchedTokensFailIndividually(t *testing.T) {
	f := newFixture(t, nil)
	insts := chainContracts(t, f.paper, 2)
	f.paper.MarkUnfetched(map[string]string{insts[1].Token: "Invalid Token"})

	got, err := f.fetcher.FetchQuotes(context.Background(), insts)
	require.NoError(t, err)
	requireAligned(t, insts, got)
	require.True(t, got[0].HasPrice())
	require.True(t, got[1].Failed)
	require.Equal(t, "Invalid Token", got[1].FailureReason)
	require.True(t, got[2].HasPrice())
	require.True(t, got[3].HasPrice())
}

// cancellingGateway cancels the caller's context once the n-th quote call
// has been answered.
type cancellingGateway struct {
	*broker.PaperGateway
	after  int
	cancel context.CancelFunc

	mu    sync.Mutex
	calls int
	seen  []error
}

func (g *cancellingGateway) Quotes(ctx context.Context, s *models.Session, ex models.Exchange, tokens []string) (*broker.QuoteResult, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.seen = append(g.seen, ctx.Err())
	g.mu.Unlock()

	res, err := g.PaperGateway.Quotes(ctx, s, ex, tokens)
	if n == g.after {
		g.cancel()
	}
	return res, err
}

func TestCancellationStopsNewBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gw *cancellingGateway
	f := newFixture(t, func(p *broker.PaperGateway) broker.Gateway {
		gw = &cancellingGateway{PaperGateway: p, after: 2, cancel: cancel}
		return gw
	})
	insts := chainContracts(t, f.paper, 8)

	got, err := f.fetcher.FetchQuotes(ctx, insts)
	require.ErrorIs(t, err, context.Canceled)
	requireAligned(t, insts, got)

	for i, q := range got {
		if i < 8 {
			require.True(t, q.HasPrice(), "batch already submitted keeps its result")
			continue
		}
		require.True(t, q.Failed)
		require.Equal(t, ReasonCancelled, q.FailureReason)
	}
	require.Len(t, f.paper.QuoteCalls(), 2)
	for _, e := range gw.seen {
		require.NoError(t, e)
	}
}

type failingLogin struct {
	*broker.PaperGateway
}

func (failingLogin) Login(ctx context.Context, req models.LoginRequest) (*models.Session, error) {
	return nil, errors.New("Invalid totp")
}

func TestAuthFailureAbortsFetch(t *testing.T) {
	f := newFixture(t, func(p *broker.PaperGateway) broker.Gateway { return failingLogin{p} })
	insts := chainContracts(t, f.paper, 2)

	got, err := f.fetcher.FetchQuotes(context.Background(), insts)
	require.Nil(t, got)
	var authErr *apperrors.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Empty(t, f.paper.QuoteCalls())
}

func TestFetchSpot(t *testing.T) {
	f := newFixture(t, nil)
	insts, err := f.paper.Instruments(context.Background())
	require.NoError(t, err)

	var sbin models.Instrument
	for _, inst := range insts {
		if inst.Symbol == "SBIN-EQ" {
			sbin = inst
		}
	}
	spot, err := f.fetcher.FetchSpot(context.Background(), sbin)
	require.NoError(t, err)
	require.Equal(t, 812.45, spot)

	_, err = f.fetcher.FetchSpot(context.Background(), models.Instrument{Token: "nope", Symbol: "NOPE"})
	require.ErrorIs(t, err, apperrors.ErrSpotUnavailable)
}

func TestPacerSpacesSubmissions(t *testing.T) {
	clock := utils.NewManualClock(testStart)
	p := NewPacer(250*time.Millisecond, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx))
	}
	require.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, clock.Sleeps())

	// An idle gap longer than the interval needs no wait.
	clock.Advance(time.Second)
	require.NoError(t, p.Wait(ctx))
	require.Len(t, clock.Sleeps(), 2)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, p.Wait(cancelled), context.Canceled)

	// A cancelled caller leaves the free slot to the next one.
	clock.Advance(time.Second)
	require.ErrorIs(t, p.Wait(cancelled), context.Canceled)
	require.NoError(t, p.Wait(ctx))
	require.Len(t, clock.Sleeps(), 2)

	unpaced := NewPacer(0, clock)
	require.NoError(t, unpaced.Wait(ctx))
	require.NoError(t, unpaced.Wait(ctx))
	require.Len(t, clock.Sleeps(), 2)
}

type timedGateway struct {
	*broker.PaperGateway
	mu    sync.Mutex
	times []time.Time
}

func (g *timedGateway) Quotes(ctx context.Context, s *models.Session, ex models.Exchange, tokens []string) (*broker.QuoteResult, error) {
	g.mu.Lock()
	g.times = append(g.times, time.Now())
	g.mu.Unlock()
	return g.PaperGateway.Quotes(ctx, s, ex, tokens)
}

func TestConcurrentFetchesSharePacer(t *testing.T) {
	const interval = 40 * time.Millisecond
	clock := utils.SystemClock{}
	paper := broker.NewPaperGateway(broker.PaperConfig{Clock: clock, Seed: 1})
	gw := &timedGateway{PaperGateway: paper}
	sessions := session.NewManager(gw, session.Config{Clock: clock, Logger: zerolog.Nop()})
	fetcher := NewFetcher(gw, sessions, NewPacer(interval, clock), Config{
		BatchSize: 4,
		Clock:     clock,
		Logger:    zerolog.Nop(),
	})

	insts, err := paper.Instruments(context.Background())
	require.NoError(t, err)
	c := instruments.NewCatalog(insts, time.Now())
	expiry, ok := c.NearestExpiry("SBIN", time.Now())
	require.True(t, ok)
	contracts := c.Options("SBIN", expiry)
	require.GreaterOrEqual(t, len(contracts), 16)
	contracts = contracts[:16]

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			var got []models.Quote
			got, errs[w] = fetcher.FetchQuotes(context.Background(), contracts)
			for _, q := range got {
				if q.Failed {
					errs[w] = errors.New("failed quote " + q.Token)
				}
			}
		}(w)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, 1, paper.Logins())
	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Len(t, gw.times, workers*4)
	for i := 1; i < len(gw.times); i++ {
		gap := gw.times[i].Sub(gw.times[i-1])
		require.GreaterOrEqual(t, gap, interval/2, "submission %d", i)
	}
	span := gw.times[len(gw.times)-1].Sub(gw.times[0])
	require.GreaterOrEqual(t, span, time.Duration(len(gw.times)-2)*interval)
}

// Property: partitioning N instruments with batch size B yields ceil(N/B)
// batches, none larger than B, covering the input in order.
func TestProperty_PartitionBatches(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("ceil(N/B) bounded batches in input order", prop.ForAll(
		func(n, size int) bool {
			insts := make([]models.Instrument, n)
			for i := range insts {
				insts[i] = models.Instrument{Token: string(rune('a' + i%26)), Exchange: models.NFO}
			}
			batches := Partition(insts, size)
			if len(batches) != (n+size-1)/size {
				return false
			}
			next := 0
			for _, b := range batches {
				if len(b.Instruments) == 0 || len(b.Instruments) > size || b.Start != next {
					return false
				}
				next += len(b.Instruments)
			}
			return next == n
		},
		gen.IntRange(0, 200),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// Property: whatever the gateway throttles, every input instrument gets
// exactly one quote, at its own index.
func TestProperty_ExactlyOnceCoverage(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("one quote per instrument under random throttling", prop.ForAll(
		func(seed int64, strikes int) bool {
			clock := utils.NewManualClock(testStart)
			paper := broker.NewPaperGateway(broker.PaperConfig{Clock: clock, Seed: seed, ThrottleRate: 0.4})
			sessions := session.NewManager(paper, session.Config{Clock: clock, Logger: zerolog.Nop()})
			fetcher := NewFetcher(paper, sessions, NewPacer(250*time.Millisecond, clock), Config{
				BatchSize: 4,
				Retry:     utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 4 * time.Second, BackoffFactor: 2},
				Clock:     clock,
				Logger:    zerolog.Nop(),
			})

			insts := chainContracts(t, paper, strikes)
			got, err := fetcher.FetchQuotes(context.Background(), insts)
			if err != nil || len(got) != len(insts) {
				return false
			}
			for i, q := range got {
				if q.Token != insts[i].Token || q.Failed == q.HasPrice() {
					return false
				}
			}
			return true
		},
		gen.Int64Range(1, 1<<30),
		gen.IntRange(1, 16),
	))

	properties.TestingRun(t)
}
