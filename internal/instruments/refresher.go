package instruments

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/logging"
	"fno-chain/internal/metrics"
	"fno-chain/internal/models"
	"fno-chain/internal/store"
	"fno-chain/pkg/utils"
)

// Source downloads the full instrument catalog.
type Source interface {
	Name() string
	Instruments(ctx context.Context) ([]models.Instrument, error)
}

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	// Interval between scheduled refreshes; zero disables the schedule.
	Interval time.Duration
	// MaxAge after which a stored catalog is downloaded again at startup.
	MaxAge time.Duration
	// Timeout bounds one shared download, retries included.
	Timeout time.Duration
	// Retry applies to transient download failures.
	Retry  utils.RetryConfig
	Clock  utils.Clock
	Logger zerolog.Logger
}

// Status describes the loaded instrument master.
type Status struct {
	Provider string `json:"provider"`
	Loaded   int    `json:"loaded"`
	// Underlyings with listed options.
	Underlyings []string             `json:"underlyings"`
	BuiltAt     time.Time            `json:"built_at"`
	Freshness   *store.DataFreshness `json:"freshness,omitempty"`
}

// Refresher keeps the Master in sync with the gateway catalog and the local
// store.
type Refresher struct {
	source Source
	store  store.InstrumentStore // may be nil
	master *Master
	cfg    RefresherConfig
	logger zerolog.Logger

	group singleflight.Group
}

// NewRefresher creates a Refresher.
func NewRefresher(source Source, st store.InstrumentStore, master *Master, cfg RefresherConfig) *Refresher {
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 20 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = utils.RetryConfig{MaxAttempts: 3, InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}
	}
	return &Refresher{
		source: source,
		store:  st,
		master: master,
		cfg:    cfg,
		logger: logging.WithComponent(cfg.Logger, "instruments"),
	}
}

func (r *Refresher) syncKey() string {
	return store.InstrumentSyncKey(r.source.Name())
}

// Warm loads the stored catalog into the master. It reports whether the
// stored data is fresh enough to skip a download.
func (r *Refresher) Warm(ctx context.Context) (bool, error) {
	if r.store == nil {
		return false, nil
	}
	insts, err := r.store.LoadInstruments(ctx, r.source.Name())
	if err != nil {
		return false, apperrors.Wrap(err, "loading stored instruments")
	}
	if len(insts) == 0 {
		return false, nil
	}

	freshness := store.Freshness(r.store, r.syncKey(), r.cfg.Clock.Now(), r.cfg.MaxAge)
	r.master.Swap(NewCatalog(insts, freshness.LastUpdated))
	r.logger.Info().
		Int("count", len(insts)).
		Str("age", store.FormatFreshness(freshness)).
		Msg("Loaded stored instrument master")
	return freshness.IsFresh, nil
}

// Refresh downloads the catalog, persists it and swaps it in. Concurrent
// calls share one download, which outlives the caller that started it.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	v, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
		defer cancel()
		return r.refresh(dctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *Refresher) refresh(ctx context.Context) (int, error) {
	var insts []models.Instrument
	err := utils.Retry(ctx, r.cfg.Clock, r.cfg.Retry, func() error {
		start := time.Now()
		var err error
		insts, err = r.source.Instruments(ctx)
		logging.LogAPICall(r.logger, "GET", "instruments", time.Since(start), err)
		if err != nil && !apperrors.IsRetryable(err) {
			return utils.Stop(err)
		}
		return err
	})
	if err == nil && len(insts) == 0 {
		err = apperrors.NewDataError("instruments", r.source.Name(), "empty catalog", apperrors.ErrDataNotFound)
	}
	if err != nil {
		metrics.RecordInstrumentRefresh(err)
		return 0, apperrors.Wrap(err, "downloading instruments")
	}

	now := r.cfg.Clock.Now()
	if r.store != nil {
		if err := r.store.SaveInstruments(ctx, r.source.Name(), insts); err != nil {
			// The download is still usable in memory.
			r.logger.Warn().Err(err).Msg("Failed to persist instrument master")
		} else if err := r.store.SetLastSync(r.syncKey(), now); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to record instrument sync")
		}
	}

	r.master.Swap(NewCatalog(insts, now))
	metrics.RecordInstrumentRefresh(nil)
	r.logger.Info().Int("count", len(insts)).Msg("Instrument master refreshed")
	return len(insts), nil
}

// EnsureLoaded warms the master from the store and downloads when nothing
// fresh is stored. A failed download is tolerated if a stale catalog was
// loaded.
func (r *Refresher) EnsureLoaded(ctx context.Context) error {
	fresh, err := r.Warm(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Ignoring unreadable instrument store")
	}
	if fresh {
		return nil
	}
	if _, err := r.Refresh(ctx); err != nil {
		if r.master.Snapshot().Len() > 0 {
			r.logger.Warn().Err(err).Msg("Using stale instrument master")
			return nil
		}
		return err
	}
	return nil
}

// Run refreshes on the configured interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	if r.cfg.Interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Scheduled instrument refresh failed")
			}
		}
	}
}

// Status reports what is loaded.
func (r *Refresher) Status() Status {
	c := r.master.Snapshot()
	st := Status{Provider: r.source.Name(), Loaded: c.Len(), Underlyings: c.OptionUnderlyings(), BuiltAt: c.BuiltAt()}
	if r.store != nil {
		st.Freshness = store.Freshness(r.store, r.syncKey(), r.cfg.Clock.Now(), r.cfg.MaxAge)
	}
	return st
}
