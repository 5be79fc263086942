package cli

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fno-chain/internal/broker"
	"fno-chain/internal/chain"
	"fno-chain/internal/config"
	"fno-chain/internal/instruments"
	"fno-chain/internal/logging"
	"fno-chain/internal/quotes"
	"fno-chain/internal/security"
	"fno-chain/internal/session"
	"fno-chain/internal/store"
	"fno-chain/pkg/utils"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Clock     utils.Clock
	Gateway   broker.Gateway
	Sessions  *session.Manager
	Store     store.InstrumentStore
	Master    *instruments.Master
	Refresher *instruments.Refresher
	Fetcher   *quotes.Fetcher
	Service   *chain.Service
}

func (a *App) init(cmd *cobra.Command) error {
	if standalone[cmd.Name()] || a.Config != nil {
		return nil
	}

	configDir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	if p, _ := cmd.Flags().GetString("provider"); p != "" {
		cfg.Gateway.Provider = strings.ToLower(p)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	applyLoginFlags(cmd, cfg)

	debug, _ := cmd.Flags().GetBool("debug")
	a.Logger = newLogger(cfg.Logging, debug)
	return a.wire(cfg)
}

func newLogger(cfg config.LoggingConfig, debug bool) zerolog.Logger {
	lc := logging.DefaultLogConfig()
	lc.Level = cfg.Level
	lc.File = cfg.File
	if cfg.FilePath != "" {
		lc.FilePath = cfg.FilePath
	}
	if debug {
		lc.Level = "debug"
		logging.SetDebugLevel()
	}
	return logging.NewLoggerWithConfig(lc)
}

// wire builds the pipeline from cfg.
func (a *App) wire(cfg *config.Config) error {
	a.Config = cfg
	a.Clock = utils.SystemClock{}

	gateway, err := newGateway(cfg, a.Clock, a.Logger)
	if err != nil {
		return err
	}
	a.Gateway = gateway

	scfg := session.Config{
		Credentials:  cfg.Credentials.For(cfg.Gateway.Provider),
		RenewAhead:   cfg.Session.RenewAhead,
		LoginTimeout: cfg.Session.LoginTimeout,
		Clock:        a.Clock,
		Logger:       a.Logger,
	}
	if cfg.Session.CacheEnabled {
		if cfg.Credentials.Passphrase == "" {
			a.Logger.Warn().Msg("Session cache enabled without a passphrase, skipping")
		} else {
			scfg.Cache = security.NewTokenVault(cfg.Session.CachePath, cfg.Credentials.Passphrase)
		}
	}
	a.Sessions = session.NewManager(gateway, scfg)

	// The refresher treats a nil store as memory only, so keep the
	// interface nil rather than a nil *SQLiteStore.
	if cfg.Instruments.DBPath != "" {
		st, err := store.NewSQLiteStore(cfg.Instruments.DBPath)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to open instrument store, running in memory")
		} else {
			a.Store = st
		}
	}

	a.Master = instruments.NewMaster()
	a.Refresher = instruments.NewRefresher(gateway, a.Store, a.Master, instruments.RefresherConfig{
		Interval: cfg.Instruments.RefreshInterval,
		MaxAge:   cfg.Instruments.MaxAge,
		Clock:    a.Clock,
		Logger:   a.Logger,
	})

	a.Fetcher = quotes.NewFetcher(gateway, a.Sessions, quotes.NewPacer(cfg.Fetcher.Pacing, a.Clock), quotes.Config{
		BatchSize:      cfg.Fetcher.BatchSize,
		Retry:          cfg.Fetcher.RetryConfig(),
		AttemptTimeout: cfg.Fetcher.AttemptTimeout,
		Clock:          a.Clock,
		Logger:         a.Logger,
	})

	resolver := instruments.NewResolver(a.Master, a.Fetcher, instruments.ResolverConfig{
		StrikesEachSide: cfg.Chain.StrikesEachSide,
		Clock:           a.Clock,
		Logger:          a.Logger,
	})
	a.Service = chain.NewService(resolver, a.Fetcher, chain.Config{
		RequestTimeout:  cfg.Fetcher.RequestTimeout,
		RiskFreeRate:    cfg.Chain.RiskFreeRate,
		ATMTieTolerance: cfg.Chain.ATMTieTolerance,
		Clock:           a.Clock,
		Logger:          a.Logger,
	})

	a.Logger.Debug().
		Str("provider", gateway.Name()).
		Int("batch_size", cfg.Fetcher.BatchSize).
		Dur("pacing", cfg.Fetcher.Pacing).
		Msg("Pipeline initialized")
	return nil
}

func newGateway(cfg *config.Config, clock utils.Clock, logger zerolog.Logger) (broker.Gateway, error) {
	switch cfg.Gateway.Provider {
	case config.ProviderAngelOne:
		return broker.NewSmartAPIGateway(broker.SmartAPIConfig{
			APIKey:         cfg.Credentials.AngelOne.APIKey,
			BaseURL:        cfg.Gateway.BaseURL,
			ScripMasterURL: cfg.Gateway.ScripMasterURL,
			Timeout:        cfg.Gateway.HTTPTimeout,
			ClientLocalIP:  cfg.Gateway.ClientLocalIP,
			ClientPublicIP: cfg.Gateway.ClientPublicIP,
			MACAddress:     cfg.Gateway.MACAddress,
			Logger:         logger,
		}), nil
	case config.ProviderKite:
		return broker.NewKiteGateway(broker.KiteConfig{
			APIKey:  cfg.Credentials.Kite.APIKey,
			Timeout: cfg.Gateway.HTTPTimeout,
			Logger:  logger,
		}), nil
	case config.ProviderPaper:
		return broker.NewPaperGateway(broker.PaperConfig{
			Clock:        clock,
			Seed:         cfg.Paper.Seed,
			ThrottleRate: cfg.Paper.ThrottleRate,
			RiskFreeRate: cfg.Chain.RiskFreeRate,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Gateway.Provider)
	}
}

// Close releases the store.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close instrument store")
		}
		a.Store = nil
	}
}
