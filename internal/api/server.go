// Package api exposes the option-chain service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fno-chain/internal/health"
	"fno-chain/internal/instruments"
	"fno-chain/internal/logging"
	"fno-chain/internal/metrics"
	"fno-chain/internal/models"
	"fno-chain/internal/session"
)

// ChainService builds option chains.
type ChainService interface {
	GetOptionChain(ctx context.Context, ticker string) (*models.OptionChain, error)
}

// InstrumentRefresher reloads the instrument master.
type InstrumentRefresher interface {
	Refresh(ctx context.Context) (int, error)
	Status() instruments.Status
}

// SessionReporter reports the gateway session.
type SessionReporter interface {
	Snapshot() session.Info
}

// Config holds the configuration for the API server.
type Config struct {
	Addr         string
	Mode         string // gin mode: debug, release, test
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// Server serves chains, instrument status and session status.
type Server struct {
	config     Config
	engine     *gin.Engine
	httpServer *http.Server
	chains     ChainService
	refresher  InstrumentRefresher
	sessions   SessionReporter
	health     *health.Monitor
	log        zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(config Config, chains ChainService, refresher InstrumentRefresher, sessions SessionReporter, logger zerolog.Logger) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 90 * time.Second
	}
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	s := &Server{
		config:    config,
		engine:    gin.New(),
		chains:    chains,
		refresher: refresher,
		sessions:  sessions,
		health:    health.NewMonitor(5*time.Second, logger),
		log:       logging.WithComponent(logger, "api"),
	}
	s.health.Register("instruments", instrumentsCheck(refresher))
	s.health.Register("session", sessionCheck(sessions))
	s.setupRoutes()
	return s
}

// RegisterCheck adds a component to /healthz.
func (s *Server) RegisterCheck(name string, check health.Check) {
	s.health.Register(name, check)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.Use(s.recoveryMiddleware(), requestIDMiddleware(), s.loggingMiddleware(), metricsMiddleware())

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.engine.Group("/api/v1")
	v1.GET("/stock/:ticker/chain", s.handleGetChain)
	v1.GET("/stock/:ticker/chain/coverage", s.handleGetCoverage)
	v1.POST("/instruments/refresh", s.handleRefreshInstruments)
	v1.GET("/instruments", s.handleInstrumentStatus)
	v1.GET("/session", s.handleSession)

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Info().Str("addr", s.config.Addr).Msg("Starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the API server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info().Msg("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}
