package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/health"
	"fno-chain/internal/logging"
	"fno-chain/internal/security"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// coverageResponse summarises how much of a chain was quoted.
type coverageResponse struct {
	Symbol        string    `json:"symbol"`
	Expiry        string    `json:"expiry"`
	Total         int       `json:"total"`
	Failed        int       `json:"failed"`
	Complete      bool      `json:"complete"`
	FailedStrikes []float64 `json:"failed_strikes,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.health.Check(c.Request.Context())
	code := http.StatusOK
	if h.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    h.Status,
		"version":   s.config.Version,
		"timestamp": time.Now().Format(time.RFC3339),
		"health":    h,
	})
}

func (s *Server) handleGetChain(c *gin.Context) {
	chain, err := s.chains.GetOptionChain(c.Request.Context(), c.Param("ticker"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if chain.Warning != nil {
		c.Header("Warning", `199 fno-chain "`+chain.Warning.String()+`"`)
	}
	c.JSON(http.StatusOK, chain)
}

func (s *Server) handleGetCoverage(c *gin.Context) {
	chain, err := s.chains.GetOptionChain(c.Request.Context(), c.Param("ticker"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	resp := coverageResponse{
		Symbol:   chain.Symbol,
		Expiry:   chain.Expiry.Format("2006-01-02"),
		Total:    chain.Coverage.Total,
		Failed:   chain.Coverage.Failed,
		Complete: chain.Coverage.Complete(),
	}
	if chain.Warning != nil {
		resp.FailedStrikes = chain.Warning.FailedStrikes
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRefreshInstruments(c *gin.Context) {
	n, err := s.refresher.Refresh(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": n, "status": s.refresher.Status()})
}

func (s *Server) handleInstrumentStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.refresher.Status())
}

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.Snapshot())
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger := logging.WithRequest(s.log, c.Request.Context())
		logger.Error().Str("error", security.RedactError(err)).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.JSON(status, errorResponse{Error: security.RedactError(err), Code: code})
}

// classify maps a pipeline error to an HTTP status and a stable code.
func classify(err error) (int, string) {
	var validation *apperrors.ValidationError
	switch {
	case errors.As(err, &validation), errors.Is(err, apperrors.ErrConfigInvalid):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperrors.ErrSymbolNotFound), errors.Is(err, apperrors.ErrDataNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		// nginx convention for a client that went away.
		return 499, "cancelled"
	case errors.Is(err, apperrors.ErrRateLimited),
		errors.Is(err, apperrors.ErrSessionExpired),
		errors.Is(err, apperrors.ErrSpotUnavailable),
		isTransport(err):
		return http.StatusBadGateway, "upstream"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func isTransport(err error) bool {
	var te *apperrors.TransportError
	return errors.As(err, &te)
}
