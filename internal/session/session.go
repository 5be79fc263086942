// Package session owns the single authenticated gateway session of the
// process: lazy login, renewal, invalidation and revocation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"fno-chain/internal/broker"
	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/logging"
	"fno-chain/internal/metrics"
	"fno-chain/internal/models"
	"fno-chain/internal/security"
	"fno-chain/pkg/utils"
)

// State is the lifecycle state of the managed session.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Active
	Expired
	Revoked
)

var allStates = []string{"unauthenticated", "authenticating", "active", "expired", "revoked"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(allStates) {
		return allStates[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Cache persists the session between process restarts.
// security.TokenVault satisfies it.
type Cache interface {
	Save(*models.Session) error
	Load() (*models.Session, error)
	Clear() error
}

// Config configures a Manager.
type Config struct {
	Credentials models.Credentials
	// RenewAhead re-authenticates this long before the reported expiry.
	RenewAhead   time.Duration
	LoginTimeout time.Duration
	Clock        utils.Clock
	Cache        Cache
	Logger       zerolog.Logger
}

// Info is a token-free view of the session for status output.
type Info struct {
	Provider   string    `json:"provider"`
	State      string    `json:"state"`
	ClientCode string    `json:"client_code,omitempty"`
	IssuedAt   time.Time `json:"issued_at,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Token      string    `json:"token,omitempty"` // masked
}

// Manager hands out a valid session, logging in at most once at a time.
type Manager struct {
	gateway broker.Gateway
	cfg     Config
	logger  zerolog.Logger

	mu      sync.RWMutex
	session *models.Session
	state   State

	group singleflight.Group
}

// NewManager creates a Manager. A still-valid cached session is adopted
// without a login.
func NewManager(gateway broker.Gateway, cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 20 * time.Second
	}

	m := &Manager{
		gateway: gateway,
		cfg:     cfg,
		logger:  logging.WithComponent(cfg.Logger, "session"),
		state:   Unauthenticated,
	}
	m.warm()
	m.publish()
	return m
}

func (m *Manager) warm() {
	if m.cfg.Cache == nil {
		return
	}
	cached, err := m.cfg.Cache.Load()
	switch {
	case errors.Is(err, security.ErrNoCachedSession):
		return
	case err != nil:
		m.logger.Warn().Err(err).Msg("Ignoring unreadable session cache")
		return
	}
	if !m.usable(cached) {
		m.logger.Debug().Time("expires_at", cached.ExpiresAt).Msg("Cached session too close to expiry")
		return
	}
	m.session = cached
	m.state = Active
	m.logger.Info().Time("expires_at", cached.ExpiresAt).Msg("Reusing cached session")
}

func (m *Manager) usable(s *models.Session) bool {
	return s.ValidAt(m.cfg.Clock.Now().Add(m.cfg.RenewAhead))
}

// current returns the active session if it is still usable.
func (m *Manager) current() *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == Active && m.usable(m.session) {
		return m.session
	}
	return nil
}

// EnsureSession returns a usable session, authenticating first if needed.
// Concurrent callers share one login attempt. The attempt itself is not
// bound to ctx: a caller that gives up does not abort it for the others.
func (m *Manager) EnsureSession(ctx context.Context) (*models.Session, error) {
	if s := m.current(); s != nil {
		return s, nil
	}

	ch := m.group.DoChan("login", func() (interface{}, error) {
		if s := m.current(); s != nil {
			return s, nil
		}
		return m.login()
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Session), nil
	}
}

func (m *Manager) login() (*models.Session, error) {
	m.setState(Authenticating)

	req := models.LoginRequest{Credentials: m.cfg.Credentials}
	if secret := m.cfg.Credentials.TOTPSecret; secret != "" {
		code, err := totp.GenerateCode(secret, m.cfg.Clock.Now())
		if err != nil {
			err = apperrors.NewAuthError(m.gateway.Name(), "generating TOTP", err)
			m.fail(err)
			return nil, err
		}
		req.TOTP = code
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LoginTimeout)
	defer cancel()

	start := time.Now()
	s, err := m.gateway.Login(ctx, req)
	logging.LogAPICall(m.logger, "POST", "login", time.Since(start), err)
	if err != nil {
		var authErr *apperrors.AuthError
		if !errors.As(err, &authErr) {
			err = apperrors.NewAuthError(m.gateway.Name(), "login failed", err)
		}
		m.fail(err)
		return nil, err
	}

	m.mu.Lock()
	m.session = s
	m.state = Active
	m.mu.Unlock()
	m.publish()

	metrics.RecordLogin(m.gateway.Name(), nil)
	logging.LogLogin(m.logger, m.gateway.Name(), s.ClientCode, s.ExpiresAt, nil)

	if m.cfg.Cache != nil {
		if err := m.cfg.Cache.Save(s); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to cache session")
		}
	}
	return s, nil
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.session = nil
	m.state = Unauthenticated
	m.mu.Unlock()
	m.publish()

	metrics.RecordLogin(m.gateway.Name(), err)
	logging.LogLogin(m.logger, m.gateway.Name(), m.cfg.Credentials.ClientCode, time.Time{}, err)
}

// Invalidate marks the session expired after the gateway rejected token.
// Reports about a token that has since been replaced are ignored.
func (m *Manager) Invalidate(token string) {
	m.mu.Lock()
	if m.session == nil || m.session.AuthToken != token || m.state != Active {
		m.mu.Unlock()
		return
	}
	m.state = Expired
	m.mu.Unlock()
	m.publish()

	m.logger.Info().Msg("Session invalidated by gateway")
	if m.cfg.Cache != nil {
		if err := m.cfg.Cache.Clear(); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to clear session cache")
		}
	}
}

// Revoke logs out at the gateway and drops the session. The local session is
// dropped even when the gateway call fails.
func (m *Manager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.state = Revoked
	m.mu.Unlock()
	m.publish()

	var err error
	if s != nil {
		err = m.gateway.Logout(ctx, s)
	}
	if m.cfg.Cache != nil {
		if cerr := m.cfg.Cache.Clear(); cerr != nil {
			m.logger.Warn().Err(cerr).Msg("Failed to clear session cache")
		}
	}
	if err != nil {
		return apperrors.Wrap(err, "logout")
	}
	m.logger.Info().Msg("Session revoked")
	return nil
}

// State returns the lifecycle state. An active session past its expiry
// reports Expired.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == Active && !m.session.ValidAt(m.cfg.Clock.Now()) {
		return Expired
	}
	return m.state
}

// Snapshot returns the session status without the token.
func (m *Manager) Snapshot() Info {
	state := m.State()

	m.mu.RLock()
	defer m.mu.RUnlock()
	info := Info{Provider: m.gateway.Name(), State: state.String()}
	if m.session != nil {
		info.ClientCode = m.session.ClientCode
		info.IssuedAt = m.session.IssuedAt
		info.ExpiresAt = m.session.ExpiresAt
		info.Token = security.MaskCredential(m.session.AuthToken)
	}
	return info
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.publish()
}

func (m *Manager) publish() {
	metrics.SetSessionState(m.State().String(), allStates)
}
