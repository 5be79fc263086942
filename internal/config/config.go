// Package config provides configuration management for the option-chain service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

// Supported quote gateways.
const (
	ProviderAngelOne = "angelone"
	ProviderKite     = "kite"
	ProviderPaper    = "paper"
)

// Config holds all application configuration.
type Config struct {
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"`
	Chain       ChainConfig       `mapstructure:"chain"`
	Session     SessionConfig     `mapstructure:"session"`
	Instruments InstrumentsConfig `mapstructure:"instruments"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Paper       PaperConfig       `mapstructure:"paper"`
	Credentials Credentials       `mapstructure:"-"` // Loaded separately
}

// GatewayConfig selects and addresses the upstream quote gateway.
type GatewayConfig struct {
	Provider       string        `mapstructure:"provider"` // angelone, kite, paper
	BaseURL        string        `mapstructure:"base_url"`
	ScripMasterURL string        `mapstructure:"scrip_master_url"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	ClientLocalIP  string        `mapstructure:"client_local_ip"`
	ClientPublicIP string        `mapstructure:"client_public_ip"`
	MACAddress     string        `mapstructure:"mac_address"`
}

// FetcherConfig holds the batching, pacing and retry policy for quotes.
type FetcherConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	Pacing         time.Duration `mapstructure:"pacing"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RetryConfig converts the fetcher policy into a backoff configuration.
func (f FetcherConfig) RetryConfig() utils.RetryConfig {
	return utils.RetryConfig{
		MaxAttempts:   f.MaxAttempts,
		InitialDelay:  f.BaseDelay,
		MaxDelay:      f.MaxDelay,
		BackoffFactor: f.BackoffFactor,
	}
}

// ChainConfig holds option-chain shaping and pricing parameters.
type ChainConfig struct {
	StrikesEachSide int     `mapstructure:"strikes_each_side"`
	RiskFreeRate    float64 `mapstructure:"risk_free_rate"`
	ATMTieTolerance float64 `mapstructure:"atm_tie_tolerance"` // relative to spot
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	RenewAhead   time.Duration `mapstructure:"renew_ahead"`
	LoginTimeout time.Duration `mapstructure:"login_timeout"`
	CacheEnabled bool          `mapstructure:"cache_enabled"`
	CachePath    string        `mapstructure:"cache_path"`
}

// InstrumentsConfig holds instrument master storage settings.
type InstrumentsConfig struct {
	DBPath          string        `mapstructure:"db_path"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// PaperConfig drives the simulated gateway.
type PaperConfig struct {
	Seed         int64   `mapstructure:"seed"`
	ThrottleRate float64 `mapstructure:"throttle_rate"`
}

// Credentials holds API credentials.
type Credentials struct {
	AngelOne AngelOneCredentials `mapstructure:"angelone"`
	Kite     KiteCredentials     `mapstructure:"kite"`
	// Passphrase unlocks the encrypted session cache.
	Passphrase string `mapstructure:"passphrase"`
}

// AngelOneCredentials holds SmartAPI credentials.
type AngelOneCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	ClientCode string `mapstructure:"client_code"`
	Password   string `mapstructure:"password"` // trading PIN
	TOTPSecret string `mapstructure:"totp_secret"`
}

// KiteCredentials holds Kite Connect credentials.
type KiteCredentials struct {
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	UserID       string `mapstructure:"user_id"`
	RequestToken string `mapstructure:"request_token"`
}

// For returns the credential set of provider.
func (c Credentials) For(provider string) models.Credentials {
	switch provider {
	case ProviderAngelOne:
		return models.Credentials{
			APIKey:     c.AngelOne.APIKey,
			ClientCode: c.AngelOne.ClientCode,
			Password:   c.AngelOne.Password,
			TOTPSecret: c.AngelOne.TOTPSecret,
		}
	case ProviderKite:
		return models.Credentials{
			APIKey:       c.Kite.APIKey,
			APISecret:    c.Kite.APISecret,
			ClientCode:   c.Kite.UserID,
			RequestToken: c.Kite.RequestToken,
		}
	default:
		return models.Credentials{ClientCode: "PAPER"}
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/fno-chain"
	}
	return filepath.Join(home, ".config", "fno-chain")
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("gateway.provider", ProviderAngelOne)
	v.SetDefault("gateway.base_url", "https://apiconnect.angelone.in")
	v.SetDefault("gateway.scrip_master_url", "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json")
	v.SetDefault("gateway.http_timeout", "30s")
	v.SetDefault("gateway.client_local_ip", "127.0.0.1")
	v.SetDefault("gateway.client_public_ip", "127.0.0.1")
	v.SetDefault("gateway.mac_address", "00:00:00:00:00:00")

	v.SetDefault("fetcher.batch_size", 4)
	v.SetDefault("fetcher.pacing", "250ms")
	v.SetDefault("fetcher.max_attempts", 4)
	v.SetDefault("fetcher.base_delay", "1s")
	v.SetDefault("fetcher.max_delay", "8s")
	v.SetDefault("fetcher.backoff_factor", 2.0)
	v.SetDefault("fetcher.attempt_timeout", "10s")
	v.SetDefault("fetcher.request_timeout", "60s")

	v.SetDefault("chain.strikes_each_side", 8)
	v.SetDefault("chain.risk_free_rate", 0.0525)
	v.SetDefault("chain.atm_tie_tolerance", 1e-9)

	v.SetDefault("session.renew_ahead", "5m")
	v.SetDefault("session.login_timeout", "20s")
	v.SetDefault("session.cache_enabled", false)
	v.SetDefault("session.cache_path", filepath.Join(configDir, "session.enc"))

	v.SetDefault("instruments.db_path", filepath.Join(configDir, "instruments.db"))
	v.SetDefault("instruments.refresh_interval", "24h")
	v.SetDefault("instruments.max_age", "20h")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "90s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "fnochain.log"))

	v.SetDefault("paper.seed", 42)
	v.SetDefault("paper.throttle_rate", 0.0)
}

// Default returns the built-in configuration rooted at configDir.
func Default(configDir string) *Config {
	v := viper.New()
	setDefaults(v, configDir)
	cfg := &Config{}
	// Defaults are static and always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files are
// replaced by commented templates and the built-in defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		if err := writeTemplate(configDir, "config.toml", configTemplate, 0644); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		// Restricted permissions for the credentials file.
		return writeTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	// Angel One credentials
	if v := os.Getenv("ANGEL_ONE_API_KEY"); v != "" {
		cfg.Credentials.AngelOne.APIKey = v
	}
	if v := os.Getenv("ANGEL_ONE_CLIENT_CODE"); v != "" {
		cfg.Credentials.AngelOne.ClientCode = v
	}
	if v := os.Getenv("ANGEL_ONE_PASSWORD"); v != "" {
		cfg.Credentials.AngelOne.Password = v
	}
	if v := os.Getenv("ANGEL_ONE_TOTP_SECRET"); v != "" {
		cfg.Credentials.AngelOne.TOTPSecret = v
	}

	// Kite credentials
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_API_SECRET"); v != "" {
		cfg.Credentials.Kite.APISecret = v
	}
	if v := os.Getenv("KITE_REQUEST_TOKEN"); v != "" {
		cfg.Credentials.Kite.RequestToken = v
	}

	if v := os.Getenv("FNOCHAIN_PROVIDER"); v != "" {
		cfg.Gateway.Provider = strings.ToLower(v)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Gateway.Provider {
	case ProviderAngelOne, ProviderKite, ProviderPaper:
	default:
		return apperrors.NewValidationError("gateway.provider", c.Gateway.Provider, "must be angelone, kite or paper")
	}

	f := c.Fetcher
	if f.BatchSize < 1 {
		return apperrors.NewValidationError("fetcher.batch_size", f.BatchSize, "must be at least 1")
	}
	if f.Pacing < 0 {
		return apperrors.NewValidationError("fetcher.pacing", f.Pacing, "must be non-negative")
	}
	if f.MaxAttempts < 1 {
		return apperrors.NewValidationError("fetcher.max_attempts", f.MaxAttempts, "must be at least 1")
	}
	if f.BaseDelay <= 0 || f.MaxDelay < f.BaseDelay {
		return apperrors.NewValidationError("fetcher.max_delay", f.MaxDelay, "must be positive and not below base_delay")
	}
	if f.BackoffFactor < 1 {
		return apperrors.NewValidationError("fetcher.backoff_factor", f.BackoffFactor, "must be at least 1")
	}
	if f.AttemptTimeout <= 0 || f.RequestTimeout <= 0 {
		return apperrors.NewValidationError("fetcher.request_timeout", f.RequestTimeout, "timeouts must be positive")
	}

	if c.Chain.StrikesEachSide < 1 {
		return apperrors.NewValidationError("chain.strikes_each_side", c.Chain.StrikesEachSide, "must be at least 1")
	}
	if c.Chain.ATMTieTolerance < 0 || c.Chain.ATMTieTolerance >= 0.5 {
		return apperrors.NewValidationError("chain.atm_tie_tolerance", c.Chain.ATMTieTolerance, "must be in [0, 0.5)")
	}
	if c.Session.LoginTimeout <= 0 {
		return apperrors.NewValidationError("session.login_timeout", c.Session.LoginTimeout, "must be positive")
	}

	return nil
}

// IsPaperMode returns true if the simulated gateway is selected.
func (c *Config) IsPaperMode() bool {
	return c.Gateway.Provider == ProviderPaper
}
