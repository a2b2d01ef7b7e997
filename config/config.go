// Package config loads the process configuration from the environment,
// with optional .env file support for development.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"github.com/podlink/podlink/envelope"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full configuration of the Pod link.  Exactly one of
// PostgresDSN and BoltPath selects the connection store; when both are
// empty an in-memory store is used and connections do not survive a
// restart.
type Config struct {
	// TokenEncryptionKey is the 64-hex-character key protecting stored
	// token bundles.  Mandatory for any encrypt or decrypt call.
	TokenEncryptionKey string `env:"SOLID_TOKEN_ENCRYPTION_KEY"`

	// ClientID is the OAuth2 client identifier registered with providers.
	ClientID string `env:"SOLID_CLIENT_ID"`

	// RedirectURIBase is the application origin the provider redirects
	// back to; the callback path is appended to it.
	RedirectURIBase string `env:"SOLID_REDIRECT_URI_BASE"`

	// ActivityLedgerEnabled switches the append-only activity ledger on.
	ActivityLedgerEnabled bool `env:"SOLID_ACTIVITY_LEDGER_ENABLED" envDefault:"false"`

	// HTTPTimeout bounds each outbound provider and Pod resource call.
	HTTPTimeout time.Duration `env:"SOLID_HTTP_TIMEOUT" envDefault:"10s"`

	// LogLevel is an hclog level name (trace, debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// PostgresDSN selects the PostgreSQL connection store.
	PostgresDSN string `env:"POSTGRES_DSN"`

	// BoltPath selects the local bbolt connection store.
	BoltPath string `env:"BOLT_PATH"`
}

// callbackPath is appended to RedirectURIBase to form the redirect URL.
const callbackPath = "/solid/callback"

// Load reads configuration from a .env file (when present) and the
// environment, then validates it.
func Load() (*Config, error) {
	const op = "config.Load"
	// a missing .env file is not an error; the environment wins anyway
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%s: parsing environment: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	switch {
	case c.TokenEncryptionKey == "":
		result = multierror.Append(result, fmt.Errorf("SOLID_TOKEN_ENCRYPTION_KEY is not set: %w", ErrInvalidConfig))
	case !envelope.ValidateKey(c.TokenEncryptionKey):
		result = multierror.Append(result, fmt.Errorf("SOLID_TOKEN_ENCRYPTION_KEY must be 64 hex characters: %w", ErrInvalidConfig))
	}
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("SOLID_CLIENT_ID is not set: %w", ErrInvalidConfig))
	}
	if c.RedirectURIBase == "" {
		result = multierror.Append(result, fmt.Errorf("SOLID_REDIRECT_URI_BASE is not set: %w", ErrInvalidConfig))
	} else if u, err := url.Parse(c.RedirectURIBase); err != nil || u.Scheme == "" || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("SOLID_REDIRECT_URI_BASE %q is not an absolute URL: %w", c.RedirectURIBase, ErrInvalidConfig))
	}
	if c.PostgresDSN != "" && c.BoltPath != "" {
		result = multierror.Append(result, fmt.Errorf("POSTGRES_DSN and BOLT_PATH are mutually exclusive: %w", ErrInvalidConfig))
	}
	if c.HTTPTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("SOLID_HTTP_TIMEOUT must be positive: %w", ErrInvalidConfig))
	}
	return result.ErrorOrNil()
}

// RedirectURL is the full callback URL registered with providers.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.RedirectURIBase, "/") + callbackPath
}

// Logger builds the process logger from LogLevel.
func (c *Config) Logger(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  name,
		Level: hclog.LevelFromString(c.LogLevel),
	})
}
