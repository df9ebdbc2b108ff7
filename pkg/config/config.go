// Package config loads the broker configuration from the environment.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/go-training/cms-oauth/pkg/store"
)

// Config is the full runtime configuration. It is built once at startup
// and passed explicitly to every handler.
type Config struct {
	Addr     string `env:"ADDR"      envDefault:":8080"`
	Env      string `env:"ENV"       envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL"`

	ClientID      string `env:"GITHUB_CLIENT_ID,required"`
	ClientSecret  string `env:"GITHUB_CLIENT_SECRET,required"`
	RedirectURI   string `env:"OAUTH_REDIRECT_URI,required"`
	Scope         string `env:"OAUTH_SCOPE"       envDefault:"repo,user"`
	Provider      string `env:"OAUTH_PROVIDER"    envDefault:"github"`
	GitHubBaseURL string `env:"GITHUB_BASE_URL"   envDefault:"https://github.com"`

	// FallbackDelay bounds how long the popup waits for the opener's ack.
	FallbackDelay   time.Duration `env:"OAUTH_FALLBACK_DELAY"   envDefault:"800ms"`
	ExchangeTimeout time.Duration `env:"OAUTH_EXCHANGE_TIMEOUT" envDefault:"30s"`

	StateSecret  string        `env:"OAUTH_STATE_SECRET"`
	StateTTL     time.Duration `env:"OAUTH_STATE_TTL"     envDefault:"10m"`
	CookieSecure bool          `env:"OAUTH_COOKIE_SECURE" envDefault:"true"`

	StoreType     string `env:"STORE_TYPE"     envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`

	// MaxPendingStates caps in-flight authorizations held by the memory store.
	MaxPendingStates int `env:"STORE_MAX_PENDING" envDefault:"10000"`

	// RateLimit is the sustained GET /api/auth rate allowed per client IP,
	// in requests per second. Zero disables the limiter.
	RateLimit float64 `env:"OAUTH_RATE_LIMIT" envDefault:"1"`
	RateBurst int     `env:"OAUTH_RATE_BURST" envDefault:"10"`

	// generatedSecret is set when StateSecret was empty and a random key
	// was produced for this process.
	generatedSecret bool
}

// Load reads the configuration from the process environment and validates it.
func Load() (*Config, error) {
	return LoadFrom(nil)
}

// LoadFrom is Load with an explicit environment map. A nil map reads the
// process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.StateSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.StateSecret = secret
		cfg.generatedSecret = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the env parser cannot.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ClientID) == "" {
		errs = append(errs, errors.New("GITHUB_CLIENT_ID is required"))
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		errs = append(errs, errors.New("GITHUB_CLIENT_SECRET is required"))
	}
	if u, err := url.Parse(c.RedirectURI); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("OAUTH_REDIRECT_URI must be an absolute URL, got %q", c.RedirectURI))
	}
	if u, err := url.Parse(c.GitHubBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("GITHUB_BASE_URL must be an absolute URL, got %q", c.GitHubBaseURL))
	}
	if c.Provider == "" || strings.Contains(c.Provider, ":") {
		errs = append(errs, fmt.Errorf("OAUTH_PROVIDER must be non-empty and contain no colon, got %q", c.Provider))
	}
	if c.FallbackDelay <= 0 {
		errs = append(errs, errors.New("OAUTH_FALLBACK_DELAY must be positive"))
	}
	if c.ExchangeTimeout <= 0 {
		errs = append(errs, errors.New("OAUTH_EXCHANGE_TIMEOUT must be positive"))
	}
	if c.StateTTL <= 0 {
		errs = append(errs, errors.New("OAUTH_STATE_TTL must be positive"))
	}
	if len(c.StateSecret) < 32 {
		errs = append(errs, errors.New("OAUTH_STATE_SECRET must be at least 32 bytes"))
	}
	if c.MaxPendingStates <= 0 {
		errs = append(errs, errors.New("STORE_MAX_PENDING must be positive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("OAUTH_RATE_LIMIT must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		errs = append(errs, errors.New("OAUTH_RATE_BURST must be positive when rate limiting is enabled"))
	}
	if !store.ParseStoreType(c.StoreType).IsValid() {
		errs = append(errs, fmt.Errorf("STORE_TYPE must be memory or redis, got %q", c.StoreType))
	}

	return errors.Join(errs...)
}

// Production reports whether ENV=production.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// GeneratedStateSecret reports whether the state signing key was generated
// at startup. Such a key does not survive restarts and is not shared
// between replicas.
func (c *Config) GeneratedStateSecret() bool {
	return c.generatedSecret
}

// Store returns the state store configuration.
func (c *Config) Store() store.Config {
	return store.Config{
		Type: store.ParseStoreType(c.StoreType),
		Redis: store.RedisOptions{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		},
		MaxFlowStates: c.MaxPendingStates,
	}
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state secret: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}
