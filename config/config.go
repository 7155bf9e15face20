// Package config loads taskd settings from the environment. A .env file is
// read first when present; real environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ggoodman/taskd/auth"
	sessionredis "github.com/ggoodman/taskd/sessionstore/redis"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Session binding backends.
const (
	SessionsMemory = "memory"
	SessionsRedis  = "redis"
)

// Remote identity providers.
const (
	ProviderGoTrue = "gotrue"
	ProviderKratos = "kratos"
)

type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR,default=:8000"`
	MetricsAddr string `env:"METRICS_ADDR"`
	// PublicURL enables protected resource metadata when set.
	PublicURL   string `env:"PUBLIC_URL"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	LogFormat   string `env:"LOG_FORMAT,default=json"`

	Auth      AuthConfig
	Store     StoreConfig
	Sessions  SessionsConfig
	RateLimit RateLimitConfig
}

type AuthConfig struct {
	// Policy is one of remote, local or claims.
	Policy   string        `env:"AUTH_POLICY,default=local"`
	Secret   auth.Secret   `env:"AUTH_JWT_SECRET"`
	Audience string        `env:"AUTH_JWT_AUDIENCE,default=authenticated"`
	Issuer   string        `env:"AUTH_JWT_ISSUER"`
	Leeway   time.Duration `env:"AUTH_JWT_LEEWAY,default=30s"`

	JWKSURL    string `env:"AUTH_JWKS_URL"`
	OIDCIssuer string `env:"AUTH_OIDC_ISSUER"`

	RemoteProvider string        `env:"AUTH_REMOTE_PROVIDER,default=gotrue"`
	RemoteURL      string        `env:"AUTH_REMOTE_URL"`
	RemoteAPIKey   auth.Secret   `env:"AUTH_REMOTE_API_KEY"`
	RemoteAdminURL string        `env:"AUTH_REMOTE_ADMIN_URL"`
	RemoteTimeout  time.Duration `env:"AUTH_REMOTE_TIMEOUT,default=5s"`
}

type StoreConfig struct {
	Driver      string        `env:"STORE_DRIVER,default=postgres"`
	DatabaseURL auth.Secret   `env:"DATABASE_URL"`
	Timeout     time.Duration `env:"STORE_TIMEOUT,default=5s"`
	MaxConns    int32         `env:"STORE_MAX_CONNS,default=10"`
}

type SessionsConfig struct {
	Backend  string `env:"SESSIONS_BACKEND,default=memory"`
	MaxItems int    `env:"SESSIONS_MAX_ITEMS,default=10000"`
	Redis    sessionredis.Config
}

type RateLimitConfig struct {
	// RPS of zero disables rate limiting.
	RPS   float64 `env:"RATE_LIMIT_RPS,default=0"`
	Burst int     `env:"RATE_LIMIT_BURST,default=20"`
}

// Load reads envFile (".env" when empty) if it exists, then decodes the
// environment. It does not validate.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: decode environment: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	policy, err := auth.ParsePolicy(c.Auth.Policy)
	if err != nil {
		errs = append(errs, err)
	}
	switch policy {
	case auth.PolicyLocalSignatureVerified, auth.PolicyClaimsOnly:
		if c.Auth.Secret == "" {
			errs = append(errs, fmt.Errorf("AUTH_JWT_SECRET: %w", auth.ErrSecretRequired))
		}
	case auth.PolicyRemoteDelegated:
		if c.Auth.RemoteURL == "" {
			errs = append(errs, errors.New("AUTH_REMOTE_URL is required for the remote policy"))
		}
		switch c.Auth.RemoteProvider {
		case ProviderGoTrue, ProviderKratos:
		default:
			errs = append(errs, fmt.Errorf("AUTH_REMOTE_PROVIDER %q is not one of gotrue, kratos", c.Auth.RemoteProvider))
		}
		if c.Auth.RemoteTimeout <= 0 {
			errs = append(errs, errors.New("AUTH_REMOTE_TIMEOUT must be positive"))
		}
	}
	if c.Auth.Leeway < 0 {
		errs = append(errs, errors.New("AUTH_JWT_LEEWAY must not be negative"))
	}

	switch c.Store.Driver {
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
		if c.Store.MaxConns <= 0 {
			errs = append(errs, errors.New("STORE_MAX_CONNS must be positive"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of postgres, memory", c.Store.Driver))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}

	switch c.Sessions.Backend {
	case SessionsMemory:
		if c.Sessions.MaxItems <= 0 {
			errs = append(errs, errors.New("SESSIONS_MAX_ITEMS must be positive"))
		}
	case SessionsRedis:
	default:
		errs = append(errs, fmt.Errorf("SESSIONS_BACKEND %q is not one of memory, redis", c.Sessions.Backend))
	}

	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative"))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst == 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be positive when rate limiting is enabled"))
	}

	if _, err := c.LogHandler(io.Discard); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// LogHandler builds the slog handler selected by LOG_FORMAT and LOG_LEVEL.
func (c *Config) LogHandler(w io.Writer) (slog.Handler, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.LogFormat) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	}
	return nil, fmt.Errorf("LOG_FORMAT %q is not one of json, text", c.LogFormat)
}

// ResolverConfig returns the resolver configuration. Remote and Logger are left
// for the caller to fill in.
func (c *Config) ResolverConfig() auth.Config {
	policy, _ := auth.ParsePolicy(c.Auth.Policy)
	return auth.Config{
		Policy:        policy,
		Secret:        c.Auth.Secret,
		Audience:      c.Auth.Audience,
		Issuer:        c.Auth.Issuer,
		Leeway:        c.Auth.Leeway,
		JWKSURL:       c.Auth.JWKSURL,
		OIDCIssuer:    c.Auth.OIDCIssuer,
		RemoteTimeout: c.Auth.RemoteTimeout,
	}
}
