package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Policy selects how bearer tokens are turned into identities. It is chosen
// once at process start and never changes afterwards.
type Policy string

const (
	// PolicyRemoteDelegated forwards the token to an external identity service.
	PolicyRemoteDelegated Policy = "remote"
	// PolicyLocalSignatureVerified verifies the token's signature in-process.
	PolicyLocalSignatureVerified Policy = "local"
	// PolicyClaimsOnly trusts the token's claims without checking the
	// signature. Only safe behind a gateway that has already verified it.
	PolicyClaimsOnly Policy = "claims"
)

// ParsePolicy maps a configuration value onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyRemoteDelegated, PolicyLocalSignatureVerified, PolicyClaimsOnly:
		return p, nil
	}
	return "", fmt.Errorf("unknown auth policy %q", s)
}

func (p Policy) String() string { return string(p) }

// Secret is a string that redacts itself when printed, logged or serialized.
type Secret string

const secretRedacted = "[REDACTED]"

func (s Secret) String() string              { return secretRedacted }
func (s Secret) GoString() string            { return secretRedacted }
func (s Secret) LogValue() slog.Value        { return slog.StringValue(secretRedacted) }
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// Value returns the raw secret. Call it only where the key material is needed.
func (s Secret) Value() string { return string(s) }

// DefaultAudience is the audience GoTrue-compatible issuers put on user tokens.
const DefaultAudience = "authenticated"

// Config is the process-wide, read-only configuration of a Resolver.
// Construct it once at startup and hand it to NewResolver; nothing in this
// package keeps configuration in globals.
type Config struct {
	Policy Policy

	// Secret is the shared signing secret. Required for the local and claims
	// policies, even though the claims policy never checks signatures, so that
	// switching policies cannot silently drop key material.
	Secret   Secret
	Audience string // default: DefaultAudience
	Issuer   string // optional "iss" check (local policy)
	Leeway   time.Duration

	// JWKSURL and OIDCIssuer add asymmetric key sources for the local policy.
	JWKSURL    string
	OIDCIssuer string

	// Remote is the identity service used by the remote policy.
	Remote        IdentityService
	RemoteTimeout time.Duration // default 5s

	Logger *slog.Logger
}

// ErrSecretRequired is returned at construction when the selected policy
// needs a signing secret and none was configured.
var ErrSecretRequired = errors.New("auth: signing secret required for policy")

// Normalize fills defaults.
func (c *Config) Normalize() {
	if c.Audience == "" {
		c.Audience = DefaultAudience
	}
	if c.RemoteTimeout == 0 {
		c.RemoteTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate returns an error if required invariants are not met.
func (c Config) Validate() error {
	switch c.Policy {
	case PolicyLocalSignatureVerified, PolicyClaimsOnly:
		if c.Secret.Value() == "" {
			return fmt.Errorf("%w %q", ErrSecretRequired, c.Policy)
		}
	case PolicyRemoteDelegated:
		if c.Remote == nil {
			return errors.New("auth: remote policy requires an identity service")
		}
		if c.RemoteTimeout < 0 {
			return errors.New("auth: remote timeout must not be negative")
		}
	case "":
		return errors.New("auth: policy required")
	default:
		return fmt.Errorf("auth: unknown policy %q", c.Policy)
	}
	if c.Leeway < 0 {
		return errors.New("auth: leeway must not be negative")
	}
	return nil
}
