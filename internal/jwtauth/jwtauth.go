package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for tokens verified in-process.
// A shared HMAC secret, a JWKS URL or an OIDC discovery issuer must be set;
// they may be combined so that a deployment migrating to asymmetric keys
// keeps accepting tokens signed with the shared secret.
type Config struct {
	// Secret is the shared HMAC key used for HS* algorithms.
	Secret []byte
	// ExpectedAudience must be contained in the token's "aud" claim.
	ExpectedAudience string
	// Issuer, when set, must equal the token's "iss" claim.
	Issuer string
	// AllowedAlgs defaults to HS256 when only a secret is configured, and adds
	// RS256 and ES256 when a key set is configured. "none" is never allowed.
	AllowedAlgs []string
	Leeway      time.Duration
	// JWKSURL points at a JSON Web Key Set used for asymmetric algorithms.
	JWKSURL string
	// DiscoveryIssuer resolves the key set through OpenID Connect discovery
	// when JWKSURL is empty.
	DiscoveryIssuer string
}

// DefaultConfig returns a Config with safe defaults for audience and leeway.
func DefaultConfig() *Config {
	return &Config{
		ExpectedAudience: "authenticated",
		Leeway:           30 * time.Second,
	}
}

func (c *Config) hasKeySet() bool { return c.JWKSURL != "" || c.DiscoveryIssuer != "" }

func (c *Config) defaultAlgs() []string {
	var algs []string
	if len(c.Secret) > 0 {
		algs = append(algs, "HS256")
	}
	if c.hasKeySet() {
		algs = append(algs, "RS256", "ES256")
	}
	return algs
}

// UserInfo is the internal user claims carrier for accepted tokens.
// It mirrors the minimal contract needed by the public auth package.
type UserInfo interface {
	UserID() string
	Claims(ref any) error
}

type userInfo struct {
	sub    string
	claims map[string]any
}

func (u *userInfo) UserID() string { return u.sub }
func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Authenticator turns a raw token into a UserInfo.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// ErrUnauthorized indicates that the token failed validation (signature,
// audience, issuer, exp, decode or subject) and the request should be treated
// as unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// Verifier validates signed tokens against the configured key material.
type Verifier struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// NewVerifier builds a Verifier. Key sets referenced by URL are fetched and
// kept fresh in the background for as long as ctx is alive.
func NewVerifier(ctx context.Context, cfg *Config) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(cfg.Secret) == 0 && !cfg.hasKeySet() {
		return nil, errors.New("a shared secret or key set is required")
	}
	if cfg.ExpectedAudience == "" {
		return nil, errors.New("expected audience is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = cfg.defaultAlgs()
	}
	for _, alg := range cfg.AllowedAlgs {
		if alg == "none" {
			return nil, errors.New(`alg "none" cannot be allowed`)
		}
	}

	kf, err := newKeyfunc(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(cfg.ExpectedAudience),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Verifier{cfg: cfg, keyfunc: kf, parser: jwt.NewParser(opts...)}, nil
}

// CheckAuthentication verifies signature, expiry, audience (and issuer when
// configured) and returns the subject.
func (v *Verifier) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parsed, err := v.parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}

	return subjectOf(claims)
}

func subjectOf(claims jwt.MapClaims) (*userInfo, error) {
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return &userInfo{sub: sub, claims: claims}, nil
}

var (
	_ Authenticator = (*Verifier)(nil)
	_ Authenticator = (*ClaimsDecoder)(nil)
)
