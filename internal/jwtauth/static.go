package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// newKeyfunc selects verification key material by algorithm family: HMAC
// tokens use the shared secret, everything else goes through the key set.
func newKeyfunc(ctx context.Context, cfg *Config) (jwt.Keyfunc, error) {
	var remote keyfunc.Keyfunc

	jwksURI := cfg.JWKSURL
	if jwksURI == "" && cfg.DiscoveryIssuer != "" {
		discovered, err := discoverJWKS(ctx, cfg.DiscoveryIssuer)
		if err != nil {
			return nil, err
		}
		jwksURI = discovered
	}
	if jwksURI != "" {
		kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
		if err != nil {
			return nil, fmt.Errorf("jwks init failed: %w", err)
		}
		remote = kf
	}

	secret := append([]byte(nil), cfg.Secret...)
	allowed := append([]string(nil), cfg.AllowedAlgs...)

	return func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		if !slices.Contains(allowed, alg) {
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		}
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
			if len(secret) == 0 {
				return nil, errors.New("no shared secret configured")
			}
			return secret, nil
		}
		if remote == nil {
			return nil, fmt.Errorf("no key set configured for alg %s", alg)
		}
		return remote.Keyfunc(t)
	}, nil
}

// discoverJWKS performs OIDC discovery against issuer and returns jwks_uri.
func discoverJWKS(ctx context.Context, issuer string) (string, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return "", errors.New("discovery incomplete: missing jwks_uri")
	}
	return meta.JwksURI, nil
}
