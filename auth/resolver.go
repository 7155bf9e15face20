package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/taskd/internal/jwtauth"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// strategy is one trust model. Exactly one is selected per Resolver.
type strategy interface {
	resolve(ctx context.Context, tok string) (UserInfo, error)
}

// Resolver turns a bearer credential into a trusted identity under the
// policy it was built with. It is immutable and safe for concurrent use.
type Resolver struct {
	policy   Policy
	strategy strategy
	log      *slog.Logger
	tracer   trace.Tracer
}

// NewResolver validates cfg and builds the strategy for cfg.Policy. Key sets
// referenced by URL are kept fresh for as long as ctx is alive.
func NewResolver(ctx context.Context, cfg Config) (*Resolver, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Resolver{
		policy: cfg.Policy,
		log:    cfg.Logger,
		tracer: otel.Tracer("github.com/ggoodman/taskd/auth"),
	}

	switch cfg.Policy {
	case PolicyRemoteDelegated:
		r.strategy = &remoteStrategy{svc: cfg.Remote, timeout: cfg.RemoteTimeout}
	case PolicyLocalSignatureVerified:
		jcfg := jwtauth.DefaultConfig()
		jcfg.Secret = []byte(cfg.Secret.Value())
		jcfg.ExpectedAudience = cfg.Audience
		jcfg.Issuer = cfg.Issuer
		jcfg.Leeway = cfg.Leeway
		jcfg.JWKSURL = cfg.JWKSURL
		jcfg.DiscoveryIssuer = cfg.OIDCIssuer
		v, err := jwtauth.NewVerifier(ctx, jcfg)
		if err != nil {
			return nil, fmt.Errorf("auth: build verifier: %w", err)
		}
		r.strategy = &tokenStrategy{authn: v}
	case PolicyClaimsOnly:
		cfg.Logger.WarnContext(ctx, "auth.policy.claims_only",
			slog.String("detail", "token signatures are not verified; an upstream gateway must verify them"))
		r.strategy = &tokenStrategy{authn: jwtauth.NewClaimsDecoder(cfg.Leeway)}
	}

	return r, nil
}

// Policy reports the policy the resolver was built with.
func (r *Resolver) Policy() Policy { return r.policy }

// Resolve returns the identity asserted by tok. Every failure satisfies
// errors.Is(err, ErrInvalidCredential); the joined cause is for logs only.
func (r *Resolver) Resolve(ctx context.Context, tok string) (UserInfo, error) {
	ctx, span := r.tracer.Start(ctx, "auth.Resolve", trace.WithAttributes(attribute.String("auth.policy", string(r.policy))))
	defer span.End()

	var (
		ui  UserInfo
		err error
	)
	if tok == "" {
		err = errors.New("empty credential")
	} else {
		ui, err = r.strategy.resolve(ctx, tok)
	}
	if err == nil && (ui == nil || ui.UserID() == "") {
		err = errors.New("resolved identity has no user id")
	}
	if err != nil {
		r.log.InfoContext(ctx, "auth.resolve.fail", slog.String("policy", string(r.policy)), slog.String("err", err.Error()))
		span.SetStatus(codes.Error, "invalid credential")
		return nil, errors.Join(ErrInvalidCredential, err)
	}

	span.SetAttributes(attribute.String("auth.user_id", ui.UserID()))
	return ui, nil
}

type tokenStrategy struct {
	authn jwtauth.Authenticator
}

func (s *tokenStrategy) resolve(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := s.authn.CheckAuthentication(ctx, tok)
	if err != nil {
		return nil, err
	}
	return ui, nil
}

type remoteStrategy struct {
	svc     IdentityService
	timeout time.Duration
}

func (s *remoteStrategy) resolve(ctx context.Context, tok string) (UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.svc.LookupUser(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("remote lookup: %w", err)
	}
	id, err := UserIDFrom(resp)
	if err != nil {
		return nil, err
	}
	if err := s.svc.BindSession(ctx, SessionBinding{Token: tok, UserID: id, Response: resp}); err != nil {
		return nil, fmt.Errorf("session binding: %w", err)
	}
	return remoteUser{id: id, resp: resp}, nil
}
