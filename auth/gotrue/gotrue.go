// Package gotrue implements auth.IdentityService against a GoTrue-compatible
// auth API (the user endpoint served by Supabase Auth and self-hosted GoTrue).
package gotrue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/taskd/auth"
	"github.com/ggoodman/taskd/sessionstore"
	"github.com/golang-jwt/jwt/v5"
)

// ErrRejected is returned when the auth API refuses the token.
var ErrRejected = errors.New("gotrue: token rejected")

const maxUserBody = 1 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the auth API root, e.g. https://<project>.supabase.co/auth/v1.
	BaseURL string
	// APIKey is sent as the "apikey" header. Supabase requires the anon key.
	APIKey auth.Secret
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
	// Sessions records bound sessions. Required.
	Sessions sessionstore.Store
	Logger   *slog.Logger
}

// Client talks to the auth API. It is safe for concurrent use.
type Client struct {
	base     string
	apiKey   auth.Secret
	hc       *http.Client
	sessions sessionstore.Store
	log      *slog.Logger
	parser   *jwt.Parser
	now      func() time.Time
}

var _ auth.IdentityService = (*Client)(nil)

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gotrue: base url is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("gotrue: session store is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		hc:       hc,
		sessions: cfg.Sessions,
		log:      log,
		parser:   jwt.NewParser(),
		now:      time.Now,
	}, nil
}

// LookupUser fetches the user owning tok. The body is returned undecoded.
func (c *Client) LookupUser(ctx context.Context, tok string) (auth.UserResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("gotrue: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	if key := c.apiKey.Value(); key != "" {
		req.Header.Set("apikey", key)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gotrue: get user: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxUserBody))
	if err != nil {
		return nil, fmt.Errorf("gotrue: read user: %w", err)
	}

	switch {
	case res.StatusCode == http.StatusOK:
		return auth.RawUser(body), nil
	case res.StatusCode == http.StatusUnauthorized, res.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, res.StatusCode)
	default:
		return nil, fmt.Errorf("gotrue: get user: unexpected status %d", res.StatusCode)
	}
}

// sessionClaims are the parts of a GoTrue access token read during binding.
type sessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// BindSession establishes a session for b.Token. No refresh token is ever
// available, so the session lasts until the access token expires: expired or
// exp-less tokens cannot be bound. The user is re-confirmed with the auth API
// before the binding is recorded.
func (c *Client) BindSession(ctx context.Context, b auth.SessionBinding) error {
	var claims sessionClaims
	// The auth API verified the signature during lookup.
	if _, _, err := c.parser.ParseUnverified(b.Token, &claims); err != nil {
		return fmt.Errorf("gotrue: decode token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return errors.New("gotrue: token has no expiry")
	}
	now := c.now()
	exp := claims.ExpiresAt.Time
	if !now.Before(exp) {
		return errors.New("gotrue: token expired")
	}

	digest := sessionstore.Digest(b.Token)
	existing, err := c.sessions.Get(ctx, b.UserID, digest)
	if err != nil {
		return fmt.Errorf("gotrue: load binding: %w", err)
	}
	if existing != nil {
		c.log.DebugContext(ctx, "gotrue.bind.reuse", slog.String("user_id", b.UserID))
		return nil
	}

	resp, err := c.LookupUser(ctx, b.Token)
	if err != nil {
		return fmt.Errorf("gotrue: confirm user: %w", err)
	}
	id, err := auth.UserIDFrom(resp)
	if err != nil {
		return fmt.Errorf("gotrue: confirm user: %w", err)
	}
	if id != b.UserID {
		return fmt.Errorf("gotrue: confirm user: got %q, want %q", id, b.UserID)
	}

	err = c.sessions.Put(ctx, sessionstore.Binding{
		TokenDigest: digest,
		UserID:      b.UserID,
		SessionID:   claims.SessionID,
		Provider:    "gotrue",
		BoundAt:     now,
		ExpiresAt:   exp,
	})
	if err != nil {
		return fmt.Errorf("gotrue: record binding: %w", err)
	}
	c.log.DebugContext(ctx, "gotrue.bind.ok", slog.String("user_id", b.UserID), slog.Time("expires_at", exp))
	return nil
}
