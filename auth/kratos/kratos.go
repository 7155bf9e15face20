// Package kratos implements auth.IdentityService on top of Ory Kratos.
// Bearer tokens are Kratos session tokens; lookup goes through the frontend
// API and session binding extends the session through the admin API.
package kratos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/taskd/auth"
	"github.com/ggoodman/taskd/sessionstore"
	kratos "github.com/ory/kratos-client-go"
)

// ErrRejected is returned when Kratos refuses the session token.
var ErrRejected = errors.New("kratos: session token rejected")

// Config configures a Client.
type Config struct {
	PublicURL string
	// AdminURL enables session extension on bind. Optional.
	AdminURL   string
	HTTPClient *http.Client
	// Sessions records bound sessions. Required.
	Sessions sessionstore.Store
	Logger   *slog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	public   *kratos.APIClient
	admin    *kratos.APIClient
	sessions sessionstore.Store
	log      *slog.Logger
	now      func() time.Time
}

var _ auth.IdentityService = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.PublicURL == "" {
		return nil, errors.New("kratos: public url is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("kratos: session store is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		public:   newAPIClient(cfg.PublicURL, hc),
		sessions: cfg.Sessions,
		log:      log,
		now:      time.Now,
	}
	if cfg.AdminURL != "" {
		c.admin = newAPIClient(cfg.AdminURL, hc)
	}
	return c, nil
}

func newAPIClient(url string, hc *http.Client) *kratos.APIClient {
	conf := kratos.NewConfiguration()
	conf.Servers = []kratos.ServerConfiguration{{URL: url}}
	conf.HTTPClient = hc
	conf.DefaultHeader = map[string]string{"Accept": "application/json"}
	return kratos.NewAPIClient(conf)
}

// LookupUser resolves a session token via whoami. Inactive sessions and
// sessions without an identity are reported as auth.Unresolvable.
func (c *Client) LookupUser(ctx context.Context, tok string) (auth.UserResponse, error) {
	session, resp, err := c.public.FrontendAPI.ToSession(ctx).XSessionToken(tok).Execute()
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
			}
			return nil, fmt.Errorf("kratos: whoami returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("kratos: whoami: %w", err)
	}

	if session.Active != nil && !*session.Active {
		if session.Identity != nil {
			c.forget(ctx, session.Identity.Id, tok)
		}
		return auth.Unresolvable{Reason: "session inactive"}, nil
	}
	if session.Identity == nil {
		return auth.Unresolvable{Reason: "session has no identity"}, nil
	}

	rec := auth.UserRecord{
		ID:        session.Identity.Id,
		SessionID: session.Id,
		ExpiresAt: session.ExpiresAt,
	}
	if traits, ok := session.Identity.Traits.(map[string]any); ok {
		if email, ok := traits["email"].(string); ok {
			rec.Email = email
		}
	}
	return rec, nil
}

// BindSession extends the Kratos session when an admin URL is configured and
// records the binding until the session expires.
func (c *Client) BindSession(ctx context.Context, b auth.SessionBinding) error {
	rec, ok := b.Response.(auth.UserRecord)
	if !ok || rec.SessionID == "" {
		return errors.New("kratos: binding requires a session record")
	}

	exp := rec.ExpiresAt
	if c.admin != nil {
		extended, _, err := c.admin.IdentityAPI.ExtendSession(ctx, rec.SessionID).Execute()
		if err != nil {
			return fmt.Errorf("kratos: extend session: %w", err)
		}
		if extended != nil && extended.ExpiresAt != nil {
			exp = extended.ExpiresAt
		}
	}
	if exp == nil {
		return errors.New("kratos: session has no expiry")
	}

	err := c.sessions.Put(ctx, sessionstore.Binding{
		TokenDigest: sessionstore.Digest(b.Token),
		UserID:      b.UserID,
		SessionID:   rec.SessionID,
		Provider:    "kratos",
		BoundAt:     c.now(),
		ExpiresAt:   *exp,
	})
	if err != nil {
		return fmt.Errorf("kratos: record binding: %w", err)
	}
	c.log.DebugContext(ctx, "kratos.bind.ok", slog.String("user_id", b.UserID), slog.String("session_id", rec.SessionID))
	return nil
}

// forget drops the binding of a session Kratos no longer considers active.
// Failures are logged only; the lookup is rejected either way.
func (c *Client) forget(ctx context.Context, userID, tok string) {
	if err := c.sessions.Delete(ctx, userID, sessionstore.Digest(tok)); err != nil {
		c.log.WarnContext(ctx, "kratos.forget.fail", slog.String("user_id", userID), slog.String("err", err.Error()))
		return
	}
	c.log.DebugContext(ctx, "kratos.forget.ok", slog.String("user_id", userID))
}
