// Package authtest provides helpers for tests that need bearer credentials
// or a stand-in identity service.
package authtest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/taskd/auth"
	"github.com/golang-jwt/jwt/v5"
)

// Secret is a signing secret long enough for HS256.
const Secret = "super-secret-jwt-token-with-at-least-32-characters"

// TokenOption mutates the claims of a minted token.
type TokenOption func(jwt.MapClaims)

// WithClaim sets an arbitrary claim.
func WithClaim(name string, v any) TokenOption {
	return func(c jwt.MapClaims) { c[name] = v }
}

// WithoutClaim removes a claim.
func WithoutClaim(name string) TokenOption {
	return func(c jwt.MapClaims) { delete(c, name) }
}

// ExpiresIn sets exp relative to now. Negative values mint expired tokens.
func ExpiresIn(d time.Duration) TokenOption {
	return func(c jwt.MapClaims) { c["exp"] = time.Now().Add(d).Unix() }
}

// MintToken signs an HS256 token for sub with sub, iat, exp (one hour) and
// aud=authenticated claims.
func MintToken(t testing.TB, secret, sub string, opts ...TokenOption) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": sub,
		"aud": auth.DefaultAudience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for _, o := range opts {
		o(claims)
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return s
}

// Tamper flips one character in the middle of the signature segment.
func Tamper(tok string) string {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 || parts[2] == "" {
		return tok + "x"
	}
	sig := []byte(parts[2])
	i := len(sig) / 2
	if sig[i] == 'A' {
		sig[i] = 'B'
	} else {
		sig[i] = 'A'
	}
	parts[2] = string(sig)
	return strings.Join(parts, ".")
}

// User is a fixed principal. ClaimSet is what Claims decodes from.
type User struct {
	ID       string
	ClaimSet map[string]any
}

var _ auth.UserInfo = User{}

func (u User) UserID() string { return u.ID }

func (u User) Claims(ref any) error {
	b, err := json.Marshal(u.ClaimSet)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// IdentityService is a scripted auth.IdentityService. Tokens map to canned
// responses; unknown tokens are rejected.
type IdentityService struct {
	mu        sync.Mutex
	responses map[string]auth.UserResponse
	bindErr   error
	lookups   int
	bindings  []auth.SessionBinding
}

var _ auth.IdentityService = (*IdentityService)(nil)

// ErrUnknownToken is returned by LookupUser for unregistered tokens.
var ErrUnknownToken = errors.New("authtest: unknown token")

func NewIdentityService() *IdentityService {
	return &IdentityService{responses: map[string]auth.UserResponse{}}
}

// Register makes tok resolve to resp.
func (s *IdentityService) Register(tok string, resp auth.UserResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[tok] = resp
}

// FailBinding makes every subsequent BindSession call return err.
func (s *IdentityService) FailBinding(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindErr = err
}

func (s *IdentityService) LookupUser(ctx context.Context, tok string) (auth.UserResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, ok := s.responses[tok]
	if !ok {
		return nil, ErrUnknownToken
	}
	return resp, nil
}

func (s *IdentityService) BindSession(ctx context.Context, b auth.SessionBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bindErr != nil {
		return s.bindErr
	}
	s.bindings = append(s.bindings, b)
	return nil
}

// Lookups reports how many LookupUser calls were made.
func (s *IdentityService) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// Bindings returns a copy of the recorded session bindings.
func (s *IdentityService) Bindings() []auth.SessionBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auth.SessionBinding(nil), s.bindings...)
}
