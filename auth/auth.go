package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrMissingAuthHeader indicates the request carried no Authorization header.
var ErrMissingAuthHeader = errors.New("missing authorization header")

// ErrMalformedAuthScheme indicates an Authorization header that is not a
// "Bearer <token>" credential.
var ErrMalformedAuthScheme = errors.New("malformed authorization scheme")

// ErrInvalidCredential indicates the bearer token could not be turned into a
// trusted identity. Every verification failure collapses to this error; the
// underlying cause is joined for logging only and must not reach clients.
var ErrInvalidCredential = errors.New("invalid credential")

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique, non-empty identifier for the user.
	UserID() string
	// Claims unmarshals the user's claims into the provided struct reference.
	Claims(ref any) error
}

const bearerPrefix = "Bearer "

// ExtractBearer returns the token carried by an Authorization header value.
// The scheme is matched case-sensitively with exactly one separating space;
// whitespace around the token is trimmed.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuthHeader
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrMalformedAuthScheme
	}
	tok := strings.TrimSpace(header[len(bearerPrefix):])
	if tok == "" {
		return "", ErrMalformedAuthScheme
	}
	return tok, nil
}

type userInfoKey struct{}

// WithUserInfo returns a context carrying the resolved principal.
func WithUserInfo(ctx context.Context, ui UserInfo) context.Context {
	return context.WithValue(ctx, userInfoKey{}, ui)
}

// UserInfoFromContext returns the principal stored by WithUserInfo.
func UserInfoFromContext(ctx context.Context) (UserInfo, bool) {
	ui, ok := ctx.Value(userInfoKey{}).(UserInfo)
	if !ok || ui == nil || ui.UserID() == "" {
		return nil, false
	}
	return ui, true
}
