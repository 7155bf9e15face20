package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AuthenticationChallenge describes an HTTP challenge (status + WWW-Authenticate header).
type AuthenticationChallenge struct {
	Status          int
	WWWAuthenticate string
	// Message is the generic text shown to clients. It never contains the
	// internal cause of the failure.
	Message string
}

// NewAuthenticationRequired builds a challenge for a request that carried no
// credentials. Per RFC 6750 §3.1 the challenge has no error code.
func NewAuthenticationRequired(realm string) *AuthenticationChallenge {
	return &AuthenticationChallenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: BearerChallenge(realm, nil),
		Message:         "Missing authorization header",
	}
}

// NewInvalidAuthorizationHeader builds a challenge for a malformed Authorization header.
func NewInvalidAuthorizationHeader(realm string) *AuthenticationChallenge {
	return &AuthenticationChallenge{
		Status: http.StatusUnauthorized,
		WWWAuthenticate: BearerChallenge(realm, [][2]string{
			{"error", "invalid_request"},
			{"error_description", "malformed bearer authorization header"},
		}),
		Message: "Invalid authorization header",
	}
}

// NewInvalidToken builds a challenge indicating the token was rejected.
func NewInvalidToken(realm string) *AuthenticationChallenge {
	return &AuthenticationChallenge{
		Status: http.StatusUnauthorized,
		WWWAuthenticate: BearerChallenge(realm, [][2]string{
			{"error", "invalid_token"},
			{"error_description", "the access token is invalid or expired"},
		}),
		Message: "Invalid or expired token",
	}
}

// ChallengeFor maps an error from ExtractBearer or Resolver.Resolve onto a
// challenge. It returns nil for errors that are not authentication failures.
func ChallengeFor(err error, realm string) *AuthenticationChallenge {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrMissingAuthHeader):
		return NewAuthenticationRequired(realm)
	case errors.Is(err, ErrMalformedAuthScheme):
		return NewInvalidAuthorizationHeader(realm)
	case errors.Is(err, ErrInvalidCredential):
		return NewInvalidToken(realm)
	}
	return nil
}

// BearerChallenge builds a WWW-Authenticate value:
//
//	Bearer realm="<realm>", error="...", error_description="..."
//
// Realm is omitted if empty. Params are emitted in the order given.
func BearerChallenge(realm string, params [][2]string) string {
	pieces := make([]string, 0, 1+len(params))
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	for _, kv := range params {
		pieces = append(pieces, fmt.Sprintf(`%s="%s"`, kv[0], esc(kv[1])))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
