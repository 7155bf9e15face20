// Package sessionstore records which bearer credentials have been bound to a
// session on a remote identity service. Credentials are never stored; bindings
// are keyed by a BLAKE3 digest of the token and namespaced by user.
package sessionstore

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/zeebo/blake3"
)

// Store persists session bindings until they expire.
type Store interface {
	// Put records b until b.ExpiresAt. A binding that has already expired is
	// rejected with ErrExpired.
	Put(ctx context.Context, b Binding) error

	// Get returns the binding for a digest within a user's namespace.
	// Returns nil if it does not exist or has expired; errors are reserved
	// for storage failures.
	Get(ctx context.Context, userID, digest string) (*Binding, error)

	// Delete removes a binding. If digest is empty, every binding of the user
	// is removed.
	Delete(ctx context.Context, userID, digest string) error

	// Close releases resources held by the store.
	Close() error
}

// Binding ties a credential digest to a user and, when the identity service
// reports one, a session id.
type Binding struct {
	TokenDigest string    `json:"token_digest"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Provider    string    `json:"provider"`
	BoundAt     time.Time `json:"bound_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired reports whether the binding is no longer valid at now.
func (b *Binding) IsExpired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// Validate checks the fields every store relies on.
func (b *Binding) Validate() error {
	switch {
	case b.TokenDigest == "":
		return errors.New("sessionstore: binding has no token digest")
	case b.UserID == "":
		return errors.New("sessionstore: binding has no user id")
	case b.ExpiresAt.IsZero():
		return errors.New("sessionstore: binding has no expiry")
	}
	return nil
}

var (
	// ErrExpired is returned by Put for bindings whose expiry has passed.
	ErrExpired = errors.New("sessionstore: binding already expired")
)

// Digest returns the hex-encoded BLAKE3 digest used to key a credential.
func Digest(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
