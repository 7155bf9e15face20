package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// IdentityService is the external collaborator used by the remote policy.
type IdentityService interface {
	// LookupUser asks the service who the token belongs to.
	LookupUser(ctx context.Context, token string) (UserResponse, error)
	// BindSession attaches the token to a session on the service. A resolved
	// identity whose session cannot be bound is not trusted.
	BindSession(ctx context.Context, b SessionBinding) error
}

// SessionBinding is handed to IdentityService.BindSession once a user id has
// been extracted from the lookup response.
type SessionBinding struct {
	Token    string
	UserID   string
	Response UserResponse
}

// UserResponse is what an identity service answered for a lookup. The
// concrete shape depends on the service client:
//
//   - UserRecord: a typed record with the id as a field
//   - UserDocument: a decoded JSON object
//   - RawUser: an undecoded JSON payload
//   - Unresolvable: the service answered but no identity can be derived
type UserResponse interface{ userResponse() }

// UserRecord is a typed lookup result.
type UserRecord struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id,omitempty"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// UserDocument is a decoded lookup result. The id is read from "user.id" or,
// when there is no nested user object, from "id".
type UserDocument map[string]any

// RawUser is an undecoded JSON lookup result with the same layout rules as
// UserDocument.
type RawUser []byte

// Unresolvable reports a response from which no identity can be derived.
type Unresolvable struct{ Reason string }

func (UserRecord) userResponse()   {}
func (UserDocument) userResponse() {}
func (RawUser) userResponse()      {}
func (Unresolvable) userResponse() {}

// UserIDFrom extracts the user id from a lookup response. Absent, empty,
// non-string and ambiguous ids are errors.
func UserIDFrom(resp UserResponse) (string, error) {
	switch r := resp.(type) {
	case nil:
		return "", errors.New("empty user response")
	case UserRecord:
		if r.ID == "" {
			return "", errors.New("user record has no id")
		}
		return r.ID, nil
	case UserDocument:
		return idFromDocument(r)
	case RawUser:
		var doc map[string]any
		if err := json.Unmarshal(r, &doc); err != nil {
			return "", fmt.Errorf("undecodable user payload: %w", err)
		}
		return idFromDocument(doc)
	case Unresolvable:
		return "", fmt.Errorf("unresolvable user response: %s", r.Reason)
	default:
		return "", fmt.Errorf("unsupported user response %T", resp)
	}
}

func idFromDocument(doc map[string]any) (string, error) {
	if doc == nil {
		return "", errors.New("empty user document")
	}

	var nested string
	if u, ok := doc["user"]; ok && u != nil {
		obj, ok := u.(map[string]any)
		if !ok {
			return "", errors.New(`"user" is not an object`)
		}
		id, ok := obj["id"].(string)
		if !ok || id == "" {
			return "", errors.New(`"user.id" missing or not a string`)
		}
		nested = id
	}

	top, hasTop := doc["id"].(string)
	switch {
	case nested != "" && hasTop && top != "" && top != nested:
		return "", errors.New(`ambiguous user document: "id" and "user.id" differ`)
	case nested != "":
		return nested, nil
	case hasTop && top != "":
		return top, nil
	}
	return "", errors.New("no user id in document")
}

// remoteUser is the principal produced by the remote policy.
type remoteUser struct {
	id   string
	resp UserResponse
}

func (u remoteUser) UserID() string { return u.id }

func (u remoteUser) Claims(ref any) error {
	var b []byte
	switch r := u.resp.(type) {
	case RawUser:
		b = r
	default:
		var err error
		if b, err = json.Marshal(r); err != nil {
			return err
		}
	}
	return json.Unmarshal(b, ref)
}
