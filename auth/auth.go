package auth

import (
	"context"
	"errors"
	"time"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the caller authenticated but lacks required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// AccessToken is the projection of a successfully verified bearer token.
type AccessToken struct {
	// Token is the raw compact JWT as presented by the caller.
	Token string

	// Subject is the token's sub claim.
	Subject string

	// ClientID is the client_id claim, when present.
	ClientID string

	// Scopes holds the space-delimited scope claim split into entries.
	Scopes []string

	// ExpiresAt is the token's expiry instant.
	ExpiresAt time.Time

	// Resource is the resource claim, when present.
	Resource string
}

// HasScope reports whether the token carries the given scope.
func (t *AccessToken) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verifier validates bearer tokens. Implementations return errors wrapping
// ErrUnauthorized for invalid credentials and ErrInsufficientScope when the
// token verifies but lacks a required scope.
type Verifier interface {
	Verify(ctx context.Context, token string) (*AccessToken, error)
}
