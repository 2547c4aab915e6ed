// Package authtest provides verifier fakes for tests that need an
// auth.Verifier without standing up a JWKS endpoint.
package authtest

import (
	"context"
	"fmt"
	"time"

	"github.com/ggoodman/delegate-go/auth"
)

// Static is a Verifier backed by a fixed table of tokens. Unknown tokens
// fail with auth.ErrUnauthorized.
type Static struct {
	Tokens map[string]*auth.AccessToken
}

// NewStatic builds a Static verifier from the given tokens, keyed by their
// raw token string.
func NewStatic(tokens ...*auth.AccessToken) *Static {
	m := make(map[string]*auth.AccessToken, len(tokens))
	for _, t := range tokens {
		m[t.Token] = t
	}
	return &Static{Tokens: m}
}

func (s *Static) Verify(_ context.Context, token string) (*auth.AccessToken, error) {
	t, ok := s.Tokens[token]
	if !ok {
		return nil, fmt.Errorf("unknown token: %w", auth.ErrUnauthorized)
	}
	if !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt) {
		return nil, fmt.Errorf("token expired: %w", auth.ErrUnauthorized)
	}
	cp := *t
	return &cp, nil
}

var _ auth.Verifier = (*Static)(nil)

// AllowAll is a Verifier that accepts every token, attributing it to
// Subject. Useful for development wiring where verification is out of scope.
type AllowAll struct {
	Subject string
	Scopes  []string
}

func (a *AllowAll) Verify(_ context.Context, token string) (*auth.AccessToken, error) {
	sub := a.Subject
	if sub == "" {
		sub = "test-user"
	}
	return &auth.AccessToken{
		Token:     token,
		Subject:   sub,
		Scopes:    append([]string(nil), a.Scopes...),
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

var _ auth.Verifier = (*AllowAll)(nil)
