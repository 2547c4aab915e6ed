package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ggoodman/delegate-go/internal/jwks"
	"github.com/ggoodman/delegate-go/internal/jwtauth"
)

// VerifierOption configures optional aspects of token verification
// (scopes, algorithms, leeway, key cache sizing).
type VerifierOption func(*jwtauth.Config)

// WithRequiredScopes requires all of the provided scopes to be present in the
// space-delimited "scope" claim.
func WithRequiredScopes(scopes ...string) VerifierOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) VerifierOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) VerifierOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithKeyCacheTTL sets how long a fetched signing key is served before the
// next use of its kid refetches it.
func WithKeyCacheTTL(d time.Duration) VerifierOption {
	return func(c *jwtauth.Config) { c.CacheTTL = d }
}

// WithKeyCacheMaxSize bounds the number of distinct kids held at once.
func WithKeyCacheMaxSize(n int) VerifierOption {
	return func(c *jwtauth.Config) { c.CacheMaxSize = n }
}

// WithHTTPClient sets the client used for JWKS fetches.
func WithHTTPClient(hc *http.Client) VerifierOption {
	return func(c *jwtauth.Config) { c.HTTPClient = hc }
}

// CachingVerifier verifies tokens against a JWKS endpoint with an
// inspectable key cache.
type CachingVerifier struct {
	v interface {
		jwtauth.Verifier
		CacheStats() jwks.Stats
		ClearCache()
	}
}

// NewVerifier returns a Verifier that validates JWT access tokens signed by
// keys published at jwksURI. Keys are cached per kid; concurrent misses for
// one kid collapse into a single fetch.
func NewVerifier(issuer string, jwksURI string, opts ...VerifierOption) (*CachingVerifier, error) {
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.JWKSURI = jwksURI
	for _, opt := range opts {
		opt(cfg)
	}
	internal, err := jwtauth.NewCached(cfg)
	if err != nil {
		return nil, err
	}
	return &CachingVerifier{v: internal}, nil
}

func (cv *CachingVerifier) Verify(ctx context.Context, token string) (*AccessToken, error) {
	return verify(ctx, cv.v, token)
}

// CacheStats reports the state of the signing key cache.
func (cv *CachingVerifier) CacheStats() jwks.Stats { return cv.v.CacheStats() }

// ClearCache drops all cached signing keys. The next verification refetches.
func (cv *CachingVerifier) ClearCache() { cv.v.ClearCache() }

var _ Verifier = (*CachingVerifier)(nil)

// DiscoveryVerifier verifies tokens using OIDC discovery to locate the
// issuer's JWKS, with background key refresh.
type DiscoveryVerifier struct {
	v jwtauth.Verifier
}

// NewFromDiscovery returns a Verifier that resolves the issuer's jwks_uri via
// OpenID Connect discovery. Key refresh is managed in the background for the
// lifetime of ctx.
func NewFromDiscovery(ctx context.Context, issuer string, opts ...VerifierOption) (*DiscoveryVerifier, error) {
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	for _, opt := range opts {
		opt(cfg)
	}
	internal, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &DiscoveryVerifier{v: internal}, nil
}

func (dv *DiscoveryVerifier) Verify(ctx context.Context, token string) (*AccessToken, error) {
	return verify(ctx, dv.v, token)
}

var _ Verifier = (*DiscoveryVerifier)(nil)

func verify(ctx context.Context, v jwtauth.Verifier, token string) (*AccessToken, error) {
	claims, err := v.VerifyToken(ctx, token)
	if err != nil {
		// Map internal sentinel errors to the public ones callers match on.
		if errors.Is(err, jwtauth.ErrInsufficientScope) {
			return nil, errors.Join(ErrInsufficientScope, err)
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return &AccessToken{
		Token:     token,
		Subject:   claims.Subject,
		ClientID:  claims.ClientID,
		Scopes:    claims.Scopes,
		ExpiresAt: time.Unix(claims.ExpiresAt, 0),
		Resource:  claims.Resource,
	}, nil
}
