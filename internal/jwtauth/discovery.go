package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// discoveryVerifier validates tokens using a keyfunc-managed, auto-refreshed
// JWKS resolved through OIDC discovery. It trades the inspectable TTL cache
// of cachedVerifier for keyfunc's background refresh.
type discoveryVerifier struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
	jwksURI string
}

// NewFromDiscovery performs OIDC discovery against cfg.Issuer to locate the
// JWKS endpoint and constructs a Verifier with auto-refreshed keys.
func NewFromDiscovery(ctx context.Context, cfg *Config) (*discoveryVerifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = 60 * time.Second
	}

	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	provider, err := oidc.NewProvider(ctx, strings.TrimRight(cfg.Issuer, "/"))
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &discoveryVerifier{
		cfg:     cfg,
		jwksURI: meta.JwksURI,
		keyfunc: func(t *jwt.Token) (any, error) {
			alg := t.Method.Alg()
			allowed := false
			for _, a := range cfg.AllowedAlgs {
				if alg == a {
					allowed = true
					break
				}
			}
			if !allowed {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf.Keyfunc(t)
		},
	}, nil
}

// JWKSURI returns the discovered JWKS endpoint.
func (v *discoveryVerifier) JWKSURI() string { return v.jwksURI }

// VerifyToken implements Verifier.
func (v *discoveryVerifier) VerifyToken(ctx context.Context, tok string) (*Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}

	scopeStr, _ := claims["scope"].(string)
	scopes := strings.Fields(scopeStr)
	if len(v.cfg.RequiredScopes) > 0 {
		have := map[string]bool{}
		for _, s := range scopes {
			have[s] = true
		}
		for _, want := range v.cfg.RequiredScopes {
			if !have[want] {
				return nil, fmt.Errorf("%w: missing scope %s", ErrInsufficientScope, want)
			}
		}
	}

	var expiresAt int64
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Unix()
	}

	sub, _ := claims["sub"].(string)
	clientID, _ := claims["client_id"].(string)
	resource, _ := claims["resource"].(string)

	return &Claims{
		Subject:   sub,
		ClientID:  clientID,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
		Resource:  resource,
	}, nil
}

var _ Verifier = (*discoveryVerifier)(nil)
