package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/delegate-go/internal/flightcache"
	"github.com/ggoodman/delegate-go/internal/jwks"
)

// ErrUnauthorized indicates the token failed validation (signature, issuer,
// exp) and the request should be treated as unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates the token was valid but missing required
// scopes.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// Config controls validation behavior for access tokens.
type Config struct {
	Issuer         string
	JWKSURI        string
	RequiredScopes []string
	AllowedAlgs    []string
	Leeway         time.Duration
	CacheTTL       time.Duration
	CacheMaxSize   int
	HTTPClient     *http.Client
}

// DefaultConfig returns a Config with safe algorithm and leeway defaults.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

// Claims is the minimal projection of a verified access token.
type Claims struct {
	Subject   string
	ClientID  string
	Scopes    []string
	ExpiresAt int64
	Resource  string
}

// Verifier validates access tokens. Implementations must perform signature,
// issuer and time validation before returning claims.
type Verifier interface {
	VerifyToken(ctx context.Context, tok string) (*Claims, error)
}

// cachedVerifier validates tokens against keys served by a JWKS endpoint,
// caching key material in a TTL cache and collapsing concurrent fetches for
// the same kid into one HTTP call.
type cachedVerifier struct {
	cfg   *Config
	cache *jwks.Cache
	keys  *flightcache.Group[jwks.Key]
	hc    *http.Client
}

// NewCached constructs a Verifier backed by the kid-keyed TTL cache.
func NewCached(cfg *Config) (*cachedVerifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.JWKSURI == "" {
		return nil, errors.New("jwks uri is required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = 60 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	cache := jwks.NewCache(cfg.CacheTTL, cfg.CacheMaxSize)
	return &cachedVerifier{
		cfg:   cfg,
		cache: cache,
		keys:  flightcache.New[jwks.Key](cache),
		hc:    hc,
	}, nil
}

// CacheStats exposes the key cache snapshot for diagnostics.
func (v *cachedVerifier) CacheStats() jwks.Stats { return v.cache.Stats() }

// ClearCache drops every cached verification key.
func (v *cachedVerifier) ClearCache() { v.cache.Clear() }

// verificationKey resolves the key for the token's header, consulting the
// cache before the network. The algorithm allow-list is enforced from the
// unverified header so a disallowed token costs zero I/O.
func (v *cachedVerifier) verificationKey(ctx context.Context, tok string) (jwks.Key, error) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		return jwks.Key{}, fmt.Errorf("%w: malformed token: %v", ErrUnauthorized, err)
	}
	alg, _ := parsed.Header["alg"].(string)
	allowed := false
	for _, a := range v.cfg.AllowedAlgs {
		if alg == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return jwks.Key{}, fmt.Errorf("%w: disallowed alg: %s", ErrUnauthorized, alg)
	}
	kid, _ := parsed.Header["kid"].(string)

	key, err := v.keys.Do(ctx, kid, func(ctx context.Context) (jwks.Key, error) {
		k, err := jwks.Fetch(ctx, v.hc, v.cfg.JWKSURI, kid)
		if err != nil {
			return jwks.Key{}, err
		}
		if k.Algorithm == "" {
			k.Algorithm = alg
		}
		return k, nil
	})
	if err != nil {
		return jwks.Key{}, fmt.Errorf("%w: key fetch failed: %v", ErrUnauthorized, err)
	}
	return key, nil
}

// VerifyToken implements Verifier.
func (v *cachedVerifier) VerifyToken(ctx context.Context, tok string) (*Claims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	key, err := v.verificationKey(ctx, tok)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithLeeway(v.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, func(t *jwt.Token) (any, error) {
		return key.Public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if iss, _ := claims["iss"].(string); iss == "" || iss != v.cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrUnauthorized)
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

var _ Verifier = (*cachedVerifier)(nil)
