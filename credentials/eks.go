package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ggoodman/delegate-go/exchange"
	"github.com/ggoodman/delegate-go/tokencache"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenFileEnv is the environment variable EKS Pod Identity uses to
// point at the service account authorization token file.
const DefaultTokenFileEnv = "AWS_CONTAINER_AUTHORIZATION_TOKEN_FILE"

// EKSWorkloadIdentity authenticates the delegating service with the
// platform-issued token mounted into an EKS pod. The platform token is
// read fresh on every call, federated into an access token through the
// token cache, and presented as a JWT bearer client assertion.
type EKSWorkloadIdentity struct {
	path   string
	envVar string
	tokens *tokencache.Group
	log    *slog.Logger
}

// EKSOption configures optional aspects of an EKSWorkloadIdentity.
type EKSOption func(*EKSWorkloadIdentity)

// WithTokenFile sets an explicit token file path, bypassing the
// environment lookup.
func WithTokenFile(path string) EKSOption {
	return func(e *EKSWorkloadIdentity) { e.path = path }
}

// WithTokenFileEnv overrides which environment variable names the token
// file. Defaults to DefaultTokenFileEnv.
func WithTokenFileEnv(name string) EKSOption {
	return func(e *EKSWorkloadIdentity) { e.envVar = name }
}

// WithTokenCache sets the cache holding federated access tokens. Defaults
// to an in-memory cache with the standard expiry leeway.
func WithTokenCache(cache tokencache.Cache) EKSOption {
	return func(e *EKSWorkloadIdentity) { e.tokens = tokencache.NewGroup(cache) }
}

// WithEKSLogger sets the logger used for federation events.
func WithEKSLogger(log *slog.Logger) EKSOption {
	return func(e *EKSWorkloadIdentity) { e.log = log }
}

// NewEKSWorkloadIdentity resolves and validates the platform token file.
// An unresolvable or unreadable file is a configuration error; failures
// after successful construction are runtime errors.
func NewEKSWorkloadIdentity(opts ...EKSOption) (*EKSWorkloadIdentity, error) {
	e := &EKSWorkloadIdentity{envVar: DefaultTokenFileEnv}
	for _, opt := range opts {
		opt(e)
	}
	if e.tokens == nil {
		e.tokens = tokencache.NewGroup(nil)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.path == "" {
		e.path = os.Getenv(e.envVar)
		if e.path == "" {
			return nil, fmt.Errorf("environment variable %s is not set: %w", e.envVar, ErrConfiguration)
		}
	}
	if _, err := e.readToken(); err != nil {
		return nil, fmt.Errorf("initializing workload identity from %s: %w", e.path, ErrConfiguration)
	}
	return e, nil
}

// TokenFilePath returns the resolved platform token file location.
func (e *EKSWorkloadIdentity) TokenFilePath() string { return e.path }

func (e *EKSWorkloadIdentity) readToken() (string, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("token file %s is empty", e.path)
	}
	return tok, nil
}

func (e *EKSWorkloadIdentity) Prepare(ctx context.Context, client exchange.Client, subjectToken, resource string, _ AuthInfo) (exchange.Request, error) {
	platform, err := e.readToken()
	if err != nil {
		return exchange.Request{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	derived, err := e.federate(ctx, client, platform)
	if err != nil {
		return exchange.Request{}, err
	}

	return exchange.Request{
		SubjectToken:        subjectToken,
		SubjectTokenType:    exchange.TokenTypeAccessToken,
		Resource:            resource,
		ClientAssertion:     derived,
		ClientAssertionType: exchange.ClientAssertionTypeJWTBearer,
	}, nil
}

// federate exchanges the platform token for an access token, caching the
// result under the platform token's jti so that concurrent callers and
// repeated requests share one backend exchange until expiry.
func (e *EKSWorkloadIdentity) federate(ctx context.Context, client exchange.Client, platform string) (string, error) {
	key := cacheKey(platform)

	entry, err := e.tokens.GetOrExchange(ctx, key, func(ctx context.Context) (tokencache.Entry, error) {
		resp, err := client.Exchange(ctx, exchange.Request{
			SubjectToken:       platform,
			SubjectTokenType:   exchange.TokenTypeJWT,
			RequestedTokenType: exchange.TokenTypeAccessToken,
		})
		if err != nil {
			return tokencache.Entry{}, fmt.Errorf("federating platform token: %w", err)
		}
		exp := tokenExpiry(resp.AccessToken)
		if exp == 0 && resp.ExpiresIn > 0 {
			exp = time.Now().Unix() + resp.ExpiresIn
		}
		e.log.Debug("federated workload identity token",
			slog.String("cache_key", key),
			slog.Int64("expires_at", exp))
		return tokencache.Entry{Token: resp.AccessToken, ExpiresAt: exp}, nil
	})
	if err != nil {
		return "", err
	}
	return entry.Token, nil
}

// cacheKey extracts the platform token's jti claim without verifying the
// signature. Tokens without a jti fall back to the raw token string.
func cacheKey(platform string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(platform, claims); err == nil {
		if jti, ok := claims["jti"].(string); ok && jti != "" {
			return jti
		}
	}
	return platform
}

// tokenExpiry reads the exp claim from a derived token, returning zero
// when the token is opaque or carries no expiry.
func tokenExpiry(token string) int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Unix()
}

var _ Supplier = (*EKSWorkloadIdentity)(nil)
