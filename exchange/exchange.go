package exchange

import (
	"context"
	"errors"
	"fmt"
)

// Token type and grant type URNs from RFC 8693 and RFC 7523.
const (
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"

	TokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"
	TokenTypeJWT         = "urn:ietf:params:oauth:token-type:jwt"

	ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// Common errors for the exchange client.
var (
	ErrExchangeFailed      = errors.New("exchange: token exchange failed")
	ErrInvalidResponse     = errors.New("exchange: invalid token response")
	ErrMissingSubjectToken = errors.New("exchange: subject token is required")
	ErrMissingEndpoint     = errors.New("exchange: token endpoint is required")
)

// Request carries the parameters of a single token-exchange call. A Request
// is built fresh per exchange and never mutated after construction.
type Request struct {
	SubjectToken     string
	SubjectTokenType string

	// Resource is the target service the derived token should be scoped to.
	Resource string

	Audience           string
	Scope              string
	RequestedTokenType string

	// ClientAssertion and ClientAssertionType authenticate the client via a
	// signed JWT (RFC 7523) instead of transport-level credentials.
	ClientAssertion     string
	ClientAssertionType string
}

// Validate checks the required RFC 8693 parameters.
func (r Request) Validate() error {
	if r.SubjectToken == "" {
		return ErrMissingSubjectToken
	}
	if r.SubjectTokenType == "" {
		return fmt.Errorf("exchange: subject token type is required")
	}
	return nil
}

// TokenResponse is the token endpoint's answer to a successful exchange.
type TokenResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int64  `json:"expires_in,omitempty"`
	Scope           string `json:"scope,omitempty"`
	IssuedTokenType string `json:"issued_token_type,omitempty"`
}

// ServerMetadata is the subset of authorization server metadata (RFC 8414 /
// OIDC discovery) the engine cares about. Endpoints beyond token and JWKS
// are carried through for callers that register clients or introspect.
type ServerMetadata struct {
	Issuer                string `json:"issuer"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
}

// Client performs token exchanges against one authorization server. The
// grant orchestrator holds one Client per zone.
type Client interface {
	// Exchange swaps the subject token for a derived token scoped to the
	// request's resource.
	Exchange(ctx context.Context, req Request) (*TokenResponse, error)

	// Metadata returns the authorization server's discovered metadata.
	Metadata(ctx context.Context) (*ServerMetadata, error)
}

// ProtocolError is a structured OAuth error response (RFC 6749 §5.2)
// returned by the token endpoint with a non-2xx status.
type ProtocolError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *ProtocolError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("exchange: %s: %s (status %d)", e.Code, e.Description, e.Status)
	}
	return fmt.Sprintf("exchange: %s (status %d)", e.Code, e.Status)
}

func (e *ProtocolError) Unwrap() error { return ErrExchangeFailed }
