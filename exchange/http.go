package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
)

// maxResponseBytes caps how much of a token endpoint response is read.
const maxResponseBytes = 1 << 20

// Config controls construction of an HTTPClient.
type Config struct {
	// Issuer is the authorization server's issuer URL. Required unless
	// TokenEndpoint is set explicitly.
	Issuer string

	// TokenEndpoint overrides metadata discovery when non-empty.
	TokenEndpoint string

	// ClientID and ClientSecret enable HTTP basic client authentication at
	// the token endpoint. Leave empty for assertion-based suppliers.
	ClientID     string
	ClientSecret string

	HTTPClient *http.Client
	Logger     *slog.Logger
	Timeout    time.Duration
}

// HTTPClient is the production Client implementation. It resolves the token
// endpoint lazily via metadata discovery (at most once) and performs
// form-encoded exchange POSTs.
type HTTPClient struct {
	issuer        string
	tokenEndpoint string
	clientID      string
	clientSecret  string
	httpClient    *http.Client
	log           *slog.Logger

	mu   sync.Mutex
	meta *ServerMetadata
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds an HTTPClient from cfg. Either Issuer or
// TokenEndpoint must be provided.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.Issuer == "" && cfg.TokenEndpoint == "" {
		return nil, ErrMissingEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &HTTPClient{
		issuer:        strings.TrimRight(cfg.Issuer, "/"),
		tokenEndpoint: cfg.TokenEndpoint,
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		httpClient:    hc,
		log:           log,
	}, nil
}

// Metadata returns the server metadata, discovering it on first use.
func (c *HTTPClient) Metadata(ctx context.Context) (*ServerMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.meta != nil {
		return c.meta, nil
	}
	if c.issuer == "" {
		// Endpoint-only configuration; synthesize minimal metadata.
		c.meta = &ServerMetadata{TokenEndpoint: c.tokenEndpoint}
		return c.meta, nil
	}
	meta, err := Discover(ctx, c.issuer, c.httpClient)
	if err != nil {
		return nil, err
	}
	c.meta = meta
	return c.meta, nil
}

// endpoint resolves the token endpoint, via discovery when not configured.
func (c *HTTPClient) endpoint(ctx context.Context) (string, error) {
	if c.tokenEndpoint != "" {
		return c.tokenEndpoint, nil
	}
	meta, err := c.Metadata(ctx)
	if err != nil {
		return "", fmt.Errorf("exchange: endpoint discovery: %w", err)
	}
	if meta.TokenEndpoint == "" {
		return "", ErrMissingEndpoint
	}
	return meta.TokenEndpoint, nil
}

// Exchange implements Client.
func (c *HTTPClient) Exchange(ctx context.Context, req Request) (*TokenResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	endpoint, err := c.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", GrantTypeTokenExchange)
	form.Set("subject_token", req.SubjectToken)
	form.Set("subject_token_type", req.SubjectTokenType)
	if req.Resource != "" {
		form.Set("resource", req.Resource)
	}
	if req.Audience != "" {
		form.Set("audience", req.Audience)
	}
	if req.Scope != "" {
		form.Set("scope", req.Scope)
	}
	if req.RequestedTokenType != "" {
		form.Set("requested_token_type", req.RequestedTokenType)
	}
	if req.ClientAssertion != "" {
		form.Set("client_assertion", req.ClientAssertion)
		typ := req.ClientAssertionType
		if typ == "" {
			typ = ClientAssertionTypeJWTBearer
		}
		form.Set("client_assertion_type", typ)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("exchange: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if c.clientID != "" && c.clientSecret != "" {
		httpReq.SetBasicAuth(c.clientID, c.clientSecret)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrExchangeFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.protocolError(resp, body)
	}
	if err := requireJSON(resp.Header.Get("Content-Type")); err != nil {
		return nil, err
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access_token", ErrInvalidResponse)
	}

	c.log.DebugContext(ctx, "token exchange succeeded",
		slog.String("resource", req.Resource),
		slog.String("token_type", tok.TokenType),
		slog.Int64("expires_in", tok.ExpiresIn),
	)
	return &tok, nil
}

// protocolError maps a non-2xx token endpoint answer to a *ProtocolError,
// falling back to a generic failure when the body is not an OAuth error.
func (c *HTTPClient) protocolError(resp *http.Response, body []byte) error {
	var pe ProtocolError
	if err := requireJSON(resp.Header.Get("Content-Type")); err == nil {
		if jsonErr := json.Unmarshal(body, &pe); jsonErr == nil && pe.Code != "" {
			pe.Status = resp.StatusCode
			return &pe
		}
	}
	c.log.Error("token exchange failed",
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(body)),
	)
	return fmt.Errorf("%w: status %d", ErrExchangeFailed, resp.StatusCode)
}

// requireJSON enforces an application/json (or +json suffixed) content type.
func requireJSON(ct string) error {
	if ct == "" {
		return fmt.Errorf("%w: missing content type", ErrInvalidResponse)
	}
	mt, err := contenttype.ParseMediaType(ct)
	if err != nil {
		return fmt.Errorf("%w: content type %q: %v", ErrInvalidResponse, ct, err)
	}
	if mt.Type == "application" && (mt.Subtype == "json" || strings.HasSuffix(mt.Subtype, "+json")) {
		return nil
	}
	return fmt.Errorf("%w: unexpected content type %q", ErrInvalidResponse, ct)
}
