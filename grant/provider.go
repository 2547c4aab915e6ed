package grant

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/ggoodman/delegate-go/credentials"
	"github.com/ggoodman/delegate-go/exchange"
	"github.com/ggoodman/delegate-go/internal/flightcache"
	"github.com/ggoodman/delegate-go/internal/logctx"
	"github.com/google/uuid"
)

// Handler is the unit of work a grant wraps. The handler is always
// invoked; it inspects access for the outcome of each exchange.
type Handler func(ctx context.Context, id IdentityContext, access *AccessContext) error

// ClientFactory builds the exchange client for one zone. zoneID is empty
// for single-zone providers.
type ClientFactory func(ctx context.Context, issuer string, zoneID string) (exchange.Client, error)

// Config controls construction of a Provider.
type Config struct {
	// Issuer is the authorization server's issuer URL. In multi-zone mode
	// it is the top-level domain that zone ids are prefixed onto.
	Issuer string

	// MultiZone enables per-zone client construction. Calls must then
	// carry a zone id in their IdentityContext.
	MultiZone bool

	// Supplier provides client authentication for exchange requests. Nil
	// prepares bare requests with no client assertion.
	Supplier credentials.Supplier

	// ClientFactory overrides how exchange clients are built. Defaults to
	// exchange.NewHTTPClient against the (zone-scoped) issuer, with basic
	// auth when Supplier is a ClientSecret.
	ClientFactory ClientFactory

	// ResourceClientID is the client id this service is registered under.
	// Passed through to suppliers that issue assertions.
	ResourceClientID string

	// ResourceServerURL is the public URL of this service.
	ResourceServerURL string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Provider performs delegated token exchange for wrapped handlers.
type Provider struct {
	cfg Config
	log *slog.Logger

	clients *flightcache.Group[exchange.Client]
}

// NewProvider validates cfg and returns a Provider. Clients are built
// lazily on first use per zone.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required: %w", credentials.ErrConfiguration)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	// Records logged during a grant carry the request, zone and resource
	// attached to their context.
	log = slog.New(logctx.Handler{Handler: log.Handler()})
	return &Provider{
		cfg:     cfg,
		log:     log,
		clients: flightcache.New[exchange.Client](&clientStore{m: make(map[string]exchange.Client)}),
	}, nil
}

// Grant wraps handler so that, per call, the caller's token is exchanged
// for an access token per resource before the handler runs. Failures are
// recorded on the AccessContext instead of aborting.
func (p *Provider) Grant(resources []string, handler Handler) (Handler, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required: %w", credentials.ErrConfiguration)
	}
	if len(resources) == 0 {
		return nil, fmt.Errorf("at least one resource is required: %w", credentials.ErrConfiguration)
	}
	resources = append([]string(nil), resources...)

	return func(ctx context.Context, id IdentityContext, _ *AccessContext) error {
		access := NewAccessContext()
		p.exchangeAll(ctx, id, resources, access)
		return handler(ctx, id, access)
	}, nil
}

// GrantHTTP adapts a granted handler to http.Handler, extracting the
// caller identity with HTTPIdentity. Handler errors map to a bare 500;
// services needing richer error rendering wrap Grant directly.
func (p *Provider) GrantHTTP(resources []string, handler Handler) (http.Handler, error) {
	wrapped, err := p.Grant(resources, handler)
	if err != nil {
		return nil, err
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := HTTPIdentity(r)
		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  uuid.NewString(),
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
			Path:       r.URL.Path,
		})
		if err := wrapped(WithIdentity(ctx, id), id, nil); err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}), nil
}

// exchangeAll runs the per-call exchange flow, recording every outcome on
// access. It never returns early once a token is present: each resource
// is attempted independently.
func (p *Provider) exchangeAll(ctx context.Context, id IdentityContext, resources []string, access *AccessContext) {
	token, ok := id.BearerToken()
	if !ok || token == "" {
		access.SetError(&ResourceError{
			Message: "no authentication token available",
			Code:    CodeAuthenticationRequired,
		})
		return
	}

	var zone string
	if p.cfg.MultiZone {
		zone, ok = id.ZoneID()
		if !ok || zone == "" {
			access.SetError(&ResourceError{
				Message: "zone id is required for multi-zone configuration",
				Code:    CodeMissingZoneID,
			})
			return
		}
	}

	client, err := p.clientFor(ctx, zone)
	if err != nil {
		access.SetError(&ResourceError{
			Message: "failed to initialize exchange client",
			Code:    CodeServerConfiguration,
			Cause:   err,
		})
		return
	}

	info := credentials.AuthInfo{
		ZoneID:            zone,
		ResourceClientID:  p.cfg.ResourceClientID,
		AccessToken:       token,
		ResourceServerURL: p.cfg.ResourceServerURL,
	}
	ctx = logctx.WithGrantData(ctx, &logctx.GrantData{ZoneID: zone})

	for _, resource := range resources {
		rctx := logctx.WithExchangeData(ctx, &logctx.ExchangeData{Resource: resource})
		req, err := p.prepare(rctx, client, token, resource, info)
		if err == nil {
			var resp *exchange.TokenResponse
			resp, err = client.Exchange(rctx, req)
			if err == nil {
				access.SetToken(resource, resp)
				continue
			}
		}
		p.log.DebugContext(rctx, "token exchange failed",
			slog.String("err", err.Error()))
		access.SetResourceError(resource, &ResourceError{
			Message: fmt.Sprintf("token exchange failed for %s", resource),
			Code:    CodeExchangeFailed,
			Cause:   err,
		})
	}
}

func (p *Provider) prepare(ctx context.Context, client exchange.Client, token, resource string, info credentials.AuthInfo) (exchange.Request, error) {
	if p.cfg.Supplier == nil {
		return exchange.Request{
			SubjectToken:     token,
			SubjectTokenType: exchange.TokenTypeAccessToken,
			Resource:         resource,
		}, nil
	}
	return p.cfg.Supplier.Prepare(ctx, client, token, resource, info)
}

// clientStore is the mutex-guarded zone to client map the single-flight
// group fronts.
type clientStore struct {
	mu sync.Mutex
	m  map[string]exchange.Client
}

func (s *clientStore) Get(key string) (exchange.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[key]
	return c, ok
}

func (s *clientStore) Set(key string, c exchange.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = c
}

// clientFor returns the exchange client for zone, constructing it at most
// once per zone across concurrent callers. Construction for one zone does
// not block lookups for another.
func (p *Provider) clientFor(ctx context.Context, zone string) (exchange.Client, error) {
	key := "default"
	if p.cfg.MultiZone && zone != "" {
		key = "zone:" + zone
	}

	return p.clients.Do(ctx, key, func(ctx context.Context) (exchange.Client, error) {
		factory := p.cfg.ClientFactory
		if factory == nil {
			factory = p.defaultClientFactory
		}
		return factory(ctx, p.cfg.Issuer, zone)
	})
}

func (p *Provider) defaultClientFactory(_ context.Context, issuer string, zone string) (exchange.Client, error) {
	if p.cfg.MultiZone && zone != "" {
		scoped, err := zoneScopedIssuer(issuer, zone)
		if err != nil {
			return nil, err
		}
		issuer = scoped
	}
	cfg := exchange.Config{
		Issuer:     issuer,
		HTTPClient: p.cfg.HTTPClient,
		Logger:     p.log,
	}
	if cs, ok := p.cfg.Supplier.(*credentials.ClientSecret); ok {
		cred, err := cs.BasicAuth(zone)
		if err != nil {
			return nil, err
		}
		cfg.ClientID = cred.ID
		cfg.ClientSecret = cred.Secret
	}
	return exchange.NewHTTPClient(cfg)
}

// zoneScopedIssuer prepends the zone id to the issuer's host, preserving
// scheme, port and path.
func zoneScopedIssuer(issuer, zone string) (string, error) {
	u, err := url.Parse(issuer)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid issuer %q: %w", issuer, credentials.ErrConfiguration)
	}
	host := zone + "." + u.Hostname()
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	u.Host = host
	return u.String(), nil
}
