package grant_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/delegate-go/credentials"
	"github.com/ggoodman/delegate-go/exchange"
	"github.com/ggoodman/delegate-go/grant"
)

// fakeExchangeClient answers exchanges in-process, failing the resources
// listed in failures.
type fakeExchangeClient struct {
	mu       sync.Mutex
	requests []exchange.Request
	failures map[string]error
}

func (c *fakeExchangeClient) Exchange(_ context.Context, req exchange.Request) (*exchange.TokenResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if err, ok := c.failures[req.Resource]; ok {
		return nil, err
	}
	return &exchange.TokenResponse{
		AccessToken: "tok-for-" + req.Resource,
		TokenType:   "Bearer",
		ExpiresIn:   3600,
	}, nil
}

func (c *fakeExchangeClient) Metadata(context.Context) (*exchange.ServerMetadata, error) {
	return &exchange.ServerMetadata{
		Issuer:        "https://issuer.example.com",
		TokenEndpoint: "https://issuer.example.com/oauth/token",
	}, nil
}

func (c *fakeExchangeClient) exchangeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// countingFactory hands out fc for every zone, counting constructions.
func countingFactory(fc *fakeExchangeClient, calls *atomic.Int64) grant.ClientFactory {
	return func(_ context.Context, _ string, _ string) (exchange.Client, error) {
		calls.Add(1)
		return fc, nil
	}
}

func newTestProvider(t *testing.T, cfg grant.Config) *grant.Provider {
	t.Helper()
	if cfg.Issuer == "" {
		cfg.Issuer = "https://issuer.example.com"
	}
	p, err := grant.NewProvider(cfg)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestProvider_GrantValidation(t *testing.T) {
	p := newTestProvider(t, grant.Config{})

	if _, err := p.Grant([]string{"https://a.example.com"}, nil); !errors.Is(err, credentials.ErrConfiguration) {
		t.Fatalf("nil handler: want ErrConfiguration, got %v", err)
	}
	noop := func(context.Context, grant.IdentityContext, *grant.AccessContext) error { return nil }
	if _, err := p.Grant(nil, noop); !errors.Is(err, credentials.ErrConfiguration) {
		t.Fatalf("empty resources: want ErrConfiguration, got %v", err)
	}
	if _, err := grant.NewProvider(grant.Config{}); !errors.Is(err, credentials.ErrConfiguration) {
		t.Fatalf("empty issuer: want ErrConfiguration, got %v", err)
	}
}

func TestProvider_AllResourcesSucceed(t *testing.T) {
	fc := &fakeExchangeClient{}
	var factoryCalls atomic.Int64
	p := newTestProvider(t, grant.Config{ClientFactory: countingFactory(fc, &factoryCalls)})

	resources := []string{"https://a.example.com", "https://b.example.com"}
	var seen *grant.AccessContext
	wrapped, err := p.Grant(resources, func(_ context.Context, _ grant.IdentityContext, access *grant.AccessContext) error {
		seen = access
		return nil
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	if err := wrapped(context.Background(), grant.NewIdentity("caller-token", ""), nil); err != nil {
		t.Fatalf("wrapped: %v", err)
	}
	if seen == nil {
		t.Fatal("handler was not invoked")
	}
	if seen.Status() != grant.StatusSuccess {
		t.Fatalf("status = %q", seen.Status())
	}
	for _, r := range resources {
		tok, err := seen.Access(r)
		if err != nil {
			t.Fatalf("access %s: %v", r, err)
		}
		if tok.AccessToken != "tok-for-"+r {
			t.Fatalf("token for %s = %q", r, tok.AccessToken)
		}
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.requests) != 2 {
		t.Fatalf("exchanges = %d, want 2", len(fc.requests))
	}
	for _, req := range fc.requests {
		if req.SubjectToken != "caller-token" {
			t.Fatalf("subject token = %q", req.SubjectToken)
		}
		if req.SubjectTokenType != exchange.TokenTypeAccessToken {
			t.Fatalf("subject token type = %q", req.SubjectTokenType)
		}
	}
}

func TestProvider_PartialFailureStillRunsHandler(t *testing.T) {
	fc := &fakeExchangeClient{failures: map[string]error{
		"https://b.example.com": errors.New("upstream rejected the exchange"),
	}}
	var factoryCalls atomic.Int64
	p := newTestProvider(t, grant.Config{ClientFactory: countingFactory(fc, &factoryCalls)})

	var seen *grant.AccessContext
	wrapped, err := p.Grant([]string{"https://a.example.com", "https://b.example.com"}, func(_ context.Context, _ grant.IdentityContext, access *grant.AccessContext) error {
		seen = access
		return nil
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := wrapped(context.Background(), grant.NewIdentity("caller-token", ""), nil); err != nil {
		t.Fatalf("wrapped: %v", err)
	}

	if seen.Status() != grant.StatusPartialError {
		t.Fatalf("status = %q, want partial_error", seen.Status())
	}
	if _, err := seen.Access("https://a.example.com"); err != nil {
		t.Fatalf("healthy resource must stay accessible: %v", err)
	}
	re := seen.ResourceError("https://b.example.com")
	if re == nil || re.Code != grant.CodeExchangeFailed {
		t.Fatalf("resource error = %+v", re)
	}
	if re.Cause == nil {
		t.Fatal("resource error must carry the underlying cause")
	}
	// The failing resource must not have short-circuited its sibling.
	if fc.exchangeCount() != 2 {
		t.Fatalf("exchanges = %d, want 2", fc.exchangeCount())
	}
}

func TestProvider_MissingTokenSkipsIO(t *testing.T) {
	fc := &fakeExchangeClient{}
	var factoryCalls atomic.Int64
	p := newTestProvider(t, grant.Config{ClientFactory: countingFactory(fc, &factoryCalls)})

	var seen *grant.AccessContext
	wrapped, err := p.Grant([]string{"https://a.example.com"}, func(_ context.Context, _ grant.IdentityContext, access *grant.AccessContext) error {
		seen = access
		return nil
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := wrapped(context.Background(), grant.NewIdentity("", ""), nil); err != nil {
		t.Fatalf("wrapped: %v", err)
	}

	if seen == nil {
		t.Fatal("handler must run even without a token")
	}
	if seen.Status() != grant.StatusError {
		t.Fatalf("status = %q, want error", seen.Status())
	}
	if ge := seen.Error(); ge == nil || ge.Code != grant.CodeAuthenticationRequired {
		t.Fatalf("global error = %+v", ge)
	}
	if factoryCalls.Load() != 0 || fc.exchangeCount() != 0 {
		t.Fatalf("missing token must cost no I/O: factory=%d exchanges=%d", factoryCalls.Load(), fc.exchangeCount())
	}
}

func TestProvider_MultiZoneRequiresZone(t *testing.T) {
	fc := &fakeExchangeClient{}
	var factoryCalls atomic.Int64
	p := newTestProvider(t, grant.Config{MultiZone: true, ClientFactory: countingFactory(fc, &factoryCalls)})

	var seen *grant.AccessContext
	wrapped, err := p.Grant([]string{"https://a.example.com"}, func(_ context.Context, _ grant.IdentityContext, access *grant.AccessContext) error {
		seen = access
		return nil
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := wrapped(context.Background(), grant.NewIdentity("caller-token", ""), nil); err != nil {
		t.Fatalf("wrapped: %v", err)
	}

	if ge := seen.Error(); ge == nil || ge.Code != grant.CodeMissingZoneID {
		t.Fatalf("global error = %+v", ge)
	}
	if factoryCalls.Load() != 0 {
		t.Fatalf("no client should be built without a zone, got %d", factoryCalls.Load())
	}

	// With the zone present the grant proceeds.
	if err := wrapped(context.Background(), grant.NewIdentity("caller-token", "zone-a"), nil); err != nil {
		t.Fatalf("wrapped: %v", err)
	}
	if seen.Status() != grant.StatusSuccess {
		t.Fatalf("status with zone = %q", seen.Status())
	}
}

func TestProvider_ClientFactoryErrorIsServerConfiguration(t *testing.T) {
	p := newTestProvider(t, grant.Config{
		ClientFactory: func(context.Context, string, string) (exchange.Client, error) {
			return nil, errors.New("discovery unreachable")
		},
	})

	var seen *grant.AccessContext
	wrapped, err := p.Grant([]string{"https://a.example.com"}, func(_ context.Context, _ grant.IdentityContext, access *grant.AccessContext) error {
		seen = access
		return nil
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := wrapped(context.Background(), grant.NewIdentity("caller-token", ""), nil); err != nil {
		t.Fatalf("wrapped: %v", err)
	}

	ge := seen.Error()
	if ge == nil || ge.Code != grant.CodeServerConfiguration {
		t.Fatalf("global error = %+v", ge)
	}
	if ge.Cause == nil {
		t.Fatal("factory error must be carried as the cause")
	}
}

func TestProvider_ClientBuiltOncePerZone(t *testing.T) {
	fc := &fakeExchangeClient{}
	var factoryCalls atomic.Int64
	p := newTestProvider(t, grant.Config{MultiZone: true, ClientFactory: countingFactory(fc, &factoryCalls)})

	wrapped, err := p.Grant([]string{"https://a.example.com"}, func(context.Context, grant.IdentityContext, *grant.AccessContext) error {
		return nil
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = wrapped(context.Background(), grant.NewIdentity("caller-token", "zone-a"), nil)
		}()
	}
	wg.Wait()
	if factoryCalls.Load() != 1 {
		t.Fatalf("factory calls for one zone = %d, want 1", factoryCalls.Load())
	}

	if err := wrapped(context.Background(), grant.NewIdentity("caller-token", "zone-b"), nil); err != nil {
		t.Fatalf("wrapped: %v", err)
	}
	if factoryCalls.Load() != 2 {
		t.Fatalf("factory calls across two zones = %d, want 2", factoryCalls.Load())
	}
}

// assertionSupplier stamps a fixed client assertion onto every request.
type assertionSupplier struct {
	err error
}

func (s *assertionSupplier) Prepare(_ context.Context, _ exchange.Client, subjectToken, resource string, info credentials.AuthInfo) (exchange.Request, error) {
	if s.err != nil {
		return exchange.Request{}, s.err
	}
	return exchange.Request{
		SubjectToken:        subjectToken,
		SubjectTokenType:    exchange.TokenTypeAccessToken,
		Resource:            resource,
		ClientAssertion:     "assertion-for-" + info.ResourceClientID,
		ClientAssertionType: exchange.ClientAssertionTypeJWTBearer,
	}, nil
}

func TestProvider_SupplierShapesRequests(t *testing.T) {
	fc := &fakeExchangeClient{}
	var factoryCalls atomic.Int64
	p := newTestProvider(t, grant.Config{
		Supplier:         &assertionSupplier{},
		ResourceClientID: "client-123",
		ClientFactory:    countingFactory(fc, &factoryCalls),
	})

	wrapped, err := p.Grant([]string{"https://a.example.com"}, func(context.Context, grant.IdentityContext, *grant.AccessContext) error {
		return nil
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := wrapped(context.Background(), grant.NewIdentity("caller-token", ""), nil); err != nil {
		t.Fatalf("wrapped: %v", err)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.requests) != 1 {
		t.Fatalf("exchanges = %d", len(fc.requests))
	}
	if got := fc.requests[0].ClientAssertion; got != "assertion-for-client-123" {
		t.Fatalf("client assertion = %q", got)
	}
}

func TestProvider_SupplierFailureIsResourceError(t *testing.T) {
	fc := &fakeExchangeClient{}
	var factoryCalls atomic.Int64
	p := newTestProvider(t, grant.Config{
		Supplier:      &assertionSupplier{err: errors.New("key unavailable")},
		ClientFactory: countingFactory(fc, &factoryCalls),
	})

	var seen *grant.AccessContext
	wrapped, err := p.Grant([]string{"https://a.example.com"}, func(_ context.Context, _ grant.IdentityContext, access *grant.AccessContext) error {
		seen = access
		return nil
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := wrapped(context.Background(), grant.NewIdentity("caller-token", ""), nil); err != nil {
		t.Fatalf("wrapped: %v", err)
	}

	re := seen.ResourceError("https://a.example.com")
	if re == nil || re.Code != grant.CodeExchangeFailed {
		t.Fatalf("resource error = %+v", re)
	}
	if fc.exchangeCount() != 0 {
		t.Fatalf("preparation failure must not reach the wire, got %d exchanges", fc.exchangeCount())
	}
}

func TestProvider_GrantHTTP(t *testing.T) {
	fc := &fakeExchangeClient{}
	var factoryCalls atomic.Int64
	p := newTestProvider(t, grant.Config{MultiZone: true, ClientFactory: countingFactory(fc, &factoryCalls)})

	var gotToken, gotZone string
	var seen *grant.AccessContext
	h, err := p.GrantHTTP([]string{"https://a.example.com"}, func(ctx context.Context, id grant.IdentityContext, access *grant.AccessContext) error {
		gotToken, _ = id.BearerToken()
		gotZone, _ = id.ZoneID()
		seen = access
		if _, ok := grant.IdentityFromContext(ctx); !ok {
			t.Error("identity missing from handler context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("grant http: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	req.Header.Set("Authorization", "Bearer caller-token")
	req.Header.Set(grant.ZoneHeader, "zone-a")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotToken != "caller-token" || gotZone != "zone-a" {
		t.Fatalf("identity = (%q, %q)", gotToken, gotZone)
	}
	if seen.Status() != grant.StatusSuccess {
		t.Fatalf("status = %q", seen.Status())
	}
}

func TestProvider_GrantHTTPHandlerErrorIs500(t *testing.T) {
	fc := &fakeExchangeClient{}
	var factoryCalls atomic.Int64
	p := newTestProvider(t, grant.Config{ClientFactory: countingFactory(fc, &factoryCalls)})

	h, err := p.GrantHTTP([]string{"https://a.example.com"}, func(context.Context, grant.IdentityContext, *grant.AccessContext) error {
		return errors.New("handler blew up")
	})
	if err != nil {
		t.Fatalf("grant http: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	req.Header.Set("Authorization", "Bearer caller-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestProvider_LogRecordsCarryGrantContext(t *testing.T) {
	fc := &fakeExchangeClient{failures: map[string]error{
		"https://b.example.com": errors.New("upstream rejected the exchange"),
	}}
	var factoryCalls atomic.Int64
	var buf bytes.Buffer
	p := newTestProvider(t, grant.Config{
		MultiZone:     true,
		ClientFactory: countingFactory(fc, &factoryCalls),
		Logger:        slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})

	h, err := p.GrantHTTP([]string{"https://b.example.com"}, func(context.Context, grant.IdentityContext, *grant.AccessContext) error {
		return nil
	})
	if err != nil {
		t.Fatalf("grant http: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	req.Header.Set("Authorization", "Bearer caller-token")
	req.Header.Set(grant.ZoneHeader, "zone-a")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if out == "" {
		t.Fatal("expected a log record for the failed exchange")
	}
	for _, want := range []string{
		`"req":{`, `"method":"GET"`, `"path":"/work"`,
		`"grant":{"zone":"zone-a"}`,
		`"exchange":{"resource":"https://b.example.com"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestProvider_SlowZoneDoesNotBlockOthers(t *testing.T) {
	fc := &fakeExchangeClient{}
	entered := make(chan struct{})
	release := make(chan struct{})
	p := newTestProvider(t, grant.Config{
		MultiZone: true,
		ClientFactory: func(_ context.Context, _ string, zone string) (exchange.Client, error) {
			if zone == "zone-a" {
				close(entered)
				<-release
			}
			return fc, nil
		},
	})

	wrapped, err := p.Grant([]string{"https://a.example.com"}, func(context.Context, grant.IdentityContext, *grant.AccessContext) error {
		return nil
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_ = wrapped(context.Background(), grant.NewIdentity("caller-token", "zone-a"), nil)
	}()
	<-entered

	// With zone-a's factory stalled, zone-b must still complete.
	otherDone := make(chan struct{})
	go func() {
		defer close(otherDone)
		_ = wrapped(context.Background(), grant.NewIdentity("caller-token", "zone-b"), nil)
	}()
	select {
	case <-otherDone:
	case <-time.After(2 * time.Second):
		t.Fatal("zone-b grant blocked behind zone-a client construction")
	}

	close(release)
	<-slowDone
}

func TestHTTPIdentity(t *testing.T) {
	t.Run("bearer and zone", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer abc123")
		req.Header.Set(grant.ZoneHeader, "zone-a")
		id := grant.HTTPIdentity(req)
		if tok, ok := id.BearerToken(); !ok || tok != "abc123" {
			t.Fatalf("token = (%q, %v)", tok, ok)
		}
		if zone, ok := id.ZoneID(); !ok || zone != "zone-a" {
			t.Fatalf("zone = (%q, %v)", zone, ok)
		}
	})

	t.Run("non-bearer scheme ignored", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		id := grant.HTTPIdentity(req)
		if _, ok := id.BearerToken(); ok {
			t.Fatal("basic auth must not read as a bearer token")
		}
	})

	t.Run("absent headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		id := grant.HTTPIdentity(req)
		if _, ok := id.BearerToken(); ok {
			t.Fatal("no token expected")
		}
		if _, ok := id.ZoneID(); ok {
			t.Fatal("no zone expected")
		}
	})
}
