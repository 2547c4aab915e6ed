package credentials

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ggoodman/delegate-go/exchange"
)

// fakeClient records exchange requests and serves canned responses.
type fakeClient struct {
	exchanges   atomic.Int64
	lastRequest exchange.Request
	response    *exchange.TokenResponse
	exchangeErr error
	delay       time.Duration
	meta        *exchange.ServerMetadata
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		response: &exchange.TokenResponse{
			AccessToken: "derived-token",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		},
		meta: &exchange.ServerMetadata{
			Issuer:        "https://test.zone.example",
			TokenEndpoint: "https://test.zone.example/token",
			JWKSURI:       "https://test.zone.example/.well-known/jwks.json",
		},
	}
}

func (f *fakeClient) Exchange(ctx context.Context, req exchange.Request) (*exchange.TokenResponse, error) {
	f.exchanges.Add(1)
	f.lastRequest = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	resp := *f.response
	return &resp, nil
}

func (f *fakeClient) Metadata(_ context.Context) (*exchange.ServerMetadata, error) {
	meta := *f.meta
	return &meta, nil
}

var _ exchange.Client = (*fakeClient)(nil)
