package credentials

import (
	"context"
	"errors"

	"github.com/ggoodman/delegate-go/exchange"
)

// ErrConfiguration indicates a supplier was built with invalid inputs or
// its environment was unusable at construction time.
var ErrConfiguration = errors.New("credentials: invalid configuration")

// ErrRuntime indicates a supplier that constructed successfully failed
// while preparing a request.
var ErrRuntime = errors.New("credentials: runtime failure")

// AuthInfo carries per-call context a supplier may need when preparing an
// exchange request. Fields a strategy does not use are ignored.
type AuthInfo struct {
	// ZoneID identifies the authorization zone the call targets, when the
	// deployment spans more than one.
	ZoneID string

	// ResourceClientID is the client identifier the delegating service is
	// registered under. WebIdentity requires it for assertion issuance.
	ResourceClientID string

	// AccessToken is the caller's verified bearer token.
	AccessToken string

	// ResourceServerURL is the public URL of the delegating service.
	ResourceServerURL string
}

// Supplier prepares a token exchange request for one downstream resource,
// attaching the strategy's client authentication material.
type Supplier interface {
	Prepare(ctx context.Context, client exchange.Client, subjectToken, resource string, info AuthInfo) (exchange.Request, error)
}
