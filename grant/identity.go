package grant

import (
	"context"
	"net/http"
	"strings"
)

// ZoneHeader is the request header HTTPIdentity reads the zone id from.
const ZoneHeader = "X-Zone-Id"

// IdentityContext exposes the caller's identity to the grant flow. The
// second return reports presence so absent values are distinguishable
// from empty ones.
type IdentityContext interface {
	// BearerToken returns the caller's verified access token.
	BearerToken() (string, bool)

	// ZoneID returns the authorization zone the call targets. Only
	// consulted in multi-zone deployments.
	ZoneID() (string, bool)
}

type identity struct {
	token string
	zone  string
}

func (id identity) BearerToken() (string, bool) { return id.token, id.token != "" }
func (id identity) ZoneID() (string, bool)      { return id.zone, id.zone != "" }

// NewIdentity builds an IdentityContext from explicit values. Empty
// strings read back as absent.
func NewIdentity(bearerToken, zoneID string) IdentityContext {
	return identity{token: bearerToken, zone: zoneID}
}

// HTTPIdentity extracts the caller identity from an HTTP request: the
// bearer token from the Authorization header and the zone id from the
// ZoneHeader header. Deployments with other conventions build their own
// IdentityContext with NewIdentity.
func HTTPIdentity(r *http.Request) IdentityContext {
	var token string
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, rest, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			token = strings.TrimSpace(rest)
		}
	}
	return identity{token: token, zone: r.Header.Get(ZoneHeader)}
}

type identityContextKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id IdentityContext) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the identity attached by WithIdentity.
func IdentityFromContext(ctx context.Context) (IdentityContext, bool) {
	id, ok := ctx.Value(identityContextKey{}).(IdentityContext)
	return id, ok
}
