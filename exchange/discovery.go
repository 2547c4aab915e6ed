package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Discover fetches authorization server metadata for issuer via OIDC
// discovery. The returned metadata must carry a token endpoint and a JWKS
// URI; anything else is advisory.
func Discover(ctx context.Context, issuer string, hc *http.Client) (*ServerMetadata, error) {
	if issuer == "" {
		return nil, fmt.Errorf("exchange: issuer is required for discovery")
	}
	if hc != nil {
		ctx = oidc.ClientContext(ctx, hc)
	}
	provider, err := oidc.NewProvider(ctx, strings.TrimRight(issuer, "/"))
	if err != nil {
		return nil, fmt.Errorf("exchange: metadata discovery failed: %w", err)
	}

	var meta ServerMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("exchange: invalid discovery metadata: %w", err)
	}

	missing := []string{}
	if meta.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if meta.JWKSURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("exchange: discovery incomplete: missing %s", strings.Join(missing, ", "))
	}
	return &meta, nil
}
