package credentials

import (
	"context"
	"fmt"

	"github.com/ggoodman/delegate-go/exchange"
)

// BasicCredential is a client id and secret pair presented to the
// authorization server via HTTP basic authentication.
type BasicCredential struct {
	ID     string
	Secret string
}

// ClientSecret authenticates the delegating service with a shared client
// secret. Authentication happens at the transport layer, so the prepared
// request carries no client assertion.
//
// A ClientSecret holds either a single credential or a zone keyed map for
// multi-zone deployments.
type ClientSecret struct {
	single *BasicCredential
	zones  map[string]BasicCredential
}

// NewClientSecret builds a single-zone supplier from one credential pair.
func NewClientSecret(clientID, clientSecret string) (*ClientSecret, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("client id and secret are required: %w", ErrConfiguration)
	}
	return &ClientSecret{single: &BasicCredential{ID: clientID, Secret: clientSecret}}, nil
}

// NewMultiZoneClientSecret builds a supplier holding one credential pair
// per zone.
func NewMultiZoneClientSecret(zones map[string]BasicCredential) (*ClientSecret, error) {
	if len(zones) == 0 {
		return nil, fmt.Errorf("at least one zone credential is required: %w", ErrConfiguration)
	}
	m := make(map[string]BasicCredential, len(zones))
	for zone, cred := range zones {
		if zone == "" || cred.ID == "" || cred.Secret == "" {
			return nil, fmt.Errorf("zone %q has incomplete credentials: %w", zone, ErrConfiguration)
		}
		m[zone] = cred
	}
	return &ClientSecret{zones: m}, nil
}

// BasicAuth returns the credential pair for zone. A single-zone supplier
// ignores the zone argument.
func (c *ClientSecret) BasicAuth(zone string) (BasicCredential, error) {
	if c.single != nil {
		return *c.single, nil
	}
	cred, ok := c.zones[zone]
	if !ok {
		return BasicCredential{}, fmt.Errorf("no credentials for zone %q: %w", zone, ErrConfiguration)
	}
	return cred, nil
}

// HasZone reports whether the supplier holds credentials for zone.
func (c *ClientSecret) HasZone(zone string) bool {
	if c.single != nil {
		return true
	}
	_, ok := c.zones[zone]
	return ok
}

func (c *ClientSecret) Prepare(_ context.Context, _ exchange.Client, subjectToken, resource string, info AuthInfo) (exchange.Request, error) {
	if _, err := c.BasicAuth(info.ZoneID); err != nil {
		return exchange.Request{}, err
	}
	return exchange.Request{
		SubjectToken:     subjectToken,
		SubjectTokenType: exchange.TokenTypeAccessToken,
		Resource:         resource,
	}, nil
}

var _ Supplier = (*ClientSecret)(nil)
