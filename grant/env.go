package grant

import (
	"fmt"

	"github.com/ggoodman/delegate-go/credentials"
	"github.com/joeshaw/envdecode"
)

// EnvConfig is the environment-driven provider configuration.
type EnvConfig struct {
	// Issuer URL of the authorization server. ENV: DELEGATE_ISSUER
	Issuer string `env:"DELEGATE_ISSUER,required"`

	// MultiZone enables zone-scoped clients. ENV: DELEGATE_MULTI_ZONE
	MultiZone bool `env:"DELEGATE_MULTI_ZONE,default=false"`

	// ClientID and ClientSecret configure a ClientSecret supplier when
	// both are set. ENV: DELEGATE_CLIENT_ID / DELEGATE_CLIENT_SECRET
	ClientID     string `env:"DELEGATE_CLIENT_ID"`
	ClientSecret string `env:"DELEGATE_CLIENT_SECRET"`

	// ResourceClientID this service is registered under.
	// ENV: DELEGATE_RESOURCE_CLIENT_ID
	ResourceClientID string `env:"DELEGATE_RESOURCE_CLIENT_ID"`

	// ResourceServerURL is this service's public URL.
	// ENV: DELEGATE_RESOURCE_SERVER_URL
	ResourceServerURL string `env:"DELEGATE_RESOURCE_SERVER_URL"`
}

// NewProviderFromEnv builds a Provider from DELEGATE_* environment
// variables. When both client id and secret are present a ClientSecret
// supplier is wired in; otherwise requests are prepared bare.
func NewProviderFromEnv() (*Provider, error) {
	var ec EnvConfig
	if err := envdecode.StrictDecode(&ec); err != nil {
		return nil, fmt.Errorf("decoding provider environment: %w", err)
	}

	cfg := Config{
		Issuer:            ec.Issuer,
		MultiZone:         ec.MultiZone,
		ResourceClientID:  ec.ResourceClientID,
		ResourceServerURL: ec.ResourceServerURL,
	}
	if ec.ClientID != "" || ec.ClientSecret != "" {
		supplier, err := credentials.NewClientSecret(ec.ClientID, ec.ClientSecret)
		if err != nil {
			return nil, err
		}
		cfg.Supplier = supplier
	}
	return NewProvider(cfg)
}
