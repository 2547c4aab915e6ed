package grant

import (
	"errors"
	"testing"

	"github.com/ggoodman/delegate-go/credentials"
)

func TestNewProviderFromEnv(t *testing.T) {
	t.Run("minimal", func(t *testing.T) {
		t.Setenv("DELEGATE_ISSUER", "https://issuer.example.com")
		p, err := NewProviderFromEnv()
		if err != nil {
			t.Fatalf("from env: %v", err)
		}
		if p.cfg.Issuer != "https://issuer.example.com" {
			t.Fatalf("issuer = %q", p.cfg.Issuer)
		}
		if p.cfg.Supplier != nil {
			t.Fatal("no supplier expected without client credentials")
		}
	})

	t.Run("client secret supplier", func(t *testing.T) {
		t.Setenv("DELEGATE_ISSUER", "https://issuer.example.com")
		t.Setenv("DELEGATE_MULTI_ZONE", "true")
		t.Setenv("DELEGATE_CLIENT_ID", "client-123")
		t.Setenv("DELEGATE_CLIENT_SECRET", "hunter2")
		p, err := NewProviderFromEnv()
		if err != nil {
			t.Fatalf("from env: %v", err)
		}
		if !p.cfg.MultiZone {
			t.Fatal("multi-zone flag not decoded")
		}
		if _, ok := p.cfg.Supplier.(*credentials.ClientSecret); !ok {
			t.Fatalf("supplier = %T, want *credentials.ClientSecret", p.cfg.Supplier)
		}
	})

	t.Run("half of a credential pair", func(t *testing.T) {
		t.Setenv("DELEGATE_ISSUER", "https://issuer.example.com")
		t.Setenv("DELEGATE_CLIENT_ID", "client-123")
		if _, err := NewProviderFromEnv(); !errors.Is(err, credentials.ErrConfiguration) {
			t.Fatalf("want ErrConfiguration, got %v", err)
		}
	})

	t.Run("missing issuer", func(t *testing.T) {
		t.Setenv("DELEGATE_ISSUER", "")
		if _, err := NewProviderFromEnv(); err == nil {
			t.Fatal("missing issuer must fail")
		}
	})
}

func TestZoneScopedIssuer(t *testing.T) {
	cases := []struct {
		name   string
		issuer string
		zone   string
		want   string
		ok     bool
	}{
		{"plain host", "https://auth.example.com", "zone-a", "https://zone-a.auth.example.com", true},
		{"port preserved", "https://auth.example.com:8443", "zone-a", "https://zone-a.auth.example.com:8443", true},
		{"path preserved", "https://auth.example.com/oauth", "zone-b", "https://zone-b.auth.example.com/oauth", true},
		{"hostless issuer", "not a url", "zone-a", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := zoneScopedIssuer(tc.issuer, tc.zone)
			if tc.ok != (err == nil) {
				t.Fatalf("err = %v, want ok=%v", err, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("scoped = %q, want %q", got, tc.want)
			}
		})
	}
}
