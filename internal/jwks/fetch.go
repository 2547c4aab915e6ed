package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	jose "github.com/go-jose/go-jose/v4"
)

const maxJWKSBytes = 1 << 20

// Fetch retrieves the JWKS document at uri and returns the verification key
// matching kid. A kid-less lookup succeeds only against a single-key set.
func Fetch(ctx context.Context, hc *http.Client, uri string, kid string) (Key, error) {
	if uri == "" {
		return Key{}, fmt.Errorf("jwks: uri is required")
	}
	if hc == nil {
		hc = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return Key{}, fmt.Errorf("jwks: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return Key{}, fmt.Errorf("jwks: fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Key{}, fmt.Errorf("jwks: fetch %s: status %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return Key{}, fmt.Errorf("jwks: read response: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return Key{}, fmt.Errorf("jwks: parse document: %w", err)
	}
	if len(set.Keys) == 0 {
		return Key{}, fmt.Errorf("jwks: document at %s has no keys", uri)
	}

	jwk, err := selectKey(set, kid)
	if err != nil {
		return Key{}, err
	}
	if !jwk.Valid() {
		return Key{}, fmt.Errorf("jwks: key %q is invalid", kid)
	}
	return Key{Public: jwk.Key, Algorithm: jwk.Algorithm}, nil
}

func selectKey(set jose.JSONWebKeySet, kid string) (jose.JSONWebKey, error) {
	if kid == "" {
		if len(set.Keys) == 1 {
			return set.Keys[0], nil
		}
		return jose.JSONWebKey{}, fmt.Errorf("jwks: token has no kid and document has %d keys", len(set.Keys))
	}
	for _, k := range set.Keys {
		if k.KeyID == kid {
			return k, nil
		}
	}
	return jose.JSONWebKey{}, fmt.Errorf("jwks: no key with kid %q", kid)
}
