// Package auth verifies inbound bearer tokens for services that perform
// delegated token exchange. It validates a caller's JWT access token
// against an authorization server's signing keys and projects the verified
// claims into a minimal AccessToken.
//
// Two verifier constructions are provided. NewVerifier uses an explicit
// JWKS endpoint with an inspectable TTL key cache (misses fetch the key
// once, concurrent misses for one kid collapse into a single fetch).
// NewFromDiscovery resolves the JWKS endpoint via OIDC discovery and lets
// keyfunc manage key refresh in the background.
//
// Example:
//
//	v, err := auth.NewVerifier(issuer, jwksURI,
//	    auth.WithRequiredScopes("resources:read"),
//	)
//	if err != nil { log.Fatal(err) }
//
//	tok, err := v.Verify(r.Context(), bearerToken)
//	if errors.Is(err, auth.ErrUnauthorized) { /* 401 */ }
//	if errors.Is(err, auth.ErrInsufficientScope) { /* 403 */ }
//
// Verification failures are reported as errors wrapping ErrUnauthorized or
// ErrInsufficientScope; a verifier never panics on untrusted input.
package auth
