// Package exchange implements the client side of OAuth 2.0 Token Exchange
// (RFC 8693). It exposes a small Client interface consumed by the grant
// orchestrator and credential suppliers, an HTTP implementation that talks
// to an authorization server's token endpoint, and metadata discovery for
// resolving that endpoint from an issuer URL.
package exchange
