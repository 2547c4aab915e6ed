// Package grant orchestrates delegated token exchange around request
// handlers. A Provider wraps a handler with the resources it needs; per
// call, the caller's verified bearer token is exchanged for a downstream
// access token per resource, and the results (tokens and failures alike)
// are delivered to the handler through an AccessContext.
//
// Exchange failures are data, not control flow: the wrapped handler is
// always invoked, and it decides what to do about missing resources. This
// makes partial success an intentional, inspectable state rather than an
// exception path.
package grant
