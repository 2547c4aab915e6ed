package grant

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ggoodman/delegate-go/exchange"
)

// ErrResourceAccess indicates a resource's token was requested from an
// AccessContext that does not hold one.
var ErrResourceAccess = errors.New("grant: resource access not granted")

// Machine-readable error codes recorded on an AccessContext.
const (
	CodeExchangeFailed         = "exchange_token_failed"
	CodeAuthenticationRequired = "authentication_required"
	CodeMissingZoneID          = "missing_zone_id"
	CodeServerConfiguration    = "server_configuration"
	CodeUnexpected             = "unexpected_error"
)

// ResourceError describes why a resource (or the whole grant) failed.
type ResourceError struct {
	// Message is a human-readable description.
	Message string

	// Code is one of the Code* constants.
	Code string

	// Cause is the underlying error, when one exists.
	Cause error
}

func (e *ResourceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *ResourceError) Unwrap() error { return e.Cause }

// Status summarizes an AccessContext.
type Status string

const (
	// StatusSuccess means every requested resource holds a token.
	StatusSuccess Status = "success"

	// StatusPartialError means some resources failed while others hold
	// tokens.
	StatusPartialError Status = "partial_error"

	// StatusError means a global failure prevented all exchanges.
	StatusError Status = "error"
)

// AccessContext holds the outcome of a grant: per-resource tokens, per
// resource failures, and at most one global failure. For any resource it
// holds either a token or an error, never both. Safe for concurrent use.
type AccessContext struct {
	mu        sync.Mutex
	tokens    map[string]*exchange.TokenResponse
	resErrors map[string]*ResourceError
	global    *ResourceError
}

// NewAccessContext returns an empty AccessContext.
func NewAccessContext() *AccessContext {
	return &AccessContext{
		tokens:    make(map[string]*exchange.TokenResponse),
		resErrors: make(map[string]*ResourceError),
	}
}

// SetToken records a successful exchange for resource, clearing any
// previously recorded error for it.
func (a *AccessContext) SetToken(resource string, tok *exchange.TokenResponse) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[resource] = tok
	delete(a.resErrors, resource)
}

// SetResourceError records a failure for resource. A recorded error
// displaces any token held for the same resource.
func (a *AccessContext) SetResourceError(resource string, err *ResourceError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resErrors[resource] = err
	delete(a.tokens, resource)
}

// SetError records a failure affecting the entire grant.
func (a *AccessContext) SetError(err *ResourceError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.global = err
}

// HasError reports whether a global error is recorded.
func (a *AccessContext) HasError() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.global != nil
}

// HasErrors reports whether any error, global or per resource, is
// recorded.
func (a *AccessContext) HasErrors() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.global != nil || len(a.resErrors) > 0
}

// HasResourceError reports whether resource has a recorded error.
func (a *AccessContext) HasResourceError(resource string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.resErrors[resource]
	return ok
}

// Error returns the global error, or nil.
func (a *AccessContext) Error() *ResourceError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.global
}

// ResourceError returns the error recorded for resource, or nil.
func (a *AccessContext) ResourceError(resource string) *ResourceError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resErrors[resource]
}

// Errors returns every per-resource error keyed by resource.
func (a *AccessContext) Errors() map[string]*ResourceError {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]*ResourceError, len(a.resErrors))
	for k, v := range a.resErrors {
		out[k] = v
	}
	return out
}

// Status reports the overall outcome: a global error dominates, any
// resource error yields partial_error, otherwise success.
func (a *AccessContext) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.global != nil:
		return StatusError
	case len(a.resErrors) > 0:
		return StatusPartialError
	default:
		return StatusSuccess
	}
}

// SuccessfulResources lists resources holding tokens.
func (a *AccessContext) SuccessfulResources() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.tokens))
	for r := range a.tokens {
		out = append(out, r)
	}
	return out
}

// FailedResources lists resources with recorded errors.
func (a *AccessContext) FailedResources() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.resErrors))
	for r := range a.resErrors {
		out = append(out, r)
	}
	return out
}

// Access returns the token exchanged for resource. It fails with an error
// wrapping ErrResourceAccess when a global error is recorded, when the
// resource failed, or when the resource was never requested.
func (a *AccessContext) Access(resource string) (*exchange.TokenResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.global != nil {
		return nil, fmt.Errorf("%w: %s", ErrResourceAccess, a.global.Error())
	}
	if re, ok := a.resErrors[resource]; ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceAccess, re.Error())
	}
	tok, ok := a.tokens[resource]
	if !ok {
		return nil, fmt.Errorf("%w: resource %q was not requested", ErrResourceAccess, resource)
	}
	return tok, nil
}
