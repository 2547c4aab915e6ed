// Package credentials implements the application credential strategies a
// delegating service uses to authenticate itself when exchanging a
// caller's token for downstream access.
//
// A Supplier prepares the token exchange request for one resource,
// attaching whatever proof of identity its strategy requires:
//
//   - ClientSecret relies on HTTP basic authentication at the transport
//     layer and leaves the request itself bare.
//   - WebIdentity signs a short-lived private key JWT client assertion
//     with an RSA key pair persisted in a storage backend, and publishes
//     the matching public JWKS.
//   - EKSWorkloadIdentity reads the platform-issued service account token
//     from disk, federates it into an access token through the token
//     cache, and presents the result as a JWT bearer client assertion.
//
// Errors are classified with two sentinels: ErrConfiguration for problems
// present at construction (bad inputs, missing files, unset environment)
// and ErrRuntime for failures that appear only after a supplier was
// successfully built.
package credentials
