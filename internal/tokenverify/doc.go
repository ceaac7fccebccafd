// Package tokenverify verifies bearer tokens issued by an external identity
// provider.
//
// The provider's signing keys are read from <issuer>/.well-known/jwks.json and
// held in a KeyCache for a fixed TTL. A token whose kid is not in the cached
// set causes exactly one forced refresh before it is rejected. Every failure
// is reported as an *Error carrying one of the Reason values.
package tokenverify
