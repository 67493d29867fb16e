// Package security provides the security collaborators for the credential
// store: credential hashing, expiry checks with clock-skew tolerance, and
// rate limiting for client registration.
//
// # Credential Hashing
//
// The Hasher interface abstracts the hashing of client secrets so the store
// never handles plaintext beyond the registration call. BcryptHasher is the
// default implementation; VerifyClientSecret additionally guards against
// timing side channels by always performing a bcrypt comparison, even when
// the client does not exist.
//
// # Expiry
//
// IsExpired applies a small grace period to expiry checks so that minor
// clock drift between the store and its callers does not produce false
// expirations.
package security
