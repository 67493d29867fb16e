package storage

import "errors"

// Sentinel errors returned by repository implementations. Lookup misses are
// routine: callers match them with errors.Is and translate them into absent
// results rather than failures. ErrStoreUnavailable is the one retryable
// kind; absence must never be retried.
var (
	// ErrTokenNotFound indicates no record exists for the derived token key.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired indicates the record exists but its payload is past
	// expiry (after the clock-skew grace period).
	ErrTokenExpired = errors.New("token expired")

	// ErrCodeNotFound indicates the authorization code is absent, already
	// consumed, or expired. Concurrent consumers of the same code observe
	// exactly one success; all others observe this error.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrClientNotFound indicates no client is registered under the id.
	ErrClientNotFound = errors.New("client not found")

	// ErrClientExists indicates a registration attempt for an id already taken.
	ErrClientExists = errors.New("client already exists")

	// ErrPartnerNotFound indicates no partner is registered under the id.
	ErrPartnerNotFound = errors.New("partner not found")

	// ErrApprovalNotFound indicates no approval exists for the user/client pair.
	ErrApprovalNotFound = errors.New("approval not found")

	// ErrCorruptAuthentication indicates a stored authentication context
	// failed to decode. Read paths treat it as not-found but log it
	// distinctly for operability.
	ErrCorruptAuthentication = errors.New("stored authentication context is unreadable")

	// ErrStoreUnavailable indicates a transient storage failure
	// (connectivity, cancellation, serialization I/O). Callers may retry
	// with backoff.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)
