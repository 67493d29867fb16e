package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period for expiry checks.
	// Token and code expiries are compared against wall-clock time on whatever
	// host runs the store; NTP drift between that host and the issuer would
	// otherwise produce false expirations at the boundary. 5 seconds covers
	// typical drift without meaningfully extending token lifetime.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsExpired checks if a credential is expired with the default clock skew grace period.
// A zero expiry means the credential never expires.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks if a credential is expired with a custom grace period.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false // no expiration
	}

	return time.Now().After(expiresAt.Add(gracePeriod))
}
