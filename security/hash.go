package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrCredentialMismatch is returned by Verify when the secret does not match
// the stored hash. Callers must not distinguish this from an unknown client
// in user-visible responses.
var ErrCredentialMismatch = errors.New("credential does not match stored hash")

// dummyHash is a pre-computed bcrypt hash compared against when the real hash
// is unavailable, so that verification takes the same time whether or not the
// client exists. (bcrypt hash of "test")
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Hasher is the credential-hashing collaborator used by the client registry.
// Secrets are hashed once at registration and verified on every client
// authentication; plaintext is never persisted.
type Hasher interface {
	// Hash derives a storable hash from a plaintext secret.
	Hash(secret string) (string, error)

	// Verify reports whether secret matches the stored hash.
	// Returns ErrCredentialMismatch on mismatch.
	Verify(secret, storedHash string) error
}

// BcryptHasher is the default Hasher backed by golang.org/x/crypto/bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher with the given bcrypt cost.
// Costs outside bcrypt's valid range fall back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash derives a bcrypt hash from the secret.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify compares the secret against the stored bcrypt hash.
func (h *BcryptHasher) Verify(secret, storedHash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret)); err != nil {
		return ErrCredentialMismatch
	}
	return nil
}

// VerifyConstantTime verifies a secret against a possibly-absent stored hash.
// When the hash is empty (unknown client, public client), a dummy comparison
// is still performed so the call costs the same either way; the result for an
// empty hash is always ErrCredentialMismatch.
func VerifyConstantTime(h Hasher, secret, storedHash string) error {
	if storedHash == "" {
		_ = h.Verify(secret, dummyHash)
		return ErrCredentialMismatch
	}
	return h.Verify(secret, storedHash)
}
