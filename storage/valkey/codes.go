package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/authbridge/tokenvault/internal/util"
	"github.com/authbridge/tokenvault/security"
	"github.com/authbridge/tokenvault/storage"
)

// AuthorizationCodeRepository is the Valkey-backed authorization-code
// repository. Codes are single string keys with a server-side TTL; the
// atomic read-and-remove rides on GETDEL, so two concurrent Takes of the
// same code yield exactly one record across all server instances.
type AuthorizationCodeRepository struct {
	s *Store
}

var _ storage.AuthorizationCodeRepository = (*AuthorizationCodeRepository)(nil)

// Save persists a pending code. The key's TTL covers the code lifetime plus
// the clock-skew grace period, matching the expiry check on Take.
func (r *AuthorizationCodeRepository) Save(ctx context.Context, record *storage.AuthorizationCodeRecord) error {
	if record == nil || record.Code == "" {
		return fmt.Errorf("invalid authorization code record")
	}
	s := r.s

	record.Audit.Touch(auditActor)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code record: %w", err)
	}

	var ttl time.Duration
	if !record.ExpiresAt.IsZero() {
		ttl = time.Until(record.ExpiresAt) + security.DefaultClockSkewGracePeriod
		if ttl <= 0 {
			// Already past the grace window; the code could never be
			// redeemed, so there is nothing to store.
			s.logger.Debug("Skipped storing expired authorization code",
				"code", util.SafeTruncate(record.Code, keyLogLength))
			return nil
		}
	}

	if err := s.setJSON(ctx, s.codeKey(record.Code), data, ttl); err != nil {
		return storeErr("save authorization code", err)
	}

	s.logger.Debug("Saved authorization code",
		"code", util.SafeTruncate(record.Code, keyLogLength))
	return nil
}

// Take atomically reads and removes the record for the code.
func (r *AuthorizationCodeRepository) Take(ctx context.Context, code string) (*storage.AuthorizationCodeRecord, error) {
	s := r.s
	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.codeKey(code)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrCodeNotFound, util.SafeTruncate(code, keyLogLength))
		}
		return nil, storeErr("take authorization code", err)
	}

	var record storage.AuthorizationCodeRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code record: %w", err)
	}

	// The TTL should have removed an expired code already; this covers
	// clock skew between server and store.
	if security.IsExpired(record.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s", storage.ErrCodeNotFound, util.SafeTruncate(code, keyLogLength))
	}

	s.logger.Debug("Consumed authorization code",
		"code", util.SafeTruncate(code, keyLogLength))
	return &record, nil
}
