package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/authbridge/tokenvault/internal/util"
	"github.com/authbridge/tokenvault/storage"
)

// RefreshTokenRepository is the Valkey-backed refresh-token repository.
// Refresh tokens have no secondary lookup paths, so each record is a single
// string key.
type RefreshTokenRepository struct {
	s *Store
}

var _ storage.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

// Save persists a refresh-token record.
func (r *RefreshTokenRepository) Save(ctx context.Context, record *storage.RefreshTokenRecord) error {
	if record == nil || record.TokenID == "" {
		return fmt.Errorf("invalid refresh token record")
	}
	s := r.s

	record.Audit.Touch(auditActor)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token record: %w", err)
	}

	ttl := s.recordTTL(record.Token.ExpiresAt)
	if err := s.setJSON(ctx, s.refreshKey(record.TokenID), data, ttl); err != nil {
		return storeErr("save refresh token", err)
	}

	s.logger.Debug("Saved refresh token",
		"token_id", util.SafeTruncate(record.TokenID, keyLogLength))
	return nil
}

// FindByTokenID returns the refresh-token record for the derived key.
func (r *RefreshTokenRepository) FindByTokenID(ctx context.Context, tokenID string) (*storage.RefreshTokenRecord, error) {
	s := r.s
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.refreshKey(tokenID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, util.SafeTruncate(tokenID, keyLogLength))
		}
		return nil, storeErr("get refresh token", err)
	}

	var record storage.RefreshTokenRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token record: %w", err)
	}
	return &record, nil
}

// DeleteByTokenID removes the refresh-token record; absent is a no-op
// success.
func (r *RefreshTokenRepository) DeleteByTokenID(ctx context.Context, tokenID string) error {
	s := r.s
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.refreshKey(tokenID)).Build()).Error(); err != nil {
		return storeErr("delete refresh token", err)
	}
	return nil
}
