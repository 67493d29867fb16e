package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/authbridge/tokenvault/storage"
)

// RefreshTokenRepository implements storage.RefreshTokenRepository over DBTX.
type RefreshTokenRepository struct {
	db DBTX
}

// NewRefreshTokenRepository constructs a repository bound to the given DBTX.
func NewRefreshTokenRepository(db DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

var _ storage.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

// Save inserts the record, replacing an existing row with the same token_id.
func (r *RefreshTokenRepository) Save(ctx context.Context, record *storage.RefreshTokenRecord) error {
	if record == nil || record.TokenID == "" {
		return fmt.Errorf("invalid refresh token record")
	}

	record.Audit.Touch(auditActor)
	token, err := encodeToken(record.Token)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO oauth_refresh_token (id, token_id, token, authentication,
			created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token_id) DO UPDATE SET
			id = EXCLUDED.id,
			token = EXCLUDED.token,
			authentication = EXCLUDED.authentication,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`
	if _, err := r.db.ExecContext(ctx, query,
		record.ID, record.TokenID, token, record.Authentication,
		record.Audit.CreatedAt, record.Audit.CreatedBy,
		record.Audit.UpdatedAt, record.Audit.UpdatedBy,
	); err != nil {
		return storeErr("save refresh token", err)
	}
	return nil
}

// FindByTokenID returns the record for the derived key.
func (r *RefreshTokenRepository) FindByTokenID(ctx context.Context, tokenID string) (*storage.RefreshTokenRecord, error) {
	query := `
		SELECT id, token_id, token, authentication,
			created_at, created_by, updated_at, updated_by
		FROM oauth_refresh_token
		WHERE token_id = $1
	`
	var (
		record storage.RefreshTokenRecord
		token  []byte
	)
	err := r.db.QueryRowContext(ctx, query, tokenID).Scan(
		&record.ID, &record.TokenID, &token, &record.Authentication,
		&record.Audit.CreatedAt, &record.Audit.CreatedBy,
		&record.Audit.UpdatedAt, &record.Audit.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, storeErr("find refresh token", err)
	}

	payload, err := decodeToken(token)
	if err != nil {
		return nil, storeErr("decode refresh token", err)
	}
	record.Token = payload
	return &record, nil
}

// DeleteByTokenID removes the record; absent is a no-op success.
func (r *RefreshTokenRepository) DeleteByTokenID(ctx context.Context, tokenID string) error {
	query := `
		DELETE FROM oauth_refresh_token
		WHERE token_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, tokenID); err != nil {
		return storeErr("delete refresh token", err)
	}
	return nil
}
