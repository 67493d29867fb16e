package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/authbridge/tokenvault/internal/util"
	"github.com/authbridge/tokenvault/security"
	"github.com/authbridge/tokenvault/storage"
)

// AuthorizationCodeRepository implements storage.AuthorizationCodeRepository
// over DBTX.
type AuthorizationCodeRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewAuthorizationCodeRepository constructs a repository bound to the given
// DBTX.
func NewAuthorizationCodeRepository(db DBTX) *AuthorizationCodeRepository {
	return &AuthorizationCodeRepository{db: db, logger: slog.Default()}
}

var _ storage.AuthorizationCodeRepository = (*AuthorizationCodeRepository)(nil)

// Save persists a pending code.
func (r *AuthorizationCodeRepository) Save(ctx context.Context, record *storage.AuthorizationCodeRecord) error {
	if record == nil || record.Code == "" {
		return fmt.Errorf("invalid authorization code record")
	}

	record.Audit.Touch(auditActor)

	query := `
		INSERT INTO oauth_code (id, code, authentication, expires_at,
			created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := r.db.ExecContext(ctx, query,
		record.ID, record.Code, record.Authentication, record.ExpiresAt,
		record.Audit.CreatedAt, record.Audit.CreatedBy,
		record.Audit.UpdatedAt, record.Audit.UpdatedBy,
	); err != nil {
		return storeErr("save authorization code", err)
	}
	return nil
}

// Take atomically reads and removes the code. DELETE ... RETURNING makes the
// statement the whole read-and-remove: of any number of concurrent callers
// across server instances exactly one receives the row.
func (r *AuthorizationCodeRepository) Take(ctx context.Context, code string) (*storage.AuthorizationCodeRecord, error) {
	query := `
		DELETE FROM oauth_code
		WHERE code = $1
		RETURNING id, code, authentication, expires_at,
			created_at, created_by, updated_at, updated_by
	`
	var record storage.AuthorizationCodeRecord
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&record.ID, &record.Code, &record.Authentication, &record.ExpiresAt,
		&record.Audit.CreatedAt, &record.Audit.CreatedBy,
		&record.Audit.UpdatedAt, &record.Audit.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrCodeNotFound
		}
		return nil, storeErr("take authorization code", err)
	}

	if security.IsExpired(record.ExpiresAt) {
		if r.logger != nil {
			r.logger.Debug("Discarded expired authorization code",
				"code_prefix", util.SafeTruncate(code, 8))
		}
		return nil, storage.ErrCodeNotFound
	}

	return &record, nil
}

// DeleteExpired removes codes past their expiry, returning the number
// removed. Suitable for a periodic janitor job; the store itself never
// requires it because Take discards expired codes on contact.
func (r *AuthorizationCodeRepository) DeleteExpired(ctx context.Context) (int, error) {
	query := `
		DELETE FROM oauth_code
		WHERE expires_at < NOW()
	`
	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, storeErr("delete expired authorization codes", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("delete expired authorization codes", err)
	}
	return int(affected), nil
}
