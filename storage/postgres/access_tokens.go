package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/authbridge/tokenvault/storage"
)

// AccessTokenRepository implements storage.AccessTokenRepository over DBTX.
type AccessTokenRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewAccessTokenRepository constructs a repository bound to the given DBTX.
func NewAccessTokenRepository(db DBTX) *AccessTokenRepository {
	return &AccessTokenRepository{db: db, logger: slog.Default()}
}

var _ storage.AccessTokenRepository = (*AccessTokenRepository)(nil)

const accessTokenColumns = `id, token_id, token, authentication_id, client_id, user_name,
		authentication, refresh_token, created_at, created_by, updated_at, updated_by`

// Save inserts the record, replacing an existing row with the same token_id.
func (r *AccessTokenRepository) Save(ctx context.Context, record *storage.AccessTokenRecord) error {
	if record == nil || record.TokenID == "" {
		return fmt.Errorf("invalid access token record")
	}

	record.Audit.Touch(auditActor)
	token, err := encodeToken(record.Token)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO oauth_access_token (` + accessTokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (token_id) DO UPDATE SET
			id = EXCLUDED.id,
			token = EXCLUDED.token,
			authentication_id = EXCLUDED.authentication_id,
			client_id = EXCLUDED.client_id,
			user_name = EXCLUDED.user_name,
			authentication = EXCLUDED.authentication,
			refresh_token = EXCLUDED.refresh_token,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`
	if _, err := r.db.ExecContext(ctx, query,
		record.ID, record.TokenID, token, record.AuthenticationID,
		record.ClientID, record.UserName, record.Authentication, record.RefreshToken,
		record.Audit.CreatedAt, record.Audit.CreatedBy,
		record.Audit.UpdatedAt, record.Audit.UpdatedBy,
	); err != nil {
		return storeErr("save access token", err)
	}
	return nil
}

// FindByTokenID returns the record for the derived key.
func (r *AccessTokenRepository) FindByTokenID(ctx context.Context, tokenID string) (*storage.AccessTokenRecord, error) {
	query := `
		SELECT ` + accessTokenColumns + `
		FROM oauth_access_token
		WHERE token_id = $1
	`
	record, err := scanAccessToken(r.db.QueryRowContext(ctx, query, tokenID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, storeErr("find access token", err)
	}
	return record, nil
}

// DeleteByTokenID removes the record; absent is a no-op success.
func (r *AccessTokenRepository) DeleteByTokenID(ctx context.Context, tokenID string) error {
	query := `
		DELETE FROM oauth_access_token
		WHERE token_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, tokenID); err != nil {
		return storeErr("delete access token", err)
	}
	return nil
}

// FindAllByAuthenticationID returns records for the authentication key,
// ordered by surrogate ID.
func (r *AccessTokenRepository) FindAllByAuthenticationID(ctx context.Context, authenticationID string) ([]*storage.AccessTokenRecord, error) {
	query := `
		SELECT ` + accessTokenColumns + `
		FROM oauth_access_token
		WHERE authentication_id = $1
		ORDER BY id
	`
	return r.query(ctx, query, authenticationID)
}

// FindAllByClientID returns the client's records in insertion order.
func (r *AccessTokenRepository) FindAllByClientID(ctx context.Context, clientID string) ([]*storage.AccessTokenRecord, error) {
	query := `
		SELECT ` + accessTokenColumns + `
		FROM oauth_access_token
		WHERE client_id = $1
		ORDER BY created_at, id
	`
	return r.query(ctx, query, clientID)
}

// FindAllByClientIDAndUserName returns the pair's records in insertion order.
func (r *AccessTokenRepository) FindAllByClientIDAndUserName(ctx context.Context, clientID, userName string) ([]*storage.AccessTokenRecord, error) {
	query := `
		SELECT ` + accessTokenColumns + `
		FROM oauth_access_token
		WHERE client_id = $1 AND user_name = $2
		ORDER BY created_at, id
	`
	return r.query(ctx, query, clientID, userName)
}

// DeleteAllByRefreshToken removes every record linked to the refresh key,
// returning the number removed. A single DELETE keeps the batch atomic.
func (r *AccessTokenRepository) DeleteAllByRefreshToken(ctx context.Context, refreshTokenID string) (int, error) {
	if refreshTokenID == "" {
		return 0, nil
	}

	query := `
		DELETE FROM oauth_access_token
		WHERE refresh_token = $1
	`
	result, err := r.db.ExecContext(ctx, query, refreshTokenID)
	if err != nil {
		return 0, storeErr("cascade delete access tokens", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("cascade delete access tokens", err)
	}
	return int(affected), nil
}

func (r *AccessTokenRepository) query(ctx context.Context, query string, args ...any) ([]*storage.AccessTokenRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query access tokens", err)
	}
	defer rows.Close()

	var records []*storage.AccessTokenRecord
	for rows.Next() {
		record, err := scanAccessToken(rows)
		if err != nil {
			return nil, storeErr("scan access token", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate access tokens", err)
	}
	return records, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccessToken(row rowScanner) (*storage.AccessTokenRecord, error) {
	var (
		record storage.AccessTokenRecord
		token  []byte
	)
	if err := row.Scan(
		&record.ID, &record.TokenID, &token, &record.AuthenticationID,
		&record.ClientID, &record.UserName, &record.Authentication, &record.RefreshToken,
		&record.Audit.CreatedAt, &record.Audit.CreatedBy,
		&record.Audit.UpdatedAt, &record.Audit.UpdatedBy,
	); err != nil {
		return nil, err
	}

	payload, err := decodeToken(token)
	if err != nil {
		return nil, err
	}
	record.Token = payload
	return &record, nil
}
