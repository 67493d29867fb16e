package postgres

import (
	"context"
	"fmt"

	"github.com/authbridge/tokenvault/storage"
)

// PartnerTokenRepository implements storage.PartnerTokenRepository over DBTX.
type PartnerTokenRepository struct {
	db DBTX
}

// NewPartnerTokenRepository constructs a repository bound to the given DBTX.
func NewPartnerTokenRepository(db DBTX) *PartnerTokenRepository {
	return &PartnerTokenRepository{db: db}
}

var _ storage.PartnerTokenRepository = (*PartnerTokenRepository)(nil)

// Save persists a partner-token record.
func (r *PartnerTokenRepository) Save(ctx context.Context, record *storage.PartnerTokenRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("invalid partner token record")
	}

	record.Audit.Touch(auditActor)
	token, err := encodeToken(record.Token)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO oauth_partner_token (id, token_id, token, authentication_id,
			client_id, user_name, created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := r.db.ExecContext(ctx, query,
		record.ID, record.TokenID, token, record.AuthenticationID,
		record.ClientID, record.UserName,
		record.Audit.CreatedAt, record.Audit.CreatedBy,
		record.Audit.UpdatedAt, record.Audit.UpdatedBy,
	); err != nil {
		return storeErr("save partner token", err)
	}
	return nil
}

// FindAllByAuthenticationID returns the partner tokens for the key in
// insertion order.
func (r *PartnerTokenRepository) FindAllByAuthenticationID(ctx context.Context, authenticationID string) ([]*storage.PartnerTokenRecord, error) {
	query := `
		SELECT id, token_id, token, authentication_id, client_id, user_name,
			created_at, created_by, updated_at, updated_by
		FROM oauth_partner_token
		WHERE authentication_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, authenticationID)
	if err != nil {
		return nil, storeErr("query partner tokens", err)
	}
	defer rows.Close()

	var records []*storage.PartnerTokenRecord
	for rows.Next() {
		var (
			record storage.PartnerTokenRecord
			token  []byte
		)
		if err := rows.Scan(
			&record.ID, &record.TokenID, &token, &record.AuthenticationID,
			&record.ClientID, &record.UserName,
			&record.Audit.CreatedAt, &record.Audit.CreatedBy,
			&record.Audit.UpdatedAt, &record.Audit.UpdatedBy,
		); err != nil {
			return nil, storeErr("scan partner token", err)
		}
		payload, err := decodeToken(token)
		if err != nil {
			return nil, storeErr("decode partner token", err)
		}
		record.Token = payload
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate partner tokens", err)
	}
	return records, nil
}

// DeleteAllByAuthenticationID removes the partner tokens for the key,
// returning the number removed.
func (r *PartnerTokenRepository) DeleteAllByAuthenticationID(ctx context.Context, authenticationID string) (int, error) {
	query := `
		DELETE FROM oauth_partner_token
		WHERE authentication_id = $1
	`
	result, err := r.db.ExecContext(ctx, query, authenticationID)
	if err != nil {
		return 0, storeErr("delete partner tokens", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("delete partner tokens", err)
	}
	return int(affected), nil
}
