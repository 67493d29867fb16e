package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/authbridge/tokenvault/storage"
)

// PartnerRepository implements storage.PartnerRepository over DBTX.
type PartnerRepository struct {
	db DBTX
}

// NewPartnerRepository constructs a repository bound to the given DBTX.
func NewPartnerRepository(db DBTX) *PartnerRepository {
	return &PartnerRepository{db: db}
}

var _ storage.PartnerRepository = (*PartnerRepository)(nil)

const partnerColumns = `partner_id, client_id, client_secret, scopes, access_token_uri,
		user_authorization_uri, redirect_uri, created_at, created_by, updated_at, updated_by`

// Save inserts or overwrites the partner's details.
func (r *PartnerRepository) Save(ctx context.Context, details *storage.PartnerDetails) error {
	if details == nil || details.PartnerID == "" {
		return fmt.Errorf("invalid partner details")
	}

	details.Audit.Touch(auditActor)

	query := `
		INSERT INTO oauth_partner (` + partnerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (partner_id) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			scopes = EXCLUDED.scopes,
			access_token_uri = EXCLUDED.access_token_uri,
			user_authorization_uri = EXCLUDED.user_authorization_uri,
			redirect_uri = EXCLUDED.redirect_uri,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`
	if _, err := r.db.ExecContext(ctx, query,
		details.PartnerID, details.ClientID, details.ClientSecret,
		joinList(details.Scopes), details.AccessTokenURI,
		details.UserAuthorizationURI, details.PreEstablishedRedirectURI,
		details.Audit.CreatedAt, details.Audit.CreatedBy,
		details.Audit.UpdatedAt, details.Audit.UpdatedBy,
	); err != nil {
		return storeErr("save partner", err)
	}
	return nil
}

// FindByPartnerID returns the partner's details.
func (r *PartnerRepository) FindByPartnerID(ctx context.Context, partnerID string) (*storage.PartnerDetails, error) {
	query := `
		SELECT ` + partnerColumns + `
		FROM oauth_partner
		WHERE partner_id = $1
	`
	details, err := scanPartner(r.db.QueryRowContext(ctx, query, partnerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrPartnerNotFound, partnerID)
		}
		return nil, storeErr("find partner", err)
	}
	return details, nil
}

// DeleteByPartnerID removes the partner; absent is a no-op success.
func (r *PartnerRepository) DeleteByPartnerID(ctx context.Context, partnerID string) error {
	query := `
		DELETE FROM oauth_partner
		WHERE partner_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, partnerID); err != nil {
		return storeErr("delete partner", err)
	}
	return nil
}

// List returns all partners ordered by partner id.
func (r *PartnerRepository) List(ctx context.Context) ([]*storage.PartnerDetails, error) {
	query := `
		SELECT ` + partnerColumns + `
		FROM oauth_partner
		ORDER BY partner_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr("list partners", err)
	}
	defer rows.Close()

	var all []*storage.PartnerDetails
	for rows.Next() {
		details, err := scanPartner(rows)
		if err != nil {
			return nil, storeErr("scan partner", err)
		}
		all = append(all, details)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate partners", err)
	}
	return all, nil
}

func scanPartner(row rowScanner) (*storage.PartnerDetails, error) {
	var (
		details storage.PartnerDetails
		scopes  string
	)
	if err := row.Scan(
		&details.PartnerID, &details.ClientID, &details.ClientSecret,
		&scopes, &details.AccessTokenURI,
		&details.UserAuthorizationURI, &details.PreEstablishedRedirectURI,
		&details.Audit.CreatedAt, &details.Audit.CreatedBy,
		&details.Audit.UpdatedAt, &details.Audit.UpdatedBy,
	); err != nil {
		return nil, err
	}

	details.Scopes = splitList(scopes)
	return &details, nil
}
