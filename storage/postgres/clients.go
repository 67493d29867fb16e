package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/authbridge/tokenvault/storage"
)

// ClientRepository implements storage.ClientRepository over DBTX.
type ClientRepository struct {
	db DBTX
}

// NewClientRepository constructs a repository bound to the given DBTX.
func NewClientRepository(db DBTX) *ClientRepository {
	return &ClientRepository{db: db}
}

var _ storage.ClientRepository = (*ClientRepository)(nil)

const clientColumns = `client_id, client_secret_hash, scopes, grant_types, redirect_uris,
		authorities, auto_approve_scopes, access_token_validity, refresh_token_validity,
		created_at, created_by, updated_at, updated_by`

// Save inserts or overwrites the client's details.
func (r *ClientRepository) Save(ctx context.Context, details *storage.ClientDetails) error {
	if details == nil || details.ClientID == "" {
		return fmt.Errorf("invalid client details")
	}

	details.Audit.Touch(auditActor)

	query := `
		INSERT INTO oauth_client_details (` + clientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (client_id) DO UPDATE SET
			client_secret_hash = EXCLUDED.client_secret_hash,
			scopes = EXCLUDED.scopes,
			grant_types = EXCLUDED.grant_types,
			redirect_uris = EXCLUDED.redirect_uris,
			authorities = EXCLUDED.authorities,
			auto_approve_scopes = EXCLUDED.auto_approve_scopes,
			access_token_validity = EXCLUDED.access_token_validity,
			refresh_token_validity = EXCLUDED.refresh_token_validity,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`
	if _, err := r.db.ExecContext(ctx, query,
		details.ClientID, details.ClientSecretHash,
		joinList(details.Scopes), joinList(details.GrantTypes),
		joinList(details.RedirectURIs), joinList(details.Authorities),
		joinList(details.AutoApproveScopes),
		details.AccessTokenValidity, details.RefreshTokenValidity,
		details.Audit.CreatedAt, details.Audit.CreatedBy,
		details.Audit.UpdatedAt, details.Audit.UpdatedBy,
	); err != nil {
		return storeErr("save client", err)
	}
	return nil
}

// FindByClientID returns the client's details.
func (r *ClientRepository) FindByClientID(ctx context.Context, clientID string) (*storage.ClientDetails, error) {
	query := `
		SELECT ` + clientColumns + `
		FROM oauth_client_details
		WHERE client_id = $1
	`
	details, err := scanClient(r.db.QueryRowContext(ctx, query, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, storeErr("find client", err)
	}
	return details, nil
}

// DeleteByClientID removes the client; absent is a no-op success.
func (r *ClientRepository) DeleteByClientID(ctx context.Context, clientID string) error {
	query := `
		DELETE FROM oauth_client_details
		WHERE client_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, clientID); err != nil {
		return storeErr("delete client", err)
	}
	return nil
}

// List returns all registered clients ordered by client id.
func (r *ClientRepository) List(ctx context.Context) ([]*storage.ClientDetails, error) {
	query := `
		SELECT ` + clientColumns + `
		FROM oauth_client_details
		ORDER BY client_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storeErr("list clients", err)
	}
	defer rows.Close()

	var all []*storage.ClientDetails
	for rows.Next() {
		details, err := scanClient(rows)
		if err != nil {
			return nil, storeErr("scan client", err)
		}
		all = append(all, details)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate clients", err)
	}
	return all, nil
}

func scanClient(row rowScanner) (*storage.ClientDetails, error) {
	var (
		details                                             storage.ClientDetails
		scopes, grants, redirects, authorities, autoApprove string
	)
	if err := row.Scan(
		&details.ClientID, &details.ClientSecretHash,
		&scopes, &grants, &redirects, &authorities, &autoApprove,
		&details.AccessTokenValidity, &details.RefreshTokenValidity,
		&details.Audit.CreatedAt, &details.Audit.CreatedBy,
		&details.Audit.UpdatedAt, &details.Audit.UpdatedBy,
	); err != nil {
		return nil, err
	}

	details.Scopes = splitList(scopes)
	details.GrantTypes = splitList(grants)
	details.RedirectURIs = splitList(redirects)
	details.Authorities = splitList(authorities)
	details.AutoApproveScopes = splitList(autoApprove)
	return &details, nil
}
