package postgres

import (
	"context"
	"fmt"

	"github.com/authbridge/tokenvault/storage"
)

// ApprovalRepository implements storage.ApprovalRepository over DBTX.
type ApprovalRepository struct {
	db DBTX
}

// NewApprovalRepository constructs a repository bound to the given DBTX.
func NewApprovalRepository(db DBTX) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

var _ storage.ApprovalRepository = (*ApprovalRepository)(nil)

// Save persists a consent record; re-approving a (user, client, scope)
// combination refreshes the existing row.
func (r *ApprovalRepository) Save(ctx context.Context, record *storage.ApprovalRecord) error {
	if record == nil || record.UserName == "" || record.ClientID == "" {
		return fmt.Errorf("invalid approval record")
	}

	record.Audit.Touch(auditActor)

	query := `
		INSERT INTO oauth_approvals (user_name, client_id, scope, approved_at, expires_at,
			created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_name, client_id, scope) DO UPDATE SET
			approved_at = EXCLUDED.approved_at,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`
	if _, err := r.db.ExecContext(ctx, query,
		record.UserName, record.ClientID, record.Scope,
		record.ApprovedAt, record.ExpiresAt,
		record.Audit.CreatedAt, record.Audit.CreatedBy,
		record.Audit.UpdatedAt, record.Audit.UpdatedBy,
	); err != nil {
		return storeErr("save approval", err)
	}
	return nil
}

// FindAllByUserAndClient returns the pair's consent records.
func (r *ApprovalRepository) FindAllByUserAndClient(ctx context.Context, userName, clientID string) ([]*storage.ApprovalRecord, error) {
	query := `
		SELECT user_name, client_id, scope, approved_at, expires_at,
			created_at, created_by, updated_at, updated_by
		FROM oauth_approvals
		WHERE user_name = $1 AND client_id = $2
		ORDER BY scope
	`
	rows, err := r.db.QueryContext(ctx, query, userName, clientID)
	if err != nil {
		return nil, storeErr("query approvals", err)
	}
	defer rows.Close()

	var records []*storage.ApprovalRecord
	for rows.Next() {
		var record storage.ApprovalRecord
		if err := rows.Scan(
			&record.UserName, &record.ClientID, &record.Scope,
			&record.ApprovedAt, &record.ExpiresAt,
			&record.Audit.CreatedAt, &record.Audit.CreatedBy,
			&record.Audit.UpdatedAt, &record.Audit.UpdatedBy,
		); err != nil {
			return nil, storeErr("scan approval", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate approvals", err)
	}
	return records, nil
}

// DeleteAllByUserAndClient removes the pair's consent records, returning the
// number removed.
func (r *ApprovalRepository) DeleteAllByUserAndClient(ctx context.Context, userName, clientID string) (int, error) {
	query := `
		DELETE FROM oauth_approvals
		WHERE user_name = $1 AND client_id = $2
	`
	result, err := r.db.ExecContext(ctx, query, userName, clientID)
	if err != nil {
		return 0, storeErr("delete approvals", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("delete approvals", err)
	}
	return int(affected), nil
}
