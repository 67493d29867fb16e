package tokenvault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/authbridge/tokenvault/instrumentation"
	"github.com/authbridge/tokenvault/internal/util"
	"github.com/authbridge/tokenvault/storage"
)

// ApprovalRevoker manages user consent records and coordinates the cascade
// that revoking consent implies: once a user withdraws approval for a
// client, the access tokens that approval justified must go too.
type ApprovalRevoker struct {
	approvals    storage.ApprovalRepository
	accessTokens storage.AccessTokenRepository
	logger       *slog.Logger
	inst         *instrumentation.Instrumentation
}

// NewApprovalRevoker creates a revoker over the given repositories.
func NewApprovalRevoker(approvals storage.ApprovalRepository, accessTokens storage.AccessTokenRepository) *ApprovalRevoker {
	return &ApprovalRevoker{
		approvals:    approvals,
		accessTokens: accessTokens,
		logger:       slog.Default(),
	}
}

// SetLogger sets a custom logger.
func (r *ApprovalRevoker) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the revoker.
func (r *ApprovalRevoker) SetInstrumentation(inst *instrumentation.Instrumentation) {
	r.inst = inst
}

// Approve records a user's consent for a client to act within a scope.
// Re-approving an existing (user, client, scope) combination refreshes it.
func (r *ApprovalRevoker) Approve(ctx context.Context, record *storage.ApprovalRecord) error {
	if record == nil || record.UserName == "" || record.ClientID == "" {
		return fmt.Errorf("approval must carry a user and a client id")
	}

	if err := r.approvals.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save approval: %w", err)
	}

	r.logger.Debug("Saved approval",
		"user_name", record.UserName,
		"client_id", record.ClientID,
		"scope", record.Scope)
	return nil
}

// ListApprovals returns the consent records for the user/client pair.
func (r *ApprovalRevoker) ListApprovals(ctx context.Context, userName, clientID string) ([]*storage.ApprovalRecord, error) {
	records, err := r.approvals.FindAllByUserAndClient(ctx, userName, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	return records, nil
}

// RevokeApproval withdraws the user's consent for the client and removes the
// access tokens issued to the pair. The approval delete commits first; token
// removal is best-effort and sequential, so a partial failure leaves the
// approval revoked and reports every token that survived via a joined error.
// Revoking a pair with no approval on record returns
// storage.ErrApprovalNotFound.
func (r *ApprovalRevoker) RevokeApproval(ctx context.Context, clientID, userName string) error {
	removed, err := r.approvals.DeleteAllByUserAndClient(ctx, userName, clientID)
	if err != nil {
		return fmt.Errorf("failed to revoke approval: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: user %s, client %s", storage.ErrApprovalNotFound, userName, clientID)
	}

	records, err := r.accessTokens.FindAllByClientIDAndUserName(ctx, clientID, userName)
	if err != nil {
		return fmt.Errorf("approval revoked but token lookup failed: %w", err)
	}

	var errs []error
	revoked := 0
	for _, record := range records {
		if err := r.accessTokens.DeleteByTokenID(ctx, record.TokenID); err != nil {
			errs = append(errs, fmt.Errorf("token %s: %w",
				util.SafeTruncate(record.TokenID, keyLogLength), err))
			continue
		}
		revoked++
	}

	if r.inst != nil && revoked > 0 {
		r.inst.Metrics().RecordTokensRevoked(ctx, "access", int64(revoked))
	}
	r.logger.Info("Revoked approval",
		"user_name", userName,
		"client_id", clientID,
		"approvals_removed", removed,
		"tokens_revoked", revoked,
		"tokens_failed", len(errs))

	if len(errs) > 0 {
		return fmt.Errorf("approval revoked but %d tokens were not removed: %w",
			len(errs), errors.Join(errs...))
	}
	return nil
}
