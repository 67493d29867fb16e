package tokenvault

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/authbridge/tokenvault/instrumentation"
	"github.com/authbridge/tokenvault/internal/util"
	"github.com/authbridge/tokenvault/security"
	"github.com/authbridge/tokenvault/storage"
)

// PartnerTokenStore persists delegated tokens obtained from partner
// protected resources on behalf of authenticated users. Tokens are keyed by
// the partner authentication key, which contains the partner's resource id,
// so they never collide with primary access tokens.
type PartnerTokenStore struct {
	partnerTokens storage.PartnerTokenRepository
	keyGen        storage.PartnerKeyGenerator
	logger        *slog.Logger
	inst          *instrumentation.Instrumentation
}

// NewPartnerTokenStore creates a partner token store over the given
// repository.
func NewPartnerTokenStore(partnerTokens storage.PartnerTokenRepository) *PartnerTokenStore {
	return &PartnerTokenStore{
		partnerTokens: partnerTokens,
		logger:        slog.Default(),
	}
}

// SetLogger sets a custom logger.
func (s *PartnerTokenStore) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
func (s *PartnerTokenStore) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// GetPartnerAccessToken returns the live delegated token held for the
// resource/principal pair, or (nil, nil) when none exists. Among duplicates
// the record with the lowest surrogate ID wins.
func (s *PartnerTokenStore) GetPartnerAccessToken(ctx context.Context, resource *storage.PartnerDetails, auth *storage.Authentication) (*storage.Token, error) {
	authenticationID := s.keyGen.Extract(resource, auth)
	if authenticationID == "" {
		return nil, nil
	}

	records, err := s.partnerTokens.FindAllByAuthenticationID(ctx, authenticationID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up partner token: %w", err)
	}

	for _, record := range records {
		if security.IsExpired(record.Token.ExpiresAt) {
			continue
		}
		token := record.Token
		return &token, nil
	}

	return nil, nil
}

// SavePartnerAccessToken stores a delegated token for the resource/principal
// pair, replacing any token previously held for the pair. One live token per
// pair is the contract the delegated exchange flow relies on.
func (s *PartnerTokenStore) SavePartnerAccessToken(ctx context.Context, resource *storage.PartnerDetails, auth *storage.Authentication, token storage.Token) error {
	if resource == nil {
		return fmt.Errorf("partner resource cannot be nil")
	}
	if token.Value == "" {
		return fmt.Errorf("partner token value cannot be empty")
	}

	authenticationID := s.keyGen.Extract(resource, auth)

	if _, err := s.partnerTokens.DeleteAllByAuthenticationID(ctx, authenticationID); err != nil {
		return fmt.Errorf("failed to replace partner token: %w", err)
	}

	record := &storage.PartnerTokenRecord{
		ID:               uuid.NewString(),
		TokenID:          storage.DeriveTokenKey(token.Value),
		Token:            token,
		AuthenticationID: authenticationID,
		ClientID:         resource.ClientID,
		UserName:         principalColumn(auth.Name()),
	}

	if err := s.partnerTokens.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to store partner token: %w", err)
	}

	if s.inst != nil {
		s.inst.Metrics().RecordTokenIssued(ctx, "partner")
	}
	s.logger.Debug("Stored partner token",
		"partner_id", resource.PartnerID,
		"token_id", util.SafeTruncate(record.TokenID, keyLogLength))
	return nil
}

// RemovePartnerAccessToken removes the delegated tokens held for the
// resource/principal pair. Removing an absent token is a no-op success.
func (s *PartnerTokenStore) RemovePartnerAccessToken(ctx context.Context, resource *storage.PartnerDetails, auth *storage.Authentication) error {
	authenticationID := s.keyGen.Extract(resource, auth)
	if authenticationID == "" {
		return nil
	}

	count, err := s.partnerTokens.DeleteAllByAuthenticationID(ctx, authenticationID)
	if err != nil {
		return fmt.Errorf("failed to remove partner token: %w", err)
	}

	if s.inst != nil && count > 0 {
		s.inst.Metrics().RecordTokensRevoked(ctx, "partner", int64(count))
	}
	return nil
}
