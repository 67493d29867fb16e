package tokenvault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/authbridge/tokenvault/instrumentation"
	"github.com/authbridge/tokenvault/internal/util"
	"github.com/authbridge/tokenvault/security"
	"github.com/authbridge/tokenvault/storage"
)

// BlankUserName is the marker stored in the denormalized UserName column for
// grants without a user principal (client_credentials). An empty string does
// not work as an index value on every backend, so the marker stands in for
// "no user" consistently across all of them.
const BlankUserName = "#"

// keyLogLength is the number of characters of token material included in log
// lines.
const keyLogLength = 8

// principalColumn maps a principal name to its stored column value.
func principalColumn(name string) string {
	if name == "" {
		return BlankUserName
	}
	return name
}

// TokenStore persists issued access and refresh tokens together with the
// authentication context each was granted under.
//
// Read operations return (nil, nil) for absent or expired credentials and a
// wrapped error only for storage failures. A stored authentication context
// that no longer decodes is treated as absent and logged; it never surfaces
// as an error to the caller.
type TokenStore struct {
	accessTokens  storage.AccessTokenRepository
	refreshTokens storage.RefreshTokenRepository

	codec  storage.Codec
	keyGen storage.AuthenticationKeyGenerator
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
}

// NewTokenStore creates a token store over the given repositories.
func NewTokenStore(accessTokens storage.AccessTokenRepository, refreshTokens storage.RefreshTokenRepository) *TokenStore {
	return &TokenStore{
		accessTokens:  accessTokens,
		refreshTokens: refreshTokens,
		logger:        slog.Default(),
	}
}

// SetLogger sets a custom logger.
func (s *TokenStore) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
func (s *TokenStore) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// SetKeyExtraParameters names request parameters that participate in
// authentication key derivation, for clients that need several concurrent
// tokens per (client, user, scope) combination. Must be set before the first
// store or lookup; changing it afterwards orphans previously stored keys.
func (s *TokenStore) SetKeyExtraParameters(names ...string) {
	s.keyGen.ExtraParameters = names
}

// StoreAccessToken persists an access token under its authentication
// context. A prior token stored under the same authentication key is left in
// place; replacing it is the grant flow's responsibility, which knows whether
// it is reissuing or refreshing.
func (s *TokenStore) StoreAccessToken(ctx context.Context, token storage.Token, auth *storage.Authentication) error {
	if token.Value == "" {
		return fmt.Errorf("access token value cannot be empty")
	}
	if auth == nil {
		return fmt.Errorf("authentication cannot be nil")
	}

	encoded, err := s.codec.Encode(auth)
	if err != nil {
		return fmt.Errorf("failed to encode authentication: %w", err)
	}

	record := &storage.AccessTokenRecord{
		ID:               uuid.NewString(),
		TokenID:          storage.DeriveTokenKey(token.Value),
		Token:            token,
		AuthenticationID: s.keyGen.Extract(auth),
		ClientID:         auth.ClientID,
		UserName:         principalColumn(auth.Name()),
		Authentication:   encoded,
		RefreshToken:     storage.DeriveTokenKey(token.RefreshValue),
	}

	if err := s.accessTokens.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}

	if s.inst != nil {
		s.inst.Metrics().RecordTokenIssued(ctx, "access")
	}
	s.logger.Debug("Stored access token",
		"token_id", util.SafeTruncate(record.TokenID, keyLogLength),
		"client_id", record.ClientID)
	return nil
}

// ReadAccessToken returns the token payload for the raw token value, or
// (nil, nil) when absent or expired.
func (s *TokenStore) ReadAccessToken(ctx context.Context, tokenValue string) (*storage.Token, error) {
	record, err := s.findAccessRecord(ctx, tokenValue)
	if err != nil || record == nil {
		return nil, err
	}

	token := record.Token
	return &token, nil
}

// ReadAuthentication returns the authentication context the access token was
// granted under, or (nil, nil) when the token is absent, expired, or its
// stored context no longer decodes.
func (s *TokenStore) ReadAuthentication(ctx context.Context, tokenValue string) (*storage.Authentication, error) {
	record, err := s.findAccessRecord(ctx, tokenValue)
	if err != nil || record == nil {
		return nil, err
	}

	return s.decodeAuthentication(ctx, record.Authentication, record.TokenID)
}

// RemoveAccessToken removes the access token for the raw value. Removing an
// absent token is a no-op success.
func (s *TokenStore) RemoveAccessToken(ctx context.Context, tokenValue string) error {
	tokenID := storage.DeriveTokenKey(tokenValue)
	if tokenID == "" {
		return nil
	}

	if err := s.accessTokens.DeleteByTokenID(ctx, tokenID); err != nil {
		return fmt.Errorf("failed to remove access token: %w", err)
	}

	if s.inst != nil {
		s.inst.Metrics().RecordTokensRevoked(ctx, "access", 1)
	}
	s.logger.Debug("Removed access token",
		"token_id", util.SafeTruncate(tokenID, keyLogLength))
	return nil
}

// StoreRefreshToken persists a refresh token under its authentication
// context.
func (s *TokenStore) StoreRefreshToken(ctx context.Context, token storage.Token, auth *storage.Authentication) error {
	if token.Value == "" {
		return fmt.Errorf("refresh token value cannot be empty")
	}
	if auth == nil {
		return fmt.Errorf("authentication cannot be nil")
	}

	encoded, err := s.codec.Encode(auth)
	if err != nil {
		return fmt.Errorf("failed to encode authentication: %w", err)
	}

	record := &storage.RefreshTokenRecord{
		ID:             uuid.NewString(),
		TokenID:        storage.DeriveTokenKey(token.Value),
		Token:          token,
		Authentication: encoded,
	}

	if err := s.refreshTokens.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	if s.inst != nil {
		s.inst.Metrics().RecordTokenIssued(ctx, "refresh")
	}
	s.logger.Debug("Stored refresh token",
		"token_id", util.SafeTruncate(record.TokenID, keyLogLength))
	return nil
}

// ReadRefreshToken returns the refresh token payload for the raw value, or
// (nil, nil) when absent or expired.
func (s *TokenStore) ReadRefreshToken(ctx context.Context, tokenValue string) (*storage.Token, error) {
	record, err := s.findRefreshRecord(ctx, tokenValue)
	if err != nil || record == nil {
		return nil, err
	}

	token := record.Token
	return &token, nil
}

// ReadAuthenticationForRefreshToken returns the authentication context the
// refresh token was granted under, or (nil, nil) when absent, expired, or
// undecodable.
func (s *TokenStore) ReadAuthenticationForRefreshToken(ctx context.Context, tokenValue string) (*storage.Authentication, error) {
	record, err := s.findRefreshRecord(ctx, tokenValue)
	if err != nil || record == nil {
		return nil, err
	}

	return s.decodeAuthentication(ctx, record.Authentication, record.TokenID)
}

// RemoveRefreshToken removes the refresh token for the raw value. Removing
// an absent token is a no-op success.
func (s *TokenStore) RemoveRefreshToken(ctx context.Context, tokenValue string) error {
	tokenID := storage.DeriveTokenKey(tokenValue)
	if tokenID == "" {
		return nil
	}

	if err := s.refreshTokens.DeleteByTokenID(ctx, tokenID); err != nil {
		return fmt.Errorf("failed to remove refresh token: %w", err)
	}

	if s.inst != nil {
		s.inst.Metrics().RecordTokensRevoked(ctx, "refresh", 1)
	}
	return nil
}

// RemoveAccessTokenUsingRefreshToken removes every access token that was
// issued alongside the given refresh token. The grant flow calls this when a
// refresh token is used or revoked, so a stolen access token cannot outlive
// its refresh token.
func (s *TokenStore) RemoveAccessTokenUsingRefreshToken(ctx context.Context, refreshTokenValue string) error {
	refreshTokenID := storage.DeriveTokenKey(refreshTokenValue)
	if refreshTokenID == "" {
		return nil
	}

	count, err := s.accessTokens.DeleteAllByRefreshToken(ctx, refreshTokenID)
	if err != nil {
		return fmt.Errorf("failed to remove access tokens for refresh token: %w", err)
	}

	if s.inst != nil {
		s.inst.Metrics().RecordCascadeRevocation(ctx, int64(count))
	}
	if count > 0 {
		s.logger.Debug("Removed access tokens for refresh token",
			"refresh_token_id", util.SafeTruncate(refreshTokenID, keyLogLength),
			"count", count)
	}
	return nil
}

// GetAccessToken returns a live access token previously stored under the
// same authentication key, or (nil, nil) when none exists. When duplicates
// exist for the key, the record with the lowest surrogate ID wins, so
// concurrent grant flows converge on the same token.
func (s *TokenStore) GetAccessToken(ctx context.Context, auth *storage.Authentication) (*storage.Token, error) {
	authenticationID := s.keyGen.Extract(auth)
	if authenticationID == "" {
		return nil, nil
	}

	records, err := s.accessTokens.FindAllByAuthenticationID(ctx, authenticationID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up access token by authentication: %w", err)
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

// FindTokensByClientIDAndUserName returns the live access tokens issued to
// the client on behalf of the user, in issue order. An empty userName
// selects tokens granted without a user principal.
func (s *TokenStore) FindTokensByClientIDAndUserName(ctx context.Context, clientID, userName string) ([]storage.Token, error) {
	records, err := s.accessTokens.FindAllByClientIDAndUserName(ctx, clientID, principalColumn(userName))
	if err != nil {
		return nil, fmt.Errorf("failed to find tokens by client and user: %w", err)
	}

	return liveTokens(records), nil
}

// FindTokensByClientID returns the live access tokens issued to the client,
// in issue order.
func (s *TokenStore) FindTokensByClientID(ctx context.Context, clientID string) ([]storage.Token, error) {
	records, err := s.accessTokens.FindAllByClientID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to find tokens by client: %w", err)
	}

	return liveTokens(records), nil
}

func liveTokens(records []*storage.AccessTokenRecord) []storage.Token {
	tokens := make([]storage.Token, 0, len(records))
	for _, record := range records {
		if security.IsExpired(record.Token.ExpiresAt) {
			continue
		}
		tokens = append(tokens, record.Token)
	}
	return tokens
}

// findAccessRecord is the shared read path for access tokens: derive the
// key, look up, filter expired. Absent, empty-key, and expired lookups all
// return (nil, nil).
func (s *TokenStore) findAccessRecord(ctx context.Context, tokenValue string) (*storage.AccessTokenRecord, error) {
	tokenID := storage.DeriveTokenKey(tokenValue)
	if tokenID == "" {
		return nil, nil
	}

	record, err := s.accessTokens.FindByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}

	if security.IsExpired(record.Token.ExpiresAt) {
		s.logger.Debug("Ignoring expired access token",
			"token_id", util.SafeTruncate(tokenID, keyLogLength))
		return nil, nil
	}

	return record, nil
}

func (s *TokenStore) findRefreshRecord(ctx context.Context, tokenValue string) (*storage.RefreshTokenRecord, error) {
	tokenID := storage.DeriveTokenKey(tokenValue)
	if tokenID == "" {
		return nil, nil
	}

	record, err := s.refreshTokens.FindByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}

	if security.IsExpired(record.Token.ExpiresAt) {
		s.logger.Debug("Ignoring expired refresh token",
			"token_id", util.SafeTruncate(tokenID, keyLogLength))
		return nil, nil
	}

	return record, nil
}

// decodeAuthentication decodes a stored context. A corrupt payload is
// reported as absent: the credential is unusable either way, and failing the
// whole request over it would turn one bad row into an outage.
func (s *TokenStore) decodeAuthentication(ctx context.Context, encoded, tokenID string) (*storage.Authentication, error) {
	auth, err := s.codec.Decode(encoded)
	if err != nil {
		if errors.Is(err, storage.ErrCorruptAuthentication) {
			if s.inst != nil {
				s.inst.Metrics().RecordCorruptAuthentication(ctx)
			}
			s.logger.Warn("Stored authentication context failed to decode",
				"token_id", util.SafeTruncate(tokenID, keyLogLength),
				"error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode authentication: %w", err)
	}

	return auth, nil
}
