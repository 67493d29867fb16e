package tokenvault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/authbridge/tokenvault/instrumentation"
	"github.com/authbridge/tokenvault/internal/util"
	"github.com/authbridge/tokenvault/storage"
)

// DefaultAuthorizationCodeTTL bounds how long a pending authorization code
// stays redeemable.
const DefaultAuthorizationCodeTTL = 5 * time.Minute

// AuthorizationCodeStore persists single-use authorization codes together
// with the authentication context each code will redeem into.
//
// Codes have no peek operation: RemoveAuthorizationCode is the only read,
// and it consumes the code. Two concurrent consumers of the same code
// observe exactly one success.
type AuthorizationCodeStore struct {
	codes  storage.AuthorizationCodeRepository
	codec  storage.Codec
	ttl    time.Duration
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
}

// NewAuthorizationCodeStore creates a code store over the given repository
// with the default code TTL.
func NewAuthorizationCodeStore(codes storage.AuthorizationCodeRepository) *AuthorizationCodeStore {
	return &AuthorizationCodeStore{
		codes:  codes,
		ttl:    DefaultAuthorizationCodeTTL,
		logger: slog.Default(),
	}
}

// SetLogger sets a custom logger.
func (s *AuthorizationCodeStore) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
func (s *AuthorizationCodeStore) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// SetTTL overrides the code lifetime. Non-positive values keep the default.
func (s *AuthorizationCodeStore) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// StoreAuthorizationCode persists a pending code under its authentication
// context.
func (s *AuthorizationCodeStore) StoreAuthorizationCode(ctx context.Context, code string, auth *storage.Authentication) error {
	if code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}
	if auth == nil {
		return fmt.Errorf("authentication cannot be nil")
	}

	encoded, err := s.codec.Encode(auth)
	if err != nil {
		return fmt.Errorf("failed to encode authentication: %w", err)
	}

	record := &storage.AuthorizationCodeRecord{
		ID:             uuid.NewString(),
		Code:           code,
		Authentication: encoded,
		ExpiresAt:      time.Now().Add(s.ttl),
	}

	if err := s.codes.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}

	s.logger.Debug("Stored authorization code",
		"code_prefix", util.SafeTruncate(code, keyLogLength),
		"client_id", auth.ClientID)
	return nil
}

// RemoveAuthorizationCode consumes the code, returning the authentication
// context it was stored under. An absent, expired, or already-consumed code
// returns (nil, nil); either way the code is gone afterwards.
func (s *AuthorizationCodeStore) RemoveAuthorizationCode(ctx context.Context, code string) (*storage.Authentication, error) {
	if code == "" {
		return nil, nil
	}

	record, err := s.codes.Take(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			s.logger.Debug("Authorization code not redeemable",
				"code_prefix", util.SafeTruncate(code, keyLogLength))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	auth, err := s.codec.Decode(record.Authentication)
	if err != nil {
		if errors.Is(err, storage.ErrCorruptAuthentication) {
			if s.inst != nil {
				s.inst.Metrics().RecordCorruptAuthentication(ctx)
			}
			s.logger.Warn("Stored authentication context failed to decode",
				"code_prefix", util.SafeTruncate(code, keyLogLength),
				"error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode authentication: %w", err)
	}

	if s.inst != nil {
		s.inst.Metrics().RecordCodeConsumed(ctx)
	}
	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, keyLogLength))
	return auth, nil
}
