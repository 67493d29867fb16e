package tokenvault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/authbridge/tokenvault/security"
	"github.com/authbridge/tokenvault/storage"
)

// ErrRegistrationRateLimited indicates a client registration was rejected by
// the rate limiter before reaching the repository.
var ErrRegistrationRateLimited = errors.New("client registration rate limit exceeded")

// ClientRegistry manages registered OAuth client details. Raw client secrets
// never reach the repository: AddClientDetails and UpdateClientSecret run
// them through the configured hasher, and ValidateClientSecret compares in
// constant time regardless of whether the client exists.
//
// Unlike the token stores, registry lookups return sentinel errors
// (storage.ErrClientNotFound) rather than (nil, nil): an unknown client id is
// a caller mistake worth distinguishing, not a routine miss.
type ClientRegistry struct {
	clients storage.ClientRepository
	hasher  security.Hasher
	limiter *security.RegistrationLimiter
	logger  *slog.Logger
}

// NewClientRegistry creates a client registry over the given repository.
func NewClientRegistry(clients storage.ClientRepository, hasher security.Hasher) *ClientRegistry {
	return &ClientRegistry{
		clients: clients,
		hasher:  hasher,
		logger:  slog.Default(),
	}
}

// SetLogger sets a custom logger.
func (r *ClientRegistry) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// SetRegistrationLimiter enables rate limiting of AddClientDetails calls.
// Nil disables limiting.
func (r *ClientRegistry) SetRegistrationLimiter(limiter *security.RegistrationLimiter) {
	r.limiter = limiter
}

// LoadClientByClientID returns the client's details, or
// storage.ErrClientNotFound.
func (r *ClientRegistry) LoadClientByClientID(ctx context.Context, clientID string) (*storage.ClientDetails, error) {
	details, err := r.clients.FindByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	return details, nil
}

// AddClientDetails registers a new client, hashing rawSecret into the stored
// details. Registering an id already taken returns storage.ErrClientExists.
func (r *ClientRegistry) AddClientDetails(ctx context.Context, details *storage.ClientDetails, rawSecret string) error {
	if details == nil || details.ClientID == "" {
		return fmt.Errorf("client details must carry a client id")
	}

	if r.limiter != nil && !r.limiter.Allow(details.ClientID) {
		r.logger.Warn("Client registration rate limited", "client_id", details.ClientID)
		return ErrRegistrationRateLimited
	}

	_, err := r.clients.FindByClientID(ctx, details.ClientID)
	if err == nil {
		return fmt.Errorf("%w: %s", storage.ErrClientExists, details.ClientID)
	}
	if !errors.Is(err, storage.ErrClientNotFound) {
		return fmt.Errorf("failed to check for existing client: %w", err)
	}

	hash, err := r.hasher.Hash(rawSecret)
	if err != nil {
		return fmt.Errorf("failed to hash client secret: %w", err)
	}
	details.ClientSecretHash = hash

	if err := r.clients.Save(ctx, details); err != nil {
		return fmt.Errorf("failed to register client: %w", err)
	}

	r.logger.Info("Registered client", "client_id", details.ClientID)
	return nil
}

// UpdateClientDetails replaces the client's details while preserving its
// stored secret hash and creation audit fields. Updating an unknown client
// returns storage.ErrClientNotFound.
func (r *ClientRegistry) UpdateClientDetails(ctx context.Context, details *storage.ClientDetails) error {
	if details == nil || details.ClientID == "" {
		return fmt.Errorf("client details must carry a client id")
	}

	existing, err := r.clients.FindByClientID(ctx, details.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return err
		}
		return fmt.Errorf("failed to load client for update: %w", err)
	}

	details.ClientSecretHash = existing.ClientSecretHash
	details.Audit = existing.Audit

	if err := r.clients.Save(ctx, details); err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return nil
}

// UpdateClientSecret re-hashes and stores a new secret for the client.
func (r *ClientRegistry) UpdateClientSecret(ctx context.Context, clientID, rawSecret string) error {
	details, err := r.clients.FindByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return err
		}
		return fmt.Errorf("failed to load client for secret update: %w", err)
	}

	hash, err := r.hasher.Hash(rawSecret)
	if err != nil {
		return fmt.Errorf("failed to hash client secret: %w", err)
	}
	details.ClientSecretHash = hash

	if err := r.clients.Save(ctx, details); err != nil {
		return fmt.Errorf("failed to update client secret: %w", err)
	}

	r.logger.Info("Updated client secret", "client_id", clientID)
	return nil
}

// RemoveClientDetails removes the client's registration. Removing an unknown
// client is a no-op success, logged for operability.
func (r *ClientRegistry) RemoveClientDetails(ctx context.Context, clientID string) error {
	_, err := r.clients.FindByClientID(ctx, clientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		r.logger.Debug("Remove of unknown client ignored", "client_id", clientID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check client before removal: %w", err)
	}

	if err := r.clients.DeleteByClientID(ctx, clientID); err != nil {
		return fmt.Errorf("failed to remove client: %w", err)
	}

	r.logger.Info("Removed client", "client_id", clientID)
	return nil
}

// ListClientDetails returns all registered clients ordered by client id.
func (r *ClientRegistry) ListClientDetails(ctx context.Context) ([]*storage.ClientDetails, error) {
	details, err := r.clients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return details, nil
}

// ValidateClientSecret verifies rawSecret against the client's stored hash.
// An unknown client still burns a full hash comparison before returning
// storage.ErrClientNotFound, so response timing does not reveal which client
// ids exist. A wrong secret returns security.ErrCredentialMismatch.
func (r *ClientRegistry) ValidateClientSecret(ctx context.Context, clientID, rawSecret string) error {
	details, err := r.clients.FindByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			_ = security.VerifyConstantTime(r.hasher, rawSecret, "")
			return err
		}
		return fmt.Errorf("failed to load client for validation: %w", err)
	}

	return security.VerifyConstantTime(r.hasher, rawSecret, details.ClientSecretHash)
}
