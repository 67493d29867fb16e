package tokenvault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/authbridge/tokenvault/storage"
)

// PartnerRegistry manages the partner protected resources this server holds
// delegated credentials for. Partner secrets belong to the partner's
// authorization server and are stored as supplied; only local client secrets
// go through the hashing collaborator.
type PartnerRegistry struct {
	partners storage.PartnerRepository
	logger   *slog.Logger
}

// NewPartnerRegistry creates a partner registry over the given repository.
func NewPartnerRegistry(partners storage.PartnerRepository) *PartnerRegistry {
	return &PartnerRegistry{
		partners: partners,
		logger:   slog.Default(),
	}
}

// SetLogger sets a custom logger.
func (r *PartnerRegistry) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// LoadPartnerByPartnerID returns the partner's details, or
// storage.ErrPartnerNotFound.
func (r *PartnerRegistry) LoadPartnerByPartnerID(ctx context.Context, partnerID string) (*storage.PartnerDetails, error) {
	details, err := r.partners.FindByPartnerID(ctx, partnerID)
	if err != nil {
		if errors.Is(err, storage.ErrPartnerNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load partner: %w", err)
	}
	return details, nil
}

// SavePartner inserts or overwrites the partner's details.
func (r *PartnerRegistry) SavePartner(ctx context.Context, details *storage.PartnerDetails) error {
	if details == nil || details.PartnerID == "" {
		return fmt.Errorf("partner details must carry a partner id")
	}

	if err := r.partners.Save(ctx, details); err != nil {
		return fmt.Errorf("failed to save partner: %w", err)
	}

	r.logger.Info("Saved partner", "partner_id", details.PartnerID)
	return nil
}

// RemovePartnerByPartnerID removes the partner's registration. Removing an
// unknown partner is a no-op success, logged for operability.
func (r *PartnerRegistry) RemovePartnerByPartnerID(ctx context.Context, partnerID string) error {
	_, err := r.partners.FindByPartnerID(ctx, partnerID)
	if errors.Is(err, storage.ErrPartnerNotFound) {
		r.logger.Debug("Remove of unknown partner ignored", "partner_id", partnerID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check partner before removal: %w", err)
	}

	if err := r.partners.DeleteByPartnerID(ctx, partnerID); err != nil {
		return fmt.Errorf("failed to remove partner: %w", err)
	}

	r.logger.Info("Removed partner", "partner_id", partnerID)
	return nil
}

// ListPartners returns all registered partners ordered by partner id.
func (r *PartnerRegistry) ListPartners(ctx context.Context) ([]*storage.PartnerDetails, error) {
	details, err := r.partners.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}
	return details, nil
}
