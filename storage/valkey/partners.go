package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/authbridge/tokenvault/storage"
)

// PartnerRepository is the Valkey-backed partner repository.
type PartnerRepository struct {
	s *Store
}

var _ storage.PartnerRepository = (*PartnerRepository)(nil)

// Save inserts or overwrites the partner's details.
func (r *PartnerRepository) Save(ctx context.Context, details *storage.PartnerDetails) error {
	if details == nil || details.PartnerID == "" {
		return fmt.Errorf("invalid partner details")
	}
	s := r.s

	details.Audit.Touch(auditActor)
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal partner details: %w", err)
	}

	if err := s.setJSON(ctx, s.partnerKey(details.PartnerID), data, 0); err != nil {
		return storeErr("save partner", err)
	}

	s.logger.Debug("Saved partner details", "partner_id", details.PartnerID)
	return nil
}

// FindByPartnerID returns the partner's details.
func (r *PartnerRepository) FindByPartnerID(ctx context.Context, partnerID string) (*storage.PartnerDetails, error) {
	s := r.s
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.partnerKey(partnerID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrPartnerNotFound, partnerID)
		}
		return nil, storeErr("get partner", err)
	}

	var details storage.PartnerDetails
	if err := json.Unmarshal([]byte(data), &details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal partner details: %w", err)
	}
	return &details, nil
}

// DeleteByPartnerID removes the partner's details; absent is a no-op
// success.
func (r *PartnerRepository) DeleteByPartnerID(ctx context.Context, partnerID string) error {
	s := r.s
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.partnerKey(partnerID)).Build()).Error(); err != nil {
		return storeErr("delete partner", err)
	}
	return nil
}

// List returns all registered partners ordered by partner id.
func (r *PartnerRepository) List(ctx context.Context) ([]*storage.PartnerDetails, error) {
	s := r.s

	var partners []*storage.PartnerDetails
	err := s.scanKeys(ctx, s.partnerKey("*"), func(key string) error {
		data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
		if err != nil {
			if isNilError(err) {
				return nil
			}
			return storeErr("get partner", err)
		}

		var details storage.PartnerDetails
		if err := json.Unmarshal([]byte(data), &details); err != nil {
			s.logger.Warn("Failed to unmarshal partner details, skipping",
				"key", key,
				"error", err)
			return nil
		}
		partners = append(partners, &details)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(partners, func(i, j int) bool { return partners[i].PartnerID < partners[j].PartnerID })

	return partners, nil
}
