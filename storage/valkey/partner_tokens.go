package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/authbridge/tokenvault/storage"
)

// PartnerTokenRepository is the Valkey-backed partner-token repository.
// Records are keyed by surrogate ID; a sorted set per partner
// authentication key, scored by insertion time, carries the lookup path.
type PartnerTokenRepository struct {
	s *Store
}

var _ storage.PartnerTokenRepository = (*PartnerTokenRepository)(nil)

// Save persists a partner-token record.
func (r *PartnerTokenRepository) Save(ctx context.Context, record *storage.PartnerTokenRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("invalid partner token record")
	}
	s := r.s

	record.Audit.Touch(auditActor)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal partner token record: %w", err)
	}

	ttl := s.recordTTL(record.Token.ExpiresAt)
	if err := s.setJSON(ctx, s.partnerTokenKey(record.ID), data, ttl); err != nil {
		return storeErr("save partner token", err)
	}

	score := float64(record.Audit.CreatedAt.UnixNano())
	if err := s.client.Do(ctx,
		s.client.B().Zadd().Key(s.partnerTokenByAuthKey(record.AuthenticationID)).Nx().ScoreMember().ScoreMember(score, record.ID).Build(),
	).Error(); err != nil {
		return storeErr("index partner token", err)
	}

	return nil
}

// FindAllByAuthenticationID returns the partner tokens for the partner
// authentication key in insertion order.
func (r *PartnerTokenRepository) FindAllByAuthenticationID(ctx context.Context, authenticationID string) ([]*storage.PartnerTokenRecord, error) {
	s := r.s
	ids, err := s.client.Do(ctx,
		s.client.B().Zrange().Key(s.partnerTokenByAuthKey(authenticationID)).Min("0").Max("-1").Build(),
	).AsStrSlice()
	if err != nil {
		return nil, storeErr("find partner tokens by authentication id", err)
	}

	var result []*storage.PartnerTokenRecord
	for _, id := range ids {
		data, err := s.client.Do(ctx, s.client.B().Get().Key(s.partnerTokenKey(id)).Build()).ToString()
		if err != nil {
			if isNilError(err) {
				continue // record key expired after indexing
			}
			return nil, storeErr("get partner token", err)
		}

		var record storage.PartnerTokenRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal partner token record: %w", err)
		}
		if record.AuthenticationID != authenticationID {
			continue
		}
		result = append(result, &record)
	}

	return result, nil
}

// DeleteAllByAuthenticationID removes the partner tokens for the key,
// returning the number removed.
func (r *PartnerTokenRepository) DeleteAllByAuthenticationID(ctx context.Context, authenticationID string) (int, error) {
	s := r.s
	indexKey := s.partnerTokenByAuthKey(authenticationID)
	ids, err := s.client.Do(ctx, s.client.B().Zrange().Key(indexKey).Min("0").Max("-1").Build()).AsStrSlice()
	if err != nil {
		return 0, storeErr("find partner tokens by authentication id", err)
	}

	removed := 0
	for _, id := range ids {
		n, err := s.client.Do(ctx, s.client.B().Del().Key(s.partnerTokenKey(id)).Build()).AsInt64()
		if err != nil {
			return removed, storeErr("delete partner token", err)
		}
		removed += int(n)
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(indexKey).Build()).Error(); err != nil {
		return removed, storeErr("delete partner token index", err)
	}

	return removed, nil
}
