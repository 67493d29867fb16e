package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/authbridge/tokenvault/storage"
)

// ApprovalRepository is the Valkey-backed approval repository. A pair's
// consent records live in one hash keyed by user and client, one field per
// scope, so a re-approval of the same scope replaces the earlier record.
type ApprovalRepository struct {
	s *Store
}

var _ storage.ApprovalRepository = (*ApprovalRepository)(nil)

// Save persists a consent record.
func (r *ApprovalRepository) Save(ctx context.Context, record *storage.ApprovalRecord) error {
	if record == nil || record.UserName == "" || record.ClientID == "" {
		return fmt.Errorf("invalid approval record")
	}
	s := r.s

	record.Audit.Touch(auditActor)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal approval record: %w", err)
	}

	key := s.approvalKey(record.UserName, record.ClientID)
	if err := s.client.Do(ctx,
		s.client.B().Hset().Key(key).FieldValue().FieldValue(record.Scope, string(data)).Build(),
	).Error(); err != nil {
		return storeErr("save approval", err)
	}

	return nil
}

// FindAllByUserAndClient returns the pair's consent records ordered by
// scope.
func (r *ApprovalRepository) FindAllByUserAndClient(ctx context.Context, userName, clientID string) ([]*storage.ApprovalRecord, error) {
	s := r.s
	fields, err := s.client.Do(ctx,
		s.client.B().Hgetall().Key(s.approvalKey(userName, clientID)).Build(),
	).AsStrMap()
	if err != nil {
		return nil, storeErr("get approvals", err)
	}

	result := make([]*storage.ApprovalRecord, 0, len(fields))
	for _, data := range fields {
		var record storage.ApprovalRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal approval record: %w", err)
		}
		result = append(result, &record)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Scope < result[j].Scope })

	return result, nil
}

// DeleteAllByUserAndClient removes the pair's consent records, returning
// the number removed.
func (r *ApprovalRepository) DeleteAllByUserAndClient(ctx context.Context, userName, clientID string) (int, error) {
	s := r.s
	key := s.approvalKey(userName, clientID)

	count, err := s.client.Do(ctx, s.client.B().Hlen().Key(key).Build()).AsInt64()
	if err != nil {
		return 0, storeErr("count approvals", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return 0, storeErr("delete approvals", err)
	}

	return int(count), nil
}
