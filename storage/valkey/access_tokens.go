package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/authbridge/tokenvault/internal/util"
	"github.com/authbridge/tokenvault/storage"
)

// AccessTokenRepository is the Valkey-backed access-token repository.
//
// Each record lives under one string key. Three index structures carry the
// secondary lookup paths: a set per authentication key, a sorted set per
// client and per client/user pair (scored by insertion time so range reads
// come back in insertion order), and a set per refresh key for the
// revocation cascade. Index members whose record key has since expired are
// skipped on read.
type AccessTokenRepository struct {
	s *Store
}

var _ storage.AccessTokenRepository = (*AccessTokenRepository)(nil)

// Save persists an access-token record; an existing record with the same
// TokenID is overwritten in place and keeps its original index position.
func (r *AccessTokenRepository) Save(ctx context.Context, record *storage.AccessTokenRecord) error {
	if record == nil || record.TokenID == "" {
		return fmt.Errorf("invalid access token record")
	}
	s := r.s

	record.Audit.Touch(auditActor)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal access token record: %w", err)
	}

	ttl := s.recordTTL(record.Token.ExpiresAt)
	if err := s.setJSON(ctx, s.accessKey(record.TokenID), data, ttl); err != nil {
		return storeErr("save access token", err)
	}

	score := float64(record.Audit.CreatedAt.UnixNano())
	cmds := []valkeygo.Completed{
		s.client.B().Sadd().Key(s.accessByAuthKey(record.AuthenticationID)).Member(record.TokenID).Build(),
		s.client.B().Zadd().Key(s.accessByClientKey(record.ClientID)).Nx().ScoreMember().ScoreMember(score, record.TokenID).Build(),
		s.client.B().Zadd().Key(s.accessByUserKey(record.ClientID, record.UserName)).Nx().ScoreMember().ScoreMember(score, record.TokenID).Build(),
	}
	if record.RefreshToken != "" {
		cmds = append(cmds, s.client.B().Sadd().Key(s.accessByRefreshKey(record.RefreshToken)).Member(record.TokenID).Build())
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return storeErr("index access token", err)
		}
	}

	s.logger.Debug("Saved access token",
		"token_id", util.SafeTruncate(record.TokenID, keyLogLength),
		"client_id", record.ClientID)
	return nil
}

// FindByTokenID returns the access-token record for the derived key.
func (r *AccessTokenRepository) FindByTokenID(ctx context.Context, tokenID string) (*storage.AccessTokenRecord, error) {
	record, err := r.get(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, util.SafeTruncate(tokenID, keyLogLength))
	}
	return record, nil
}

// DeleteByTokenID removes the access-token record and its index entries;
// absent is a no-op success.
func (r *AccessTokenRepository) DeleteByTokenID(ctx context.Context, tokenID string) error {
	_, err := r.delete(ctx, tokenID)
	return err
}

// FindAllByAuthenticationID returns records for the authentication key,
// ordered by surrogate ID so duplicate resolution is reproducible.
func (r *AccessTokenRepository) FindAllByAuthenticationID(ctx context.Context, authenticationID string) ([]*storage.AccessTokenRecord, error) {
	s := r.s
	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.accessByAuthKey(authenticationID)).Build()).AsStrSlice()
	if err != nil {
		return nil, storeErr("find access tokens by authentication id", err)
	}

	result, err := r.collect(ctx, ids, func(rec *storage.AccessTokenRecord) bool {
		return rec.AuthenticationID == authenticationID
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// FindAllByClientID returns the client's access-token records in insertion
// order.
func (r *AccessTokenRepository) FindAllByClientID(ctx context.Context, clientID string) ([]*storage.AccessTokenRecord, error) {
	s := r.s
	ids, err := s.client.Do(ctx, s.client.B().Zrange().Key(s.accessByClientKey(clientID)).Min("0").Max("-1").Build()).AsStrSlice()
	if err != nil {
		return nil, storeErr("find access tokens by client id", err)
	}

	return r.collect(ctx, ids, func(rec *storage.AccessTokenRecord) bool {
		return rec.ClientID == clientID
	})
}

// FindAllByClientIDAndUserName returns the pair's access-token records in
// insertion order.
func (r *AccessTokenRepository) FindAllByClientIDAndUserName(ctx context.Context, clientID, userName string) ([]*storage.AccessTokenRecord, error) {
	s := r.s
	ids, err := s.client.Do(ctx, s.client.B().Zrange().Key(s.accessByUserKey(clientID, userName)).Min("0").Max("-1").Build()).AsStrSlice()
	if err != nil {
		return nil, storeErr("find access tokens by client id and user name", err)
	}

	return r.collect(ctx, ids, func(rec *storage.AccessTokenRecord) bool {
		return rec.ClientID == clientID && rec.UserName == userName
	})
}

// DeleteAllByRefreshToken removes every access token linked to the refresh
// key, returning the number removed. Each token is removed with its index
// entries, so a reader observes it fully present or fully gone; the batch
// itself is idempotent and safe to retry.
func (r *AccessTokenRepository) DeleteAllByRefreshToken(ctx context.Context, refreshTokenID string) (int, error) {
	if refreshTokenID == "" {
		return 0, nil
	}
	s := r.s

	setKey := s.accessByRefreshKey(refreshTokenID)
	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(setKey).Build()).AsStrSlice()
	if err != nil {
		return 0, storeErr("find access tokens by refresh token", err)
	}

	removed := 0
	for _, tokenID := range ids {
		existed, err := r.delete(ctx, tokenID)
		if err != nil {
			return removed, err
		}
		if existed {
			removed++
		}
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(setKey).Build()).Error(); err != nil {
		return removed, storeErr("delete refresh token index", err)
	}

	if removed > 0 {
		s.logger.Debug("Cascade-deleted access tokens for refresh token",
			"refresh_token_id", util.SafeTruncate(refreshTokenID, keyLogLength),
			"count", removed)
	}
	return removed, nil
}

// get fetches and unmarshals one record, mapping a nil reply to (nil, nil).
func (r *AccessTokenRepository) get(ctx context.Context, tokenID string) (*storage.AccessTokenRecord, error) {
	s := r.s
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.accessKey(tokenID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, storeErr("get access token", err)
	}

	var record storage.AccessTokenRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token record: %w", err)
	}
	return &record, nil
}

// collect fetches the records behind a list of index members, skipping
// members whose record key has expired and members whose record no longer
// matches the index (overwritten under the same TokenID).
func (r *AccessTokenRepository) collect(ctx context.Context, ids []string, matches func(*storage.AccessTokenRecord) bool) ([]*storage.AccessTokenRecord, error) {
	var result []*storage.AccessTokenRecord
	for _, tokenID := range ids {
		record, err := r.get(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		if record == nil || !matches(record) {
			continue
		}
		result = append(result, record)
	}
	return result, nil
}

// delete removes one record and its index entries, reporting whether the
// record existed. The record is read first to learn which indexes hold it.
func (r *AccessTokenRepository) delete(ctx context.Context, tokenID string) (bool, error) {
	s := r.s
	record, err := r.get(ctx, tokenID)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	cmds := []valkeygo.Completed{
		s.client.B().Del().Key(s.accessKey(tokenID)).Build(),
		s.client.B().Srem().Key(s.accessByAuthKey(record.AuthenticationID)).Member(tokenID).Build(),
		s.client.B().Zrem().Key(s.accessByClientKey(record.ClientID)).Member(tokenID).Build(),
		s.client.B().Zrem().Key(s.accessByUserKey(record.ClientID, record.UserName)).Member(tokenID).Build(),
	}
	if record.RefreshToken != "" {
		cmds = append(cmds, s.client.B().Srem().Key(s.accessByRefreshKey(record.RefreshToken)).Member(tokenID).Build())
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return true, storeErr("delete access token", err)
		}
	}
	return true, nil
}
