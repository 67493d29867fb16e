package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/authbridge/tokenvault/storage"
)

// ClientRepository is the Valkey-backed client repository. Each client is a
// single string key; listing walks the key space with SCAN.
type ClientRepository struct {
	s *Store
}

var _ storage.ClientRepository = (*ClientRepository)(nil)

// Save inserts or overwrites the client's details.
func (r *ClientRepository) Save(ctx context.Context, details *storage.ClientDetails) error {
	if details == nil || details.ClientID == "" {
		return fmt.Errorf("invalid client details")
	}
	s := r.s

	details.Audit.Touch(auditActor)
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal client details: %w", err)
	}

	if err := s.setJSON(ctx, s.clientKey(details.ClientID), data, 0); err != nil {
		return storeErr("save client", err)
	}

	s.logger.Debug("Saved client details", "client_id", details.ClientID)
	return nil
}

// FindByClientID returns the client's details.
func (r *ClientRepository) FindByClientID(ctx context.Context, clientID string) (*storage.ClientDetails, error) {
	s := r.s
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, storeErr("get client", err)
	}

	var details storage.ClientDetails
	if err := json.Unmarshal([]byte(data), &details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client details: %w", err)
	}
	return &details, nil
}

// DeleteByClientID removes the client's details; absent is a no-op success.
func (r *ClientRepository) DeleteByClientID(ctx context.Context, clientID string) error {
	s := r.s
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.clientKey(clientID)).Build()).Error(); err != nil {
		return storeErr("delete client", err)
	}
	return nil
}

// List returns all registered clients ordered by client id.
func (r *ClientRepository) List(ctx context.Context) ([]*storage.ClientDetails, error) {
	s := r.s

	var clients []*storage.ClientDetails
	err := s.scanKeys(ctx, s.clientKey("*"), func(key string) error {
		data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
		if err != nil {
			if isNilError(err) {
				return nil // key deleted between SCAN and GET
			}
			return storeErr("get client", err)
		}

		var details storage.ClientDetails
		if err := json.Unmarshal([]byte(data), &details); err != nil {
			s.logger.Warn("Failed to unmarshal client details, skipping",
				"key", key,
				"error", err)
			return nil
		}
		clients = append(clients, &details)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientID < clients[j].ClientID })

	return clients, nil
}
