package storage

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"
)

// Codec serializes authentication contexts into the storable string form
// kept on every credential record. The encoding is gob wrapped in base64:
// a self-describing binary form that survives principal shapes the schema
// was never told about, rather than a fixed field layout.
//
// The zero value is ready to use.
type Codec struct{}

// Encode serializes the authentication context.
func (Codec) Encode(auth *Authentication) (string, error) {
	if auth == nil {
		return "", fmt.Errorf("authentication cannot be nil")
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(auth); err != nil {
		return "", fmt.Errorf("failed to encode authentication: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reconstructs an authentication context from its stored form.
// Corrupt or foreign-format input returns ErrCorruptAuthentication; callers
// at the read boundary surface that as not-found, never as a crash.
func (Codec) Decode(encoded string) (*Authentication, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrCorruptAuthentication)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptAuthentication, err)
	}

	var auth Authentication
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&auth); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptAuthentication, err)
	}

	return &auth, nil
}
