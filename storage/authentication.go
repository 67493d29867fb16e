package storage

import (
	"encoding/gob"
	"sort"
)

// Authentication is the authenticated-principal context bound to a
// credential: the originating client, the scopes it was granted, and the
// principal the grant was made on behalf of. For client-credential grants no
// principal exists and UserName is empty.
//
// Extensions carries arbitrary per-deployment attributes. Values must be
// gob-encodable; non-primitive types need a RegisterExtension call before
// the first Encode or Decode.
type Authentication struct {
	ClientID          string
	Scopes            []string
	ResourceIDs       []string
	RedirectURI       string
	RequestParameters map[string]string
	Authorities       []string
	UserName          string
	Authenticated     bool
	Extensions        map[string]any
}

// Name returns the principal name, or the empty string for grants without a
// user principal.
func (a *Authentication) Name() string {
	if a == nil {
		return ""
	}
	return a.UserName
}

// SortedScopes returns the granted scopes in lexical order. The slice is a
// copy; the receiver is not modified.
func (a *Authentication) SortedScopes() []string {
	scopes := make([]string, len(a.Scopes))
	copy(scopes, a.Scopes)
	sort.Strings(scopes)
	return scopes
}

// RegisterExtension registers a concrete extension value type with the codec.
// Mirrors gob.Register: call once per type, before encoding or decoding any
// authentication carrying that type.
func RegisterExtension(value any) {
	gob.Register(value)
}
