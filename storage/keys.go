package storage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// TokenKeyLength is the length of every derived lookup key: a 128-bit digest
// rendered as fixed-width hexadecimal.
const TokenKeyLength = 32

// DeriveTokenKey derives the stable lookup key for a raw token value.
// Backends index on this key so full-length secrets are never used as index
// material. The digest is a lookup handle over an already-opaque random
// value, not an integrity check; MD5 keeps keys at a fixed 32 hex characters
// and matches the key format of existing deployments.
//
// An empty value yields an empty key. Callers treat an empty key as "no
// record", never as an error.
func DeriveTokenKey(value string) string {
	if value == "" {
		return ""
	}
	sum := md5.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}

// AuthenticationKeyGenerator derives the authenticationId lookup key from an
// authentication context. The key is deterministic over (client id, sorted
// scopes, principal name): repeated grants for the same combination produce
// the same key, which is what enforces "at most one live access token per
// authentication".
//
// ExtraParameters optionally names request parameters that participate in
// key derivation, for clients that need several concurrent tokens per
// (client, user, scope) combination disambiguated by a request parameter.
type AuthenticationKeyGenerator struct {
	ExtraParameters []string
}

// Extract derives the authenticationId for the context. A nil context yields
// an empty key.
func (g *AuthenticationKeyGenerator) Extract(auth *Authentication) string {
	if auth == nil {
		return ""
	}

	values := map[string]string{
		"username":  auth.Name(),
		"client_id": auth.ClientID,
		"scope":     strings.Join(auth.SortedScopes(), " "),
	}
	for _, name := range g.ExtraParameters {
		values[name] = auth.RequestParameters[name]
	}

	return digestValues(values)
}

// PartnerKeyGenerator derives the authenticationId for partner (delegated)
// tokens from a protected-resource + authentication pair. Partner keys live
// in their own namespace: the resource id participates in the digest so a
// partner token can never collide with a primary access token key.
type PartnerKeyGenerator struct{}

// Extract derives the partner authenticationId.
func (PartnerKeyGenerator) Extract(resource *PartnerDetails, auth *Authentication) string {
	if resource == nil {
		return ""
	}

	values := map[string]string{
		"resource_id": resource.PartnerID,
		"username":    auth.Name(),
		"client_id":   resource.ClientID,
		"scope":       strings.Join(resource.SortedScopes(), " "),
	}

	return digestValues(values)
}

// digestValues renders the map as a canonical sorted key=value list and
// digests it. Same input map, same key, always.
func digestValues(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "%s=%s", k, values[k])
	}

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
