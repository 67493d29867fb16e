// Package storage defines the credential records persisted by the
// authorization server and the repository interfaces its backends implement.
//
// Four independent credential collections exist: access tokens, refresh
// tokens, authorization codes, and partner tokens (delegated credentials for
// downstream protected resources), plus the client-details, partner-details,
// and approval collections. Each record is keyed by a surrogate ID and
// carries at least one derived lookup key (see DeriveTokenKey and the key
// generators) so that backends never index on raw token material.
//
// Backend implementations are provided in subpackages:
//   - storage/memory: in-memory store for development and testing
//   - storage/postgres: relational store on database/sql with pgx
//   - storage/valkey: Valkey/Redis-compatible distributed store
package storage
