// Package tokenvault provides the persistence core of an OAuth2
// authorization server: issued access and refresh tokens, single-use
// authorization codes, delegated partner tokens, registered client and
// partner details, and user consent records.
//
// The package is the DAO layer. It derives lookup keys, serializes
// authentication contexts, and enforces the read/write semantics of each
// credential kind on top of the repository interfaces defined in the storage
// package. Pluggable backends live in storage/memory, storage/postgres, and
// storage/valkey.
//
// Basic usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	tokens := tokenvault.NewTokenStore(store.AccessTokens(), store.RefreshTokens())
//	err := tokens.StoreAccessToken(ctx, token, auth)
//
// Absent credentials surface as (nil, nil) from read operations; storage
// failures surface as wrapped errors. The registries are the exception and
// return sentinel errors (storage.ErrClientNotFound, storage.ErrPartnerNotFound)
// so callers can distinguish an unknown principal from a missing credential.
package tokenvault
