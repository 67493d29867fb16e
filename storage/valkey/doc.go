// Package valkey provides a Valkey-backed implementation of the credential
// repositories.
//
// Records are stored as JSON strings under prefixed keys, with secondary
// index sets and sorted sets maintaining the lookup paths that are not the
// primary key (authentication key, client, client/user pair, refresh key).
// Authorization codes rely on GETDEL for atomic single-use consumption and
// carry a server-side TTL, so expired codes vacate on their own. Token
// records keep a retention window past expiry so revocation flows can still
// find and remove them.
//
// All repositories are views over one Store sharing a single client
// connection:
//
//	store, err := valkey.New(valkey.Config{Address: "localhost:6379"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	tokens := tokenvault.NewTokenStore(store.AccessTokens(), store.RefreshTokens())
package valkey
