package storage

import "context"

// AccessTokenRepository persists access-token records with lookup by derived
// token key, authentication key, and the denormalized client/user columns.
// All methods accept context.Context for tracing and cancellation; a
// cancelled context surfaces as ErrStoreUnavailable, never a hang.
type AccessTokenRepository interface {
	// Save persists a record. TokenID is unique within the collection;
	// saving an existing TokenID overwrites that record.
	Save(ctx context.Context, record *AccessTokenRecord) error

	// FindByTokenID returns the record for the derived key, or
	// ErrTokenNotFound.
	FindByTokenID(ctx context.Context, tokenID string) (*AccessTokenRecord, error)

	// DeleteByTokenID removes the record for the derived key. Deleting an
	// absent record is a no-op success.
	DeleteByTokenID(ctx context.Context, tokenID string) error

	// FindAllByAuthenticationID returns every record carrying the
	// authentication key, ordered by surrogate ID.
	FindAllByAuthenticationID(ctx context.Context, authenticationID string) ([]*AccessTokenRecord, error)

	// FindAllByClientID returns every record issued to the client, in
	// insertion order.
	FindAllByClientID(ctx context.Context, clientID string) ([]*AccessTokenRecord, error)

	// FindAllByClientIDAndUserName returns every record issued to the
	// client on behalf of the user, in insertion order.
	FindAllByClientIDAndUserName(ctx context.Context, clientID, userName string) ([]*AccessTokenRecord, error)

	// DeleteAllByRefreshToken removes every record whose RefreshToken
	// field equals the derived refresh key, returning the number removed.
	// The batch is idempotent and safe to retry; concurrent readers of an
	// affected token observe it fully present or fully gone.
	DeleteAllByRefreshToken(ctx context.Context, refreshTokenID string) (int, error)
}

// RefreshTokenRepository persists refresh-token records keyed by derived
// token key.
type RefreshTokenRepository interface {
	Save(ctx context.Context, record *RefreshTokenRecord) error
	FindByTokenID(ctx context.Context, tokenID string) (*RefreshTokenRecord, error)
	DeleteByTokenID(ctx context.Context, tokenID string) error
}

// AuthorizationCodeRepository persists single-use authorization codes.
type AuthorizationCodeRepository interface {
	// Save persists a pending code.
	Save(ctx context.Context, record *AuthorizationCodeRecord) error

	// Take atomically reads and removes the record for the code. This is
	// the sole read path: two concurrent Takes of the same code yield
	// exactly one record; the loser observes ErrCodeNotFound.
	Take(ctx context.Context, code string) (*AuthorizationCodeRecord, error)
}

// PartnerTokenRepository persists delegated partner tokens keyed by the
// partner authentication key.
type PartnerTokenRepository interface {
	Save(ctx context.Context, record *PartnerTokenRecord) error
	FindAllByAuthenticationID(ctx context.Context, authenticationID string) ([]*PartnerTokenRecord, error)
	DeleteAllByAuthenticationID(ctx context.Context, authenticationID string) (int, error)
}

// ClientRepository persists registered client details keyed by client id.
type ClientRepository interface {
	// Save inserts or overwrites the client's details.
	Save(ctx context.Context, details *ClientDetails) error

	// FindByClientID returns the details, or ErrClientNotFound.
	FindByClientID(ctx context.Context, clientID string) (*ClientDetails, error)

	// DeleteByClientID removes the details; absent is a no-op success.
	DeleteByClientID(ctx context.Context, clientID string) error

	// List returns all registered clients, ordered by client id so
	// repeated calls with no intervening writes agree.
	List(ctx context.Context) ([]*ClientDetails, error)
}

// PartnerRepository persists partner protected-resource details keyed by
// partner id.
type PartnerRepository interface {
	Save(ctx context.Context, details *PartnerDetails) error
	FindByPartnerID(ctx context.Context, partnerID string) (*PartnerDetails, error)
	DeleteByPartnerID(ctx context.Context, partnerID string) error
	List(ctx context.Context) ([]*PartnerDetails, error)
}

// ApprovalRepository persists user/client consent records.
type ApprovalRepository interface {
	Save(ctx context.Context, record *ApprovalRecord) error
	FindAllByUserAndClient(ctx context.Context, userName, clientID string) ([]*ApprovalRecord, error)
	DeleteAllByUserAndClient(ctx context.Context, userName, clientID string) (int, error)
}
