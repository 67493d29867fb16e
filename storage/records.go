package storage

import (
	"sort"
	"time"

	"golang.org/x/oauth2"
)

// Token is the opaque bearer credential payload stored on token records and
// returned to callers. Value is the raw secret handed to the client; records
// are looked up by DeriveTokenKey(Value), never by Value itself.
type Token struct {
	Value     string
	TokenType string // "Bearer"
	ExpiresAt time.Time
	Scopes    []string

	// RefreshValue is the raw refresh token issued alongside an access
	// token, empty for non-refreshable grants and for refresh/partner
	// token payloads.
	RefreshValue string
}

// Expired reports whether the payload is past its expiry. A zero ExpiresAt
// never expires.
func (t *Token) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// AuditMetadata carries the shared audit fields embedded in every record.
// Backends call Touch before each insert or update; the fields are
// bookkeeping only and never participate in lookups.
type AuditMetadata struct {
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
}

// Touch stamps the audit fields ahead of a write. The first call sets the
// created pair; every call refreshes the updated pair.
func (m *AuditMetadata) Touch(actor string) {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
		m.CreatedBy = actor
	}
	m.UpdatedAt = now
	m.UpdatedBy = actor
}

// AccessTokenRecord is the persisted form of an issued access token.
type AccessTokenRecord struct {
	// ID is the surrogate identifier, assigned at creation, immutable.
	ID string

	// TokenID is the derived lookup key for the raw token value.
	TokenID string

	// Token is the raw credential payload.
	Token Token

	// AuthenticationID is the derived key of the authentication context,
	// unique per (client, scopes, principal) combination.
	AuthenticationID string

	// ClientID and UserName are denormalized from the authentication
	// context for direct lookup without decoding it. UserName holds the
	// sentinel marker for grants without a user principal.
	ClientID string
	UserName string

	// Authentication is the codec-encoded authentication context.
	Authentication string

	// RefreshToken is the derived key of the refresh token this access
	// token was issued alongside, empty for non-refreshable grants.
	RefreshToken string

	Audit AuditMetadata
}

// RefreshTokenRecord is the persisted form of an issued refresh token.
type RefreshTokenRecord struct {
	ID             string
	TokenID        string
	Token          Token
	Authentication string
	Audit          AuditMetadata
}

// AuthorizationCodeRecord is the persisted form of a pending authorization
// code. Codes are single-use: the only supported read is the atomic
// read-and-remove on the repository.
type AuthorizationCodeRecord struct {
	ID             string
	Code           string
	Authentication string
	ExpiresAt      time.Time
	Audit          AuditMetadata
}

// PartnerTokenRecord is the persisted form of a delegated token obtained
// from a partner protected resource on behalf of an authenticated user.
type PartnerTokenRecord struct {
	ID               string
	TokenID          string
	Token            Token
	AuthenticationID string
	ClientID         string
	UserName         string
	Audit            AuditMetadata
}

// ClientDetails describes a registered OAuth client.
type ClientDetails struct {
	ClientID             string
	ClientSecretHash     string // output of the credential-hashing collaborator
	Scopes               []string
	GrantTypes           []string
	RedirectURIs         []string
	Authorities          []string
	AutoApproveScopes    []string
	AccessTokenValidity  int // seconds; 0 means deployment default
	RefreshTokenValidity int // seconds; 0 disables refresh tokens
	Audit                AuditMetadata
}

// PartnerDetails describes a downstream partner protected resource this
// server holds delegated credentials for. The client secret here belongs to
// the partner's authorization server and is supplied by it, which is why it
// is not run through the local hashing collaborator.
type PartnerDetails struct {
	PartnerID                 string
	ClientID                  string
	ClientSecret              string
	Scopes                    []string
	AccessTokenURI            string
	UserAuthorizationURI      string
	PreEstablishedRedirectURI string
	Audit                     AuditMetadata
}

// SortedScopes returns the partner's scopes in lexical order.
func (p *PartnerDetails) SortedScopes() []string {
	scopes := make([]string, len(p.Scopes))
	copy(scopes, p.Scopes)
	sort.Strings(scopes)
	return scopes
}

// OAuth2Config builds the oauth2 client configuration for exchanging and
// refreshing delegated tokens against the partner's authorization server.
func (p *PartnerDetails) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Scopes:       append([]string(nil), p.Scopes...),
		RedirectURL:  p.PreEstablishedRedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.UserAuthorizationURI,
			TokenURL: p.AccessTokenURI,
		},
	}
}

// ApprovalRecord captures a user's consent for a client to act within a
// scope. Revoking it cascades into removal of the pair's access tokens.
type ApprovalRecord struct {
	UserName   string
	ClientID   string
	Scope      string
	ApprovedAt time.Time
	ExpiresAt  time.Time
	Audit      AuditMetadata
}
