// Package testutil provides testing utilities and helpers for the tokenvault library.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/authbridge/tokenvault/storage"
)

// GenerateAuthentication creates a test authentication for the given user
// and client with a fixed scope set.
func GenerateAuthentication(userName, clientID string) *storage.Authentication {
	return &storage.Authentication{
		ClientID:      clientID,
		Scopes:        []string{"read", "write"},
		RedirectURI:   "https://example.com/callback",
		Authorities:   []string{"ROLE_USER"},
		UserName:      userName,
		Authenticated: true,
	}
}

// GenerateClientAuthentication creates a test authentication with no user
// principal, as produced by the client_credentials grant.
func GenerateClientAuthentication(clientID string) *storage.Authentication {
	return &storage.Authentication{
		ClientID:      clientID,
		Scopes:        []string{"trust"},
		Authenticated: true,
	}
}

// GenerateToken creates a test bearer token expiring in one hour.
func GenerateToken() storage.Token {
	return GenerateTokenWithExpiry(time.Now().Add(time.Hour))
}

// GenerateTokenWithExpiry creates a test bearer token with a specific expiry.
func GenerateTokenWithExpiry(expiry time.Time) storage.Token {
	return storage.Token{
		Value:     GenerateRandomString(32),
		TokenType: "bearer",
		ExpiresAt: expiry,
		Scopes:    []string{"read", "write"},
	}
}

// GenerateRefreshToken creates a test refresh token. Refresh tokens carry no
// expiry by default.
func GenerateRefreshToken() storage.Token {
	return storage.Token{
		Value:     GenerateRandomString(32),
		TokenType: "bearer",
		Scopes:    []string{"read", "write"},
	}
}

// GenerateClientDetails creates a test client registration with a plain-text
// secret in ClientSecretHash; hash it first when the test exercises secret
// verification.
func GenerateClientDetails(clientID string) *storage.ClientDetails {
	return &storage.ClientDetails{
		ClientID:            clientID,
		ClientSecretHash:    GenerateRandomString(24),
		Scopes:              []string{"read", "write"},
		GrantTypes:          []string{"authorization_code", "refresh_token"},
		RedirectURIs:        []string{"https://example.com/callback"},
		Authorities:         []string{"ROLE_CLIENT"},
		AccessTokenValidity: 3600,
	}
}

// GeneratePartnerDetails creates a test partner resource registration.
func GeneratePartnerDetails(partnerID string) *storage.PartnerDetails {
	return &storage.PartnerDetails{
		PartnerID:      partnerID,
		ClientID:       partnerID + "-client",
		ClientSecret:   GenerateRandomString(24),
		Scopes:         []string{"partner.read"},
		AccessTokenURI: "https://partner.example.com/oauth/token",
	}
}

// GenerateRandomString generates a random URL-safe string of the given length.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}
