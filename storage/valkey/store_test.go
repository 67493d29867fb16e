package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/authbridge/tokenvault/internal/testutil"
	"github.com/authbridge/tokenvault/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if no server is reachable; set VALKEY_TEST_ADDR to
// point at one. Each test gets a unique prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("tokenvaulttest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all keys under the store's test prefix.
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	err := s.scanKeys(ctx, s.prefix+"*", func(key string) error {
		return s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error()
	})
	if err != nil {
		t.Logf("Warning: failed to clean up test keys: %v", err)
	}
}

func accessRecord(userName, clientID string) *storage.AccessTokenRecord {
	token := testutil.GenerateToken()
	return &storage.AccessTokenRecord{
		ID:               uuid.NewString(),
		TokenID:          storage.DeriveTokenKey(token.Value),
		Token:            token,
		AuthenticationID: fmt.Sprintf("auth-%s-%s", clientID, userName),
		ClientID:         clientID,
		UserName:         userName,
		Authentication:   "payload",
	}
}

func TestNewMissingAddress(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing address")
	}
}

func TestAccessTokenLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.AccessTokens()

	record := accessRecord("alice", "web-app")
	testutil.AssertNoError(t, repo.Save(ctx, record))

	got, err := repo.FindByTokenID(ctx, record.TokenID)
	testutil.AssertNoError(t, err)
	if got.ID != record.ID || got.Token.Value != record.Token.Value {
		t.Errorf("got record %q/%q, want %q/%q", got.ID, got.Token.Value, record.ID, record.Token.Value)
	}
	if got.Audit.CreatedBy != auditActor {
		t.Errorf("Audit.CreatedBy = %q, want %q", got.Audit.CreatedBy, auditActor)
	}

	testutil.AssertNoError(t, repo.DeleteByTokenID(ctx, record.TokenID))

	if _, err := repo.FindByTokenID(ctx, record.TokenID); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("error after delete = %v, want ErrTokenNotFound", err)
	}

	// Deleting again is a no-op success.
	testutil.AssertNoError(t, repo.DeleteByTokenID(ctx, record.TokenID))
}

func TestAccessTokenInsertionOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.AccessTokens()

	var want []string
	for i := 0; i < 5; i++ {
		record := accessRecord("alice", "web-app")
		testutil.AssertNoError(t, repo.Save(ctx, record))
		want = append(want, record.TokenID)
		time.Sleep(time.Millisecond) // distinct insertion scores
	}

	records, err := repo.FindAllByClientID(ctx, "web-app")
	testutil.AssertNoError(t, err)
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d", len(records), len(want))
	}
	for i, record := range records {
		if record.TokenID != want[i] {
			t.Errorf("record %d = %q, want %q", i, record.TokenID, want[i])
		}
	}

	byUser, err := repo.FindAllByClientIDAndUserName(ctx, "web-app", "alice")
	testutil.AssertNoError(t, err)
	if len(byUser) != len(want) {
		t.Errorf("got %d records by user, want %d", len(byUser), len(want))
	}
}

func TestAccessTokenFindAllByAuthenticationID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.AccessTokens()

	a := accessRecord("alice", "web-app")
	b := accessRecord("alice", "web-app")
	a.AuthenticationID = "shared-auth"
	b.AuthenticationID = "shared-auth"
	testutil.AssertNoError(t, repo.Save(ctx, b))
	testutil.AssertNoError(t, repo.Save(ctx, a))

	records, err := repo.FindAllByAuthenticationID(ctx, "shared-auth")
	testutil.AssertNoError(t, err)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID > records[1].ID {
		t.Errorf("records not ordered by ID: %q before %q", records[0].ID, records[1].ID)
	}
}

func TestAccessTokenCascadeDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.AccessTokens()

	refreshKey := storage.DeriveTokenKey("the-refresh-token")
	linked := accessRecord("alice", "web-app")
	linked.RefreshToken = refreshKey
	other := accessRecord("bob", "web-app")
	testutil.AssertNoError(t, repo.Save(ctx, linked))
	testutil.AssertNoError(t, repo.Save(ctx, other))

	removed, err := repo.DeleteAllByRefreshToken(ctx, refreshKey)
	testutil.AssertNoError(t, err)
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := repo.FindByTokenID(ctx, linked.TokenID); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("linked token error = %v, want ErrTokenNotFound", err)
	}
	if _, err := repo.FindByTokenID(ctx, other.TokenID); err != nil {
		t.Errorf("unrelated token should survive: %v", err)
	}

	// Index entries are gone with the records.
	if records, _ := repo.FindAllByClientIDAndUserName(ctx, "web-app", "alice"); len(records) != 0 {
		t.Errorf("got %d records for alice after cascade, want 0", len(records))
	}

	removed, err = repo.DeleteAllByRefreshToken(ctx, "")
	testutil.AssertNoError(t, err)
	if removed != 0 {
		t.Errorf("removed = %d for empty key, want 0", removed)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.RefreshTokens()

	token := testutil.GenerateRefreshToken()
	record := &storage.RefreshTokenRecord{
		ID:             uuid.NewString(),
		TokenID:        storage.DeriveTokenKey(token.Value),
		Token:          token,
		Authentication: "payload",
	}
	testutil.AssertNoError(t, repo.Save(ctx, record))

	got, err := repo.FindByTokenID(ctx, record.TokenID)
	testutil.AssertNoError(t, err)
	if got.Token.Value != token.Value {
		t.Errorf("Token.Value = %q, want %q", got.Token.Value, token.Value)
	}

	testutil.AssertNoError(t, repo.DeleteByTokenID(ctx, record.TokenID))
	if _, err := repo.FindByTokenID(ctx, record.TokenID); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("error after delete = %v, want ErrTokenNotFound", err)
	}
}

func TestAuthorizationCodeTake(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Codes()

	record := &storage.AuthorizationCodeRecord{
		ID:             uuid.NewString(),
		Code:           testutil.GenerateRandomString(24),
		Authentication: "payload",
		ExpiresAt:      time.Now().Add(5 * time.Minute),
	}
	testutil.AssertNoError(t, repo.Save(ctx, record))

	got, err := repo.Take(ctx, record.Code)
	testutil.AssertNoError(t, err)
	if got.Authentication != record.Authentication {
		t.Errorf("Authentication = %q, want %q", got.Authentication, record.Authentication)
	}

	if _, err := repo.Take(ctx, record.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("second take error = %v, want ErrCodeNotFound", err)
	}
}

func TestAuthorizationCodeTakeExactlyOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Codes()

	record := &storage.AuthorizationCodeRecord{
		ID:        uuid.NewString(),
		Code:      testutil.GenerateRandomString(24),
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}
	testutil.AssertNoError(t, repo.Save(ctx, record))

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Take(ctx, record.Code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, storage.ErrCodeNotFound) {
			t.Errorf("unexpected take error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
}

func TestAuthorizationCodeExpiredNotStored(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Codes()

	record := &storage.AuthorizationCodeRecord{
		ID:        uuid.NewString(),
		Code:      testutil.GenerateRandomString(24),
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	testutil.AssertNoError(t, repo.Save(ctx, record))

	if _, err := repo.Take(ctx, record.Code); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("take of expired code = %v, want ErrCodeNotFound", err)
	}
}

func TestPartnerTokenLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.PartnerTokens()

	record := &storage.PartnerTokenRecord{
		ID:               uuid.NewString(),
		TokenID:          storage.DeriveTokenKey("partner-token"),
		Token:            testutil.GenerateToken(),
		AuthenticationID: "partner-auth",
		ClientID:         "web-app",
		UserName:         "alice",
	}
	testutil.AssertNoError(t, repo.Save(ctx, record))

	records, err := repo.FindAllByAuthenticationID(ctx, "partner-auth")
	testutil.AssertNoError(t, err)
	if len(records) != 1 || records[0].ID != record.ID {
		t.Fatalf("got %d records, want the saved one", len(records))
	}

	removed, err := repo.DeleteAllByAuthenticationID(ctx, "partner-auth")
	testutil.AssertNoError(t, err)
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	records, err = repo.FindAllByAuthenticationID(ctx, "partner-auth")
	testutil.AssertNoError(t, err)
	if len(records) != 0 {
		t.Errorf("got %d records after delete, want 0", len(records))
	}
}

func TestClientLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Clients()

	details := testutil.GenerateClientDetails("web-app")
	testutil.AssertNoError(t, repo.Save(ctx, details))

	got, err := repo.FindByClientID(ctx, "web-app")
	testutil.AssertNoError(t, err)
	if got.ClientSecretHash != details.ClientSecretHash {
		t.Errorf("ClientSecretHash = %q, want %q", got.ClientSecretHash, details.ClientSecretHash)
	}
	if len(got.GrantTypes) != len(details.GrantTypes) {
		t.Errorf("GrantTypes = %v, want %v", got.GrantTypes, details.GrantTypes)
	}

	if _, err := repo.FindByClientID(ctx, "nope"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("unknown client error = %v, want ErrClientNotFound", err)
	}

	testutil.AssertNoError(t, repo.DeleteByClientID(ctx, "web-app"))
	if _, err := repo.FindByClientID(ctx, "web-app"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("error after delete = %v, want ErrClientNotFound", err)
	}
}

func TestClientListOrdered(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Clients()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		testutil.AssertNoError(t, repo.Save(ctx, testutil.GenerateClientDetails(id)))
	}

	clients, err := repo.List(ctx)
	testutil.AssertNoError(t, err)
	want := []string{"alpha", "bravo", "charlie"}
	if len(clients) != len(want) {
		t.Fatalf("got %d clients, want %d", len(clients), len(want))
	}
	for i, c := range clients {
		if c.ClientID != want[i] {
			t.Errorf("client %d = %q, want %q", i, c.ClientID, want[i])
		}
	}
}

func TestPartnerLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Partners()

	details := testutil.GeneratePartnerDetails("billing")
	testutil.AssertNoError(t, repo.Save(ctx, details))

	got, err := repo.FindByPartnerID(ctx, "billing")
	testutil.AssertNoError(t, err)
	if got.AccessTokenURI != details.AccessTokenURI {
		t.Errorf("AccessTokenURI = %q, want %q", got.AccessTokenURI, details.AccessTokenURI)
	}

	if _, err := repo.FindByPartnerID(ctx, "nope"); !errors.Is(err, storage.ErrPartnerNotFound) {
		t.Errorf("unknown partner error = %v, want ErrPartnerNotFound", err)
	}

	testutil.AssertNoError(t, repo.DeleteByPartnerID(ctx, "billing"))
	if _, err := repo.FindByPartnerID(ctx, "billing"); !errors.Is(err, storage.ErrPartnerNotFound) {
		t.Errorf("error after delete = %v, want ErrPartnerNotFound", err)
	}
}

func TestApprovalLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	repo := s.Approvals()

	for _, scope := range []string{"write", "read"} {
		record := &storage.ApprovalRecord{
			UserName:   "alice",
			ClientID:   "web-app",
			Scope:      scope,
			ApprovedAt: time.Now(),
		}
		testutil.AssertNoError(t, repo.Save(ctx, record))
	}

	// Re-approval of a scope replaces the earlier record.
	testutil.AssertNoError(t, repo.Save(ctx, &storage.ApprovalRecord{
		UserName:   "alice",
		ClientID:   "web-app",
		Scope:      "read",
		ApprovedAt: time.Now(),
	}))

	records, err := repo.FindAllByUserAndClient(ctx, "alice", "web-app")
	testutil.AssertNoError(t, err)
	if len(records) != 2 {
		t.Fatalf("got %d approvals, want 2", len(records))
	}
	if records[0].Scope != "read" || records[1].Scope != "write" {
		t.Errorf("scopes = %q, %q; want read, write", records[0].Scope, records[1].Scope)
	}

	removed, err := repo.DeleteAllByUserAndClient(ctx, "alice", "web-app")
	testutil.AssertNoError(t, err)
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	removed, err = repo.DeleteAllByUserAndClient(ctx, "alice", "web-app")
	testutil.AssertNoError(t, err)
	if removed != 0 {
		t.Errorf("removed = %d on second delete, want 0", removed)
	}
}
