package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/authbridge/tokenvault/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	t.Cleanup(s.Stop)
	return s
}

func accessRecord(id, tokenID, clientID, userName string) *storage.AccessTokenRecord {
	return &storage.AccessTokenRecord{
		ID:      id,
		TokenID: tokenID,
		Token: storage.Token{
			Value:     "opaque-" + tokenID,
			TokenType: "bearer",
			ExpiresAt: time.Now().Add(time.Hour),
		},
		AuthenticationID: "auth-" + clientID + "-" + userName,
		ClientID:         clientID,
		UserName:         userName,
		Authentication:   "encoded",
	}
}

func TestAccessTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := accessRecord("id-1", "tok-1", "client-a", "alice")
	if err := s.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.FindByTokenID(ctx, "tok-1")
	if err != nil {
		t.Fatalf("FindByTokenID() error = %v", err)
	}
	if got.ClientID != "client-a" || got.UserName != "alice" {
		t.Errorf("FindByTokenID() = %+v, want client-a/alice", got)
	}
	if got.Audit.CreatedAt.IsZero() || got.Audit.UpdatedAt.IsZero() {
		t.Error("Save() should populate audit metadata")
	}

	if err := s.DeleteByTokenID(ctx, "tok-1"); err != nil {
		t.Fatalf("DeleteByTokenID() error = %v", err)
	}
	if _, err := s.FindByTokenID(ctx, "tok-1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("FindByTokenID() after delete error = %v, want ErrTokenNotFound", err)
	}

	// Deleting again is a no-op, not an error.
	if err := s.DeleteByTokenID(ctx, "tok-1"); err != nil {
		t.Errorf("DeleteByTokenID() second call error = %v", err)
	}
}

func TestAccessTokenSaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, accessRecord("id-1", "tok-1", "client-a", "alice")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	updated := accessRecord("id-2", "tok-1", "client-a", "alice")
	updated.Token.Value = "rotated"
	if err := s.Save(ctx, updated); err != nil {
		t.Fatalf("Save() overwrite error = %v", err)
	}

	got, err := s.FindByTokenID(ctx, "tok-1")
	if err != nil {
		t.Fatalf("FindByTokenID() error = %v", err)
	}
	if got.Token.Value != "rotated" {
		t.Errorf("Token.Value = %q, want %q", got.Token.Value, "rotated")
	}

	all, err := s.FindAllByClientID(ctx, "client-a")
	if err != nil {
		t.Fatalf("FindAllByClientID() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("FindAllByClientID() returned %d records, want 1", len(all))
	}
}

func TestAccessTokenSaveInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, nil); err == nil {
		t.Error("Save(nil) should fail")
	}
	if err := s.Save(ctx, &storage.AccessTokenRecord{}); err == nil {
		t.Error("Save() without TokenID should fail")
	}
}

func TestFindAllByClientIDInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tokenID := fmt.Sprintf("tok-%d", i)
		if err := s.Save(ctx, accessRecord(fmt.Sprintf("id-%d", i), tokenID, "client-a", "alice")); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	// A record for another client must not leak into the scan.
	if err := s.Save(ctx, accessRecord("id-x", "tok-x", "client-b", "bob")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	all, err := s.FindAllByClientID(ctx, "client-a")
	if err != nil {
		t.Fatalf("FindAllByClientID() error = %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("FindAllByClientID() returned %d records, want 5", len(all))
	}
	for i, record := range all {
		want := fmt.Sprintf("tok-%d", i)
		if record.TokenID != want {
			t.Errorf("record[%d].TokenID = %q, want %q", i, record.TokenID, want)
		}
	}
}

func TestFindAllByClientIDAndUserName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []*storage.AccessTokenRecord{
		accessRecord("id-1", "tok-1", "client-a", "alice"),
		accessRecord("id-2", "tok-2", "client-a", "bob"),
		accessRecord("id-3", "tok-3", "client-b", "alice"),
		accessRecord("id-4", "tok-4", "client-a", "alice"),
	}
	for _, record := range records {
		if err := s.Save(ctx, record); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := s.FindAllByClientIDAndUserName(ctx, "client-a", "alice")
	if err != nil {
		t.Fatalf("FindAllByClientIDAndUserName() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].TokenID != "tok-1" || got[1].TokenID != "tok-4" {
		t.Errorf("got token IDs %q, %q; want tok-1, tok-4", got[0].TokenID, got[1].TokenID)
	}
}

func TestFindAllByAuthenticationIDOrderedByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Insert out of surrogate-ID order; results must come back sorted.
	for _, id := range []string{"id-c", "id-a", "id-b"} {
		record := accessRecord(id, "tok-"+id, "client-a", "alice")
		record.AuthenticationID = "shared-auth"
		if err := s.Save(ctx, record); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := s.FindAllByAuthenticationID(ctx, "shared-auth")
	if err != nil {
		t.Fatalf("FindAllByAuthenticationID() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	for i, want := range []string{"id-a", "id-b", "id-c"} {
		if got[i].ID != want {
			t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, want)
		}
	}
}

func TestDeleteAllByRefreshToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		record := accessRecord(fmt.Sprintf("id-%d", i), fmt.Sprintf("tok-%d", i), "client-a", "alice")
		record.RefreshToken = "refresh-key"
		if err := s.Save(ctx, record); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	unrelated := accessRecord("id-u", "tok-u", "client-a", "alice")
	unrelated.RefreshToken = "other-key"
	if err := s.Save(ctx, unrelated); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	count, err := s.DeleteAllByRefreshToken(ctx, "refresh-key")
	if err != nil {
		t.Fatalf("DeleteAllByRefreshToken() error = %v", err)
	}
	if count != 3 {
		t.Errorf("DeleteAllByRefreshToken() count = %d, want 3", count)
	}

	if _, err := s.FindByTokenID(ctx, "tok-u"); err != nil {
		t.Errorf("unrelated token should survive cascade, got error %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.FindByTokenID(ctx, fmt.Sprintf("tok-%d", i)); !errors.Is(err, storage.ErrTokenNotFound) {
			t.Errorf("tok-%d should be gone, got error %v", i, err)
		}
	}

	// Empty key matches nothing rather than everything.
	count, err = s.DeleteAllByRefreshToken(ctx, "")
	if err != nil {
		t.Fatalf("DeleteAllByRefreshToken(\"\") error = %v", err)
	}
	if count != 0 {
		t.Errorf("DeleteAllByRefreshToken(\"\") count = %d, want 0", count)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	repo := s.RefreshTokens()
	ctx := context.Background()

	record := &storage.RefreshTokenRecord{
		ID:      "rid-1",
		TokenID: "rtok-1",
		Token: storage.Token{
			Value:     "opaque-refresh",
			TokenType: "bearer",
		},
		Authentication: "encoded",
	}
	if err := repo.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.FindByTokenID(ctx, "rtok-1")
	if err != nil {
		t.Fatalf("FindByTokenID() error = %v", err)
	}
	if got.Token.Value != "opaque-refresh" {
		t.Errorf("Token.Value = %q", got.Token.Value)
	}

	if err := repo.DeleteByTokenID(ctx, "rtok-1"); err != nil {
		t.Fatalf("DeleteByTokenID() error = %v", err)
	}
	if _, err := repo.FindByTokenID(ctx, "rtok-1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("error = %v, want ErrTokenNotFound", err)
	}
	if err := repo.DeleteByTokenID(ctx, "rtok-1"); err != nil {
		t.Errorf("second delete error = %v, want nil", err)
	}
}

func TestCodeTakeRemoves(t *testing.T) {
	s := newTestStore(t)
	repo := s.Codes()
	ctx := context.Background()

	record := &storage.AuthorizationCodeRecord{
		ID:             "cid-1",
		Code:           "authcode-1",
		Authentication: "encoded",
		ExpiresAt:      time.Now().Add(5 * time.Minute),
	}
	if err := repo.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.Take(ctx, "authcode-1")
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if got.Authentication != "encoded" {
		t.Errorf("Authentication = %q", got.Authentication)
	}

	if _, err := repo.Take(ctx, "authcode-1"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("second Take() error = %v, want ErrCodeNotFound", err)
	}
}

func TestCodeTakeExpired(t *testing.T) {
	s := newTestStore(t)
	repo := s.Codes()
	ctx := context.Background()

	record := &storage.AuthorizationCodeRecord{
		ID:             "cid-1",
		Code:           "stale-code",
		Authentication: "encoded",
		ExpiresAt:      time.Now().Add(-time.Minute),
	}
	if err := repo.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := repo.Take(ctx, "stale-code"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("Take() expired code error = %v, want ErrCodeNotFound", err)
	}
}

func TestCodeTakeExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	repo := s.Codes()
	ctx := context.Background()

	record := &storage.AuthorizationCodeRecord{
		ID:             "cid-1",
		Code:           "contested-code",
		Authentication: "encoded",
		ExpiresAt:      time.Now().Add(5 * time.Minute),
	}
	if err := repo.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	const racers = 16
	var (
		wg        sync.WaitGroup
		successes int64
		mu        sync.Mutex
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := repo.Take(ctx, "contested-code"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Errorf("%d callers consumed the code, want exactly 1", successes)
	}
}

func TestCleanupSweepsExpiredCodes(t *testing.T) {
	s := newTestStore(t)
	repo := s.Codes()
	ctx := context.Background()

	expired := &storage.AuthorizationCodeRecord{
		ID:        "cid-1",
		Code:      "expired-code",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	live := &storage.AuthorizationCodeRecord{
		ID:        "cid-2",
		Code:      "live-code",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := repo.Save(ctx, expired); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := repo.Save(ctx, live); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	s.cleanup()

	s.mu.RLock()
	_, expiredPresent := s.codes["expired-code"]
	_, livePresent := s.codes["live-code"]
	s.mu.RUnlock()

	if expiredPresent {
		t.Error("cleanup should remove the expired code")
	}
	if !livePresent {
		t.Error("cleanup should keep the live code")
	}
}

func TestPartnerTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	repo := s.PartnerTokens()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		record := &storage.PartnerTokenRecord{
			ID:      fmt.Sprintf("pid-%d", i),
			TokenID: fmt.Sprintf("ptok-%d", i),
			Token: storage.Token{
				Value:     "partner-opaque",
				TokenType: "bearer",
				ExpiresAt: time.Now().Add(time.Hour),
			},
			AuthenticationID: "partner-auth",
			ClientID:         "client-a",
			UserName:         "alice",
		}
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	got, err := repo.FindAllByAuthenticationID(ctx, "partner-auth")
	if err != nil {
		t.Fatalf("FindAllByAuthenticationID() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].ID != "pid-0" || got[1].ID != "pid-1" {
		t.Errorf("records out of insertion order: %q, %q", got[0].ID, got[1].ID)
	}

	count, err := repo.DeleteAllByAuthenticationID(ctx, "partner-auth")
	if err != nil {
		t.Fatalf("DeleteAllByAuthenticationID() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	got, err = repo.FindAllByAuthenticationID(ctx, "partner-auth")
	if err != nil {
		t.Fatalf("FindAllByAuthenticationID() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d records after delete, want 0", len(got))
	}
}

func TestClientLifecycle(t *testing.T) {
	s := newTestStore(t)
	repo := s.Clients()
	ctx := context.Background()

	details := &storage.ClientDetails{
		ClientID:         "client-a",
		ClientSecretHash: "$2a$10$hash",
		Scopes:           []string{"read", "write"},
		GrantTypes:       []string{"authorization_code"},
	}
	if err := repo.Save(ctx, details); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.FindByClientID(ctx, "client-a")
	if err != nil {
		t.Fatalf("FindByClientID() error = %v", err)
	}
	if got.ClientSecretHash != "$2a$10$hash" {
		t.Errorf("ClientSecretHash = %q", got.ClientSecretHash)
	}

	if _, err := repo.FindByClientID(ctx, "missing"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("error = %v, want ErrClientNotFound", err)
	}

	if err := repo.DeleteByClientID(ctx, "client-a"); err != nil {
		t.Fatalf("DeleteByClientID() error = %v", err)
	}
	if err := repo.DeleteByClientID(ctx, "client-a"); err != nil {
		t.Errorf("second delete error = %v, want nil", err)
	}
}

func TestClientListOrdered(t *testing.T) {
	s := newTestStore(t)
	repo := s.Clients()
	ctx := context.Background()

	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := repo.Save(ctx, &storage.ClientDetails{ClientID: id}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(list) != len(want) {
		t.Fatalf("List() returned %d clients, want %d", len(list), len(want))
	}
	for i, details := range list {
		if details.ClientID != want[i] {
			t.Errorf("list[%d].ClientID = %q, want %q", i, details.ClientID, want[i])
		}
	}
}

func TestPartnerLifecycle(t *testing.T) {
	s := newTestStore(t)
	repo := s.Partners()
	ctx := context.Background()

	details := &storage.PartnerDetails{
		PartnerID:      "billing",
		ClientID:       "billing-client",
		ClientSecret:   "s3cr3t",
		Scopes:         []string{"invoice"},
		AccessTokenURI: "https://partner.example.com/oauth/token",
	}
	if err := repo.Save(ctx, details); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.FindByPartnerID(ctx, "billing")
	if err != nil {
		t.Fatalf("FindByPartnerID() error = %v", err)
	}
	if got.ClientID != "billing-client" {
		t.Errorf("ClientID = %q", got.ClientID)
	}

	if _, err := repo.FindByPartnerID(ctx, "missing"); !errors.Is(err, storage.ErrPartnerNotFound) {
		t.Errorf("error = %v, want ErrPartnerNotFound", err)
	}

	if err := repo.DeleteByPartnerID(ctx, "billing"); err != nil {
		t.Fatalf("DeleteByPartnerID() error = %v", err)
	}
	if _, err := repo.FindByPartnerID(ctx, "billing"); !errors.Is(err, storage.ErrPartnerNotFound) {
		t.Errorf("error after delete = %v, want ErrPartnerNotFound", err)
	}
}

func TestApprovalLifecycle(t *testing.T) {
	s := newTestStore(t)
	repo := s.Approvals()
	ctx := context.Background()

	for _, scope := range []string{"read", "write"} {
		record := &storage.ApprovalRecord{
			UserName:   "alice",
			ClientID:   "client-a",
			Scope:      scope,
			ApprovedAt: time.Now(),
			ExpiresAt:  time.Now().Add(24 * time.Hour),
		}
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	// Re-approving the same scope replaces rather than duplicates.
	if err := repo.Save(ctx, &storage.ApprovalRecord{
		UserName: "alice", ClientID: "client-a", Scope: "read",
		ApprovedAt: time.Now(), ExpiresAt: time.Now().Add(48 * time.Hour),
	}); err != nil {
		t.Fatalf("Save() re-approval error = %v", err)
	}

	got, err := repo.FindAllByUserAndClient(ctx, "alice", "client-a")
	if err != nil {
		t.Fatalf("FindAllByUserAndClient() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d approvals, want 2", len(got))
	}

	count, err := repo.DeleteAllByUserAndClient(ctx, "alice", "client-a")
	if err != nil {
		t.Fatalf("DeleteAllByUserAndClient() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	got, err = repo.FindAllByUserAndClient(ctx, "alice", "client-a")
	if err != nil {
		t.Fatalf("FindAllByUserAndClient() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d approvals after delete, want 0", len(got))
	}
}

func TestRecordsAreCopied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := accessRecord("id-1", "tok-1", "client-a", "alice")
	if err := s.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Mutating the caller's record after save must not affect the store.
	record.ClientID = "tampered"

	got, err := s.FindByTokenID(ctx, "tok-1")
	if err != nil {
		t.Fatalf("FindByTokenID() error = %v", err)
	}
	if got.ClientID != "client-a" {
		t.Errorf("stored record mutated through caller's pointer: ClientID = %q", got.ClientID)
	}

	// Mutating a returned record must not affect later reads.
	got.UserName = "mallory"
	again, err := s.FindByTokenID(ctx, "tok-1")
	if err != nil {
		t.Fatalf("FindByTokenID() error = %v", err)
	}
	if again.UserName != "alice" {
		t.Errorf("stored record mutated through returned pointer: UserName = %q", again.UserName)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				tokenID := fmt.Sprintf("tok-%d-%d", n, j)
				record := accessRecord(fmt.Sprintf("id-%d-%d", n, j), tokenID, "client-a", "alice")
				if err := s.Save(ctx, record); err != nil {
					t.Errorf("Save() error = %v", err)
					return
				}
				if _, err := s.FindByTokenID(ctx, tokenID); err != nil {
					t.Errorf("FindByTokenID() error = %v", err)
					return
				}
				if _, err := s.FindAllByClientID(ctx, "client-a"); err != nil {
					t.Errorf("FindAllByClientID() error = %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	all, err := s.FindAllByClientID(ctx, "client-a")
	if err != nil {
		t.Fatalf("FindAllByClientID() error = %v", err)
	}
	if len(all) != 200 {
		t.Errorf("got %d records, want 200", len(all))
	}
}
