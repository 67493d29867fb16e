package tokenvault

import (
	"context"
	"errors"
	"testing"

	"github.com/authbridge/tokenvault/internal/testutil"
	"github.com/authbridge/tokenvault/storage"
	"github.com/authbridge/tokenvault/storage/memory"
)

func newTestPartnerRegistry(t *testing.T) *PartnerRegistry {
	t.Helper()
	backend := memory.New()
	t.Cleanup(backend.Stop)
	return NewPartnerRegistry(backend.Partners())
}

func TestPartnerRegistryLifecycle(t *testing.T) {
	r := newTestPartnerRegistry(t)
	ctx := context.Background()

	details := testutil.GeneratePartnerDetails("billing")
	if err := r.SavePartner(ctx, details); err != nil {
		t.Fatalf("SavePartner() error = %v", err)
	}

	got, err := r.LoadPartnerByPartnerID(ctx, "billing")
	if err != nil {
		t.Fatalf("LoadPartnerByPartnerID() error = %v", err)
	}
	if got.ClientID != details.ClientID {
		t.Errorf("ClientID = %q, want %q", got.ClientID, details.ClientID)
	}

	cfg := got.OAuth2Config()
	if cfg.Endpoint.TokenURL != details.AccessTokenURI {
		t.Errorf("OAuth2Config().Endpoint.TokenURL = %q, want %q", cfg.Endpoint.TokenURL, details.AccessTokenURI)
	}

	if _, err := r.LoadPartnerByPartnerID(ctx, "missing"); !errors.Is(err, storage.ErrPartnerNotFound) {
		t.Errorf("LoadPartnerByPartnerID() error = %v, want ErrPartnerNotFound", err)
	}

	if err := r.RemovePartnerByPartnerID(ctx, "billing"); err != nil {
		t.Fatalf("RemovePartnerByPartnerID() error = %v", err)
	}
	if err := r.RemovePartnerByPartnerID(ctx, "billing"); err != nil {
		t.Errorf("RemovePartnerByPartnerID() second call error = %v, want nil", err)
	}
}

func TestPartnerRegistryValidation(t *testing.T) {
	r := newTestPartnerRegistry(t)
	ctx := context.Background()

	if err := r.SavePartner(ctx, nil); err == nil {
		t.Error("SavePartner(nil) should fail")
	}
	if err := r.SavePartner(ctx, &storage.PartnerDetails{}); err == nil {
		t.Error("SavePartner() without partner id should fail")
	}
}

func TestPartnerRegistryList(t *testing.T) {
	r := newTestPartnerRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"shipping", "billing"} {
		if err := r.SavePartner(ctx, testutil.GeneratePartnerDetails(id)); err != nil {
			t.Fatalf("SavePartner(%s) error = %v", id, err)
		}
	}

	list, err := r.ListPartners(ctx)
	if err != nil {
		t.Fatalf("ListPartners() error = %v", err)
	}
	if len(list) != 2 || list[0].PartnerID != "billing" || list[1].PartnerID != "shipping" {
		t.Errorf("ListPartners() order wrong: %v", list)
	}
}
