package delegate

import (
	"context"
	"testing"

	"github.com/huykn/identity-cache/cache"
	"github.com/huykn/identity-cache/types"
)

func TestMemoryProviderNotFound(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	user, err := p.UserByID(ctx, "master", "missing")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if user != nil {
		t.Fatal("Missing users should resolve to nil, nil")
	}
}

func TestMemoryProviderLookups(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	p.PutUser(&types.User{
		ID:       "u1",
		RealmID:  "master",
		Username: "alice",
		Email:    "alice@example.com",
		Enabled:  true,
	})

	user, err := p.UserByUsername(ctx, "master", "ALICE")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if user == nil || user.ID != "u1" {
		t.Fatal("Expected alice by username, case-insensitive")
	}

	user, err = p.UserByEmail(ctx, "master", "Alice@Example.com")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if user == nil || user.ID != "u1" {
		t.Fatal("Expected alice by email")
	}

	if user, _ := p.UserByID(ctx, "other", "u1"); user != nil {
		t.Fatal("Realms must not leak into each other")
	}
}

func TestMemoryProviderAmbiguousEmail(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	p.PutUser(&types.User{ID: "u1", RealmID: "master", Username: "alice", Email: "shared@example.com"})
	p.PutUser(&types.User{ID: "u2", RealmID: "master", Username: "bob", Email: "shared@example.com"})

	if _, err := p.UserByEmail(ctx, "master", "shared@example.com"); err != cache.ErrAmbiguousResult {
		t.Fatalf("Expected ErrAmbiguousResult, got %v", err)
	}
}

func TestMemoryProviderReturnsCopies(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	p.PutUser(&types.User{
		ID:         "u1",
		RealmID:    "master",
		Username:   "alice",
		Attributes: map[string][]string{"dept": {"eng"}},
	})

	user, err := p.UserByID(ctx, "master", "u1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	user.Username = "mutated"
	user.Attributes["dept"][0] = "mutated"

	again, _ := p.UserByID(ctx, "master", "u1")
	if again.Username != "alice" || again.Attributes["dept"][0] != "eng" {
		t.Fatal("Callers must not be able to mutate stored state")
	}
}

func TestMemoryProviderUserLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	created, err := p.AddUser(ctx, "master", "", "Bob")
	if err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("An empty id should be generated")
	}
	if created.Username != "bob" {
		t.Fatalf("Username should be normalized, got %s", created.Username)
	}
	if !created.Enabled {
		t.Fatal("New users should be enabled")
	}

	removed, err := p.RemoveUser(ctx, "master", created.ID)
	if err != nil {
		t.Fatalf("RemoveUser failed: %v", err)
	}
	if !removed {
		t.Fatal("Expected removal")
	}
	if removed, _ := p.RemoveUser(ctx, "master", created.ID); removed {
		t.Fatal("Removing twice should report false")
	}
}

func TestMemoryProviderFederatedIdentities(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	p.PutUser(&types.User{ID: "u1", RealmID: "master", Username: "alice"})

	link := types.FederatedIdentity{ProviderAlias: "github", ExternalUserID: "ext-1", ExternalUsername: "alice-gh"}
	if err := p.AddFederatedIdentity(ctx, "master", "u1", link); err != nil {
		t.Fatalf("AddFederatedIdentity failed: %v", err)
	}

	user, err := p.UserByFederatedIdentity(ctx, "master", "github", "ext-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if user == nil || user.ID != "u1" {
		t.Fatal("Expected alice via the provider link")
	}

	link.ExternalUsername = "alice-renamed"
	if err := p.UpdateFederatedIdentity(ctx, "master", "u1", link); err != nil {
		t.Fatalf("UpdateFederatedIdentity failed: %v", err)
	}
	links, _ := p.FederatedIdentities(ctx, "master", "u1")
	if len(links) != 1 || links[0].ExternalUsername != "alice-renamed" {
		t.Fatalf("Update did not apply: %+v", links)
	}

	removed, err := p.RemoveFederatedIdentity(ctx, "master", "u1", "github")
	if err != nil || !removed {
		t.Fatalf("RemoveFederatedIdentity failed: removed=%v err=%v", removed, err)
	}
	if user, _ := p.UserByFederatedIdentity(ctx, "master", "github", "ext-1"); user != nil {
		t.Fatal("The removed link should no longer resolve")
	}
}

func TestMemoryProviderConsents(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	p.PutUser(&types.User{ID: "u1", RealmID: "master", Username: "alice"})

	consent := types.Consent{ClientID: "app1", GrantedScopes: []string{"profile"}}
	if err := p.AddConsent(ctx, "master", "u1", consent); err != nil {
		t.Fatalf("AddConsent failed: %v", err)
	}

	consent.GrantedScopes = []string{"profile", "email"}
	if err := p.UpdateConsent(ctx, "master", "u1", consent); err != nil {
		t.Fatalf("UpdateConsent failed: %v", err)
	}
	consents, _ := p.Consents(ctx, "master", "u1")
	if len(consents) != 1 || len(consents[0].GrantedScopes) != 2 {
		t.Fatalf("Update did not apply: %+v", consents)
	}

	revoked, err := p.RevokeConsent(ctx, "master", "u1", "app1")
	if err != nil || !revoked {
		t.Fatalf("RevokeConsent failed: revoked=%v err=%v", revoked, err)
	}
	if revoked, _ := p.RevokeConsent(ctx, "master", "u1", "app1"); revoked {
		t.Fatal("Revoking twice should report false")
	}
}

func TestMemoryProviderServiceAccount(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	p.PutUser(&types.User{
		ID:                     "u5",
		RealmID:                "master",
		Username:               "service-account-app1",
		ServiceAccountClientID: "app1",
	})

	user, err := p.ServiceAccount(ctx, "master", "app1")
	if err != nil {
		t.Fatalf("ServiceAccount failed: %v", err)
	}
	if user == nil || user.ID != "u5" {
		t.Fatal("Expected the service-account user")
	}
}

func TestMemoryProviderCallCounts(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	p.UserByID(ctx, "master", "u1")
	p.UserByID(ctx, "master", "u1")
	if got := p.Calls("UserByID"); got != 2 {
		t.Fatalf("Expected 2 recorded calls, got %d", got)
	}
}
