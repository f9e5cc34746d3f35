package cache

import (
	"context"
	"testing"

	"github.com/huykn/identity-cache/types"
)

func TestManagerValidatesOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.NodeID = ""
	if _, err := NewManager(opts); err != ErrInvalidConfig {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}

	opts = DefaultOptions()
	opts.EntryStoreConfig.MaxCost = 0
	if _, err := NewManager(opts); err != ErrInvalidConfig {
		t.Fatalf("Expected ErrInvalidConfig, got %v", err)
	}
}

// seedAlice populates the store with alice's primary entry, username and
// email indexes and her consent and link sets, through a regular session.
func seedAlice(t *testing.T, m *Manager, delegate *fakeDelegate) {
	t.Helper()
	ctx := context.Background()
	realm := Realm{ID: "master", FederationEnabled: true}

	// One session per lookup: an index pointer is only cached when the user
	// was not already managed by the looking-up session.
	seed := func(op func(*Session) error) {
		s := m.NewSession(delegate)
		s.Begin()
		if err := op(s); err != nil {
			t.Fatalf("Seed lookup failed: %v", err)
		}
		s.Commit()
	}
	seed(func(s *Session) error {
		_, err := s.UserByUsername(ctx, realm, "alice")
		return err
	})
	seed(func(s *Session) error {
		_, err := s.UserByEmail(ctx, realm, "alice@example.com")
		return err
	})
	seed(func(s *Session) error {
		_, err := s.Consents(ctx, realm, "u1")
		return err
	})
	seed(func(s *Session) error {
		_, err := s.FederatedIdentities(ctx, realm, "u1")
		return err
	})

	for _, key := range []string{
		"u1",
		usernameQueryKey("master", "alice"),
		emailQueryKey("master", "alice@example.com"),
		consentsKey("u1"),
		federatedLinksKey("u1"),
	} {
		if _, found := m.store.Get(key); !found {
			t.Fatalf("Seed entry %s missing", key)
		}
	}
}

func TestApplyEventFullInvalidationIsIdempotent(t *testing.T) {
	delegate := newFakeDelegate(aliceUser())
	delegate.links["u1"] = []types.FederatedIdentity{
		{ProviderAlias: "github", ExternalUserID: "ext-1"},
	}
	m := newTestManager(t, nil)
	seedAlice(t, m, delegate)

	event := types.FullInvalidationEvent{
		UserID:              "u1",
		Username:            "alice",
		Email:               "alice@example.com",
		RealmID:             "master",
		FederationEnabled:   true,
		FederatedIdentities: delegate.links["u1"],
	}

	m.ApplyEvent(event)
	m.ApplyEvent(event)

	for _, key := range []string{
		"u1",
		usernameQueryKey("master", "alice"),
		emailQueryKey("master", "alice@example.com"),
		consentsKey("u1"),
		federatedLinksKey("u1"),
		federatedIdentityQueryKey("master", "github", "ext-1"),
	} {
		if _, found := m.store.Get(key); found {
			t.Fatalf("Key %s should be evicted", key)
		}
	}
	if got := m.Stats().EventsApplied; got != 2 {
		t.Fatalf("Expected 2 applied events, got %d", got)
	}
}

func TestApplyEventRealmInvalidation(t *testing.T) {
	delegate := newFakeDelegate(aliceUser(), &types.User{ID: "u2", RealmID: "other", Username: "eve"})
	m := newTestManager(t, nil)
	seedAlice(t, m, delegate)

	ctx := context.Background()
	s := m.NewSession(delegate)
	s.Begin()
	if _, err := s.UserByID(ctx, Realm{ID: "other"}, "u2"); err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	s.Commit()

	m.ApplyEvent(types.RealmInvalidationEvent{RealmID: "master"})

	if _, found := m.store.Get("u1"); found {
		t.Fatal("master entries should be evicted")
	}
	if _, found := m.store.Get(usernameQueryKey("master", "alice")); found {
		t.Fatal("master index entries should be evicted")
	}
	if _, found := m.store.Get("u2"); !found {
		t.Fatal("Entries of other realms should survive")
	}
}

func TestApplyEventClearAll(t *testing.T) {
	delegate := newFakeDelegate(aliceUser())
	m := newTestManager(t, nil)
	seedAlice(t, m, delegate)

	m.ApplyEvent(types.ClearAllEvent{})

	if _, found := m.store.Get("u1"); found {
		t.Fatal("ClearAll should wipe the store")
	}
}

func TestApplyEventConsentsAndLinks(t *testing.T) {
	delegate := newFakeDelegate(aliceUser())
	m := newTestManager(t, nil)
	seedAlice(t, m, delegate)

	m.ApplyEvent(types.ConsentsUpdatedEvent{UserID: "u1"})
	if _, found := m.store.Get(consentsKey("u1")); found {
		t.Fatal("The consent set should be evicted")
	}
	if _, found := m.store.Get("u1"); !found {
		t.Fatal("The primary entry should survive a consent update")
	}

	m.ApplyEvent(types.FederationLinkUpdatedEvent{UserID: "u1"})
	if _, found := m.store.Get(federatedLinksKey("u1")); found {
		t.Fatal("The link set should be evicted")
	}
}

func TestManagerClearBroadcasts(t *testing.T) {
	delegate := newFakeDelegate(aliceUser())
	broadcaster := &recordingBroadcaster{}
	m := newTestManager(t, func(o *Options) { o.Broadcaster = broadcaster })
	seedAlice(t, m, delegate)

	m.Clear()

	if _, found := m.store.Get("u1"); found {
		t.Fatal("Clear should wipe the local store")
	}
	events := broadcaster.published()
	if len(events) != 1 || events[0].Kind() != types.KindClearAll {
		t.Fatalf("Expected one clear-all event, got %+v", events)
	}
}

func TestManagerEvictUserBroadcasts(t *testing.T) {
	delegate := newFakeDelegate(aliceUser())
	broadcaster := &recordingBroadcaster{}
	m := newTestManager(t, func(o *Options) { o.Broadcaster = broadcaster })
	seedAlice(t, m, delegate)

	m.EvictUser("master", "u1", "Alice", "Alice@Example.com")

	if _, found := m.store.Get("u1"); found {
		t.Fatal("The primary entry should be evicted")
	}
	if _, found := m.store.Get(usernameQueryKey("master", "alice")); found {
		t.Fatal("The username index should be evicted under the normalized key")
	}
	events := broadcaster.published()
	if len(events) != 1 {
		t.Fatalf("Expected one event, got %d", len(events))
	}
	update, ok := events[0].(types.FieldUpdateEvent)
	if !ok {
		t.Fatalf("Expected a field update event, got %T", events[0])
	}
	if update.Username != "alice" || update.Email != "alice@example.com" {
		t.Fatalf("Broadcast values should be normalized, got %+v", update)
	}
}

func TestManagerEvictRealmBroadcasts(t *testing.T) {
	delegate := newFakeDelegate(aliceUser())
	broadcaster := &recordingBroadcaster{}
	m := newTestManager(t, func(o *Options) { o.Broadcaster = broadcaster })
	seedAlice(t, m, delegate)

	m.EvictRealm("master")

	if _, found := m.store.Get("u1"); found {
		t.Fatal("The realm's entries should be evicted")
	}
	events := broadcaster.published()
	if len(events) != 1 || events[0].Kind() != types.KindRealmInvalidation {
		t.Fatalf("Expected one realm invalidation event, got %+v", events)
	}
}

func TestManagerStats(t *testing.T) {
	ctx := context.Background()
	delegate := newFakeDelegate(aliceUser())
	m := newTestManager(t, nil)

	s := m.NewSession(delegate)
	s.Begin()
	if _, err := s.UserByID(ctx, testRealm, "u1"); err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	s.Commit()

	s = m.NewSession(delegate)
	s.Begin()
	if _, err := s.UserByID(ctx, testRealm, "u1"); err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	s.Commit()

	stats := m.Stats()
	if stats.Misses != 1 || stats.Hits != 1 || stats.DelegateLoads != 1 {
		t.Fatalf("Unexpected stats: %+v", stats)
	}
}
