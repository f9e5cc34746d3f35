package cache

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/huykn/identity-cache/types"
)

// Cache key construction. Secondary-index keys are deterministic composites
// of realm id and the normalized secondary value.

func usernameQueryKey(realmID, username string) string {
	return realmID + ".username." + username
}

func emailQueryKey(realmID, email string) string {
	return realmID + ".email." + email
}

func federatedIdentityQueryKey(realmID, providerAlias, externalUserID string) string {
	return realmID + ".idp." + providerAlias + "." + externalUserID
}

func federatedLinksKey(userID string) string {
	return userID + ".idplinks"
}

func consentsKey(userID string) string {
	return userID + ".consents"
}

// serviceAccountPrefix is the username prefix of the user backing a client's
// service account.
const serviceAccountPrefix = "service-account-"

// Stats represents cache statistics.
type Stats struct {
	Hits          int64
	Misses        int64
	DelegateLoads int64
	Invalidations int64
	EventsApplied int64
}

// Manager owns the process-wide cache state: the revisioned store, the
// revision counter, the policy evaluator and the cluster broadcaster. One
// Manager is constructed at startup and shared by reference; sessions are
// created per logical transaction.
type Manager struct {
	store       *RevisionedStore
	counter     *RevisionCounter
	evaluator   *PolicyEvaluator
	policies    PolicySource
	broadcaster Broadcaster
	logger      Logger
	opts        Options
	closed      int32
	stats       Stats
}

// NewManager creates a new cache manager.
func NewManager(opts Options) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// Set defaults for optional fields
	if opts.EntryStoreFactory == nil {
		opts.EntryStoreFactory = NewLFUStoreFactory(opts.EntryStoreConfig)
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = NopBroadcaster{}
	}
	if opts.PolicySource == nil {
		opts.PolicySource = NewStaticPolicySource()
	}

	counter := NewRevisionCounter()
	store, err := NewRevisionedStore(counter, opts.EntryStoreFactory)
	if err != nil {
		return nil, err
	}

	return &Manager{
		store:       store,
		counter:     counter,
		evaluator:   NewPolicyEvaluator(opts.Clock),
		policies:    opts.PolicySource,
		broadcaster: opts.Broadcaster,
		logger:      opts.Logger,
		opts:        opts,
	}, nil
}

// NewSession creates a session bound to one logical transaction, using the
// given delegate as its authoritative source. Sessions must not be shared
// across transactions.
func (m *Manager) NewSession(delegate DelegateProvider) *Session {
	return &Session{
		manager:            m,
		delegate:           delegate,
		startupRevision:    m.counter.Current(),
		invalidations:      make(map[string]struct{}),
		realmInvalidations: make(map[string]struct{}),
		eventSeen:          make(map[string]struct{}),
		managed:            make(map[string]UserView),
	}
}

// Store exposes the revisioned store, mainly for tests and metrics surfaces.
func (m *Manager) Store() *RevisionedStore {
	return m.store
}

// CurrentRevision returns the revision a load of key would be tagged with.
func (m *Manager) CurrentRevision(key string) uint64 {
	return m.store.CurrentRevision(key)
}

// Stats returns cache statistics.
func (m *Manager) Stats() Stats {
	return Stats{
		Hits:          atomic.LoadInt64(&m.stats.Hits),
		Misses:        atomic.LoadInt64(&m.stats.Misses),
		DelegateLoads: atomic.LoadInt64(&m.stats.DelegateLoads),
		Invalidations: atomic.LoadInt64(&m.stats.Invalidations),
		EventsApplied: atomic.LoadInt64(&m.stats.EventsApplied),
	}
}

// Close releases the manager's resources. The broadcaster is owned by the
// caller that wired it and is closed separately.
func (m *Manager) Close() error {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return nil
	}
	m.store.Close()
	return nil
}

func (m *Manager) now() time.Time {
	if m.opts.Clock != nil {
		return m.opts.Clock()
	}
	return time.Now()
}

// Invalidation key fan-out per event kind. Each helper adds the keys a node
// must evict into set; the same helpers serve local commits and inbound
// cluster events, which is what makes event application idempotent.

func fullUserInvalidations(set map[string]struct{}, userID, username, email, realmID string, federationEnabled bool, links []types.FederatedIdentity) {
	set[userID] = struct{}{}
	set[usernameQueryKey(realmID, strings.ToLower(username))] = struct{}{}
	if email != "" {
		set[emailQueryKey(realmID, strings.ToLower(email))] = struct{}{}
	}
	set[federatedLinksKey(userID)] = struct{}{}
	set[consentsKey(userID)] = struct{}{}
	if federationEnabled {
		for _, link := range links {
			set[federatedIdentityQueryKey(realmID, link.ProviderAlias, link.ExternalUserID)] = struct{}{}
		}
	}
}

func userUpdatedInvalidations(set map[string]struct{}, userID, username, email, realmID string) {
	set[userID] = struct{}{}
	set[usernameQueryKey(realmID, strings.ToLower(username))] = struct{}{}
	if email != "" {
		set[emailQueryKey(realmID, strings.ToLower(email))] = struct{}{}
	}
}

func consentInvalidations(set map[string]struct{}, userID string) {
	set[consentsKey(userID)] = struct{}{}
}

func federationLinkUpdatedInvalidations(set map[string]struct{}, userID string) {
	set[federatedLinksKey(userID)] = struct{}{}
}

func federationLinkRemovedInvalidations(set map[string]struct{}, userID, realmID, providerAlias, externalUserID string) {
	set[federatedLinksKey(userID)] = struct{}{}
	if providerAlias != "" {
		set[federatedIdentityQueryKey(realmID, providerAlias, externalUserID)] = struct{}{}
	}
}

// ApplyEvent applies one invalidation event to the local store. It is the
// entry point for events received from other cluster nodes and is idempotent:
// applying the same event twice leaves the store in the same state.
func (m *Manager) ApplyEvent(event types.InvalidationEvent) {
	atomic.AddInt64(&m.stats.EventsApplied, 1)
	set := make(map[string]struct{})
	switch e := event.(type) {
	case types.FullInvalidationEvent:
		fullUserInvalidations(set, e.UserID, e.Username, e.Email, e.RealmID, e.FederationEnabled, e.FederatedIdentities)
	case types.FieldUpdateEvent:
		userUpdatedInvalidations(set, e.UserID, e.Username, e.Email, e.RealmID)
	case types.RealmInvalidationEvent:
		m.invalidateRealm(e.RealmID)
		return
	case types.ConsentsUpdatedEvent:
		consentInvalidations(set, e.UserID)
	case types.FederationLinkUpdatedEvent:
		federationLinkUpdatedInvalidations(set, e.UserID)
	case types.FederationLinkRemovedEvent:
		federationLinkRemovedInvalidations(set, e.UserID, e.RealmID, e.ProviderAlias, e.ExternalUserID)
	case types.ClearAllEvent:
		m.store.Clear()
	default:
		m.logger.Warn("unknown invalidation event", "kind", event.Kind())
		return
	}
	m.applyInvalidations(set)
}

func (m *Manager) applyInvalidations(set map[string]struct{}) {
	for key := range set {
		m.store.Invalidate(key)
		atomic.AddInt64(&m.stats.Invalidations, 1)
	}
}

func (m *Manager) invalidateRealm(realmID string) {
	keys := m.store.InvalidateRealm(realmID)
	atomic.AddInt64(&m.stats.Invalidations, int64(len(keys)))
}

// runInvalidations applies a completed session's accumulated invalidations
// and hands its events to the broadcaster.
func (m *Manager) runInvalidations(invalidations, realmInvalidations map[string]struct{}, events []types.InvalidationEvent) {
	for realmID := range realmInvalidations {
		m.invalidateRealm(realmID)
	}
	m.applyInvalidations(invalidations)
	if len(events) > 0 {
		m.broadcaster.Publish(events)
	}
}

// Clear wipes the local cache and broadcasts the wipe to the cluster.
func (m *Manager) Clear() {
	m.store.Clear()
	m.broadcaster.Publish([]types.InvalidationEvent{types.ClearAllEvent{}})
}

// EvictRealm evicts everything cached for a realm, locally and cluster-wide.
func (m *Manager) EvictRealm(realmID string) {
	m.invalidateRealm(realmID)
	m.broadcaster.Publish([]types.InvalidationEvent{types.RealmInvalidationEvent{RealmID: realmID}})
}

// EvictUser evicts one user's primary entry and username/email indexes,
// locally and cluster-wide.
func (m *Manager) EvictUser(realmID, userID, username, email string) {
	set := make(map[string]struct{})
	userUpdatedInvalidations(set, userID, username, email, realmID)
	m.applyInvalidations(set)
	m.broadcaster.Publish([]types.InvalidationEvent{types.FieldUpdateEvent{
		UserID:   userID,
		Username: strings.ToLower(username),
		Email:    strings.ToLower(email),
		RealmID:  realmID,
	}})
}

// policyFor resolves the cache policy for a user id via the storage-id
// convention; local users always use the default policy.
func (m *Manager) policyFor(id string) (types.CachePolicy, time.Time) {
	sourceID := sourceOf(id)
	if sourceID == "" {
		return types.DefaultPolicy(), time.Time{}
	}
	return m.policies.PolicyFor(sourceID)
}
