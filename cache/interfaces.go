package cache

import (
	"context"
	"time"

	"github.com/huykn/identity-cache/types"
)

// Logger defines the interface for logging in the identity cache.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// Realm carries the realm attributes the cache needs; everything else about
// realms belongs to the surrounding server.
type Realm struct {
	ID                string
	FederationEnabled bool
}

// DelegateProvider is the authoritative data source consulted on cache miss
// or forced bypass. Lookups return (nil, nil) for "not found"; an error means
// the source itself failed. A secondary-key lookup that matches more than one
// record must return ErrAmbiguousResult rather than picking one.
type DelegateProvider interface {
	// UserByID retrieves a user by its primary id.
	UserByID(ctx context.Context, realmID, id string) (*types.User, error)

	// UserByUsername retrieves a user by normalized (lowercase) username.
	UserByUsername(ctx context.Context, realmID, username string) (*types.User, error)

	// UserByEmail retrieves a user by normalized (lowercase) email.
	UserByEmail(ctx context.Context, realmID, email string) (*types.User, error)

	// UserByFederatedIdentity retrieves the user linked to an external
	// identity-provider account.
	UserByFederatedIdentity(ctx context.Context, realmID, providerAlias, externalUserID string) (*types.User, error)

	// ServiceAccount retrieves the user backing a client's service account.
	ServiceAccount(ctx context.Context, realmID, clientID string) (*types.User, error)

	// FederatedIdentities lists a user's identity-provider links.
	FederatedIdentities(ctx context.Context, realmID, userID string) ([]types.FederatedIdentity, error)

	// Consents lists a user's client consents.
	Consents(ctx context.Context, realmID, userID string) ([]types.Consent, error)

	// AddUser creates a user. An empty id asks the provider to generate one.
	AddUser(ctx context.Context, realmID, id, username string) (*types.User, error)

	// RemoveUser deletes a user; false means it did not exist.
	RemoveUser(ctx context.Context, realmID, userID string) (bool, error)

	// AddConsent stores a new consent for the user.
	AddConsent(ctx context.Context, realmID, userID string, consent types.Consent) error

	// UpdateConsent replaces an existing consent for the user.
	UpdateConsent(ctx context.Context, realmID, userID string, consent types.Consent) error

	// RevokeConsent removes the user's consent for a client.
	RevokeConsent(ctx context.Context, realmID, userID, clientID string) (bool, error)

	// AddFederatedIdentity links the user to an external provider account.
	AddFederatedIdentity(ctx context.Context, realmID, userID string, link types.FederatedIdentity) error

	// UpdateFederatedIdentity replaces an existing provider link.
	UpdateFederatedIdentity(ctx context.Context, realmID, userID string, link types.FederatedIdentity) error

	// RemoveFederatedIdentity unlinks the user from a provider; false means
	// no such link existed.
	RemoveFederatedIdentity(ctx context.Context, realmID, userID, providerAlias string) (bool, error)

	// GrantRoleToAllUsers grants a role to every user of the realm.
	GrantRoleToAllUsers(ctx context.Context, realmID, roleID string) error
}

// PolicySource resolves the cache policy for an authoritative source, plus a
// watermark: entries cached before the watermark are treated as expired
// regardless of policy.
type PolicySource interface {
	// PolicyFor returns the cache policy and invalidate-before watermark for
	// the given source id. The zero time means no watermark.
	PolicyFor(sourceID string) (types.CachePolicy, time.Time)
}

// OnCacheHook is invoked exactly once per freshly cached user, never on
// cache hits. It lets a collaborator attach derived, non-persisted fields to
// the cached view at population time.
type OnCacheHook func(realm Realm, cached *CachedUserView, delegate *types.User)

// Broadcaster publishes invalidation events to other cluster nodes. Publish
// is fire-and-forget: it must never block the caller's commit and publish
// failures must never surface to it.
type Broadcaster interface {
	Publish(events []types.InvalidationEvent)
}

// NopBroadcaster discards all events; used for single-node deployments.
type NopBroadcaster struct{}

// Publish implements Broadcaster.
func (NopBroadcaster) Publish(events []types.InvalidationEvent) {}

// Revisioned is implemented by everything stored in the RevisionedStore.
type Revisioned interface {
	// CacheKey returns the primary store key of the entry.
	CacheKey() string

	// Revision returns the counter value the entry was loaded at.
	Revision() uint64

	// RealmID returns the realm the entry belongs to, for realm-wide
	// invalidation.
	RealmID() string
}

// EntryStore is the pluggable backing for revisioned entries. Implementations
// must be safe for concurrent use; they may evict entries at will since the
// revision table above them guards correctness.
type EntryStore interface {
	// Get retrieves an entry from the store.
	Get(key string) (Revisioned, bool)

	// Set stores an entry. A zero ttl means no backing-level expiry;
	// implementations without TTL support may ignore it because the policy
	// evaluator re-checks lifetimes at read time.
	Set(key string, entry Revisioned, cost int64, ttl time.Duration) bool

	// Delete removes an entry from the store.
	Delete(key string)

	// Clear removes all entries from the store.
	Clear()

	// Close closes the store.
	Close()

	// Metrics returns store metrics.
	Metrics() EntryStoreMetrics
}

// EntryStoreMetrics represents entry store metrics.
type EntryStoreMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// EntryStoreFactory creates entry store instances. The onEvict callback is
// invoked for entries dropped by the backing's own eviction so bookkeeping
// above the store can be released.
type EntryStoreFactory interface {
	// Create creates a new entry store instance.
	Create(onEvict func(entry Revisioned)) (EntryStore, error)
}
