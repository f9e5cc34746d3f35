package types

import "time"

// User is the authoritative identity record as returned by a delegate
// provider. The cache never hands this struct out directly; callers see a
// UserView built from either a cached snapshot or a live delegate result.
type User struct {
	ID                     string              `json:"id"`
	RealmID                string              `json:"realm_id"`
	Username               string              `json:"username"`
	Email                  string              `json:"email,omitempty"`
	Enabled                bool                `json:"enabled"`
	CreatedAt              int64               `json:"created_at"` // unix millis
	ServiceAccountClientID string              `json:"service_account_client_id,omitempty"`
	Attributes             map[string][]string `json:"attributes,omitempty"`
}

// FederatedIdentity links a user to an account at an external identity
// provider.
type FederatedIdentity struct {
	ProviderAlias    string `json:"provider_alias"`
	ExternalUserID   string `json:"external_user_id"`
	ExternalUsername string `json:"external_username,omitempty"`
}

// Consent records the scopes a user granted to a client.
type Consent struct {
	ClientID      string   `json:"client_id"`
	GrantedScopes []string `json:"granted_scopes,omitempty"`
	CreatedAt     int64    `json:"created_at"`
	LastUpdatedAt int64    `json:"last_updated_at"`
}

// PolicyKind selects how long entities from an authoritative source may be
// cached.
type PolicyKind string

// Policy kinds.
const (
	PolicyDefault     PolicyKind = "default"
	PolicyNoCache     PolicyKind = "no_cache"
	PolicyMaxLifespan PolicyKind = "max_lifespan"
	PolicyEvictDaily  PolicyKind = "evict_daily"
	PolicyEvictWeekly PolicyKind = "evict_weekly"
)

// CachePolicy is the per-source cache lifetime configuration. Hour, minute
// and day use -1 as "unset"; a daily or weekly policy with unset fields
// degrades to never expiring via that rule.
type CachePolicy struct {
	Kind           PolicyKind    `json:"kind"`
	MaxLifespan    time.Duration `json:"max_lifespan,omitempty"`
	EvictionHour   int           `json:"eviction_hour"`
	EvictionMinute int           `json:"eviction_minute"`
	EvictionDay    int           `json:"eviction_day"` // 0=Sunday .. 6=Saturday
}

// DefaultPolicy returns the policy applied to sources with no explicit
// configuration.
func DefaultPolicy() CachePolicy {
	return CachePolicy{
		Kind:           PolicyDefault,
		EvictionHour:   -1,
		EvictionMinute: -1,
		EvictionDay:    -1,
	}
}

// EventKind identifies an invalidation event variant on the wire.
type EventKind string

// Event kinds.
const (
	KindFullInvalidation      EventKind = "user_full_invalidation"
	KindFieldUpdate           EventKind = "user_updated"
	KindRealmInvalidation     EventKind = "realm_invalidation"
	KindConsentsUpdated       EventKind = "user_consents_updated"
	KindFederationLinkUpdated EventKind = "federation_link_updated"
	KindFederationLinkRemoved EventKind = "federation_link_removed"
	KindClearAll              EventKind = "clear_all"
)

// InvalidationEvent describes what became stale. Events are the unit of
// cross-node replication: each variant carries exactly the keys a remote node
// needs to evict its local copies without a delegate round trip.
type InvalidationEvent interface {
	// Kind returns the event variant tag.
	Kind() EventKind
}

// FullInvalidationEvent evicts everything known about one user: the primary
// entry, every secondary index pointing at it and the dependent link/consent
// sets.
type FullInvalidationEvent struct {
	UserID              string              `json:"user_id"`
	Username            string              `json:"username"`
	Email               string              `json:"email,omitempty"`
	RealmID             string              `json:"realm_id"`
	FederationEnabled   bool                `json:"federation_enabled"`
	FederatedIdentities []FederatedIdentity `json:"federated_identities,omitempty"`
}

// Kind implements InvalidationEvent.
func (FullInvalidationEvent) Kind() EventKind { return KindFullInvalidation }

// FieldUpdateEvent evicts the primary entry and the username/email indexes
// after a field-level update.
type FieldUpdateEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	RealmID  string `json:"realm_id"`
}

// Kind implements InvalidationEvent.
func (FieldUpdateEvent) Kind() EventKind { return KindFieldUpdate }

// RealmInvalidationEvent evicts every entry belonging to one realm.
type RealmInvalidationEvent struct {
	RealmID string `json:"realm_id"`
}

// Kind implements InvalidationEvent.
func (RealmInvalidationEvent) Kind() EventKind { return KindRealmInvalidation }

// ConsentsUpdatedEvent evicts the cached consent set of one user.
type ConsentsUpdatedEvent struct {
	UserID string `json:"user_id"`
}

// Kind implements InvalidationEvent.
func (ConsentsUpdatedEvent) Kind() EventKind { return KindConsentsUpdated }

// FederationLinkUpdatedEvent evicts the cached federated-identity link set of
// one user.
type FederationLinkUpdatedEvent struct {
	UserID string `json:"user_id"`
}

// Kind implements InvalidationEvent.
func (FederationLinkUpdatedEvent) Kind() EventKind { return KindFederationLinkUpdated }

// FederationLinkRemovedEvent evicts both directions of a removed link: the
// user's link set and the provider-side secondary index.
type FederationLinkRemovedEvent struct {
	UserID         string `json:"user_id"`
	RealmID        string `json:"realm_id"`
	ProviderAlias  string `json:"provider_alias,omitempty"`
	ExternalUserID string `json:"external_user_id,omitempty"`
}

// Kind implements InvalidationEvent.
func (FederationLinkRemovedEvent) Kind() EventKind { return KindFederationLinkRemoved }

// ClearAllEvent wipes the whole cache on every node.
type ClearAllEvent struct{}

// Kind implements InvalidationEvent.
func (ClearAllEvent) Kind() EventKind { return KindClearAll }
