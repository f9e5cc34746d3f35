package cache

import (
	"strings"
	"time"

	"github.com/huykn/identity-cache/types"
)

// federatedIDPrefix marks user ids owned by a federated authoritative source:
// "f:<sourceID>:<externalID>". Local ids carry no prefix and always use the
// default policy.
const federatedIDPrefix = "f:"

// sourceOf extracts the authoritative source id from a user id, or "" for
// local users.
func sourceOf(id string) string {
	if !strings.HasPrefix(id, federatedIDPrefix) {
		return ""
	}
	rest := id[len(federatedIDPrefix):]
	if i := strings.Index(rest, ":"); i > 0 {
		return rest[:i]
	}
	return ""
}

// CachedUser is the immutable cached snapshot of a user. It is never mutated
// once published; an update produces a new CachedUser under a new revision.
type CachedUser struct {
	revision uint64
	cachedAt time.Time
	sourceID string
	user     types.User
}

func newCachedUser(revision uint64, cachedAt time.Time, u *types.User) *CachedUser {
	return &CachedUser{
		revision: revision,
		cachedAt: cachedAt,
		sourceID: sourceOf(u.ID),
		user:     copyUser(u),
	}
}

// CacheKey implements Revisioned.
func (c *CachedUser) CacheKey() string { return c.user.ID }

// Revision implements Revisioned.
func (c *CachedUser) Revision() uint64 { return c.revision }

// RealmID implements Revisioned.
func (c *CachedUser) RealmID() string { return c.user.RealmID }

// CachedAt returns the instant the snapshot was taken.
func (c *CachedUser) CachedAt() time.Time { return c.cachedAt }

// SourceID returns the authoritative source id, "" for local users.
func (c *CachedUser) SourceID() string { return c.sourceID }

// userQuery is a secondary-index entry: a revisioned pointer from a composite
// key (username, email, federated identity) to one primary user id. Only the
// pointer is trusted, never treated as a user snapshot.
type userQuery struct {
	revision uint64
	key      string
	realmID  string
	userID   string
}

func (q *userQuery) CacheKey() string { return q.key }
func (q *userQuery) Revision() uint64 { return q.revision }
func (q *userQuery) RealmID() string  { return q.realmID }

// cachedFederatedLinks is the revisioned set of a user's identity-provider
// links.
type cachedFederatedLinks struct {
	revision uint64
	key      string
	realmID  string
	links    []types.FederatedIdentity
}

func (l *cachedFederatedLinks) CacheKey() string { return l.key }
func (l *cachedFederatedLinks) Revision() uint64 { return l.revision }
func (l *cachedFederatedLinks) RealmID() string  { return l.realmID }

// cachedConsents is the revisioned set of a user's client consents.
type cachedConsents struct {
	revision uint64
	key      string
	realmID  string
	consents []types.Consent
}

func (c *cachedConsents) CacheKey() string { return c.key }
func (c *cachedConsents) Revision() uint64 { return c.revision }
func (c *cachedConsents) RealmID() string  { return c.realmID }

// UserView is the read surface handed to callers. Cached and live results
// implement the same interface so callers never need to know which one they
// got.
type UserView interface {
	// ID returns the primary user id.
	ID() string

	// RealmID returns the realm the user belongs to.
	RealmID() string

	// Username returns the normalized username.
	Username() string

	// Email returns the normalized email, "" when unset.
	Email() string

	// Enabled reports whether the user is enabled.
	Enabled() bool

	// CreatedAt returns the creation timestamp in unix millis.
	CreatedAt() int64

	// ServiceAccountClientID returns the linked client id for service
	// accounts, "" otherwise.
	ServiceAccountClientID() string

	// Attribute returns the values of one user attribute.
	Attribute(name string) []string
}

// CachedUserView is the cache-backed UserView variant.
type CachedUserView struct {
	cached     *CachedUser
	session    *Session
	realm      Realm
	cachedWith map[string]any
}

func newCachedUserView(s *Session, realm Realm, cached *CachedUser) *CachedUserView {
	return &CachedUserView{cached: cached, session: s, realm: realm}
}

// ID implements UserView.
func (v *CachedUserView) ID() string { return v.cached.user.ID }

// RealmID implements UserView.
func (v *CachedUserView) RealmID() string { return v.cached.user.RealmID }

// Username implements UserView.
func (v *CachedUserView) Username() string { return v.cached.user.Username }

// Email implements UserView.
func (v *CachedUserView) Email() string { return v.cached.user.Email }

// Enabled implements UserView.
func (v *CachedUserView) Enabled() bool { return v.cached.user.Enabled }

// CreatedAt implements UserView.
func (v *CachedUserView) CreatedAt() int64 { return v.cached.user.CreatedAt }

// ServiceAccountClientID implements UserView.
func (v *CachedUserView) ServiceAccountClientID() string {
	return v.cached.user.ServiceAccountClientID
}

// Attribute implements UserView.
func (v *CachedUserView) Attribute(name string) []string {
	return v.cached.user.Attributes[name]
}

// Revision returns the revision of the backing snapshot.
func (v *CachedUserView) Revision() uint64 { return v.cached.revision }

// CachedAt returns the instant the backing snapshot was taken.
func (v *CachedUserView) CachedAt() time.Time { return v.cached.cachedAt }

// Invalidate registers the backing snapshot for invalidation in the owning
// session; it is evicted when the session completes.
func (v *CachedUserView) Invalidate() {
	v.session.registerUserInvalidation(v.cached)
}

// SetCachedWith attaches a derived, non-persisted field to the view. Intended
// for OnCacheHook collaborators.
func (v *CachedUserView) SetCachedWith(name string, value any) {
	if v.cachedWith == nil {
		v.cachedWith = make(map[string]any)
	}
	v.cachedWith[name] = value
}

// CachedWith returns a derived field attached at population time.
func (v *CachedUserView) CachedWith(name string) (any, bool) {
	value, ok := v.cachedWith[name]
	return value, ok
}

// delegateUserView wraps a live delegate result that was not cacheable.
type delegateUserView struct {
	user *types.User
}

func (v *delegateUserView) ID() string                      { return v.user.ID }
func (v *delegateUserView) RealmID() string                 { return v.user.RealmID }
func (v *delegateUserView) Username() string                { return v.user.Username }
func (v *delegateUserView) Email() string                   { return v.user.Email }
func (v *delegateUserView) Enabled() bool                   { return v.user.Enabled }
func (v *delegateUserView) CreatedAt() int64                { return v.user.CreatedAt }
func (v *delegateUserView) ServiceAccountClientID() string  { return v.user.ServiceAccountClientID }
func (v *delegateUserView) Attribute(name string) []string  { return v.user.Attributes[name] }

func copyUser(u *types.User) types.User {
	out := *u
	if u.Attributes != nil {
		out.Attributes = make(map[string][]string, len(u.Attributes))
		for k, vals := range u.Attributes {
			out.Attributes[k] = append([]string(nil), vals...)
		}
	}
	return out
}

func copyLinks(links []types.FederatedIdentity) []types.FederatedIdentity {
	return append([]types.FederatedIdentity(nil), links...)
}

func copyConsents(consents []types.Consent) []types.Consent {
	out := make([]types.Consent, len(consents))
	for i, c := range consents {
		out[i] = c
		out[i].GrantedScopes = append([]string(nil), c.GrantedScopes...)
	}
	return out
}
