package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/huykn/identity-cache/types"
)

// ErrSessionInactive is returned when the delegate is accessed outside an
// active transaction.
var ErrSessionInactive = NewError("session transaction is not active")

// ErrAmbiguousResult is returned when a secondary-key lookup matches more
// than one record in the authoritative store. It indicates a data-integrity
// problem there, never a cache bug, and is never cached.
var ErrAmbiguousResult = NewError("secondary key lookup matched multiple users")

// Session is the per-transaction cache façade. Reads consult, in order: the
// transaction's own invalidation set, the managed-user table, the revisioned
// store and finally the delegate. Writes go to the delegate first and then
// register invalidations, which are applied on both commit and rollback.
//
// A Session serves exactly one logical transaction and must not be used from
// multiple goroutines.
type Session struct {
	manager  *Manager
	delegate DelegateProvider

	active       bool
	rollbackOnly bool
	delegateUsed bool

	startupRevision uint64

	invalidations      map[string]struct{}
	realmInvalidations map[string]struct{}
	events             []types.InvalidationEvent
	eventSeen          map[string]struct{}
	managed            map[string]UserView
}

// Begin activates the session's transaction.
func (s *Session) Begin() {
	s.active = true
}

// Commit completes the transaction: accumulated invalidations are applied to
// the store and the event set is handed to the broadcaster. A session that
// never touched the delegate has nothing to invalidate and commits as a pure
// no-op.
func (s *Session) Commit() {
	if !s.active {
		return
	}
	s.active = false
	if !s.delegateUsed {
		return
	}
	s.runInvalidations()
}

// Rollback aborts the transaction. Invalidations are applied exactly as on
// commit: a delegate write may have partially reached the authoritative store
// before the abort, so cached state derived from it cannot be trusted.
func (s *Session) Rollback() {
	if !s.active {
		return
	}
	s.rollbackOnly = true
	s.active = false
	if !s.delegateUsed {
		return
	}
	s.runInvalidations()
}

// SetRollbackOnly marks the transaction for rollback. Advisory only; it does
// not itself trigger invalidation.
func (s *Session) SetRollbackOnly() {
	s.rollbackOnly = true
}

// IsRollbackOnly reports whether the transaction is marked for rollback.
func (s *Session) IsRollbackOnly() bool {
	return s.rollbackOnly
}

// IsActive reports whether the transaction is active.
func (s *Session) IsActive() bool {
	return s.active
}

// StartupRevision returns the counter value captured when the session was
// created.
func (s *Session) StartupRevision() uint64 {
	return s.startupRevision
}

func (s *Session) runInvalidations() {
	s.manager.runInvalidations(s.invalidations, s.realmInvalidations, s.events)
}

func (s *Session) getDelegate() (DelegateProvider, error) {
	if !s.active {
		return nil, ErrSessionInactive
	}
	s.delegateUsed = true
	return s.delegate, nil
}

// touch marks the session as having reached the authoritative layer, so its
// registered invalidations run at completion even without a delegate call.
func (s *Session) touch() {
	s.delegateUsed = true
}

func (s *Session) addEvent(event types.InvalidationEvent) {
	key := fmt.Sprintf("%s|%+v", event.Kind(), event)
	if _, ok := s.eventSeen[key]; ok {
		return
	}
	s.eventSeen[key] = struct{}{}
	s.events = append(s.events, event)
}

func (s *Session) isRegisteredForInvalidation(realm Realm, userID string) bool {
	if _, ok := s.realmInvalidations[realm.ID]; ok {
		return true
	}
	_, ok := s.invalidations[userID]
	return ok
}

func (s *Session) registerUserInvalidation(cached *CachedUser) {
	u := &cached.user
	userUpdatedInvalidations(s.invalidations, u.ID, u.Username, u.Email, u.RealmID)
	s.addEvent(types.FieldUpdateEvent{
		UserID:   u.ID,
		Username: strings.ToLower(u.Username),
		Email:    strings.ToLower(u.Email),
		RealmID:  u.RealmID,
	})
}

func (s *Session) logDebug(msg string, args ...any) {
	if s.manager.opts.DebugMode {
		s.manager.logger.Debug(msg, args...)
	}
}

// UserByID retrieves a user by primary id. Returns (nil, nil) when the user
// does not exist; negative results are never cached.
func (s *Session) UserByID(ctx context.Context, realm Realm, id string) (UserView, error) {
	s.logDebug("UserByID", "id", id)
	if s.isRegisteredForInvalidation(realm, id) {
		s.logDebug("UserByID: registered for invalidation, bypassing cache", "id", id)
		delegate, err := s.getDelegate()
		if err != nil {
			return nil, err
		}
		user, err := delegate.UserByID(ctx, realm.ID, id)
		if err != nil || user == nil {
			return nil, err
		}
		return &delegateUserView{user: user}, nil
	}
	if view, ok := s.managed[id]; ok {
		s.logDebug("UserByID: returning managed user", "id", id)
		return view, nil
	}

	var view UserView
	entry, found := s.manager.store.Get(id)
	cached, isUser := entry.(*CachedUser)
	if !found || !isUser {
		atomic.AddInt64(&s.manager.stats.Misses, 1)
		loaded := s.manager.store.CurrentRevision(id)
		delegate, err := s.getDelegate()
		if err != nil {
			return nil, err
		}
		atomic.AddInt64(&s.manager.stats.DelegateLoads, 1)
		user, err := delegate.UserByID(ctx, realm.ID, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			s.logDebug("UserByID: delegate returned nothing", "id", id)
			return nil, nil
		}
		view = s.cacheUser(realm, user, loaded)
	} else {
		atomic.AddInt64(&s.manager.stats.Hits, 1)
		var err error
		view, err = s.validateCached(ctx, realm, cached)
		if err != nil {
			return nil, err
		}
	}
	if view == nil {
		return nil, nil
	}
	s.managed[id] = view
	return view, nil
}

// validateCached checks a store hit against its source's cache policy. An
// expired snapshot is registered for invalidation, so later readers in this
// transaction bypass it, and the user is reloaded from the delegate.
func (s *Session) validateCached(ctx context.Context, realm Realm, cached *CachedUser) (UserView, error) {
	if cached.RealmID() != realm.ID {
		return nil, nil
	}
	if cached.sourceID != "" {
		policy, invalidBefore := s.manager.policies.PolicyFor(cached.sourceID)
		if s.manager.evaluator.Expired(policy, invalidBefore, cached.cachedAt) {
			s.logDebug("validateCached: expired by policy, reloading", "id", cached.CacheKey())
			s.registerUserInvalidation(cached)
			delegate, err := s.getDelegate()
			if err != nil {
				return nil, err
			}
			atomic.AddInt64(&s.manager.stats.DelegateLoads, 1)
			user, err := delegate.UserByID(ctx, realm.ID, cached.CacheKey())
			if err != nil || user == nil {
				return nil, err
			}
			return &delegateUserView{user: user}, nil
		}
	}
	return newCachedUserView(s, realm, cached), nil
}

// cacheUser wraps a fresh delegate result. Sources under a no-cache policy
// get a live view back and nothing is persisted; everything else is stored
// under the revision observed before the load began.
func (s *Session) cacheUser(realm Realm, user *types.User, loaded uint64) UserView {
	policy, _ := s.manager.policyFor(user.ID)
	if policy.Kind == types.PolicyNoCache {
		s.logDebug("cacheUser: no-cache policy, passing through", "id", user.ID)
		return &delegateUserView{user: user}
	}
	cached := newCachedUser(loaded, s.manager.now(), user)
	s.manager.store.Put(cached, s.manager.evaluator.Lifespan(policy))
	view := newCachedUserView(s, realm, cached)
	if s.manager.opts.OnCache != nil {
		s.manager.opts.OnCache(realm, view, user)
	}
	return view
}

// userAdapter resolves a user that a secondary-key lookup already loaded:
// a concurrent cache hit wins, otherwise the loaded record is cached.
func (s *Session) userAdapter(ctx context.Context, realm Realm, userID string, loaded uint64, user *types.User) (UserView, error) {
	if entry, found := s.manager.store.Get(userID); found {
		if cached, ok := entry.(*CachedUser); ok {
			return s.validateCached(ctx, realm, cached)
		}
	}
	return s.cacheUser(realm, user, loaded), nil
}

// userBySecondaryKey is the shared secondary-index read path. The index entry
// is only trusted as a pointer: the user itself always goes through the
// primary-id path. markKeyOnStalePointer additionally invalidates the index
// key when its target is already dirty (the federated-identity index needs
// both directions evicted).
func (s *Session) userBySecondaryKey(ctx context.Context, realm Realm, cacheKey string, markKeyOnStalePointer bool, load func(context.Context, DelegateProvider) (*types.User, error)) (UserView, error) {
	bypass := func() (UserView, error) {
		delegate, err := s.getDelegate()
		if err != nil {
			return nil, err
		}
		user, err := load(ctx, delegate)
		if err != nil || user == nil {
			return nil, err
		}
		return &delegateUserView{user: user}, nil
	}

	if _, ok := s.realmInvalidations[realm.ID]; ok {
		s.logDebug("secondary lookup: realm invalidated, bypassing cache", "key", cacheKey)
		return bypass()
	}
	if _, ok := s.invalidations[cacheKey]; ok {
		s.logDebug("secondary lookup: key invalidated, bypassing cache", "key", cacheKey)
		return bypass()
	}

	if entry, found := s.manager.store.Get(cacheKey); found {
		if query, ok := entry.(*userQuery); ok {
			if _, dirty := s.invalidations[query.userID]; dirty {
				s.logDebug("secondary lookup: pointer target invalidated, bypassing cache", "key", cacheKey)
				if markKeyOnStalePointer {
					s.invalidations[cacheKey] = struct{}{}
				}
				return bypass()
			}
			return s.UserByID(ctx, realm, query.userID)
		}
	}

	atomic.AddInt64(&s.manager.stats.Misses, 1)
	loaded := s.manager.store.CurrentRevision(cacheKey)
	delegate, err := s.getDelegate()
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&s.manager.stats.DelegateLoads, 1)
	user, err := load(ctx, delegate)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	userID := user.ID
	if _, dirty := s.invalidations[userID]; dirty {
		return &delegateUserView{user: user}, nil
	}
	if view, ok := s.managed[userID]; ok {
		return view, nil
	}

	view, err := s.userAdapter(ctx, realm, userID, loaded, user)
	if err != nil || view == nil {
		return nil, err
	}
	if _, cacheable := view.(*CachedUserView); cacheable {
		// The primary was cached, so the pointer may be cached too.
		s.manager.store.Put(&userQuery{
			revision: loaded,
			key:      cacheKey,
			realmID:  realm.ID,
			userID:   userID,
		}, 0)
	}
	s.managed[userID] = view
	return view, nil
}

// UserByUsername retrieves a user by username (case-insensitive).
func (s *Session) UserByUsername(ctx context.Context, realm Realm, username string) (UserView, error) {
	username = strings.ToLower(username)
	s.logDebug("UserByUsername", "username", username)
	return s.userBySecondaryKey(ctx, realm, usernameQueryKey(realm.ID, username), false,
		func(ctx context.Context, d DelegateProvider) (*types.User, error) {
			return d.UserByUsername(ctx, realm.ID, username)
		})
}

// UserByEmail retrieves a user by email (case-insensitive).
func (s *Session) UserByEmail(ctx context.Context, realm Realm, email string) (UserView, error) {
	if email == "" {
		return nil, nil
	}
	email = strings.ToLower(email)
	s.logDebug("UserByEmail", "email", email)
	return s.userBySecondaryKey(ctx, realm, emailQueryKey(realm.ID, email), false,
		func(ctx context.Context, d DelegateProvider) (*types.User, error) {
			return d.UserByEmail(ctx, realm.ID, email)
		})
}

// UserByFederatedIdentity retrieves the user linked to an identity-provider
// account. Realms without identity federation never match.
func (s *Session) UserByFederatedIdentity(ctx context.Context, realm Realm, providerAlias, externalUserID string) (UserView, error) {
	if !realm.FederationEnabled {
		return nil, nil
	}
	s.logDebug("UserByFederatedIdentity", "provider", providerAlias, "externalUserID", externalUserID)
	return s.userBySecondaryKey(ctx, realm, federatedIdentityQueryKey(realm.ID, providerAlias, externalUserID), true,
		func(ctx context.Context, d DelegateProvider) (*types.User, error) {
			return d.UserByFederatedIdentity(ctx, realm.ID, providerAlias, externalUserID)
		})
}

// ServiceAccount retrieves the user backing a client's service account,
// trying the username index first and falling back to the delegate when the
// cached link does not point back at the client.
func (s *Session) ServiceAccount(ctx context.Context, realm Realm, clientID string) (UserView, error) {
	username := strings.ToLower(serviceAccountPrefix + clientID)
	s.logDebug("ServiceAccount", "username", username)
	view, err := s.userBySecondaryKey(ctx, realm, usernameQueryKey(realm.ID, username), false,
		func(ctx context.Context, d DelegateProvider) (*types.User, error) {
			return d.ServiceAccount(ctx, realm.ID, clientID)
		})
	if err != nil {
		return nil, err
	}
	if view != nil && view.ServiceAccountClientID() == clientID {
		return view, nil
	}
	delegate, err := s.getDelegate()
	if err != nil {
		return nil, err
	}
	user, err := delegate.ServiceAccount(ctx, realm.ID, clientID)
	if err != nil || user == nil {
		return nil, err
	}
	return &delegateUserView{user: user}, nil
}

// FederatedIdentities lists a user's identity-provider links, cached as one
// revisioned set per user.
func (s *Session) FederatedIdentities(ctx context.Context, realm Realm, userID string) ([]types.FederatedIdentity, error) {
	s.logDebug("FederatedIdentities", "userID", userID)
	cacheKey := federatedLinksKey(userID)
	if s.linkedEntryBypassed(realm, userID, cacheKey) {
		delegate, err := s.getDelegate()
		if err != nil {
			return nil, err
		}
		return delegate.FederatedIdentities(ctx, realm.ID, userID)
	}

	if entry, found := s.manager.store.Get(cacheKey); found {
		if links, ok := entry.(*cachedFederatedLinks); ok {
			atomic.AddInt64(&s.manager.stats.Hits, 1)
			return copyLinks(links.links), nil
		}
	}

	atomic.AddInt64(&s.manager.stats.Misses, 1)
	loaded := s.manager.store.CurrentRevision(cacheKey)
	delegate, err := s.getDelegate()
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&s.manager.stats.DelegateLoads, 1)
	links, err := delegate.FederatedIdentities(ctx, realm.ID, userID)
	if err != nil {
		return nil, err
	}
	s.manager.store.Put(&cachedFederatedLinks{
		revision: loaded,
		key:      cacheKey,
		realmID:  realm.ID,
		links:    copyLinks(links),
	}, 0)
	return links, nil
}

// FederatedIdentity returns a user's link to one identity provider, or nil.
func (s *Session) FederatedIdentity(ctx context.Context, realm Realm, userID, providerAlias string) (*types.FederatedIdentity, error) {
	links, err := s.FederatedIdentities(ctx, realm, userID)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if link.ProviderAlias == providerAlias {
			l := link
			return &l, nil
		}
	}
	return nil, nil
}

// Consents lists a user's client consents, cached as one revisioned set per
// user.
func (s *Session) Consents(ctx context.Context, realm Realm, userID string) ([]types.Consent, error) {
	s.logDebug("Consents", "userID", userID)
	cacheKey := consentsKey(userID)
	if s.linkedEntryBypassed(realm, userID, cacheKey) {
		delegate, err := s.getDelegate()
		if err != nil {
			return nil, err
		}
		return delegate.Consents(ctx, realm.ID, userID)
	}

	if entry, found := s.manager.store.Get(cacheKey); found {
		if cached, ok := entry.(*cachedConsents); ok {
			atomic.AddInt64(&s.manager.stats.Hits, 1)
			return copyConsents(cached.consents), nil
		}
	}

	atomic.AddInt64(&s.manager.stats.Misses, 1)
	loaded := s.manager.store.CurrentRevision(cacheKey)
	delegate, err := s.getDelegate()
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&s.manager.stats.DelegateLoads, 1)
	consents, err := delegate.Consents(ctx, realm.ID, userID)
	if err != nil {
		return nil, err
	}
	s.manager.store.Put(&cachedConsents{
		revision: loaded,
		key:      cacheKey,
		realmID:  realm.ID,
		consents: copyConsents(consents),
	}, 0)
	return consents, nil
}

// ConsentByClient returns a user's consent for one client, or nil.
func (s *Session) ConsentByClient(ctx context.Context, realm Realm, userID, clientID string) (*types.Consent, error) {
	consents, err := s.Consents(ctx, realm, userID)
	if err != nil {
		return nil, err
	}
	for _, consent := range consents {
		if consent.ClientID == clientID {
			c := consent
			return &c, nil
		}
	}
	return nil, nil
}

// linkedEntryBypassed reports whether a per-user dependent entry (links,
// consents) must bypass the cache: the realm, the user or the entry itself is
// in the active invalidation set.
func (s *Session) linkedEntryBypassed(realm Realm, userID, cacheKey string) bool {
	if _, ok := s.realmInvalidations[realm.ID]; ok {
		return true
	}
	if _, ok := s.invalidations[userID]; ok {
		return true
	}
	_, ok := s.invalidations[cacheKey]
	return ok
}

// AddUser creates a user through the delegate and fully invalidates it, so a
// rollback cannot leave stale query entries behind.
func (s *Session) AddUser(ctx context.Context, realm Realm, id, username string) (UserView, error) {
	username = strings.ToLower(username)
	delegate, err := s.getDelegate()
	if err != nil {
		return nil, err
	}
	user, err := delegate.AddUser(ctx, realm.ID, id, username)
	if err != nil {
		return nil, err
	}
	if err := s.fullyInvalidateUser(ctx, realm, user); err != nil {
		return nil, err
	}
	view := &delegateUserView{user: user}
	s.managed[user.ID] = view
	return view, nil
}

// RemoveUser deletes a user. The federated identities are captured before the
// delegate removal so every idp index key can still be evicted cluster-wide.
func (s *Session) RemoveUser(ctx context.Context, realm Realm, userID string) (bool, error) {
	view, err := s.UserByID(ctx, realm, userID)
	if err != nil {
		return false, err
	}
	if view == nil {
		return false, nil
	}
	user := types.User{
		ID:       view.ID(),
		RealmID:  realm.ID,
		Username: view.Username(),
		Email:    view.Email(),
	}
	if err := s.fullyInvalidateUser(ctx, realm, &user); err != nil {
		return false, err
	}
	delegate, err := s.getDelegate()
	if err != nil {
		return false, err
	}
	return delegate.RemoveUser(ctx, realm.ID, userID)
}

func (s *Session) fullyInvalidateUser(ctx context.Context, realm Realm, user *types.User) error {
	var links []types.FederatedIdentity
	if realm.FederationEnabled {
		var err error
		links, err = s.FederatedIdentities(ctx, realm, user.ID)
		if err != nil {
			return err
		}
	}
	event := types.FullInvalidationEvent{
		UserID:              user.ID,
		Username:            strings.ToLower(user.Username),
		Email:               strings.ToLower(user.Email),
		RealmID:             realm.ID,
		FederationEnabled:   realm.FederationEnabled,
		FederatedIdentities: links,
	}
	fullUserInvalidations(s.invalidations, event.UserID, event.Username, event.Email, event.RealmID, event.FederationEnabled, event.FederatedIdentities)
	s.addEvent(event)
	return nil
}

// AddConsent stores a new consent through the delegate and invalidates the
// user's consent set.
func (s *Session) AddConsent(ctx context.Context, realm Realm, userID string, consent types.Consent) error {
	delegate, err := s.getDelegate()
	if err != nil {
		return err
	}
	if err := delegate.AddConsent(ctx, realm.ID, userID, consent); err != nil {
		return err
	}
	s.invalidateConsents(userID)
	return nil
}

// UpdateConsent replaces a consent through the delegate and invalidates the
// user's consent set.
func (s *Session) UpdateConsent(ctx context.Context, realm Realm, userID string, consent types.Consent) error {
	delegate, err := s.getDelegate()
	if err != nil {
		return err
	}
	if err := delegate.UpdateConsent(ctx, realm.ID, userID, consent); err != nil {
		return err
	}
	s.invalidateConsents(userID)
	return nil
}

// RevokeConsent removes a user's consent for a client.
func (s *Session) RevokeConsent(ctx context.Context, realm Realm, userID, clientID string) (bool, error) {
	delegate, err := s.getDelegate()
	if err != nil {
		return false, err
	}
	revoked, err := delegate.RevokeConsent(ctx, realm.ID, userID, clientID)
	if err != nil {
		return false, err
	}
	s.invalidateConsents(userID)
	return revoked, nil
}

func (s *Session) invalidateConsents(userID string) {
	consentInvalidations(s.invalidations, userID)
	s.addEvent(types.ConsentsUpdatedEvent{UserID: userID})
}

// AddFederatedIdentity links a user to an identity-provider account.
func (s *Session) AddFederatedIdentity(ctx context.Context, realm Realm, userID string, link types.FederatedIdentity) error {
	delegate, err := s.getDelegate()
	if err != nil {
		return err
	}
	if err := delegate.AddFederatedIdentity(ctx, realm.ID, userID, link); err != nil {
		return err
	}
	s.invalidateFederationLinks(userID)
	return nil
}

// UpdateFederatedIdentity replaces a user's identity-provider link.
func (s *Session) UpdateFederatedIdentity(ctx context.Context, realm Realm, userID string, link types.FederatedIdentity) error {
	delegate, err := s.getDelegate()
	if err != nil {
		return err
	}
	if err := delegate.UpdateFederatedIdentity(ctx, realm.ID, userID, link); err != nil {
		return err
	}
	s.invalidateFederationLinks(userID)
	return nil
}

func (s *Session) invalidateFederationLinks(userID string) {
	federationLinkUpdatedInvalidations(s.invalidations, userID)
	s.addEvent(types.FederationLinkUpdatedEvent{UserID: userID})
}

// RemoveFederatedIdentity unlinks a user from an identity provider. Both
// directions are invalidated: the user's link set and the provider-side
// index entry.
func (s *Session) RemoveFederatedIdentity(ctx context.Context, realm Realm, userID, providerAlias string) (bool, error) {
	link, err := s.FederatedIdentity(ctx, realm, userID, providerAlias)
	if err != nil {
		return false, err
	}
	delegate, err := s.getDelegate()
	if err != nil {
		return false, err
	}
	removed, err := delegate.RemoveFederatedIdentity(ctx, realm.ID, userID, providerAlias)
	if err != nil {
		return false, err
	}
	event := types.FederationLinkRemovedEvent{
		UserID:  userID,
		RealmID: realm.ID,
	}
	if link != nil {
		event.ProviderAlias = link.ProviderAlias
		event.ExternalUserID = link.ExternalUserID
	}
	federationLinkRemovedInvalidations(s.invalidations, event.UserID, event.RealmID, event.ProviderAlias, event.ExternalUserID)
	s.addEvent(event)
	return removed, nil
}

// GrantRoleToAllUsers grants a role to every user of the realm. Enumerating
// affected users is not worth it; the whole realm is invalidated instead.
func (s *Session) GrantRoleToAllUsers(ctx context.Context, realm Realm, roleID string) error {
	delegate, err := s.getDelegate()
	if err != nil {
		return err
	}
	if err := delegate.GrantRoleToAllUsers(ctx, realm.ID, roleID); err != nil {
		return err
	}
	s.addRealmInvalidation(realm.ID)
	return nil
}

// PreRemoveRealm registers the realm-wide invalidation that must accompany a
// realm removal.
func (s *Session) PreRemoveRealm(realm Realm) {
	s.touch()
	s.addRealmInvalidation(realm.ID)
}

// PreRemoveRole registers the realm-wide invalidation for a role removal.
func (s *Session) PreRemoveRole(realm Realm, roleID string) {
	s.touch()
	s.addRealmInvalidation(realm.ID)
}

// PreRemoveClient registers the realm-wide invalidation for a client removal.
func (s *Session) PreRemoveClient(realm Realm, clientID string) {
	s.touch()
	s.addRealmInvalidation(realm.ID)
}

// PreRemoveGroup registers the realm-wide invalidation for a group removal.
func (s *Session) PreRemoveGroup(realm Realm, groupID string) {
	s.touch()
	s.addRealmInvalidation(realm.ID)
}

func (s *Session) addRealmInvalidation(realmID string) {
	s.realmInvalidations[realmID] = struct{}{}
	s.addEvent(types.RealmInvalidationEvent{RealmID: realmID})
}

// Evict registers a realm-wide eviction, applied when the session completes.
func (s *Session) Evict(realm Realm) {
	s.touch()
	s.addRealmInvalidation(realm.ID)
}

// EvictUser registers a single-user eviction, applied when the session
// completes.
func (s *Session) EvictUser(realm Realm, user UserView) {
	s.touch()
	if cached, ok := user.(*CachedUserView); ok {
		cached.Invalidate()
		return
	}
	userUpdatedInvalidations(s.invalidations, user.ID(), user.Username(), user.Email(), realm.ID)
	s.addEvent(types.FieldUpdateEvent{
		UserID:   user.ID(),
		Username: strings.ToLower(user.Username()),
		Email:    strings.ToLower(user.Email()),
		RealmID:  realm.ID,
	})
}

// Clear wipes the whole cache immediately, on this node and via broadcast on
// every other node.
func (s *Session) Clear() {
	s.manager.Clear()
}
