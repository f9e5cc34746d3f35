// Package delegate provides DelegateProvider implementations: an in-memory
// reference provider, a SQL-backed provider and a load-deduplication
// decorator.
package delegate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huykn/identity-cache/cache"
	"github.com/huykn/identity-cache/types"
)

// MemoryProvider is an in-memory DelegateProvider. It backs tests and
// examples and doubles as the reference for the provider contract: nil for
// not-found, ErrAmbiguousResult for duplicate secondary keys, deep copies on
// every return.
type MemoryProvider struct {
	mu       sync.RWMutex
	users    map[string]map[string]*types.User              // realm -> id
	links    map[string]map[string][]types.FederatedIdentity // realm -> user id
	consents map[string]map[string][]types.Consent          // realm -> user id
	calls    map[string]int64
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		users:    make(map[string]map[string]*types.User),
		links:    make(map[string]map[string][]types.FederatedIdentity),
		consents: make(map[string]map[string][]types.Consent),
		calls:    make(map[string]int64),
	}
}

// Calls returns how many times the named provider method was invoked, for
// asserting cache behavior in tests.
func (p *MemoryProvider) Calls(method string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[method]
}

func (p *MemoryProvider) record(method string) {
	p.calls[method]++
}

// PutUser seeds a user directly, bypassing the provider contract.
func (p *MemoryProvider) PutUser(u *types.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	realm := p.users[u.RealmID]
	if realm == nil {
		realm = make(map[string]*types.User)
		p.users[u.RealmID] = realm
	}
	c := cloneUser(u)
	realm[u.ID] = &c
}

// PutLinks seeds a user's federated identities directly.
func (p *MemoryProvider) PutLinks(realmID, userID string, links []types.FederatedIdentity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byUser := p.links[realmID]
	if byUser == nil {
		byUser = make(map[string][]types.FederatedIdentity)
		p.links[realmID] = byUser
	}
	byUser[userID] = append([]types.FederatedIdentity(nil), links...)
}

// UserByID implements cache.DelegateProvider.
func (p *MemoryProvider) UserByID(ctx context.Context, realmID, id string) (*types.User, error) {
	p.mu.Lock()
	p.record("UserByID")
	p.mu.Unlock()
	p.mu.RLock()
	defer p.mu.RUnlock()
	u := p.users[realmID][id]
	if u == nil {
		return nil, nil
	}
	c := cloneUser(u)
	return &c, nil
}

// UserByUsername implements cache.DelegateProvider.
func (p *MemoryProvider) UserByUsername(ctx context.Context, realmID, username string) (*types.User, error) {
	p.mu.Lock()
	p.record("UserByUsername")
	p.mu.Unlock()
	return p.findOne(realmID, "UserByUsername", func(u *types.User) bool {
		return strings.EqualFold(u.Username, username)
	})
}

// UserByEmail implements cache.DelegateProvider. Legacy data may hold the
// same email on several users; that comes back as ErrAmbiguousResult, never
// as an arbitrary pick.
func (p *MemoryProvider) UserByEmail(ctx context.Context, realmID, email string) (*types.User, error) {
	p.mu.Lock()
	p.record("UserByEmail")
	p.mu.Unlock()
	return p.findOne(realmID, "UserByEmail", func(u *types.User) bool {
		return u.Email != "" && strings.EqualFold(u.Email, email)
	})
}

// UserByFederatedIdentity implements cache.DelegateProvider.
func (p *MemoryProvider) UserByFederatedIdentity(ctx context.Context, realmID, providerAlias, externalUserID string) (*types.User, error) {
	p.mu.Lock()
	p.record("UserByFederatedIdentity")
	p.mu.Unlock()
	p.mu.RLock()
	defer p.mu.RUnlock()
	for userID, links := range p.links[realmID] {
		for _, link := range links {
			if link.ProviderAlias == providerAlias && link.ExternalUserID == externalUserID {
				if u := p.users[realmID][userID]; u != nil {
					c := cloneUser(u)
					return &c, nil
				}
				return nil, nil
			}
		}
	}
	return nil, nil
}

// ServiceAccount implements cache.DelegateProvider.
func (p *MemoryProvider) ServiceAccount(ctx context.Context, realmID, clientID string) (*types.User, error) {
	p.mu.Lock()
	p.record("ServiceAccount")
	p.mu.Unlock()
	return p.findOne(realmID, "ServiceAccount", func(u *types.User) bool {
		return u.ServiceAccountClientID == clientID
	})
}

// FederatedIdentities implements cache.DelegateProvider.
func (p *MemoryProvider) FederatedIdentities(ctx context.Context, realmID, userID string) ([]types.FederatedIdentity, error) {
	p.mu.Lock()
	p.record("FederatedIdentities")
	p.mu.Unlock()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]types.FederatedIdentity(nil), p.links[realmID][userID]...), nil
}

// Consents implements cache.DelegateProvider.
func (p *MemoryProvider) Consents(ctx context.Context, realmID, userID string) ([]types.Consent, error) {
	p.mu.Lock()
	p.record("Consents")
	p.mu.Unlock()
	p.mu.RLock()
	defer p.mu.RUnlock()
	consents := p.consents[realmID][userID]
	out := make([]types.Consent, len(consents))
	copy(out, consents)
	return out, nil
}

// AddUser implements cache.DelegateProvider.
func (p *MemoryProvider) AddUser(ctx context.Context, realmID, id, username string) (*types.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("AddUser")
	if id == "" {
		id = uuid.NewString()
	}
	u := &types.User{
		ID:        id,
		RealmID:   realmID,
		Username:  strings.ToLower(username),
		Enabled:   true,
		CreatedAt: time.Now().UnixMilli(),
	}
	realm := p.users[realmID]
	if realm == nil {
		realm = make(map[string]*types.User)
		p.users[realmID] = realm
	}
	realm[id] = u
	c := cloneUser(u)
	return &c, nil
}

// RemoveUser implements cache.DelegateProvider.
func (p *MemoryProvider) RemoveUser(ctx context.Context, realmID, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("RemoveUser")
	if _, ok := p.users[realmID][userID]; !ok {
		return false, nil
	}
	delete(p.users[realmID], userID)
	delete(p.links[realmID], userID)
	delete(p.consents[realmID], userID)
	return true, nil
}

// AddConsent implements cache.DelegateProvider.
func (p *MemoryProvider) AddConsent(ctx context.Context, realmID, userID string, consent types.Consent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("AddConsent")
	byUser := p.consents[realmID]
	if byUser == nil {
		byUser = make(map[string][]types.Consent)
		p.consents[realmID] = byUser
	}
	byUser[userID] = append(byUser[userID], consent)
	return nil
}

// UpdateConsent implements cache.DelegateProvider.
func (p *MemoryProvider) UpdateConsent(ctx context.Context, realmID, userID string, consent types.Consent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("UpdateConsent")
	consents := p.consents[realmID][userID]
	for i := range consents {
		if consents[i].ClientID == consent.ClientID {
			consents[i] = consent
			return nil
		}
	}
	return nil
}

// RevokeConsent implements cache.DelegateProvider.
func (p *MemoryProvider) RevokeConsent(ctx context.Context, realmID, userID, clientID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("RevokeConsent")
	consents := p.consents[realmID][userID]
	for i := range consents {
		if consents[i].ClientID == clientID {
			p.consents[realmID][userID] = append(consents[:i], consents[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// AddFederatedIdentity implements cache.DelegateProvider.
func (p *MemoryProvider) AddFederatedIdentity(ctx context.Context, realmID, userID string, link types.FederatedIdentity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("AddFederatedIdentity")
	byUser := p.links[realmID]
	if byUser == nil {
		byUser = make(map[string][]types.FederatedIdentity)
		p.links[realmID] = byUser
	}
	byUser[userID] = append(byUser[userID], link)
	return nil
}

// UpdateFederatedIdentity implements cache.DelegateProvider.
func (p *MemoryProvider) UpdateFederatedIdentity(ctx context.Context, realmID, userID string, link types.FederatedIdentity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("UpdateFederatedIdentity")
	links := p.links[realmID][userID]
	for i := range links {
		if links[i].ProviderAlias == link.ProviderAlias {
			links[i] = link
			return nil
		}
	}
	return nil
}

// RemoveFederatedIdentity implements cache.DelegateProvider.
func (p *MemoryProvider) RemoveFederatedIdentity(ctx context.Context, realmID, userID, providerAlias string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("RemoveFederatedIdentity")
	links := p.links[realmID][userID]
	for i := range links {
		if links[i].ProviderAlias == providerAlias {
			p.links[realmID][userID] = append(links[:i], links[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// GrantRoleToAllUsers implements cache.DelegateProvider.
func (p *MemoryProvider) GrantRoleToAllUsers(ctx context.Context, realmID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("GrantRoleToAllUsers")
	for _, u := range p.users[realmID] {
		if u.Attributes == nil {
			u.Attributes = make(map[string][]string)
		}
		u.Attributes["roles"] = append(u.Attributes["roles"], roleID)
	}
	return nil
}

func (p *MemoryProvider) findOne(realmID, method string, match func(*types.User) bool) (*types.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var found *types.User
	for _, u := range p.users[realmID] {
		if !match(u) {
			continue
		}
		if found != nil {
			return nil, cache.ErrAmbiguousResult
		}
		found = u
	}
	if found == nil {
		return nil, nil
	}
	c := cloneUser(found)
	return &c, nil
}

func cloneUser(u *types.User) types.User {
	out := *u
	if u.Attributes != nil {
		out.Attributes = make(map[string][]string, len(u.Attributes))
		for k, vals := range u.Attributes {
			out.Attributes[k] = append([]string(nil), vals...)
		}
	}
	return out
}
