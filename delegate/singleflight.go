package delegate

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/huykn/identity-cache/cache"
	"github.com/huykn/identity-cache/types"
)

// DedupedProvider wraps a DelegateProvider and collapses concurrent identical
// read calls into a single in-flight load. A cache miss under load otherwise
// sends every waiting session to the authoritative store at once.
//
// Only reads are deduplicated; writes always pass straight through. Callers
// sharing a deduplicated result must treat it as read-only.
type DedupedProvider struct {
	cache.DelegateProvider

	users    singleflight.Group
	links    singleflight.Group
	consents singleflight.Group
}

// WithDeduplication wraps next so that concurrent identical lookups hit the
// underlying provider once.
func WithDeduplication(next cache.DelegateProvider) *DedupedProvider {
	return &DedupedProvider{DelegateProvider: next}
}

// UserByID implements cache.DelegateProvider.
func (p *DedupedProvider) UserByID(ctx context.Context, realmID, id string) (*types.User, error) {
	return p.dedupUser(ctx, "id\x00"+realmID+"\x00"+id, func(ctx context.Context) (*types.User, error) {
		return p.DelegateProvider.UserByID(ctx, realmID, id)
	})
}

// UserByUsername implements cache.DelegateProvider.
func (p *DedupedProvider) UserByUsername(ctx context.Context, realmID, username string) (*types.User, error) {
	return p.dedupUser(ctx, "username\x00"+realmID+"\x00"+username, func(ctx context.Context) (*types.User, error) {
		return p.DelegateProvider.UserByUsername(ctx, realmID, username)
	})
}

// UserByEmail implements cache.DelegateProvider.
func (p *DedupedProvider) UserByEmail(ctx context.Context, realmID, email string) (*types.User, error) {
	return p.dedupUser(ctx, "email\x00"+realmID+"\x00"+email, func(ctx context.Context) (*types.User, error) {
		return p.DelegateProvider.UserByEmail(ctx, realmID, email)
	})
}

// UserByFederatedIdentity implements cache.DelegateProvider.
func (p *DedupedProvider) UserByFederatedIdentity(ctx context.Context, realmID, providerAlias, externalUserID string) (*types.User, error) {
	key := "idp\x00" + realmID + "\x00" + providerAlias + "\x00" + externalUserID
	return p.dedupUser(ctx, key, func(ctx context.Context) (*types.User, error) {
		return p.DelegateProvider.UserByFederatedIdentity(ctx, realmID, providerAlias, externalUserID)
	})
}

// ServiceAccount implements cache.DelegateProvider.
func (p *DedupedProvider) ServiceAccount(ctx context.Context, realmID, clientID string) (*types.User, error) {
	return p.dedupUser(ctx, "svc\x00"+realmID+"\x00"+clientID, func(ctx context.Context) (*types.User, error) {
		return p.DelegateProvider.ServiceAccount(ctx, realmID, clientID)
	})
}

// FederatedIdentities implements cache.DelegateProvider.
func (p *DedupedProvider) FederatedIdentities(ctx context.Context, realmID, userID string) ([]types.FederatedIdentity, error) {
	v, err, _ := p.links.Do(realmID+"\x00"+userID, func() (any, error) {
		return p.DelegateProvider.FederatedIdentities(ctx, realmID, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.FederatedIdentity), nil
}

// Consents implements cache.DelegateProvider.
func (p *DedupedProvider) Consents(ctx context.Context, realmID, userID string) ([]types.Consent, error) {
	v, err, _ := p.consents.Do(realmID+"\x00"+userID, func() (any, error) {
		return p.DelegateProvider.Consents(ctx, realmID, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.Consent), nil
}

func (p *DedupedProvider) dedupUser(ctx context.Context, key string, load func(context.Context) (*types.User, error)) (*types.User, error) {
	v, err, _ := p.users.Do(key, func() (any, error) {
		return load(ctx)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*types.User), nil
}
