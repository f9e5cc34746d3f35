package cache

import (
	"sync"
	"time"
)

// RevisionedStore is the process-wide, concurrency-safe store of revisioned
// entries. It layers the optimistic-revision rule over a pluggable EntryStore
// backing: a Put whose entry was loaded before the key's last invalidation is
// dropped, so a slow loader can never clobber data invalidated while it was
// loading.
type RevisionedStore struct {
	counter *RevisionCounter
	revs    *revisionTable
	entries EntryStore
	realms  realmIndex
}

// NewRevisionedStore creates a store over the given counter and backing
// factory.
func NewRevisionedStore(counter *RevisionCounter, factory EntryStoreFactory) (*RevisionedStore, error) {
	s := &RevisionedStore{
		counter: counter,
		revs:    newRevisionTable(),
		realms:  newRealmIndex(),
	}
	entries, err := factory.Create(s.onEvict)
	if err != nil {
		return nil, err
	}
	s.entries = entries
	return s, nil
}

func (s *RevisionedStore) onEvict(entry Revisioned) {
	s.realms.remove(entry.RealmID(), entry.CacheKey())
}

// Get retrieves an entry. Entries older than the key's recorded invalidation
// revision are dropped and reported as a miss; that guards backings whose
// writes are asynchronous.
func (s *RevisionedStore) Get(key string) (Revisioned, bool) {
	entry, ok := s.entries.Get(key)
	if !ok {
		return nil, false
	}
	if rev, recorded := s.revs.get(key); recorded && rev > entry.Revision() {
		s.entries.Delete(key)
		s.realms.remove(entry.RealmID(), key)
		return nil, false
	}
	return entry, true
}

// CurrentRevision returns the revision a load of key must be tagged with:
// the key's last invalidation revision, or the live counter value if the key
// was never invalidated.
func (s *RevisionedStore) CurrentRevision(key string) uint64 {
	if rev, ok := s.revs.get(key); ok {
		return rev
	}
	return s.counter.Current()
}

// Put stores an entry unless the key was invalidated after the entry's load
// revision; in that race the existing fresher state wins and Put reports
// false.
func (s *RevisionedStore) Put(entry Revisioned, ttl time.Duration) bool {
	key := entry.CacheKey()
	shard := s.revs.shard(key)
	shard.mu.Lock()
	if rev, ok := shard.revs[key]; ok && rev > entry.Revision() {
		shard.mu.Unlock()
		return false
	}
	s.entries.Set(key, entry, 1, ttl)
	shard.mu.Unlock()
	s.realms.add(entry.RealmID(), key)
	return true
}

// Invalidate removes the entry for key and bumps its revision past every
// in-flight load. Safe to apply repeatedly; the second application is a
// no-op apart from the counter.
func (s *RevisionedStore) Invalidate(key string) {
	rev := s.counter.Next()
	s.revs.bump(key, rev)
	s.entries.Delete(key)
}

// InvalidateRealm invalidates every entry known to belong to realmID and
// returns the affected keys.
func (s *RevisionedStore) InvalidateRealm(realmID string) []string {
	keys := s.realms.drain(realmID)
	for _, key := range keys {
		s.Invalidate(key)
	}
	return keys
}

// Clear wipes the store. In-flight loads re-populate from the delegate, which
// is always fresh, so revisions are left untouched beyond one counter bump.
func (s *RevisionedStore) Clear() {
	s.counter.Next()
	s.entries.Clear()
	s.realms.reset()
}

// Metrics returns the backing store metrics.
func (s *RevisionedStore) Metrics() EntryStoreMetrics {
	return s.entries.Metrics()
}

// Close closes the backing store.
func (s *RevisionedStore) Close() {
	s.entries.Close()
}

// realmIndex maps realm ids to the cache keys stored for them, so realm-wide
// invalidation does not depend on the backing supporting enumeration. Keys
// invalidated individually may linger here until the realm is drained;
// re-invalidating them is harmless.
type realmIndex struct {
	mu   *sync.Mutex
	keys map[string]map[string]struct{}
}

func newRealmIndex() realmIndex {
	return realmIndex{
		mu:   &sync.Mutex{},
		keys: make(map[string]map[string]struct{}),
	}
}

func (r realmIndex) add(realmID, key string) {
	if realmID == "" {
		return
	}
	r.mu.Lock()
	bucket, ok := r.keys[realmID]
	if !ok {
		bucket = make(map[string]struct{})
		r.keys[realmID] = bucket
	}
	bucket[key] = struct{}{}
	r.mu.Unlock()
}

func (r realmIndex) remove(realmID, key string) {
	r.mu.Lock()
	if bucket, ok := r.keys[realmID]; ok {
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(r.keys, realmID)
		}
	}
	r.mu.Unlock()
}

func (r realmIndex) drain(realmID string) []string {
	r.mu.Lock()
	bucket := r.keys[realmID]
	delete(r.keys, realmID)
	r.mu.Unlock()
	keys := make([]string, 0, len(bucket))
	for key := range bucket {
		keys = append(keys, key)
	}
	return keys
}

func (r realmIndex) reset() {
	r.mu.Lock()
	for realmID := range r.keys {
		delete(r.keys, realmID)
	}
	r.mu.Unlock()
}
