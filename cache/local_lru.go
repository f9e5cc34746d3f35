package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUStoreFactory creates LRU entry store instances.
type LRUStoreFactory struct {
	maxSize int
}

// NewLRUStoreFactory creates a new LRU entry store factory.
func NewLRUStoreFactory(maxSize int) EntryStoreFactory {
	return &LRUStoreFactory{maxSize: maxSize}
}

// Create creates a new LRU entry store instance.
func (f *LRUStoreFactory) Create(onEvict func(entry Revisioned)) (EntryStore, error) {
	return NewLRUStore(f.maxSize, onEvict)
}

// LRUStore is an entry store backed by hashicorp golang-lru. It has no TTL
// support; policy expiry is enforced at read time instead.
type LRUStore struct {
	cache     *lru.Cache[string, Revisioned]
	hits      int64
	misses    int64
	evictions int64
	maxSize   int64
}

// NewLRUStore creates a new LRU-backed entry store.
func NewLRUStore(maxSize int, onEvict func(entry Revisioned)) (*LRUStore, error) {
	s := &LRUStore{maxSize: int64(maxSize)}
	cache, err := lru.NewWithEvict[string, Revisioned](maxSize, func(key string, entry Revisioned) {
		atomic.AddInt64(&s.evictions, 1)
		if onEvict != nil {
			onEvict(entry)
		}
	})
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// Get retrieves an entry from the store.
func (s *LRUStore) Get(key string) (Revisioned, bool) {
	entry, found := s.cache.Get(key)
	if found {
		atomic.AddInt64(&s.hits, 1)
	} else {
		atomic.AddInt64(&s.misses, 1)
	}
	return entry, found
}

// Set stores an entry. The ttl is ignored.
func (s *LRUStore) Set(key string, entry Revisioned, cost int64, ttl time.Duration) bool {
	s.cache.Add(key, entry)
	return true
}

// Delete removes an entry from the store.
func (s *LRUStore) Delete(key string) {
	s.cache.Remove(key)
}

// Clear removes all entries from the store.
func (s *LRUStore) Clear() {
	s.cache.Purge()
}

// Close closes the store.
func (s *LRUStore) Close() {
	s.cache.Purge()
}

// Metrics returns store metrics.
func (s *LRUStore) Metrics() EntryStoreMetrics {
	return EntryStoreMetrics{
		Hits:      atomic.LoadInt64(&s.hits),
		Misses:    atomic.LoadInt64(&s.misses),
		Evictions: atomic.LoadInt64(&s.evictions),
		Size:      s.maxSize,
	}
}
