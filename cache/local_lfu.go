package cache

import (
	"sync/atomic"
	"time"

	lfu "github.com/dgraph-io/ristretto"
)

// LFUStoreFactory creates Ristretto entry store instances.
type LFUStoreFactory struct {
	config EntryStoreConfig
}

// NewLFUStoreFactory creates a new Ristretto entry store factory.
func NewLFUStoreFactory(config EntryStoreConfig) EntryStoreFactory {
	return &LFUStoreFactory{config: config}
}

// Create creates a new Ristretto entry store instance.
func (f *LFUStoreFactory) Create(onEvict func(entry Revisioned)) (EntryStore, error) {
	return NewLFUStore(f.config, onEvict)
}

// LFUStore is an entry store backed by Ristretto. Writes are admitted
// asynchronously and may be dropped; the revision table above the store makes
// that safe (a dropped write is just a future miss).
type LFUStore struct {
	cache     *lfu.Cache
	hits      int64
	misses    int64
	evictions int64
}

// NewLFUStore creates a new Ristretto-backed entry store.
func NewLFUStore(config EntryStoreConfig, onEvict func(entry Revisioned)) (*LFUStore, error) {
	s := &LFUStore{}
	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		OnEvict: func(item *lfu.Item) {
			atomic.AddInt64(&s.evictions, 1)
			if entry, ok := item.Value.(Revisioned); ok && onEvict != nil {
				onEvict(entry)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// Get retrieves an entry from the store.
func (s *LFUStore) Get(key string) (Revisioned, bool) {
	value, found := s.cache.Get(key)
	if !found {
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&s.hits, 1)
	entry, ok := value.(Revisioned)
	if !ok {
		return nil, false
	}
	return entry, true
}

// Set stores an entry, with a backing-level TTL when the policy computed one.
func (s *LFUStore) Set(key string, entry Revisioned, cost int64, ttl time.Duration) bool {
	if ttl > 0 {
		return s.cache.SetWithTTL(key, entry, cost, ttl)
	}
	return s.cache.Set(key, entry, cost)
}

// Delete removes an entry from the store.
func (s *LFUStore) Delete(key string) {
	s.cache.Del(key)
}

// Clear removes all entries from the store.
func (s *LFUStore) Clear() {
	s.cache.Clear()
}

// Close closes the store.
func (s *LFUStore) Close() {
	s.cache.Close()
}

// Metrics returns store metrics.
func (s *LFUStore) Metrics() EntryStoreMetrics {
	return EntryStoreMetrics{
		Hits:      atomic.LoadInt64(&s.hits),
		Misses:    atomic.LoadInt64(&s.misses),
		Evictions: atomic.LoadInt64(&s.evictions),
	}
}
