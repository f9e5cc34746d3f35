package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// RevisionCounter is the process-wide monotonically increasing counter.
// Every cache mutation is tagged with the counter value observed at load
// time; invalidations bump the per-key revision past it so a slow loader
// cannot clobber fresher state.
type RevisionCounter struct {
	v atomic.Uint64
}

// NewRevisionCounter creates a counter starting at 1.
func NewRevisionCounter() *RevisionCounter {
	c := &RevisionCounter{}
	c.v.Store(1)
	return c
}

// Current returns the current counter value without advancing it.
func (c *RevisionCounter) Current() uint64 {
	return c.v.Load()
}

// Next advances the counter and returns the new value.
func (c *RevisionCounter) Next() uint64 {
	return c.v.Add(1)
}

const revisionShardCount = 32

// revisionTable records the revision at which each key was last invalidated.
// Keys that were never invalidated have no recorded revision; readers fall
// back to the live counter value for those. Lock striping keeps the
// compare-and-put in RevisionedStore.Put atomic per key.
type revisionTable struct {
	shards [revisionShardCount]revisionShard
}

type revisionShard struct {
	mu   sync.Mutex
	revs map[string]uint64
}

func newRevisionTable() *revisionTable {
	t := &revisionTable{}
	for i := range t.shards {
		t.shards[i].revs = make(map[string]uint64)
	}
	return t
}

func (t *revisionTable) shard(key string) *revisionShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &t.shards[h.Sum32()%revisionShardCount]
}

// get returns the recorded invalidation revision for key.
func (t *revisionTable) get(key string) (uint64, bool) {
	s := t.shard(key)
	s.mu.Lock()
	rev, ok := s.revs[key]
	s.mu.Unlock()
	return rev, ok
}

// bump records a new invalidation revision for key.
func (t *revisionTable) bump(key string, rev uint64) {
	s := t.shard(key)
	s.mu.Lock()
	if rev > s.revs[key] {
		s.revs[key] = rev
	}
	s.mu.Unlock()
}
