package cache

import (
	"sync"
	"time"

	"github.com/huykn/identity-cache/types"
)

// StaticPolicySource is a PolicySource backed by an in-memory table. The
// invalidate-before watermark per source can be bumped at runtime to force
// re-loading everything cached earlier.
type StaticPolicySource struct {
	mu         sync.RWMutex
	policies   map[string]types.CachePolicy
	watermarks map[string]time.Time
}

// NewStaticPolicySource creates an empty policy source; unknown sources get
// the default policy.
func NewStaticPolicySource() *StaticPolicySource {
	return &StaticPolicySource{
		policies:   make(map[string]types.CachePolicy),
		watermarks: make(map[string]time.Time),
	}
}

// SetPolicy configures the policy for a source.
func (s *StaticPolicySource) SetPolicy(sourceID string, policy types.CachePolicy) {
	s.mu.Lock()
	s.policies[sourceID] = policy
	s.mu.Unlock()
}

// SetInvalidBefore sets the source's watermark: entries cached before t are
// treated as expired.
func (s *StaticPolicySource) SetInvalidBefore(sourceID string, t time.Time) {
	s.mu.Lock()
	s.watermarks[sourceID] = t
	s.mu.Unlock()
}

// PolicyFor implements PolicySource.
func (s *StaticPolicySource) PolicyFor(sourceID string) (types.CachePolicy, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[sourceID]
	if !ok {
		policy = types.DefaultPolicy()
	}
	return policy, s.watermarks[sourceID]
}
