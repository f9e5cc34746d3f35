package cache

import (
	"time"

	"github.com/huykn/identity-cache/types"
)

// PolicyEvaluator decides whether a cached snapshot has outlived its source's
// cache policy. All rules are pure functions of the injected clock, so the
// evaluator is unit-testable without a cache around it.
type PolicyEvaluator struct {
	now func() time.Time
}

// NewPolicyEvaluator creates an evaluator; a nil clock uses time.Now.
func NewPolicyEvaluator(now func() time.Time) *PolicyEvaluator {
	if now == nil {
		now = time.Now
	}
	return &PolicyEvaluator{now: now}
}

// Expired reports whether an entry cached at cachedAt must be treated as
// expired under the given policy and invalidate-before watermark.
//
// PolicyNoCache never reaches this point in the normal flow (such entries are
// never stored); it reports expired defensively. Misconfigured daily/weekly
// policies (unset hour, minute or day) degrade to never expiring via that
// rule, leaving the watermark as the only eviction trigger.
func (e *PolicyEvaluator) Expired(policy types.CachePolicy, invalidBefore, cachedAt time.Time) bool {
	if policy.Kind == types.PolicyNoCache {
		return true
	}
	if !invalidBefore.IsZero() && cachedAt.Before(invalidBefore) {
		return true
	}
	now := e.now()
	switch policy.Kind {
	case types.PolicyMaxLifespan:
		if policy.MaxLifespan <= 0 {
			return false
		}
		return cachedAt.Add(policy.MaxLifespan).Before(now)
	case types.PolicyEvictDaily:
		if policy.EvictionHour < 0 || policy.EvictionMinute < 0 {
			return false
		}
		boundary := LastDailyEviction(now, policy.EvictionHour, policy.EvictionMinute)
		return !cachedAt.After(boundary)
	case types.PolicyEvictWeekly:
		if policy.EvictionDay < 0 || policy.EvictionHour < 0 || policy.EvictionMinute < 0 {
			return false
		}
		boundary := LastWeeklyEviction(now, policy.EvictionDay, policy.EvictionHour, policy.EvictionMinute)
		return !cachedAt.After(boundary)
	}
	return false
}

// Lifespan returns how long a freshly cached entry may live under the policy,
// for backings with TTL support. Zero means no backing-level expiry.
func (e *PolicyEvaluator) Lifespan(policy types.CachePolicy) time.Duration {
	now := e.now()
	switch policy.Kind {
	case types.PolicyMaxLifespan:
		if policy.MaxLifespan > 0 {
			return policy.MaxLifespan
		}
	case types.PolicyEvictDaily:
		if policy.EvictionHour >= 0 && policy.EvictionMinute >= 0 {
			return NextDailyEviction(now, policy.EvictionHour, policy.EvictionMinute).Sub(now)
		}
	case types.PolicyEvictWeekly:
		if policy.EvictionDay >= 0 && policy.EvictionHour >= 0 && policy.EvictionMinute >= 0 {
			return NextWeeklyEviction(now, policy.EvictionDay, policy.EvictionHour, policy.EvictionMinute).Sub(now)
		}
	}
	return 0
}

// LastDailyEviction returns the most recent daily boundary at hour:minute
// that is not after now, in now's location.
func LastDailyEviction(now time.Time, hour, minute int) time.Time {
	b := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if b.After(now) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}

// NextDailyEviction returns the next daily boundary at hour:minute strictly
// after now.
func NextDailyEviction(now time.Time, hour, minute int) time.Time {
	return LastDailyEviction(now, hour, minute).AddDate(0, 0, 1)
}

// LastWeeklyEviction returns the most recent weekly boundary on the given day
// (0=Sunday) at hour:minute that is not after now.
func LastWeeklyEviction(now time.Time, day, hour, minute int) time.Time {
	b := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	back := (int(now.Weekday()) - day + 7) % 7
	b = b.AddDate(0, 0, -back)
	if b.After(now) {
		b = b.AddDate(0, 0, -7)
	}
	return b
}

// NextWeeklyEviction returns the next weekly boundary strictly after now.
func NextWeeklyEviction(now time.Time, day, hour, minute int) time.Time {
	return LastWeeklyEviction(now, day, hour, minute).AddDate(0, 0, 7)
}
