package cache

import (
	"testing"
	"time"

	"github.com/huykn/identity-cache/types"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestExpiredDefaultPolicy(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	e := NewPolicyEvaluator(fixedClock(now))

	cachedAt := now.Add(-100 * 24 * time.Hour)
	if e.Expired(types.DefaultPolicy(), time.Time{}, cachedAt) {
		t.Fatal("Default policy should never expire entries")
	}
}

func TestExpiredNoCache(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	e := NewPolicyEvaluator(fixedClock(now))

	policy := types.CachePolicy{Kind: types.PolicyNoCache}
	if !e.Expired(policy, time.Time{}, now) {
		t.Fatal("NoCache entries should always report expired")
	}
}

func TestExpiredMaxLifespan(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	e := NewPolicyEvaluator(fixedClock(now))
	policy := types.CachePolicy{Kind: types.PolicyMaxLifespan, MaxLifespan: time.Hour}

	if e.Expired(policy, time.Time{}, now.Add(-30*time.Minute)) {
		t.Fatal("Entry within its lifespan should not be expired")
	}
	if !e.Expired(policy, time.Time{}, now.Add(-2*time.Hour)) {
		t.Fatal("Entry past its lifespan should be expired")
	}
}

func TestExpiredInvalidBeforeWatermark(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	e := NewPolicyEvaluator(fixedClock(now))
	watermark := now.Add(-time.Hour)

	if !e.Expired(types.DefaultPolicy(), watermark, watermark.Add(-time.Minute)) {
		t.Fatal("Entry cached before the watermark should be expired")
	}
	if e.Expired(types.DefaultPolicy(), watermark, watermark.Add(time.Minute)) {
		t.Fatal("Entry cached after the watermark should not be expired")
	}
}

func TestExpiredEvictDaily(t *testing.T) {
	// Boundary at 02:00. At 03:00, entries cached before 02:00 today are
	// stale; entries cached after it are fresh.
	now := time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC)
	e := NewPolicyEvaluator(fixedClock(now))
	policy := types.CachePolicy{Kind: types.PolicyEvictDaily, EvictionHour: 2, EvictionMinute: 0}

	before := time.Date(2025, 6, 10, 1, 50, 0, 0, time.UTC)
	after := time.Date(2025, 6, 10, 2, 10, 0, 0, time.UTC)

	if !e.Expired(policy, time.Time{}, before) {
		t.Fatal("Entry cached before today's boundary should be expired")
	}
	if e.Expired(policy, time.Time{}, after) {
		t.Fatal("Entry cached after today's boundary should not be expired")
	}
}

func TestExpiredEvictDailyBeforeBoundary(t *testing.T) {
	// At 01:00 the most recent 02:00 boundary was yesterday.
	now := time.Date(2025, 6, 10, 1, 0, 0, 0, time.UTC)
	e := NewPolicyEvaluator(fixedClock(now))
	policy := types.CachePolicy{Kind: types.PolicyEvictDaily, EvictionHour: 2, EvictionMinute: 0}

	if !e.Expired(policy, time.Time{}, time.Date(2025, 6, 9, 1, 50, 0, 0, time.UTC)) {
		t.Fatal("Entry older than yesterday's boundary should be expired")
	}
	if e.Expired(policy, time.Time{}, time.Date(2025, 6, 9, 23, 0, 0, 0, time.UTC)) {
		t.Fatal("Entry cached after yesterday's boundary should not be expired")
	}
}

func TestExpiredEvictWeekly(t *testing.T) {
	// 2025-06-10 is a Tuesday. Boundary: Monday (day 1) at 04:00.
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	e := NewPolicyEvaluator(fixedClock(now))
	policy := types.CachePolicy{
		Kind:           types.PolicyEvictWeekly,
		EvictionDay:    1,
		EvictionHour:   4,
		EvictionMinute: 0,
	}

	if !e.Expired(policy, time.Time{}, time.Date(2025, 6, 9, 3, 0, 0, 0, time.UTC)) {
		t.Fatal("Entry cached before Monday's boundary should be expired")
	}
	if e.Expired(policy, time.Time{}, time.Date(2025, 6, 9, 5, 0, 0, 0, time.UTC)) {
		t.Fatal("Entry cached after Monday's boundary should not be expired")
	}
}

func TestExpiredMisconfiguredPolicies(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	e := NewPolicyEvaluator(fixedClock(now))
	old := now.Add(-30 * 24 * time.Hour)

	daily := types.CachePolicy{Kind: types.PolicyEvictDaily, EvictionHour: -1, EvictionMinute: -1}
	if e.Expired(daily, time.Time{}, old) {
		t.Fatal("Daily policy without an eviction time should not expire entries")
	}

	weekly := types.CachePolicy{Kind: types.PolicyEvictWeekly, EvictionDay: -1, EvictionHour: -1, EvictionMinute: -1}
	if e.Expired(weekly, time.Time{}, old) {
		t.Fatal("Weekly policy without an eviction time should not expire entries")
	}

	lifespan := types.CachePolicy{Kind: types.PolicyMaxLifespan}
	if e.Expired(lifespan, time.Time{}, old) {
		t.Fatal("Lifespan policy without a lifespan should not expire entries")
	}

	// The watermark still applies to misconfigured policies.
	if !e.Expired(daily, now.Add(-time.Hour), old) {
		t.Fatal("Watermark should expire entries even under a misconfigured policy")
	}
}

func TestLifespan(t *testing.T) {
	now := time.Date(2025, 6, 10, 1, 0, 0, 0, time.UTC)
	e := NewPolicyEvaluator(fixedClock(now))

	if got := e.Lifespan(types.DefaultPolicy()); got != 0 {
		t.Fatalf("Default policy lifespan should be 0, got %v", got)
	}

	policy := types.CachePolicy{Kind: types.PolicyMaxLifespan, MaxLifespan: time.Hour}
	if got := e.Lifespan(policy); got != time.Hour {
		t.Fatalf("Expected 1h lifespan, got %v", got)
	}

	daily := types.CachePolicy{Kind: types.PolicyEvictDaily, EvictionHour: 2, EvictionMinute: 0}
	if got := e.Lifespan(daily); got != time.Hour {
		t.Fatalf("Expected 1h to the next daily boundary, got %v", got)
	}
}

func TestDailyEvictionBoundaries(t *testing.T) {
	now := time.Date(2025, 6, 10, 3, 0, 0, 0, time.UTC)

	last := LastDailyEviction(now, 2, 0)
	want := time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC)
	if !last.Equal(want) {
		t.Fatalf("Expected last boundary %v, got %v", want, last)
	}

	next := NextDailyEviction(now, 2, 0)
	want = time.Date(2025, 6, 11, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Expected next boundary %v, got %v", want, next)
	}

	// Boundary exactly at now counts as the last boundary, not the next one.
	atBoundary := time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC)
	if !LastDailyEviction(atBoundary, 2, 0).Equal(atBoundary) {
		t.Fatal("A boundary equal to now should be the last boundary")
	}
}

func TestWeeklyEvictionBoundaries(t *testing.T) {
	// Tuesday.
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	last := LastWeeklyEviction(now, 1, 4, 0)
	want := time.Date(2025, 6, 9, 4, 0, 0, 0, time.UTC)
	if !last.Equal(want) {
		t.Fatalf("Expected last boundary %v, got %v", want, last)
	}

	next := NextWeeklyEviction(now, 1, 4, 0)
	want = time.Date(2025, 6, 16, 4, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Expected next boundary %v, got %v", want, next)
	}

	// Later weekday than now: the boundary is in the previous week.
	last = LastWeeklyEviction(now, 5, 4, 0)
	want = time.Date(2025, 6, 6, 4, 0, 0, 0, time.UTC)
	if !last.Equal(want) {
		t.Fatalf("Expected last boundary %v, got %v", want, last)
	}
}
