package delegate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huykn/identity-cache/cache"
	"github.com/huykn/identity-cache/types"
)

// slowProvider delays reads so concurrent callers overlap, and counts how
// many loads actually ran.
type slowProvider struct {
	cache.DelegateProvider
	loads int64
}

func (p *slowProvider) UserByID(ctx context.Context, realmID, id string) (*types.User, error) {
	atomic.AddInt64(&p.loads, 1)
	time.Sleep(50 * time.Millisecond)
	return p.DelegateProvider.UserByID(ctx, realmID, id)
}

func TestDedupedProviderCollapsesConcurrentLoads(t *testing.T) {
	mem := NewMemoryProvider()
	mem.PutUser(&types.User{ID: "u1", RealmID: "master", Username: "alice"})
	slow := &slowProvider{DelegateProvider: mem}
	p := WithDeduplication(slow)

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, err := p.UserByID(context.Background(), "master", "u1")
			if err != nil {
				errs <- err
				return
			}
			if user == nil || user.ID != "u1" {
				errs <- cache.NewError("wrong user")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Concurrent lookup failed: %v", err)
	}

	if got := atomic.LoadInt64(&slow.loads); got != 1 {
		t.Fatalf("Expected 1 underlying load, got %d", got)
	}
}

func TestDedupedProviderDistinctKeysLoadSeparately(t *testing.T) {
	mem := NewMemoryProvider()
	mem.PutUser(&types.User{ID: "u1", RealmID: "master", Username: "alice"})
	mem.PutUser(&types.User{ID: "u2", RealmID: "master", Username: "bob"})
	p := WithDeduplication(mem)

	ctx := context.Background()
	if _, err := p.UserByID(ctx, "master", "u1"); err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if _, err := p.UserByID(ctx, "master", "u2"); err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got := mem.Calls("UserByID"); got != 2 {
		t.Fatalf("Distinct keys should load separately, got %d loads", got)
	}
}

func TestDedupedProviderNilResult(t *testing.T) {
	p := WithDeduplication(NewMemoryProvider())

	user, err := p.UserByID(context.Background(), "master", "missing")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if user != nil {
		t.Fatal("Missing users should stay nil through the deduplicator")
	}
}

func TestDedupedProviderWritesPassThrough(t *testing.T) {
	mem := NewMemoryProvider()
	p := WithDeduplication(mem)

	ctx := context.Background()
	created, err := p.AddUser(ctx, "master", "", "bob")
	if err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	user, err := mem.UserByID(ctx, "master", created.ID)
	if err != nil || user == nil {
		t.Fatalf("The write should reach the wrapped provider: user=%v err=%v", user, err)
	}
}
