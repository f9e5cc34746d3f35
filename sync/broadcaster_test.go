package sync

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/huykn/identity-cache/storage"
	"github.com/huykn/identity-cache/types"
)

func newTestBroadcaster(t *testing.T, mr *miniredis.Miniredis, nodeID string) (*RedisBroadcaster, chan types.InvalidationEvent) {
	t.Helper()
	client, err := storage.NewRedisClient(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	b := NewRedisBroadcaster(client, "test:invalidate", nodeID, nil)
	t.Cleanup(func() { b.Close() })

	if err := b.Subscribe(context.Background()); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	received := make(chan types.InvalidationEvent, 16)
	b.OnEvent(func(event types.InvalidationEvent) {
		received <- event
	})
	return b, received
}

func TestBroadcasterDeliversToOtherNodes(t *testing.T) {
	mr := miniredis.RunT(t)

	b1, got1 := newTestBroadcaster(t, mr, "node-1")
	_, got2 := newTestBroadcaster(t, mr, "node-2")

	b1.Publish([]types.InvalidationEvent{
		types.FieldUpdateEvent{UserID: "u1", Username: "alice", RealmID: "master"},
	})

	select {
	case event := <-got2:
		update, ok := event.(types.FieldUpdateEvent)
		if !ok {
			t.Fatalf("Expected a field update event, got %T", event)
		}
		if update.UserID != "u1" || update.RealmID != "master" {
			t.Fatalf("Unexpected event payload: %+v", update)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("node-2 never received the event")
	}

	// The sender must not apply its own broadcast.
	select {
	case event := <-got1:
		t.Fatalf("node-1 received its own event: %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBroadcasterPublishesBatchInOrder(t *testing.T) {
	mr := miniredis.RunT(t)

	b1, _ := newTestBroadcaster(t, mr, "node-1")
	_, got2 := newTestBroadcaster(t, mr, "node-2")

	b1.Publish([]types.InvalidationEvent{
		types.ConsentsUpdatedEvent{UserID: "u1"},
		types.FederationLinkUpdatedEvent{UserID: "u1"},
		types.RealmInvalidationEvent{RealmID: "master"},
	})

	wantKinds := []types.EventKind{
		types.KindConsentsUpdated,
		types.KindFederationLinkUpdated,
		types.KindRealmInvalidation,
	}
	for _, want := range wantKinds {
		select {
		case event := <-got2:
			if event.Kind() != want {
				t.Fatalf("Expected %s, got %s", want, event.Kind())
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %s", want)
		}
	}
}

func TestBroadcasterPublishAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)

	b, _ := newTestBroadcaster(t, mr, "node-1")
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Second close should be a no-op, got %v", err)
	}

	// Must not panic or block.
	b.Publish([]types.InvalidationEvent{types.ClearAllEvent{}})
}

func TestBroadcasterEmptyPublish(t *testing.T) {
	mr := miniredis.RunT(t)

	b, _ := newTestBroadcaster(t, mr, "node-1")
	b.Publish(nil)
	b.Publish([]types.InvalidationEvent{})
}
