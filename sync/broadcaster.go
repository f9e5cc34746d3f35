package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/identity-cache/cache"
	"github.com/huykn/identity-cache/storage"
	"github.com/huykn/identity-cache/types"
)

// publishQueueSize bounds the number of event batches waiting to go out.
// Overflow drops batches rather than blocking a commit; policy-based expiry
// on the other nodes backstops any dropped invalidation.
const publishQueueSize = 256

// RedisBroadcaster replicates invalidation events across cluster nodes over
// a Redis pub/sub channel. Publishing is fire-and-forget: events are queued
// and sent from a background goroutine, and failures are logged, never
// surfaced to the committing caller.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	nodeID  string
	logger  cache.Logger

	pubsub         *redis.PubSub
	queue          chan []types.InvalidationEvent
	callbacks      []func(event types.InvalidationEvent)
	callbacksMutex sync.RWMutex
	done           chan struct{}
	wg             sync.WaitGroup
	closed         int32
	publishTimeout time.Duration
}

// NewRedisBroadcaster creates a broadcaster and starts its publish loop. A
// nil logger defaults to no-op.
func NewRedisBroadcaster(client *redis.Client, channel, nodeID string, logger cache.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	b := &RedisBroadcaster{
		client:         client,
		channel:        channel,
		nodeID:         nodeID,
		logger:         logger,
		queue:          make(chan []types.InvalidationEvent, publishQueueSize),
		done:           make(chan struct{}),
		publishTimeout: 5 * time.Second,
	}
	b.wg.Add(1)
	go b.publishLoop()
	return b
}

// Publish queues events for delivery to the rest of the cluster and returns
// immediately.
func (b *RedisBroadcaster) Publish(events []types.InvalidationEvent) {
	if len(events) == 0 || atomic.LoadInt32(&b.closed) != 0 {
		return
	}
	select {
	case b.queue <- events:
	default:
		b.logger.Warn("invalidation publish queue full, dropping batch", "events", len(events))
	}
}

// Subscribe starts listening for invalidation events from other nodes.
func (b *RedisBroadcaster) Subscribe(ctx context.Context) error {
	b.pubsub = b.client.Subscribe(ctx, b.channel)
	if _, err := b.pubsub.Receive(ctx); err != nil {
		return err
	}
	b.wg.Add(1)
	go b.listenForEvents()
	return nil
}

// OnEvent registers a callback invoked for every event received from another
// node.
func (b *RedisBroadcaster) OnEvent(callback func(event types.InvalidationEvent)) {
	b.callbacksMutex.Lock()
	defer b.callbacksMutex.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

// Close stops the publish and subscribe loops.
func (b *RedisBroadcaster) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}
	close(b.done)
	b.wg.Wait()

	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}

func (b *RedisBroadcaster) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case events := <-b.queue:
			b.publishBatch(events)
		}
	}
}

func (b *RedisBroadcaster) publishBatch(events []types.InvalidationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), b.publishTimeout)
	defer cancel()

	for _, event := range events {
		data, err := storage.EncodeEvent(b.nodeID, event)
		if err != nil {
			b.logger.Error("failed to encode invalidation event", "kind", event.Kind(), "error", err)
			continue
		}
		if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
			b.logger.Warn("failed to publish invalidation event", "kind", event.Kind(), "error", err)
		}
	}
}

func (b *RedisBroadcaster) listenForEvents() {
	defer b.wg.Done()

	ch := b.pubsub.Channel()

	for {
		select {
		case <-b.done:
			return
		case msg := <-ch:
			if msg == nil {
				return
			}

			event, sender, err := storage.DecodeEvent([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("failed to decode invalidation event", "error", err)
				continue
			}

			// Don't apply your own invalidations twice
			if sender == b.nodeID {
				continue
			}

			b.callbacksMutex.RLock()
			callbacks := b.callbacks
			b.callbacksMutex.RUnlock()

			for _, callback := range callbacks {
				callback(event)
			}
		}
	}
}
